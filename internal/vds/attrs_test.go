package vds

import (
	"errors"
	"testing"
)

func baseAttrs() map[string]any {
	return map[string]any{
		"title":               "MUR SST",
		"summary":             "global gridded sst",
		"start_time":          "2025-06-10T21:00:00Z",
		"stop_time":           "2025-06-11T21:00:00Z",
		"time_coverage_start": "2025-06-10T21:00:00Z",
		"time_coverage_end":   "2025-06-11T21:00:00Z",
		"date_created":        "2025-06-12T01:00:00Z",
		"history":             "created near ingest",
		"comment":             "file one",
		"source":              "modis, avhrr",
		"sensor":              "modis",
		"uuid":                "aaaa-1111",
	}
}

func shiftedAttrs() map[string]any {
	attrs := baseAttrs()
	attrs["start_time"] = "2025-06-11T21:00:00Z"
	attrs["stop_time"] = "2025-06-12T21:00:00Z"
	attrs["time_coverage_start"] = "2025-06-11T21:00:00Z"
	attrs["time_coverage_end"] = "2025-06-12T21:00:00Z"
	attrs["date_created"] = "2025-06-13T01:00:00Z"
	attrs["comment"] = "file two"
	attrs["uuid"] = "bbbb-2222"
	return attrs
}

func TestReconcileTemporalMinMax(t *testing.T) {
	got, err := ReconcileAttrs([]map[string]any{baseAttrs(), shiftedAttrs()})
	if err != nil {
		t.Fatalf("ReconcileAttrs: %v", err)
	}
	if got["start_time"] != "2025-06-10T21:00:00Z" {
		t.Errorf("start_time = %v, want min", got["start_time"])
	}
	if got["stop_time"] != "2025-06-12T21:00:00Z" {
		t.Errorf("stop_time = %v, want max", got["stop_time"])
	}
	if got["time_coverage_start"] != "2025-06-10T21:00:00Z" {
		t.Errorf("time_coverage_start = %v, want min", got["time_coverage_start"])
	}
	if got["time_coverage_end"] != "2025-06-12T21:00:00Z" {
		t.Errorf("time_coverage_end = %v, want max", got["time_coverage_end"])
	}
	if got["title"] != "MUR SST" {
		t.Errorf("identical attribute lost: title = %v", got["title"])
	}
}

func TestReconcileDropsProvenance(t *testing.T) {
	got, err := ReconcileAttrs([]map[string]any{baseAttrs(), shiftedAttrs()})
	if err != nil {
		t.Fatalf("ReconcileAttrs: %v", err)
	}
	for _, key := range DroppedAttrs {
		if _, present := got[key]; present {
			t.Errorf("provenance attribute %q present in output", key)
		}
	}
}

func TestReconcileDivergentUnknownKey(t *testing.T) {
	a := baseAttrs()
	b := shiftedAttrs()
	b["processing_level"] = "L4-reprocessed"
	a["processing_level"] = "L4"

	_, err := ReconcileAttrs([]map[string]any{a, b})
	var rerr *ReconcileError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReconcileError, got %v", err)
	}
	if rerr.Kind != ReconcileDivergent {
		t.Fatalf("kind = %v, want divergent", rerr.Kind)
	}
	if len(rerr.Keys) != 1 || rerr.Keys[0] != "processing_level" {
		t.Fatalf("keys = %v", rerr.Keys)
	}
}

func TestReconcileKeyMismatch(t *testing.T) {
	a := baseAttrs()
	b := shiftedAttrs()
	delete(b, "summary")

	_, err := ReconcileAttrs([]map[string]any{a, b})
	var rerr *ReconcileError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ReconcileError, got %v", err)
	}
	if rerr.Kind != ReconcileKeyMismatch {
		t.Fatalf("kind = %v, want key mismatch", rerr.Kind)
	}
}

func TestReconcileSingleInput(t *testing.T) {
	got, err := ReconcileAttrs([]map[string]any{baseAttrs()})
	if err != nil {
		t.Fatalf("ReconcileAttrs: %v", err)
	}
	if _, present := got["date_created"]; present {
		t.Error("provenance attribute must be dropped even for a single input")
	}
	if got["start_time"] != "2025-06-10T21:00:00Z" {
		t.Error("single-input value should pass through")
	}
}

func TestNormalizeForComparisonTotal(t *testing.T) {
	// Must never panic and must distinguish types and structures.
	values := []any{
		nil,
		42,
		int64(42),
		"42",
		3.5,
		[]float64{1, 2, 3},
		[3]int{1, 2, 3},
		[]byte{0x01, 0x02},
		map[string]any{"b": 2, "a": 1},
		[]any{"x", []int{1}},
	}
	seen := make(map[string]any)
	for _, v := range values {
		norm := NormalizeForComparison(v)
		if prev, dup := seen[norm]; dup {
			t.Errorf("values %#v and %#v normalize identically to %q", prev, v, norm)
		}
		seen[norm] = v
	}

	// Equal array-typed values must normalize identically regardless of
	// slice vs array representation of the same element type.
	if NormalizeForComparison([]int{1, 2, 3}) != NormalizeForComparison([3]int{1, 2, 3}) {
		t.Error("slice and array with equal int elements should normalize identically")
	}
	// Map ordering must not matter.
	m1 := map[string]int{"a": 1, "b": 2}
	m2 := map[string]int{"b": 2, "a": 1}
	if NormalizeForComparison(m1) != NormalizeForComparison(m2) {
		t.Error("map normalization must be order-independent")
	}
}
