package vds

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// singleStep builds a one-timestep dataset referencing the given source file.
func singleStep(t0 time.Time, source string, attrs map[string]any) *VirtualDataset {
	return &VirtualDataset{
		Times: []time.Time{t0},
		Dims:  map[string]int{"lat": 17999, "lon": 36000},
		Vars: map[string][]ChunkRef{
			"analysed_sst": {{SourceURL: source, Offset: 4096, Length: 1 << 20, Codec: "zlib", TimeIndex: 0}},
			"mask":         {{SourceURL: source, Offset: 1 << 21, Length: 1 << 18, Codec: "zlib", TimeIndex: 0}},
		},
		Attrs: attrs,
	}
}

func stepAttrs(day time.Time) map[string]any {
	iso := func(t time.Time) string { return t.Format(time.RFC3339) }
	return map[string]any{
		"title":               "MUR SST",
		"summary":             "global gridded sst",
		"start_time":          iso(day.Add(-24 * time.Hour)),
		"stop_time":           iso(day),
		"time_coverage_start": iso(day.Add(-24 * time.Hour)),
		"time_coverage_end":   iso(day),
		"date_created":        iso(day.Add(4 * time.Hour)),
		"history":             "created " + iso(day),
		"comment":             "one file",
		"source":              "modis, avhrr",
		"sensor":              "modis",
		"uuid":                fmt.Sprintf("uuid-%d", day.Unix()),
	}
}

func TestConcatRebasesTimeIndexes(t *testing.T) {
	t0 := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	t1 := t0.AddDate(0, 0, 1)
	a := singleStep(t0, "s3://b/f0.nc", stepAttrs(t0))
	b := singleStep(t1, "s3://b/f1.nc", stepAttrs(t1))

	got, err := Concat(a, b)
	if err != nil {
		t.Fatalf("Concat: %v", err)
	}
	if len(got.Times) != 2 {
		t.Fatalf("times = %d, want 2", len(got.Times))
	}
	refs := got.Vars["analysed_sst"]
	if len(refs) != 2 || refs[0].TimeIndex != 0 || refs[1].TimeIndex != 1 {
		t.Fatalf("time indexes not rebased: %+v", refs)
	}
	if refs[1].SourceURL != "s3://b/f1.nc" {
		t.Fatalf("ref order broken: %+v", refs)
	}
	if got.Attrs["stop_time"] != t1.Format(time.RFC3339) {
		t.Errorf("stop_time not reconciled to max: %v", got.Attrs["stop_time"])
	}
}

func TestConcatSchemaMismatch(t *testing.T) {
	t0 := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	a := singleStep(t0, "s3://b/f0.nc", stepAttrs(t0))
	b := singleStep(t0.AddDate(0, 0, 1), "s3://b/f1.nc", stepAttrs(t0.AddDate(0, 0, 1)))
	delete(b.Vars, "mask")

	_, err := Concat(a, b)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch, got %v", err)
	}

	b = singleStep(t0.AddDate(0, 0, 1), "s3://b/f1.nc", stepAttrs(t0.AddDate(0, 0, 1)))
	b.Dims["lat"] = 100
	_, err = Concat(a, b)
	if !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected schema mismatch on dims, got %v", err)
	}
}

func TestAppendToKeepsDstAttrs(t *testing.T) {
	t0 := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	dst := singleStep(t0, "s3://b/f0.nc", map[string]any{"title": "store title"})
	src := singleStep(t0.AddDate(0, 0, 1), "s3://b/f1.nc", stepAttrs(t0))

	if err := AppendTo(dst, src); err != nil {
		t.Fatalf("AppendTo: %v", err)
	}
	if len(dst.Times) != 2 {
		t.Fatalf("times = %d, want 2", len(dst.Times))
	}
	if dst.Attrs["title"] != "store title" || len(dst.Attrs) != 1 {
		t.Errorf("append must not touch dst attributes: %v", dst.Attrs)
	}
	if dst.Vars["mask"][1].TimeIndex != 1 {
		t.Error("appended refs must be rebased")
	}
}

func TestSourceFilenames(t *testing.T) {
	t0 := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	ds := singleStep(t0, "s3://bucket/prefix/20250611.nc", stepAttrs(t0))
	files := ds.SourceFilenames()
	if !files["20250611.nc"] || len(files) != 1 {
		t.Fatalf("SourceFilenames = %v", files)
	}
}

func TestDropVarsTolerant(t *testing.T) {
	t0 := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	ds := singleStep(t0, "s3://b/f0.nc", stepAttrs(t0))
	ds.DropVars([]string{"mask", "not_present"})
	if _, ok := ds.Vars["mask"]; ok {
		t.Error("mask should be dropped")
	}
	if _, ok := ds.Vars["analysed_sst"]; !ok {
		t.Error("analysed_sst should survive")
	}
}
