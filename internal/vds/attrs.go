package vds

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Per-file provenance attributes. These differ across every input by nature
// and carry no meaning for the concatenated store, so they are dropped during
// reconciliation and must stay absent afterwards.
var DroppedAttrs = []string{
	"date_created",
	"history",
	"comment",
	"source",
	"sensor",
	"uuid",
}

// Temporal coverage attributes with a defined cross-file resolution rule.
var (
	StartLikeAttrs = []string{"start_time", "time_coverage_start"}
	EndLikeAttrs   = []string{"stop_time", "time_coverage_end"}
)

// RequiredAttrs must exist on the store after every update.
var RequiredAttrs = []string{
	"title",
	"summary",
	"start_time",
	"stop_time",
	"time_coverage_start",
	"time_coverage_end",
}

// ReconcileKind distinguishes reconciliation failures.
type ReconcileKind int

const (
	// ReconcileKeyMismatch: an input's attribute key set differs from the
	// first input's.
	ReconcileKeyMismatch ReconcileKind = iota
	// ReconcileDivergent: a key outside the known temporal set has differing
	// values across inputs. There is no general rule for merging unknown
	// divergent attributes, so this is fatal rather than silently dropped.
	ReconcileDivergent
)

// ReconcileError reports why attribute reconciliation failed.
type ReconcileError struct {
	Kind ReconcileKind
	Keys []string
}

func (e *ReconcileError) Error() string {
	switch e.Kind {
	case ReconcileKeyMismatch:
		return fmt.Sprintf("attribute reconciliation: key set mismatch across inputs: %s", strings.Join(e.Keys, ", "))
	default:
		return fmt.Sprintf("attribute reconciliation: no rule for divergent attributes: %s", strings.Join(e.Keys, ", "))
	}
}

// NormalizeForComparison reduces any attribute value to a comparable string
// key. Total by construction: scalars print via %v, byte buffers and
// sequences are rendered element-wise, maps render with sorted keys. Used
// both for equality partitioning and for ordering temporal values (ISO-8601
// strings order correctly lexically).
func NormalizeForComparison(v any) string {
	if v == nil {
		return "<nil>"
	}
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Slice, reflect.Array:
		parts := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			parts[i] = NormalizeForComparison(rv.Index(i).Interface())
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Map:
		keys := make([]string, 0, rv.Len())
		byKey := make(map[string]string, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k := NormalizeForComparison(iter.Key().Interface())
			keys = append(keys, k)
			byKey[k] = NormalizeForComparison(iter.Value().Interface())
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + byKey[k]
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("%T(%v)", v, v)
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// ReconcileAttrs merges the attribute maps of N inputs being concatenated.
//
// Every input must carry exactly the first input's key set. Provenance keys
// (DroppedAttrs) are removed. Of the rest: keys with an identical normalized
// value across all inputs keep the common value; start-like temporal keys
// resolve to the minimum, end-like to the maximum; any other divergent key
// fails with a *ReconcileError.
func ReconcileAttrs(inputs []map[string]any) (map[string]any, error) {
	if len(inputs) == 0 {
		return map[string]any{}, nil
	}

	refKeys := keySet(inputs[0])
	for _, in := range inputs[1:] {
		if mismatched := keySetDiff(refKeys, keySet(in)); len(mismatched) > 0 {
			return nil, &ReconcileError{Kind: ReconcileKeyMismatch, Keys: mismatched}
		}
	}

	out := make(map[string]any, len(refKeys))
	var divergent []string
	for _, key := range refKeys {
		if contains(DroppedAttrs, key) {
			continue
		}

		identical := true
		refNorm := NormalizeForComparison(inputs[0][key])
		for _, in := range inputs[1:] {
			if NormalizeForComparison(in[key]) != refNorm {
				identical = false
				break
			}
		}
		if identical {
			out[key] = inputs[0][key]
			continue
		}

		switch {
		case contains(StartLikeAttrs, key):
			out[key] = pickExtreme(inputs, key, false)
		case contains(EndLikeAttrs, key):
			out[key] = pickExtreme(inputs, key, true)
		default:
			divergent = append(divergent, key)
		}
	}
	if len(divergent) > 0 {
		sort.Strings(divergent)
		return nil, &ReconcileError{Kind: ReconcileDivergent, Keys: divergent}
	}
	return out, nil
}

// pickExtreme returns the minimum (max=false) or maximum (max=true) value of
// key across inputs, ordered by normalized form.
func pickExtreme(inputs []map[string]any, key string, max bool) any {
	best := inputs[0][key]
	bestNorm := NormalizeForComparison(best)
	for _, in := range inputs[1:] {
		norm := NormalizeForComparison(in[key])
		if (max && norm > bestNorm) || (!max && norm < bestNorm) {
			best, bestNorm = in[key], norm
		}
	}
	return best
}

func keySet(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keySetDiff returns the symmetric difference of two sorted key sets.
func keySetDiff(a, b []string) []string {
	seen := make(map[string]int, len(a)+len(b))
	for _, k := range a {
		seen[k]++
	}
	for _, k := range b {
		seen[k]--
	}
	var diff []string
	for k, n := range seen {
		if n != 0 {
			diff = append(diff, k)
		}
	}
	sort.Strings(diff)
	return diff
}
