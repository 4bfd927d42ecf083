// Package validator runs the consistency battery against a staged update
// branch before it may be merged into the published line.
//
// Every check runs unconditionally and failures are aggregated into one
// numbered report: an operator inspecting a failed run needs the full list in
// one pass, not one failure per retry.
package validator

import (
	"fmt"
	"log/slog"
	"path"
	"strings"

	"floe/internal/granule"
	"floe/internal/logging"
	"floe/internal/vds"
)

// Report is the aggregated validation error. It is returned only after the
// staged branch is committed, so a failing report never implies a mutated
// published line.
type Report struct {
	Failures []string
}

func (r *Report) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("validation failed with %d problem(s):\n", len(r.Failures)))
	for i, f := range r.Failures {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, f)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Validator checks a staged dataset against the pre-update dataset and the
// located granules.
type Validator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Validator {
	logger = logging.Default(logger)
	return &Validator{logger: logger.With("component", "validator")}
}

// Check runs all seven checks and returns nil or a *Report carrying every
// failure.
func (v *Validator) Check(old, updated *vds.VirtualDataset, located []granule.Record) error {
	v.logger.Info("validating staged branch",
		"oldTimesteps", len(old.Times),
		"newTimesteps", len(updated.Times),
		"granules", len(located))

	var failures []string
	fail := func(format string, args ...any) {
		failures = append(failures, fmt.Sprintf(format, args...))
	}

	v.checkCompleteness(updated, located, fail)
	v.checkContiguity(updated, fail)
	v.checkAppendCount(old, updated, located, fail)
	v.checkInvariantAttrs(old, updated, fail)
	v.checkUpdatedAttrs(old, updated, fail)
	v.checkRequiredAttrs(updated, fail)
	v.checkDroppedAttrs(updated, fail)

	if len(failures) > 0 {
		v.logger.Warn("validation failed", "problems", len(failures))
		return &Report{Failures: failures}
	}
	v.logger.Info("validation passed")
	return nil
}

type failFunc func(format string, args ...any)

// checkCompleteness: every located granule's source file must be referenced
// by the staged dataset's chunks. A missing file means a partial or silently
// truncated write.
func (v *Validator) checkCompleteness(updated *vds.VirtualDataset, located []granule.Record, fail failFunc) {
	referenced := updated.SourceFilenames()
	for _, rec := range located {
		name := path.Base(rec.URL(granule.AccessDirect))
		if !referenced[name] {
			fail("referential completeness: granule %s (%s) is not referenced by any chunk", rec.ID, name)
		}
	}
}

// checkContiguity: time-step deltas must be uniform across the whole series,
// with the delta of the first two timesteps as the reference spacing.
func (v *Validator) checkContiguity(updated *vds.VirtualDataset, fail failFunc) {
	if len(updated.Times) < 2 {
		fail("temporal contiguity: series has %d timestep(s), cannot establish spacing", len(updated.Times))
		return
	}
	ref := updated.Times[1].Sub(updated.Times[0])
	if ref <= 0 {
		fail("temporal contiguity: non-increasing spacing %s between first two timesteps", ref)
		return
	}
	for i := 2; i < len(updated.Times); i++ {
		if d := updated.Times[i].Sub(updated.Times[i-1]); d != ref {
			fail("temporal contiguity: spacing %s at index %d, expected %s", d, i, ref)
		}
	}
}

// checkAppendCount: the series must have grown by exactly the number of
// granules actually located.
func (v *Validator) checkAppendCount(old, updated *vds.VirtualDataset, located []granule.Record, fail failFunc) {
	appended := len(updated.Times) - len(old.Times)
	if appended != len(located) {
		fail("append count: expected %d appended timestep(s), got %d", len(located), appended)
	}
}

// checkInvariantAttrs: start-like attributes must be byte-identical before
// and after the append.
func (v *Validator) checkInvariantAttrs(old, updated *vds.VirtualDataset, fail failFunc) {
	for _, key := range vds.StartLikeAttrs {
		before, hadBefore := old.Attrs[key]
		after, hasAfter := updated.Attrs[key]
		if !hadBefore {
			continue
		}
		if !hasAfter {
			fail("invariant attribute %q disappeared", key)
			continue
		}
		if vds.NormalizeForComparison(before) != vds.NormalizeForComparison(after) {
			fail("invariant attribute %q changed: %v -> %v", key, before, after)
		}
	}
}

// checkUpdatedAttrs: end-like attributes must differ after the append; an
// unchanged value means attribute reconciliation silently failed to take
// effect.
func (v *Validator) checkUpdatedAttrs(old, updated *vds.VirtualDataset, fail failFunc) {
	for _, key := range vds.EndLikeAttrs {
		before, hadBefore := old.Attrs[key]
		after, hasAfter := updated.Attrs[key]
		if !hadBefore || !hasAfter {
			continue // presence is check 6's job
		}
		if vds.NormalizeForComparison(before) == vds.NormalizeForComparison(after) {
			fail("attribute %q was not updated by the append (still %v)", key, after)
		}
	}
}

// checkRequiredAttrs: the fixed allowlist must exist post-update.
func (v *Validator) checkRequiredAttrs(updated *vds.VirtualDataset, fail failFunc) {
	for _, key := range vds.RequiredAttrs {
		if _, ok := updated.Attrs[key]; !ok {
			fail("required attribute %q missing after update", key)
		}
	}
}

// checkDroppedAttrs: per-file provenance attributes dropped during
// reconciliation must be absent post-update.
func (v *Validator) checkDroppedAttrs(updated *vds.VirtualDataset, fail failFunc) {
	for _, key := range vds.DroppedAttrs {
		if _, ok := updated.Attrs[key]; ok {
			fail("provenance attribute %q must be absent after update", key)
		}
	}
}
