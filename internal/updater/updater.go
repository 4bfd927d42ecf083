// Package updater drives the update protocol: compute the append window from
// the published tip, locate new granules, assemble a virtual dataset, stage
// it on an isolated branch, commit, validate, and only then fast-forward the
// published line. The published branch is never touched before validation
// succeeds; every failure after branch creation leaves the staged branch as a
// forensic trail.
package updater

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"floe/internal/granule"
	"floe/internal/logging"
	"floe/internal/refstore"
	"floe/internal/validator"
	"floe/internal/vds"
)

// BranchPrefix names the per-update staging branches.
const BranchPrefix = "add_time_"

// ErrEmptyStore is returned when the published branch holds no timesteps, so
// no append window can be derived. Initial loading is a separate operation.
var ErrEmptyStore = errors.New("store has no timesteps on main")

// Outcome classifies how a run ended. Callers alarm differently on each.
type Outcome int

const (
	// OutcomeMerged: the staged branch passed validation and main was
	// fast-forwarded to it.
	OutcomeMerged Outcome = iota
	// OutcomeDryRunHeld: the staged branch was committed (and validated when
	// requested) but deliberately not merged.
	OutcomeDryRunHeld
)

func (o Outcome) String() string {
	if o == OutcomeDryRunHeld {
		return "dry-run-held"
	}
	return "merged"
}

// Result reports a completed (non-error) run.
type Result struct {
	Outcome  Outcome
	Message  string
	Branch   string
	Snapshot refstore.SnapshotID
	Appended int
}

// RunOptions control one update attempt.
type RunOptions struct {
	// RunTests runs the validation battery against the staged branch.
	RunTests bool
	// DryRun stops before the merge; the staged branch persists, inspectable.
	DryRun bool
	// LimitGranules truncates the located granules (nil = no limit).
	LimitGranules *int
	// Parallel bounds concurrent per-file reference builds.
	Parallel int
	// BranchName overrides the timestamp-derived staging branch name, making
	// runs deterministic for tests and replays. Must not collide with an
	// existing branch.
	BranchName string
}

// Updater owns one update attempt at a time over an opened store.
type Updater struct {
	store     *refstore.Store
	locator   *granule.Locator
	assembler *vds.Assembler
	validator *validator.Validator
	logger    *slog.Logger
	now       func() time.Time
}

// New wires an Updater from its collaborators.
func New(store *refstore.Store, locator *granule.Locator, assembler *vds.Assembler, logger *slog.Logger) *Updater {
	logger = logging.Default(logger)
	return &Updater{
		store:     store,
		locator:   locator,
		assembler: assembler,
		validator: validator.New(logger),
		logger:    logger.With("component", "updater"),
		now:       time.Now,
	}
}

// updateContext is the explicit state threaded through one update attempt:
// the pre-update view of main, the staging branch, and the snapshot the
// branch is pinned to. No step mutates shared state outside of it.
type updateContext struct {
	oldDataset *vds.VirtualDataset
	pinnedTip  refstore.SnapshotID
	branch     string
	located    []granule.Record
	assembled  *vds.VirtualDataset
	committed  refstore.SnapshotID
}

// Run performs one update attempt. Error classes the caller can branch on:
// granule.ErrNoNewData (expected no-op, raised before any branch activity),
// *granule.DateOrderError, creds.ErrAuth, *vds.ReconcileError, and
// *validator.Report (raised only after the staged commit, main untouched).
func (u *Updater) Run(ctx context.Context, opts RunOptions) (Result, error) {
	uc := &updateContext{}

	// Step 1: pin the published view. Everything later is relative to this
	// snapshot, not to whatever main becomes mid-operation.
	view, err := u.store.ReadonlySession(ctx, refstore.MainBranch)
	if err != nil {
		return Result{}, fmt.Errorf("open main view: %w", err)
	}
	uc.oldDataset = view.Dataset()
	uc.pinnedTip = view.Snapshot.ID
	if len(uc.oldDataset.Times) == 0 {
		return Result{}, ErrEmptyStore
	}

	// Step 2: append window from the last published timestep.
	start, end := AppendWindow(uc.oldDataset.Times[len(uc.oldDataset.Times)-1], u.now())
	u.logger.Info("computed append window",
		"start", start.Format(time.RFC3339),
		"end", end.Format(time.RFC3339))

	// Step 3: locate. A no-new-data outcome propagates unchanged and must
	// short-circuit before any branch or write activity.
	uc.located, err = u.locator.FindGranules(ctx, start, end, opts.LimitGranules)
	if err != nil {
		return Result{}, err
	}

	// Step 4: assemble and reconcile attributes against main's. Append
	// semantics will not regenerate attributes, so the reconciled map is
	// installed explicitly before the write.
	uc.assembled, err = u.assembler.FromGranules(ctx, uc.located, vds.AssembleOptions{
		Access:   granule.AccessDirect,
		Virtual:  true,
		Parallel: opts.Parallel,
	})
	if err != nil {
		return Result{}, err
	}
	reconciled, err := vds.ReconcileAttrs([]map[string]any{uc.oldDataset.Attrs, uc.assembled.Attrs})
	if err != nil {
		return Result{}, fmt.Errorf("reconcile against main attributes: %w", err)
	}

	// Step 5: staging branch from the pinned tip.
	uc.branch = opts.BranchName
	if uc.branch == "" {
		uc.branch = BranchPrefix + u.now().UTC().Format("2006-01-02T15:04:05.000000Z")
	}
	if err := u.store.CreateBranch(ctx, uc.branch, uc.pinnedTip); err != nil {
		return Result{}, err
	}

	// Step 6: single atomic commit on the staging branch.
	session, err := u.store.WritableSession(ctx, uc.branch)
	if err != nil {
		return Result{}, err
	}
	if err := session.Append(uc.assembled, vds.TimeDim); err != nil {
		return Result{}, fmt.Errorf("append to %s: %w", uc.branch, err)
	}
	session.SetAttrs(reconciled)
	uc.committed, err = session.Commit(ctx, fmt.Sprintf("MUR update %s", uc.branch))
	if err != nil {
		return Result{}, fmt.Errorf("commit to %s: %w", uc.branch, err)
	}
	u.logger.Info("staged append committed",
		"branch", uc.branch,
		"snapshot", uc.committed,
		"granules", len(uc.located))

	// Step 7: validate the staged branch before any merge decision.
	if opts.RunTests {
		staged, err := u.store.ReadonlySession(ctx, uc.branch)
		if err != nil {
			return Result{}, err
		}
		if err := u.validator.Check(uc.oldDataset, staged.Dataset(), uc.located); err != nil {
			return Result{}, err
		}
	} else {
		u.logger.Info("validation skipped")
	}

	// Step 8: merge or hold. The staged snapshot is rooted at main's prior
	// tip, so resetting main to it is a fast-forward.
	if opts.DryRun {
		u.logger.Info("dry run, not merging", "branch", uc.branch)
		return Result{
			Outcome:  OutcomeDryRunHeld,
			Message:  fmt.Sprintf("Dry run completed successfully. Branch %s created but not merged.", uc.branch),
			Branch:   uc.branch,
			Snapshot: uc.committed,
			Appended: len(uc.located),
		}, nil
	}
	if err := u.store.ResetBranch(ctx, refstore.MainBranch, uc.committed); err != nil {
		return Result{}, fmt.Errorf("merge %s into main: %w", uc.branch, err)
	}
	u.logger.Info("merged staged branch", "branch", uc.branch, "snapshot", uc.committed)
	return Result{
		Outcome:  OutcomeMerged,
		Message:  fmt.Sprintf("Successfully updated store. Merged %s into main.", uc.branch),
		Branch:   uc.branch,
		Snapshot: uc.committed,
		Appended: len(uc.located),
	}, nil
}
