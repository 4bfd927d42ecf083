package refstore

import (
	"context"
	"fmt"

	"floe/internal/vds"
)

// ReadSession is a stable view of a branch: the tip snapshot pinned at
// acquisition time. Later branch movement is not visible through it.
type ReadSession struct {
	Branch   string
	Snapshot *Snapshot
}

// ReadonlySession opens a read session on the branch's current tip.
func (s *Store) ReadonlySession(ctx context.Context, branch string) (*ReadSession, error) {
	tip, err := s.BranchTip(ctx, branch)
	if err != nil {
		return nil, err
	}
	snap, err := s.Snapshot(ctx, tip)
	if err != nil {
		return nil, err
	}
	return &ReadSession{Branch: branch, Snapshot: snap}, nil
}

// Dataset returns the session's dataset state.
func (r *ReadSession) Dataset() *vds.VirtualDataset {
	return r.Snapshot.Dataset
}

// WriteSession accumulates exactly one pending commit on a branch. At most
// one writable session per branch may be open at a time; that cardinality is
// a deployment guarantee, not enforced here.
type WriteSession struct {
	store   *Store
	branch  string
	base    SnapshotID
	pending *vds.VirtualDataset
}

// WritableSession opens a write session on the branch's current tip.
func (s *Store) WritableSession(ctx context.Context, branch string) (*WriteSession, error) {
	tip, err := s.BranchTip(ctx, branch)
	if err != nil {
		return nil, err
	}
	snap, err := s.Snapshot(ctx, tip)
	if err != nil {
		return nil, err
	}
	return &WriteSession{
		store:   s,
		branch:  branch,
		base:    tip,
		pending: snap.Dataset.Clone(),
	}, nil
}

// Base returns the snapshot the session was opened on.
func (w *WriteSession) Base() SnapshotID { return w.base }

// Append extends the pending state with ds along dim. Only the time
// dimension is appendable. An empty pending state (fresh repository root)
// adopts ds wholesale, establishing the store's schema.
//
// Append never touches the pending attribute map: without an explicit
// SetAttrs call, a commit carries the pre-image attributes forward.
func (w *WriteSession) Append(ds *vds.VirtualDataset, dim string) error {
	if dim != vds.TimeDim {
		return fmt.Errorf("append dimension %q not supported", dim)
	}
	if len(w.pending.Vars) == 0 && len(w.pending.Times) == 0 {
		adopted := ds.Clone()
		adopted.Attrs = w.pending.Attrs
		if len(adopted.Attrs) == 0 {
			adopted.Attrs = ds.Attrs
		}
		w.pending = adopted
		return nil
	}
	return vds.AppendTo(w.pending, ds)
}

// SetAttrs replaces the pending attribute map. Attribute regeneration is
// explicit: the updater reconciles attributes itself and installs the result
// here before committing.
func (w *WriteSession) SetAttrs(attrs map[string]any) {
	w.pending.Attrs = attrs
}

// Commit writes the pending state as a new snapshot and advances the branch.
// Fails with ErrStaleBranch if the branch tip moved since the session was
// opened. The commit is the atomic unit: nothing is visible on the branch
// until the ref flips.
func (w *WriteSession) Commit(ctx context.Context, message string) (SnapshotID, error) {
	current, err := w.store.BranchTip(ctx, w.branch)
	if err != nil {
		return SnapshotID{}, err
	}
	if current != w.base {
		return SnapshotID{}, fmt.Errorf("%w: %s", ErrStaleBranch, w.branch)
	}

	snap := &Snapshot{
		ID:          w.store.newID(),
		Parent:      w.base,
		Message:     message,
		CommittedAt: w.store.now().UTC(),
		Dataset:     w.pending,
	}
	if err := w.store.putSnapshot(ctx, snap); err != nil {
		return SnapshotID{}, fmt.Errorf("write snapshot: %w", err)
	}
	if err := w.store.putRef(ctx, w.branch, snap.ID); err != nil {
		return SnapshotID{}, fmt.Errorf("advance branch %s: %w", w.branch, err)
	}
	w.store.logger.Info("commit", "branch", w.branch, "snapshot", snap.ID, "message", message)
	w.base = snap.ID
	return snap.ID, nil
}
