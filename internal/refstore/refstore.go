// Package refstore implements the versioned, branchable reference store: a
// tree of immutable snapshots, each holding one virtual dataset state, with
// named branches as movable pointers. Snapshots and branch refs are JSON
// objects in a blob store; no payload bytes of the referenced data are ever
// copied.
//
// Branch "main" is the published line of record. Ephemeral add_time_* staging
// branches are created per update attempt and merged or left stranded; the
// store never deletes branches itself.
package refstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"floe/internal/creds"
	"floe/internal/logging"
	"floe/internal/refstore/blob"
	"floe/internal/vds"
)

// MainBranch is the published line of record.
const MainBranch = "main"

var (
	ErrBranchNotFound   = errors.New("branch not found")
	ErrBranchExists     = errors.New("branch already exists")
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrStaleBranch is returned by Commit when the branch tip moved after
	// the writable session was opened.
	ErrStaleBranch = errors.New("branch tip moved since session start")
)

// SnapshotID identifies an immutable snapshot.
type SnapshotID uuid.UUID

// NewSnapshotID returns a fresh time-ordered snapshot id.
func NewSnapshotID() SnapshotID {
	return SnapshotID(uuid.Must(uuid.NewV7()))
}

func ParseSnapshotID(value string) (SnapshotID, error) {
	parsed, err := uuid.Parse(value)
	if err != nil {
		return SnapshotID{}, err
	}
	return SnapshotID(parsed), nil
}

func (id SnapshotID) String() string {
	return uuid.UUID(id).String()
}

func (id SnapshotID) IsZero() bool {
	return id == SnapshotID{}
}

// Snapshot is one immutable store state.
type Snapshot struct {
	ID          SnapshotID          `json:"id"`
	Parent      SnapshotID          `json:"parent,omitempty"`
	Message     string              `json:"message"`
	CommittedAt time.Time           `json:"committedAt"`
	Dataset     *vds.VirtualDataset `json:"dataset"`
}

type branchRef struct {
	Snapshot SnapshotID `json:"snapshot"`
}

// Options configure opening a store.
type Options struct {
	Logger *slog.Logger
	// ChunkCreds maps a chunk-location URL prefix to the credential provider
	// used when resolving chunks under that prefix.
	ChunkCreds map[string]creds.Provider
	// Region is the object-storage region for s3:// targets and chunk
	// resolution clients.
	Region string
	// Resolver overrides the default chunk resolver (tests).
	Resolver ChunkResolver
}

// Store is a handle on one repository.
type Store struct {
	objects  blob.Store
	resolver ChunkResolver
	logger   *slog.Logger
	now      func() time.Time
	newID    func() SnapshotID
}

// NewStore builds a Store over an existing blob backend. Most callers want
// OpenOrCreate instead.
func NewStore(objects blob.Store, opts Options) *Store {
	logger := logging.Default(opts.Logger).With("component", "refstore")
	resolver := opts.Resolver
	if resolver == nil {
		resolver = newDefaultResolver(opts.ChunkCreds, opts.Region)
	}
	return &Store{
		objects:  objects,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
		newID:    NewSnapshotID,
	}
}

// OpenOrCreate opens the repository at target, initializing an empty one if
// none exists. Creation is idempotent: redeploys and retries must not fail
// on "already exists".
//
// Target dispatch: "s3://bucket/prefix" uses the S3 backend, "mem:" an
// in-memory backend, anything else a local filesystem path.
func OpenOrCreate(ctx context.Context, target string, opts Options) (*Store, error) {
	objects, err := openBackend(ctx, target, opts.Region)
	if err != nil {
		return nil, err
	}
	s := NewStore(objects, opts)

	exists, err := s.objects.Exists(ctx, refKey(MainBranch))
	if err != nil {
		return nil, fmt.Errorf("probe repository: %w", err)
	}
	if exists {
		s.logger.Info("opened existing repository", "target", target)
		return s, nil
	}

	root := &Snapshot{
		ID:          s.newID(),
		Message:     "repository root",
		CommittedAt: s.now().UTC(),
		Dataset: &vds.VirtualDataset{
			Dims:  map[string]int{},
			Vars:  map[string][]vds.ChunkRef{},
			Attrs: map[string]any{},
		},
	}
	if err := s.putSnapshot(ctx, root); err != nil {
		return nil, err
	}
	if err := s.putRef(ctx, MainBranch, root.ID); err != nil {
		return nil, err
	}
	s.logger.Info("created repository", "target", target, "root", root.ID)
	return s, nil
}

func refKey(name string) string    { return "refs/" + name }
func snapKey(id SnapshotID) string { return "snapshots/" + id.String() }

func (s *Store) putRef(ctx context.Context, name string, id SnapshotID) error {
	data, err := json.Marshal(branchRef{Snapshot: id})
	if err != nil {
		return err
	}
	return s.objects.Put(ctx, refKey(name), data)
}

func (s *Store) putSnapshot(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return s.objects.Put(ctx, snapKey(snap.ID), data)
}

// BranchTip returns the snapshot a branch currently points at.
func (s *Store) BranchTip(ctx context.Context, name string) (SnapshotID, error) {
	data, err := s.objects.Get(ctx, refKey(name))
	if errors.Is(err, blob.ErrNotFound) {
		return SnapshotID{}, fmt.Errorf("%w: %s", ErrBranchNotFound, name)
	}
	if err != nil {
		return SnapshotID{}, err
	}
	var ref branchRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return SnapshotID{}, fmt.Errorf("decode ref %s: %w", name, err)
	}
	return ref.Snapshot, nil
}

// Snapshot loads a snapshot by id.
func (s *Store) Snapshot(ctx context.Context, id SnapshotID) (*Snapshot, error) {
	data, err := s.objects.Get(ctx, snapKey(id))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return &snap, nil
}

// CreateBranch creates a new branch pointing at from. The source snapshot is
// pinned by the caller at creation time, so a concurrently advancing source
// branch cannot change what the new branch is rooted at.
func (s *Store) CreateBranch(ctx context.Context, name string, from SnapshotID) error {
	exists, err := s.objects.Exists(ctx, refKey(name))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrBranchExists, name)
	}
	if _, err := s.Snapshot(ctx, from); err != nil {
		return err
	}
	s.logger.Info("creating branch", "branch", name, "from", from)
	return s.putRef(ctx, name, from)
}

// ResetBranch moves an existing branch pointer directly to the given
// snapshot (fast-forward reset, no merge commit).
func (s *Store) ResetBranch(ctx context.Context, name string, to SnapshotID) error {
	if _, err := s.BranchTip(ctx, name); err != nil {
		return err
	}
	if _, err := s.Snapshot(ctx, to); err != nil {
		return err
	}
	s.logger.Info("resetting branch", "branch", name, "to", to)
	return s.putRef(ctx, name, to)
}

// ListBranches returns all branch names, sorted.
func (s *Store) ListBranches(ctx context.Context) ([]string, error) {
	keys, err := s.objects.List(ctx, "refs/")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, strings.TrimPrefix(k, "refs/"))
	}
	sort.Strings(names)
	return names, nil
}

// ResolveChunk fetches the bytes behind a chunk reference using the
// registered chunk-location credentials.
func (s *Store) ResolveChunk(ctx context.Context, ref vds.ChunkRef) ([]byte, error) {
	return s.resolver.Resolve(ctx, ref)
}
