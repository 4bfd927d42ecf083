package blob

import (
	"context"
	"errors"
	"testing"
)

// backends returns one of each Store implementation testable without network.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFile(t.TempDir())
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	return map[string]Store{
		"memory": NewMemory(),
		"file":   fileStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			if _, err := s.Get(ctx, "refs/main"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("missing key: got %v, want ErrNotFound", err)
			}
			ok, err := s.Exists(ctx, "refs/main")
			if err != nil || ok {
				t.Fatalf("Exists on missing key = %v, %v", ok, err)
			}

			if err := s.Put(ctx, "refs/main", []byte("snap-1")); err != nil {
				t.Fatalf("Put: %v", err)
			}
			got, err := s.Get(ctx, "refs/main")
			if err != nil || string(got) != "snap-1" {
				t.Fatalf("Get = %q, %v", got, err)
			}

			// Overwrite.
			if err := s.Put(ctx, "refs/main", []byte("snap-2")); err != nil {
				t.Fatalf("Put overwrite: %v", err)
			}
			got, _ = s.Get(ctx, "refs/main")
			if string(got) != "snap-2" {
				t.Fatalf("overwrite lost: %q", got)
			}

			ok, err = s.Exists(ctx, "refs/main")
			if err != nil || !ok {
				t.Fatalf("Exists = %v, %v", ok, err)
			}
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, k := range []string{"refs/main", "refs/add_time_b", "refs/add_time_a", "snapshots/x"} {
				if err := s.Put(ctx, k, []byte(k)); err != nil {
					t.Fatalf("Put %s: %v", k, err)
				}
			}
			keys, err := s.List(ctx, "refs/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []string{"refs/add_time_a", "refs/add_time_b", "refs/main"}
			if len(keys) != len(want) {
				t.Fatalf("List = %v, want %v", keys, want)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Fatalf("List = %v, want %v", keys, want)
				}
			}
		})
	}
}
