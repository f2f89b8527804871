package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := NewSQLiteStore(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// stores runs the same contract checks against every in-process backend.
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestSetAndGet(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Set(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := s.Set(ctx, "k", []byte("v2")); err != nil {
				t.Fatalf("overwrite: %v", err)
			}
			got, err := s.Get(ctx, "k")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if string(got) != "v2" {
				t.Errorf("got %q, want %q", got, "v2")
			}
		})
	}
}

func TestGetMissing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "nope")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Set(ctx, "a", []byte("1"))
			if err := s.Remove(ctx, "a"); err != nil {
				t.Fatalf("remove: %v", err)
			}
			if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound after remove, got %v", err)
			}
			if err := s.Remove(ctx, "a"); err != nil {
				t.Errorf("removing a missing key should not fail: %v", err)
			}
		})
	}
}

func TestIterateInKeyOrder(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Set(ctx, "b", []byte("2"))
			s.Set(ctx, "a", []byte("1"))
			s.Set(ctx, "c", []byte("3"))

			var keys []string
			err := s.Iterate(ctx, func(key string, value []byte) error {
				keys = append(keys, key+"="+string(value))
				return nil
			})
			if err != nil {
				t.Fatalf("iterate: %v", err)
			}
			want := []string{"a=1", "b=2", "c=3"}
			if len(keys) != len(want) {
				t.Fatalf("got %v, want %v", keys, want)
			}
			for i := range want {
				if keys[i] != want[i] {
					t.Errorf("keys[%d] = %q, want %q", i, keys[i], want[i])
				}
			}
		})
	}
}

func TestIterateStop(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			s.Set(ctx, "a", []byte("1"))
			s.Set(ctx, "b", []byte("2"))

			seen := 0
			err := IterateAll(ctx, s, func(key string, value []byte) error {
				seen++
				return ErrStop
			})
			if err != nil {
				t.Fatalf("IterateAll: %v", err)
			}
			if seen != 1 {
				t.Errorf("visited %d entries, want 1", seen)
			}
		})
	}
}

func TestIterateCanWriteBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Set(ctx, "a", []byte("1"))

	err := s.Iterate(ctx, func(key string, value []byte) error {
		return s.Set(ctx, key, []byte("fixed"))
	})
	if err != nil {
		t.Fatalf("iterate with write-back: %v", err)
	}
	got, _ := s.Get(ctx, "a")
	if string(got) != "fixed" {
		t.Errorf("got %q, want %q", got, "fixed")
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	s.Set(ctx, "a", []byte("1"))
	s.Set(ctx, "b", []byte("2"))

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Entries != 2 {
		t.Errorf("Entries = %d, want 2", st.Entries)
	}
	if st.SizeBytes == 0 {
		t.Error("expected non-zero db size")
	}
}
