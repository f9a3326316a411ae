package tree

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_GetSet(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := s.Get(ctx, "a-x-com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	node := map[string]Value{"first_name": "Ada", "last_name": "Lovelace"}
	if err := s.Set(ctx, "a-x-com", node); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := s.Get(ctx, "a-x-com/first_name")
	if err != nil {
		t.Fatalf("Get subpath: %v", err)
	}
	if got != "Ada" {
		t.Fatalf("expected Ada, got %v", got)
	}
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if err := s.Set(ctx, "k", map[string]Value{"v": "1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.(map[string]Value)["v"] = "mutated"

	again, err := s.Get(ctx, "k/v")
	if err != nil {
		t.Fatalf("Get again: %v", err)
	}
	if again != "1" {
		t.Fatalf("caller mutation leaked into store: %v", again)
	}
}

func TestMemoryStore_UpdateAtomicMultiPath(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	err := s.Update(ctx, map[string]Value{
		"a-x-com/conversations/c1": map[string]Value{"id": "c1"},
		"b-y-com/conversations/c1": map[string]Value{"id": "c1"},
		"conversation_c1/messages": map[string]Value{},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	for _, p := range []string{"a-x-com/conversations/c1", "b-y-com/conversations/c1", "conversation_c1/messages"} {
		if _, err := s.Get(ctx, p); err != nil {
			t.Fatalf("Get %s after update: %v", p, err)
		}
	}
}

func TestMemoryStore_UpdateRejectsBadPath(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer func() { _ = s.Close() }()

	err := s.Update(context.Background(), map[string]Value{
		"ok":   "v",
		"a//b": "v",
	})
	if err == nil {
		t.Fatal("expected error for empty path segment")
	}
	// Nothing may have been committed.
	if _, err := s.Get(context.Background(), "ok"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("partial commit detected: %v", err)
	}
}

func TestMemoryStore_SetNilDeletes(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if err := s.Set(ctx, "k/child", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ctx, "k/child", nil); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, "k/child"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStore_WatchDeliversInitialAndUpdates(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "u/conversations")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Initial snapshot: subtree absent -> nil.
	select {
	case v := <-ch:
		if v != nil {
			t.Fatalf("expected nil initial snapshot, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial snapshot")
	}

	if err := s.Set(context.Background(), "u/conversations/c1", map[string]Value{"id": "c1"}); err != nil {
		t.Fatalf("Set: %v", err)
	}

	select {
	case v := <-ch:
		m, ok := v.(map[string]Value)
		if !ok || m["c1"] == nil {
			t.Fatalf("expected snapshot containing c1, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after write")
	}

	// A write above the watched path must also fire.
	if err := s.Set(context.Background(), "u", map[string]Value{"conversations": map[string]Value{}}); err != nil {
		t.Fatalf("Set parent: %v", err)
	}
	select {
	case v := <-ch:
		m, ok := v.(map[string]Value)
		if !ok || len(m) != 0 {
			t.Fatalf("expected empty snapshot, got %v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot after parent overwrite")
	}

	cancel()
	select {
	case _, open := <-ch:
		if open {
			// Drain a possibly buffered snapshot; the channel must close.
			select {
			case _, open = <-ch:
				if open {
					t.Fatal("channel still open after cancel")
				}
			case <-time.After(time.Second):
				t.Fatal("channel not closed after cancel")
			}
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestMemoryStore_WatchNeverBlocksWriters(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	defer func() { _ = s.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "k")
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Nobody reads ch; many writes must still complete promptly.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = s.Set(context.Background(), "k", map[string]Value{"n": "x"})
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer blocked by slow watcher")
	}
	_ = ch
}

func TestJoinSplit(t *testing.T) {
	t.Parallel()

	if got := Join("a-x-com", "conversations", "c1"); got != "a-x-com/conversations/c1" {
		t.Fatalf("Join: %q", got)
	}
	segs, err := Split("/a/b/c/")
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(segs) != 3 || segs[0] != "a" || segs[2] != "c" {
		t.Fatalf("Split segments: %v", segs)
	}
	if _, err := Split(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
