// Package tree defines Chord's remote tree store boundary: a hierarchical
// key-path database with read-once fetch, whole-subtree overwrite, atomic
// multi-path commits, and continuous observation.
//
// Values crossing this boundary are JSON-like shapes: nested
// map[string]any, []any, string, bool, float64. Paths are "/"-joined
// strings; the first segment is the root key of the subtree.
package tree

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when the addressed subtree is absent.
var ErrNotFound = errors.New("tree: not found")

// Value is a JSON-like tree value.
type Value = any

// Store is the remote tree store boundary.
//
// Requirements:
//   - Update commits all paths atomically or not at all.
//   - Watch delivers an initial snapshot, then a fresh snapshot after every
//     commit that touches the watched path (above or below it).
//   - Watch channels are closed when ctx is done; senders never block
//     writers (stale snapshots may be dropped under backpressure).
type Store interface {
	Get(ctx context.Context, path string) (Value, error)
	Set(ctx context.Context, path string, value Value) error
	Update(ctx context.Context, writes map[string]Value) error
	Watch(ctx context.Context, path string) (<-chan Value, error)
	Close() error
}
