package tree

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and db-less dev mode.
//
// Concurrency model:
//   - A single mutex guards the whole tree, so Update is trivially atomic.
//   - Watcher notification happens synchronously under the same commit,
//     but delivery is non-blocking (latest snapshot wins).
type MemoryStore struct {
	mu       sync.Mutex
	root     map[string]Value
	watchers map[int64]*memWatcher
	nextID   int64
	closed   bool
}

type memWatcher struct {
	segs []string
	ch   chan Value
}

// NewMemoryStore constructs an empty in-memory tree.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		root:     make(map[string]Value),
		watchers: make(map[int64]*memWatcher),
	}
}

// Close invalidates the store and closes all watcher channels.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, w := range s.watchers {
		close(w.ch)
		delete(s.watchers, id)
	}
	return nil
}

// Get returns a deep copy of the subtree at path, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, path string) (Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("tree: store closed")
	}

	v, ok := getAt(s.root, segs)
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(v), nil
}

// Set overwrites the whole subtree at path. A nil value deletes the subtree.
func (s *MemoryStore) Set(ctx context.Context, path string, value Value) error {
	return s.Update(ctx, map[string]Value{path: value})
}

// Update applies all writes atomically, then notifies related watchers.
func (s *MemoryStore) Update(ctx context.Context, writes map[string]Value) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(writes) == 0 {
		return errors.New("tree: empty update")
	}

	// Validate every path before mutating anything.
	paths := make([]string, 0, len(writes))
	segsByPath := make(map[string][]string, len(writes))
	for p := range writes {
		segs, err := Split(p)
		if err != nil {
			return err
		}
		paths = append(paths, p)
		segsByPath[p] = segs
	}
	sort.Strings(paths)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("tree: store closed")
	}

	for _, p := range paths {
		setAt(s.root, segsByPath[p], deepCopy(writes[p]))
	}

	for _, w := range s.watchers {
		touched := false
		for _, p := range paths {
			if related(w.segs, segsByPath[p]) {
				touched = true
				break
			}
		}
		if !touched {
			continue
		}
		snap, ok := getAt(s.root, w.segs)
		if !ok {
			snap = nil
		}
		deliver(w.ch, deepCopy(snap))
	}
	return nil
}

// Watch registers a continuous observation on path. The initial snapshot is
// delivered immediately; the channel is closed when ctx is done or the
// store is closed. An absent subtree is observed as nil.
func (s *MemoryStore) Watch(ctx context.Context, path string) (<-chan Value, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("tree: store closed")
	}
	s.nextID++
	id := s.nextID
	w := &memWatcher{segs: segs, ch: make(chan Value, 4)}
	s.watchers[id] = w

	snap, ok := getAt(s.root, segs)
	if !ok {
		snap = nil
	}
	deliver(w.ch, deepCopy(snap))
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if ww, ok := s.watchers[id]; ok {
			delete(s.watchers, id)
			close(ww.ch)
		}
		s.mu.Unlock()
	}()

	return w.ch, nil
}

// deliver pushes a snapshot without ever blocking a committer: when the
// watcher queue is full, the oldest pending snapshot is discarded.
func deliver(ch chan Value, v Value) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func getAt(root map[string]Value, segs []string) (Value, bool) {
	var cur Value = root
	for _, seg := range segs {
		m, ok := cur.(map[string]Value)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// setAt splices value at segs, creating intermediate maps and replacing
// non-map intermediates. A nil value deletes the leaf.
func setAt(root map[string]Value, segs []string, value Value) {
	m := root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := m[seg].(map[string]Value)
		if !ok {
			child = make(map[string]Value)
			m[seg] = child
		}
		m = child
	}
	leaf := segs[len(segs)-1]
	if value == nil {
		delete(m, leaf)
		return
	}
	m[leaf] = value
}

func deepCopy(v Value) Value {
	switch t := v.(type) {
	case map[string]Value:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []Value:
		out := make([]Value, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
