package tree

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Layout: one row per top-level key in <schema>.tree_nodes
// (key text primary key, doc jsonb). Subpaths are spliced in Go inside a
// transaction that holds a per-key advisory lock, so an Update spanning
// several root keys commits atomically with the locks taken in sorted
// order (no lock-order inversion between concurrent updates).
//
// Watch is driven by LISTEN/NOTIFY: every commit notifies the store's
// channel with the touched root key, and a single shared listener
// goroutine re-reads the watched paths.
//
// Ownership model: the store does NOT own the pgx pool; Close only stops
// the listener.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string

	mu        sync.Mutex
	watchers  map[int64]*pgWatcher
	nextID    int64
	listening bool
	closed    bool
	stopCh    chan struct{}
}

type pgWatcher struct {
	rootKey string
	segs    []string
	ch      chan Value
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "chord").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("tree: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("tree: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:     pool,
		schema:   "chord",
		watchers: make(map[int64]*pgWatcher),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("tree: nil pool")
	}
	return st, nil
}

// EnsureSchema creates the schema and tree_nodes table if absent.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx,
		`CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize(),
	); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS `+s.table()+` (
		     key        text PRIMARY KEY,
		     doc        jsonb NOT NULL,
		     updated_at timestamptz NOT NULL DEFAULT now()
		 )`,
	); err != nil {
		return fmt.Errorf("create tree_nodes: %w", err)
	}
	return nil
}

// Close stops the listener goroutine and closes watcher channels.
// The pool is owned by the caller.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.stopCh)
	for id, w := range s.watchers {
		close(w.ch)
		delete(s.watchers, id)
	}
	return nil
}

// Get fetches the subtree at path, or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, path string) (Value, error) {
	segs, err := Split(path)
	if err != nil {
		return nil, err
	}

	var raw []byte
	err = s.pool.QueryRow(ctx,
		`SELECT doc FROM `+s.table()+` WHERE key = $1`, segs[0],
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	doc, err := decodeDoc(raw)
	if err != nil {
		return nil, err
	}
	if len(segs) == 1 {
		return doc, nil
	}
	sub, ok := descend(doc, segs[1:])
	if !ok {
		return nil, ErrNotFound
	}
	return sub, nil
}

// Set overwrites the whole subtree at path. A nil value deletes it.
func (s *PostgresStore) Set(ctx context.Context, path string, value Value) error {
	return s.Update(ctx, map[string]Value{path: value})
}

// Update applies all writes in one transaction and notifies listeners.
func (s *PostgresStore) Update(ctx context.Context, writes map[string]Value) error {
	if len(writes) == 0 {
		return errors.New("tree: empty update")
	}

	type splice struct {
		segs  []string
		value Value
	}
	byRoot := make(map[string][]splice)
	for p, v := range writes {
		segs, err := Split(p)
		if err != nil {
			return err
		}
		byRoot[segs[0]] = append(byRoot[segs[0]], splice{segs: segs, value: v})
	}
	roots := make([]string, 0, len(byRoot))
	for k := range byRoot {
		roots = append(roots, k)
	}
	sort.Strings(roots)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	table := s.table()
	for _, root := range roots {
		// Serialize writers per root key so read-splice-write is safe.
		if _, err := tx.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, root,
		); err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}

		var raw []byte
		var doc Value
		err := tx.QueryRow(ctx, `SELECT doc FROM `+table+` WHERE key = $1`, root).Scan(&raw)
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			doc = nil
		case err != nil:
			return err
		default:
			if doc, err = decodeDoc(raw); err != nil {
				return err
			}
		}

		for _, sp := range byRoot[root] {
			doc = spliceValue(doc, sp.segs[1:], sp.value)
		}

		if doc == nil {
			if _, err := tx.Exec(ctx, `DELETE FROM `+table+` WHERE key = $1`, root); err != nil {
				return err
			}
		} else {
			enc, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO `+table+` (key, doc, updated_at)
				 VALUES ($1, $2::jsonb, now())
				 ON CONFLICT (key) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
				root, string(enc),
			); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.notifyChannel(), root); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// Watch observes path continuously. An absent subtree is observed as nil.
func (s *PostgresStore) Watch(ctx context.Context, path string) (<-chan Value, error) {
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
	w := &pgWatcher{rootKey: segs[0], segs: segs, ch: make(chan Value, 4)}
	s.watchers[id] = w
	if !s.listening {
		s.listening = true
		go s.listenLoop()
	}
	s.mu.Unlock()

	// Initial snapshot.
	snap, err := s.Get(ctx, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		s.dropWatcher(id)
		return nil, err
	}
	s.mu.Lock()
	if _, live := s.watchers[id]; live {
		deliver(w.ch, snap)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.dropWatcher(id)
	}()

	return w.ch, nil
}

func (s *PostgresStore) dropWatcher(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watchers[id]; ok {
		delete(s.watchers, id)
		close(w.ch)
	}
}

// listenLoop holds one dedicated connection on LISTEN and fans
// notifications out to watchers. It reconnects with backoff on failure and
// exits when the store closes.
func (s *PostgresStore) listenLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err := s.listenOnce(); err != nil {
			select {
			case <-s.stopCh:
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (s *PostgresStore) listenOnce() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `LISTEN `+pgx.Identifier{s.notifyChannel()}.Sanitize()); err != nil {
		return err
	}

	for {
		note, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		s.fanout(ctx, note.Payload)
	}
}

func (s *PostgresStore) fanout(ctx context.Context, rootKey string) {
	s.mu.Lock()
	targets := make(map[int64]*pgWatcher, 4)
	for id, w := range s.watchers {
		if w.rootKey == rootKey {
			targets[id] = w
		}
	}
	s.mu.Unlock()

	for id, w := range targets {
		snap, err := s.Get(ctx, strings.Join(w.segs, "/"))
		if err != nil && !errors.Is(err, ErrNotFound) {
			continue
		}
		s.mu.Lock()
		// The watcher may have been dropped, and its channel closed, while
		// the snapshot was loading.
		if _, live := s.watchers[id]; live {
			deliver(w.ch, snap)
		}
		s.mu.Unlock()
	}
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "tree_nodes"}.Sanitize()
}

func (s *PostgresStore) notifyChannel() string {
	return s.schema + "_tree_changed"
}

func decodeDoc(raw []byte) (Value, error) {
	var doc Value
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("tree: malformed doc: %w", err)
	}
	return doc, nil
}

// descend walks a decoded JSON document down the given segments.
func descend(doc Value, segs []string) (Value, bool) {
	cur := doc
	for _, seg := range segs {
		m, ok := cur.(map[string]any)
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

// spliceValue returns doc with value spliced in at segs. Empty segs
// replaces the document itself; a nil value deletes the addressed node.
func spliceValue(doc Value, segs []string, value Value) Value {
	if len(segs) == 0 {
		return value
	}
	m, ok := doc.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	if len(segs) == 1 {
		if value == nil {
			delete(m, segs[0])
		} else {
			m[segs[0]] = value
		}
		return m
	}
	m[segs[0]] = spliceValue(m[segs[0]], segs[1:], value)
	return m
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}
