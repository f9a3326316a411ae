// Package app wires the Chord server runtime: config, logging, storage, the
// HTTP API, and the realtime websocket gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"chord/internal/api"
	"chord/internal/auth"
	"chord/internal/blob"
	"chord/internal/chat"
	"chord/internal/realtime"
	"chord/internal/tree"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the server runtime: it owns storage lifecycle and route wiring.
type App struct {
	cfg Config
	log Logger

	store     tree.Store
	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *Metrics
	api     *api.Handler
	ws      *realtime.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	store, pool, dbEnabled, err := newTreeStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Issuer:       cfg.TokenIssuer,
		TTL:          cfg.TokenTTL,
		ClockSkew:    cfg.TokenClockSkew,
		SecretKeyHex: cfg.TokenSecretKeyHex,
	})
	if err != nil {
		closeStore(store, pool)
		return nil, err
	}

	blobs, err := newBlobStore(cfg, log)
	if err != nil {
		closeStore(store, pool)
		return nil, err
	}

	metrics := NewMetrics()
	directory := chat.NewDirectory(log, store)
	messenger := chat.NewMessenger(log, store)

	apiHandler := api.NewHandler(log, api.DefaultConfig(), directory, tokens, blobs)
	ws := realtime.NewGateway(log, messenger, tokens, realtime.WithMetrics(realtime.Metrics{
		Sessions:             metrics.WSSessions,
		ConversationsCreated: metrics.ConversationsCreated,
		MessagesAppended:     metrics.MessagesAppended,
	}))

	return &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		dbPool:    pool,
		dbEnabled: dbEnabled,
		metrics:   metrics,
		api:       apiHandler,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	a.registerHTTP(mux)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	closeStore(a.store, a.dbPool)

	a.log.Info("server.stopped")
	return nil
}

func (a *App) registerHTTP(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && !a.dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.dbEnabled && a.dbPool != nil {
			if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("/metrics", a.metrics.Handler())
	a.api.Register(mux)
	mux.HandleFunc("/ws", a.ws.HandleWS)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newTreeStore decides between Postgres-backed persistence and the in-memory
// dev store.
func newTreeStore(ctx context.Context, cfg Config, log Logger) (tree.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return tree.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := tree.NewPostgresStore(pool, tree.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, true, nil
}

func newBlobStore(cfg Config, log Logger) (blob.Store, error) {
	if cfg.BlobDir == "" {
		log.Info("blob.inmemory_store")
		return blob.NewMemoryStore(cfg.BlobBaseURL), nil
	}
	log.Info("blob.fs_store", "dir", cfg.BlobDir)
	return blob.NewFSStore(cfg.BlobDir, cfg.BlobBaseURL)
}

// closeStore releases storage resources. The pool is owned here; the tree
// store's Close only stops its listener.
func closeStore(store tree.Store, pool *pgxpool.Pool) {
	if store != nil {
		_ = store.Close()
	}
	if pool != nil {
		pool.Close()
	}
}
