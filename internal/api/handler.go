// Package api exposes the HTTP surface: account registration and login, the
// user directory, and profile picture blobs. Conversations and messages ride
// the realtime websocket instead.
package api

import (
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"chord/internal/auth"
	"chord/internal/blob"
	"chord/internal/chat"
	"chord/internal/identity"
)

// Config tunes request handling limits.
type Config struct {
	MaxBodyBytes int64
	MaxBlobBytes int64

	// Per-IP attempt budget for the register/login endpoints.
	AuthRateEvents int
	AuthRateWindow time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxBodyBytes:   64 << 10,
		MaxBlobBytes:   4 << 20,
		AuthRateEvents: defaultAuthRateEvents,
		AuthRateWindow: defaultAuthRateWindow,
	}
}

// Handler wires HTTP endpoints to the directory, token and blob services.
type Handler struct {
	log    *slog.Logger
	cfg    Config
	dir    *chat.Directory
	tokens *auth.TokenManager
	blobs  blob.Store
	hash   auth.Argon2idParams
	authRL *authLimiter

	// dummyHash keeps login timing uniform when the account is absent.
	dummyHash string
}

func NewHandler(log *slog.Logger, cfg Config, dir *chat.Directory, tokens *auth.TokenManager, blobs blob.Store) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.AuthRateWindow <= 0 {
		cfg.AuthRateWindow = defaultAuthRateWindow
	}
	h := &Handler{
		log:    log,
		cfg:    cfg,
		dir:    dir,
		tokens: tokens,
		blobs:  blobs,
		hash:   auth.DefaultArgon2idParams(),
		authRL: newAuthLimiter(cfg.AuthRateEvents, cfg.AuthRateWindow),
	}
	if dummy, err := auth.HashPassword("dummy-password-for-timing-only", h.hash); err == nil {
		h.dummyHash = dummy
	}
	return h
}

// Register wires routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/v1/auth/register", h.handleRegister)
	mux.HandleFunc("/v1/auth/login", h.handleLogin)
	mux.HandleFunc("/v1/users", h.handleUsers)
	mux.HandleFunc("/v1/users/exists", h.handleUserExists)
	mux.HandleFunc("/v1/blobs/", h.handleBlobUpload)
	mux.Handle("/blobs/", blob.Handler(h.blobs, "/blobs/"))
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authRL.Allow(clientIP(r), time.Now().UTC()) {
		h.log.Info("api.register.throttled", "ip", clientIP(r))
		writeRateLimited(w, h.cfg.AuthRateWindow)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	email := strings.TrimSpace(strings.ToLower(req.Email))
	first := strings.TrimSpace(req.FirstName)
	last := strings.TrimSpace(req.LastName)
	if email == "" || first == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "first_name and email are required")
		return
	}
	if _, err := mail.ParseAddress(email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid email address")
		return
	}

	hash, err := auth.HashPassword(req.Password, h.hash)
	if err != nil {
		switch err {
		case auth.ErrPasswordTooShort, auth.ErrPasswordTooLong:
			writeError(w, http.StatusBadRequest, "invalid_password", err.Error())
		default:
			h.log.Error("api.register.hash.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	u := chat.User{FirstName: first, LastName: last, Email: email}
	if err := h.dir.Register(r.Context(), u, hash); err != nil {
		switch {
		case identity.IsInvalidInput(err):
			writeError(w, http.StatusConflict, "conflict", "account already exists")
		default:
			h.log.Error("api.register.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		}
		return
	}

	now := time.Now().UTC()
	token, exp, err := h.tokens.Issue(email, u.DisplayName(), now)
	if err != nil {
		h.log.Error("api.register.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("api.register", "email", identity.SafeEmail(email))
	writeJSON(w, http.StatusOK, authResponse{
		User:           userResponse{Email: email, Name: u.DisplayName()},
		AccessToken:    token,
		TokenExpiresAt: exp,
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authRL.Allow(clientIP(r), time.Now().UTC()) {
		h.log.Info("api.login.throttled", "ip", clientIP(r))
		writeRateLimited(w, h.cfg.AuthRateWindow)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	email := strings.TrimSpace(strings.ToLower(req.Email))
	password := req.Password
	if email == "" || password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	ctx := r.Context()
	stored, err := h.dir.PasswordHash(ctx, email)
	if err != nil {
		// Timing resistance: run a dummy verify when the account is missing.
		if h.dummyHash != "" {
			_, _ = auth.VerifyPassword(password, h.dummyHash, h.hash)
		}
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	ok, err := auth.VerifyPassword(password, stored, h.hash)
	if err != nil || !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	name, err := h.dir.DisplayNameOf(ctx, email)
	if err != nil {
		h.log.Error("api.login.name.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	now := time.Now().UTC()
	token, exp, err := h.tokens.Issue(email, name, now)
	if err != nil {
		h.log.Error("api.login.token.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("api.login", "email", identity.SafeEmail(email))
	writeJSON(w, http.StatusOK, authResponse{
		User:           userResponse{Email: email, Name: name},
		AccessToken:    token,
		TokenExpiresAt: exp,
	})
}

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, ok := h.requireAuth(w, r); !ok {
		return
	}

	entries, err := h.dir.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		if identity.IsFetch(err) {
			// No one has registered yet.
			writeJSON(w, http.StatusOK, usersResponse{Users: []userResponse{}})
			return
		}
		h.log.Error("api.users.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	users := make([]userResponse, 0, len(entries))
	for _, e := range entries {
		users = append(users, userResponse{Email: e.Email, Name: e.Name})
	}
	writeJSON(w, http.StatusOK, usersResponse{Users: users})
}

func (h *Handler) handleUserExists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	email := strings.TrimSpace(r.URL.Query().Get("email"))
	if email == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	exists, err := h.dir.Exists(r.Context(), email)
	if err != nil {
		h.log.Error("api.users.exists.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	writeJSON(w, http.StatusOK, existsResponse{Exists: exists})
}

func (h *Handler) handleBlobUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := h.requireAuth(w, r)
	if !ok {
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/v1/blobs/")
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "blob key is required")
		return
	}
	// A user may only write their own profile picture key.
	if key != identity.ProfilePictureKey(claims.Email) {
		writeError(w, http.StatusForbidden, "forbidden", "cannot write this blob")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.cfg.MaxBlobBytes)
	defer func() { _ = r.Body.Close() }()

	url, err := h.blobs.Put(r.Context(), key, body)
	if err != nil {
		h.log.Error("api.blobs.put.fail", "err", err, "key", key)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.log.Info("api.blobs.put", "key", key)
	writeJSON(w, http.StatusOK, blobUploadResponse{Key: key, URL: url})
}

// ---- helpers ----

func (h *Handler) requireAuth(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return auth.Claims{}, false
	}
	claims, err := h.tokens.Verify(token, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid token")
		return auth.Claims{}, false
	}
	return claims, true
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
