// Package realtime is the websocket surface of the server. A session
// authenticates with an access token, then creates conversations, appends
// messages, and subscribes to live snapshots of its conversation list and
// message logs.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	v1 "chord/contracts/realtime/v1"
	"chord/internal/auth"
	"chord/internal/chat"
	"chord/internal/identity"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	wsSubprotocolV1 = "chord.realtime.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	wsMaxPingFailures = 3

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// Metrics are the optional gateway instruments. Nil fields are skipped.
type Metrics struct {
	Sessions             prometheus.Gauge
	ConversationsCreated prometheus.Counter
	MessagesAppended     prometheus.Counter
}

// Gateway is the WebSocket entrypoint.
//
// It enforces origin policy, subprotocol selection, rate limits, heartbeats,
// and routes validated envelopes to the Messenger.
type Gateway struct {
	log       *slog.Logger
	messenger *chat.Messenger
	tokens    *auth.TokenManager
	metrics   Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery   time.Duration
	heartbeatTimeout time.Duration

	rateEvents int
	rateWindow time.Duration
}

// Option configures optional gateway dependencies.
type Option func(*Gateway)

// WithMetrics attaches gateway instruments.
func WithMetrics(m Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway constructs a gateway with secure defaults.
func NewGateway(log *slog.Logger, messenger *chat.Messenger, tokens *auth.TokenManager, opts ...Option) *Gateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	g := &Gateway{log: log, messenger: messenger, tokens: tokens}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("CHORD_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("CHORD_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("CHORD_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("CHORD_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("CHORD_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("CHORD_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("CHORD_WS_HEARTBEAT_INTERVAL", heartbeatInterval)
	g.heartbeatTimeout = envDurationWS("CHORD_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout)

	g.rateEvents = envIntWS("CHORD_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("CHORD_WS_RATE_WINDOW", rateLimitWindow)

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return g
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the realtime loop.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:       []string{wsSubprotocolV1},
		OriginPatterns:     g.originPatterns,
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	if g.metrics.Sessions != nil {
		g.metrics.Sessions.Inc()
		defer g.metrics.Sessions.Dec()
	}

	sessionID := newID(time.Now())
	client := NewClient(sessionID, g.sendQueueSize)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var (
		closeOnce sync.Once
		sess      *chat.Session
		watches   = newWatchSet()
	)

	// shutdown is idempotent. It does NOT close client.Send.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			watches.cancelAll()
			client.Close()
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)

		t := time.NewTicker(g.heartbeatEvery)
		defer t.Stop()

		failures := 0
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case <-t.C:
				hbCtx, hbCancel := context.WithTimeout(ctx, g.heartbeatTimeout)
				err := conn.Ping(hbCtx)
				hbCancel()

				if err != nil {
					failures++
					g.log.Info("ws.ping.fail", "session_id", sessionID, "failures", failures, "err", err)
					if failures >= wsMaxPingFailures {
						shutdown(websocket.StatusGoingAway, "heartbeat failed")
						return
					}
					continue
				}
				failures = 0
			}
		}
	}()

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		env, err := readEnvelope(readCtx, conn)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
				break readLoop
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
				break readLoop
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
				break readLoop
			case readErrBadJSON:
				g.trySendError(ctx, client, "bad_json", "invalid JSON")
				continue readLoop
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
				break readLoop
			}
		}

		now := time.Now().UTC()
		if !rl.Allow(now) {
			g.trySendError(ctx, client, "rate_limited", "too many events")
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		if err := env.Validate(); err != nil {
			g.trySendError(ctx, client, "bad_envelope", err.Error())
			continue readLoop
		}

		if env.Type == v1.TypeHello {
			got, err := g.onHello(ctx, client, env, now)
			if err != nil {
				g.trySendError(ctx, client, "hello_failed", err.Error())
				shutdown(websocket.StatusPolicyViolation, "hello failed")
				break readLoop
			}
			sess = got
			continue readLoop
		}

		if sess == nil {
			g.trySendError(ctx, client, "not_authenticated", "hello first")
			continue readLoop
		}

		switch env.Type {
		case v1.TypeConversationCreate:
			if err := g.onConversationCreate(ctx, client, *sess, env, now); err != nil {
				g.trySendError(ctx, client, "create_failed", err.Error())
			}

		case v1.TypeMessageSend:
			if err := g.onMessageSend(ctx, client, *sess, env, now); err != nil {
				g.trySendError(ctx, client, "send_failed", err.Error())
			}

		case v1.TypeConversationsWatch:
			if err := g.onConversationsWatch(ctx, client, *sess, watches); err != nil {
				g.trySendError(ctx, client, "watch_failed", err.Error())
			}

		case v1.TypeMessagesWatch:
			if err := g.onMessagesWatch(ctx, client, *sess, env, watches); err != nil {
				code := "watch_failed"
				if errors.Is(err, errNotParticipant) {
					code = "forbidden"
				}
				g.trySendError(ctx, client, code, err.Error())
			}

		default:
			g.trySendError(ctx, client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(wsCloseGrace):
	}
}

// ---- handlers ----

func (g *Gateway) onHello(ctx context.Context, client *Client, env v1.Envelope, now time.Time) (*chat.Session, error) {
	var p v1.HelloPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.Token) == "" {
		return nil, errors.New("missing token")
	}

	claims, err := g.tokens.Verify(p.Token, now)
	if err != nil {
		return nil, errors.New("invalid token")
	}

	ackPayload, _ := json.Marshal(v1.HelloAckPayload{
		SessionID: client.SessionID,
		Email:     claims.Email,
		Name:      claims.DisplayName,
	})
	ack := newEnvelope(v1.TypeHelloAck, ackPayload, now)

	if !g.enqueue(ctx, client, ack) {
		return nil, errors.New("backpressure: hello_ack")
	}

	g.log.Info("ws.hello", "session_id", client.SessionID, "email", identity.SafeEmail(claims.Email))
	return &chat.Session{Email: claims.Email, DisplayName: claims.DisplayName}, nil
}

func (g *Gateway) onConversationCreate(ctx context.Context, client *Client, sess chat.Session, env v1.Envelope, now time.Time) error {
	var p v1.ConversationCreatePayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.PeerEmail) == "" {
		return errors.New("missing peer_email")
	}

	first, err := messageFromBody(p.First, now)
	if err != nil {
		return err
	}

	convID, err := g.messenger.CreateConversation(ctx, sess, p.PeerEmail, p.PeerName, first)
	if err != nil {
		return describeErr(err)
	}
	if g.metrics.ConversationsCreated != nil {
		g.metrics.ConversationsCreated.Inc()
	}

	ackPayload, _ := json.Marshal(v1.ConversationCreatedPayload{
		ConversationID: convID,
		MessageID:      strings.TrimPrefix(convID, "conversation_"),
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeConversationCreated, ackPayload, now)) {
		return errors.New("backpressure: conversation_created")
	}
	return nil
}

func (g *Gateway) onMessageSend(ctx context.Context, client *Client, sess chat.Session, env v1.Envelope, now time.Time) error {
	var p v1.MessageSendPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	if strings.TrimSpace(p.ConversationID) == "" {
		return errors.New("missing conversation_id")
	}
	if strings.TrimSpace(p.PeerEmail) == "" {
		return errors.New("missing peer_email")
	}

	msg, err := messageFromBody(p.Body, now)
	if err != nil {
		return err
	}
	msg.ID = newID(now)

	if err := g.messenger.AppendMessage(ctx, sess, p.ConversationID, p.PeerEmail, p.PeerName, msg); err != nil {
		return describeErr(err)
	}
	if g.metrics.MessagesAppended != nil {
		g.metrics.MessagesAppended.Inc()
	}

	ackPayload, _ := json.Marshal(v1.MessageAckPayload{
		ConversationID: p.ConversationID,
		MessageID:      msg.ID,
	})
	if !g.enqueue(ctx, client, newEnvelope(v1.TypeMessageAck, ackPayload, now)) {
		return errors.New("backpressure: message_ack")
	}
	return nil
}

func (g *Gateway) onConversationsWatch(ctx context.Context, client *Client, sess chat.Session, watches *watchSet) error {
	if !watches.startConversations() {
		return errors.New("already watching conversations")
	}

	wctx, cancel := context.WithCancel(ctx)
	ch, err := g.messenger.WatchConversations(wctx, sess.Email)
	if err != nil {
		cancel()
		watches.stopConversations()
		return describeErr(err)
	}
	watches.setConversationsCancel(cancel)

	go func() {
		for snap := range ch {
			out := make([]v1.ConversationSummary, 0, len(snap))
			for _, s := range snap {
				out = append(out, v1.ConversationSummary{
					ConversationID: s.ID,
					PeerEmail:      s.PeerEmail,
					PeerName:       s.PeerName,
					Latest: v1.LatestMessage{
						Content: s.Latest.Message,
						Date:    s.Latest.Date,
						IsRead:  s.Latest.IsRead,
					},
				})
			}
			payload, _ := json.Marshal(v1.ConversationsSnapshotPayload{Conversations: out})
			// Under backpressure the snapshot is dropped; the next one
			// supersedes it anyway.
			g.enqueue(ctx, client, newEnvelope(v1.TypeConversationsSnapshot, payload, time.Now().UTC()))
		}
	}()
	return nil
}

func (g *Gateway) onMessagesWatch(ctx context.Context, client *Client, sess chat.Session, env v1.Envelope, watches *watchSet) error {
	var p v1.MessagesWatchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	convID := strings.TrimSpace(p.ConversationID)
	if convID == "" {
		return errors.New("missing conversation_id")
	}

	// Only participants may read a conversation's log.
	ok, err := g.messenger.ParticipatesIn(ctx, sess.Email, convID)
	if err != nil {
		return describeErr(err)
	}
	if !ok {
		g.log.Info("ws.watch.reject",
			"session_id", client.SessionID, "conversation_id", convID)
		return errNotParticipant
	}

	if !watches.startMessages(convID) {
		return errors.New("watch limit reached or already watching")
	}

	wctx, cancel := context.WithCancel(ctx)
	ch, err := g.messenger.WatchMessages(wctx, convID)
	if err != nil {
		cancel()
		watches.stopMessages(convID)
		return describeErr(err)
	}
	watches.setMessagesCancel(convID, cancel)

	go func() {
		for snap := range ch {
			out := make([]v1.Message, 0, len(snap))
			for _, m := range snap {
				wire := v1.Message{
					ID:          m.ID,
					SenderEmail: m.SenderEmail,
					SenderName:  m.SenderName,
					Kind:        string(m.Kind),
					Text:        m.Text,
					SentAt:      m.SentAt,
				}
				if m.PhotoURL != nil {
					wire.PhotoURL = m.PhotoURL.String()
				}
				out = append(out, wire)
			}
			payload, _ := json.Marshal(v1.MessagesSnapshotPayload{
				ConversationID: convID,
				Messages:       out,
			})
			g.enqueue(ctx, client, newEnvelope(v1.TypeMessagesSnapshot, payload, time.Now().UTC()))
		}
	}()
	return nil
}

// ---- message decoding ----

func messageFromBody(b v1.MessageBody, now time.Time) (chat.Message, error) {
	switch chat.Kind(b.Kind) {
	case chat.KindText:
		text := strings.TrimSpace(b.Text)
		if text == "" {
			return chat.Message{}, errors.New("empty text")
		}
		if len([]rune(text)) > maxMessageChars {
			return chat.Message{}, fmt.Errorf("message too long: max=%d chars", maxMessageChars)
		}
		return chat.Message{Kind: chat.KindText, Text: text, SentAt: now}, nil

	case chat.KindPhoto:
		u, err := url.Parse(strings.TrimSpace(b.PhotoURL))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return chat.Message{}, errors.New("invalid photo_url")
		}
		return chat.Message{Kind: chat.KindPhoto, PhotoURL: u, SentAt: now}, nil

	default:
		return chat.Message{}, fmt.Errorf("unsupported kind: %q", b.Kind)
	}
}

// describeErr maps internal error kinds to client-safe messages.
var errNotParticipant = errors.New("not a conversation participant")

func describeErr(err error) error {
	switch {
	case identity.IsNotFound(err):
		return errors.New("not found")
	case identity.IsInvalidInput(err):
		return errors.New("invalid input")
	case identity.IsFetch(err):
		return errors.New("fetch failed")
	default:
		return errors.New("internal error")
	}
}

// ---- watch bookkeeping ----

// watchSet tracks the active subscriptions of one connection. The read loop
// is the only starter; cancelAll may race with it, so access is locked.
type watchSet struct {
	mu        sync.Mutex
	conv      bool
	convStop  context.CancelFunc
	msgs      map[string]context.CancelFunc
	cancelled bool
}

func newWatchSet() *watchSet {
	return &watchSet{msgs: make(map[string]context.CancelFunc)}
}

func (w *watchSet) startConversations() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled || w.conv {
		return false
	}
	w.conv = true
	return true
}

func (w *watchSet) setConversationsCancel(cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		cancel()
		return
	}
	w.convStop = cancel
}

func (w *watchSet) stopConversations() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.conv = false
	w.convStop = nil
}

func (w *watchSet) startMessages(convID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		return false
	}
	if _, ok := w.msgs[convID]; ok {
		return false
	}
	if len(w.msgs) >= maxMessageWatches {
		return false
	}
	w.msgs[convID] = nil
	return true
}

func (w *watchSet) setMessagesCancel(convID string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelled {
		cancel()
		return
	}
	w.msgs[convID] = cancel
}

func (w *watchSet) stopMessages(convID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.msgs, convID)
}

func (w *watchSet) cancelAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cancelled = true
	if w.convStop != nil {
		w.convStop()
		w.convStop = nil
	}
	for id, cancel := range w.msgs {
		if cancel != nil {
			cancel()
		}
		delete(w.msgs, id)
	}
}

// ---- send helpers ----

func (g *Gateway) trySendError(ctx context.Context, client *Client, code, msg string) {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	env := newEnvelope(v1.TypeError, p, time.Now().UTC())
	_ = g.enqueue(ctx, client, env)
}

func (g *Gateway) enqueue(ctx context.Context, client *Client, env v1.Envelope) bool {
	select {
	case <-ctx.Done():
		return false
	case <-client.Done():
		return false
	case client.Send <- env:
		return true
	default:
		return false
	}
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      newID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) (v1.Envelope, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return v1.Envelope{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return v1.Envelope{}, fmt.Errorf("unsupported message type: %v", mt)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return v1.Envelope{}, err
	}
	return env, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
	readErrBadJSON
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}

	// JSON decode errors are typically returned by json.Unmarshal, not conn.Read.
	// This fallback exists for robustness when error strings are propagated.
	s := err.Error()
	if strings.Contains(s, "unexpected end of JSON input") || strings.Contains(s, "invalid character") {
		return readErrBadJSON
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *Gateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using
	// filepath.Match patterns. Only hosts extracted from the allowlist are
	// accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
