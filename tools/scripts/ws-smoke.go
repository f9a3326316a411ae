// Package main provides a CI-friendly WebSocket smoke test for the Chord
// realtime gateway.
//
// It validates:
//   - registration + login over the HTTP API
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - conversation_create -> conversation_created
//   - conversations_watch / messages_watch snapshots
//   - message_send -> message_ack and snapshot fanout to the peer
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	v1 "chord/contracts/realtime/v1"
	"chord/internal/prefs"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "chord.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	name      string
	email     string
	fullName  string
	token     string
	conn      *websocket.Conn
	sessionID string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		apiURL  = flag.String("api", "http://127.0.0.1:8080", "HTTP API base URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		text    = flag.String("text", "hello chord", "Message text to send")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		profile = flag.String("profile", "", "Optional path to persist client A's profile")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()
	suffix := time.Now().UnixNano()

	a := &smokeClient{
		name:     "A",
		email:    fmt.Sprintf("smoke-a-%d@example.com", suffix),
		fullName: "Smoke A",
	}
	b := &smokeClient{
		name:     "B",
		email:    fmt.Sprintf("smoke-b-%d@example.com", suffix),
		fullName: "Smoke B",
	}

	mustRegister(root, *apiURL, a, *timeout)
	mustRegister(root, *apiURL, b, *timeout)

	if *profile != "" {
		saveProfile(*profile, a)
	}

	mustConnect(root, a, *wsURL, *origin, *timeout)
	defer closeWS(a.conn)
	mustConnect(root, b, *wsURL, *origin, *timeout)
	defer closeWS(b.conn)

	if *verbose {
		fmt.Printf("connected: A=%s B=%s origin=%q\n", a.sessionID, b.sessionID, *origin)
	}

	mustWatchConversations(root, b, *timeout)

	convID := mustCreateConversation(root, a, b, *text, *timeout)

	// B's conversation watch must observe the new conversation.
	mustSeeConversation(root, b, convID, *text, *timeout)

	mustWatchMessages(root, a, convID, 1, *timeout)
	mustWatchMessages(root, b, convID, 1, *timeout)

	msgID := mustSendAndAssertAck(root, a, b, convID, "second message", *timeout)

	mustSeeMessageCount(root, b, convID, 2, *timeout)

	fmt.Printf("OK: A=%s B=%s conv_id=%s msg_id=%s\n", a.sessionID, b.sessionID, convID, msgID)
}

// ---- HTTP API ----

type registerResponse struct {
	User struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
	AccessToken string `json:"access_token"`
}

func mustRegister(parent context.Context, apiURL string, c *smokeClient, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	parts := strings.SplitN(c.fullName, " ", 2)
	body, _ := json.Marshal(map[string]string{
		"first_name": parts[0],
		"last_name":  parts[1],
		"email":      c.email,
		"password":   "smoke-test-password",
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/v1/auth/register", bytes.NewReader(body))
	if err != nil {
		fatalf("register %s: %v", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("register %s: %v", c.name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		fatalf("register %s: status %d", c.name, resp.StatusCode)
	}
	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fatalf("register %s: decode: %v", c.name, err)
	}
	if out.AccessToken == "" {
		fatalf("register %s: empty access token", c.name)
	}
	c.token = out.AccessToken
}

func saveProfile(path string, c *smokeClient) {
	f := prefs.NewFile(filepath.Clean(path))
	if err := f.Save(prefs.Profile{Email: c.email, Name: c.fullName}); err != nil {
		fatalf("save profile: %v", err)
	}
}

// ---- WebSocket steps ----

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, c *smokeClient, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", c.name, err)
	}

	conn.SetReadLimit(maxReadBytes)
	c.conn = conn
	c.inbox = make(chan v1.Envelope, 512)
	c.errCh = make(chan error, 1)
	c.startReadLoop()

	hello := newEnvelope(v1.TypeHello, fmt.Sprintf("%s-hello", c.name), mustJSON(v1.HelloPayload{Token: c.token}))
	mustWriteWithTimeout(parent, c.conn, hello, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeHelloAck, stepTimeout)

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload (%s): %v", c.name, err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id (%s)", c.name)
	}
	if p.Email != c.email {
		fatalf("hello_ack email mismatch (%s): got=%q want=%q", c.name, p.Email, c.email)
	}
	c.sessionID = p.SessionID
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}
			if err := env.Validate(); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustWatchConversations(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	env := newEnvelope(v1.TypeConversationsWatch, fmt.Sprintf("%s-cwatch", c.name), mustJSON(v1.ConversationsWatchPayload{}))
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	// Initial snapshot arrives promptly even when empty.
	c.mustReadUntilType(parent, v1.TypeConversationsSnapshot, stepTimeout)
}

func mustCreateConversation(parent context.Context, c, peer *smokeClient, text string, stepTimeout time.Duration) string {
	env := newEnvelope(v1.TypeConversationCreate, fmt.Sprintf("%s-create", c.name), mustJSON(v1.ConversationCreatePayload{
		PeerEmail: peer.email,
		PeerName:  peer.fullName,
		First:     v1.MessageBody{Kind: "text", Text: text},
	}))
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	created := c.mustReadUntilType(parent, v1.TypeConversationCreated, stepTimeout)

	var p v1.ConversationCreatedPayload
	if err := json.Unmarshal(created.Payload, &p); err != nil {
		fatalf("unmarshal conversation_created payload (%s): %v", c.name, err)
	}
	if strings.TrimSpace(p.ConversationID) == "" {
		fatalf("conversation_created missing conversation_id (%s)", c.name)
	}
	return p.ConversationID
}

func mustSeeConversation(parent context.Context, c *smokeClient, convID, latest string, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)
	for {
		env := c.mustReadUntilType(parent, v1.TypeConversationsSnapshot, stepTimeout)
		var p v1.ConversationsSnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal conversations_snapshot (%s): %v", c.name, err)
		}
		for _, row := range p.Conversations {
			if row.ConversationID == convID && row.Latest.Content == latest {
				return
			}
		}
		if time.Now().After(deadline) {
			fatalf("conversation %s never appeared in %s's snapshot", convID, c.name)
		}
	}
}

func mustWatchMessages(parent context.Context, c *smokeClient, convID string, wantCount int, stepTimeout time.Duration) {
	env := newEnvelope(v1.TypeMessagesWatch, fmt.Sprintf("%s-mwatch", c.name), mustJSON(v1.MessagesWatchPayload{
		ConversationID: convID,
	}))
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	mustSeeMessageCount(parent, c, convID, wantCount, stepTimeout)
}

func mustSeeMessageCount(parent context.Context, c *smokeClient, convID string, wantCount int, stepTimeout time.Duration) {
	deadline := time.Now().Add(stepTimeout)
	for {
		env := c.mustReadUntilType(parent, v1.TypeMessagesSnapshot, stepTimeout)
		var p v1.MessagesSnapshotPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			fatalf("unmarshal messages_snapshot (%s): %v", c.name, err)
		}
		if p.ConversationID == convID && len(p.Messages) >= wantCount {
			return
		}
		if time.Now().After(deadline) {
			fatalf("%s: messages snapshot stuck below %d entries", c.name, wantCount)
		}
	}
}

func mustSendAndAssertAck(parent context.Context, c, peer *smokeClient, convID, text string, stepTimeout time.Duration) string {
	env := newEnvelope(v1.TypeMessageSend, fmt.Sprintf("%s-send", c.name), mustJSON(v1.MessageSendPayload{
		ConversationID: convID,
		PeerEmail:      peer.email,
		PeerName:       peer.fullName,
		Body:           v1.MessageBody{Kind: "text", Text: text},
	}))
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)

	ack := c.mustReadUntilType(parent, v1.TypeMessageAck, stepTimeout)

	var p v1.MessageAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal message_ack payload (%s): %v", c.name, err)
	}
	if p.ConversationID != convID {
		fatalf("ack conv_id mismatch (%s): got=%q want=%q", c.name, p.ConversationID, convID)
	}
	if strings.TrimSpace(p.MessageID) == "" {
		fatalf("ack missing message_id (%s)", c.name)
	}
	return p.MessageID
}

// ---- plumbing ----

func (c *smokeClient) mustReadUntilType(parent context.Context, typ string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("%s: timeout waiting for %s", c.name, typ)
		case err := <-c.errCh:
			fatalf("%s: read loop failed waiting for %s: %v", c.name, typ, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("%s: connection closed waiting for %s", c.name, typ)
			}
			if env.Type == v1.TypeError && typ != v1.TypeError {
				var p v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &p)
				fatalf("%s: server error waiting for %s: %s %s", c.name, typ, p.Code, p.Message)
			}
			if env.Type == typ {
				return env
			}
		}
	}
}

func newEnvelope(typ, id string, payload json.RawMessage) v1.Envelope {
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      time.Now().UTC(),
		Payload: payload,
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	data, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal %s: %v", env.Type, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		fatalf("write %s: %v", env.Type, err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal payload: %v", err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "smoke done")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "ws-smoke: "+format+"\n", args...)
	os.Exit(1)
}
