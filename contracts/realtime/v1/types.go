// Package v1 defines the Chord Realtime Protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Type constants (wire-stable).
const (
	// TypeHello starts a session handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges the session handshake (server -> client).
	TypeHelloAck = "hello_ack"

	// TypeConversationCreate opens a conversation with a peer by sending its
	// first message (client -> server).
	TypeConversationCreate = "conversation_create"
	// TypeConversationCreated acknowledges conversation creation (server -> client).
	TypeConversationCreated = "conversation_created"

	// TypeMessageSend appends a message to an existing conversation (client -> server).
	TypeMessageSend = "message_send"
	// TypeMessageAck acknowledges an append (server -> client).
	TypeMessageAck = "message_ack"

	// TypeConversationsWatch subscribes to the caller's conversation list (client -> server).
	TypeConversationsWatch = "conversations_watch"
	// TypeConversationsSnapshot delivers the current conversation list
	// (server -> client, repeated as the list changes).
	TypeConversationsSnapshot = "conversations_snapshot"

	// TypeMessagesWatch subscribes to one conversation's message log (client -> server).
	TypeMessagesWatch = "messages_watch"
	// TypeMessagesSnapshot delivers the current message log
	// (server -> client, repeated as the log changes).
	TypeMessagesSnapshot = "messages_snapshot"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}

	switch e.Type {
	case TypeHello,
		TypeHelloAck,
		TypeConversationCreate,
		TypeConversationCreated,
		TypeMessageSend,
		TypeMessageAck,
		TypeConversationsWatch,
		TypeConversationsSnapshot,
		TypeMessagesWatch,
		TypeMessagesSnapshot,
		TypeError:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloPayload authenticates the session with a bearer access token.
type HelloPayload struct {
	Token string `json:"token"`
}

// HelloAckPayload confirms the authenticated identity.
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// MessageBody is the client-supplied content of a message. Exactly one of
// Text or PhotoURL is set, matching Kind.
type MessageBody struct {
	Kind     string `json:"kind"` // "text" or "photo"
	Text     string `json:"text,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// ConversationCreatePayload opens a conversation with the peer, seeded with
// the first message.
type ConversationCreatePayload struct {
	PeerEmail string      `json:"peer_email"`
	PeerName  string      `json:"peer_name"`
	First     MessageBody `json:"first"`
}

// ConversationCreatedPayload returns the canonical conversation id.
type ConversationCreatedPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// MessageSendPayload appends a message to an existing conversation. PeerEmail
// identifies whose summary mirrors the new latest message.
type MessageSendPayload struct {
	ConversationID string      `json:"conversation_id"`
	PeerEmail      string      `json:"peer_email"`
	PeerName       string      `json:"peer_name"`
	Body           MessageBody `json:"body"`
}

// MessageAckPayload acknowledges an append with the server-assigned id.
type MessageAckPayload struct {
	ConversationID string `json:"conversation_id"`
	MessageID      string `json:"message_id"`
}

// ConversationsWatchPayload subscribes to the caller's conversation list.
type ConversationsWatchPayload struct{}

// LatestMessage is the denormalized newest-message summary of a conversation.
type LatestMessage struct {
	Content string    `json:"content"`
	Date    time.Time `json:"date"`
	IsRead  bool      `json:"is_read"`
}

// ConversationSummary is one row of the conversation list, ordered
// newest-first by the latest message.
type ConversationSummary struct {
	ConversationID string        `json:"conversation_id"`
	PeerEmail      string        `json:"peer_email"`
	PeerName       string        `json:"peer_name"`
	Latest         LatestMessage `json:"latest"`
}

// ConversationsSnapshotPayload is the full current conversation list.
type ConversationsSnapshotPayload struct {
	Conversations []ConversationSummary `json:"conversations"`
}

// MessagesWatchPayload subscribes to one conversation's message log.
type MessagesWatchPayload struct {
	ConversationID string `json:"conversation_id"`
}

// Message is one log entry in send order.
type Message struct {
	ID          string    `json:"id"`
	SenderEmail string    `json:"sender_email"`
	SenderName  string    `json:"sender_name"`
	Kind        string    `json:"kind"`
	Text        string    `json:"text,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// MessagesSnapshotPayload is the full current log for one conversation.
type MessagesSnapshotPayload struct {
	ConversationID string    `json:"conversation_id"`
	Messages       []Message `json:"messages"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
