// Package chat implements Chord's conversation/message synchronization
// model: a user directory, a per-user conversation index with denormalized
// latest-message summaries, and a per-conversation append-only message log,
// all kept consistent over a tree.Store.
package chat

import (
	"fmt"
	"net/url"
	"sort"
	"time"

	"chord/internal/identity"
)

// DateLayout is the fixed wire format for message and summary dates.
// Dates are always rendered in UTC.
const DateLayout = "2006-01-02 15:04:05"

// Kind tags a message variant. The persistence boundary is exhaustive over
// {text, photo}; encoding any other kind is an explicit error.
type Kind string

const (
	KindText  Kind = "text"
	KindPhoto Kind = "photo"
)

// Message is the domain form of a message record.
type Message struct {
	ID          string
	SenderEmail string // safe form
	SenderName  string
	SentAt      time.Time
	Kind        Kind
	Text        string
	PhotoURL    *url.URL
}

// Content returns the stored content string for the message: literal text
// for text messages, the download URL for photo messages.
func (m Message) Content() (string, error) {
	switch m.Kind {
	case KindText:
		return m.Text, nil
	case KindPhoto:
		if m.PhotoURL == nil {
			return "", identity.OpError{Op: "chat.Content", Kind: identity.ErrInvalidInput, Msg: "photo message without url"}
		}
		return m.PhotoURL.String(), nil
	default:
		return "", identity.OpError{Op: "chat.Content", Kind: identity.ErrInvalidInput, Msg: fmt.Sprintf("unsupported kind %q", m.Kind)}
	}
}

// EncodeMessage renders the stored form of a message record.
func EncodeMessage(m Message) (map[string]any, error) {
	content, err := m.Content()
	if err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, identity.OpError{Op: "chat.EncodeMessage", Kind: identity.ErrInvalidInput, Msg: "missing message id"}
	}
	if m.SenderEmail == "" {
		return nil, identity.OpError{Op: "chat.EncodeMessage", Kind: identity.ErrInvalidInput, Msg: "missing sender"}
	}
	return map[string]any{
		"id":           m.ID,
		"type":         string(m.Kind),
		"content":      content,
		"date":         m.SentAt.UTC().Format(DateLayout),
		"sender_email": m.SenderEmail,
		"name":         m.SenderName,
		"is_read":      false,
	}, nil
}

// DecodeMessage decodes one raw record. The bool result is false for
// records that must be dropped: missing required fields, an unparseable
// date, or a malformed photo URL. "photo" maps to a Photo-kind message;
// every other stored type decodes as text.
func DecodeMessage(v any) (Message, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return Message{}, false
	}
	id, _ := raw["id"].(string)
	typ, _ := raw["type"].(string)
	content, _ := raw["content"].(string)
	date, _ := raw["date"].(string)
	sender, _ := raw["sender_email"].(string)
	name, _ := raw["name"].(string)
	if id == "" || typ == "" || date == "" || sender == "" {
		return Message{}, false
	}

	sentAt, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return Message{}, false
	}

	msg := Message{
		ID:          id,
		SenderEmail: sender,
		SenderName:  name,
		SentAt:      sentAt,
	}
	if typ == string(KindPhoto) {
		u, err := url.Parse(content)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Message{}, false
		}
		msg.Kind = KindPhoto
		msg.PhotoURL = u
		return msg, true
	}
	msg.Kind = KindText
	msg.Text = content
	return msg, true
}

// LatestMessage is the denormalized summary of a conversation's newest
// message, held by each participant's index entry.
type LatestMessage struct {
	Date    time.Time
	Message string
	IsRead  bool
}

// ConversationSummary is one participant's view of a conversation.
type ConversationSummary struct {
	ID        string
	PeerEmail string // safe form
	PeerName  string
	Latest    LatestMessage
}

func encodeLatest(l LatestMessage) map[string]any {
	return map[string]any{
		"date":    l.Date.UTC().Format(DateLayout),
		"message": l.Message,
		"is_read": l.IsRead,
	}
}

func encodeSummary(s ConversationSummary) map[string]any {
	return map[string]any{
		"id":               s.ID,
		"other_user_email": s.PeerEmail,
		"name":             s.PeerName,
		"latest_message":   encodeLatest(s.Latest),
	}
}

func decodeSummary(v any) (ConversationSummary, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		return ConversationSummary{}, false
	}
	id, _ := raw["id"].(string)
	peer, _ := raw["other_user_email"].(string)
	name, _ := raw["name"].(string)
	latestRaw, ok := raw["latest_message"].(map[string]any)
	if id == "" || peer == "" || !ok {
		return ConversationSummary{}, false
	}
	date, _ := latestRaw["date"].(string)
	msg, _ := latestRaw["message"].(string)
	isRead, _ := latestRaw["is_read"].(bool)

	at, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return ConversationSummary{}, false
	}
	return ConversationSummary{
		ID:        id,
		PeerEmail: peer,
		PeerName:  name,
		Latest:    LatestMessage{Date: at, Message: msg, IsRead: isRead},
	}, true
}

// decodeMessageLog decodes a message subtree (push-key keyed children) into
// messages ordered by key. Undecodable children are dropped silently.
func decodeMessageLog(v any) []Message {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]Message, 0, len(keys))
	for _, k := range keys {
		if m, ok := DecodeMessage(raw[k]); ok {
			out = append(out, m)
		}
	}
	return out
}

// decodeConversationIndex decodes a conversations subtree into summaries
// ordered newest-first by latest-message date. Undecodable entries are
// dropped silently.
func decodeConversationIndex(v any) []ConversationSummary {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make([]ConversationSummary, 0, len(raw))
	for _, e := range raw {
		if s, ok := decodeSummary(e); ok {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Latest.Date.Equal(out[j].Latest.Date) {
			return out[i].Latest.Date.After(out[j].Latest.Date)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
