package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"chord/internal/identity"
	"chord/internal/identity/ids"
	"chord/internal/tree"
)

const conversationPrefix = "conversation_"

// Session is the explicit caller identity passed into every messenger
// operation. There is no global current-user state.
type Session struct {
	Email       string
	DisplayName string
}

// SafeEmail returns the storage key form of the session email.
func (s Session) SafeEmail() string { return identity.SafeEmail(s.Email) }

// Messenger orchestrates conversation creation, message appends, and the
// decoded read views over the tree store.
//
// Write-path guarantees:
//   - CreateConversation commits both participants' index entries and the
//     first log record in one atomic Update.
//   - AppendMessage commits the new log child and both latest_message
//     summaries in one atomic Update, so the two participants' views can
//     never desynchronize on a crash.
//   - The message log is keyed by ULID push keys; concurrent appends both
//     survive (no read-modify-write of the whole log).
type Messenger struct {
	log   *slog.Logger
	store tree.Store
	now   func() time.Time
}

// NewMessenger constructs a Messenger over the given tree store.
func NewMessenger(log *slog.Logger, store tree.Store) *Messenger {
	return &Messenger{log: log, store: store, now: func() time.Time { return time.Now().UTC() }}
}

func conversationLogPath(conversationID string) string {
	return tree.Join(conversationID, "messages")
}

func indexEntryPath(safeEmail, conversationID string) string {
	return tree.Join(safeEmail, "conversations", conversationID)
}

// CreateConversation creates a new conversation with peerEmail carrying
// first as its only message, and returns the conversation id
// ("conversation_" + first message id; message ids are ULIDs, so ids do
// not collide). It fails with an ErrNotFound kind when the caller's
// subtree is absent.
func (m *Messenger) CreateConversation(ctx context.Context, sess Session, peerEmail, peerName string, first Message) (string, error) {
	const op = "chat.Messenger.CreateConversation"

	me := sess.SafeEmail()
	peer := identity.SafeEmail(peerEmail)

	if _, err := m.store.Get(ctx, me); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return "", identity.OpError{Op: op, Kind: identity.ErrNotFound, Msg: "user node absent"}
		}
		return "", identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}

	first.SenderEmail = me
	first.SenderName = sess.DisplayName
	if first.SentAt.IsZero() {
		first.SentAt = m.now()
	}
	if first.ID == "" {
		id, err := ids.NewULID(first.SentAt)
		if err != nil {
			return "", identity.OpError{Op: op, Kind: identity.ErrWrite, Msg: err.Error()}
		}
		first.ID = id
	}

	record, err := EncodeMessage(first)
	if err != nil {
		return "", err
	}
	content, err := first.Content()
	if err != nil {
		return "", err
	}

	conversationID := conversationPrefix + first.ID

	// A colliding id must not silently alias two conversations.
	if _, err := m.store.Get(ctx, conversationLogPath(conversationID)); err == nil {
		return "", identity.OpError{Op: op, Kind: identity.ErrWrite, Msg: "conversation id already exists"}
	} else if !errors.Is(err, tree.ErrNotFound) {
		return "", identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}

	latest := LatestMessage{Date: first.SentAt, Message: content, IsRead: false}
	mine := ConversationSummary{ID: conversationID, PeerEmail: peer, PeerName: peerName, Latest: latest}
	theirs := ConversationSummary{ID: conversationID, PeerEmail: me, PeerName: sess.DisplayName, Latest: latest}

	err = m.store.Update(ctx, map[string]tree.Value{
		indexEntryPath(me, conversationID):   encodeSummary(mine),
		indexEntryPath(peer, conversationID): encodeSummary(theirs),
		tree.Join(conversationLogPath(conversationID), first.ID): record,
	})
	if err != nil {
		return "", identity.OpError{Op: op, Kind: identity.ErrWrite, Msg: err.Error()}
	}

	m.log.Info("messenger.conversation.create",
		"conversation_id", conversationID, "from", me, "to", peer)
	return conversationID, nil
}

// AppendMessage appends msg to an existing conversation and updates both
// participants' latest_message summaries in the same commit. The
// conversation log and both index entries must already exist; there is no
// implicit creation.
func (m *Messenger) AppendMessage(ctx context.Context, sess Session, conversationID, peerEmail, peerName string, msg Message) error {
	const op = "chat.Messenger.AppendMessage"

	me := sess.SafeEmail()
	peer := identity.SafeEmail(peerEmail)

	if _, err := m.store.Get(ctx, conversationLogPath(conversationID)); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return identity.OpError{Op: op, Kind: identity.ErrNotFound, Msg: "conversation absent"}
		}
		return identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}
	for _, owner := range []string{me, peer} {
		if _, err := m.store.Get(ctx, indexEntryPath(owner, conversationID)); err != nil {
			if errors.Is(err, tree.ErrNotFound) {
				return identity.OpError{Op: op, Kind: identity.ErrNotFound, Msg: "index entry absent for " + owner}
			}
			return identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
		}
	}

	msg.SenderEmail = me
	msg.SenderName = sess.DisplayName
	if msg.SentAt.IsZero() {
		msg.SentAt = m.now()
	}
	if msg.ID == "" {
		id, err := ids.NewULID(msg.SentAt)
		if err != nil {
			return identity.OpError{Op: op, Kind: identity.ErrWrite, Msg: err.Error()}
		}
		msg.ID = id
	}

	record, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	content, err := msg.Content()
	if err != nil {
		return err
	}
	latest := encodeLatest(LatestMessage{Date: msg.SentAt, Message: content, IsRead: false})

	err = m.store.Update(ctx, map[string]tree.Value{
		tree.Join(conversationLogPath(conversationID), msg.ID):            record,
		tree.Join(indexEntryPath(me, conversationID), "latest_message"):   latest,
		tree.Join(indexEntryPath(peer, conversationID), "latest_message"): latest,
	})
	if err != nil {
		return identity.OpError{Op: op, Kind: identity.ErrWrite, Msg: err.Error()}
	}

	m.log.Info("messenger.message.append",
		"conversation_id", conversationID, "message_id", msg.ID, "from", me)
	return nil
}

// ParticipatesIn reports whether email holds an index entry for the
// conversation. Read subscriptions must not be handed out for
// conversations the caller is not a participant of.
func (m *Messenger) ParticipatesIn(ctx context.Context, email, conversationID string) (bool, error) {
	const op = "chat.Messenger.ParticipatesIn"

	_, err := m.store.Get(ctx, indexEntryPath(identity.SafeEmail(email), conversationID))
	if errors.Is(err, tree.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}
	return true, nil
}

// ListConversations returns the caller's decoded conversation index,
// newest first. It fails with an ErrFetch kind only when the whole
// subtree is absent; malformed entries are dropped silently.
func (m *Messenger) ListConversations(ctx context.Context, email string) ([]ConversationSummary, error) {
	const op = "chat.Messenger.ListConversations"

	v, err := m.store.Get(ctx, tree.Join(identity.SafeEmail(email), "conversations"))
	if err != nil {
		return nil, identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}
	return decodeConversationIndex(v), nil
}

// WatchConversations is the continuous form of ListConversations. The
// channel delivers a decoded snapshot per index commit and closes when ctx
// is done. An absent subtree is observed as an empty snapshot.
func (m *Messenger) WatchConversations(ctx context.Context, email string) (<-chan []ConversationSummary, error) {
	in, err := m.store.Watch(ctx, tree.Join(identity.SafeEmail(email), "conversations"))
	if err != nil {
		return nil, identity.OpError{Op: "chat.Messenger.WatchConversations", Kind: identity.ErrFetch, Msg: err.Error()}
	}

	out := make(chan []ConversationSummary, 4)
	go func() {
		defer close(out)
		for v := range in {
			forwardSnapshot(out, decodeConversationIndex(v))
		}
	}()
	return out, nil
}

// ListMessages returns the decoded message log ordered by push key. It
// fails with an ErrFetch kind only when the whole subtree is absent;
// undecodable records are dropped silently.
func (m *Messenger) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	const op = "chat.Messenger.ListMessages"

	v, err := m.store.Get(ctx, conversationLogPath(conversationID))
	if err != nil {
		return nil, identity.OpError{Op: op, Kind: identity.ErrFetch, Msg: err.Error()}
	}
	return decodeMessageLog(v), nil
}

// WatchMessages is the continuous form of ListMessages.
func (m *Messenger) WatchMessages(ctx context.Context, conversationID string) (<-chan []Message, error) {
	in, err := m.store.Watch(ctx, conversationLogPath(conversationID))
	if err != nil {
		return nil, identity.OpError{Op: "chat.Messenger.WatchMessages", Kind: identity.ErrFetch, Msg: err.Error()}
	}

	out := make(chan []Message, 4)
	go func() {
		defer close(out)
		for v := range in {
			forwardSnapshot(out, decodeMessageLog(v))
		}
	}()
	return out, nil
}

// forwardSnapshot pushes a decoded snapshot without blocking the decode
// loop: under backpressure the oldest pending snapshot is discarded.
func forwardSnapshot[T any](ch chan []T, snap []T) {
	for {
		select {
		case ch <- snap:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
