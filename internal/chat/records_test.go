package chat

import (
	"net/url"
	"testing"
	"time"
)

func TestEncodeDecodeText_RoundTrip(t *testing.T) {
	t.Parallel()

	in := Message{
		ID:          "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		SenderEmail: "a-x-com",
		SenderName:  "Ada Lovelace",
		SentAt:      time.Date(2026, 2, 3, 9, 30, 15, 0, time.UTC),
		Kind:        KindText,
		Text:        "hi",
	}
	raw, err := EncodeMessage(in)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if raw["date"] != "2026-02-03 09:30:15" {
		t.Fatalf("unexpected date encoding: %v", raw["date"])
	}

	out, ok := DecodeMessage(raw)
	if !ok {
		t.Fatal("DecodeMessage dropped a valid record")
	}
	if out.Kind != KindText || out.Text != "hi" {
		t.Fatalf("text round trip mismatch: %+v", out)
	}
	if !out.SentAt.Equal(in.SentAt) {
		t.Fatalf("sent_at mismatch: %v != %v", out.SentAt, in.SentAt)
	}
}

func TestEncodeDecodePhoto_RoundTrip(t *testing.T) {
	t.Parallel()

	u, _ := url.Parse("https://blobs.example.com/c1/photo.png")
	in := Message{
		ID:          "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		SenderEmail: "a-x-com",
		SentAt:      time.Date(2026, 2, 3, 9, 30, 15, 0, time.UTC),
		Kind:        KindPhoto,
		PhotoURL:    u,
	}
	raw, err := EncodeMessage(in)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}
	if raw["type"] != "photo" || raw["content"] != u.String() {
		t.Fatalf("unexpected photo encoding: %v", raw)
	}

	out, ok := DecodeMessage(raw)
	if !ok {
		t.Fatal("DecodeMessage dropped a valid photo record")
	}
	if out.Kind != KindPhoto || out.PhotoURL.String() != u.String() {
		t.Fatalf("photo round trip mismatch: %+v", out)
	}
}

func TestEncodeMessage_RejectsUnsupportedKind(t *testing.T) {
	t.Parallel()

	_, err := EncodeMessage(Message{
		ID:          "x",
		SenderEmail: "a-x-com",
		SentAt:      time.Now(),
		Kind:        Kind("video"),
	})
	if err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestDecodeMessage_DropsBadRecords(t *testing.T) {
	t.Parallel()

	base := func() map[string]any {
		return map[string]any{
			"id":           "m1",
			"type":         "text",
			"content":      "hi",
			"date":         "2026-02-03 09:30:15",
			"sender_email": "a-x-com",
			"name":         "Ada",
			"is_read":      false,
		}
	}

	if _, ok := DecodeMessage(base()); !ok {
		t.Fatal("baseline record must decode")
	}

	bad := base()
	bad["date"] = "03/02/2026 09:30"
	if _, ok := DecodeMessage(bad); ok {
		t.Fatal("record with unparseable date must be dropped")
	}

	bad = base()
	delete(bad, "sender_email")
	if _, ok := DecodeMessage(bad); ok {
		t.Fatal("record without sender must be dropped")
	}

	bad = base()
	bad["type"] = "photo"
	bad["content"] = "not a url"
	if _, ok := DecodeMessage(bad); ok {
		t.Fatal("photo record with malformed url must be dropped")
	}

	if _, ok := DecodeMessage("not a map"); ok {
		t.Fatal("non-map value must be dropped")
	}
}

func TestDecodeMessage_UnknownStoredTypeDecodesAsText(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"id":           "m1",
		"type":         "attributed_text",
		"content":      "styled",
		"date":         "2026-02-03 09:30:15",
		"sender_email": "a-x-com",
	}
	out, ok := DecodeMessage(raw)
	if !ok {
		t.Fatal("record dropped")
	}
	if out.Kind != KindText || out.Text != "styled" {
		t.Fatalf("expected text fallback, got %+v", out)
	}
}

func TestDecodeConversationIndex_OrderAndDrops(t *testing.T) {
	t.Parallel()

	idx := map[string]any{
		"conversation_a": map[string]any{
			"id":               "conversation_a",
			"other_user_email": "b-y-com",
			"name":             "Bob",
			"latest_message": map[string]any{
				"date":    "2026-02-03 09:00:00",
				"message": "older",
				"is_read": true,
			},
		},
		"conversation_b": map[string]any{
			"id":               "conversation_b",
			"other_user_email": "c-z-com",
			"name":             "Cleo",
			"latest_message": map[string]any{
				"date":    "2026-02-03 10:00:00",
				"message": "newer",
				"is_read": false,
			},
		},
		"broken": map[string]any{"id": "broken"},
	}

	out := decodeConversationIndex(idx)
	if len(out) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(out))
	}
	if out[0].ID != "conversation_b" || out[1].ID != "conversation_a" {
		t.Fatalf("expected newest-first ordering, got %v then %v", out[0].ID, out[1].ID)
	}
	if out[0].Latest.Message != "newer" || out[0].Latest.IsRead {
		t.Fatalf("latest decode mismatch: %+v", out[0].Latest)
	}
}
