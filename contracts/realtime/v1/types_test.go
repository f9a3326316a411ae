package v1

import (
	"testing"
	"time"
)

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	ok := Envelope{V: Version, Type: TypeHello, TS: time.Now()}
	if err := ok.Validate(); err != nil {
		t.Fatalf("valid envelope rejected: %v", err)
	}

	cases := []struct {
		name string
		env  Envelope
	}{
		{"missing v", Envelope{Type: TypeHello}},
		{"wrong version", Envelope{V: "v2", Type: TypeHello}},
		{"missing type", Envelope{V: Version}},
		{"unknown type", Envelope{V: Version, Type: "presence_update"}},
	}
	for _, tc := range cases {
		if err := tc.env.Validate(); err == nil {
			t.Fatalf("%s: Validate accepted", tc.name)
		}
	}
}

func TestAllTypesValidate(t *testing.T) {
	t.Parallel()

	types := []string{
		TypeHello, TypeHelloAck,
		TypeConversationCreate, TypeConversationCreated,
		TypeMessageSend, TypeMessageAck,
		TypeConversationsWatch, TypeConversationsSnapshot,
		TypeMessagesWatch, TypeMessagesSnapshot,
		TypeError,
	}
	for _, typ := range types {
		env := Envelope{V: Version, Type: typ}
		if err := env.Validate(); err != nil {
			t.Fatalf("type %q rejected: %v", typ, err)
		}
	}
}
