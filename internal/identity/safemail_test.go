package identity

import (
	"strings"
	"testing"
)

func TestSafeEmail(t *testing.T) {
	cases := map[string]string{
		"a@x.com":           "a-x-com",
		"john.doe@mail.org": "john-doe-mail-org",
		"already-safe":      "already-safe",
		"":                  "",
		"weird..@@.addr":    "weird-----addr",
	}
	for in, want := range cases {
		if got := SafeEmail(in); got != want {
			t.Fatalf("SafeEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSafeEmail_NoForbiddenChars(t *testing.T) {
	for _, in := range []string{"a@x.com", "b.c.d@e.f", "x@y@z"} {
		got := SafeEmail(in)
		if strings.ContainsAny(got, ".@") {
			t.Fatalf("SafeEmail(%q) = %q still contains '.' or '@'", in, got)
		}
	}
}

func TestSafeEmail_Idempotent(t *testing.T) {
	once := SafeEmail("jane.roe@example.com")
	if twice := SafeEmail(once); twice != once {
		t.Fatalf("second pass changed key: %q -> %q", once, twice)
	}
}

func TestProfilePictureKey(t *testing.T) {
	if got := ProfilePictureKey("a@x.com"); got != "a-x-com_profile_picture.png" {
		t.Fatalf("unexpected key: %q", got)
	}
}
