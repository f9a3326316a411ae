package app

import (
	"testing"
	"time"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CHORD_TEST_STR", " hello ")
	t.Setenv("CHORD_TEST_BOOL", "true")
	t.Setenv("CHORD_TEST_INT", "42")
	t.Setenv("CHORD_TEST_INT_BAD", "-3")
	t.Setenv("CHORD_TEST_DUR", "250ms")
	t.Setenv("CHORD_TEST_DUR_BAD", "nope")

	if got := EnvString("CHORD_TEST_STR", "def"); got != "hello" {
		t.Fatalf("EnvString = %q", got)
	}
	if got := EnvString("CHORD_TEST_MISSING", "def"); got != "def" {
		t.Fatalf("EnvString default = %q", got)
	}
	if !EnvBool("CHORD_TEST_BOOL", false) {
		t.Fatal("EnvBool = false")
	}
	if got := EnvInt("CHORD_TEST_INT", 1); got != 42 {
		t.Fatalf("EnvInt = %d", got)
	}
	if got := EnvInt("CHORD_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("EnvInt negative = %d", got)
	}
	if got := EnvDuration("CHORD_TEST_DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("EnvDuration = %v", got)
	}
	if got := EnvDuration("CHORD_TEST_DUR_BAD", time.Second); got != time.Second {
		t.Fatalf("EnvDuration bad = %v", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DBSchema != "chord" {
		t.Fatalf("DBSchema = %q", cfg.DBSchema)
	}
	if cfg.TokenTTL != 24*time.Hour {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
	if cfg.BlobBaseURL != "/blobs" {
		t.Fatalf("BlobBaseURL = %q", cfg.BlobBaseURL)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("CHORD_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("CHORD_DB_SCHEMA", "chord_staging")
	t.Setenv("CHORD_TOKEN_TTL", "1h")

	cfg := LoadConfig()
	if cfg.HTTPAddr != "127.0.0.1:9999" {
		t.Fatalf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.DBSchema != "chord_staging" {
		t.Fatalf("DBSchema = %q", cfg.DBSchema)
	}
	if cfg.TokenTTL != time.Hour {
		t.Fatalf("TokenTTL = %v", cfg.TokenTTL)
	}
}
