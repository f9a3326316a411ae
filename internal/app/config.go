package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// If true, /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	TokenIssuer       string
	TokenTTL          time.Duration
	TokenClockSkew    time.Duration
	TokenSecretKeyHex string

	// BlobDir selects the filesystem blob store; empty means in-memory.
	BlobDir     string
	BlobBaseURL string
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("CHORD_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("CHORD_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("CHORD_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("CHORD_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("CHORD_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("CHORD_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("CHORD_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("CHORD_DATABASE_URL", ""),
		DBSchema:    EnvString("CHORD_DB_SCHEMA", "chord"),
		DBMaxConns:  EnvInt32("CHORD_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("CHORD_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("CHORD_READINESS_REQUIRE_DB", false),

		TokenIssuer:       EnvString("CHORD_TOKEN_ISSUER", "chord"),
		TokenTTL:          EnvDuration("CHORD_TOKEN_TTL", 24*time.Hour),
		TokenClockSkew:    EnvDuration("CHORD_TOKEN_CLOCK_SKEW", 30*time.Second),
		TokenSecretKeyHex: EnvString("CHORD_TOKEN_SECRET_KEY_HEX", ""),

		BlobDir:     EnvString("CHORD_BLOB_DIR", ""),
		BlobBaseURL: EnvString("CHORD_BLOB_BASE_URL", "/blobs"),
	}
}
