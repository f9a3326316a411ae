package auth

import (
	"errors"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenConfig  = errors.New("invalid token config")
)

// Claims is the identity envelope carried by an access token.
type Claims struct {
	Email       string
	DisplayName string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Issuer      string
}

// TokenConfig configures the token manager. SecretKeyHex is an Ed25519
// asymmetric secret key in hex; empty means generate an ephemeral keypair
// (tokens won't survive a restart).
type TokenConfig struct {
	Issuer       string
	TTL          time.Duration
	ClockSkew    time.Duration
	SecretKeyHex string
}

// TokenManager issues and verifies PASETO v4.public access tokens.
type TokenManager struct {
	issuer    string
	ttl       time.Duration
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

func NewTokenManager(cfg TokenConfig) (*TokenManager, error) {
	if cfg.Issuer == "" || cfg.TTL <= 0 {
		return nil, ErrTokenConfig
	}

	var secret paseto.V4AsymmetricSecretKey
	if cfg.SecretKeyHex == "" {
		secret = paseto.NewV4AsymmetricSecretKey()
	} else {
		var err error
		secret, err = paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex)
		if err != nil {
			return nil, ErrTokenConfig
		}
	}

	return &TokenManager{
		issuer:    cfg.Issuer,
		ttl:       cfg.TTL,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (m *TokenManager) PublicKeyHex() string {
	return m.public.ExportHex()
}

// Issue signs a token binding the account email and display name.
func (m *TokenManager) Issue(email, displayName string, now time.Time) (string, time.Time, error) {
	if email == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	exp := now.Add(m.ttl)

	tok := paseto.NewToken()
	tok.SetIssuer(m.issuer)
	tok.SetIssuedAt(now)
	tok.SetNotBefore(now)
	tok.SetExpiration(exp)
	_ = tok.Set("email", email)
	_ = tok.Set("name", displayName)

	return tok.V4Sign(m.secret, nil), exp, nil
}

// Verify checks the signature, issuer and expiry, tolerating small clock
// differences, and returns the claims.
func (m *TokenManager) Verify(token string, now time.Time) (Claims, error) {
	// Validating slightly in the future avoids failing "nbf" when clocks
	// differ, and makes the expiry check slightly stricter.
	validNow := now.Add(m.clockSkew)

	p := paseto.NewParser()
	p.AddRule(paseto.IssuedBy(m.issuer))
	p.AddRule(paseto.NotExpired())
	p.AddRule(paseto.ValidAt(validNow))

	parsed, err := p.ParseV4Public(m.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	email, err := parsed.GetString("email")
	if err != nil || email == "" {
		return Claims{}, ErrInvalidToken
	}
	name, _ := parsed.GetString("name")

	iss, _ := parsed.GetIssuer()
	exp, _ := parsed.GetExpiration()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		Email:       email,
		DisplayName: name,
		IssuedAt:    iat,
		ExpiresAt:   exp,
		Issuer:      iss,
	}, nil
}
