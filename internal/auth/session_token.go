package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 10 * time.Minute

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingIssuer        = errors.New("auth: issuer required")
	ErrMissingUserID        = errors.New("auth: user id required")
	ErrTokenExpired         = errors.New("auth: token expired")
	ErrTokenMalformed       = errors.New("auth: token malformed")
)

// SessionClaims is the JWT payload carried by every session token. The
// max_score claim is a snapshot of the user's best score at issue time.
type SessionClaims struct {
	UserID      string  `json:"user_id"`
	DisplayName string  `json:"display_name"`
	BestScore   float64 `json:"max_score"`
	jwt.RegisteredClaims
}

// SessionAssertion is a verified, time-bounded identity claim decoded from a
// session token. It is never persisted.
type SessionAssertion struct {
	UserID      string
	DisplayName string
	BestScore   float64
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// TokenIssuerConfig configures the session token issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and verifies HS256 session tokens. Verification is a pure
// function of the token, the signing secret and the clock.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer with sane defaults.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		tokenTTL:      ttl,
		clock:         clock,
	}, nil
}

// Issue produces a signed session token embedding the user identity and best
// score snapshot, plus its lifetime in seconds.
func (i *TokenIssuer) Issue(userID, displayName string, bestScore float64) (string, int64, error) {
	if strings.TrimSpace(userID) == "" {
		return "", 0, ErrMissingUserID
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL)

	claims := SessionClaims{
		UserID:      userID,
		DisplayName: displayName,
		BestScore:   bestScore,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// Verify validates the supplied token string and returns the decoded session
// assertion. Expired tokens fail with ErrTokenExpired; any signature, encoding
// or algorithm problem fails with ErrTokenMalformed.
func (i *TokenIssuer) Verify(tokenString string) (SessionAssertion, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionAssertion{}, ErrTokenMalformed
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrTokenMalformed, t.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionAssertion{}, ErrTokenExpired
		}
		return SessionAssertion{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionAssertion{}, ErrTokenMalformed
	}
	if strings.TrimSpace(claims.UserID) == "" {
		return SessionAssertion{}, ErrTokenMalformed
	}

	assertion := SessionAssertion{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		BestScore:   claims.BestScore,
	}
	if claims.IssuedAt != nil {
		assertion.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		assertion.ExpiresAt = claims.ExpiresAt.Time
	}
	return assertion, nil
}
