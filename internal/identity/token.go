package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AttemptClaims binds a client namespace (ID) to a test (Subject).
type AttemptClaims struct {
	jwt.RegisteredClaims
}

// ClientID returns the namespace the token selects.
func (c *AttemptClaims) ClientID() string { return c.ID }

// TestID returns the test the token was issued for.
func (c *AttemptClaims) TestID() string { return c.Subject }

// Tokens signs and validates attempt tokens. A token only selects the client
// namespace; admission is always decided by Gate.Admit.
type Tokens struct {
	secret []byte
	expiry time.Duration
}

func NewTokens(secret string, expiry time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), expiry: expiry}
}

// NewClientID returns a fresh client namespace id.
func NewClientID() string {
	return uuid.New().String()
}

// Issue signs a token for clientID and testID, returning it with its expiry.
func (t *Tokens) Issue(clientID, testID string, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(t.expiry)
	claims := AttemptClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        clientID,
			Subject:   testID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses tokenStr and checks it was issued for testID.
func (t *Tokens) Validate(tokenStr, testID string) (*AttemptClaims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &AttemptClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*AttemptClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ID == "" {
		return nil, errors.New("token carries no client id")
	}
	if claims.Subject != testID {
		return nil, fmt.Errorf("token issued for test %q", claims.Subject)
	}
	return claims, nil
}
