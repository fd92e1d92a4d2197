// Package session implements the signed session context that carries a
// verified user/org identity across request boundaries. Handlers trust
// only identities recovered from a verified token, never loose request
// fields.
package session

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hublink/hublink/internal/flow"
)

// CookieName is the cookie the browser-side flow carries the session in.
const CookieName = "hublink_session"

// ErrInvalidSession covers every verification failure: bad signature,
// expired token, malformed claims.
var ErrInvalidSession = errors.New("session: invalid session token")

// NowTimeFunc returns the current time. It can be overridden in tests.
var NowTimeFunc = time.Now

// Manager mints and verifies HMAC-signed session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string, ttl time.Duration) *Manager {
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Issue creates a signed session token for identity.
func (m *Manager) Issue(identity flow.Identity) (string, error) {
	if !identity.Valid() {
		return "", fmt.Errorf("issue session: user and org ids are required")
	}

	now := NowTimeFunc()
	claims := jwtlib.MapClaims{
		"sub": identity.UserID,
		"org": identity.OrgID,
		"iat": now.Unix(),
		"exp": now.Add(m.ttl).Unix(),
		"jti": uuid.New().String(),
	}

	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and returns the identity
// it carries.
func (m *Manager) Verify(tokenString string) (flow.Identity, error) {
	token, err := jwtlib.Parse(tokenString, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwtlib.WithTimeFunc(func() time.Time { return NowTimeFunc() }))
	if err != nil {
		return flow.Identity{}, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return flow.Identity{}, ErrInvalidSession
	}

	userID, _ := claims["sub"].(string)
	orgID, _ := claims["org"].(string)

	identity := flow.Identity{UserID: userID, OrgID: orgID}
	if !identity.Valid() {
		return flow.Identity{}, fmt.Errorf("%w: missing identity claims", ErrInvalidSession)
	}
	return identity, nil
}
