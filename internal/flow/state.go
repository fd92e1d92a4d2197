package flow

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hublink/hublink/internal/logger"
	"github.com/hublink/hublink/internal/store"
	"go.uber.org/zap"
)

// stateTokenBytes is the entropy of a state token. 32 bytes, well above
// the 128-bit minimum for an unguessable correlation value.
const stateTokenBytes = 32

// StatePayload binds a random token to the identity it was issued for.
// It is both the stored record and, base64url-encoded, the value carried
// through the provider redirect's state query parameter.
type StatePayload struct {
	Token  string `json:"state"`
	UserID string `json:"user_id"`
	OrgID  string `json:"org_id"`
}

// Identity returns the identity embedded in the payload.
func (p StatePayload) Identity() Identity {
	return Identity{UserID: p.UserID, OrgID: p.OrgID}
}

// Encode serializes the payload for use as a state query parameter.
func (p StatePayload) Encode() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeState parses a state value presented on a callback.
func DecodeState(encoded string) (StatePayload, error) {
	data, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return StatePayload{}, fmt.Errorf("%w: %v", ErrBadState, err)
	}

	var payload StatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return StatePayload{}, fmt.Errorf("%w: %v", ErrBadState, err)
	}
	if payload.Token == "" || !payload.Identity().Valid() {
		return StatePayload{}, fmt.Errorf("%w: missing fields", ErrBadState)
	}
	return payload, nil
}

// StateManager issues and validates the single-use state tokens that
// correlate an authorization attempt with its callback.
type StateManager struct {
	store store.Store
	ttl   time.Duration
}

// NewStateManager creates a state manager writing entries with the given
// TTL. An abandoned flow expires on its own; no explicit cleanup runs.
func NewStateManager(s store.Store, ttl time.Duration) *StateManager {
	return &StateManager{store: s, ttl: ttl}
}

// Issue generates a fresh state token for identity, persists it under
// the identity's state key, and returns the encoded wire form. Any prior
// pending state for the identity is overwritten: the earlier attempt's
// callback will fail validation.
func (m *StateManager) Issue(ctx context.Context, identity Identity) (string, error) {
	if !identity.Valid() {
		return "", fmt.Errorf("issue state: user and org ids are required")
	}

	raw := make([]byte, stateTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("issue state: %w", err)
	}

	payload := StatePayload{
		Token:  base64.RawURLEncoding.EncodeToString(raw),
		UserID: identity.UserID,
		OrgID:  identity.OrgID,
	}

	record, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("issue state: %w", err)
	}

	if err := m.store.Set(ctx, identity.StateKey(), record, m.ttl); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	logger.Debug("issued flow state",
		zap.String("user_id", identity.UserID),
		zap.String("org_id", identity.OrgID),
	)

	return payload.Encode()
}

// Validate checks a presented state value against the pending record for
// identity and consumes the record. The read-and-delete is atomic, so of
// two concurrent callbacks presenting the same state exactly one
// validates; the other sees ErrStateNotFound. A replay after success
// fails the same way.
func (m *StateManager) Validate(ctx context.Context, identity Identity, presented string) error {
	payload, err := DecodeState(presented)
	if err != nil {
		return err
	}

	stored, err := m.store.GetDelete(ctx, identity.StateKey())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrStateNotFound
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	var record StatePayload
	if err := json.Unmarshal(stored, &record); err != nil {
		return fmt.Errorf("%w: corrupt record: %v", ErrStateMismatch, err)
	}

	// The presented payload must carry the same identity the record was
	// issued for; a valid token scoped to some other user/org is a
	// replay signal, not a match.
	if record.Identity() != payload.Identity() || record.Identity() != identity {
		return ErrStateMismatch
	}
	if subtle.ConstantTimeCompare([]byte(record.Token), []byte(payload.Token)) != 1 {
		return ErrStateMismatch
	}

	return nil
}
