package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hublink/hublink/internal/logger"
	"github.com/hublink/hublink/internal/store"
	"go.uber.org/zap"
)

// CredentialVault holds exchanged provider credentials between the
// callback and the browser-side fetch. Entries live at most one TTL and
// are consumed by their first successful read.
type CredentialVault struct {
	store store.Store
	ttl   time.Duration
}

func NewCredentialVault(s store.Store, ttl time.Duration) *CredentialVault {
	return &CredentialVault{store: s, ttl: ttl}
}

// Put stores the provider's token response verbatim for identity. The
// TTL bounds how long an unclaimed credential stays retrievable.
func (v *CredentialVault) Put(ctx context.Context, identity Identity, payload []byte) error {
	if err := v.store.Set(ctx, identity.CredentialKey(), payload, v.ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	logger.Debug("stored credential",
		zap.String("user_id", identity.UserID),
		zap.String("org_id", identity.OrgID),
	)
	return nil
}

// Take returns the stored credential for identity and removes it, so a
// second call observes nothing. An absent credential (flow not finished,
// already consumed, or expired) returns (nil, nil): the polling caller
// treats that as "not ready", not as a failure.
func (v *CredentialVault) Take(ctx context.Context, identity Identity) ([]byte, error) {
	payload, err := v.store.GetDelete(ctx, identity.CredentialKey())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return payload, nil
}

// Ready reports whether a credential is currently stored for identity
// without consuming it.
func (v *CredentialVault) Ready(ctx context.Context, identity Identity) (bool, error) {
	_, err := v.store.Get(ctx, identity.CredentialKey())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return true, nil
}
