package flow

import "errors"

var (
	// ErrStateNotFound means no pending state exists for the identity:
	// never issued, expired, or already consumed.
	ErrStateNotFound = errors.New("flow: state not found")

	// ErrStateMismatch means the presented state does not equal the
	// stored record: wrong token or wrong embedded identity. Handlers
	// must surface this identically to ErrStateNotFound so callers
	// cannot distinguish the two failure modes.
	ErrStateMismatch = errors.New("flow: state mismatch")

	// ErrBadState means the presented state value could not be decoded
	// at all.
	ErrBadState = errors.New("flow: malformed state")

	// ErrStorageUnavailable wraps store failures other than a missing key.
	ErrStorageUnavailable = errors.New("flow: storage unavailable")
)

// IsInvalidState reports whether err is any of the state validation
// failures that collapse to a single externally visible invalid_state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrStateNotFound) ||
		errors.Is(err, ErrStateMismatch) ||
		errors.Is(err, ErrBadState)
}
