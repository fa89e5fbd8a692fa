package vision

import "errors"

// Error taxonomy for routing. Tier failures are recoverable and absorbed
// into escalation decisions; store failures are fatal for the URL being
// processed and must never be papered over as "no change".
var (
	// ErrTierUnavailable marks an adapter failure that is distinct from a
	// low-quality-but-successful read: missing credentials, network error,
	// model not loaded, or a timed-out attempt.
	ErrTierUnavailable = errors.New("extraction tier unavailable")

	// ErrStoreRead wraps fingerprint lookup failures.
	ErrStoreRead = errors.New("fingerprint store read failed")

	// ErrStoreWrite wraps fingerprint, escalation and summary write failures.
	ErrStoreWrite = errors.New("fingerprint store write failed")

	// ErrInvalidInput rejects a malformed URL or empty image before any
	// tier runs. No store mutation happens for invalid input.
	ErrInvalidInput = errors.New("invalid router input")
)
