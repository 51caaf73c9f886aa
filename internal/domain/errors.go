// internal/domain/errors.go
package domain

import "errors"

var (
	// ErrLedgerUnavailable wraps RPC and network failures from the chain client.
	ErrLedgerUnavailable = errors.New("ledger network unavailable")

	// ErrSigningUnavailable is returned when no signing key is configured.
	ErrSigningUnavailable = errors.New("signing key not configured")

	// ErrStoreUnavailable wraps connection, auth and query failures from the
	// durable store.
	ErrStoreUnavailable = errors.New("durable store unavailable")

	// ErrDuplicateHash marks an insert that lost to an earlier write on the
	// same hash. Idempotent: never surfaced to write callers.
	ErrDuplicateHash = errors.New("transaction hash already recorded")

	// ErrInvalidPayment is the only hard failure a write caller can see.
	ErrInvalidPayment = errors.New("invalid payment")
)
