package pool

import "errors"

var (
	// ErrAcquireTimeout is returned when a queued Acquire exceeds the
	// configured acquire timeout. Callers may retry.
	ErrAcquireTimeout = errors.New("pool: acquire timed out")

	// ErrPoolClosed is returned for any operation on a closed pool and
	// to waiters pending when Close is called. Not retryable.
	ErrPoolClosed = errors.New("pool: closed")

	// ErrNotInitialized is returned by Default before Init has run.
	ErrNotInitialized = errors.New("pool: not initialized")

	// ErrConnNotOwned is returned when releasing a connection that does
	// not belong to this pool, or that was already released.
	ErrConnNotOwned = errors.New("pool: connection not owned by pool or already released")
)
