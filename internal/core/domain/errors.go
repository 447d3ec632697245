package domain

import "errors"

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates a construction-time configuration problem.
	// It is never retried.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnknownIndex indicates the index name is not registered
	ErrUnknownIndex = errors.New("unknown index")

	// ErrUnknownStrategy indicates the strategy name is not registered
	ErrUnknownStrategy = errors.New("unknown strategy")

	// ErrNoStrategy indicates an update arrived while the bottom-of-stack
	// policy was active; callers must opt into a strategy explicitly
	ErrNoStrategy = errors.New("no update strategy active")

	// ErrStackUnderflow indicates a pop below the base strategy frame
	ErrStackUnderflow = errors.New("strategy stack underflow")

	// ErrTransport indicates the bulk endpoint failed wholesale (network,
	// auth, malformed request). The batch in flight is not applied.
	ErrTransport = errors.New("transport failure")

	// ErrUnauthorized indicates authentication failed or missing
	ErrUnauthorized = errors.New("unauthorized")
)
