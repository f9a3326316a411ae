package identity

import "errors"

// Sentinel error kinds (stable for errors.Is and for mapping to wire codes).
var (
	// ErrFetch reports an absent or malformed subtree on read.
	ErrFetch = errors.New("fetch_failed")
	// ErrWrite reports a rejected store write.
	ErrWrite = errors.New("write_failed")
	// ErrNotFound reports a missing referenced conversation or user.
	ErrNotFound = errors.New("not_found")
	// ErrDecode reports a record missing required fields or failing
	// date/URL parsing.
	ErrDecode = errors.New("decode_failed")
	// ErrInvalidInput reports input rejected before any store round trip.
	ErrInvalidInput = errors.New("invalid_input")
)
