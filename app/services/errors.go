package services

import "errors"

// Feed error taxonomy. Returned errors wrap one of these; test with errors.Is.
var (
	// ErrAuthRequired means submit was called without an authenticated author.
	ErrAuthRequired = errors.New("authentication required")
	// ErrValidationFailed means the title or content was rejected before any
	// store call.
	ErrValidationFailed = errors.New("validation failed")
	// ErrWriteFailed means the store rejected the post or could not be reached.
	// The caller may retry.
	ErrWriteFailed = errors.New("write failed")
	// ErrSubscriptionFailed means the live feed could not be established or was
	// interrupted. The caller may subscribe again.
	ErrSubscriptionFailed = errors.New("subscription failed")
)
