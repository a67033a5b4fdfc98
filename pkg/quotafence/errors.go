package quotafence

import "errors"

var (
	// ErrInvalidConfig is returned when a group configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidWindow is returned when a window length is not positive.
	ErrInvalidWindow = errors.New("window length must be positive")

	// ErrInvalidMaxRequests is returned when the request limit is not positive.
	ErrInvalidMaxRequests = errors.New("max requests must be positive")

	// ErrInvalidBurstSize is returned when the burst size is negative.
	ErrInvalidBurstSize = errors.New("burst size must not be negative")

	// ErrUnknownAlgorithm is returned for an unrecognized algorithm name.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrUnknownGroup is returned when no endpoint group with that name exists.
	ErrUnknownGroup = errors.New("unknown endpoint group")

	// ErrInvalidKey is returned when the rate limit key is empty.
	ErrInvalidKey = errors.New("rate limit key cannot be empty")

	// ErrStoreFailed is returned when a store operation fails.
	ErrStoreFailed = errors.New("store operation failed")
)
