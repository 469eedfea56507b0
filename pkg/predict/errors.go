package predict

import "errors"

var (
	// ErrInvalidCapacity is returned for a non-positive cache capacity.
	ErrInvalidCapacity = errors.New("cache capacity must be positive")
	// ErrInvalidOptions wraps every Options validation failure.
	ErrInvalidOptions = errors.New("invalid predictor options")
	// ErrProviderFailed marks a record that failed on the provider side.
	ErrProviderFailed = errors.New("provider failed")
	// ErrTimeout marks a record that saw no final event in time.
	ErrTimeout = errors.New("prediction timed out")
	// ErrSuperseded is returned to debounce turns replaced by a newer one.
	ErrSuperseded = errors.New("superseded by a newer turn")
)
