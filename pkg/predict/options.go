package predict

import (
	"fmt"
	"time"
)

// Options holds the tunables of a Controller.
type Options struct {
	Debounce              time.Duration
	MaxCacheSize          int
	MaxPending            int
	RequestTimeout        time.Duration
	MaxContextLinesRemote int
	MaxContextLinesLocal  int
	JustAcceptedWindow    time.Duration
	// MaxLineLength skips generation on longer cursor lines.
	MaxLineLength int
	// MaxLineBreaks ends a multi-line stream early.
	MaxLineBreaks int
	// Languages lists the language ids to predict for. Empty allows all.
	Languages []string
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		Debounce:              500 * time.Millisecond,
		MaxCacheSize:          20,
		MaxPending:            2,
		RequestTimeout:        60 * time.Second,
		MaxContextLinesRemote: 25,
		MaxContextLinesLocal:  12,
		JustAcceptedWindow:    500 * time.Millisecond,
		MaxLineLength:         500,
		MaxLineBreaks:         20,
	}
}

// Validate reports the first invalid field.
func (o Options) Validate() error {
	switch {
	case o.MaxCacheSize <= 0:
		return fmt.Errorf("%w: max cache size %d: %w", ErrInvalidOptions, o.MaxCacheSize, ErrInvalidCapacity)
	case o.MaxPending <= 0:
		return fmt.Errorf("%w: max pending must be positive, got %d", ErrInvalidOptions, o.MaxPending)
	case o.Debounce < 0:
		return fmt.Errorf("%w: negative debounce %v", ErrInvalidOptions, o.Debounce)
	case o.RequestTimeout <= 0:
		return fmt.Errorf("%w: request timeout must be positive, got %v", ErrInvalidOptions, o.RequestTimeout)
	case o.MaxContextLinesRemote <= 0 || o.MaxContextLinesLocal <= 0:
		return fmt.Errorf("%w: context line windows must be positive", ErrInvalidOptions)
	case o.JustAcceptedWindow < 0:
		return fmt.Errorf("%w: negative just-accepted window %v", ErrInvalidOptions, o.JustAcceptedWindow)
	case o.MaxLineLength <= 0:
		return fmt.Errorf("%w: max line length must be positive, got %d", ErrInvalidOptions, o.MaxLineLength)
	case o.MaxLineBreaks <= 0:
		return fmt.Errorf("%w: max line breaks must be positive, got %d", ErrInvalidOptions, o.MaxLineBreaks)
	}
	return nil
}
