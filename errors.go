package framestack

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by this package wraps exactly one of them
// and can be checked with errors.Is.
var (
	// ErrConfig marks invalid caller input: tiling geometry, ROI length,
	// destination type, dataset parameters.
	ErrConfig = errors.New("framestack: configuration error")
	// ErrFormat marks corrupt or truncated data and frame-id desynchronization.
	ErrFormat = errors.New("framestack: format error")
	// ErrResource marks a failure to acquire a mapping or file handle.
	ErrResource = errors.New("framestack: resource error")
	// ErrNoMatch is returned by detection when no registered format claims a path.
	ErrNoMatch = errors.New("framestack: no matching format")
	// ErrNotfound is returned by stores for missing keys.
	ErrNotfound = errors.New("not found")
)

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

func formatErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrFormat, fmt.Sprintf(format, args...))
}

func resourceErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrResource, fmt.Sprintf(format, args...))
}

// FormatError wraps err as a format error unless it already carries a kind.
// Format decoders use it to report corrupt input.
func FormatError(err error) error {
	if err == nil || errors.Is(err, ErrFormat) || errors.Is(err, ErrConfig) || errors.Is(err, ErrResource) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrFormat, err)
}

// ConfigError wraps err as a configuration error unless it already carries a kind.
func ConfigError(err error) error {
	if err == nil || errors.Is(err, ErrFormat) || errors.Is(err, ErrConfig) || errors.Is(err, ErrResource) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrConfig, err)
}
