package common

import (
	"errors"
	"fmt"
)

// ErrTransient and ErrPermanent are sentinel errors adapters use when
// classifying provider failures. A permanent failure will not succeed if the
// same request is sent again.
var (
	ErrTransient = errors.New("transient error")
	ErrPermanent = errors.New("permanent error")
)

// WrapTransient annotates an error so callers can detect transient failures.
func WrapTransient(err error) error {
	if err == nil {
		return ErrTransient
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// WrapPermanent annotates an error as permanent.
func WrapPermanent(err error) error {
	if err == nil {
		return ErrPermanent
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Classification returns "permanent", "transient" or "unknown" for logging.
func Classification(err error) string {
	switch {
	case errors.Is(err, ErrPermanent):
		return "permanent"
	case errors.Is(err, ErrTransient):
		return "transient"
	default:
		return "unknown"
	}
}
