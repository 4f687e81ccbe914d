package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStoreUnavailable   = errors.New("store unavailable")
	ErrChainConflict      = errors.New("chain conflict")
	ErrIntegrityViolation = errors.New("integrity violation")
	ErrAlreadyExists      = errors.New("already exists")
)

// InvalidField wraps ErrInvalidInput with the offending field name.
func InvalidField(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidInput, field, reason)
}

type IntegrityError struct {
	ScopeID string
	EventID string
	Seq     int64
	Reason  ChainBreak
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: scope %s broken at seq %d (event %s): %s", ErrIntegrityViolation, e.ScopeID, e.Seq, e.EventID, e.Reason)
}

func (e *IntegrityError) Unwrap() error {
	return ErrIntegrityViolation
}
