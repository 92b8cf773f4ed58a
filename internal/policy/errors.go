package policy

import (
	"errors"
	"fmt"
)

var (
	// ErrNoRulesFound is returned when no recognized shape in a response yields a rules array.
	ErrNoRulesFound = errors.New("no rules found in response")

	// ErrInvalidEditedDocument is returned when a hand-edited document fails validation.
	ErrInvalidEditedDocument = errors.New("invalid edited document")
)

// NormalizationError carries the raw response that could not be normalized so
// callers can surface it for manual correction.
type NormalizationError struct {
	Raw []byte
	Err error
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalize response: %v", e.Err)
}

func (e *NormalizationError) Unwrap() error {
	return e.Err
}

// ValidationError reports which constraint an edited document failed.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%v: %s", ErrInvalidEditedDocument, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidEditedDocument
}
