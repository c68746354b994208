package services

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel markers for processor failure classification. The dispatcher maps
// them onto stage transitions: transient failures retry with backoff until the
// attempt budget is exhausted, permanent failures go straight to the error
// list, and ambiguous failures park the item for a human.
var (
	ErrTransient     = errors.New("transient failure")
	ErrPermanent     = errors.New("permanent failure")
	ErrAmbiguous     = errors.New("needs human attention")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes stage context while tagging it
// with the provided marker for later transition classification. The marker
// should be one of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureClass describes how the dispatcher should treat a processor failure.
type FailureClass int

const (
	// FailureTransient retries the stage with backoff.
	FailureTransient FailureClass = iota
	// FailurePermanent moves the item to the terminal error list.
	FailurePermanent
	// FailureAmbiguous parks the item for maintainer review.
	FailureAmbiguous
)

// Classify maps a processor error onto a failure class. Unmarked errors are
// treated as transient so an unexpected hiccup gets the retry budget before
// being declared fatal.
func Classify(err error) FailureClass {
	switch {
	case errors.Is(err, ErrPermanent), errors.Is(err, ErrValidation):
		return FailurePermanent
	case errors.Is(err, ErrAmbiguous), errors.Is(err, ErrConfiguration):
		return FailureAmbiguous
	default:
		return FailureTransient
	}
}

// Message extracts a human-readable description from a processor error,
// stripping the sentinel marker prefix when present.
func Message(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range []error{ErrTransient, ErrPermanent, ErrAmbiguous, ErrValidation, ErrConfiguration} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(msg, prefix))
		}
	}
	return msg
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
