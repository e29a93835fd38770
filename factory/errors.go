package factory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/entitykit/entitykit/rules"
)

var (
	// ErrNotValid is returned by Save when the aggregate carries error
	// severity rule messages.
	ErrNotValid = errors.New("aggregate is not valid")

	// ErrChildSave is returned by Save when the target has a parent; only
	// root aggregates can be saved.
	ErrChildSave = errors.New("child aggregates cannot be saved directly")

	// ErrNoHandler is returned when no registered handler matches an
	// operation or criteria type.
	ErrNoHandler = errors.New("no handler registered")

	// ErrCriteriaMismatch is returned when a handler receives criteria of
	// an unexpected type.
	ErrCriteriaMismatch = errors.New("criteria type mismatch")

	// ErrNotAuthorized is returned when the authorizer rejects an
	// operation.
	ErrNotAuthorized = errors.New("operation is not authorized")

	// ErrNotRegistered is returned by the Dispatcher when a request names
	// an unknown factory.
	ErrNotRegistered = errors.New("factory is not registered")
)

// NotValidError carries the rule messages that block a save.
type NotValidError struct {
	Messages []rules.Message
}

// NewNotValidError builds a NotValidError from the aggregate's current
// messages.
func NewNotValidError(messages []rules.Message) *NotValidError {
	return &NotValidError{Messages: messages}
}

// Error implements the error interface.
func (e *NotValidError) Error() string {
	if len(e.Messages) == 0 {
		return ErrNotValid.Error()
	}

	parts := make([]string, 0, len(e.Messages))
	for _, msg := range e.Messages {
		parts = append(parts, fmt.Sprintf("%s: %s", msg.Property, msg.Text))
	}

	return fmt.Sprintf("%s: %s", ErrNotValid.Error(), strings.Join(parts, "; "))
}

// Unwrap returns ErrNotValid.
func (e *NotValidError) Unwrap() error {
	return ErrNotValid
}
