package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfiguration marks errors detected before any execution starts:
	// dependency cycles, unknown references, invalid model definitions.
	ErrConfiguration = errors.New("configuration error")
	// ErrSchemaMismatch marks writes whose shape does not match the model's
	// declared columns. Fatal to the writing model's step only.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrExecution marks failures raised inside a model body.
	ErrExecution = errors.New("model execution error")
	// ErrValidation marks malformed caller input (bad run IDs, bad filters).
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks lookups for runs or models that do not exist.
	ErrNotFound = errors.New("not found")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrExecution
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// IsFatalBeforeExecution reports whether an error must abort a run before any
// store writes happen.
func IsFatalBeforeExecution(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrValidation)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
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
