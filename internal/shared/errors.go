// Package shared contains common error types and utilities.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Common domain errors that can be used across the application
var (
	// ErrValidation indicates that input validation failed
	ErrValidation = errors.New("validation failed")

	// ErrExecution indicates that a statement or script failed during execution
	ErrExecution = errors.New("execution failed")

	// ErrConsistency indicates that a requested operation would diverge
	// persisted bookkeeping from actual state
	ErrConsistency = errors.New("consistency violation")

	// ErrNotFound indicates that a requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates that an operation timed out
	ErrTimeout = errors.New("operation timed out")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindValidation represents input validation errors
	KindValidation
	// KindExecution represents statement execution errors
	KindExecution
	// KindConsistency represents bookkeeping consistency errors
	KindConsistency
	// KindNotFound represents resource not found errors
	KindNotFound
	// KindInternal represents internal errors
	KindInternal
	// KindTimeout represents timeout errors
	KindTimeout
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "Validation"
	case KindExecution:
		return "Execution"
	case KindConsistency:
		return "Consistency"
	case KindNotFound:
		return "NotFound"
	case KindInternal:
		return "Internal"
	case KindTimeout:
		return "Timeout"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// kindToSentinel maps error kinds to their corresponding sentinel errors.
var kindToSentinel = map[Kind]error{
	KindValidation:  ErrValidation,
	KindExecution:   ErrExecution,
	KindConsistency: ErrConsistency,
	KindNotFound:    ErrNotFound,
	KindInternal:    ErrInternal,
	KindTimeout:     ErrTimeout,
}

// kindPriorities defines the deterministic order for error classification.
// Higher priority (lower index) kinds are checked first in KindOf.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},       // context.Canceled (special case)
	{KindTimeout, ErrTimeout}, // timeout errors have high priority
	{KindValidation, ErrValidation},
	{KindConsistency, ErrConsistency},
	{KindNotFound, ErrNotFound},
	{KindExecution, ErrExecution},
	{KindInternal, ErrInternal},
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// It traverses the error chain to find the root classification using a deterministic
// priority order. For errors created with errors.Join, the first matching kind in
// priority order is returned. Returns KindUnknown for unrecognized errors.
//
// Example:
//
//	switch shared.KindOf(err) {
//	case shared.KindValidation:
//	    // reject the input, nothing was touched
//	case shared.KindExecution:
//	    // the statement failed and was rolled back
//	default:
//	    // unexpected failure
//	}
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	// Check kinds in priority order (deterministic)
	for _, priority := range kindPriorities {
		switch priority.kind {
		case KindCanceled:
			if IsCanceled(err) {
				return KindCanceled
			}
		case KindTimeout:
			if IsTimeout(err) {
				return KindTimeout
			}
		default:
			if priority.err != nil && errors.Is(err, priority.err) {
				return priority.kind
			}
		}
	}

	return KindUnknown
}

// HasKind reports whether the given error has the specified kind.
// It is equivalent to KindOf(err) == kind but provides a more explicit API.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ErrorOf returns the sentinel error for the given Kind.
// For KindUnknown and KindCanceled, it returns nil.
func ErrorOf(kind Kind) error {
	if sentinel, exists := kindToSentinel[kind]; exists {
		return sentinel
	}
	return nil
}

// MarkKind wraps an error with the appropriate sentinel error for the given kind,
// preserving the original error through error wrapping.
// This allows both KindOf(MarkKind(err, kind)) == kind and
// errors.Is(MarkKind(err, kind), err) to be true.
// If err is nil, returns the sentinel error for the kind (or nil for unsupported kinds).
// If kind is KindUnknown or KindCanceled, returns the original error unchanged.
//
// This function is idempotent: marking an error with a kind it already has returns
// the error unchanged.
func MarkKind(err error, kind Kind) error {
	// Handle nil error
	if err == nil {
		return ErrorOf(kind)
	}

	// Special handling for kinds without sentinel errors
	switch kind {
	case KindUnknown, KindCanceled:
		return err
	}

	// Get the sentinel error for this kind
	sentinel := ErrorOf(kind)
	if sentinel == nil {
		return err // unknown kind, return unchanged
	}

	// If the error already has this kind, return as-is to avoid double wrapping
	if KindOf(err) == kind {
		return err
	}

	// Wrap with the sentinel error
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// It returns a new error that formats as "context: err".
// If err is nil, Wrap returns nil.
// If context is empty, returns the original error.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
// It returns a new error that formats as "context: err".
// If err is nil, Wrapf returns nil.
// If formatted context is empty, returns the original error.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(format, args...)
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Invariant checks a condition and returns an error if it's false.
func Invariant(condition bool, message string) error {
	if condition {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInternal, message)
}

// InvariantF checks a condition and returns a formatted error if it's false.
func InvariantF(condition bool, format string, args ...interface{}) error {
	if condition {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%w: %s", ErrInternal, message)
}

// IsCanceled reports whether the error indicates a canceled context.
func IsCanceled(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.Canceled)
}

// IsTimeout reports whether the error indicates a timeout.
// It checks for context.DeadlineExceeded and our ErrTimeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout)
}

// IsValidation reports whether the error indicates input validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsExecution reports whether the error indicates a failed statement or script.
func IsExecution(err error) bool {
	return errors.Is(err, ErrExecution)
}

// IsConsistency reports whether the error indicates a bookkeeping consistency violation.
func IsConsistency(err error) bool {
	return errors.Is(err, ErrConsistency)
}

// IsNotFound reports whether the error indicates a resource not found condition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInternal reports whether the error indicates an internal error.
func IsInternal(err error) bool {
	return errors.Is(err, ErrInternal)
}

// Cause returns the underlying cause of the error by repeatedly unwrapping it.
// For simple wrap chains, returns the deepest cause.
// For errors.Join, returns the first root cause found in depth-first order.
// If the error doesn't wrap anything, it returns the error itself.
// If err is nil, Cause returns nil.
func Cause(err error) error {
	if err == nil {
		return nil
	}

	// Use UnwrapAll to flatten the error graph, then find the first leaf
	all := UnwrapAll(err)
	if len(all) == 0 {
		return err
	}

	for i := len(all) - 1; i >= 0; i-- {
		candidate := all[i]

		// Check if this error has no further nested errors
		hasNested := false
		if unwrapper, ok := candidate.(interface{ Unwrap() []error }); ok {
			hasNested = len(unwrapper.Unwrap()) > 0
		} else {
			hasNested = errors.Unwrap(candidate) != nil
		}

		if !hasNested {
			return candidate
		}
	}

	// Fallback: return the original error if no leaf found
	return err
}

// UnwrapAll returns all errors in the error chain, from outermost to innermost.
// The first element is the original error, and the remaining are causes.
// For errors created with errors.Join, this flattens the entire error graph.
// If err is nil, returns nil slice.
func UnwrapAll(err error) []error {
	if err == nil {
		return nil
	}

	var result []error
	seen := make(map[error]bool) // prevent infinite loops
	queue := []error{err}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if seen[current] {
			continue
		}
		seen[current] = true
		result = append(result, current)

		// Check for both single and multiple unwrap methods
		if unwrapper, ok := current.(interface{ Unwrap() []error }); ok {
			nested := unwrapper.Unwrap()
			queue = append(queue, nested...)
		} else if nested := errors.Unwrap(current); nested != nil {
			queue = append(queue, nested)
		}
	}

	return result
}
