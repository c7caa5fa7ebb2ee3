// Package shared contains common error types and utilities for error handling
// across the application without domain-specific logic.
//
// # Error Types and Classification
//
// This package provides a set of standard error types (sentinel errors) that
// represent common failure conditions:
//
//   - ErrValidation: Input validation failed
//   - ErrExecution: Statement or script execution failed
//   - ErrConsistency: Bookkeeping would diverge from actual state
//   - ErrNotFound: Resource not found
//   - ErrInternal: Internal error
//   - ErrTimeout: Operation timed out
//
// # Error Classification
//
// Use KindOf() to classify errors into categories:
//
//	err := db.Migrate(ctx, migrations)
//	switch shared.KindOf(err) {
//	case shared.KindValidation:
//	    // malformed input, nothing was executed
//	case shared.KindConsistency:
//	    // e.g. rollback requested past a version without a down script
//	case shared.KindExecution:
//	    // a script failed and its transaction was rolled back
//	}
//
// Or use predicate functions for cleaner code:
//
//	if shared.IsValidation(err) {
//	    // handle validation failure
//	}
//
// # Kind Priority
//
// When multiple error kinds are present (e.g. with errors.Join), KindOf
// returns the highest priority kind:
//
//	Priority | Kind             | Description
//	---------|------------------|--------------------
//	1        | KindCanceled     | Context cancellation (highest)
//	2        | KindTimeout      | Timeout/deadline errors
//	3        | KindValidation   | Input validation failures
//	4        | KindConsistency  | Bookkeeping consistency violations
//	5        | KindNotFound     | Resource not found
//	6        | KindExecution    | Statement execution failures
//	7        | KindInternal     | Internal errors (lowest)
//
// # Error Wrapping and Context
//
// Add context to errors while preserving the original error:
//
//	if err := run(script); err != nil {
//	    return shared.Wrapf(err, "migration %d", version)
//	}
//
// Use MarkKind to adapt third-party errors to domain kinds:
//
//	if _, err := conn.ExecContext(ctx, stmt); err != nil {
//	    return shared.MarkKind(err, shared.KindExecution)
//	}
package shared
