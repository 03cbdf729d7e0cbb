package core

import (
	"errors"
	"fmt"

	"spiritcore/pkg/domain"
)

var (
	// ErrConflictDeclined is returned when the operator declines a cloning,
	// overwrite or merge confirmation. Nothing is mutated.
	ErrConflictDeclined = errors.New("operation declined by operator")
	// ErrPlanChanged is returned when the state seen inside the write
	// transaction no longer matches the plan the operator confirmed.
	ErrPlanChanged = errors.New("attachment plan changed before commit")
	// ErrTransactionFinished is returned when Apply is called on a committed or aborted attachment.
	ErrTransactionFinished = errors.New("attachment transaction already finished")
)

// ValidationError reports input that cannot be applied. It is always raised
// before anything is persisted.
type ValidationError struct {
	Op     string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Op == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("%s: validation failed: %s", e.Op, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func invalidf(op, format string, args ...any) *ValidationError {
	return &ValidationError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

// PermissionError reports a rights check that denied the session user.
type PermissionError struct {
	User   string
	Action string
	Target string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %q may not %s %s", e.User, e.Action, e.Target)
}

// PersistenceError wraps a failed commit. The store is left exactly as it was
// before the operation started.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: persistence failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ErrNotFound is returned when a referenced record does not exist.
type ErrNotFound struct {
	Entity domain.EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// classify maps an error escaping a store transaction onto the error kinds
// callers handle. Typed errors pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var (
		validation *ValidationError
		permission *PermissionError
		persist    *PersistenceError
		notFound   ErrNotFound
		violation  domain.RuleViolationError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &permission), errors.As(err, &persist), errors.As(err, &notFound):
		return err
	case errors.Is(err, ErrConflictDeclined), errors.Is(err, ErrPlanChanged), errors.Is(err, ErrTransactionFinished):
		return err
	case errors.As(err, &violation):
		return &ValidationError{Op: op, Reason: violation.Error(), Err: err}
	case errors.Is(err, domain.ErrInvalidSubgroup):
		return &ValidationError{Op: op, Reason: err.Error(), Err: err}
	default:
		return &PersistenceError{Op: op, Err: err}
	}
}
