package store

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("concurrent update conflict")
	ErrConnectivity       = errors.New("backing store unreachable")
)

// ValidationError is a pre-transaction rejection the operator can fix in place.
type ValidationError struct {
	Field  string
	Reason string
}

func Invalid(field string, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidTransaction, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrInvalidTransaction, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidTransaction
}

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Available   int
	Required    int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: available %d, required %d", e.ProductName, e.Available, e.Required)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// ConnectivityError means the write could not be confirmed. When
// OutcomeUnknown is set the write may have been applied and the caller must
// re-read state before retrying.
type ConnectivityError struct {
	Op             string
	OutcomeUnknown bool
	Err            error
}

func (e *ConnectivityError) Error() string {
	if e.OutcomeUnknown {
		return fmt.Sprintf("%s: outcome unknown, check your connection and verify before retrying: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: no connection, nothing was recorded: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

func (e *ConnectivityError) Is(target error) bool {
	return target == ErrConnectivity
}

// ConflictError reports a lost race; retrying re-reads the current state.
type ConflictError struct {
	Entity string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Entity, e.ID, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// OutcomeUnknown reports whether err leaves the store state undetermined.
func OutcomeUnknown(err error) bool {
	var connErr *ConnectivityError
	return errors.As(err, &connErr) && connErr.OutcomeUnknown
}
