// Package errs defines the error kinds shared by the profiling, scoring and
// check packages.
//
// Every kind carries a stable code. The ledger records that code on ERROR
// entries, so codes are an operational contract: do not rename them.
//
// Callers test kinds with errors.As, or with the Is* helpers:
//
//	var nf *errs.NotFoundError
//	if errors.As(err, &nf) { ... }
package errs

import (
	"context"
	"errors"
	"fmt"
)

const (
	CodeNotFound         = "NOT_FOUND"
	CodeTypeDispatch     = "TYPE_DISPATCH"
	CodeInsufficientData = "INSUFFICIENT_DATA"
	CodeComputation      = "COMPUTATION"
	CodeThreshold        = "THRESHOLD"
	CodeTimeout          = "TIMEOUT"
	CodeUnknown          = "UNKNOWN"
)

// NotFoundError reports a missing table, column or schema.
type NotFoundError struct {
	Kind string // "table" | "column" | "schema"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

// TypeDispatchError reports a declared type that reached a code path with no
// statistic function registered for its category.
type TypeDispatchError struct {
	Column       string
	DeclaredType string
}

func (e *TypeDispatchError) Error() string {
	return fmt.Sprintf("no statistics registered for column %s (type %q)", e.Column, e.DeclaredType)
}

func (e *TypeDispatchError) Code() string { return CodeTypeDispatch }

// InsufficientDataError reports that scoring was requested for a table with no
// profile records.
type InsufficientDataError struct {
	Table string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("no profile data for table %s", e.Table)
}

func (e *InsufficientDataError) Code() string { return CodeInsufficientData }

// ComputationError wraps a failure while computing a statistic, e.g. a value
// that cannot be coerced to the column's category.
type ComputationError struct {
	Op  string
	Err error
}

func (e *ComputationError) Error() string {
	if e.Err == nil {
		return e.Op + ": computation failed"
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *ComputationError) Unwrap() error { return e.Err }

func (e *ComputationError) Code() string { return CodeComputation }

// ThresholdError reports a configured rule whose observed value is on the
// wrong side of its threshold.
type ThresholdError struct {
	Rule      string
	Metric    string
	Observed  float64
	Op        string // "<=" or ">="
	Threshold float64
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("rule %s failed: %s %.2f, want %s %.2f", e.Rule, e.Metric, e.Observed, e.Op, e.Threshold)
}

func (e *ThresholdError) Code() string { return CodeThreshold }

// NotFound is shorthand for &NotFoundError{Kind: kind, Name: name}.
func NotFound(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// Computation wraps err as a ComputationError for op. A nil err stays nil.
func Computation(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ComputationError{Op: op, Err: err}
}

type coder interface{ Code() string }

// Code returns the code of the first error in err's chain that carries one,
// or CodeUnknown. A chain ending in context.DeadlineExceeded is CodeTimeout
// whatever wraps it. A nil error has no code.
func Code(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return CodeUnknown
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInsufficientData(err error) bool {
	var e *InsufficientDataError
	return errors.As(err, &e)
}
