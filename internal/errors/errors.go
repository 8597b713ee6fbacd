// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrSchemaMismatch    = errors.New("schema mismatch")
	ErrRateLimited       = errors.New("rate limited")
	ErrTimeout           = errors.New("operation timed out")
	ErrCycleInFlight     = errors.New("scan cycle already in flight")
	ErrAlertNotFound     = errors.New("alert not found")
	ErrOwnerNotFound     = errors.New("owner not found")
	ErrModelNotFound     = errors.New("model state not found")
	ErrDuplicateFeedback = errors.New("feedback already recorded for alert")
	ErrInsufficientData  = errors.New("insufficient labeled examples")
	ErrConfigInvalid     = errors.New("invalid configuration")
	ErrDatabaseError     = errors.New("database error")
)

// SignalError represents a soft failure of a single detector or data
// source. It is absorbed at the component boundary: the cycle records
// it and continues with the remaining detectors.
type SignalError struct {
	Detector string
	Symbol   string
	Err      error
}

func (e *SignalError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("signal failure [%s] %s: %v", e.Detector, e.Symbol, e.Err)
	}
	return fmt.Sprintf("signal failure [%s]: %v", e.Detector, e.Err)
}

func (e *SignalError) Unwrap() error {
	return e.Err
}

// NewSignalError creates a new SignalError.
func NewSignalError(detector, symbol string, err error) *SignalError {
	return &SignalError{
		Detector: detector,
		Symbol:   symbol,
		Err:      err,
	}
}

// CycleError represents an unrecoverable error for one owner's scan
// cycle. The whole cycle aborts with no partial dispatch; other owners
// are unaffected.
type CycleError struct {
	OwnerID string
	Stage   string
	Err     error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle failed [owner=%s stage=%s]: %v", e.OwnerID, e.Stage, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// NewCycleError creates a new CycleError.
func NewCycleError(ownerID, stage string, err error) *CycleError {
	return &CycleError{
		OwnerID: ownerID,
		Stage:   stage,
		Err:     err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// DispatchError represents a notification delivery failure. The alert
// stays persisted and active; the pipeline records the failure in alert
// metadata and does not retry.
type DispatchError struct {
	OwnerID string
	Channel string
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed [owner=%s channel=%s]: %v", e.OwnerID, e.Channel, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// NewDispatchError creates a new DispatchError.
func NewDispatchError(ownerID, channel string, err error) *DispatchError {
	return &DispatchError{
		OwnerID: ownerID,
		Channel: channel,
		Err:     err,
	}
}

// DataError represents a data-related error from an upstream source.
type DataError struct {
	DataType string
	Symbol   string
	Message  string
	Err      error
}

func (e *DataError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data error [%s] %s: %s: %v", e.DataType, e.Symbol, e.Message, e.Err)
	}
	return fmt.Sprintf("data error [%s] %s: %s", e.DataType, e.Symbol, e.Message)
}

func (e *DataError) Unwrap() error {
	return e.Err
}

// NewDataError creates a new DataError.
func NewDataError(dataType, symbol, message string, err error) *DataError {
	return &DataError{
		DataType: dataType,
		Symbol:   symbol,
		Message:  message,
		Err:      err,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
