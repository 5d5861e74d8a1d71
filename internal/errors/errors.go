// Package errors provides the error taxonomy for the signal and trading pipeline.
//
// Soft errors (insufficient data, missing prices, failed fetches) are absorbed
// per instrument. Hard errors (invariant violations, bad configuration) abort
// the current unit of work and surface to the caller.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrDataInsufficient    = errors.New("insufficient data")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrExternalFetch       = errors.New("external fetch failed")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrConfigInvalid       = errors.New("invalid configuration")
	ErrUnknownStrategy     = errors.New("unknown strategy")
	ErrTradeNotFound       = errors.New("trade not found")
	ErrTradeAlreadyClosed  = errors.New("trade already closed")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrAlertNotFound       = errors.New("alert not found")
	ErrPositionExists      = errors.New("position already exists")
	ErrPositionNotFound    = errors.New("position not found")
	ErrInsufficientBalance = errors.New("insufficient available balance")
	ErrTimeout             = errors.New("operation timed out")
)

// DataError represents too little history for a calculation.
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
	if e.Err != nil {
		return e.Err
	}
	return ErrDataInsufficient
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

// FetchError represents a failed call to a price feed or series source.
type FetchError struct {
	Instrument string
	Operation  string
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch error [%s] %s after %d attempt(s): %v", e.Operation, e.Instrument, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrExternalFetch, e.Err}
}

// NewFetchError creates a new FetchError.
func NewFetchError(instrument, operation string, attempts int, err error) *FetchError {
	return &FetchError{
		Instrument: instrument,
		Operation:  operation,
		Attempts:   attempts,
		Err:        err,
	}
}

// InvariantError represents an attempt to break a ledger invariant.
type InvariantError struct {
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *InvariantError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invariant violation [%s %s]: %s: %v", e.Entity, e.ID, e.Message, e.Err)
	}
	return fmt.Sprintf("invariant violation [%s %s]: %s", e.Entity, e.ID, e.Message)
}

func (e *InvariantError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvariantViolation, e.Err}
	}
	return []error{ErrInvariantViolation}
}

// NewInvariantError creates a new InvariantError.
func NewInvariantError(entity, id, message string, err error) *InvariantError {
	return &InvariantError{
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// ConfigError represents invalid or missing configuration.
type ConfigError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfigInvalid
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field string, value interface{}, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// RejectionError explains why the engine declined an alert.
type RejectionError struct {
	Rule    string
	Current string
	Limit   string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("trade rejected [%s]: %s (current: %s, limit: %s)", e.Rule, e.Message, e.Current, e.Limit)
}

// NewRejectionError creates a new RejectionError.
func NewRejectionError(rule, current, limit, message string) *RejectionError {
	return &RejectionError{
		Rule:    rule,
		Current: current,
		Limit:   limit,
		Message: message,
	}
}

// IsSoft reports whether err should be absorbed at the instrument level.
func IsSoft(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDataInsufficient) ||
		errors.Is(err, ErrPriceUnavailable) ||
		errors.Is(err, ErrExternalFetch) ||
		errors.Is(err, ErrTimeout)
}

// IsHard reports whether err must abort the current unit of work.
func IsHard(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrConfigInvalid)
}

// IsRetryable reports whether a retry could succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrExternalFetch) || errors.Is(err, ErrTimeout)
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
