// Package errors provides structured error handling for portsweep operations.
// It defines error codes and typed errors that carry enough context for the
// CLI to decide how to report a failure and which exit status to use.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"

	// Construction errors. These abort a run before any probing starts.
	CodeInvalidNetwork       ErrorCode = "INVALID_NETWORK_CONFIGURATION"
	CodeEndpointConstruction ErrorCode = "ENDPOINT_CONSTRUCTION_FAILED"

	// Per-target errors.
	CodeTaskFailed ErrorCode = "TASK_FAILED"

	// Service errors.
	CodeNotFound           ErrorCode = "NOT_FOUND"
	CodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
)

// ScanError represents an error that occurred while building or running a scan.
type ScanError struct {
	Code    ErrorCode
	Message string
	Target  string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Target != "" {
		msg = fmt.Sprintf("%s (target: %s)", msg, e.Target)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error.
func (e *ScanError) WithContext(key string, value interface{}) *ScanError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewScanError creates a new scan error with the specified code and message.
func NewScanError(code ErrorCode, message string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Context: make(map[string]interface{}),
	}
}

// NewScanErrorWithTarget creates a scan error for a specific target.
func NewScanErrorWithTarget(code ErrorCode, message, target string) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Context: make(map[string]interface{}),
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, message string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// WrapScanErrorWithTarget wraps an error with target information.
func WrapScanErrorWithTarget(code ErrorCode, message, target string, err error) *ScanError {
	return &ScanError{
		Code:    code,
		Message: message,
		Target:  target,
		Cause:   err,
		Context: make(map[string]interface{}),
	}
}

// InputError represents a lexically invalid value supplied by the user.
type InputError struct {
	Code  ErrorCode
	Field string
	Value string
	Cause error
}

// Error implements the error interface.
func (e *InputError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] invalid value %q for %s: %v", e.Code, e.Value, e.Field, e.Cause)
	}
	return fmt.Sprintf("[%s] invalid value %q for %s", e.Code, e.Value, e.Field)
}

// Unwrap returns the underlying error.
func (e *InputError) Unwrap() error {
	return e.Cause
}

// NewInputError creates a validation error for a named input field.
func NewInputError(field, value string, cause error) *InputError {
	return &InputError{
		Code:  CodeValidation,
		Field: field,
		Value: value,
		Cause: cause,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var scanErr *ScanError
	if stderrors.As(err, &scanErr) {
		return scanErr.Code
	}
	var inputErr *InputError
	if stderrors.As(err, &inputErr) {
		return inputErr.Code
	}
	var configErr *ConfigError
	if stderrors.As(err, &configErr) {
		return configErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsFatal reports whether err must abort the whole run.
// Per-target task failures are never fatal.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeInvalidNetwork, CodeEndpointConstruction, CodeValidation, CodeConfiguration:
		return true
	default:
		return false
	}
}

// Common error creation functions

// ErrInvalidNetwork creates an error for a base address and prefix that
// cannot form a CIDR block.
func ErrInvalidNetwork(network string, cause error) *ScanError {
	return WrapScanErrorWithTarget(CodeInvalidNetwork, "impossible network configuration", network, cause)
}

// ErrEndpointConstruction creates an error for an address and port that
// could not be combined into an endpoint.
func ErrEndpointConstruction(target string) *ScanError {
	return NewScanErrorWithTarget(CodeEndpointConstruction, "failed to build socket endpoint", target)
}

// ErrTaskFailed creates an error for a unit of work that terminated abnormally.
func ErrTaskFailed(target string, cause error) *ScanError {
	return WrapScanErrorWithTarget(CodeTaskFailed, "probe task terminated abnormally", target, cause)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Invalid configuration value", field, value)
}
