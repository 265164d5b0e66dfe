package errors

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures surfaced by the supervisor core
type ErrorType string

const (
	ErrorTypeNotFound                ErrorType = "not_found"
	ErrorTypeConfigParse             ErrorType = "config_parse"
	ErrorTypeIO                      ErrorType = "io"
	ErrorTypeSpawn                   ErrorType = "spawn"
	ErrorTypeProcessTermination      ErrorType = "process_termination"
	ErrorTypePackagePlatformMismatch ErrorType = "package_platform_mismatch"
	ErrorTypePackageMissingRootFiles ErrorType = "package_missing_root_files"
	ErrorTypeTemplatePathNotFound    ErrorType = "template_path_not_found"
	ErrorTypeInvalidInput            ErrorType = "invalid_input"
	ErrorTypeValidation              ErrorType = "validation"
	ErrorTypeConflict                ErrorType = "conflict"
	ErrorTypeHook                    ErrorType = "hook"
	ErrorTypeInternal                ErrorType = "internal"
)

// DomainError represents a structured error with type and context
type DomainError struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]interface{}
}

func (e *DomainError) Error() string {
	msg := e.Message
	if unit, ok := e.Context["unit"]; ok {
		msg = fmt.Sprintf("%s (unit: %v)", msg, unit)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, msg)
}

func (e *DomainError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a DomainError of the same type
func (e *DomainError) Is(target error) bool {
	if other, ok := target.(*DomainError); ok {
		return e.Type == other.Type
	}
	return false
}

// WithContext adds context information to the error
func (e *DomainError) WithContext(key string, value interface{}) *DomainError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithUnit is a shortcut for WithContext("unit", name)
func (e *DomainError) WithUnit(name string) *DomainError {
	return e.WithContext("unit", name)
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, message string, cause error) *DomainError {
	return &DomainError{
		Type:    errorType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func NewNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, cause)
}

// NewConfigParseError reports malformed manifest, options or lockfile text for a unit
func NewConfigParseError(name string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConfigParse, "failed to parse unit configuration", cause).WithUnit(name)
}

func NewIOError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeIO, message, cause)
}

// NewSpawnError reports that a unit's native process could not be started
func NewSpawnError(name string, cause error) *DomainError {
	return NewDomainError(ErrorTypeSpawn, "failed to spawn unit process", cause).WithUnit(name)
}

func NewProcessTerminationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeProcessTermination, message, cause)
}

func NewPackagePlatformMismatchError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePackagePlatformMismatch, message, cause)
}

func NewPackageMissingRootFilesError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypePackageMissingRootFiles, message, cause)
}

func NewTemplatePathNotFoundError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeTemplatePathNotFound, message, cause)
}

func NewInvalidInputError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInvalidInput, message, cause)
}

func NewValidationError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, cause)
}

func NewConflictError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, cause)
}

func NewHookError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeHook, message, cause)
}

func NewInternalError(message string, cause error) *DomainError {
	return NewDomainError(ErrorTypeInternal, message, cause)
}

// TypeOf returns the type of the outermost DomainError in err's chain
func TypeOf(err error) (ErrorType, bool) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type, true
	}
	return "", false
}

func isType(err error, errorType ErrorType) bool {
	t, ok := TypeOf(err)
	return ok && t == errorType
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

func IsConfigParseError(err error) bool {
	return isType(err, ErrorTypeConfigParse)
}

func IsIOError(err error) bool {
	return isType(err, ErrorTypeIO)
}

func IsSpawnError(err error) bool {
	return isType(err, ErrorTypeSpawn)
}

func IsProcessTerminationError(err error) bool {
	return isType(err, ErrorTypeProcessTermination)
}

func IsPackagePlatformMismatchError(err error) bool {
	return isType(err, ErrorTypePackagePlatformMismatch)
}

func IsPackageMissingRootFilesError(err error) bool {
	return isType(err, ErrorTypePackageMissingRootFiles)
}

func IsTemplatePathNotFoundError(err error) bool {
	return isType(err, ErrorTypeTemplatePathNotFound)
}

func IsInvalidInputError(err error) bool {
	return isType(err, ErrorTypeInvalidInput)
}

func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

func IsHookError(err error) bool {
	return isType(err, ErrorTypeHook)
}

func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// ErrorCollection aggregates errors from bulk operations
type ErrorCollection struct {
	Errors []error
}

func (e *ErrorCollection) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred: %v", len(e.Errors), e.Errors[0])
}

func (e *ErrorCollection) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

func (e *ErrorCollection) HasErrors() bool {
	return len(e.Errors) > 0
}

func (e *ErrorCollection) ToError() error {
	if !e.HasErrors() {
		return nil
	}
	return e
}

// NewErrorCollection creates a new error collection
func NewErrorCollection() *ErrorCollection {
	return &ErrorCollection{
		Errors: make([]error, 0),
	}
}
