package errors

import (
	"fmt"
	"time"

	"github.com/rbxsync/rbxsync/internal/instance"
)

// Error types for the rbxsync reconciliation core
type ErrorType string

const (
	// Instance-level errors during patch application
	ErrorTypeInstance ErrorType = "instance"

	// Reference resolution errors
	ErrorTypeDanglingRef  ErrorType = "dangling_ref"
	ErrorTypeAmbiguousRef ErrorType = "ambiguous_ref"

	// File errors
	ErrorTypeFileNotFound ErrorType = "file_not_found"
	ErrorTypePermission   ErrorType = "permission"
	ErrorTypeIO           ErrorType = "io"

	// Configuration errors
	ErrorTypeConfig ErrorType = "config"

	// Internal errors
	ErrorTypeInternal ErrorType = "internal"
)

// InstanceError represents a failure to create or update a single instance
// at the live-engine boundary. Always recoverable: the surrounding patch
// continues with its other instances.
type InstanceError struct {
	Type       ErrorType
	ID         instance.Ref
	Name       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewInstanceError creates a new per-instance error with context
func NewInstanceError(op string, err error) *InstanceError {
	return &InstanceError{
		Type:       ErrorTypeInstance,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// WithInstance adds instance information to the error
func (e *InstanceError) WithInstance(id instance.Ref, name string) *InstanceError {
	e.ID = id
	e.Name = name
	return e
}

// Error implements the error interface
func (e *InstanceError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s %s failed for %q: %v", e.Type, e.Operation, e.Name, e.Underlying)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Type, e.Operation, e.Underlying)
}

// Unwrap returns the underlying error for errors.Is/As
func (e *InstanceError) Unwrap() error {
	return e.Underlying
}

// RefError represents a cross-reference that could not be resolved cleanly.
// Dangling references leave the property unset; ambiguous paths are written
// best-effort. Neither aborts the surrounding patch or syncback run.
type RefError struct {
	Type      ErrorType
	Source    string
	Path      string
	Property  string
	Detail    string
	Timestamp time.Time
}

// NewDanglingRefError creates an error for a reference whose target is missing
func NewDanglingRefError(source, property, path string) *RefError {
	return &RefError{
		Type:      ErrorTypeDanglingRef,
		Source:    source,
		Property:  property,
		Path:      path,
		Timestamp: time.Now(),
	}
}

// NewAmbiguousRefError creates an error for a reference path that is not
// unique because of duplicate-named siblings in the ancestor chain
func NewAmbiguousRefError(source, property, path string) *RefError {
	return &RefError{
		Type:      ErrorTypeAmbiguousRef,
		Source:    source,
		Property:  property,
		Path:      path,
		Timestamp: time.Now(),
	}
}

// WithDetail attaches extra diagnostic text, e.g. a closest-name suggestion
func (e *RefError) WithDetail(detail string) *RefError {
	e.Detail = detail
	return e
}

// Error implements the error interface
func (e *RefError) Error() string {
	msg := fmt.Sprintf("%s: %s.%s -> %q", e.Type, e.Source, e.Property, e.Path)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

// FileError represents a file-related error
type FileError struct {
	Type       ErrorType
	Path       string
	Operation  string
	Underlying error
	Timestamp  time.Time
}

// NewFileError creates a new file error
func NewFileError(op, path string, err error) *FileError {
	return &FileError{
		Type:       ErrorTypeIO,
		Path:       path,
		Operation:  op,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *FileError) Error() string {
	return fmt.Sprintf("file %s failed for %s: %v", e.Operation, e.Path, e.Underlying)
}

// Unwrap returns the underlying error
func (e *FileError) Unwrap() error {
	return e.Underlying
}

// ConfigError represents a fatal configuration error. Unlike the other error
// types these abort the operation immediately: no useful partial work is
// possible with a malformed project descriptor or unreadable root.
type ConfigError struct {
	Field      string
	Value      string
	Underlying error
	Timestamp  time.Time
}

// NewConfigError creates a new config error
func NewConfigError(field, value string, err error) *ConfigError {
	return &ConfigError{
		Field:      field,
		Value:      value,
		Underlying: err,
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error for field %s (value %s): %v", e.Field, e.Value, e.Underlying)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Underlying
}

// MultiError aggregates per-instance and per-file errors so a whole run can
// complete and report its failures in one summary.
type MultiError struct {
	Errors []error
}

// NewMultiError creates a new multi-error
func NewMultiError(errs []error) *MultiError {
	// Filter out nil errors
	filtered := make([]error, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			filtered = append(filtered, err)
		}
	}
	return &MultiError{Errors: filtered}
}

// Append adds another error, ignoring nil
func (e *MultiError) Append(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// ErrorOrNil returns nil if no errors were collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

// Error implements the error interface
func (e *MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors: %v", len(e.Errors), e.Errors)
}

// Unwrap returns all errors
func (e *MultiError) Unwrap() []error {
	return e.Errors
}
