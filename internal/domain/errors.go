// Package domain defines core types, interfaces, and errors for the conditions database.
package domain

import (
	"fmt"
	"strings"
)

// NotFoundError indicates a resource was not found.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates invalid input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ConflictError indicates a conflict (e.g., duplicate resource).
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ConfigurationError indicates bad or missing connection parameters, an
// unusable deployment profile, or a conflicting table registration.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string { return e.Message }

// ConditionsNotFoundError indicates that no validity interval covers the
// requested run for a named conditions set.
type ConditionsNotFoundError struct {
	Name string
	Run  int
	Tag  string
}

func (e *ConditionsNotFoundError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("no conditions %q found for run %d with tag %q", e.Name, e.Run, e.Tag)
	}
	return fmt.Sprintf("no conditions %q found for run %d", e.Name, e.Run)
}

// AmbiguousConditionsError indicates that several validity intervals matched
// and the configured MultipleCollectionsAction does not resolve them.
type AmbiguousConditionsError struct {
	Name          string
	Run           int
	CollectionIDs []int64
}

func (e *AmbiguousConditionsError) Error() string {
	ids := make([]string, len(e.CollectionIDs))
	for i, id := range e.CollectionIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("ambiguous conditions %q for run %d: collections [%s] overlap",
		e.Name, e.Run, strings.Join(ids, ", "))
}

// UnregisteredConverterError indicates a conditions type was requested that
// has no converter registered with the manager.
type UnregisteredConverterError struct {
	Type string
}

func (e *UnregisteredConverterError) Error() string {
	return fmt.Sprintf("no conditions converter registered for type %s", e.Type)
}

// DatabaseError wraps a driver failure (connectivity, syntax, constraint
// violation) together with the operation and statement that caused it.
type DatabaseError struct {
	Op    string
	Query string
	Err   error
}

func (e *DatabaseError) Error() string {
	if e.Query != "" {
		return fmt.Sprintf("database %s failed: %v (query: %s)", e.Op, e.Err, e.Query)
	}
	return fmt.Sprintf("database %s failed: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// DatabaseObjectError indicates an invalid state transition on a single
// conditions object or collection, such as updating a row never inserted.
type DatabaseObjectError struct {
	Message string
	Table   string
	RowID   int64
}

func (e *DatabaseObjectError) Error() string {
	if e.Table == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (table %s, row %d)", e.Message, e.Table, e.RowID)
}

// IllegalStateError indicates an operation was called in a state that does
// not allow it, such as reading conditions before a detector is set.
type IllegalStateError struct {
	Message string
}

func (e *IllegalStateError) Error() string { return e.Message }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrConflict creates a ConflictError with a formatted message.
func ErrConflict(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// ErrConfiguration creates a ConfigurationError with a formatted message.
func ErrConfiguration(format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Message: fmt.Sprintf(format, args...)}
}

// ErrIllegalState creates an IllegalStateError with a formatted message.
func ErrIllegalState(format string, args ...interface{}) *IllegalStateError {
	return &IllegalStateError{Message: fmt.Sprintf(format, args...)}
}

// ErrDatabase wraps err in a DatabaseError. It returns nil when err is nil.
func ErrDatabase(op, query string, err error) error {
	if err == nil {
		return nil
	}
	return &DatabaseError{Op: op, Query: query, Err: err}
}

// ErrDatabaseObject creates a DatabaseObjectError for the given row.
func ErrDatabaseObject(table string, rowID int64, format string, args ...interface{}) *DatabaseObjectError {
	return &DatabaseObjectError{Message: fmt.Sprintf(format, args...), Table: table, RowID: rowID}
}
