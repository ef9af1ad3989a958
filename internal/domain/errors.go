package domain

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	ErrorTypeValidation ErrorType = iota
	ErrorTypeNotFound
	ErrorTypeConflict
	ErrorTypeTransient
	ErrorTypeInternal
)

// Error is the typed execution error surfaced across component boundaries.
// Transient store faults never escape as Error; they are retried at the
// storage layer and only promoted after retries are exhausted.
type Error struct {
	Type    ErrorType
	Message string
	Details map[string]interface{}
}

func (e Error) Error() string {
	return e.Message
}

type StorageError struct {
	Type    ErrorType
	Key     string
	Message string
}

func (e *StorageError) Error() string {
	return e.Message
}

func NewKeyNotFoundError(key string) *StorageError {
	return &StorageError{
		Type:    ErrorTypeNotFound,
		Key:     key,
		Message: "key not found: " + key,
	}
}

func NewTransientStorageError(key string, err error) *StorageError {
	return &StorageError{
		Type:    ErrorTypeTransient,
		Key:     key,
		Message: fmt.Sprintf("transient storage failure for key %s: %v", key, err),
	}
}

var (
	ErrClosed          = errors.New("store is closed")
	ErrNotFound        = errors.New("resource not found")
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrTimeout         = errors.New("operation timeout")
	ErrConnection      = errors.New("connection error")
	ErrInvalidInput    = errors.New("invalid input")
	ErrAlreadyStarted  = errors.New("component already started")
	ErrAlreadyShutdown = errors.New("component already shutdown")
	ErrNotStarted      = errors.New("component not started")
)

func NewValidationError(field, message string) Error {
	return Error{
		Type:    ErrorTypeValidation,
		Message: fmt.Sprintf("validation failed for field %s: %s", field, message),
		Details: map[string]interface{}{"field": field},
	}
}

func NewNotFoundError(resource, id string) Error {
	return Error{
		Type:    ErrorTypeNotFound,
		Message: fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewConflictError(resource, id, message string) Error {
	return Error{
		Type:    ErrorTypeConflict,
		Message: message,
		Details: map[string]interface{}{"resource": resource, "id": id},
	}
}

func NewInternalError(message string, err error) Error {
	details := map[string]interface{}{}
	if err != nil {
		details["error"] = err.Error()
	}
	return Error{
		Type:    ErrorTypeInternal,
		Message: message,
		Details: details,
	}
}

func IsValidation(err error) bool {
	var e Error
	return errors.As(err, &e) && e.Type == ErrorTypeValidation
}

func IsConflict(err error) bool {
	var e Error
	return errors.As(err, &e) && e.Type == ErrorTypeConflict
}

func IsNotFound(err error) bool {
	if errors.Is(err, ErrNotFound) {
		return true
	}
	var e Error
	if errors.As(err, &e) && e.Type == ErrorTypeNotFound {
		return true
	}
	var se *StorageError
	return errors.As(err, &se) && se.Type == ErrorTypeNotFound
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var se *StorageError
	if errors.As(err, &se) && se.Type == ErrorTypeTransient {
		return true
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "i/o timeout") ||
		strings.Contains(errStr, "Transaction Conflict")
}

func IsKeyNotFound(err error) bool {
	if err == nil {
		return false
	}
	if IsNotFound(err) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "key not found") ||
		strings.Contains(errStr, "no such key") ||
		strings.Contains(errStr, "not found")
}
