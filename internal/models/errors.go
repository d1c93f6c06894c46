package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes for structured error handling.
const (
	ErrCodeAuth       = "AUTH_ERROR"
	ErrCodeInvalidKey = "INVALID_KEY"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodePartial    = "PARTIAL_FAILURE"
	ErrCodeTransport  = "TRANSPORT_ERROR"
	ErrCodeConfig     = "CONFIG_ERROR"
)

// Sentinel errors
var (
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrFolderUnsupported = errors.New("operation is only supported for files")
	ErrSearchUnsupported = errors.New("search is not supported by this backend")
)

// APIError is the error body returned by the backend.
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message"`
	Status     string `json:"statusCode,omitempty"`
	StatusCode int    `json:"-"`
	RequestID  string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

// InvalidKeyError is raised client-side before a request reaches the backend.
type InvalidKeyError struct {
	Key string
}

func (e *InvalidKeyError) Error() string {
	return fmt.Sprintf("path '%s' contains invalid characters", e.Key)
}

// ConflictError means an object already exists at Path.
type ConflictError struct {
	Path string
	Err  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("object already exists: %s", e.Path)
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NotFoundError covers missing buckets and objects.
type NotFoundError struct {
	Resource string
	Path     string
	Err      error
}

func (e *NotFoundError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.Path)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// PartialFailure is a degraded success of a batch operation.
type PartialFailure struct {
	Op        string
	Requested int
	Confirmed int
	Failed    []string
}

func (e *PartialFailure) Error() string {
	return fmt.Sprintf("%s: %d / %d confirmed (failed: %s)",
		e.Op, e.Confirmed, e.Requested, strings.Join(e.Failed, ", "))
}

// TransportError wraps network and unclassified backend failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// AuthError is a rejected sign-in, sign-up or refresh.
type AuthError struct {
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return "authentication failed: " + e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// ErrorCode returns the code for err, or "" when it is not part of the taxonomy.
func ErrorCode(err error) string {
	var (
		ik *InvalidKeyError
		ce *ConflictError
		nf *NotFoundError
		pf *PartialFailure
		te *TransportError
		ae *AuthError
	)
	switch {
	case errors.Is(err, ErrNotAuthenticated), errors.As(err, &ae):
		return ErrCodeAuth
	case errors.Is(err, ErrInvalidConfig):
		return ErrCodeConfig
	case errors.As(err, &ik):
		return ErrCodeInvalidKey
	case errors.As(err, &ce):
		return ErrCodeConflict
	case errors.As(err, &nf):
		return ErrCodeNotFound
	case errors.As(err, &pf):
		return ErrCodePartial
	case errors.As(err, &te):
		return ErrCodeTransport
	}
	return ""
}
