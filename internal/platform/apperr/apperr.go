// Package apperr defines the error kinds returned by the clinic services and
// how each one is rendered over HTTP.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ValidationError is a client-fixable failure attributed to one or more fields.
type ValidationError struct {
	Fields map[string]string
}

func Validation(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add records another field failure and returns the receiver.
func (e *ValidationError) Add(field, msg string) *ValidationError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ConflictError means a uniqueness or sequence race was lost. The whole
// operation may be re-run once.
type ConflictError struct {
	Resource string
	Message  string
	Err      error
}

func Conflict(resource, msg string, err error) *ConflictError {
	return &ConflictError{Resource: resource, Message: msg, Err: err}
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s conflict: %s: %v", e.Resource, e.Message, e.Err)
	}
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Message)
}

func (e *ConflictError) Unwrap() error { return e.Err }

type PermissionError struct {
	Action   string
	Resource string
	Reason   string
}

func Permission(action, resource, reason string) *PermissionError {
	return &PermissionError{Action: action, Resource: resource, Reason: reason}
}

func (e *PermissionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("permission denied: %s %s: %s", e.Action, e.Resource, e.Reason)
	}
	return fmt.Sprintf("permission denied: %s %s", e.Action, e.Resource)
}

// GatewayKind separates operator problems from network problems.
type GatewayKind string

const (
	// GatewayConfiguration is a missing or rejected credential.
	GatewayConfiguration GatewayKind = "configuration"
	// GatewayTransient covers timeouts, connection errors and 5xx responses.
	GatewayTransient GatewayKind = "transient"
	// GatewayRejected is a well-formed refusal of the request by the provider.
	GatewayRejected GatewayKind = "rejected"
)

type GatewayError struct {
	Kind     GatewayKind
	Provider string
	Message  string
	Err      error
}

func Gateway(kind GatewayKind, provider, msg string, err error) *GatewayError {
	return &GatewayError{Kind: kind, Provider: provider, Message: msg, Err: err}
}

func (e *GatewayError) Error() string {
	s := fmt.Sprintf("%s gateway error (%s): %s", e.Provider, e.Kind, e.Message)
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *GatewayError) Unwrap() error { return e.Err }

type NotFoundError struct {
	Resource string
	ID       string
}

func NotFound(resource string, id interface{}) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: fmt.Sprint(id)}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// InternalError is a server-side failure whose detail stays in the logs.
type InternalError struct {
	Op  string
	Err error
}

func Internal(op string, err error) *InternalError {
	return &InternalError{Op: op, Err: err}
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

func IsPermission(err error) bool {
	var target *PermissionError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// GatewayKindOf returns the kind of the first GatewayError in err's chain.
func GatewayKindOf(err error) (GatewayKind, bool) {
	var target *GatewayError
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return "", false
}
