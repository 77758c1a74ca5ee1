// Copyright 2026 Google LLC
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package util

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorCategory string

const (
	CategoryConfiguration  ErrorCategory = "CONFIGURATION_ERROR"
	CategoryAuthentication ErrorCategory = "AUTHENTICATION_ERROR"
	CategoryState          ErrorCategory = "STATE_ERROR"
	CategoryExecution      ErrorCategory = "EXECUTION_ERROR"
	CategoryCancelled      ErrorCategory = "CANCELLED"
)

// TabularError is the interface all custom errors must satisfy
type TabularError interface {
	error
	Category() ErrorCategory
	Unwrap() error
}

// ConfigurationError reports a malformed or missing connection parameter.
type ConfigurationError struct {
	Msg   string
	Cause error
}

var _ TabularError = &ConfigurationError{}

func (e *ConfigurationError) Error() string { return format(e.Msg, e.Cause) }

func (e *ConfigurationError) Category() ErrorCategory { return CategoryConfiguration }

func (e *ConfigurationError) Unwrap() error { return e.Cause }

func NewConfigurationError(msg string, cause error) *ConfigurationError {
	return &ConfigurationError{Msg: msg, Cause: cause}
}

// AuthenticationError reports that no credential applied or that a token
// request was rejected.
type AuthenticationError struct {
	Msg   string
	Cause error
}

var _ TabularError = &AuthenticationError{}

func (e *AuthenticationError) Error() string { return format(e.Msg, e.Cause) }

func (e *AuthenticationError) Category() ErrorCategory { return CategoryAuthentication }

func (e *AuthenticationError) Unwrap() error { return e.Cause }

func NewAuthenticationError(msg string, cause error) *AuthenticationError {
	return &AuthenticationError{Msg: msg, Cause: cause}
}

// StateError reports an operation that conflicts with the current state of
// the target, such as a role change while the database is processing.
type StateError struct {
	Msg   string
	Cause error
}

var _ TabularError = &StateError{}

func (e *StateError) Error() string { return format(e.Msg, e.Cause) }

func (e *StateError) Category() ErrorCategory { return CategoryState }

func (e *StateError) Unwrap() error { return e.Cause }

func NewStateError(msg string, cause error) *StateError {
	return &StateError{Msg: msg, Cause: cause}
}

// ExecutionError carries a failure reported by the analytical server. Code
// and ServerMessage are copied verbatim from the server response when known.
type ExecutionError struct {
	Msg           string
	Code          string
	ServerMessage string
	Cause         error
}

var _ TabularError = &ExecutionError{}

func (e *ExecutionError) Error() string {
	msg := e.Msg
	if e.ServerMessage != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.ServerMessage)
		if e.Code != "" {
			msg = fmt.Sprintf("%s (code %s)", msg, e.Code)
		}
		return msg
	}
	return format(msg, e.Cause)
}

func (e *ExecutionError) Category() ErrorCategory { return CategoryExecution }

func (e *ExecutionError) Unwrap() error { return e.Cause }

func NewExecutionError(msg string, cause error) *ExecutionError {
	return &ExecutionError{Msg: msg, Cause: cause}
}

// CancelledError marks an operation aborted on request of the caller. It is
// not a failure of the server.
type CancelledError struct {
	Msg   string
	Cause error
}

var _ TabularError = &CancelledError{}

func (e *CancelledError) Error() string { return format(e.Msg, e.Cause) }

func (e *CancelledError) Category() ErrorCategory { return CategoryCancelled }

func (e *CancelledError) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, context.Canceled) hold for any cancellation.
func (e *CancelledError) Is(target error) bool { return target == context.Canceled }

func NewCancelledError(msg string, cause error) *CancelledError {
	return &CancelledError{Msg: msg, Cause: cause}
}

func format(msg string, cause error) string {
	if cause != nil {
		return fmt.Sprintf("%s: %v", msg, cause)
	}
	return msg
}

// CheckContext returns a CancelledError when ctx is already done.
func CheckContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return NewCancelledError(op+" cancelled", err)
	}
	return nil
}

// WrapContextError converts context errors surfacing from a blocking call into
// a CancelledError and leaves everything else untouched.
func WrapContextError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	var tErr TabularError
	if errors.As(err, &tErr) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewCancelledError(op+" cancelled", err)
	}
	return err
}

// CategoryOf returns the category of err, or "" when err carries none.
func CategoryOf(err error) ErrorCategory {
	var tErr TabularError
	if errors.As(err, &tErr) {
		return tErr.Category()
	}
	return ""
}

// HTTPStatus maps an error onto the status code returned by the API.
func HTTPStatus(err error) int {
	switch CategoryOf(err) {
	case CategoryConfiguration:
		return http.StatusBadRequest
	case CategoryAuthentication:
		return http.StatusUnauthorized
	case CategoryState:
		return http.StatusConflict
	case CategoryExecution:
		return http.StatusBadGateway
	case CategoryCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}
