// Copyright 2021-present the routeq authors. All rights reserved.
// Use of this source code is governed by a MIT-license.
// See LICENSE.txt for details.

package routeq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound must be returned from Broker implementations when a
	// certain job could not be found.
	ErrNotFound = errors.New("routeq: job not found")

	// ErrClosed is returned from blocking Broker operations after the
	// broker has been closed.
	ErrClosed = errors.New("routeq: broker closed")
)

// Kind classifies an error so that callers (most importantly the broker
// retry policy) can decide how to react without inspecting messages.
type Kind string

const (
	// KindInvalidInput marks a bad payload shape. Never retried.
	KindInvalidInput Kind = "invalid_input"
	// KindServiceUnavailable marks a transient provider or network
	// failure. Retryable per broker policy.
	KindServiceUnavailable Kind = "service_unavailable"
	// KindBadRequest marks a request the provider rejected. Not
	// retryable; carries the provider's status code.
	KindBadRequest Kind = "bad_request"
	// KindPersistence marks a failed store write. Retryable up to
	// MaxAttempts.
	KindPersistence Kind = "persistence"
	// KindBrokerUnavailable marks an infrastructure-level queue failure,
	// surfaced synchronously to the enqueueing caller.
	KindBrokerUnavailable Kind = "broker_unavailable"
)

// Error is a classified error. It carries the kind and, for provider
// rejections, the provider's status code.
type Error struct {
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"statuscode,omitempty"` // provider status for KindBadRequest
	Err        error  `json:"-"`                    // wrapped cause, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("routeq: %s: %v", e.Message, e.Err)
	}
	return "routeq: " + e.Message
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// InvalidInput returns an error of kind KindInvalidInput.
func InvalidInput(format string, args ...interface{}) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// ServiceUnavailable wraps a transient failure.
func ServiceUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindServiceUnavailable, Message: message, Err: cause}
}

// BadRequest returns an error of kind KindBadRequest with the provider's
// status code attached.
func BadRequest(statusCode int, message string) *Error {
	return &Error{Kind: KindBadRequest, Message: message, StatusCode: statusCode}
}

// PersistenceFailure wraps a failed store write.
func PersistenceFailure(message string, cause error) *Error {
	return &Error{Kind: KindPersistence, Message: message, Err: cause}
}

// BrokerUnavailable wraps an infrastructure-level queue failure.
func BrokerUnavailable(message string, cause error) *Error {
	return &Error{Kind: KindBrokerUnavailable, Message: message, Err: cause}
}

// KindOf returns the kind of err, or the empty string for unclassified
// errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a failed attempt with the given cause should
// be retried. Invalid input and provider rejections fail the job
// immediately; everything else, including unclassified errors, is
// considered transient.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindBadRequest:
		return false
	}
	return true
}
