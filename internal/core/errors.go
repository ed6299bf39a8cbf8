// Copyright (c) 2015 Western Digital Corporation or its affiliates.  All rights reserved.
// SPDX-License-Identifier: MIT

package core

import "fmt"

// Error is our own defined error type for sending errors over an RPC layer.
// It is intentionally not Go's 'error' so it can be sent as a plain value
// in RPC replies; Error() below adapts it to the 'error' interface when one
// is needed.
type Error int

const (
	// NoError means no error.
	NoError = Error(iota)

	// ErrNotFound is returned when a named entity (leader peer, tablet,
	// data item) does not exist where one was expected.
	ErrNotFound

	// ErrInvalidArgument is returned if an argument is bad, confusing, or
	// a reply violates an expected invariant (bad offset, missing address).
	ErrInvalidArgument

	// ErrIllegalState is returned when an operation is attempted from a
	// session or tablet phase that forbids it.
	ErrIllegalState

	// ErrCorruption is returned when a checksum fails to verify.
	ErrCorruption

	// ErrTimedOut is returned when an RPC or session exceeds its deadline.
	ErrTimedOut

	// ErrIO is returned for local file system or block storage failures.
	ErrIO

	// ErrRemoteError is returned when an RPC completes but carries a
	// structured service-specific error extension.
	ErrRemoteError

	// ErrNetworkError is returned for connection-level RPC transport
	// failures (dial failure, connection reset, etc).
	ErrNetworkError

	// ErrAlreadyExists is returned when a one-shot local artifact (file,
	// block) would collide with an existing one.
	ErrAlreadyExists

	// ErrCanceled is returned when an in-flight operation is canceled.
	ErrCanceled

	// ErrUnknown is an error that we're not really sure about.
	ErrUnknown
)

var description = map[Error]string{
	NoError: "no error",

	ErrNotFound:        "not found",
	ErrInvalidArgument: "invalid argument",
	ErrIllegalState:    "illegal state",
	ErrCorruption:      "checksum mismatch, data is corrupt",
	ErrTimedOut:        "timed out",
	ErrIO:              "I/O level error",
	ErrRemoteError:     "remote service returned a structured error",
	ErrNetworkError:    "network connection error",
	ErrAlreadyExists:   "already exists",
	ErrCanceled:        "request canceled",
	ErrUnknown:         "unknown error!!!! contact a programming professional to diagnose",
}

// String returns a human readable error message.
func (e Error) String() string {
	if s, ok := description[e]; ok {
		return s
	}
	return "NO DESCRIPTION FOR ERROR FIX THIS"
}

// Error returns a golang error object with an error message corresponding to
// this core.Error.
func (e Error) Error() error {
	if e == NoError {
		return nil
	}
	return goError(e)
}

// Is checks whether the generic Go error 'g' is actually the receiver Error
// underneath.
func (e Error) Is(g error) bool {
	kind, ok := AsError(g)
	return ok && kind == e
}

// goError is a wrapper type to make our Error act like Go's 'error'
type goError Error

// Error implements the 'error' interface.
func (g goError) Error() string {
	return (Error)(g).String()
}

// detailedError pairs an Error kind with a formatted message, for call sites
// that need to attach detail (an offset mismatch, a remote service's
// message text) while keeping the result classifiable via AsError.
type detailedError struct {
	kind Error
	msg  string
}

func (d detailedError) Error() string { return d.msg }

// Errorf builds an error of kind e carrying a formatted message.
func Errorf(e Error, format string, args ...interface{}) error {
	return detailedError{kind: e, msg: fmt.Sprintf(format, args...)}
}

// AsError gets the underlying core.Error from an error, if there is one.
func AsError(err error) (Error, bool) {
	switch e := err.(type) {
	case goError:
		return Error(e), true
	case detailedError:
		return e.kind, true
	}
	return NoError, false
}

// IsRetriableGoError checks if this is 1) core.Error 2) retriable.
func IsRetriableGoError(err error) bool {
	if e, ok := AsError(err); ok {
		return IsRetriableError(e)
	}
	return false
}

// IsRetriableError checks if we should retry on a given returned error. We
// consider errors that might be transient to be retriable. A single
// bootstrap run never retries internally once a phase has started; this
// classification is for the RPC transport layer only, which may reconnect
// a dropped connection before a call is attempted.
func IsRetriableError(err Error) bool {
	switch err {
	case ErrNetworkError, ErrTimedOut:
		return true
	}
	return false
}
