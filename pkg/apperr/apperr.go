// Package apperr holds the numeric API response codes spec.md §4.10's
// envelope carries in its `code` field, mirroring SRS's convention of a
// flat integer error-code space rather than typed API errors.
package apperr

import "errors"

// Code is a numeric API response code. Zero is always success.
type Code int

const (
	Success Code = 0

	// StreamDisposing is returned when a mount attempt lands on an
	// entry still tearing down from a prior unmount (spec.md §7).
	StreamDisposing Code = 2001
	// StreamNotFound is returned when a viewer or API request targets
	// a stream that is not live or not mounted (spec.md §7).
	StreamNotFound Code = 2002
	// InvalidRequest covers malformed query parameters or JSON bodies.
	InvalidRequest Code = 2003
	// ProtocolMalformed covers RTP/STUN/SDP parse failures surfaced
	// up through an API or hook response rather than dropped silently.
	ProtocolMalformed Code = 2004
	// SecurityFailure covers SRTP/DTLS failures surfaced to a caller.
	SecurityFailure Code = 2005
	// ResourceExhausted covers ring overflow / zombie backlog
	// conditions that escalate to an API-visible failure.
	ResourceExhausted Code = 2006
	// RawAPIDisabled is returned by the raw rpc facet when
	// get_raw_api_enabled is false.
	RawAPIDisabled Code = 2007
	// RawAPIReloadDisabled is returned by rpc=reload when
	// get_raw_api_allow_reload is false.
	RawAPIReloadDisabled Code = 2008
	// Internal covers anything else: a wrapped lower-layer error with
	// no more specific code assigned.
	Internal Code = 2999
)

// Error pairs a Code with the underlying cause, letting API handlers
// propagate both a stable numeric code and a human-readable message
// without the caller needing to re-derive one from the other.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given code and message and no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an *Error carrying both a code and an underlying cause,
// the pattern used everywhere an internal error crosses into an API
// response (the layer that "frees" the error, in spec.md §7's terms,
// is whichever handler converts it into an envelope).
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the numeric code from err if it (or something it
// wraps) is an *Error, defaulting to Internal for anything else —
// matching SRS's srs_api_response_code behavior of always emitting
// *some* code even for an untyped error.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return Internal
}
