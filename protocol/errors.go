package protocol

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies protocol failures. Kinds are part of the wire
// contract: callers use them to distinguish misconfiguration (wrong key,
// clock drift, pool mismatch) from transient server trouble.
type ErrorKind string

const (
	KindSchemaInvalid       ErrorKind = "schema_invalid"
	KindSignatureInvalid    ErrorKind = "signature_invalid"
	KindTimestampOutOfRange ErrorKind = "timestamp_out_of_range"
	KindNonceDuplicate      ErrorKind = "nonce_duplicate"
	KindUnknownAuction      ErrorKind = "unknown_auction"
	KindWindowClosed        ErrorKind = "window_closed"
	KindNotInvited          ErrorKind = "not_invited"
	KindDuplicateBid        ErrorKind = "duplicate_bid"
	KindConflict            ErrorKind = "conflict"
	KindTerminalState       ErrorKind = "terminal_state"
	KindStorageUnavailable  ErrorKind = "storage_unavailable"
	KindInternal            ErrorKind = "internal"
)

// HTTPStatus maps the kind to the status code the HTTP surface returns.
// Transport-security rejections share the 401 class; unknown auctions are
// 404; conflicts with existing state are 409.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindSchemaInvalid:
		return http.StatusBadRequest
	case KindSignatureInvalid, KindTimestampOutOfRange, KindNonceDuplicate,
		KindWindowClosed, KindNotInvited, KindDuplicateBid:
		return http.StatusUnauthorized
	case KindUnknownAuction:
		return http.StatusNotFound
	case KindConflict, KindTerminalState:
		return http.StatusConflict
	case KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified protocol failure.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds a classified error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the kind from err, funnelling unclassified errors to
// KindInternal.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// AsError converts err into a protocol error, wrapping unclassified errors
// as KindInternal so that callers always receive a structured failure.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}
