package errors

import (
	goerrors "errors"
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// Kind classifies a domain failure. Each kind maps to exactly one HTTP status.
type Kind string

const (
	KindValidationFailed  Kind = "VALIDATION_FAILED"
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindForbidden         Kind = "FORBIDDEN"
	KindInvalidRecipient  Kind = "INVALID_RECIPIENT"
	KindInvalidTransition Kind = "INVALID_TRANSITION"
	KindNotFound          Kind = "NOT_FOUND"
	KindConflict          Kind = "CONFLICT"
	KindLedger            Kind = "LEDGER_ERROR"
	KindEventNotFound     Kind = "EVENT_NOT_FOUND"
	KindPersistence       Kind = "PERSISTENCE_ERROR"
	KindInvalidPayload    Kind = "INVALID_PAYLOAD"
)

var statusCodes = map[Kind]int{
	KindValidationFailed:  http.StatusBadRequest,
	KindUnauthorized:      http.StatusUnauthorized,
	KindForbidden:         http.StatusForbidden,
	KindInvalidRecipient:  http.StatusUnprocessableEntity,
	KindInvalidTransition: http.StatusUnprocessableEntity,
	KindNotFound:          http.StatusNotFound,
	KindConflict:          http.StatusConflict,
	KindLedger:            http.StatusBadGateway,
	KindEventNotFound:     http.StatusInternalServerError,
	KindPersistence:       http.StatusInternalServerError,
	KindInvalidPayload:    http.StatusBadRequest,
}

type Error struct {
	Kind    Kind
	Message string
	// TxHash is set once a ledger transaction exists for the failed operation.
	TxHash string
	// Reason carries the ledger's revert reason when there is one.
	Reason string
	cause  error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to err. A nil err returns nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg, cause: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	if e.cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) WithTxHash(txHash string) *Error {
	e.TxHash = txHash
	return e
}

func (e *Error) WithReason(reason string) *Error {
	e.Reason = reason
	return e
}

func (e *Error) StatusCode() int {
	if code, ok := statusCodes[e.Kind]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// ToHTTPError renders the error for the API. Internal causes are not exposed.
func (e *Error) ToHTTPError() *httperror.HTTPError {
	msg := e.Message
	if e.Reason != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Reason)
	}
	httpErr := httperror.NewHTTPError(e.StatusCode(), msg).AddMetaValue("kind", string(e.Kind))
	if e.TxHash != "" {
		httpErr = httpErr.AddMetaValue("tx_hash", e.TxHash)
	}
	if e.Reason != "" {
		httpErr = httpErr.AddMetaValue("reason", e.Reason)
	}
	return httpErr
}

func ValidationFailed(format string, args ...any) *Error {
	return Newf(KindValidationFailed, format, args...)
}

func Unauthorized(format string, args ...any) *Error {
	return Newf(KindUnauthorized, format, args...)
}

func Forbidden(format string, args ...any) *Error {
	return Newf(KindForbidden, format, args...)
}

func InvalidRecipient(format string, args ...any) *Error {
	return Newf(KindInvalidRecipient, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return Newf(KindInvalidTransition, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return Newf(KindNotFound, format, args...)
}

func Conflict(format string, args ...any) *Error {
	return Newf(KindConflict, format, args...)
}

func InvalidPayload(format string, args ...any) *Error {
	return Newf(KindInvalidPayload, format, args...)
}

// Ledger reports a rejected, reverted or unconfirmed ledger operation.
func Ledger(err error, msg string) *Error {
	if err == nil {
		return New(KindLedger, msg)
	}
	return Wrap(KindLedger, err, msg)
}

// EventNotFound reports a confirmed transaction missing its expected event.
func EventNotFound(eventName, txHash string) *Error {
	return Newf(KindEventNotFound, "event %s not found in transaction", eventName).WithTxHash(txHash)
}

// Persistence reports a mirror write that failed after the ledger confirmed.
func Persistence(err error, txHash string) *Error {
	return Wrap(KindPersistence, err, "ledger operation confirmed but mirror write failed").WithTxHash(txHash)
}

// As returns the domain error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if goerrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the domain error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// ToHTTPError converts domain errors for the API and passes anything else through.
func ToHTTPError(err error) error {
	if e, ok := As(err); ok {
		return e.ToHTTPError()
	}
	return err
}
