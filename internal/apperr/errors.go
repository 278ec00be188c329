// Package apperr defines the error taxonomy shared by the order, cart and
// inventory packages and its mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for the request boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindAccessDenied
	KindIllegalTransition
	KindPaymentNotCompleted
	KindGateway
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindAccessDenied:
		return "access_denied"
	case KindIllegalTransition:
		return "illegal_transition"
	case KindPaymentNotCompleted:
		return "payment_not_completed"
	case KindGateway:
		return "gateway_error"
	case KindConflict:
		return "conflict"
	default:
		return "internal_error"
	}
}

// HTTPStatus returns the status code a handler should respond with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAccessDenied:
		return http.StatusForbidden
	case KindIllegalTransition, KindConflict:
		return http.StatusConflict
	case KindPaymentNotCompleted:
		return http.StatusPaymentRequired
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a typed, recoverable failure. Code is a stable machine-readable
// identifier (e.g. "empty_order", "order_not_found").
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and code, so sentinels like ErrOrderNotFound
// can be compared with errors.Is even after wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Code == "" || e.Code == t.Code)
}

func newf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return newf(KindValidation, code, format, args...)
}

func NotFound(code, format string, args ...any) *Error {
	return newf(KindNotFound, code, format, args...)
}

func AccessDenied(format string, args ...any) *Error {
	return newf(KindAccessDenied, "access_denied", format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return newf(KindConflict, code, format, args...)
}

func PaymentNotCompleted(format string, args ...any) *Error {
	return newf(KindPaymentNotCompleted, "payment_not_completed", format, args...)
}

// Gateway wraps a failure of the payment gateway collaborator.
func Gateway(err error, format string, args ...any) *Error {
	e := newf(KindGateway, "gateway_error", format, args...)
	e.Err = err
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrAccessDenied = &Error{Kind: KindAccessDenied}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrGateway      = &Error{Kind: KindGateway}

	ErrOrderNotFound       = &Error{Kind: KindNotFound, Code: "order_not_found"}
	ErrItemNotFound        = &Error{Kind: KindNotFound, Code: "item_not_found"}
	ErrEmptyOrder          = &Error{Kind: KindValidation, Code: "empty_order"}
	ErrPaymentNotCompleted = &Error{Kind: KindPaymentNotCompleted, Code: "payment_not_completed"}
)

// kinded is implemented by domain errors that live outside this package
// (e.g. orders.IllegalTransitionError).
type kinded interface {
	Kind() Kind
}

// KindOf reports the classification of err; unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}
