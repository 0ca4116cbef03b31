package errcode

import (
	"context"
	"errors"
	"net/http"
)

// 错误码约定：
// - 0：无错误
// - 4xxx：调用方可恢复的错误（输入缺失、凭证失效、上游拒绝）
// - 5xxx：系统或网络错误
const (
	OK               = 0
	ValidationFailed = 4000
	AuthFailed       = 4001
	ServiceRejected  = 4022
	SystemError      = 5000
	TransportFailure = 5020
)

// Kind classifies failures crossing a component boundary.
type Kind int

const (
	KindSystem Kind = iota
	KindValidation
	KindAuth
	KindTransport
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failure"
	case KindAuth:
		return "auth_failure"
	case KindTransport:
		return "transport_failure"
	case KindRejected:
		return "service_rejected"
	default:
		return "system_error"
	}
}

// Code returns the numeric code published in notifications.
func (k Kind) Code() int {
	switch k {
	case KindValidation:
		return ValidationFailed
	case KindAuth:
		return AuthFailed
	case KindTransport:
		return TransportFailure
	case KindRejected:
		return ServiceRejected
	default:
		return SystemError
	}
}

// Error carries a Kind alongside a user-facing message and the wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// StatusCode maps the kind to an HTTP status.
func (e *Error) StatusCode() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindTransport:
		return http.StatusBadGateway
	case KindRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) error { return &Error{Kind: KindValidation, Message: msg} }
func Auth(msg string) error       { return &Error{Kind: KindAuth, Message: msg} }

func Rejected(msg string, err error) error {
	return &Error{Kind: KindRejected, Message: msg, Err: err}
}

func Transport(msg string, err error) error {
	return &Error{Kind: KindTransport, Message: msg, Err: err}
}

// KindOf classifies err. Context deadlines and cancellations count as transport failures.
func KindOf(err error) Kind {
	if err == nil {
		return KindSystem
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransport
	}
	return KindSystem
}

// Message returns the user-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
