// Package apperr defines the error taxonomy shared by every layer.
//
// An *Error carries a Kind (how the caller should react) and a Code (what
// exactly went wrong). Handlers map kinds to transport statuses; services
// construct errors with the helpers below.
package apperr

import (
	"errors"
	"fmt"
)

// Kind groups codes by the reaction expected from the caller.
type Kind string

const (
	// KindValidation is malformed input. Surface for correction, never retry.
	KindValidation Kind = "validation"
	// KindConflict is a state conflict. Safe to re-check and no-op.
	KindConflict Kind = "conflict"
	// KindAuth is the authentication failure family.
	KindAuth Kind = "auth"
	// KindForbidden means the caller's tier or role is insufficient.
	KindForbidden Kind = "forbidden"
	// KindNotFound means the addressed record does not exist.
	KindNotFound Kind = "not_found"
	// KindTransient is a store-level failure. Writes must not be retried blindly.
	KindTransient Kind = "transient"
)

// Code identifies a specific failure.
type Code string

const (
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeInvalidCallSign   Code = "INVALID_CALL_SIGN"
	CodeInvalidCodeFormat Code = "INVALID_CODE_FORMAT"
	CodeInvalidInvite     Code = "INVALID_INVITE"

	CodeAlreadyEnrolled      Code = "ALREADY_ENROLLED"
	CodeCallSignTaken        Code = "CALL_SIGN_TAKEN"
	CodeEnrollmentNotStarted Code = "ENROLLMENT_NOT_STARTED"
	CodeNotEnrolled          Code = "NOT_ENROLLED"
	CodeAlreadyAdmitted      Code = "ALREADY_ADMITTED"
	CodeReviewRequired       Code = "REVIEW_REQUIRED"
	CodeRequestExists        Code = "REQUEST_EXISTS"
	CodeNotPending           Code = "NOT_PENDING"
	CodeCancelNotAllowed     Code = "CANCEL_NOT_ALLOWED"
	CodeEventStarted         Code = "EVENT_STARTED"
	CodeAlreadyCheckedIn     Code = "ALREADY_CHECKED_IN"
	CodePassRevoked          Code = "PASS_REVOKED"
	CodePassNotClaimed       Code = "PASS_NOT_CLAIMED"
	CodeWrongEvent           Code = "WRONG_EVENT"

	CodeInvalidCode         Code = "INVALID_CODE"
	CodeInvalidRecoveryCode Code = "INVALID_RECOVERY_CODE"
	CodeNewDeviceDetected   Code = "NEW_DEVICE_DETECTED"
	CodeAccountLocked       Code = "ACCOUNT_LOCKED"
	CodeInvalidPassPayload  Code = "INVALID_PASS_PAYLOAD"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeUnauthenticated     Code = "UNAUTHENTICATED"

	CodeInsufficientTier Code = "INSUFFICIENT_TIER"

	CodeEventNotFound   Code = "EVENT_NOT_FOUND"
	CodePassNotFound    Code = "PASS_NOT_FOUND"
	CodeRequestNotFound Code = "REQUEST_NOT_FOUND"
	CodeInviteNotFound  Code = "INVITE_NOT_FOUND"

	CodeTransientFailure Code = "TRANSIENT_FAILURE"
)

var kinds = map[Code]Kind{
	CodeInvalidInput:      KindValidation,
	CodeInvalidCallSign:   KindValidation,
	CodeInvalidCodeFormat: KindValidation,
	CodeInvalidInvite:     KindValidation,

	CodeAlreadyEnrolled:      KindConflict,
	CodeCallSignTaken:        KindConflict,
	CodeEnrollmentNotStarted: KindConflict,
	CodeNotEnrolled:          KindConflict,
	CodeAlreadyAdmitted:      KindConflict,
	CodeReviewRequired:       KindConflict,
	CodeRequestExists:        KindConflict,
	CodeNotPending:           KindConflict,
	CodeCancelNotAllowed:     KindConflict,
	CodeEventStarted:         KindConflict,
	CodeAlreadyCheckedIn:     KindConflict,
	CodePassRevoked:          KindConflict,
	CodePassNotClaimed:       KindConflict,
	CodeWrongEvent:           KindConflict,

	CodeInvalidCode:         KindAuth,
	CodeInvalidRecoveryCode: KindAuth,
	CodeNewDeviceDetected:   KindAuth,
	CodeAccountLocked:       KindAuth,
	CodeInvalidPassPayload:  KindAuth,
	CodeRateLimited:         KindAuth,
	CodeUnauthenticated:     KindAuth,

	CodeInsufficientTier: KindForbidden,

	CodeEventNotFound:   KindNotFound,
	CodePassNotFound:    KindNotFound,
	CodeRequestNotFound: KindNotFound,
	CodeInviteNotFound:  KindNotFound,

	CodeTransientFailure: KindTransient,
}

// Error is the concrete error type returned across package boundaries.
type Error struct {
	Kind    Kind              `json:"-"`
	Code    Code              `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	Err     error             `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Option customises an Error at construction.
type Option func(*Error)

// WithDetail attaches a key/value pair for the client.
func WithDetail(key, value string) Option {
	return func(e *Error) {
		if e.Details == nil {
			e.Details = make(map[string]string)
		}
		e.Details[key] = value
	}
}

// WithErr records the underlying cause.
func WithErr(err error) Option {
	return func(e *Error) { e.Err = err }
}

// New builds an Error whose kind is derived from code.
func New(code Code, message string, opts ...Option) *Error {
	kind, ok := kinds[code]
	if !ok {
		kind = KindTransient
	}
	e := &Error{Kind: kind, Code: code, Message: message}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Transient wraps a store failure.
func Transient(err error) *Error {
	return New(CodeTransientFailure, "temporary failure, try again", WithErr(err))
}

// As extracts the *Error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	e, ok := As(err)
	return ok && e.Code == code
}

// KindOf returns the kind of err, or KindTransient for foreign errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindTransient
}

// Normalize passes *Error values through and wraps anything else as
// transient, so services surface a single error type.
func Normalize(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return Transient(err)
}
