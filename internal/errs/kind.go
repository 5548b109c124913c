package errs

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for the transport boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidCredentials
	KindAccountLocked
	KindAccountNotVerified
	KindAccountSuspended
	KindInvalidOTP
	KindTooManyOTPRequests
	KindRateLimited
	KindWeakPassword
	KindPasswordsMismatch
	KindInvalidEmail
	KindInvalidUsername
	KindInvalidPhone
	KindValidation
	KindInvalidRefreshToken
	KindTenantNotFound
	KindTenantInactive
	KindInvalidAPIKey
	KindUserAlreadyExists
	KindUserNotFound
	KindInvalidCurrentPassword
	KindUnauthorized
	KindForbidden
	KindNotFound
)

var kindCodes = map[Kind]string{
	KindInternal:               "GEN001",
	KindInvalidCredentials:     "AUTH001",
	KindUserNotFound:           "AUTH002",
	KindUserAlreadyExists:      "AUTH003",
	KindUnauthorized:           "AUTH004",
	KindInvalidRefreshToken:    "AUTH005",
	KindAccountNotVerified:     "AUTH006",
	KindAccountSuspended:       "AUTH007",
	KindAccountLocked:          "AUTH009",
	KindValidation:             "VAL001",
	KindInvalidEmail:           "VAL002",
	KindWeakPassword:           "VAL003",
	KindInvalidPhone:           "VAL004",
	KindInvalidUsername:        "VAL005",
	KindInvalidOTP:             "OTP001",
	KindTooManyOTPRequests:     "OTP003",
	KindInvalidAPIKey:          "APP001",
	KindTenantNotFound:         "APP002",
	KindTenantInactive:         "APP003",
	KindNotFound:               "GEN003",
	KindForbidden:              "GEN004",
	KindRateLimited:            "GEN005",
	KindInvalidCurrentPassword: "USR001",
	KindPasswordsMismatch:      "USR002",
}

// Code returns the stable external error code for the kind.
func (k Kind) Code() string {
	if c, ok := kindCodes[k]; ok {
		return c
	}
	return kindCodes[KindInternal]
}

// Error is the typed failure propagated through every flow.
type Error struct {
	Kind Kind
	Msg  string
	// RetryAfter is set for throttling kinds when a wait time is known.
	RetryAfter time.Duration
	// Err is the underlying cause; never exposed to callers.
	Err error
}

// New builds an Error of the given kind with a caller-visible message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Internal wraps an unexpected failure. The cause is kept for server-side logs only.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Msg: "Internal server error", Err: err}
}

// Locked reports a temporary account lockout with the remaining wait.
func Locked(remaining time.Duration) *Error {
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	return &Error{
		Kind:       KindAccountLocked,
		Msg:        fmt.Sprintf("Account is locked. Try again in %d minutes.", minutes),
		RetryAfter: remaining,
	}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Msg, e.Err)
	}
	return e.Kind.Code() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrInvalidOTP) holds for every InvalidOtp failure.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the caller-visible message of err. Untyped errors never leak their text.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInternal {
		return e.Msg
	}
	return "Internal server error"
}
