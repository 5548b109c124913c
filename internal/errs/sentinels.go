// Package errs contains sentinel errors and the typed error taxonomy used across layers for stable error mapping.
package errs

import "errors"

// Storage-level sentinels returned by repositories.
var (
	// ErrNotFound indicates the requested entity does not exist (or is no longer mutable).
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a conditional write matched no row (state already changed).
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken within a tenant).
	ErrAlreadyExists = errors.New("already exists")
)

// Domain errors with their caller-visible messages.
var (
	ErrInvalidCredentials     = New(KindInvalidCredentials, "Invalid username or password")
	ErrAccountNotVerified     = New(KindAccountNotVerified, "Please verify your email first")
	ErrAccountSuspended       = New(KindAccountSuspended, "Your account has been suspended")
	ErrInvalidOTP             = New(KindInvalidOTP, "Invalid or expired OTP")
	ErrTooManyOTPRequests     = New(KindTooManyOTPRequests, "Too many OTP requests. Please try later")
	ErrRateLimited            = New(KindRateLimited, "Too many requests. Please slow down")
	ErrPasswordsMismatch      = New(KindPasswordsMismatch, "Passwords do not match")
	ErrInvalidEmail           = New(KindInvalidEmail, "Invalid email format")
	ErrInvalidPhone           = New(KindInvalidPhone, "Invalid phone number format")
	ErrInvalidRefreshToken    = New(KindInvalidRefreshToken, "Invalid or expired refresh token")
	ErrTenantNotFound         = New(KindTenantNotFound, "App not found")
	ErrTenantInactive         = New(KindTenantInactive, "App is inactive")
	ErrInvalidAPIKey          = New(KindInvalidAPIKey, "Invalid API key")
	ErrUserAlreadyExists      = New(KindUserAlreadyExists, "User already exists")
	ErrUserNotFound           = New(KindUserNotFound, "User not found")
	ErrInvalidCurrentPassword = New(KindInvalidCurrentPassword, "Current password is incorrect")
	ErrUnauthorized           = New(KindUnauthorized, "Invalid or expired token")
	ErrForbidden              = New(KindForbidden, "Access denied")
	ErrNotFoundResource       = New(KindNotFound, "Resource not found")
)
