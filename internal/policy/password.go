// Package policy validates user-supplied credentials and identity fields against tenant rules.
package policy

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
)

// maxMinLength caps a tenant's minimum length so the policy stays satisfiable under bcrypt.
const maxMinLength = 72

// ValidatePassword checks password against p and reports every violated rule in one WeakPassword error.
func ValidatePassword(password string, p model.PasswordPolicy) error {
	var violations []string
	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		case !unicode.IsLetter(r):
			hasSpecial = true
		}
	}

	if n := len([]rune(password)); n < p.MinLength {
		violations = append(violations, fmt.Sprintf("Password must be at least %d characters", p.MinLength))
	}
	if p.RequireUppercase && !hasUpper {
		violations = append(violations, "Password must contain at least one uppercase letter")
	}
	if p.RequireLowercase && !hasLower {
		violations = append(violations, "Password must contain at least one lowercase letter")
	}
	if p.RequireDigit && !hasDigit {
		violations = append(violations, "Password must contain at least one number")
	}
	if p.RequireSpecial && !hasSpecial {
		violations = append(violations, "Password must contain at least one special character")
	}

	if len(violations) > 0 {
		return errs.New(errs.KindWeakPassword, strings.Join(violations, ". "))
	}
	return nil
}

// PasswordsMatch fails with PasswordsMismatch when confirm differs from password.
func PasswordsMatch(password, confirm string) error {
	if password != confirm {
		return errs.ErrPasswordsMismatch
	}
	return nil
}

// ValidatePolicy rejects tenant password policies that cannot be satisfied or are too weak to be useful.
func ValidatePolicy(p model.PasswordPolicy) error {
	if p.MinLength < 6 || p.MinLength > maxMinLength {
		return errs.Newf(errs.KindValidation, "min password length must be between 6 and %d", maxMinLength)
	}
	return nil
}
