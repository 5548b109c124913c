package policy

import (
	"regexp"
	"strings"

	"github.com/and161185/tenantauth/internal/errs"
)

var (
	emailRe    = regexp.MustCompile(`^[A-Za-z0-9+_.-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`)
	usernameRe = regexp.MustCompile(`^[a-z0-9_]{3,30}$`)
	phoneRe    = regexp.MustCompile(`^\+?[1-9]\d{6,14}$`)
	phoneStrip = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// NormalizeEmail trims and lowercases email and checks its format.
func NormalizeEmail(email string) (string, error) {
	e := strings.ToLower(strings.TrimSpace(email))
	if !emailRe.MatchString(e) {
		return "", errs.ErrInvalidEmail
	}
	return e, nil
}

// NormalizeUsername trims and lowercases username and checks its format.
func NormalizeUsername(username string) (string, error) {
	u := strings.ToLower(strings.TrimSpace(username))
	if !usernameRe.MatchString(u) {
		return "", errs.New(errs.KindInvalidUsername,
			"Username must be 3-30 characters and contain only letters, numbers, and underscores")
	}
	return u, nil
}

// NormalizePhone strips separators from phone. An empty phone is allowed.
func NormalizePhone(phone string) (string, error) {
	if strings.TrimSpace(phone) == "" {
		return "", nil
	}
	p := phoneStrip.Replace(phone)
	if !phoneRe.MatchString(p) {
		return "", errs.ErrInvalidPhone
	}
	return p, nil
}

// NormalizeLogin lowercases an email-or-username sign-in identifier.
func NormalizeLogin(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}
