package policy

import (
	"errors"
	"strings"
	"testing"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
)

func strictPolicy() model.PasswordPolicy {
	return model.PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireDigit:     true,
		RequireSpecial:   true,
	}
}

func TestValidatePassword_Accepts(t *testing.T) {
	t.Parallel()

	for _, pw := range []string{"Str0ngP@ss", "Abcdef1!", "Пароль1!x"} {
		if err := ValidatePassword(pw, strictPolicy()); err != nil {
			t.Fatalf("ValidatePassword(%q): %v", pw, err)
		}
	}
}

func TestValidatePassword_NamesEachRule(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Sh0rt!":      "at least 8 characters",
		"lowercase1!": "uppercase letter",
		"UPPERCASE1!": "lowercase letter",
		"NoDigits!!":  "one number",
		"NoSpecial11": "special character",
	}
	for pw, want := range cases {
		err := ValidatePassword(pw, strictPolicy())
		if !errors.Is(err, errs.New(errs.KindWeakPassword, "")) {
			t.Fatalf("%q: want WeakPassword, got %v", pw, err)
		}
		if !strings.Contains(errs.Message(err), want) {
			t.Fatalf("%q: message %q does not mention %q", pw, errs.Message(err), want)
		}
	}
}

func TestValidatePassword_CollectsAllViolations(t *testing.T) {
	t.Parallel()

	err := ValidatePassword("abc", strictPolicy())
	if err == nil {
		t.Fatalf("want error")
	}
	msg := errs.Message(err)
	for _, want := range []string{"at least 8", "uppercase", "number", "special"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q misses %q", msg, want)
		}
	}
	if strings.Contains(msg, "lowercase") {
		t.Fatalf("lowercase rule satisfied but reported: %q", msg)
	}
	if got := strings.Count(msg, ". "); got != 3 {
		t.Fatalf("want 4 rules joined by '. ', got %d separators in %q", got, msg)
	}
}

func TestValidatePassword_RelaxedPolicy(t *testing.T) {
	t.Parallel()

	p := model.PasswordPolicy{MinLength: 6}
	if err := ValidatePassword("simple", p); err != nil {
		t.Fatalf("relaxed policy: %v", err)
	}
	if err := ValidatePassword(strings.Repeat("a", 200), p); err != nil {
		t.Fatalf("long password meeting the policy: %v", err)
	}
}

func TestPasswordsMatch(t *testing.T) {
	t.Parallel()

	if err := PasswordsMatch("a", "a"); err != nil {
		t.Fatalf("match: %v", err)
	}
	if err := PasswordsMatch("a", "b"); !errors.Is(err, errs.ErrPasswordsMismatch) {
		t.Fatalf("want PasswordsMismatch, got %v", err)
	}
}

func TestValidatePolicy(t *testing.T) {
	t.Parallel()

	if err := ValidatePolicy(model.DefaultTenantConfig().Password); err != nil {
		t.Fatalf("default policy rejected: %v", err)
	}
	if err := ValidatePolicy(model.PasswordPolicy{MinLength: 2}); err == nil {
		t.Fatalf("want error for tiny min length")
	}
}
