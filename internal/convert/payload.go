package convert

import (
	"time"

	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/service"
)

// TokenType is reported with every token pair.
const TokenType = "Bearer"

func ts(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func tsPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ts(*t)
}

// --- requests ---

// SignUpInput decodes a SignUp payload.
func SignUpInput(f Fields, ip string) service.SignUpInput {
	return service.SignUpInput{
		Email:           f.Str("email"),
		Username:        f.Str("username"),
		Password:        f.Str("password"),
		ConfirmPassword: f.Str("confirmPassword"),
		FirstName:       f.Str("firstName"),
		LastName:        f.Str("lastName"),
		Phone:           f.Str("phone"),
		IP:              ip,
	}
}

// SignInInput decodes a SignIn payload.
func SignInInput(f Fields, ip string) service.SignInInput {
	d := f.Sub("deviceInfo")
	return service.SignInInput{
		Login:    f.Str("emailOrUsername"),
		Password: f.Str("password"),
		IP:       ip,
		Device: model.DeviceInfo{
			DeviceID:   d.Str("deviceId"),
			DeviceName: d.Str("deviceName"),
			Platform:   d.Str("platform"),
			OSVersion:  d.Str("osVersion"),
			AppVersion: d.Str("appVersion"),
		},
	}
}

// ResetPasswordInput decodes a ResetPassword payload.
func ResetPasswordInput(f Fields) service.ResetPasswordInput {
	return service.ResetPasswordInput{
		Email:           f.Str("email"),
		Code:            f.Str("code"),
		NewPassword:     f.Str("newPassword"),
		ConfirmPassword: f.Str("confirmPassword"),
	}
}

// ChangePasswordInput decodes a ChangePassword payload.
func ChangePasswordInput(f Fields) service.ChangePasswordInput {
	return service.ChangePasswordInput{
		CurrentPassword: f.Str("currentPassword"),
		NewPassword:     f.Str("newPassword"),
		ConfirmPassword: f.Str("confirmPassword"),
	}
}

// ProfileUpdate decodes a partial profile update.
func ProfileUpdate(f Fields) service.ProfileUpdate {
	return service.ProfileUpdate{
		FirstName:   f.OptStr("firstName"),
		LastName:    f.OptStr("lastName"),
		DisplayName: f.OptStr("displayName"),
		Phone:       f.OptStr("phone"),
		Avatar:      f.OptStr("avatar"),
		Bio:         f.OptStr("bio"),
	}
}

// ApplyTenantConfig overlays the fields present in f onto base.
func ApplyTenantConfig(base model.TenantConfig, f Fields) (model.TenantConfig, error) {
	c := base
	if v, ok := f.Bool("emailVerificationRequired"); ok {
		c.EmailVerificationRequired = v
	}

	p := f.Sub("password")
	if v, ok, err := p.Int("minLength"); err != nil {
		return c, err
	} else if ok {
		c.Password.MinLength = v
	}
	for key, dst := range map[string]*bool{
		"requireUppercase": &c.Password.RequireUppercase,
		"requireLowercase": &c.Password.RequireLowercase,
		"requireDigit":     &c.Password.RequireDigit,
		"requireSpecial":   &c.Password.RequireSpecial,
	} {
		if v, ok := p.Bool(key); ok {
			*dst = v
		}
	}

	l := f.Sub("lockout")
	if v, ok, err := l.Int("maxFailedAttempts"); err != nil {
		return c, err
	} else if ok {
		c.Lockout.MaxFailedAttempts = v
	}
	if v, ok, err := l.Duration("duration"); err != nil {
		return c, err
	} else if ok {
		c.Lockout.Duration = v
	}

	s := f.Sub("session")
	if v, ok, err := s.Duration("accessTtl"); err != nil {
		return c, err
	} else if ok {
		c.Session.AccessTTL = v
	}
	if v, ok, err := s.Duration("refreshTtl"); err != nil {
		return c, err
	} else if ok {
		c.Session.RefreshTTL = v
	}
	if v, ok := s.Bool("allowMultipleSessions"); ok {
		c.Session.AllowMultipleSessions = v
	}
	if v, ok, err := s.Int("maxActiveSessions"); err != nil {
		return c, err
	} else if ok {
		c.Session.MaxActiveSessions = v
	}
	return c, nil
}

// --- responses ---

// User renders a user. Credentials and lockout state are never included.
func User(u *model.User) map[string]any {
	return map[string]any{
		"id":       u.ID.String(),
		"email":    u.Email,
		"username": u.Username,
		"profile": map[string]any{
			"firstName":   u.Profile.FirstName,
			"lastName":    u.Profile.LastName,
			"displayName": u.Profile.DisplayName,
			"phone":       u.Profile.Phone,
			"avatar":      u.Profile.Avatar,
			"bio":         u.Profile.Bio,
		},
		"status":        string(u.Status),
		"role":          string(u.Role),
		"emailVerified": u.EmailVerified,
		"createdAt":     ts(u.CreatedAt),
		"lastLoginAt":   tsPtr(u.LastLoginAt),
	}
}

// Tokens renders a token pair.
func Tokens(t model.Tokens) map[string]any {
	return map[string]any{
		"accessToken":  t.AccessToken,
		"refreshToken": t.RefreshToken,
		"tokenType":    TokenType,
		"expiresIn":    int64(t.ExpiresIn / time.Second),
		"expiresAt":    ts(t.ExpiresAt),
	}
}

// AuthResult renders a token pair with its user.
func AuthResult(r *service.AuthResult) map[string]any {
	m := Tokens(r.Tokens)
	m["user"] = User(r.User)
	return m
}

// Sessions renders active sessions.
func Sessions(list []model.RefreshToken) []any {
	out := make([]any, 0, len(list))
	for _, rt := range list {
		out = append(out, map[string]any{
			"id":         rt.ID.String(),
			"deviceName": rt.Device.DeviceName,
			"platform":   rt.Device.Platform,
			"ipAddress":  rt.IP,
			"createdAt":  ts(rt.CreatedAt),
			"lastUsedAt": ts(rt.LastUsedAt),
			"expiresAt":  ts(rt.ExpiresAt),
		})
	}
	return out
}

// TenantConfig renders a tenant configuration in the shape ApplyTenantConfig reads.
func TenantConfig(c model.TenantConfig) map[string]any {
	return map[string]any{
		"emailVerificationRequired": c.EmailVerificationRequired,
		"password": map[string]any{
			"minLength":        c.Password.MinLength,
			"requireUppercase": c.Password.RequireUppercase,
			"requireLowercase": c.Password.RequireLowercase,
			"requireDigit":     c.Password.RequireDigit,
			"requireSpecial":   c.Password.RequireSpecial,
		},
		"lockout": map[string]any{
			"maxFailedAttempts": c.Lockout.MaxFailedAttempts,
			"duration":          c.Lockout.Duration.String(),
		},
		"session": map[string]any{
			"accessTtl":             c.Session.AccessTTL.String(),
			"refreshTtl":            c.Session.RefreshTTL.String(),
			"allowMultipleSessions": c.Session.AllowMultipleSessions,
			"maxActiveSessions":     c.Session.MaxActiveSessions,
		},
	}
}

// Tenant renders a tenant. The secret digest is never included.
func Tenant(t *model.Tenant) map[string]any {
	return map[string]any{
		"id":          t.ID.String(),
		"name":        t.Name,
		"description": t.Description,
		"apiKey":      t.APIKey,
		"isActive":    t.Active,
		"config":      TenantConfig(t.Config),
		"createdAt":   ts(t.CreatedAt),
		"updatedAt":   ts(t.UpdatedAt),
	}
}
