package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/repository/memory"
)

func newTenantService(t *testing.T) *TenantService {
	t.Helper()
	return NewTenantService(memory.NewStore(nil).Tenants, zaptest.NewLogger(t))
}

func TestTenant_RegisterAndResolve(t *testing.T) {
	t.Parallel()
	s := newTenantService(t)
	ctx := context.Background()

	creds, err := s.Register(ctx, "  Shop  ", "demo", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	tn := creds.Tenant
	if tn.Name != "Shop" || !tn.Active {
		t.Fatalf("unexpected tenant: %+v", tn)
	}
	if !strings.HasPrefix(tn.APIKey, "ak_") || !strings.HasPrefix(creds.APISecret, "as_") {
		t.Fatalf("credential prefixes: %q %q", tn.APIKey, creds.APISecret)
	}
	if string(tn.APISecretHash) == creds.APISecret {
		t.Fatalf("secret stored in clear")
	}
	if tn.Config != model.DefaultTenantConfig() {
		t.Fatalf("want default config, got %+v", tn.Config)
	}

	got, err := s.ResolveAPIKey(ctx, tn.APIKey)
	if err != nil || got.ID != tn.ID {
		t.Fatalf("ResolveAPIKey = %+v, %v", got, err)
	}
	if err := s.AuthenticateSecret(got, creds.APISecret); err != nil {
		t.Fatalf("AuthenticateSecret: %v", err)
	}
	if err := s.AuthenticateSecret(got, "as_wrong"); !errors.Is(err, errs.ErrInvalidAPIKey) {
		t.Fatalf("wrong secret: %v", err)
	}

	if _, err := s.Register(ctx, "Shop", "", nil); errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("duplicate name: %v", err)
	}
	if _, err := s.Register(ctx, "   ", "", nil); errs.KindOf(err) != errs.KindValidation {
		t.Fatalf("empty name: %v", err)
	}
}

func TestTenant_ResolveFailures(t *testing.T) {
	t.Parallel()
	s := newTenantService(t)
	ctx := context.Background()

	if _, err := s.ResolveAPIKey(ctx, ""); !errors.Is(err, errs.ErrInvalidAPIKey) {
		t.Fatalf("empty key: %v", err)
	}
	if _, err := s.ResolveAPIKey(ctx, "ak_unknown"); !errors.Is(err, errs.ErrInvalidAPIKey) {
		t.Fatalf("unknown key: %v", err)
	}

	creds, err := s.Register(ctx, "Dormant", "", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := s.SetActive(ctx, creds.Tenant.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	if _, err := s.ResolveAPIKey(ctx, creds.Tenant.APIKey); !errors.Is(err, errs.ErrTenantInactive) {
		t.Fatalf("inactive tenant: %v", err)
	}
	if _, err := s.SetActive(ctx, uuid.Must(uuid.NewV4()), true); !errors.Is(err, errs.ErrTenantNotFound) {
		t.Fatalf("unknown tenant: %v", err)
	}
}

func TestTenant_RotateSecretKeepsKey(t *testing.T) {
	t.Parallel()
	s := newTenantService(t)
	ctx := context.Background()

	creds, err := s.Register(ctx, "Rotating", "", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	rotated, err := s.RotateSecret(ctx, creds.Tenant.ID)
	if err != nil {
		t.Fatalf("RotateSecret: %v", err)
	}
	if rotated.Tenant.APIKey != creds.Tenant.APIKey {
		t.Fatalf("api key changed")
	}
	if rotated.APISecret == creds.APISecret {
		t.Fatalf("secret not rotated")
	}
	if err := s.AuthenticateSecret(rotated.Tenant, creds.APISecret); err == nil {
		t.Fatalf("old secret still accepted")
	}
	if err := s.AuthenticateSecret(rotated.Tenant, rotated.APISecret); err != nil {
		t.Fatalf("new secret rejected: %v", err)
	}
}

func TestTenant_UpdateConfig(t *testing.T) {
	t.Parallel()
	s := newTenantService(t)
	ctx := context.Background()

	creds, err := s.Register(ctx, "Configurable", "", nil)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	cfg := model.DefaultTenantConfig()
	cfg.EmailVerificationRequired = false
	cfg.Password.RequireSpecial = true
	cfg.Session.MaxActiveSessions = 1

	got, err := s.UpdateConfig(ctx, creds.Tenant.ID, cfg)
	if err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	if got.Config != cfg {
		t.Fatalf("config not stored: %+v", got.Config)
	}

	bad := []func(*model.TenantConfig){
		func(c *model.TenantConfig) { c.Password.MinLength = 2 },
		func(c *model.TenantConfig) { c.Lockout.MaxFailedAttempts = -1 },
		func(c *model.TenantConfig) { c.Lockout.Duration = time.Second },
		func(c *model.TenantConfig) { c.Session.AccessTTL = 0 },
		func(c *model.TenantConfig) { c.Session.RefreshTTL = c.Session.AccessTTL },
		func(c *model.TenantConfig) { c.Session.MaxActiveSessions = -1 },
	}
	for i, mutate := range bad {
		c := model.DefaultTenantConfig()
		mutate(&c)
		if _, err := s.UpdateConfig(ctx, creds.Tenant.ID, c); errs.KindOf(err) != errs.KindValidation {
			t.Fatalf("case %d: want Validation, got %v", i, err)
		}
	}
	if _, err := s.UpdateConfig(ctx, uuid.Must(uuid.NewV4()), cfg); !errors.Is(err, errs.ErrTenantNotFound) {
		t.Fatalf("unknown tenant: %v", err)
	}
}
