package grpcserver

import (
	"context"

	"github.com/and161185/tenantauth/internal/convert"
	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/service"
)

const secretNotice = "Save the API Secret securely. It won't be shown again."

func credentials(c *service.TenantCredentials, msg string) map[string]any {
	return map[string]any{
		"tenant":    convert.Tenant(c.Tenant),
		"apiSecret": c.APISecret,
		"message":   msg,
	}
}

// --- master key ---

func (s *Server) registerTenant(ctx context.Context, in convert.Fields) (map[string]any, error) {
	var cfg *model.TenantConfig
	if in.Has("config") {
		c, err := convert.ApplyTenantConfig(model.DefaultTenantConfig(), in.Sub("config"))
		if err != nil {
			return nil, err
		}
		cfg = &c
	}
	creds, err := s.tenants.Register(ctx, in.Str("name"), in.Str("description"), cfg)
	if err != nil {
		return nil, err
	}
	return credentials(creds, secretNotice), nil
}

func (s *Server) setTenantActive(ctx context.Context, in convert.Fields) (map[string]any, error) {
	id, err := in.UUID("tenantId")
	if err != nil {
		return nil, err
	}
	active, ok := in.Bool("active")
	if !ok {
		return nil, errs.New(errs.KindValidation, "active is required")
	}
	t, err := s.tenants.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tenant": convert.Tenant(t)}, nil
}

func (s *Server) sweep(ctx context.Context, _ convert.Fields) (map[string]any, error) {
	if s.sweeper == nil {
		return nil, errs.New(errs.KindNotFound, "Sweeper is not configured")
	}
	res, err := s.sweeper.RunOnce(ctx)
	if err != nil {
		return nil, errs.Internal(err)
	}
	return map[string]any{"otps": res.OTPs, "refreshTokens": res.Tokens}, nil
}

// --- API key and secret ---

func (s *Server) getTenant(ctx context.Context, _ convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	return map[string]any{"tenant": convert.Tenant(tenant)}, nil
}

func (s *Server) updateTenantConfig(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	cfg, err := convert.ApplyTenantConfig(tenant.Config, in.Sub("config"))
	if err != nil {
		return nil, err
	}
	t, err := s.tenants.UpdateConfig(ctx, tenant.ID, cfg)
	if err != nil {
		return nil, err
	}
	return map[string]any{"tenant": convert.Tenant(t)}, nil
}

func (s *Server) setUserStatus(ctx context.Context, in convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	id, err := in.UUID("userId")
	if err != nil {
		return nil, err
	}
	u, err := s.users.SetStatus(ctx, tenant.ID, id, model.AccountStatus(in.Str("status")))
	if err != nil {
		return nil, err
	}
	return map[string]any{"user": convert.User(u)}, nil
}

func (s *Server) rotateSecret(ctx context.Context, _ convert.Fields) (map[string]any, error) {
	tenant, _ := caller(ctx)
	creds, err := s.tenants.RotateSecret(ctx, tenant.ID)
	if err != nil {
		return nil, err
	}
	return credentials(creds, secretNotice), nil
}
