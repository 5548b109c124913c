package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/tenantauth/internal/crypto"
	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/and161185/tenantauth/internal/policy"
	"github.com/and161185/tenantauth/internal/repository"
)

// Credential prefixes make leaked values easy to recognize.
const (
	apiKeyPrefix    = "ak_"
	apiSecretPrefix = "as_"
	maxTenantName   = 100
)

// TenantService administers tenants and resolves their API credentials.
type TenantService struct {
	tenants repository.TenantRepository
	log     *zap.Logger
}

// NewTenantService constructs TenantService.
func NewTenantService(tenants repository.TenantRepository, log *zap.Logger) *TenantService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TenantService{tenants: tenants, log: log.Named("tenant")}
}

// TenantCredentials is the result of registration or secret rotation.
// APISecret is shown once; only its digest is stored.
type TenantCredentials struct {
	Tenant    *model.Tenant
	APISecret string
}

// Register creates an active tenant with the default configuration (or cfg when given)
// and a fresh API credential pair.
func (s *TenantService) Register(ctx context.Context, name, description string, cfg *model.TenantConfig) (*TenantCredentials, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxTenantName {
		return nil, errs.Newf(errs.KindValidation, "App name must be 1-%d characters", maxTenantName)
	}
	conf := model.DefaultTenantConfig()
	if cfg != nil {
		if err := ValidateTenantConfig(*cfg); err != nil {
			return nil, err
		}
		conf = *cfg
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, errs.Internal(err)
	}
	key, err := crypto.RandomHex(16)
	if err != nil {
		return nil, errs.Internal(err)
	}
	secret, err := newAPISecret()
	if err != nil {
		return nil, err
	}
	t := &model.Tenant{
		ID:            id,
		Name:          name,
		Description:   strings.TrimSpace(description),
		Active:        true,
		Config:        conf,
		APIKey:        apiKeyPrefix + key,
		APISecretHash: secretDigest(secret),
	}
	if err := s.tenants.Create(ctx, t); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, errs.New(errs.KindValidation, "App with this name already exists")
		}
		return nil, errs.Internal(err)
	}
	s.log.Info("tenant registered", zap.String("tenant_id", t.ID.String()), zap.String("name", t.Name))
	return &TenantCredentials{Tenant: t, APISecret: secret}, nil
}

// Get loads a tenant.
func (s *TenantService) Get(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	t, err := s.tenants.GetByID(ctx, id)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrTenantNotFound
	}
	if err != nil {
		return nil, errs.Internal(err)
	}
	return t, nil
}

// ResolveAPIKey maps an API key to its tenant. Unknown keys fail with InvalidAPIKey, inactive tenants with TenantInactive.
func (s *TenantService) ResolveAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error) {
	if apiKey == "" {
		return nil, errs.ErrInvalidAPIKey
	}
	t, err := s.tenants.GetByAPIKey(ctx, apiKey)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, errs.ErrInvalidAPIKey
	}
	if err != nil {
		return nil, errs.Internal(err)
	}
	if !t.Active {
		return nil, errs.ErrTenantInactive
	}
	return t, nil
}

// AuthenticateSecret checks secret against the tenant's stored digest in constant time.
func (s *TenantService) AuthenticateSecret(t *model.Tenant, secret string) error {
	if secret == "" || subtle.ConstantTimeCompare(secretDigest(secret), t.APISecretHash) != 1 {
		return errs.ErrInvalidAPIKey
	}
	return nil
}

// UpdateConfig validates and replaces the tenant configuration.
func (s *TenantService) UpdateConfig(ctx context.Context, id uuid.UUID, cfg model.TenantConfig) (*model.Tenant, error) {
	if err := ValidateTenantConfig(cfg); err != nil {
		return nil, err
	}
	if err := s.tenants.UpdateConfig(ctx, id, cfg); err != nil {
		return nil, s.mapErr(err)
	}
	return s.Get(ctx, id)
}

// RotateSecret replaces the API secret and returns the new plaintext. The API key is unchanged.
func (s *TenantService) RotateSecret(ctx context.Context, id uuid.UUID) (*TenantCredentials, error) {
	secret, err := newAPISecret()
	if err != nil {
		return nil, err
	}
	if err := s.tenants.SetSecretHash(ctx, id, secretDigest(secret)); err != nil {
		return nil, s.mapErr(err)
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.log.Info("tenant secret rotated", zap.String("tenant_id", id.String()))
	return &TenantCredentials{Tenant: t, APISecret: secret}, nil
}

// SetActive activates or deactivates a tenant.
func (s *TenantService) SetActive(ctx context.Context, id uuid.UUID, active bool) (*model.Tenant, error) {
	if err := s.tenants.SetActive(ctx, id, active); err != nil {
		return nil, s.mapErr(err)
	}
	s.log.Info("tenant state changed", zap.String("tenant_id", id.String()), zap.Bool("active", active))
	return s.Get(ctx, id)
}

func (s *TenantService) mapErr(err error) error {
	if errors.Is(err, errs.ErrNotFound) {
		return errs.ErrTenantNotFound
	}
	return errs.Internal(err)
}

// ValidateTenantConfig rejects configurations the flows cannot honor.
func ValidateTenantConfig(c model.TenantConfig) error {
	if err := policy.ValidatePolicy(c.Password); err != nil {
		return err
	}
	if c.Lockout.MaxFailedAttempts < 0 {
		return errs.New(errs.KindValidation, "max failed attempts must not be negative")
	}
	if c.Lockout.MaxFailedAttempts > 0 && c.Lockout.Duration < time.Minute {
		return errs.New(errs.KindValidation, "lockout duration must be at least one minute")
	}
	if c.Session.AccessTTL < time.Minute {
		return errs.New(errs.KindValidation, "access token ttl must be at least one minute")
	}
	if c.Session.RefreshTTL <= c.Session.AccessTTL {
		return errs.New(errs.KindValidation, "refresh token ttl must exceed access token ttl")
	}
	if c.Session.MaxActiveSessions < 0 {
		return errs.New(errs.KindValidation, "max active sessions must not be negative")
	}
	return nil
}

func newAPISecret() (string, error) {
	b, err := crypto.RandomToken(32)
	if err != nil {
		return "", errs.Internal(err)
	}
	return apiSecretPrefix + b, nil
}

func secretDigest(secret string) []byte {
	h := sha256.Sum256([]byte(secret))
	return h[:]
}
