package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/and161185/tenantauth/internal/errs"
	"github.com/and161185/tenantauth/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// TenantRepo implements TenantRepository using PostgreSQL.
type TenantRepo struct{ db *DB }

// NewTenantRepo constructs a tenant repository.
func NewTenantRepo(db *DB) *TenantRepo { return &TenantRepo{db: db} }

const tenantCols = `id, name, description, active, config, api_key, api_secret_hash, created_at, updated_at`

// Create inserts a new tenant row.
func (r *TenantRepo) Create(ctx context.Context, t *model.Tenant) error {
	cfg, err := json.Marshal(t.Config)
	if err != nil {
		return fmt.Errorf("marshal tenant config: %w", err)
	}
	const q = `
INSERT INTO tenants (id, name, description, active, config, api_key, api_secret_hash)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at, updated_at`
	err = r.db.Pool.QueryRow(ctx, q, t.ID, t.Name, t.Description, t.Active, cfg, t.APIKey, t.APISecretHash).
		Scan(&t.CreatedAt, &t.UpdatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByID selects a tenant by ID.
func (r *TenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	const q = `SELECT ` + tenantCols + ` FROM tenants WHERE id=$1`
	return scanTenant(r.db.Pool.QueryRow(ctx, q, id))
}

// GetByAPIKey selects a tenant by API key.
func (r *TenantRepo) GetByAPIKey(ctx context.Context, apiKey string) (*model.Tenant, error) {
	const q = `SELECT ` + tenantCols + ` FROM tenants WHERE api_key=$1`
	return scanTenant(r.db.Pool.QueryRow(ctx, q, apiKey))
}

// UpdateConfig replaces the tenant configuration document.
func (r *TenantRepo) UpdateConfig(ctx context.Context, id uuid.UUID, cfg model.TenantConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal tenant config: %w", err)
	}
	const q = `UPDATE tenants SET config=$2, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, q, id, raw)
}

// SetActive toggles the active flag.
func (r *TenantRepo) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	const q = `UPDATE tenants SET active=$2, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, q, id, active)
}

// SetSecretHash replaces the API secret digest.
func (r *TenantRepo) SetSecretHash(ctx context.Context, id uuid.UUID, hash []byte) error {
	const q = `UPDATE tenants SET api_secret_hash=$2, updated_at=now() WHERE id=$1`
	return r.execOne(ctx, q, id, hash)
}

func (r *TenantRepo) execOne(ctx context.Context, q string, args ...any) error {
	tag, err := r.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func scanTenant(row pgx.Row) (*model.Tenant, error) {
	var (
		t   model.Tenant
		cfg []byte
	)
	if err := row.Scan(&t.ID, &t.Name, &t.Description, &t.Active, &cfg, &t.APIKey, &t.APISecretHash, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	t.Config = model.DefaultTenantConfig()
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &t.Config); err != nil {
			return nil, fmt.Errorf("decode tenant config: %w", err)
		}
	}
	return &t, nil
}
