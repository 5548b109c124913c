// Package token issues and verifies signed access tokens and opaque refresh tokens.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	pkgcrypto "github.com/and161185/tenantauth/internal/crypto"
	"github.com/and161185/tenantauth/internal/model"
)

// RefreshTokenBytes is the entropy of an opaque refresh token (256 bits).
const RefreshTokenBytes = 32

// Config holds the service-wide signing parameters.
type Config struct {
	Issuer   string
	Audience string
	Secret   []byte
	Leeway   time.Duration
}

// AccessClaims is the JWT payload of an access token.
type AccessClaims struct {
	UserID   string `json:"userId"`
	TenantID string `json:"tenantId"`
	Role     string `json:"role"`
	Email    string `json:"email"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 access tokens.
type Issuer struct {
	cfg Config
	now func() time.Time
}

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewIssuer constructs an Issuer. The secret must be at least 32 bytes.
func NewIssuer(cfg Config) (*Issuer, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("jwt secret must be at least 32 bytes")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("jwt issuer and audience are required")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	return &Issuer{cfg: cfg, now: time.Now}, nil
}

// IssueAccess signs a token for c valid for ttl and returns it with its expiry.
func (i *Issuer) IssueAccess(c model.Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("access token ttl must be positive")
	}
	now := i.now()
	exp := now.Add(ttl)
	claims := AccessClaims{
		UserID:   c.UserID.String(),
		TenantID: c.TenantID.String(),
		Role:     string(c.Role),
		Email:    c.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   c.UserID.String(),
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        newTokenID(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	return signed, exp, err
}

// ParseAccess verifies signature, issuer, audience and expiry and returns the identity claims.
func (i *Issuer) ParseAccess(tok string) (model.Claims, error) {
	var claims AccessClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims, func(*jwt.Token) (any, error) {
		return i.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(i.cfg.Leeway),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return model.Claims{}, err
	}
	if !parsed.Valid {
		return model.Claims{}, errors.New("invalid token")
	}
	uid, err := uuid.FromString(claims.UserID)
	if err != nil {
		return model.Claims{}, errors.New("bad userId claim")
	}
	tid, err := uuid.FromString(claims.TenantID)
	if err != nil {
		return model.Claims{}, errors.New("bad tenantId claim")
	}
	return model.Claims{UserID: uid, TenantID: tid, Role: model.Role(claims.Role), Email: claims.Email}, nil
}

func newTokenID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// NewRefreshToken returns an opaque refresh token unrelated to any access token.
func NewRefreshToken() (string, error) {
	return pkgcrypto.RandomToken(RefreshTokenBytes)
}

// HashRefreshToken returns the storage digest of a refresh token.
func HashRefreshToken(tok string) []byte {
	h := sha256.Sum256([]byte(tok))
	return h[:]
}
