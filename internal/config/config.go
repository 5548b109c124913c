// Package config loads server configuration from TENANTAUTH_* environment variables and command-line flags.
// Flags take precedence over the environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config is the server configuration.
type Config struct {
	Addr        string `env:"TENANTAUTH_ADDR"         envDefault:":8443"`
	MetricsAddr string `env:"TENANTAUTH_METRICS_ADDR" envDefault:":9090"`

	StoreDriver string `env:"TENANTAUTH_STORE"     envDefault:"postgres"`
	DSN         string `env:"TENANTAUTH_DSN"`
	MaxConns    int    `env:"TENANTAUTH_MAX_CONNS" envDefault:"10"`

	JWTKey      string `env:"TENANTAUTH_JWT_KEY"`
	JWTIssuer   string `env:"TENANTAUTH_JWT_ISSUER"   envDefault:"tenantauth"`
	JWTAudience string `env:"TENANTAUTH_JWT_AUDIENCE" envDefault:"tenantauth-clients"`
	MasterKey   string `env:"TENANTAUTH_MASTER_KEY"`

	TLSCert string `env:"TENANTAUTH_TLS_CERT"`
	TLSKey  string `env:"TENANTAUTH_TLS_KEY"`

	Hasher     string `env:"TENANTAUTH_HASHER"      envDefault:"bcrypt"`
	BcryptCost int    `env:"TENANTAUTH_BCRYPT_COST" envDefault:"12"`

	RedisAddr   string `env:"TENANTAUTH_REDIS_ADDR"`
	RedisStream string `env:"TENANTAUTH_REDIS_STREAM" envDefault:"tenantauth:notifications"`
	LogCodes    bool   `env:"TENANTAUTH_LOG_CODES"`

	SweepInterval time.Duration `env:"TENANTAUTH_SWEEP_INTERVAL" envDefault:"10m"`
	PeerRPS       float64       `env:"TENANTAUTH_PEER_RPS"       envDefault:"20"`
	PeerBurst     int           `env:"TENANTAUTH_PEER_BURST"     envDefault:"40"`

	OTLPEndpoint string `env:"TENANTAUTH_OTLP_ENDPOINT"`
	Dev          bool   `env:"TENANTAUTH_DEV"`
}

// Load reads the environment, applies flag overrides from args and validates the result.
func Load(args []string) (*Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("tenantauth-server", flag.ContinueOnError)
	fs.StringVar(&c.Addr, "addr", c.Addr, "gRPC listen address")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus listen address (empty disables)")
	fs.StringVar(&c.StoreDriver, "store", c.StoreDriver, "store driver: postgres|memory")
	fs.StringVar(&c.DSN, "dsn", c.DSN, "PostgreSQL DSN")
	fs.IntVar(&c.MaxConns, "max-conns", c.MaxConns, "max PostgreSQL connections")
	fs.StringVar(&c.JWTKey, "jwt-key", c.JWTKey, "HS256 signing key, at least 32 bytes (required)")
	fs.StringVar(&c.JWTIssuer, "jwt-issuer", c.JWTIssuer, "access token issuer")
	fs.StringVar(&c.JWTAudience, "jwt-audience", c.JWTAudience, "access token audience")
	fs.StringVar(&c.MasterKey, "master-key", c.MasterKey, "admin master key (required)")
	fs.StringVar(&c.TLSCert, "tls-cert", c.TLSCert, "TLS certificate (PEM)")
	fs.StringVar(&c.TLSKey, "tls-key", c.TLSKey, "TLS private key (PEM)")
	fs.StringVar(&c.Hasher, "hasher", c.Hasher, "password hasher: bcrypt|argon2id")
	fs.IntVar(&c.BcryptCost, "bcrypt-cost", c.BcryptCost, "bcrypt work factor")
	fs.StringVar(&c.RedisAddr, "redis-addr", c.RedisAddr, "Redis address for the notification stream (empty logs notifications)")
	fs.StringVar(&c.RedisStream, "redis-stream", c.RedisStream, "Redis stream name for notifications")
	fs.BoolVar(&c.LogCodes, "log-codes", c.LogCodes, "log OTP codes in clear (dev only)")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", c.SweepInterval, "expiry sweep interval (0 disables)")
	fs.Float64Var(&c.PeerRPS, "peer-rps", c.PeerRPS, "per-peer request rate (0 disables)")
	fs.IntVar(&c.PeerBurst, "peer-burst", c.PeerBurst, "per-peer burst")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", c.OTLPEndpoint, "OTLP/HTTP trace endpoint URL (empty disables)")
	fs.BoolVar(&c.Dev, "dev", c.Dev, "development mode: plaintext gRPC, reflection, debug logs")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks required fields and cross-field constraints.
func (c *Config) Validate() error {
	var problems []error
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DSN == "" {
			problems = append(problems, errors.New("dsn: required for the postgres store"))
		}
	case DriverMemory:
	default:
		problems = append(problems, fmt.Errorf("store: unknown driver %q", c.StoreDriver))
	}
	if c.MaxConns <= 0 {
		problems = append(problems, errors.New("max-conns: must be positive"))
	}
	if len(c.JWTKey) < 32 {
		problems = append(problems, errors.New("jwt-key: must be at least 32 bytes"))
	}
	if len(c.MasterKey) < 16 {
		problems = append(problems, errors.New("master-key: must be at least 16 bytes"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		problems = append(problems, errors.New("tls-cert, tls-key: both or neither must be set"))
	}
	if c.TLSCert == "" && !c.Dev {
		problems = append(problems, errors.New("tls-cert: required outside dev mode"))
	}
	if c.LogCodes && !c.Dev {
		problems = append(problems, errors.New("log-codes: allowed in dev mode only"))
	}
	switch c.Hasher {
	case "bcrypt", "argon2id":
	default:
		problems = append(problems, fmt.Errorf("hasher: unknown algorithm %q", c.Hasher))
	}
	if c.SweepInterval < 0 {
		problems = append(problems, errors.New("sweep-interval: must not be negative"))
	}
	if c.PeerRPS < 0 || c.PeerBurst < 0 {
		problems = append(problems, errors.New("peer-rps, peer-burst: must not be negative"))
	}
	return errors.Join(problems...)
}
