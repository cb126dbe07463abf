// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pitabwire/cylinder-portal/model"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Identity      IdentityConfig      `yaml:"identity"`
	Inward        InwardConfig        `yaml:"inward"`
	Issuance      IssuanceConfig      `yaml:"issuance"`
	Inventory     InventoryConfig     `yaml:"inventory"`
	Procurement   ProcurementConfig   `yaml:"procurement"`
	Dashboard     DashboardConfig     `yaml:"dashboard"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// IdentityConfig describes operator token settings. Tokens are HMAC signed
// with the secret held in the SecretEnv environment variable.
type IdentityConfig struct {
	Issuer     string            `yaml:"issuer"`
	Audience   string            `yaml:"audience"`
	SecretEnv  string            `yaml:"secret_env"`
	Algorithms []string          `yaml:"algorithms"`
	ClaimPaths map[string]string `yaml:"claim_paths"`
}

// InwardConfig describes material inward persistence.
type InwardConfig struct {
	Store StoreConfig `yaml:"store"`
}

// StoreConfig describes session and shipment persistence settings.
type StoreConfig struct {
	Driver          string        `yaml:"driver"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	Migrate         bool          `yaml:"migrate"`
}

// IssuanceConfig describes the cylinder issue desk.
type IssuanceConfig struct {
	Idempotency IdempotencyStoreConfig  `yaml:"idempotency"`
	Requests    []model.CylinderRequest `yaml:"requests"`
}

// IdempotencyStoreConfig describes idempotency persistence settings.
type IdempotencyStoreConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// InventoryConfig describes stock tracking.
type InventoryConfig struct {
	LowStockThresholdPct float64            `yaml:"low_stock_threshold_pct"`
	Seed                 []model.StockLevel `yaml:"seed"`
}

// ProcurementConfig describes the purchase order catalog.
type ProcurementConfig struct {
	ResponseWindow time.Duration         `yaml:"response_window"`
	SyncInterval   time.Duration         `yaml:"sync_interval"`
	Breaker        BreakerConfig         `yaml:"breaker"`
	Orders         []model.PurchaseOrder `yaml:"orders"`
}

// BreakerConfig guards the ERP purchase order source.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

// DashboardConfig describes dashboard refresh settings.
type DashboardConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	FeedSize        int           `yaml:"feed_size"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string `yaml:"log_level"`
	// LogFormat is "json" (default) or "console" for a terminal at the
	// store counter.
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Plant-Id",
					"X-Correlation-Id", "X-Idempotency-Key"},
				MaxAge: 86400,
			},
		},
		Identity: IdentityConfig{
			SecretEnv:  "PORTAL_JWT_SECRET",
			Algorithms: []string{"HS256"},
			ClaimPaths: map[string]string{
				"operator_id": "sub",
				"plant_id":    "plant_id",
				"name":        "name",
				"roles":       "roles",
			},
		},
		Inward: InwardConfig{
			Store: StoreConfig{
				Driver:          "memory",
				DSNEnv:          "PORTAL_DATABASE_URL",
				MaxOpenConns:    25,
				MaxIdleConns:    5,
				ConnMaxLifetime: 5 * time.Minute,
				Migrate:         true,
			},
		},
		Issuance: IssuanceConfig{
			Idempotency: IdempotencyStoreConfig{
				Driver:     "memory",
				AddrEnv:    "PORTAL_REDIS_ADDR",
				DefaultTTL: 24 * time.Hour,
			},
		},
		Inventory: InventoryConfig{
			LowStockThresholdPct: 25,
		},
		Procurement: ProcurementConfig{
			ResponseWindow: 48 * time.Hour,
			SyncInterval:   15 * time.Minute,
			Breaker: BreakerConfig{
				FailureThreshold: 3,
				SuccessThreshold: 1,
				Cooldown:         5 * time.Minute,
			},
		},
		Dashboard: DashboardConfig{
			RefreshInterval: 30 * time.Second,
			FeedSize:        20,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. A .env file in the working directory is
// loaded first when present; variables already set in the environment win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: loading .env: %w", err)
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	switch c.Observability.LogFormat {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("observability.log_format %q must be json or console", c.Observability.LogFormat))
	}
	if c.Identity.Issuer == "" {
		errs = append(errs, "identity.issuer is required")
	}
	if c.Identity.Audience == "" {
		errs = append(errs, "identity.audience is required")
	}
	if c.Identity.SecretEnv == "" {
		errs = append(errs, "identity.secret_env is required")
	}
	switch c.Inward.Store.Driver {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("inward.store.driver %q must be memory or postgres", c.Inward.Store.Driver))
	}
	switch c.Issuance.Idempotency.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("issuance.idempotency.driver %q must be memory or redis", c.Issuance.Idempotency.Driver))
	}
	if t := c.Inventory.LowStockThresholdPct; t < 0 || t > 100 {
		errs = append(errs, "inventory.low_stock_threshold_pct must be between 0 and 100")
	}
	for i, s := range c.Inventory.Seed {
		if !s.Gas.Valid() {
			errs = append(errs, fmt.Sprintf("inventory.seed[%d].gas %q is not a stocked gas", i, s.Gas))
		}
		if s.Full < 0 || s.Empty < 0 {
			errs = append(errs, fmt.Sprintf("inventory.seed[%d] counts must not be negative", i))
		}
	}
	for i, r := range c.Issuance.Requests {
		if r.ID == "" {
			errs = append(errs, fmt.Sprintf("issuance.requests[%d].id is required", i))
		}
		if !r.Gas.Valid() {
			errs = append(errs, fmt.Sprintf("issuance.requests[%d].gas %q is not a stocked gas", i, r.Gas))
		}
	}
	for i, po := range c.Procurement.Orders {
		if po.Number == "" {
			errs = append(errs, fmt.Sprintf("procurement.orders[%d].number is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads PORTAL_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORTAL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("PORTAL_IDENTITY_ISSUER"); v != "" {
		cfg.Identity.Issuer = v
	}
	if v := os.Getenv("PORTAL_IDENTITY_AUDIENCE"); v != "" {
		cfg.Identity.Audience = v
	}
	if v := os.Getenv("PORTAL_INWARD_STORE_DRIVER"); v != "" {
		cfg.Inward.Store.Driver = v
	}
	if v := os.Getenv("PORTAL_IDEMPOTENCY_DRIVER"); v != "" {
		cfg.Issuance.Idempotency.Driver = v
	}
	if v := os.Getenv("PORTAL_LOW_STOCK_THRESHOLD_PCT"); v != "" {
		if pct, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Inventory.LowStockThresholdPct = pct
		}
	}
	if v := os.Getenv("PORTAL_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("PORTAL_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
