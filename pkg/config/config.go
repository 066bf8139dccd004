package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for chemforge-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TrustProxy honors X-Forwarded-For when recording client addresses.
	TrustProxy bool `yaml:"trust_proxy" env:"TRUST_PROXY" env-default:"false"`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Authentication configuration
	Auth AuthConfig `yaml:"auth"`

	// CookieDomain is the domain for session cookies (optional).
	// If empty, it will be auto-derived from BaseURL.
	CookieDomain string `yaml:"cookie_domain" env:"COOKIE_DOMAIN" env-default:""`

	// SessionSecret signs the refresh-token session cookie.
	SessionSecret string `yaml:"-" env:"SESSION_SECRET"` // Secret - not in YAML

	// Control-plane database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis is optional. When configured, tenant cache invalidations are broadcast
	// to every engine process.
	Redis RedisConfig `yaml:"redis"`

	// Identity provider (Supabase GoTrue) configuration
	Identity IdentityConfig `yaml:"identity"`

	// Tenant provisioning and routing configuration
	Tenancy TenancyConfig `yaml:"tenancy"`

	// Credential encryption key for tenant connection descriptors.
	// Must be a 32-byte key, base64 encoded. Generate with: openssl rand -base64 32
	// Server will fail to start if this is not set.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether JWT tokens are validated.
	// Set to false for local development without an identity provider.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`

	// JWKSEndpointsStr is a comma-separated list of issuer=jwks_url pairs.
	// Format: "issuer1=url1,issuer2=url2"
	JWKSEndpointsStr string `yaml:"jwks_endpoints" env:"JWKS_ENDPOINTS" env-default:""`

	// JWKSEndpoints is the parsed map from JWKSEndpointsStr (not from config file).
	JWKSEndpoints map[string]string `yaml:"-"`

	// PlatformAdminRole is the app_metadata role allowed to call the admin API.
	PlatformAdminRole string `yaml:"platform_admin_role" env:"AUTH_PLATFORM_ADMIN_ROLE" env-default:"superadmin"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"chemforge"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"chemforge"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	// InvalidationChannel is the pub/sub channel for tenant cache invalidations.
	InvalidationChannel string `yaml:"invalidation_channel" env:"REDIS_INVALIDATION_CHANNEL" env-default:"chemforge:tenant-invalidations"`
}

// IdentityConfig holds identity provider configuration.
type IdentityConfig struct {
	// URL is the Supabase project URL, e.g. https://abc.supabase.co
	URL string `yaml:"url" env:"SUPABASE_URL" env-default:""`
	// AnonKey is the public API key used for password sign-in.
	AnonKey string `yaml:"anon_key" env:"SUPABASE_ANON_KEY" env-default:""`
	// ServiceRoleKey authorizes admin calls (user creation/deletion).
	ServiceRoleKey string `yaml:"-" env:"SUPABASE_SERVICE_ROLE_KEY"` // Secret - not in YAML
	// TimeoutSeconds bounds every identity provider call.
	TimeoutSeconds int `yaml:"timeout_seconds" env:"IDENTITY_TIMEOUT_SECONDS" env-default:"30"`
}

// TenancyConfig holds tenant provisioning and routing settings.
type TenancyConfig struct {
	// RegistryCacheTTLSeconds is how long a registry row is served from memory.
	RegistryCacheTTLSeconds int `yaml:"registry_cache_ttl_seconds" env:"TENANCY_REGISTRY_CACHE_TTL_SECONDS" env-default:"300"`
	// RegistryCacheMaxEntries bounds the registry cache.
	RegistryCacheMaxEntries int `yaml:"registry_cache_max_entries" env:"TENANCY_REGISTRY_CACHE_MAX_ENTRIES" env-default:"1000"`
	// HandleTTLMinutes is how long an idle tenant connection handle is kept.
	HandleTTLMinutes int `yaml:"handle_ttl_minutes" env:"TENANCY_HANDLE_TTL_MINUTES" env-default:"10"`
	// MaxHandles bounds the number of live tenant connection handles.
	MaxHandles int `yaml:"max_handles" env:"TENANCY_MAX_HANDLES" env-default:"200"`
	// PoolMaxConns is the maximum number of connections per tenant pool.
	PoolMaxConns int32 `yaml:"pool_max_conns" env:"TENANCY_POOL_MAX_CONNS" env-default:"4"`
	// PoolMinConns is the minimum number of connections per tenant pool.
	PoolMinConns int32 `yaml:"pool_min_conns" env:"TENANCY_POOL_MIN_CONNS" env-default:"0"`
	// DefaultAdminPassword is the temporary password given to new company admins.
	DefaultAdminPassword string `yaml:"-" env:"TENANCY_DEFAULT_ADMIN_PASSWORD" env-default:"TempPass123!"`
	// DefaultAppsStr is a comma-separated list of app keys seeded when a create
	// request does not name any.
	DefaultAppsStr string `yaml:"default_apps" env:"TENANCY_DEFAULT_APPS" env-default:"formulas,suppliers,raw-materials"`
	// DefaultApps is the parsed list from DefaultAppsStr (not from config file).
	DefaultApps []string `yaml:"-"`
}

// RegistryCacheTTL returns the registry cache TTL as a duration.
func (c *TenancyConfig) RegistryCacheTTL() time.Duration {
	return time.Duration(c.RegistryCacheTTLSeconds) * time.Second
}

// HandleTTL returns the idle handle TTL as a duration.
func (c *TenancyConfig) HandleTTL() time.Duration {
	return time.Duration(c.HandleTTLMinutes) * time.Minute
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD, CREDENTIALS_KEY,
// SUPABASE_SERVICE_ROLE_KEY) must come from environment variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	// Parse complex fields
	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	// Validate TLS configuration
	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	// Use HTTPS scheme if TLS is configured
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	c.Auth.JWKSEndpoints = parseJWKSEndpoints(c.Auth.JWKSEndpointsStr)
	c.Tenancy.DefaultApps = parseList(c.Tenancy.DefaultAppsStr)

	if c.Tenancy.RegistryCacheTTLSeconds < 0 {
		return fmt.Errorf("tenancy.registry_cache_ttl_seconds must not be negative")
	}
	if c.Tenancy.PoolMaxConns < 1 {
		return fmt.Errorf("tenancy.pool_max_conns must be at least 1")
	}
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// parseJWKSEndpoints parses the JWKS endpoints string into a map.
// Format: "issuer1=url1,issuer2=url2"
func parseJWKSEndpoints(value string) map[string]string {
	endpoints := make(map[string]string)
	if value == "" {
		return endpoints
	}

	pairs := strings.Split(value, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) == 2 {
			endpoints[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return endpoints
}

// parseList splits a comma-separated list, dropping blanks.
func parseList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// ConnectionURL returns a PostgreSQL connection URL for pgx.
func (c *DatabaseConfig) ConnectionURL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// RedisAddr returns host:port for the Redis client, or "" if Redis is disabled.
func (c *RedisConfig) RedisAddr() string {
	if c.Host == "" {
		return ""
	}
	return net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port))
}
