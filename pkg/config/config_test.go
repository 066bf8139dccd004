package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfigAndChdir writes config.yaml into a temp directory and makes it the
// working directory for the duration of the test.
func writeConfigAndChdir(t *testing.T, yamlContent string) string {
	t.Helper()

	tmpDir := t.TempDir()
	if yamlContent != "" {
		if err := os.WriteFile(filepath.Join(tmpDir, "config.yaml"), []byte(yamlContent), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}
	}

	originalDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}
	if err := os.Chdir(tmpDir); err != nil {
		t.Fatalf("failed to change directory: %v", err)
	}
	t.Cleanup(func() {
		os.Chdir(originalDir)
	})
	return tmpDir
}

const minimalYAML = `
port: "3443"
env: "test"
database:
  host: "localhost"
`

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfigAndChdir(t, `
port: "3443"
env: "test"
database:
  host: "db.example.com"
  port: 5432
  user: "testuser"
  database: "testdb"
redis:
  host: "redis.example.com"
  port: 6379
`)

	os.Unsetenv("PGHOST")
	os.Unsetenv("BASE_URL")

	t.Setenv("PORT", "4443")
	t.Setenv("ENVIRONMENT", "production")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "4443" {
		t.Errorf("expected Port=4443 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Redis.Host != "redis.example.com" {
		t.Errorf("expected Redis.Host=redis.example.com (from yaml), got %s", cfg.Redis.Host)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
}

func TestLoad_BaseURLAutoDerive(t *testing.T) {
	writeConfigAndChdir(t, minimalYAML)

	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "5678")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.BaseURL != "http://localhost:5678" {
		t.Errorf("expected BaseURL=http://localhost:5678 (auto-derived), got %s", cfg.BaseURL)
	}
}

func TestLoad_BaseURLExplicit(t *testing.T) {
	writeConfigAndChdir(t, `
port: "3443"
base_url: "http://my-server.internal:8080"
`)

	os.Unsetenv("BASE_URL")
	os.Unsetenv("PORT")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.BaseURL != "http://my-server.internal:8080" {
		t.Errorf("expected BaseURL=http://my-server.internal:8080 (explicit), got %s", cfg.BaseURL)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	writeConfigAndChdir(t, "")

	if _, err := Load("test-version"); err == nil {
		t.Error("expected error when config.yaml is missing")
	}
}

func TestLoad_TenancyDefaults(t *testing.T) {
	writeConfigAndChdir(t, minimalYAML)

	for _, key := range []string{
		"TENANCY_REGISTRY_CACHE_TTL_SECONDS",
		"TENANCY_REGISTRY_CACHE_MAX_ENTRIES",
		"TENANCY_HANDLE_TTL_MINUTES",
		"TENANCY_POOL_MAX_CONNS",
		"TENANCY_DEFAULT_APPS",
	} {
		os.Unsetenv(key)
	}

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Tenancy.RegistryCacheTTL() != 5*time.Minute {
		t.Errorf("expected RegistryCacheTTL=5m (default), got %s", cfg.Tenancy.RegistryCacheTTL())
	}
	if cfg.Tenancy.RegistryCacheMaxEntries != 1000 {
		t.Errorf("expected RegistryCacheMaxEntries=1000 (default), got %d", cfg.Tenancy.RegistryCacheMaxEntries)
	}
	if cfg.Tenancy.HandleTTL() != 10*time.Minute {
		t.Errorf("expected HandleTTL=10m (default), got %s", cfg.Tenancy.HandleTTL())
	}
	if cfg.Tenancy.PoolMaxConns != 4 {
		t.Errorf("expected PoolMaxConns=4 (default), got %d", cfg.Tenancy.PoolMaxConns)
	}
	want := []string{"formulas", "suppliers", "raw-materials"}
	if strings.Join(cfg.Tenancy.DefaultApps, ",") != strings.Join(want, ",") {
		t.Errorf("expected DefaultApps=%v, got %v", want, cfg.Tenancy.DefaultApps)
	}
}

func TestLoad_TenancyFromYAMLAndEnv(t *testing.T) {
	writeConfigAndChdir(t, minimalYAML+`
tenancy:
  registry_cache_ttl_seconds: 30
  handle_ttl_minutes: 2
  pool_max_conns: 8
  default_apps: "formulas"
`)

	os.Unsetenv("TENANCY_REGISTRY_CACHE_TTL_SECONDS")
	os.Unsetenv("TENANCY_DEFAULT_APPS")
	t.Setenv("TENANCY_POOL_MAX_CONNS", "12")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Tenancy.RegistryCacheTTL() != 30*time.Second {
		t.Errorf("expected RegistryCacheTTL=30s (from yaml), got %s", cfg.Tenancy.RegistryCacheTTL())
	}
	if cfg.Tenancy.PoolMaxConns != 12 {
		t.Errorf("expected PoolMaxConns=12 (from env), got %d", cfg.Tenancy.PoolMaxConns)
	}
	if len(cfg.Tenancy.DefaultApps) != 1 || cfg.Tenancy.DefaultApps[0] != "formulas" {
		t.Errorf("expected DefaultApps=[formulas], got %v", cfg.Tenancy.DefaultApps)
	}
}

func TestLoad_RejectsZeroPoolSize(t *testing.T) {
	writeConfigAndChdir(t, minimalYAML)
	t.Setenv("TENANCY_POOL_MAX_CONNS", "0")

	if _, err := Load("test-version"); err == nil {
		t.Error("expected error for pool_max_conns=0")
	}
}

func TestLoad_SecretsOnlyFromEnv(t *testing.T) {
	writeConfigAndChdir(t, minimalYAML+`
identity:
  url: "https://abc.supabase.co"
`)

	t.Setenv("SUPABASE_SERVICE_ROLE_KEY", "service-key")
	t.Setenv("PGPASSWORD", "pg-secret")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Identity.URL != "https://abc.supabase.co" {
		t.Errorf("expected Identity.URL from yaml, got %s", cfg.Identity.URL)
	}
	if cfg.Identity.ServiceRoleKey != "service-key" {
		t.Errorf("expected ServiceRoleKey from env, got %q", cfg.Identity.ServiceRoleKey)
	}
	if cfg.Database.Password != "pg-secret" {
		t.Errorf("expected Database.Password from env, got %q", cfg.Database.Password)
	}
}

func TestParseJWKSEndpoints(t *testing.T) {
	got := parseJWKSEndpoints("https://a.supabase.co/auth/v1=https://a.supabase.co/auth/v1/.well-known/jwks.json, issuer2 = url2 ,broken")

	if len(got) != 2 {
		t.Fatalf("expected 2 endpoints, got %d: %v", len(got), got)
	}
	if got["https://a.supabase.co/auth/v1"] != "https://a.supabase.co/auth/v1/.well-known/jwks.json" {
		t.Errorf("unexpected endpoint for first issuer: %v", got)
	}
	if got["issuer2"] != "url2" {
		t.Errorf("expected issuer2=url2, got %q", got["issuer2"])
	}
}

func TestDatabaseConfig_ConnectionURL(t *testing.T) {
	c := DatabaseConfig{
		Host:     "db.example.com",
		Port:     5433,
		User:     "chem",
		Password: "p@ss word",
		Database: "control",
		SSLMode:  "require",
	}

	got := c.ConnectionURL()
	if !strings.HasPrefix(got, "postgres://chem:") {
		t.Errorf("unexpected URL prefix: %s", got)
	}
	if !strings.Contains(got, "@db.example.com:5433/control?sslmode=require") {
		t.Errorf("unexpected URL: %s", got)
	}
	if strings.Contains(got, "p@ss word") {
		t.Errorf("password must be escaped: %s", got)
	}
}

func TestRedisConfig_RedisAddr(t *testing.T) {
	if addr := (&RedisConfig{}).RedisAddr(); addr != "" {
		t.Errorf("expected empty addr when host unset, got %q", addr)
	}
	if addr := (&RedisConfig{Host: "cache.internal", Port: 6380}).RedisAddr(); addr != "cache.internal:6380" {
		t.Errorf("expected cache.internal:6380, got %q", addr)
	}
	if addr := (&RedisConfig{Host: "fd00::5", Port: 6380}).RedisAddr(); addr != "[fd00::5]:6380" {
		t.Errorf("expected [fd00::5]:6380, got %q", addr)
	}
}

func TestLoad_NoTLS(t *testing.T) {
	writeConfigAndChdir(t, minimalYAML)

	os.Unsetenv("TLS_CERT_PATH")
	os.Unsetenv("TLS_KEY_PATH")
	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "3443")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.TLSCertPath != "" || cfg.TLSKeyPath != "" {
		t.Errorf("expected empty TLS paths, got cert=%q key=%q", cfg.TLSCertPath, cfg.TLSKeyPath)
	}
	if cfg.BaseURL != "http://localhost:3443" {
		t.Errorf("expected BaseURL=http://localhost:3443, got %s", cfg.BaseURL)
	}
}

func TestValidateTLS_OnlyCertProvided(t *testing.T) {
	cfg := &Config{TLSCertPath: "/some/cert.pem"}
	err := cfg.validateTLS()
	if err == nil || !strings.Contains(err.Error(), "must be provided together") {
		t.Errorf("expected 'must be provided together' error, got %v", err)
	}
}

func TestValidateTLS_CertFileMissing(t *testing.T) {
	tmpDir := t.TempDir()
	keyPath := filepath.Join(tmpDir, "key.pem")
	if err := os.WriteFile(keyPath, []byte("key"), 0600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	cfg := &Config{TLSCertPath: filepath.Join(tmpDir, "missing.pem"), TLSKeyPath: keyPath}
	err := cfg.validateTLS()
	if err == nil || !strings.Contains(err.Error(), "cert file does not exist") {
		t.Errorf("expected 'cert file does not exist' error, got %v", err)
	}
}

func TestLoad_TLSDerivesHTTPSBaseURL(t *testing.T) {
	tmpDir := writeConfigAndChdir(t, minimalYAML)

	certPath := filepath.Join(tmpDir, "cert.pem")
	keyPath := filepath.Join(tmpDir, "key.pem")
	for _, p := range []string{certPath, keyPath} {
		if err := os.WriteFile(p, []byte("x"), 0600); err != nil {
			t.Fatalf("failed to write %s: %v", p, err)
		}
	}

	os.Unsetenv("BASE_URL")
	t.Setenv("PORT", "8443")
	t.Setenv("TLS_CERT_PATH", certPath)
	t.Setenv("TLS_KEY_PATH", keyPath)

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.BaseURL != "https://localhost:8443" {
		t.Errorf("expected BaseURL=https://localhost:8443, got %s", cfg.BaseURL)
	}
}
