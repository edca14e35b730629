package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestEnvOverridesDefaults(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envFrom(map[string]string{
		"FINGATE_ADDR":            ":9999",
		"FINGATE_TOKEN_TTL":       "2h",
		"FINGATE_KAFKA_BROKERS":   "k1:9092, k2:9092,",
		"FINGATE_PUBLIC_ROUTES":   "/api/auth/login,/api/public",
		"FINGATE_EXEMPT_PREFIXES": "",
	}))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.HTTP.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"/api/auth/login", "/api/public"}, cfg.Routes.Public)
	assert.Nil(t, cfg.Routes.Exempt)
	assert.Equal(t, ":9090", cfg.GRPC.Addr)
}

func TestDefaultTokenTTLIsEightHours(t *testing.T) {
	assert.Equal(t, 8*time.Hour, Default().Auth.TokenTTL)
}

func TestEnvRejectsBadDuration(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(envFrom(map[string]string{"FINGATE_TOKEN_TTL": "forever"}))
	require.Error(t, err)
}

func TestValidateProductionRequiresSecret(t *testing.T) {
	cfg := Default()
	cfg.Profile = "Production"
	require.Error(t, cfg.Validate())

	cfg.Auth.Secret = "s3cret"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, Production, cfg.Profile)

	cfg.Auth.BootstrapEmail = "admin@books.io"
	require.Error(t, cfg.Validate())
}

func TestValidateDevelopmentGeneratesEphemeralSecret(t *testing.T) {
	a, b := Default(), Default()
	require.NoError(t, a.Validate())
	require.NoError(t, b.Validate())

	assert.Len(t, a.Auth.Secret, 64)
	assert.NotEqual(t, a.Auth.Secret, b.Auth.Secret)
}

func TestValidateRejectsUnknownProfile(t *testing.T) {
	cfg := Default()
	cfg.Profile = "staging"
	require.Error(t, cfg.Validate())
}

func TestLoadReadsYAMLThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fingate.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profile: production
http:
  addr: ":7000"
auth:
  secret: from-file
  token_ttl: 30m
routes:
  exempt: ["/api/auth", "/api/system", "/api/admin"]
`), 0o600))

	t.Setenv("FINGATE_CONFIG", path)
	t.Setenv("FINGATE_AUTH_SECRET", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Production, cfg.Profile)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, 30*time.Minute, cfg.Auth.TokenTTL)
	assert.Equal(t, []string{"/api/auth", "/api/system", "/api/admin"}, cfg.Routes.Exempt)
	assert.Equal(t, 15*time.Second, cfg.HTTP.ReadTimeout)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("FINGATE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
	_, err := Load()
	require.Error(t, err)
}
