package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.ExposeAdminDiagnostics)
	assert.Equal(t, 10, cfg.Batch.PageSize)
	assert.Equal(t, 1000, cfg.Batch.PageDelayMs)
	assert.Equal(t, 200, cfg.Batch.EstimatedTotal)
	assert.Equal(t, "deal_weights.yaml", cfg.Deals.WeightsFile)
	assert.InDelta(t, 15.0, cfg.Deals.Weights.FeaturedBonus, 0.001)
	assert.Equal(t, 8, cfg.Deals.Weights.ResultLimit)
	assert.True(t, cfg.Deals.Weights.Enabled)
	assert.Equal(t, int64(1500), cfg.Research.MaxTokens)
	assert.Equal(t, 2, cfg.Research.RetryAttempts)
	assert.Equal(t, 5, cfg.Research.BreakerThreshold)
	assert.Equal(t, 30, cfg.Research.BreakerCooldownSecs)
	assert.InDelta(t, 5.0, cfg.Backend.RateLimit, 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  database_url: file:test.db
log:
  level: debug
  format: console
server:
  port: 9090
  expose_admin_diagnostics: true
deals:
  weights:
    sponsored_bonus: 0
    recognized_brands: [keller williams, remax]
    result_limit: 3
batch:
  page_size: 5
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "file:test.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.ExposeAdminDiagnostics)
	assert.Equal(t, 0.0, cfg.Deals.Weights.SponsoredBonus)
	assert.Equal(t, []string{"keller williams", "remax"}, cfg.Deals.Weights.RecognizedBrands)
	assert.Equal(t, 3, cfg.Deals.Weights.ResultLimit)
	assert.Equal(t, 5, cfg.Batch.PageSize)
	// Untouched keys keep their defaults.
	assert.InDelta(t, 2.0, cfg.Deals.Weights.RatingMultiplier, 0.001)
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MARKETPLACE_SERVER_PORT", "7070")
	t.Setenv("MARKETPLACE_SERVER_JWT_SECRET", "s3cret")
	t.Setenv("MARKETPLACE_STORE_DATABASE_URL", "postgres://localhost/market")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Server.JWTSecret)
	assert.Equal(t, "postgres://localhost/market", cfg.Store.DatabaseURL)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MARKETPLACE_BACKEND_URL=https://backend.example.com\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("MARKETPLACE_BACKEND_URL") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://backend.example.com", cfg.Backend.URL)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		command string
		cfg     Config
		wantErr string
	}{
		{
			name:    "serve missing everything",
			command: "serve",
			cfg:     Config{Store: StoreConfig{Driver: "postgres"}},
			wantErr: "store.database_url, server.jwt_secret, anthropic.key",
		},
		{
			name:    "serve ok",
			command: "serve",
			cfg: Config{
				Store:     StoreConfig{Driver: "postgres", DatabaseURL: "postgres://x"},
				Server:    ServerConfig{JWTSecret: "s"},
				Anthropic: AnthropicConfig{Key: "k"},
			},
		},
		{
			name:    "research needs backend",
			command: "research",
			cfg:     Config{Backend: BackendConfig{URL: "https://b"}},
			wantErr: "backend.access_token",
		},
		{
			name:    "deals bad driver",
			command: "deals",
			cfg:     Config{Store: StoreConfig{Driver: "mysql", DatabaseURL: "x"}},
			wantErr: "store.driver",
		},
		{
			name:    "unknown command needs nothing",
			command: "version",
			cfg:     Config{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(tt.command)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))

	err := InitLogger(LogConfig{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
