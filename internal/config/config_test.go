package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inspire-id/idvault/internal/crypto"
	apperrors "github.com/inspire-id/idvault/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load consults so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	for canonical, aliases := range envAliases {
		t.Setenv(canonical, "")
		for _, a := range aliases {
			t.Setenv(a, "")
		}
	}
	t.Setenv("IDVAULT_SERVER_PORT", "")
	t.Setenv("IDVAULT_STORAGE_DRIVER", "")
}

func testKey(t *testing.T) string {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("ENCRYPTION_KEY", testKey(t))

	cfg, err := Load("", dir)
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(dir, "idvault.db"), cfg.Storage.SQLitePath)
	assert.Equal(t, filepath.Join(dir, "cache"), cfg.Cache.Path)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, BackendStructured, cfg.Extraction.Backend)
	assert.Equal(t, 30*time.Second, cfg.Extraction.Timeout)
	assert.Equal(t, "us", cfg.DocumentAI.Location)
	assert.False(t, cfg.DocumentAI.Configured())

	or, ok := cfg.GetProvider("openrouter")
	require.True(t, ok)
	assert.Equal(t, "https://openrouter.ai/api/v1", or.BaseURL)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", or.Model)
	assert.Empty(t, cfg.ConfiguredProviders())
}

func TestLoad_MissingKey(t *testing.T) {
	clearEnv(t)

	_, err := Load("", t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrConfigInvalid))
}

func TestLoad_InvalidKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", "your-fernet-key-here-generate-one")

	_, err := Load("", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a valid key")
}

func TestLoad_LegacyEnvNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", testKey(t))
	t.Setenv("DOCUMENT_READER_SERVICE", "ocr")
	t.Setenv("GCP_PROJECT_ID", "proj")
	t.Setenv("DOCUMENT_AI_PROCESSOR_ID", "proc")
	t.Setenv("OPENROUTER_API_KEY", "sk-or-v1-test")
	t.Setenv("LLM_MODEL", "openai/gpt-4o")
	t.Setenv("API_KEYS", "key-a, key-b,,")
	t.Setenv("DATABASE_URL", "postgresql://u:p@db:5432/vault")

	cfg, err := Load("", t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, BackendVision, cfg.Extraction.Backend)
	assert.True(t, cfg.DocumentAI.Configured())
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgresql://u:p@db:5432/vault", cfg.Storage.PostgresDSN)
	assert.Equal(t, []string{"key-a", "key-b"}, cfg.Security.APIKeys)

	providers := cfg.ConfiguredProviders()
	require.Contains(t, providers, "openrouter")
	assert.Equal(t, "openai/gpt-4o", providers["openrouter"].Model)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "custom.yaml")
	yaml := `
crypto:
  encryption_key: "` + testKey(t) + `"
extraction:
  backend: vision
  timeout: 5s
cache:
  enabled: false
security:
  api_keys: ["svc-1"]
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))

	cfg, err := Load(path, dir)
	require.NoError(t, err)

	assert.Equal(t, BackendVision, cfg.Extraction.Backend)
	assert.Equal(t, 5*time.Second, cfg.Extraction.Timeout)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, []string{"svc-1"}, cfg.Security.APIKeys)
}

func TestLoad_RejectsUnknownBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENCRYPTION_KEY", testKey(t))
	t.Setenv("DOCUMENT_READER_SERVICE", "tesseract")

	_, err := Load("", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extraction.backend")
}

func TestApplyDatabaseURL(t *testing.T) {
	tests := []struct {
		url    string
		driver string
		path   string
		dsn    string
	}{
		{"sqlite:///./inspire.db", DriverSQLite, "./inspire.db", ""},
		{"postgres://u@h/db", DriverPostgres, "", "postgres://u@h/db"},
		{"postgresql+psycopg2://u@h/db", DriverPostgres, "", "postgres://u@h/db"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			var s StorageConfig
			applyDatabaseURL(&s, tt.url)
			assert.Equal(t, tt.driver, s.Driver)
			assert.Equal(t, tt.path, s.SQLitePath)
			assert.Equal(t, tt.dsn, s.PostgresDSN)
		})
	}
}
