package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
listen: ":9090"
log_format: json
sources:
  - name: app
    driver: sqlite
    dsn: /var/lib/app/settings.db
    query: SELECT setting_key, setting_value FROM settings
    refresh_interval: 30s
    query_timeout: 5s
  - name: billing
    driver: pgx
    dsn: postgres://billing@localhost/billing
    query: SELECT value, key FROM flags
    key_column: 1
    value_column: 0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dbconfig.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTryLoadFromDisk(t *testing.T) {
	cfg, err := TryLoadFromDisk(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.AuthKey)
	require.Len(t, cfg.Sources, 2)

	app := cfg.Sources[0]
	assert.Equal(t, "app", app.Name)
	assert.Equal(t, DriverSQLite, app.Driver)
	assert.Equal(t, 0, app.KeyColumn)
	assert.Equal(t, 1, app.ValueColumn)
	assert.Equal(t, 30*time.Second, app.RefreshInterval)
	assert.Equal(t, 5*time.Second, app.QueryTimeout)

	billing := cfg.Sources[1]
	assert.Equal(t, 1, billing.KeyColumn)
	assert.Equal(t, 0, billing.ValueColumn)
	assert.Zero(t, billing.RefreshInterval)

	assert.NoError(t, cfg.Validate())
}

func TestTryLoadFromDiskEnvOverride(t *testing.T) {
	t.Setenv("DBCONFIG_LISTEN", ":7070")
	t.Setenv("DBCONFIG_AUTH_KEY", "secret")

	cfg, err := TryLoadFromDisk(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "secret", cfg.AuthKey)
}

func TestTryLoadFromDiskMissingFile(t *testing.T) {
	_, err := TryLoadFromDisk(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTryLoadFromDiskInvalidYAML(t *testing.T) {
	_, err := TryLoadFromDisk(writeConfig(t, "sources: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := SourceConfig{
		Name:   "app",
		Driver: DriverMySQL,
		DSN:    "user:pass@tcp(localhost:3306)/app",
		Query:  "SELECT k, v FROM settings",
	}

	tests := []struct {
		name    string
		sources []SourceConfig
		wantErr string
	}{
		{
			name:    "valid",
			sources: []SourceConfig{valid},
		},
		{
			name:    "no sources",
			wantErr: "at least one source is required",
		},
		{
			name:    "missing name",
			sources: []SourceConfig{func() SourceConfig { s := valid; s.Name = ""; return s }()},
			wantErr: "sources[0]: name is required",
		},
		{
			name:    "duplicate name",
			sources: []SourceConfig{valid, valid},
			wantErr: `sources[1]: duplicate name "app"`,
		},
		{
			name:    "reserved name",
			sources: []SourceConfig{func() SourceConfig { s := valid; s.Name = "status"; return s }()},
			wantErr: `sources[0]: name "status" is reserved`,
		},
		{
			name:    "unsupported driver",
			sources: []SourceConfig{func() SourceConfig { s := valid; s.Driver = "oracle"; return s }()},
			wantErr: `unsupported driver "oracle"`,
		},
		{
			name:    "missing dsn",
			sources: []SourceConfig{func() SourceConfig { s := valid; s.DSN = ""; return s }()},
			wantErr: "dsn is required",
		},
		{
			name:    "missing query",
			sources: []SourceConfig{func() SourceConfig { s := valid; s.Query = ""; return s }()},
			wantErr: "query is required",
		},
		{
			name:    "negative column",
			sources: []SourceConfig{func() SourceConfig { s := valid; s.KeyColumn = -1; return s }()},
			wantErr: "column indexes must not be negative",
		},
		{
			name:    "negative duration",
			sources: []SourceConfig{func() SourceConfig { s := valid; s.QueryTimeout = -time.Second; return s }()},
			wantErr: "durations must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Sources = tt.sources
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Sources = []SourceConfig{{}}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"name is required", "unsupported driver", "dsn is required", "query is required"} {
		assert.Contains(t, err.Error(), want)
	}
}
