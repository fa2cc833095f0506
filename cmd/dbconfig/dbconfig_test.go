package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/sardine-ai/go-db-config/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSettingsDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(`
		CREATE TABLE settings (setting_key TEXT, setting_value TEXT);
		INSERT INTO settings VALUES ('Timeout', '30'), ('Retries', '3');
	`)
	require.NoError(t, err)
	return path
}

func TestConnectionFactory(t *testing.T) {
	for _, driver := range []string{config.DriverSQLite, config.DriverPgx, config.DriverPostgres, config.DriverMySQL} {
		t.Run(driver, func(t *testing.T) {
			factory, err := connectionFactory(config.SourceConfig{Driver: driver, DSN: "postgres://localhost/db"})
			require.NoError(t, err)
			assert.NotNil(t, factory)
		})
	}

	_, err := connectionFactory(config.SourceConfig{Driver: "oracle"})
	assert.EqualError(t, err, `unsupported driver "oracle"`)
}

func TestNewDescriptor(t *testing.T) {
	logger, _ := test.NewNullLogger()
	descriptor, err := newDescriptor(config.SourceConfig{
		Name:        "app",
		Driver:      config.DriverSQLite,
		DSN:         newSettingsDB(t),
		Query:       "SELECT setting_key, setting_value FROM settings",
		ValueColumn: 1,
	}, logger)
	require.NoError(t, err)
	assert.NoError(t, descriptor.Validate())
	assert.NotNil(t, descriptor.RowMapper)
}

func TestDump(t *testing.T) {
	dsn := newSettingsDB(t)
	cfg := &config.Config{Sources: []config.SourceConfig{
		{Name: "app", Driver: config.DriverSQLite, DSN: dsn, Query: "SELECT setting_key, setting_value FROM settings", ValueColumn: 1},
		{Name: "swapped", Driver: config.DriverSQLite, DSN: dsn, Query: "SELECT setting_value, setting_key FROM settings", KeyColumn: 1},
	}}

	var out bytes.Buffer
	require.NoError(t, dump(context.Background(), cfg, []string{"app"}, &out))
	assert.Equal(t, "---\n# app\nRetries: \"3\"\nTimeout: \"30\"\n", out.String())

	out.Reset()
	require.NoError(t, dump(context.Background(), cfg, nil, &out))
	assert.Contains(t, out.String(), "# app\n")
	assert.Contains(t, out.String(), "# swapped\n")
}

func TestDumpReportsFailedSources(t *testing.T) {
	logrus.SetOutput(&bytes.Buffer{})
	t.Cleanup(func() { logrus.SetOutput(os.Stderr) })

	cfg := &config.Config{Sources: []config.SourceConfig{
		{Name: "broken", Driver: config.DriverSQLite, DSN: newSettingsDB(t), Query: "SELECT * FROM missing", ValueColumn: 1},
	}}

	var out bytes.Buffer
	err := dump(context.Background(), cfg, nil, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source broken")
	assert.Empty(t, out.String())

	err = dump(context.Background(), cfg, []string{"nope"}, &out)
	assert.EqualError(t, err, `unknown source "nope"`)
}

func TestSetupLogging(t *testing.T) {
	logger := logrus.New()

	require.NoError(t, setupLogging(logger, &config.Config{LogLevel: "debug", LogFormat: "json"}))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	require.NoError(t, setupLogging(logger, &config.Config{LogLevel: "warn"}))
	assert.IsType(t, &logrus.TextFormatter{}, logger.Formatter)

	assert.Error(t, setupLogging(logger, &config.Config{LogLevel: "loud"}))
	assert.Error(t, setupLogging(logger, &config.Config{LogLevel: "info", LogFormat: "xml"}))
}
