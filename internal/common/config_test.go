package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

func clearDevkitEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DEVKIT_ENV", "DEVKIT_LOG_LEVEL", "DEVKIT_DATABASE_URL", "DEVKIT_DB_LOG_LEVEL",
		"DEVKIT_DB_MAX_IDLE", "DEVKIT_DB_MAX_OPEN", "DEVKIT_DB_CONN_LIFETIME", "DEVKIT_DB_PREPARE_STMT",
		"DEVKIT_DB_DISABLE_AUTO_PING", "DEVKIT_DISCORD_TOKEN", "DEVKIT_DISCORD_CHANNEL_ID",
		"DEVKIT_CHECKCARD_DIR", "DEVKIT_DEFAULT_AGENT", "DEVKIT_SQLITE_DATABASE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	clearDevkitEnv(t)
	dir := t.TempDir()
	t.Setenv("DEVKIT_DIR", dir)

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.ENV)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, filepath.Join(dir, "devkit.db"), cfg.Database.DSN)
	assert.Equal(t, gormlogger.Warn, cfg.Database.LogLevel)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, 30*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "orchestrator", cfg.Workflow.DefaultAgent)
	assert.Empty(t, cfg.Discord.Token)
	assert.Equal(t, dir, cfg.Directory.DevkitDir)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFromEnv_Overrides(t *testing.T) {
	clearDevkitEnv(t)
	t.Setenv("DEVKIT_DATABASE_URL", "postgres://devkit@localhost/devkit")
	t.Setenv("DEVKIT_DB_MAX_OPEN", "not-a-number")
	t.Setenv("DEVKIT_DB_LOG_LEVEL", "silent")
	t.Setenv("DEVKIT_DB_DISABLE_AUTO_PING", "true")
	t.Setenv("DEVKIT_CHECKCARD_DIR", "/tmp/cards")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "postgres://devkit@localhost/devkit", cfg.Database.DSN)
	assert.Equal(t, 20, cfg.Database.MaxOpenConns)
	assert.Equal(t, gormlogger.Silent, cfg.Database.LogLevel)
	assert.True(t, cfg.Database.DisableAutomaticPing)
	assert.Equal(t, "/tmp/cards", cfg.Workflow.CheckcardExportDir)
}

func TestLoadConfigFromFile(t *testing.T) {
	clearDevkitEnv(t)
	t.Setenv("DEVKIT_DIR", t.TempDir())
	t.Setenv("DEVKIT_DISCORD_CHANNEL_ID", "env-channel")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `app:
  env: development
  log_level: debug
database:
  dsn: /var/lib/devkit/devkit.db
  max_open_conns: 4
  conn_max_lifetime: 10m
discord:
  token: file-token
  channel_id: file-channel
workflow:
  default_agent: planner
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.App.ENV)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, "/var/lib/devkit/devkit.db", cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5, cfg.Database.MaxIdleConns)
	assert.Equal(t, 10*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.Equal(t, "file-token", cfg.Discord.Token)
	assert.Equal(t, "env-channel", cfg.Discord.ChannelID)
	assert.Equal(t, "planner", cfg.Workflow.DefaultAgent)

	_, err = LoadConfigFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := &Config{}
	require.Error(t, cfg.Validate())

	cfg.Database.DSN = "devkit.db"
	cfg.Discord.Token = "token"
	require.Error(t, cfg.Validate())

	cfg.Discord.ChannelID = "channel"
	require.NoError(t, cfg.Validate())
}

func TestNewLoggerWithConfig(t *testing.T) {
	logger, err := NewLoggerWithConfig("devkit", &Config{App: AppConfig{ENV: "development", LogLevel: "warn"}})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))
}
