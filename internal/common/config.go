package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
	gormlogger "gorm.io/gorm/logger"
)

// Config는 애플리케이션의 모든 설정을 관리합니다.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Database  DatabaseConfig  `yaml:"database"`
	Discord   DiscordConfig   `yaml:"discord"`
	Workflow  WorkflowConfig  `yaml:"workflow"`
	Directory DirectoryConfig `yaml:"directory"`
}

// AppConfig는 애플리케이션 기본 설정입니다.
type AppConfig struct {
	// ENV는 실행 환경입니다 (development, production)
	ENV string `yaml:"env"`
	// LogLevel은 애플리케이션 로그 레벨입니다 (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`
}

// DatabaseConfig는 데이터베이스 설정입니다.
type DatabaseConfig struct {
	// DSN은 데이터베이스 연결 문자열입니다 (SQLite 파일 경로 또는 postgres DSN)
	DSN string `yaml:"dsn"`
	// LogLevel은 GORM 로그 레벨입니다
	LogLevel gormlogger.LogLevel `yaml:"log_level"`
	// MaxIdleConns는 연결 풀의 idle 연결 개수입니다
	MaxIdleConns int `yaml:"max_idle_conns"`
	// MaxOpenConns는 연결 풀의 최대 연결 개수입니다
	MaxOpenConns int `yaml:"max_open_conns"`
	// ConnMaxLifetime은 연결의 최대 수명입니다
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	// PrepareStmt는 prepared statement 캐시를 사용할지 여부입니다
	PrepareStmt bool `yaml:"prepare_stmt"`
	// DisableAutomaticPing은 자동 ping을 비활성화할지 여부입니다
	DisableAutomaticPing bool `yaml:"disable_automatic_ping"`
}

// DiscordConfig는 에스컬레이션 알림용 Discord 설정입니다.
// Token이 비어 있으면 알림은 로그로만 남습니다.
type DiscordConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// WorkflowConfig는 워크플로우 추적 관련 설정입니다.
type WorkflowConfig struct {
	// CheckcardExportDir은 checkcard JSON 내보내기 기본 디렉토리입니다
	CheckcardExportDir string `yaml:"checkcard_export_dir"`
	// DefaultAgent는 새 ProjectFunction의 초기 소유 에이전트입니다
	DefaultAgent string `yaml:"default_agent"`
}

// DirectoryConfig는 디렉토리 경로 설정입니다.
type DirectoryConfig struct {
	// DevkitDir은 기본 데이터 디렉토리입니다 (환경 변수 DEVKIT_DIR로만 설정 가능, 기본값: $HOME/.devkit)
	DevkitDir string `yaml:"-"`
	// SQLiteDatabase는 SQLite 데이터베이스 파일 경로입니다
	SQLiteDatabase string `yaml:"sqlite_database"`
}

var (
	instance *Config
	once     sync.Once
	mu       sync.RWMutex
)

// InitConfig는 설정을 초기화합니다.
// configPath가 비어있으면 ${DEVKIT_DIR}/config.yaml에서 로드를 시도하고, 파일이 없으면 환경 변수에서 로드합니다.
func InitConfig(configPath string) error {
	var err error
	once.Do(func() {
		if configPath == "" {
			configPath = filepath.Join(getDevkitDir(), "config.yaml")
		}

		var cfg *Config
		if _, statErr := os.Stat(configPath); statErr == nil {
			cfg, err = LoadConfigFromFile(configPath)
		} else {
			cfg, err = LoadConfigFromEnv()
		}

		mu.Lock()
		instance = cfg
		mu.Unlock()
	})
	return err
}

// GetConfig는 싱글톤 Config 인스턴스를 반환합니다.
func GetConfig() *Config {
	mu.RLock()
	cfg := instance
	mu.RUnlock()
	if cfg != nil {
		return cfg
	}

	// InitConfig가 호출되지 않은 경우 환경 변수에서 로드
	_ = InitConfig("")

	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		fallback, _ := LoadConfigFromEnv()
		return fallback
	}
	return instance
}

// LoadConfig는 GetConfig를 에러 반환 형태로 감쌉니다.
func LoadConfig() (*Config, error) {
	return GetConfig(), nil
}

// LoadConfigFromFile은 YAML 파일에서 설정을 로드합니다.
// 파일에 없는 값은 환경 변수 기본값으로 채우고, 환경 변수가 있으면 파일 값을 덮어씁니다.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("설정 파일 읽기 실패: %w", err)
	}

	cfg, _ := LoadConfigFromEnv()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("설정 파일 파싱 실패: %w", err)
	}

	return mergeWithEnv(cfg), nil
}

// LoadConfigFromEnv는 환경 변수에서 설정을 로드합니다.
func LoadConfigFromEnv() (*Config, error) {
	return &Config{
		App:       loadAppConfig(),
		Database:  loadDatabaseConfig(),
		Discord:   loadDiscordConfig(),
		Workflow:  loadWorkflowConfig(),
		Directory: loadDirectoryConfig(),
	}, nil
}

// mergeWithEnv는 YAML 설정을 환경 변수로 오버라이드합니다.
func mergeWithEnv(cfg *Config) *Config {
	if env := os.Getenv("DEVKIT_ENV"); env != "" {
		cfg.App.ENV = env
	}
	if logLevel := os.Getenv("DEVKIT_LOG_LEVEL"); logLevel != "" {
		cfg.App.LogLevel = logLevel
	}

	if dsn := os.Getenv("DEVKIT_DATABASE_URL"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if logLevel := os.Getenv("DEVKIT_DB_LOG_LEVEL"); logLevel != "" {
		cfg.Database.LogLevel = parseLogLevel(logLevel)
	}
	if maxIdle := os.Getenv("DEVKIT_DB_MAX_IDLE"); maxIdle != "" {
		cfg.Database.MaxIdleConns = parseIntWithDefault(maxIdle, cfg.Database.MaxIdleConns)
	}
	if maxOpen := os.Getenv("DEVKIT_DB_MAX_OPEN"); maxOpen != "" {
		cfg.Database.MaxOpenConns = parseIntWithDefault(maxOpen, cfg.Database.MaxOpenConns)
	}
	if lifetime := os.Getenv("DEVKIT_DB_CONN_LIFETIME"); lifetime != "" {
		cfg.Database.ConnMaxLifetime = parseDurationWithDefault(lifetime, cfg.Database.ConnMaxLifetime)
	}
	if prepStmt := os.Getenv("DEVKIT_DB_PREPARE_STMT"); prepStmt != "" {
		cfg.Database.PrepareStmt = parseBoolWithDefault(prepStmt, cfg.Database.PrepareStmt)
	}

	if token := os.Getenv("DEVKIT_DISCORD_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if channelID := os.Getenv("DEVKIT_DISCORD_CHANNEL_ID"); channelID != "" {
		cfg.Discord.ChannelID = channelID
	}

	if exportDir := os.Getenv("DEVKIT_CHECKCARD_DIR"); exportDir != "" {
		cfg.Workflow.CheckcardExportDir = exportDir
	}
	if agent := os.Getenv("DEVKIT_DEFAULT_AGENT"); agent != "" {
		cfg.Workflow.DefaultAgent = agent
	}

	if devkitDir := os.Getenv("DEVKIT_DIR"); devkitDir != "" {
		cfg.Directory.DevkitDir = devkitDir
	}
	if sqliteDB := os.Getenv("DEVKIT_SQLITE_DATABASE"); sqliteDB != "" {
		cfg.Directory.SQLiteDatabase = sqliteDB
	}

	return cfg
}

func loadAppConfig() AppConfig {
	return AppConfig{
		ENV:      getEnvOrDefault("DEVKIT_ENV", "production"),
		LogLevel: getEnvOrDefault("DEVKIT_LOG_LEVEL", "info"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	dsn := os.Getenv("DEVKIT_DATABASE_URL")
	if dsn == "" {
		// DEVKIT_DATABASE_URL이 없으면 SQLite 기본값 사용 (순환 참조 방지를 위해 직접 계산)
		sqliteDB := os.Getenv("DEVKIT_SQLITE_DATABASE")
		if sqliteDB == "" {
			sqliteDB = filepath.Join(getDevkitDir(), "devkit.db")
		}
		dsn = sqliteDB
	}

	cfg := DatabaseConfig{
		DSN:             dsn,
		LogLevel:        parseLogLevel(os.Getenv("DEVKIT_DB_LOG_LEVEL")),
		MaxIdleConns:    parseIntWithDefault(os.Getenv("DEVKIT_DB_MAX_IDLE"), 5),
		MaxOpenConns:    parseIntWithDefault(os.Getenv("DEVKIT_DB_MAX_OPEN"), 20),
		ConnMaxLifetime: parseDurationWithDefault(os.Getenv("DEVKIT_DB_CONN_LIFETIME"), 30*time.Minute),
		PrepareStmt:     parseBoolWithDefault(os.Getenv("DEVKIT_DB_PREPARE_STMT"), false),
	}

	if v, ok := lookupEnvBool("DEVKIT_DB_DISABLE_AUTO_PING"); ok {
		cfg.DisableAutomaticPing = v
	}

	return cfg
}

func loadDiscordConfig() DiscordConfig {
	return DiscordConfig{
		Token:     os.Getenv("DEVKIT_DISCORD_TOKEN"),
		ChannelID: os.Getenv("DEVKIT_DISCORD_CHANNEL_ID"),
	}
}

func loadWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		CheckcardExportDir: os.Getenv("DEVKIT_CHECKCARD_DIR"),
		DefaultAgent:       getEnvOrDefault("DEVKIT_DEFAULT_AGENT", "orchestrator"),
	}
}

func loadDirectoryConfig() DirectoryConfig {
	return DirectoryConfig{
		DevkitDir:      getDevkitDir(),
		SQLiteDatabase: os.Getenv("DEVKIT_SQLITE_DATABASE"),
	}
}

// getDevkitDir은 DEVKIT_DIR 환경 변수를 반환하거나 기본값을 계산합니다.
func getDevkitDir() string {
	if devkitDir := os.Getenv("DEVKIT_DIR"); devkitDir != "" {
		return devkitDir
	}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".devkit")
	}

	return "./data"
}

// Helper functions

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseLogLevel(value string) gormlogger.LogLevel {
	switch value {
	case "silent", "SILENT":
		return gormlogger.Silent
	case "error", "ERROR":
		return gormlogger.Error
	case "warn", "WARN":
		return gormlogger.Warn
	case "info", "INFO":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

func parseIntWithDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationWithDefault(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return d
}

func parseBoolWithDefault(value string, def bool) bool {
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return def
	}
	return parsed
}

func lookupEnvBool(key string) (bool, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return false, false
	}
	return parsed, true
}

// Validate는 설정 값들의 조합을 검증합니다.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("DEVKIT_DATABASE_URL or DEVKIT_SQLITE_DATABASE is required")
	}
	if c.Discord.Token != "" && c.Discord.ChannelID == "" {
		return fmt.Errorf("DEVKIT_DISCORD_CHANNEL_ID is required when DEVKIT_DISCORD_TOKEN is set")
	}
	return nil
}
