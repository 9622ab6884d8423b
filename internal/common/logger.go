package common

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger는 중앙 Config를 기준으로 이름이 붙은 zap logger를 생성합니다.
func NewLogger(name string) (*zap.Logger, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	return NewLoggerWithConfig(name, cfg)
}

// NewLoggerWithConfig는 주어진 Config로 zap logger를 생성합니다.
// production 환경에서는 JSON 인코더를, 그 외에는 개발용 콘솔 인코더를 사용합니다.
func NewLoggerWithConfig(name string, cfg *Config) (*zap.Logger, error) {
	var config zap.Config
	if cfg.App.ENV == "production" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cfg.App.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(cfg.App.LogLevel)
		if err == nil {
			config.Level = level
		}
	}

	// CLI 출력과 섞이지 않도록 로그는 stderr로 보냅니다
	config.OutputPaths = []string{"stderr"}

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	if name != "" {
		return logger.Named(name), nil
	}

	return logger, nil
}
