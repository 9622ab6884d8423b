package common

import (
	"os"
	"path/filepath"
)

// GetDataDir returns the base data directory path.
// Priority:
// 1. DEVKIT_DIR from config
// 2. $HOME/.devkit (default)
// 3. ./data (fallback if HOME is not set)
func GetDataDir() string {
	cfg, err := LoadConfig()
	if err == nil && cfg.Directory.DevkitDir != "" {
		return cfg.Directory.DevkitDir
	}

	if homeDir := os.Getenv("HOME"); homeDir != "" {
		return filepath.Join(homeDir, ".devkit")
	}

	return "./data"
}

// GetCheckcardsDir returns the directory checkcard JSON exports are written to.
// Default: {DataDir}/checkcards
func GetCheckcardsDir() string {
	cfg, err := LoadConfig()
	if err == nil && cfg.Workflow.CheckcardExportDir != "" {
		return cfg.Workflow.CheckcardExportDir
	}
	return filepath.Join(GetDataDir(), "checkcards")
}

// EnsureDir는 디렉토리가 없으면 생성합니다.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}
