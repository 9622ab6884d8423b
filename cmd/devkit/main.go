package main

import (
	"fmt"
	"os"

	"github.com/cnap-oss/devkit/internal/checkcard"
	"github.com/cnap-oss/devkit/internal/common"
	"github.com/cnap-oss/devkit/internal/notify"
	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// .env 가 있으면 환경 변수로 먼저 로드
	envErr := godotenv.Load()

	// DEVKIT_CONFIG가 비어 있으면 $DEVKIT_DIR/config.yaml 또는 환경 변수를 사용
	if err := common.InitConfig(os.Getenv("DEVKIT_CONFIG")); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Logger 초기화
	logger, err := common.NewLogger("devkit")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Debug("Could not load .env file", zap.Error(envErr))
	}

	rootCmd := &cobra.Command{
		Use:     "devkit",
		Short:   "Devkit - 워크플로우 상태 추적 CLI",
		Long:    `Devkit은 Project, ProjectFunction, Phase, Task 진행 상황과 단계별 checkcard를 기록하는 CLI입니다.`,
		Version: fmt.Sprintf("%s (built at %s)", Version, BuildTime),
	}

	// health 명령어
	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "저장소 연결 상태 확인",
		Long:  `설정을 검증하고 데이터베이스에 연결할 수 있는지 확인합니다.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHealth(logger)
		},
	}

	// 명령어 구성
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(buildProjectCommands(logger))
	rootCmd.AddCommand(buildFunctionCommands(logger))
	rootCmd.AddCommand(buildPhaseCommands(logger))
	rootCmd.AddCommand(buildTaskCommands(logger))
	rootCmd.AddCommand(buildCheckcardCommands(logger))

	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

func runHealth(logger *zap.Logger) error {
	if err := common.GetConfig().Validate(); err != nil {
		return fmt.Errorf("설정 검증 실패: %w", err)
	}

	repo, cleanup, err := initStorage(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	sqlDB, err := repo.DB().DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("데이터베이스 연결 실패: %w", err)
	}

	fmt.Println("OK")
	return nil
}

func initStorage(logger *zap.Logger) (*storage.Repository, func(), error) {
	cfg, err := storage.ConfigFromEnv()
	if err != nil {
		return nil, func() {}, err
	}

	db, err := storage.Open(cfg)
	if err != nil {
		return nil, func() {}, err
	}

	if err := storage.AutoMigrate(db); err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	repo, err := storage.NewRepository(db)
	if err != nil {
		_ = storage.Close(db)
		return nil, func() {}, err
	}

	cleanup := func() {
		if err := storage.Close(db); err != nil {
			logger.Warn("Failed to close storage", zap.Error(err))
		}
	}

	return repo, cleanup, nil
}

// newNotifier는 Discord 설정이 있으면 Discord와 로그로, 없으면 로그로만 알립니다.
func newNotifier(logger *zap.Logger) notify.Notifier {
	logNotifier := notify.NewLogNotifier(logger.Named("notify"))

	cfg := common.GetConfig()
	if cfg.Discord.Token == "" || cfg.Discord.ChannelID == "" {
		return logNotifier
	}

	discord, err := notify.NewDiscordNotifier(logger, cfg.Discord.Token, cfg.Discord.ChannelID)
	if err != nil {
		logger.Warn("Discord notifier disabled", zap.Error(err))
		return logNotifier
	}
	return notify.Multi{logNotifier, discord}
}

func newStore(logger *zap.Logger) (*workflow.Store, func(), error) {
	repo, cleanup, err := initStorage(logger)
	if err != nil {
		return nil, func() {}, err
	}
	return workflow.NewStore(logger.Named("workflow"), repo, newNotifier(logger)), cleanup, nil
}

func newRecorder(logger *zap.Logger) (*checkcard.Recorder, *workflow.Store, func(), error) {
	repo, cleanup, err := initStorage(logger)
	if err != nil {
		return nil, nil, func() {}, err
	}
	notifier := newNotifier(logger)
	store := workflow.NewStore(logger.Named("workflow"), repo, notifier)
	recorder := checkcard.NewRecorder(logger.Named("checkcard"), repo, notifier)
	store.SetHandoffLog(recorder)
	return recorder, store, cleanup, nil
}
