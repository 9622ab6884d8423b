package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cnap-oss/devkit/internal/checkcard"
	"github.com/cnap-oss/devkit/internal/common"
	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func buildCheckcardCommands(logger *zap.Logger) *cobra.Command {
	var projectRef, functionRef string

	checkcardCmd := &cobra.Command{
		Use:   "checkcard",
		Short: "Checkcard 기록 명령어",
		Long:  "워크플로우 단계별 checkcard 시작, 완료, 실패, 루프 반복을 기록하고 JSON으로 내보냅니다.",
	}
	checkcardCmd.PersistentFlags().StringVar(&functionRef, "function", "", "대상 function (function 생성 전 단계는 생략)")
	checkcardCmd.PersistentFlags().StringVar(&projectRef, "project", "", "slug로 function을 찾을 때 사용할 project ID 또는 slug")

	// checkcard start
	var agent string
	var inputs map[string]string
	checkcardStartCmd := &cobra.Command{
		Use:   "start <step-id>",
		Short: "단계 시작 기록",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardStart(logger, projectRef, functionRef, args[0], normalizeInput(agent), inputs)
		},
	}
	checkcardStartCmd.Flags().StringVar(&agent, "agent", "", "단계 담당 에이전트 (기본값: 등록된 담당 에이전트)")
	checkcardStartCmd.Flags().StringToStringVar(&inputs, "input", nil, "입력 값 (key=value)")

	// checkcard complete
	var outputs map[string]string
	checkcardCompleteCmd := &cobra.Command{
		Use:   "complete <step-id>",
		Short: "단계 완료 기록",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardComplete(logger, projectRef, functionRef, args[0], outputs)
		},
	}
	checkcardCompleteCmd.Flags().StringToStringVar(&outputs, "output", nil, "출력 값 (key=value)")

	// checkcard fail
	checkcardFailCmd := &cobra.Command{
		Use:   "fail <step-id> <error>",
		Short: "단계 실패 기록",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardFail(logger, projectRef, functionRef, args[0], args[1])
		},
	}

	// checkcard command
	var purpose, outputFile string
	checkcardCommandCmd := &cobra.Command{
		Use:   "command <step-id> <command>",
		Short: "단계에서 실행한 명령 기록",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardCommand(logger, projectRef, functionRef, args[0], storage.CommandExecution{
				Command:    normalizeInput(args[1]),
				Purpose:    normalizeInput(purpose),
				OutputFile: optionalString(outputFile),
			})
		},
	}
	checkcardCommandCmd.Flags().StringVar(&purpose, "purpose", "", "명령 실행 목적")
	checkcardCommandCmd.Flags().StringVar(&outputFile, "output-file", "", "명령이 생성한 파일")

	// checkcard loop
	var loopType string
	var iteration storage.LoopIteration
	checkcardLoopCmd := &cobra.Command{
		Use:   "loop <step-id>",
		Short: "루프 반복 기록",
		Long:  "user_approval_loop는 제한이 없고, plan_review_loop와 coder_reviewer_loop는 최대 3회입니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardLoop(logger, projectRef, functionRef, args[0], normalizeInput(loopType), iteration)
		},
	}
	checkcardLoopCmd.Flags().StringVar(&loopType, "type", "", "루프 종류 (기본값: 단계에 등록된 루프)")
	checkcardLoopCmd.Flags().StringVar(&iteration.OrchestratorQuestion, "question", "", "orchestrator 질문")
	checkcardLoopCmd.Flags().StringVar(&iteration.UserResponse, "response", "", "사용자 응답")
	checkcardLoopCmd.Flags().StringVar(&iteration.RefinedDescription, "refined", "", "정리된 설명")
	checkcardLoopCmd.Flags().StringVar(&iteration.UserFeedback, "feedback", "", "사용자 피드백")
	checkcardLoopCmd.Flags().StringVar(&iteration.PlanFileUpdated, "plan-file", "", "갱신된 plan 파일")
	checkcardLoopCmd.Flags().StringVar(&iteration.ReviewerResult, "result", "", "리뷰어 판정")
	checkcardLoopCmd.Flags().StringSliceVar(&iteration.IssuesFound, "issue", nil, "발견된 이슈")
	checkcardLoopCmd.Flags().StringSliceVar(&iteration.CoderFixesApplied, "fix", nil, "적용된 수정")

	// checkcard close-loop
	checkcardCloseLoopCmd := &cobra.Command{
		Use:   "close-loop <step-id> <exit-condition>",
		Short: "루프 종료 조건 기록",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardCloseLoop(logger, projectRef, functionRef, args[0], args[1])
		},
	}

	// checkcard list
	checkcardListCmd := &cobra.Command{
		Use:   "list",
		Short: "Checkcard 목록 조회",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardList(logger, projectRef, functionRef)
		},
	}

	// checkcard export
	var exportDir string
	checkcardExportCmd := &cobra.Command{
		Use:   "export",
		Short: "Checkcard JSON 내보내기",
		Long:  "단계별 <step>_checkcard.json 파일을 작성합니다. --dir을 생략하면 설정된 checkcard 디렉토리를 사용합니다.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardExport(logger, projectRef, functionRef, exportDir)
		},
	}
	checkcardExportCmd.Flags().StringVar(&exportDir, "dir", "", "내보낼 디렉토리")

	// checkcard validate
	checkcardValidateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Checkcard 기록 일관성 검사",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckcardValidate(logger, projectRef, functionRef)
		},
	}

	checkcardCmd.AddCommand(checkcardStartCmd)
	checkcardCmd.AddCommand(checkcardCompleteCmd)
	checkcardCmd.AddCommand(checkcardFailCmd)
	checkcardCmd.AddCommand(checkcardCommandCmd)
	checkcardCmd.AddCommand(checkcardLoopCmd)
	checkcardCmd.AddCommand(checkcardCloseLoopCmd)
	checkcardCmd.AddCommand(checkcardListCmd)
	checkcardCmd.AddCommand(checkcardExportCmd)
	checkcardCmd.AddCommand(checkcardValidateCmd)

	return checkcardCmd
}

// functionIDFor는 --function이 비어 있으면 빈 ID를 반환합니다.
func functionIDFor(ctx context.Context, store *workflow.Store, projectRef, functionRef string) (string, error) {
	if normalizeInput(functionRef) == "" {
		return "", nil
	}
	fn, err := resolveFunctionRef(ctx, store, projectRef, functionRef)
	if err != nil {
		return "", fmt.Errorf("function 조회 실패: %w", err)
	}
	return fn.ID, nil
}

func toAnyMap(values map[string]string) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[normalizeInput(k)] = normalizeInput(v)
	}
	return out
}

func runCheckcardStart(logger *zap.Logger, projectRef, functionRef, stepID, agent string, inputs map[string]string) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	if agent == "" {
		if step, ok := checkcard.LookupStep(stepID); ok {
			agent = step.Agent
		} else {
			agent = storage.AgentOrchestrator
		}
	}
	card, err := recorder.StartStep(ctx, functionID, normalizeInput(stepID), agent, toAnyMap(inputs))
	if err != nil {
		return fmt.Errorf("단계 시작 기록 실패: %w", err)
	}

	fmt.Printf("✓ Step %s '%s' 시작 (Agent: %s)\n", card.StepID, card.StepName, card.Agent)
	return nil
}

func runCheckcardComplete(logger *zap.Logger, projectRef, functionRef, stepID string, outputs map[string]string) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	card, err := recorder.CompleteStep(ctx, functionID, normalizeInput(stepID), toAnyMap(outputs))
	if err != nil {
		return fmt.Errorf("단계 완료 기록 실패: %w", err)
	}
	if card == nil {
		fmt.Printf("⚠ Step %s 시작 기록이 없어 완료를 기록하지 않았습니다.\n", stepID)
		return nil
	}
	if card.Status != storage.CheckcardStatusCompleted {
		fmt.Printf("⚠ Step %s 상태가 %s 이므로 변경하지 않았습니다.\n", stepID, statusBadge(card.Status))
		return nil
	}

	duration := 0
	if card.DurationMinutes != nil {
		duration = *card.DurationMinutes
	}
	fmt.Printf("✓ Step %s 완료 (%d분)\n", card.StepID, duration)
	return nil
}

func runCheckcardFail(logger *zap.Logger, projectRef, functionRef, stepID, message string) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	card, err := recorder.FailStep(ctx, functionID, normalizeInput(stepID), normalizeInput(message))
	if err != nil {
		return fmt.Errorf("단계 실패 기록 실패: %w", err)
	}

	fmt.Printf("✓ Step %s 상태: %s\n", card.StepID, statusBadge(card.Status))
	return nil
}

func runCheckcardCommand(logger *zap.Logger, projectRef, functionRef, stepID string, command storage.CommandExecution) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	card, err := recorder.RecordCommand(ctx, functionID, normalizeInput(stepID), command)
	if err != nil {
		return fmt.Errorf("명령 기록 실패: %w", err)
	}

	fmt.Printf("✓ Step %s 명령 %d개 기록됨\n", card.StepID, len(card.CommandsExecuted))
	return nil
}

func runCheckcardLoop(logger *zap.Logger, projectRef, functionRef, stepID, loopType string, iteration storage.LoopIteration) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	card, err := recorder.RecordLoopIteration(ctx, functionID, normalizeInput(stepID), loopType, iteration)
	if err != nil {
		if workflow.RequiresEscalation(err) {
			fmt.Printf("❌ Step %s 루프 한도에 도달했습니다. orchestrator 개입이 필요합니다.\n", stepID)
		}
		return fmt.Errorf("루프 반복 기록 실패: %w", err)
	}

	limit := "제한 없음"
	if card.Loop.MaxIterations != nil {
		limit = fmt.Sprintf("최대 %d", *card.Loop.MaxIterations)
	}
	fmt.Printf("✓ Step %s %s %d회차 기록 (%s)\n", card.StepID, card.Loop.Type, card.Loop.Iterations, limit)
	return nil
}

func runCheckcardCloseLoop(logger *zap.Logger, projectRef, functionRef, stepID, exitCondition string) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	card, err := recorder.CloseLoop(ctx, functionID, normalizeInput(stepID), normalizeInput(exitCondition))
	if err != nil {
		return fmt.Errorf("루프 종료 기록 실패: %w", err)
	}

	fmt.Printf("✓ Step %s 루프 종료: %s (%d회)\n", card.StepID, card.Loop.ExitCondition, card.Loop.Iterations)
	return nil
}

func runCheckcardList(logger *zap.Logger, projectRef, functionRef string) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	cards, err := recorder.List(ctx, functionID)
	if err != nil {
		return fmt.Errorf("checkcard 목록 조회 실패: %w", err)
	}

	if len(cards) == 0 {
		fmt.Println("기록된 Checkcard가 없습니다.")
		return nil
	}

	// 테이블 형식 출력
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STEP\tNAME\tAGENT\tSTATUS\tSTARTED\tDURATION\tLOOP")
	_, _ = fmt.Fprintln(w, "----\t----\t-----\t------\t-------\t--------\t----")

	for i := range cards {
		card := &cards[i]
		duration := "-"
		if card.DurationMinutes != nil {
			duration = fmt.Sprintf("%d분", *card.DurationMinutes)
		}
		loop := "-"
		if card.Loop != nil {
			loop = fmt.Sprintf("%s x%d", card.Loop.Type, card.Loop.Iterations)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			card.StepID,
			truncateString(card.StepName, 30),
			card.Agent,
			statusBadge(card.Status),
			formatTime(card.StartedAt),
			duration,
			loop,
		)
	}
	_ = w.Flush()

	return nil
}

func runCheckcardExport(logger *zap.Logger, projectRef, functionRef, dir string) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	if dir == "" {
		dir = common.GetCheckcardsDir()
	}
	paths, err := recorder.Export(ctx, functionID, dir)
	if err != nil {
		return fmt.Errorf("checkcard 내보내기 실패: %w", err)
	}

	fmt.Printf("✓ Checkcard %d개 내보내기 완료 (%s)\n", len(paths), dir)
	for _, path := range paths {
		fmt.Printf("  %s\n", path)
	}
	return nil
}

func runCheckcardValidate(logger *zap.Logger, projectRef, functionRef string) error {
	ctx, cancel := commandContext()
	defer cancel()

	recorder, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	functionID, err := functionIDFor(ctx, store, projectRef, functionRef)
	if err != nil {
		return err
	}
	cards, err := recorder.List(ctx, functionID)
	if err != nil {
		return fmt.Errorf("checkcard 목록 조회 실패: %w", err)
	}

	invalid := 0
	for i := range cards {
		problems := checkcard.Problems(&cards[i])
		if len(problems) == 0 {
			fmt.Printf("✓ Step %s\n", cards[i].StepID)
			continue
		}
		invalid++
		fmt.Printf("❌ Step %s\n", cards[i].StepID)
		for _, p := range problems {
			fmt.Printf("  - %v\n", p)
		}
	}

	if invalid > 0 {
		return fmt.Errorf("checkcard %d개가 유효하지 않음", invalid)
	}
	return nil
}
