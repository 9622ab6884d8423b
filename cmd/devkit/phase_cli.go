package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func buildPhaseCommands(logger *zap.Logger) *cobra.Command {
	var projectRef string

	phaseCmd := &cobra.Command{
		Use:   "phase",
		Short: "Phase 관리 명령어",
		Long:  "ProjectFunction의 구현 단계(Phase) 생성과 진행 상황 조회 기능을 제공합니다.",
	}
	phaseCmd.PersistentFlags().StringVar(&projectRef, "project", "", "slug로 function을 찾을 때 사용할 project ID 또는 slug")

	// phase create
	var goal, story, priority, criteria, independentTest string
	var mvp bool
	phaseCreateCmd := &cobra.Command{
		Use:   "create <function> <number> <name>",
		Short: "새로운 Phase 생성",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("유효하지 않은 phase 번호: %s", args[1])
			}
			return runPhaseCreate(logger, projectRef, args[0], workflow.CreatePhaseInput{
				PhaseNumber:        number,
				PhaseName:          normalizeInput(args[2]),
				PhaseGoal:          optionalString(goal),
				IsMVP:              mvp,
				UserStory:          optionalString(story),
				Priority:           optionalString(priority),
				CompletionCriteria: optionalString(criteria),
				IndependentTest:    optionalString(independentTest),
			})
		},
	}
	phaseCreateCmd.Flags().StringVar(&goal, "goal", "", "Phase 목표")
	phaseCreateCmd.Flags().BoolVar(&mvp, "mvp", false, "MVP 범위 여부")
	phaseCreateCmd.Flags().StringVar(&story, "story", "", "User story (예: US1)")
	phaseCreateCmd.Flags().StringVar(&priority, "priority", "", "우선순위 (예: P1)")
	phaseCreateCmd.Flags().StringVar(&criteria, "criteria", "", "완료 기준")
	phaseCreateCmd.Flags().StringVar(&independentTest, "independent-test", "", "독립 테스트 방법")

	// phase list
	phaseListCmd := &cobra.Command{
		Use:   "list <function>",
		Short: "Phase 목록 조회",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhaseList(logger, projectRef, args[0])
		},
	}

	// phase view
	phaseViewCmd := &cobra.Command{
		Use:   "view <function> <number>",
		Short: "Phase 상세 정보와 태스크 조회",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("유효하지 않은 phase 번호: %s", args[1])
			}
			return runPhaseView(logger, projectRef, args[0], number)
		},
	}

	phaseCmd.AddCommand(phaseCreateCmd)
	phaseCmd.AddCommand(phaseListCmd)
	phaseCmd.AddCommand(phaseViewCmd)

	return phaseCmd
}

// findPhase는 function 안에서 번호로 phase를 찾습니다.
func findPhase(ctx context.Context, store *workflow.Store, functionID string, number int) (*storage.ProjectFunctionPhase, error) {
	phases, err := store.ListPhases(ctx, functionID)
	if err != nil {
		return nil, err
	}
	for i := range phases {
		if phases[i].PhaseNumber == number {
			return &phases[i], nil
		}
	}
	return nil, fmt.Errorf("phase %d: %w", number, workflow.ErrNotFound)
}

func runPhaseCreate(logger *zap.Logger, projectRef, ref string, input workflow.CreatePhaseInput) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	fn, err := resolveFunctionRef(ctx, store, projectRef, ref)
	if err != nil {
		return fmt.Errorf("function 조회 실패: %w", err)
	}
	phase, err := store.CreatePhase(ctx, fn.ID, input)
	if err != nil {
		return fmt.Errorf("phase 생성 실패: %w", err)
	}

	fmt.Printf("✓ Phase %d '%s' 생성 완료 (ID: %s)\n", phase.PhaseNumber, phase.PhaseName, phase.ID)
	return nil
}

func runPhaseList(logger *zap.Logger, projectRef, ref string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	fn, err := resolveFunctionRef(ctx, store, projectRef, ref)
	if err != nil {
		return fmt.Errorf("function 조회 실패: %w", err)
	}
	phases, err := store.ListPhases(ctx, fn.ID)
	if err != nil {
		return fmt.Errorf("phase 목록 조회 실패: %w", err)
	}

	if len(phases) == 0 {
		fmt.Printf("Function '%s'에 등록된 Phase가 없습니다.\n", fn.Slug)
		return nil
	}

	// 테이블 형식 출력
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tNAME\tMVP\tPRIORITY\tSTATUS\tPROGRESS\tSTARTED")
	_, _ = fmt.Fprintln(w, "-----\t----\t---\t--------\t------\t--------\t-------")

	for _, phase := range phases {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%d/%d\t%s\n",
			phase.PhaseNumber,
			truncateString(phase.PhaseName, 30),
			phase.IsMVP,
			deref(phase.Priority),
			statusBadge(phase.Status),
			phase.CompletedTasks,
			phase.TotalTasks,
			formatTime(phase.StartedAt),
		)
	}
	_ = w.Flush()

	return nil
}

func runPhaseView(logger *zap.Logger, projectRef, ref string, number int) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	fn, err := resolveFunctionRef(ctx, store, projectRef, ref)
	if err != nil {
		return fmt.Errorf("function 조회 실패: %w", err)
	}
	phase, err := findPhase(ctx, store, fn.ID, number)
	if err != nil {
		return fmt.Errorf("phase 조회 실패: %w", err)
	}
	tasks, err := store.ListPhaseTasks(ctx, phase.ID)
	if err != nil {
		return fmt.Errorf("task 목록 조회 실패: %w", err)
	}

	fmt.Println(title(fmt.Sprintf("Phase %d: %s", phase.PhaseNumber, phase.PhaseName)))
	fmt.Println()
	fmt.Printf("상태:       %s (%d/%d)\n", statusBadge(phase.Status), phase.CompletedTasks, phase.TotalTasks)
	fmt.Printf("목표:       %s\n", deref(phase.PhaseGoal))
	fmt.Printf("MVP:        %t\n", phase.IsMVP)
	fmt.Printf("완료 기준:  %s\n", deref(phase.CompletionCriteria))
	fmt.Printf("독립 테스트: %s\n", deref(phase.IndependentTest))
	fmt.Printf("시작:       %s\n", formatTime(phase.StartedAt))
	fmt.Printf("완료:       %s\n", formatTime(phase.CompletedAt))

	if len(tasks) > 0 {
		fmt.Println()
		printTaskTable(tasks)
	}
	return nil
}
