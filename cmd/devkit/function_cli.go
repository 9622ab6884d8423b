package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cnap-oss/devkit/internal/common"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func buildFunctionCommands(logger *zap.Logger) *cobra.Command {
	var projectRef string

	functionCmd := &cobra.Command{
		Use:     "function",
		Aliases: []string{"fn"},
		Short:   "ProjectFunction 관리 명령어",
		Long:    "ProjectFunction 생성, 단계 진행, 에이전트 인계, 메타데이터 기록 기능을 제공합니다.",
	}
	functionCmd.PersistentFlags().StringVar(&projectRef, "project", "", "slug로 function을 찾을 때 사용할 project ID 또는 slug")

	// function create
	var description, slug, agent string
	functionCreateCmd := &cobra.Command{
		Use:   "create <project-id|slug> <name>",
		Short: "새로운 ProjectFunction 생성",
		Long:  "Project 아래 specify 단계의 ProjectFunction을 생성합니다.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunctionCreate(logger, args[0], workflow.CreateFunctionInput{
				Name:        normalizeInput(args[1]),
				Description: normalizeInput(description),
				Slug:        normalizeInput(slug),
				Agent:       normalizeInput(agent),
			})
		},
	}
	functionCreateCmd.Flags().StringVarP(&description, "description", "d", "", "Function 설명")
	functionCreateCmd.Flags().StringVar(&slug, "slug", "", "Function slug")
	functionCreateCmd.Flags().StringVar(&agent, "agent", "", "초기 담당 에이전트 (기본값: 설정의 default_agent)")

	// function list
	functionListCmd := &cobra.Command{
		Use:   "list <project-id|slug>",
		Short: "ProjectFunction 목록 조회",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunctionList(logger, args[0])
		},
	}

	// function view
	var asJSON bool
	functionViewCmd := &cobra.Command{
		Use:   "view <function>",
		Short: "ProjectFunction 진행 상황 조회",
		Long:  "function, phase, task를 함께 읽어 현재 phase와 완료율을 보여줍니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunctionView(logger, projectRef, args[0], asJSON)
		},
	}
	functionViewCmd.Flags().BoolVar(&asJSON, "json", false, "JSON으로 출력")

	// function advance
	functionAdvanceCmd := &cobra.Command{
		Use:   "advance <function> <stage>",
		Short: "SpecKit 단계 진행",
		Long:  "status_speckit을 다음 단계로 진행합니다. (specify, clarify, plan, tasks, analyze, implement)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunctionAdvance(logger, projectRef, args[0], args[1])
		},
	}

	// function handoff
	var handoffStep string
	functionHandoffCmd := &cobra.Command{
		Use:   "handoff <function> <from-agent> <to-agent>",
		Short: "담당 에이전트 인계",
		Long:  "담당 에이전트를 넘기고 진행 중인 단계 checkcard에 agent_killed/agent_spawned를 기록합니다.",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunctionHandoff(logger, projectRef, handoffStep, args[0], args[1], args[2])
		},
	}
	functionHandoffCmd.Flags().StringVar(&handoffStep, "step", "", "인계를 기록할 단계 ID (기본: 진행 중인 마지막 단계)")

	// function metadata
	functionMetadataCmd := &cobra.Command{
		Use:   "metadata <function> <key> <record.json>",
		Short: "메타데이터 레코드 추가",
		Long:  "JSON 파일의 레코드를 메타데이터 배열 끝에 추가합니다. (spec, plan, plan_artifacts, tasks, implementation)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunctionMetadata(logger, projectRef, args[0], args[1], args[2])
		},
	}

	// function performance
	functionPerformanceCmd := &cobra.Command{
		Use:   "performance <function>",
		Short: "구현 성능 지표 조회",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFunctionPerformance(logger, projectRef, args[0])
		},
	}

	functionCmd.AddCommand(functionCreateCmd)
	functionCmd.AddCommand(functionListCmd)
	functionCmd.AddCommand(functionViewCmd)
	functionCmd.AddCommand(functionAdvanceCmd)
	functionCmd.AddCommand(functionHandoffCmd)
	functionCmd.AddCommand(functionMetadataCmd)
	functionCmd.AddCommand(functionPerformanceCmd)

	return functionCmd
}

func runFunctionCreate(logger *zap.Logger, projectRef string, input workflow.CreateFunctionInput) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	project, err := store.ResolveProject(ctx, normalizeInput(projectRef))
	if err != nil {
		return fmt.Errorf("project 조회 실패: %w", err)
	}
	input.ProjectID = project.ID
	if input.Agent == "" {
		input.Agent = common.GetConfig().Workflow.DefaultAgent
	}

	fn, err := store.CreateFunctionWithInput(ctx, input)
	if err != nil {
		return fmt.Errorf("function 생성 실패: %w", err)
	}

	fmt.Printf("✓ Function '%s' 생성 완료 (ID: %s, Slug: %s, Agent: %s)\n", fn.Name, fn.ID, fn.Slug, fn.StatusAgent)
	return nil
}

func runFunctionList(logger *zap.Logger, projectRef string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	project, err := store.ResolveProject(ctx, normalizeInput(projectRef))
	if err != nil {
		return fmt.Errorf("project 조회 실패: %w", err)
	}
	functions, err := store.ListFunctions(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("function 목록 조회 실패: %w", err)
	}

	if len(functions) == 0 {
		fmt.Printf("Project '%s'에 등록된 Function이 없습니다.\n", project.Slug)
		return nil
	}

	// 테이블 형식 출력
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSLUG\tSTAGE\tAGENT\tVERSION\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t-----\t-----\t-------\t-------")

	for _, fn := range functions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			fn.ID,
			fn.Slug,
			fn.StatusSpeckit,
			fn.StatusAgent,
			fn.Version,
			fn.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()

	return nil
}

func runFunctionView(logger *zap.Logger, projectRef, ref string, asJSON bool) error {
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
	snapshot, err := store.Snapshot(ctx, fn.ID)
	if err != nil {
		return fmt.Errorf("진행 상황 조회 실패: %w", err)
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snapshot)
	}

	fmt.Println(title(fmt.Sprintf("Function 정보: %s", fn.Name)))
	fmt.Println()
	fmt.Printf("ID:         %s\n", fn.ID)
	fmt.Printf("Slug:       %s\n", fn.Slug)
	fmt.Printf("단계:       %s\n", fn.StatusSpeckit)
	fmt.Printf("에이전트:   %s\n", snapshot.CurrentAgent)
	fmt.Printf("현재 Phase: %s\n", snapshot.CurrentPhase)
	fmt.Printf("완료율:     %.2f%%\n", snapshot.CompletionPercentage)
	fmt.Printf("메타데이터: spec=%d plan=%d artifacts=%d tasks=%d implementation=%d\n",
		len(fn.SpecMetadata),
		len(fn.PlanMetadata),
		len(fn.PlanArtifactsMetadata),
		len(fn.TasksMetadata),
		len(fn.ImplementationMetadata),
	)

	if len(snapshot.Phases) == 0 {
		return nil
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PHASE\tNAME\tMVP\tSTATUS\tPROGRESS")
	_, _ = fmt.Fprintln(w, "-----\t----\t---\t------\t--------")
	for _, phase := range snapshot.Phases {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%d/%d\n",
			phase.PhaseNumber,
			truncateString(phase.PhaseName, 30),
			phase.IsMVP,
			statusBadge(phase.Status),
			phase.CompletedTasks,
			phase.TotalTasks,
		)
	}
	_ = w.Flush()

	return nil
}

func runFunctionAdvance(logger *zap.Logger, projectRef, ref, stage string) error {
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
	fn, err = store.AdvanceStage(ctx, fn.ID, normalizeInput(stage))
	if err != nil {
		return fmt.Errorf("단계 진행 실패: %w", err)
	}

	fmt.Printf("✓ Function '%s' 단계 진행: %s\n", fn.Slug, fn.StatusSpeckit)
	return nil
}

func runFunctionHandoff(logger *zap.Logger, projectRef, stepID, ref, from, to string) error {
	ctx, cancel := commandContext()
	defer cancel()

	_, store, cleanup, err := newRecorder(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	fn, err := resolveFunctionRef(ctx, store, projectRef, ref)
	if err != nil {
		return fmt.Errorf("function 조회 실패: %w", err)
	}
	fn, err = store.HandoffAgent(ctx, fn.ID, normalizeInput(stepID), normalizeInput(from), normalizeInput(to))
	if err != nil {
		return fmt.Errorf("에이전트 인계 실패: %w", err)
	}

	fmt.Printf("✓ Function '%s' 담당 에이전트: %s\n", fn.Slug, fn.StatusAgent)
	return nil
}

func runFunctionMetadata(logger *zap.Logger, projectRef, ref, key, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("레코드 파일 읽기 실패: %w", err)
	}
	record, err := workflow.DecodeMetadata(normalizeInput(key), data)
	if err != nil {
		return err
	}

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
	appended, err := store.AppendMetadata(ctx, fn.ID, normalizeInput(key), record)
	if err != nil {
		return fmt.Errorf("메타데이터 추가 실패: %w", err)
	}

	fmt.Printf("✓ Function '%s' %s 메타데이터 추가 (index: %d)\n", fn.Slug, key, appended.RecordIndex())
	return nil
}

func runFunctionPerformance(logger *zap.Logger, projectRef, ref string) error {
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
	metrics, err := store.PerformanceMetrics(ctx, fn.ID)
	if err != nil {
		return fmt.Errorf("성능 지표 조회 실패: %w", err)
	}

	fmt.Println(title(fmt.Sprintf("성능 지표: %s", fn.Slug)))
	fmt.Println()
	fmt.Printf("Feature:           %s\n", metrics.FeatureID)
	fmt.Printf("Planning 방식:     %s\n", metrics.PlanningApproach)
	fmt.Printf("총 소요 시간:      %d분\n", metrics.TotalDurationMinutes)
	fmt.Printf("  planning:        %d분\n", metrics.PlanningDurationMinutes)
	fmt.Printf("  implementation:  %d분\n", metrics.ImplementationDurationMinutes)
	fmt.Printf("  database:        %d분\n", metrics.DatabaseDurationMinutes)
	fmt.Printf("MVP / Post-MVP:    %d분 / %d분\n", metrics.MVPDurationMinutes, metrics.PostMVPDurationMinutes)
	fmt.Printf("리뷰 반복:         %d회 (phase 평균 %.2f)\n", metrics.TotalIterations, metrics.AverageIterationsPerPhase)

	return nil
}
