package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func buildTaskCommands(logger *zap.Logger) *cobra.Command {
	var projectRef string

	taskCmd := &cobra.Command{
		Use:   "task",
		Short: "Task 관리 명령어",
		Long:  "Task 생성, 가져오기, 상태 전이, 리뷰 기록, 에스컬레이션 기능을 제공합니다.",
	}
	taskCmd.PersistentFlags().StringVar(&projectRef, "project", "", "slug로 function을 찾을 때 사용할 project ID 또는 slug")

	// task create
	var input workflow.CreateTaskInput
	var description, story, priority, filePath, region, operation string
	var estimate int
	taskCreateCmd := &cobra.Command{
		Use:   "create <function> <phase-number> <task-id> <title>",
		Short: "새로운 Task 생성",
		Long:  "Phase 아래 Task를 생성합니다. 의존성이 순환을 만들면 생성되지 않습니다.",
		Args:  cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("유효하지 않은 phase 번호: %s", args[1])
			}
			input.TaskID = normalizeInput(args[2])
			input.Title = normalizeInput(args[3])
			input.Description = optionalString(description)
			input.UserStory = optionalString(story)
			input.Priority = optionalString(priority)
			input.FilePath = optionalString(filePath)
			input.RegionHint = optionalString(region)
			input.OperationType = optionalString(operation)
			if estimate > 0 {
				input.EstimatedDurationMinutes = &estimate
			}
			return runTaskCreate(logger, projectRef, args[0], number, input)
		},
	}
	taskCreateCmd.Flags().StringVarP(&description, "description", "d", "", "Task 설명")
	taskCreateCmd.Flags().StringVar(&story, "story", "", "User story")
	taskCreateCmd.Flags().StringVar(&priority, "priority", "", "우선순위")
	taskCreateCmd.Flags().StringVar(&filePath, "file", "", "대상 파일 경로")
	taskCreateCmd.Flags().StringVar(&region, "region", "", "파일 내 위치 힌트")
	taskCreateCmd.Flags().StringVar(&operation, "operation", "", "작업 종류 (create, modify, delete)")
	taskCreateCmd.Flags().IntVar(&estimate, "estimate", 0, "예상 소요 시간 (분)")
	taskCreateCmd.Flags().BoolVar(&input.IsParallelizable, "parallel", false, "병렬 실행 가능 여부")
	taskCreateCmd.Flags().BoolVar(&input.RequiresDBIntegration, "db", false, "승인 후 DB 통합 필요 여부")
	taskCreateCmd.Flags().StringSliceVar(&input.DependsOn, "depends-on", nil, "선행 task ID (쉼표 구분)")
	taskCreateCmd.Flags().StringSliceVar(&input.Blocks, "blocks", nil, "이 task가 막는 task ID (쉼표 구분)")

	// task import
	var fileURL string
	taskImportCmd := &cobra.Command{
		Use:   "import <function> <tasks.json>",
		Short: "tasks JSON 가져오기",
		Long:  "tasks JSON 배열로 Phase와 Task를 한 번에 생성합니다. 하나라도 실패하면 아무것도 생성되지 않습니다.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskImport(logger, projectRef, args[0], args[1], normalizeInput(fileURL))
		},
	}
	taskImportCmd.Flags().StringVar(&fileURL, "file-url", "", "tasks.md 링크 (지정하면 tasks 메타데이터를 함께 기록)")

	// task list
	taskListCmd := &cobra.Command{
		Use:   "list <function>",
		Short: "Task 목록 조회",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskList(logger, projectRef, args[0])
		},
	}

	// task view
	taskViewCmd := &cobra.Command{
		Use:   "view <function> <task-id>",
		Short: "Task 상세 정보 조회",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskView(logger, projectRef, args[0], args[1])
		},
	}

	// task transition
	taskTransitionCmd := &cobra.Command{
		Use:   "transition <function> <task-id> <status>",
		Short: "Task 상태 변경",
		Long:  "Task 상태를 전이합니다. (pending, coding, review, changes_requested, database_integration, completed, blocked, skipped)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskTransition(logger, projectRef, args[0], args[1], args[2])
		},
	}

	// task review
	var feedback, reviewer string
	taskReviewCmd := &cobra.Command{
		Use:   "review <function> <task-id> <result>",
		Short: "리뷰 결과 기록",
		Long:  "review 상태 Task에 리뷰 결과를 기록합니다. (APPROVED, APPROVED_WITH_FIXES, CHANGES_REQUESTED)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskReview(logger, projectRef, args[0], args[1], workflow.ReviewInput{
				Result:        strings.ToUpper(normalizeInput(args[2])),
				Feedback:      normalizeInput(feedback),
				ReviewerAgent: normalizeInput(reviewer),
			})
		},
	}
	taskReviewCmd.Flags().StringVarP(&feedback, "feedback", "m", "", "리뷰 피드백")
	taskReviewCmd.Flags().StringVar(&reviewer, "reviewer", "", "리뷰어 에이전트")

	// task escalate
	taskEscalateCmd := &cobra.Command{
		Use:   "escalate <function> <task-id> <reason>",
		Short: "Task를 orchestrator에게 에스컬레이션",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskEscalate(logger, projectRef, args[0], args[1], args[2])
		},
	}

	// task depend
	taskDependCmd := &cobra.Command{
		Use:   "depend <function> <task-id> <depends-on-task-id>",
		Short: "선행 Task 추가",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTaskDepend(logger, projectRef, args[0], args[1], args[2])
		},
	}

	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskImportCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskViewCmd)
	taskCmd.AddCommand(taskTransitionCmd)
	taskCmd.AddCommand(taskReviewCmd)
	taskCmd.AddCommand(taskEscalateCmd)
	taskCmd.AddCommand(taskDependCmd)

	return taskCmd
}

// resolveTask는 function 안에서 task_id로 태스크를 찾습니다.
func resolveTask(ctx context.Context, store *workflow.Store, projectRef, fnRef, taskRef string) (*storage.ProjectFunctionPhaseTask, error) {
	fn, err := resolveFunctionRef(ctx, store, projectRef, fnRef)
	if err != nil {
		return nil, fmt.Errorf("function 조회 실패: %w", err)
	}
	task, err := store.GetTaskByTaskID(ctx, fn.ID, normalizeInput(taskRef))
	if err != nil {
		return nil, fmt.Errorf("task 조회 실패: %w", err)
	}
	return task, nil
}

func printTaskTable(tasks []storage.ProjectFunctionPhaseTask) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TASK ID\tPHASE\tTITLE\tSTATUS\tAGENT\tREVIEWS\tDEPENDS ON")
	_, _ = fmt.Fprintln(w, "-------\t-----\t-----\t------\t-----\t-------\t----------")

	for _, task := range tasks {
		deps := "-"
		if len(task.DependsOn) > 0 {
			deps = strings.Join(task.DependsOn, ",")
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%d\t%s\n",
			task.TaskID,
			task.PhaseNumber,
			truncateString(task.Title, 40),
			statusBadge(task.Status),
			deref(task.AssignedAgent),
			task.ReviewIteration,
			deps,
		)
	}
	_ = w.Flush()
}

func runTaskCreate(logger *zap.Logger, projectRef, ref string, phaseNumber int, input workflow.CreateTaskInput) error {
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
	phase, err := findPhase(ctx, store, fn.ID, phaseNumber)
	if err != nil {
		return fmt.Errorf("phase 조회 실패: %w", err)
	}
	task, err := store.CreateTask(ctx, phase.ID, input)
	if err != nil {
		return fmt.Errorf("task 생성 실패: %w", err)
	}

	fmt.Printf("✓ Task '%s' 생성 완료 (Phase: %d, ID: %s)\n", task.TaskID, task.PhaseNumber, task.ID)
	return nil
}

func runTaskImport(logger *zap.Logger, projectRef, ref, path, fileURL string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tasks 파일 읽기 실패: %w", err)
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
	result, err := store.ImportTasks(ctx, fn.ID, data, fileURL)
	if err != nil {
		return fmt.Errorf("tasks 가져오기 실패: %w", err)
	}

	fmt.Printf("✓ Task %d개 가져오기 완료 (병렬 %d, MVP %d, Post-MVP %d)\n",
		result.TasksCreated, result.ParallelTasks, result.MVPTasks, result.PostMVPTasks)
	if len(result.PhasesCreated) > 0 {
		fmt.Printf("  생성된 Phase: %v\n", result.PhasesCreated)
	}
	if result.Metadata != nil {
		fmt.Printf("  tasks 메타데이터 index: %d\n", result.Metadata.Index)
	}
	return nil
}

func runTaskList(logger *zap.Logger, projectRef, ref string) error {
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
	tasks, err := store.ListTasks(ctx, fn.ID)
	if err != nil {
		return fmt.Errorf("task 목록 조회 실패: %w", err)
	}

	if len(tasks) == 0 {
		fmt.Printf("Function '%s'에 등록된 Task가 없습니다.\n", fn.Slug)
		return nil
	}

	printTaskTable(tasks)
	return nil
}

func runTaskView(logger *zap.Logger, projectRef, ref, taskRef string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	task, err := resolveTask(ctx, store, projectRef, ref, taskRef)
	if err != nil {
		return err
	}

	// 상세 정보 출력
	fmt.Println(title(fmt.Sprintf("Task 정보: %s", task.TaskID)))
	fmt.Println()
	fmt.Printf("제목:       %s\n", task.Title)
	fmt.Printf("Phase:      %d\n", task.PhaseNumber)
	fmt.Printf("상태:       %s\n", statusBadge(task.Status))
	fmt.Printf("에이전트:   %s\n", deref(task.AssignedAgent))
	fmt.Printf("파일:       %s\n", deref(task.FilePath))
	fmt.Printf("선행 Task:  %s\n", strings.Join(task.DependsOn, ", "))
	fmt.Printf("후행 Task:  %s\n", strings.Join(task.Blocks, ", "))
	fmt.Printf("병렬 가능:  %t\n", task.IsParallelizable)
	fmt.Printf("DB 통합:    %t\n", task.RequiresDBIntegration)
	fmt.Printf("시작:       %s\n", formatTime(task.StartedAt))
	fmt.Printf("완료:       %s\n", formatTime(task.CompletedAt))
	if task.ActualDurationMinutes != nil {
		fmt.Printf("소요 시간:  %d분\n", *task.ActualDurationMinutes)
	}

	if len(task.ReviewHistory) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ITERATION\tRESULT\tREVIEWER\tTIMESTAMP\tFEEDBACK")
		_, _ = fmt.Fprintln(w, "---------\t------\t--------\t---------\t--------")
		for _, entry := range task.ReviewHistory {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				entry.Iteration,
				entry.Result,
				deref(entry.ReviewerAgent),
				entry.Timestamp,
				truncateString(entry.Feedback, 50),
			)
		}
		_ = w.Flush()
	}
	return nil
}

func runTaskTransition(logger *zap.Logger, projectRef, ref, taskRef, status string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	task, err := resolveTask(ctx, store, projectRef, ref, taskRef)
	if err != nil {
		return err
	}
	task, err = store.TransitionTask(ctx, task.ID, normalizeInput(status))
	if err != nil {
		if workflow.RequiresEscalation(err) {
			fmt.Printf("❌ Task '%s' 리뷰 한도에 도달했습니다. orchestrator 개입이 필요합니다.\n", taskRef)
		}
		return fmt.Errorf("task 상태 변경 실패: %w", err)
	}

	fmt.Printf("✓ Task '%s' 상태 변경: %s (Agent: %s)\n", task.TaskID, statusBadge(task.Status), deref(task.AssignedAgent))
	return nil
}

func runTaskReview(logger *zap.Logger, projectRef, ref, taskRef string, input workflow.ReviewInput) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	task, err := resolveTask(ctx, store, projectRef, ref, taskRef)
	if err != nil {
		return err
	}
	task, err = store.RecordReview(ctx, task.ID, input)
	if err != nil {
		if workflow.RequiresEscalation(err) {
			fmt.Printf("❌ Task '%s' 리뷰 한도(%d회)에 도달했습니다. orchestrator 개입이 필요합니다.\n", taskRef, workflow.MaxReviewIterations)
		}
		return fmt.Errorf("리뷰 기록 실패: %w", err)
	}

	fmt.Printf("✓ Task '%s' 리뷰 %d회차 기록: %s -> %s\n", task.TaskID, task.ReviewIteration, input.Result, statusBadge(task.Status))
	return nil
}

func runTaskEscalate(logger *zap.Logger, projectRef, ref, taskRef, reason string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	task, err := resolveTask(ctx, store, projectRef, ref, taskRef)
	if err != nil {
		return err
	}
	task, err = store.EscalateTask(ctx, task.ID, normalizeInput(reason))
	if err != nil {
		return fmt.Errorf("에스컬레이션 실패: %w", err)
	}

	fmt.Printf("⚠ Task '%s' 에스컬레이션: %s\n", task.TaskID, statusBadge(task.Status))
	return nil
}

func runTaskDepend(logger *zap.Logger, projectRef, ref, taskRef, dependsOn string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	task, err := resolveTask(ctx, store, projectRef, ref, taskRef)
	if err != nil {
		return err
	}
	task, err = store.AddDependency(ctx, task.ID, normalizeInput(dependsOn))
	if err != nil {
		return fmt.Errorf("선행 task 추가 실패: %w", err)
	}

	fmt.Printf("✓ Task '%s' 선행 Task: %s\n", task.TaskID, strings.Join(task.DependsOn, ", "))
	return nil
}
