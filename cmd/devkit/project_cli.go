package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cnap-oss/devkit/internal/workflow"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func buildProjectCommands(logger *zap.Logger) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Project 관리 명령어",
		Long:  "Project 생성, 조회, 상태 진행 기능을 제공합니다.",
	}

	// project create
	var description, slug, constitution string
	projectCreateCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "새로운 Project 생성",
		Long:  "devkit 상태의 새 Project를 생성합니다. --slug를 생략하면 이름에서 생성합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectCreate(logger, workflow.CreateProjectInput{
				Name:                 normalizeInput(args[0]),
				Description:          normalizeInput(description),
				Slug:                 normalizeInput(slug),
				ConstitutionFileLink: optionalString(constitution),
			})
		},
	}
	projectCreateCmd.Flags().StringVarP(&description, "description", "d", "", "Project 설명")
	projectCreateCmd.Flags().StringVar(&slug, "slug", "", "Project slug")
	projectCreateCmd.Flags().StringVar(&constitution, "constitution", "", "constitution.md 링크")

	// project list
	var statuses []string
	projectListCmd := &cobra.Command{
		Use:   "list",
		Short: "Project 목록 조회",
		Long:  "Project 목록을 조회합니다. --status로 상태를 필터링할 수 있습니다.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectList(logger, statuses)
		},
	}
	projectListCmd.Flags().StringSliceVar(&statuses, "status", nil, "필터링할 상태 (쉼표 구분)")

	// project view
	projectViewCmd := &cobra.Command{
		Use:   "view <project-id|slug>",
		Short: "Project 상세 정보 조회",
		Long:  "Project 정보와 소속 ProjectFunction 목록을 조회합니다.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectView(logger, args[0])
		},
	}

	// project advance
	projectAdvanceCmd := &cobra.Command{
		Use:   "advance <project-id|slug> <status>",
		Short: "Project 상태 진행",
		Long:  "Project 상태를 앞으로 진행합니다. (devkit, plan, develop, test, production, archived)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectAdvance(logger, args[0], args[1])
		},
	}

	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectViewCmd)
	projectCmd.AddCommand(projectAdvanceCmd)

	return projectCmd
}

func runProjectCreate(logger *zap.Logger, input workflow.CreateProjectInput) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	project, err := store.CreateProject(ctx, input)
	if err != nil {
		return fmt.Errorf("project 생성 실패: %w", err)
	}

	fmt.Printf("✓ Project '%s' 생성 완료 (ID: %s, Slug: %s)\n", project.Name, project.ID, project.Slug)
	return nil
}

func runProjectList(logger *zap.Logger, statuses []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	projects, err := store.ListProjects(ctx, statuses...)
	if err != nil {
		return fmt.Errorf("project 목록 조회 실패: %w", err)
	}

	if len(projects) == 0 {
		fmt.Println("등록된 Project가 없습니다.")
		return nil
	}

	// 테이블 형식 출력
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSLUG\tNAME\tSTATUS\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t------\t-------")

	for _, p := range projects {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID,
			p.Slug,
			truncateString(p.Name, 40),
			p.Status,
			p.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()

	return nil
}

func runProjectView(logger *zap.Logger, ref string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	project, err := store.ResolveProject(ctx, normalizeInput(ref))
	if err != nil {
		return fmt.Errorf("project 조회 실패: %w", err)
	}
	functions, err := store.ListFunctions(ctx, project.ID)
	if err != nil {
		return fmt.Errorf("function 목록 조회 실패: %w", err)
	}

	// 상세 정보 출력
	fmt.Println(title(fmt.Sprintf("Project 정보: %s", project.Name)))
	fmt.Println()
	fmt.Printf("ID:           %s\n", project.ID)
	fmt.Printf("Slug:         %s\n", project.Slug)
	fmt.Printf("상태:         %s\n", statusBadge(project.Status))
	if project.Description != "" {
		fmt.Printf("설명:         %s\n", project.Description)
	}
	fmt.Printf("Constitution: %s\n", deref(project.ConstitutionFileLink))
	fmt.Printf("생성일:       %s\n", project.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("수정일:       %s\n", project.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(functions) == 0 {
		return nil
	}
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FUNCTION ID\tSLUG\tSTAGE\tAGENT")
	_, _ = fmt.Fprintln(w, "-----------\t----\t-----\t-----")
	for _, fn := range functions {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", fn.ID, fn.Slug, fn.StatusSpeckit, fn.StatusAgent)
	}
	_ = w.Flush()

	return nil
}

func runProjectAdvance(logger *zap.Logger, ref, status string) error {
	ctx, cancel := commandContext()
	defer cancel()

	store, cleanup, err := newStore(logger)
	if err != nil {
		return fmt.Errorf("저장소 초기화 실패: %w", err)
	}
	defer cleanup()

	project, err := store.ResolveProject(ctx, normalizeInput(ref))
	if err != nil {
		return fmt.Errorf("project 조회 실패: %w", err)
	}
	project, err = store.AdvanceProject(ctx, project.ID, normalizeInput(status))
	if err != nil {
		return fmt.Errorf("project 상태 변경 실패: %w", err)
	}

	fmt.Printf("✓ Project '%s' 상태 변경: %s\n", project.Slug, statusBadge(project.Status))
	return nil
}
