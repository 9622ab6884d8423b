package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"golang.org/x/text/unicode/norm"
)

var (
	badgeDone    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	badgeActive  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	badgeReview  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	badgeBlocked = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	badgeMuted   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	titleStyle   = lipgloss.NewStyle().Bold(true).Underline(true)
)

// statusBadge는 상태 값을 색상 스타일로 감쌉니다.
func statusBadge(status string) string {
	// task, phase, checkcard의 completed/in_progress/pending 값은 같은 문자열입니다.
	switch status {
	case storage.TaskStatusCompleted, storage.ProjectStatusProduction:
		return badgeDone.Render(status)
	case storage.TaskStatusCoding, storage.CheckcardStatusInProgress, storage.TaskStatusDatabaseIntegration:
		return badgeActive.Render(status)
	case storage.TaskStatusReview, storage.TaskStatusChangesRequested:
		return badgeReview.Render(status)
	case storage.TaskStatusBlocked, storage.CheckcardStatusFailed:
		return badgeBlocked.Render(status)
	case storage.TaskStatusSkipped, storage.ProjectStatusArchived:
		return badgeMuted.Render(status)
	default:
		return status
	}
}

func title(s string) string {
	return titleStyle.Render(s)
}

// normalizeInput은 터미널 입력을 NFC로 정규화하고 앞뒤 공백을 제거합니다.
func normalizeInput(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func optionalString(s string) *string {
	s = normalizeInput(s)
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-3]) + "..."
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 1*time.Minute)
}

// resolveFunctionRef는 --project가 주어지면 slug 조회를 허용하고, 아니면 ID로만 조회합니다.
func resolveFunctionRef(ctx context.Context, store *workflow.Store, projectRef, ref string) (*storage.ProjectFunction, error) {
	ref = normalizeInput(ref)
	if projectRef == "" {
		return store.GetFunction(ctx, ref)
	}
	project, err := store.ResolveProject(ctx, normalizeInput(projectRef))
	if err != nil {
		return nil, fmt.Errorf("프로젝트 조회 실패: %w", err)
	}
	return store.ResolveFunction(ctx, project.ID, ref)
}
