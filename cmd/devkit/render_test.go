package main

import (
	"testing"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeInput(t *testing.T) {
	decomposed := "\u1100\u1161 "
	assert.Equal(t, "가", normalizeInput(decomposed))
	assert.Nil(t, optionalString("   "))
	assert.Equal(t, "spec", *optionalString(" spec "))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "가나다...", truncateString("가나다라마바사", 6))
}

func TestStatusBadgeKeepsText(t *testing.T) {
	statuses := append([]string{}, storage.TaskStatuses...)
	statuses = append(statuses, storage.ProjectStatuses...)
	statuses = append(statuses,
		storage.CheckcardStatusPending,
		storage.CheckcardStatusInProgress,
		storage.CheckcardStatusCompleted,
		storage.CheckcardStatusFailed,
		storage.PhaseStatusInProgress,
		storage.PhaseStatusBlocked,
	)
	for _, status := range statuses {
		t.Run(status, func(t *testing.T) {
			assert.Contains(t, statusBadge(status), status)
		})
	}
}

func TestStatusBadge_SharedValuesRenderAlike(t *testing.T) {
	assert.Equal(t, statusBadge(storage.TaskStatusCompleted), statusBadge(storage.CheckcardStatusCompleted))
	assert.Equal(t, statusBadge(storage.TaskStatusCompleted), statusBadge(storage.PhaseStatusCompleted))
	assert.Equal(t, statusBadge(storage.CheckcardStatusInProgress), statusBadge(storage.PhaseStatusInProgress))
	assert.Equal(t, "pending", statusBadge(storage.TaskStatusPending))
}
