package workflow

import "github.com/cnap-oss/devkit/internal/storage"

// taskTransitions는 태스크 상태별 허용 전이 목록입니다.
// completed, skipped는 종료 상태입니다.
var taskTransitions = map[string][]string{
	storage.TaskStatusPending: {
		storage.TaskStatusCoding,
		storage.TaskStatusBlocked,
		storage.TaskStatusSkipped,
	},
	storage.TaskStatusCoding: {
		storage.TaskStatusReview,
		storage.TaskStatusBlocked,
	},
	storage.TaskStatusReview: {
		storage.TaskStatusChangesRequested,
		storage.TaskStatusCompleted,
		storage.TaskStatusDatabaseIntegration,
		storage.TaskStatusBlocked,
	},
	storage.TaskStatusChangesRequested: {
		storage.TaskStatusCoding,
		storage.TaskStatusBlocked,
	},
	storage.TaskStatusDatabaseIntegration: {
		storage.TaskStatusCompleted,
		storage.TaskStatusBlocked,
	},
	storage.TaskStatusBlocked: {
		storage.TaskStatusPending,
		storage.TaskStatusCoding,
		storage.TaskStatusSkipped,
	},
}

// CanTransitionTask는 from에서 to로의 태스크 상태 전이가 허용되는지 확인합니다.
func CanTransitionTask(from, to string) bool {
	return storage.Contains(taskTransitions[from], to)
}

// IsTaskTerminal은 더 이상 전이할 수 없는 태스크 상태인지 확인합니다.
func IsTaskTerminal(status string) bool {
	return status == storage.TaskStatusCompleted || status == storage.TaskStatusSkipped
}

// isTaskDone은 phase 진행률 계산에서 완료로 취급되는 상태인지 확인합니다.
func isTaskDone(status string) bool {
	return IsTaskTerminal(status)
}

// nextStage는 status_speckit의 바로 다음 단계를 반환합니다. 마지막 단계면 빈 문자열입니다.
func nextStage(current string) string {
	idx := storage.IndexOf(storage.Stages, current)
	if idx < 0 || idx+1 >= len(storage.Stages) {
		return ""
	}
	return storage.Stages[idx+1]
}

// agentForStatus는 상태 진입 시 담당 에이전트를 반환합니다. 변경이 없으면 빈 문자열입니다.
func agentForStatus(status string) string {
	switch status {
	case storage.TaskStatusCoding, storage.TaskStatusChangesRequested:
		return storage.AgentCoder
	case storage.TaskStatusReview:
		return storage.AgentReviewer
	case storage.TaskStatusDatabaseIntegration:
		return storage.AgentDatabaseArchitect
	default:
		return ""
	}
}
