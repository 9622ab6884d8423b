package storage

const (
	ProjectStatusDevkit     = "devkit"
	ProjectStatusPlan       = "plan"
	ProjectStatusDevelop    = "develop"
	ProjectStatusTest       = "test"
	ProjectStatusProduction = "production"
	ProjectStatusArchived   = "archived"

	// SpecKit 파이프라인 단계
	StageSpecify   = "specify"
	StageClarify   = "clarify"
	StagePlan      = "plan"
	StageTasks     = "tasks"
	StageAnalyze   = "analyze"
	StageImplement = "implement"

	AgentUser              = "user"
	AgentOrchestrator      = "orchestrator"
	AgentPlanner           = "planner"
	AgentCoder             = "coder"
	AgentReviewer          = "reviewer"
	AgentDatabaseArchitect = "database-architect"

	PhaseStatusPending    = "pending"
	PhaseStatusInProgress = "in_progress"
	PhaseStatusCompleted  = "completed"
	PhaseStatusBlocked    = "blocked"

	TaskStatusPending             = "pending"
	TaskStatusCoding              = "coding"
	TaskStatusReview              = "review"
	TaskStatusChangesRequested    = "changes_requested"
	TaskStatusDatabaseIntegration = "database_integration"
	TaskStatusCompleted           = "completed"
	TaskStatusBlocked             = "blocked"
	TaskStatusSkipped             = "skipped"

	ReviewApproved          = "APPROVED"
	ReviewApprovedWithFixes = "APPROVED_WITH_FIXES"
	ReviewChangesRequested  = "CHANGES_REQUESTED"

	OperationCreate = "create"
	OperationModify = "modify"
	OperationDelete = "delete"

	CheckcardStatusPending    = "pending"
	CheckcardStatusInProgress = "in_progress"
	CheckcardStatusCompleted  = "completed"
	CheckcardStatusFailed     = "failed"

	// 메타데이터 배열 키
	MetadataSpec          = "spec"
	MetadataPlan          = "plan"
	MetadataPlanArtifacts = "plan_artifacts"
	MetadataTasks         = "tasks"
	MetadataImplement     = "implementation"

	LoopTypeUserApproval  = "user_approval_loop"
	LoopTypePlanReview    = "plan_review_loop"
	LoopTypeCoderReviewer = "coder_reviewer_loop"
)

// ProjectStatuses는 프로젝트 상태를 진행 순서대로 나열합니다.
var ProjectStatuses = []string{
	ProjectStatusDevkit,
	ProjectStatusPlan,
	ProjectStatusDevelop,
	ProjectStatusTest,
	ProjectStatusProduction,
	ProjectStatusArchived,
}

// Stages는 status_speckit 단계를 고정된 진행 순서대로 나열합니다.
var Stages = []string{
	StageSpecify,
	StageClarify,
	StagePlan,
	StageTasks,
	StageAnalyze,
	StageImplement,
}

// Agents는 status_agent / assigned_agent 에 허용되는 값입니다.
var Agents = []string{
	AgentUser,
	AgentOrchestrator,
	AgentPlanner,
	AgentCoder,
	AgentReviewer,
	AgentDatabaseArchitect,
}

// TaskStatuses는 태스크 상태 전체 목록입니다.
var TaskStatuses = []string{
	TaskStatusPending,
	TaskStatusCoding,
	TaskStatusReview,
	TaskStatusChangesRequested,
	TaskStatusDatabaseIntegration,
	TaskStatusCompleted,
	TaskStatusBlocked,
	TaskStatusSkipped,
}

// ReviewResults는 리뷰어 판정 값 목록입니다.
var ReviewResults = []string{
	ReviewApproved,
	ReviewApprovedWithFixes,
	ReviewChangesRequested,
}

// Contains는 values에 v가 포함되어 있는지 확인합니다.
func Contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// IndexOf는 values에서 v의 위치를 반환합니다. 없으면 -1입니다.
func IndexOf(values []string, v string) int {
	for i, candidate := range values {
		if candidate == v {
			return i
		}
	}
	return -1
}
