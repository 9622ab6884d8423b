package checkcard

import "github.com/cnap-oss/devkit/internal/storage"

// 에이전트 동작 모드
const (
	ModeSocraticDialog = "Socratic Dialog Mode"
	ModeExecution      = "Execution Mode"
	ModeReview         = "Review Mode"
	ModeResearch       = "Research Mode"
)

// ValidationTaskJSON은 완료 시 outputs.tasks_json이 유효한 태스크 배열이어야 하는 단계를 표시합니다.
const ValidationTaskJSON = "task_json"

// Step은 등록된 워크플로우 단계 정의입니다.
type Step struct {
	ID                 string
	Name               string
	Agent              string
	Description        string
	BehaviorMode       string
	ContextReads       []string
	LoopType           string
	RequiresValidation string
}

var steps = map[string]Step{
	"1.1": {
		ID:          "1.1",
		Name:        "User Request",
		Agent:       storage.AgentUser,
		Description: "User submits the initial feature request",
	},
	"1.2": {
		ID:           "1.2",
		Name:         "Orchestrator Initial Dialog",
		Agent:        storage.AgentOrchestrator,
		Description:  "Orchestrator refines the user story and creates the project function",
		BehaviorMode: ModeSocraticDialog,
		ContextReads: []string{"constitution.md", "CLAUDE.md"},
		LoopType:     storage.LoopTypeUserApproval,
	},
	"2.1": {
		ID:           "2.1",
		Name:         "Planner Specify Phase",
		Agent:        storage.AgentPlanner,
		Description:  "Planner researches the codebase and writes spec.md",
		BehaviorMode: ModeResearch,
		ContextReads: []string{"constitution.md"},
	},
	"2.2": {
		ID:          "2.2",
		Name:        "Orchestrator Spec Update",
		Agent:       storage.AgentOrchestrator,
		Description: "Orchestrator records spec.md metadata and hands off to clarify",
	},
	"A1": {
		ID:           "A1",
		Name:         "User Request + Orchestrator Dialog",
		Agent:        storage.AgentOrchestrator,
		Description:  "Orchestrator refines user story and creates project_function",
		BehaviorMode: ModeSocraticDialog,
		LoopType:     storage.LoopTypeUserApproval,
	},
	"B1": {
		ID:           "B1",
		Name:         "Planner Specify Phase",
		Agent:        storage.AgentPlanner,
		Description:  "Planner researches codebase and executes speckit.specify",
		BehaviorMode: ModeResearch,
	},
	"C1": {
		ID:          "C1",
		Name:        "Orchestrator Clarify Phase",
		Agent:       storage.AgentOrchestrator,
		Description: "Orchestrator clarifies spec.md with user",
		LoopType:    storage.LoopTypeUserApproval,
	},
	"D1": {
		ID:           "D1",
		Name:         "Planner Plan Phase",
		Agent:        storage.AgentPlanner,
		Description:  "Planner creates technical plan based on spec.md",
		BehaviorMode: ModeResearch,
	},
	"E1": {
		ID:           "E1",
		Name:         "Orchestrator Plan Review Phase",
		Agent:        storage.AgentOrchestrator,
		Description:  "Orchestrator reviews plan and gets user approval",
		BehaviorMode: ModeReview,
		LoopType:     storage.LoopTypePlanReview,
	},
	"F1": {
		ID:                 "F1",
		Name:               "Planner Tasks Phase",
		Agent:              storage.AgentPlanner,
		Description:        "Planner breaks down plan into actionable tasks",
		BehaviorMode:       ModeExecution,
		RequiresValidation: ValidationTaskJSON,
	},
	"5.5.2": {
		ID:           "5.5.2",
		Name:         "Coder Reviewer Loop",
		Agent:        storage.AgentCoder,
		Description:  "Coder implements a task and the reviewer approves or requests changes",
		BehaviorMode: ModeExecution,
		LoopType:     storage.LoopTypeCoderReviewer,
	},
	"4.5.1": {
		ID:           "4.5.1",
		Name:         "Orchestrator Analyze Phase",
		Agent:        storage.AgentOrchestrator,
		Description:  "Orchestrator cross-checks spec, plan and tasks before implementation",
		BehaviorMode: ModeReview,
		ContextReads: []string{
			"spec.md",
			"plan.md",
			"tasks.md",
			"constitution.md",
			"data-model.md",
			"contracts/",
			"research.md",
		},
	},
}

// LookupStep은 등록된 단계 정의를 반환합니다.
func LookupStep(stepID string) (Step, bool) {
	step, ok := steps[stepID]
	return step, ok
}

// maxLoopIterations는 루프 종류별 최대 반복 횟수입니다. nil이면 제한이 없습니다.
func maxLoopIterations(loopType string) (*int, bool) {
	switch loopType {
	case storage.LoopTypeUserApproval:
		return nil, true
	case storage.LoopTypePlanReview, storage.LoopTypeCoderReviewer:
		limit := 3
		return &limit, true
	default:
		return nil, false
	}
}

// exitConditions는 루프 종류별 허용 종료 조건입니다.
var exitConditions = map[string][]string{
	storage.LoopTypeUserApproval:  {"user approval", "max iterations reached"},
	storage.LoopTypePlanReview:    {"user approval", "max iterations reached"},
	storage.LoopTypeCoderReviewer: {"approved", "max iterations reached", "orchestrator intervention"},
}
