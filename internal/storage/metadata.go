package storage

// MetadataRecord는 ProjectFunction 메타데이터 배열의 원소입니다.
// MetadataKey는 레코드가 속한 배열을 식별합니다.
type MetadataRecord interface {
	MetadataKey() string
	RecordIndex() int
}

// SpecMetadata는 spec.md 버전을 추적합니다 (specify / clarify).
type SpecMetadata struct {
	FileURL   string  `json:"file_url"`
	Index     int     `json:"index"`
	Phase     string  `json:"phase"`
	Timestamp *string `json:"timestamp,omitempty"`
}

func (SpecMetadata) MetadataKey() string { return MetadataSpec }
func (m SpecMetadata) RecordIndex() int  { return m.Index }

// PlanMetadata는 plan.md 버전과 사용자 승인 여부를 추적합니다.
// plan_review 레코드는 file_url 없이 기록될 수 있습니다.
type PlanMetadata struct {
	FileURL          *string `json:"file_url"`
	Index            int     `json:"index"`
	Phase            string  `json:"phase"`
	UserApproved     *bool   `json:"user_approved,omitempty"`
	ReviewIterations *int    `json:"review_iterations,omitempty"`
	Timestamp        *string `json:"timestamp,omitempty"`
}

func (PlanMetadata) MetadataKey() string { return MetadataPlan }
func (m PlanMetadata) RecordIndex() int  { return m.Index }

// PlanArtifactMetadata는 plan 단계에서 생성된 설계 문서를 추적합니다.
type PlanArtifactMetadata struct {
	FileURL      string  `json:"file_url"`
	Index        int     `json:"index"`
	ArtifactType string  `json:"artifact_type"`
	Timestamp    *string `json:"timestamp,omitempty"`
}

func (PlanArtifactMetadata) MetadataKey() string { return MetadataPlanArtifacts }
func (m PlanArtifactMetadata) RecordIndex() int  { return m.Index }

// TasksMetadata는 tasks.md 파일과 태스크 통계를 추적합니다.
type TasksMetadata struct {
	FileURL       string  `json:"file_url"`
	Index         int     `json:"index"`
	Phase         string  `json:"phase"`
	TaskCount     int     `json:"task_count"`
	ParallelTasks int     `json:"parallel_tasks"`
	MVPTasks      *int    `json:"mvp_tasks,omitempty"`
	PostMVPTasks  *int    `json:"post_mvp_tasks,omitempty"`
	Timestamp     *string `json:"timestamp,omitempty"`
}

func (TasksMetadata) MetadataKey() string { return MetadataTasks }
func (m TasksMetadata) RecordIndex() int  { return m.Index }

// ImplementationIteration은 coder/reviewer 루프 한 번의 타이밍을 기록합니다.
type ImplementationIteration struct {
	Iteration           int      `json:"iteration"`
	StartedAt           string   `json:"started_at"`
	CompletedAt         string   `json:"completed_at"`
	CoderStartedAt      string   `json:"coder_started_at"`
	CoderCompletedAt    string   `json:"coder_completed_at"`
	ReviewerStartedAt   string   `json:"reviewer_started_at"`
	ReviewerCompletedAt string   `json:"reviewer_completed_at"`
	ReviewerResult      string   `json:"reviewer_result"`
	IssuesFound         []string `json:"issues_found,omitempty"`
	DurationMinutes     *int     `json:"duration_minutes,omitempty"`
}

// ImplementationPhase는 구현 단계 하나의 반복 기록입니다.
type ImplementationPhase struct {
	PhaseName       string                    `json:"phase_name"`
	PhaseNumber     int                       `json:"phase_number"`
	StartedAt       string                    `json:"started_at"`
	CompletedAt     string                    `json:"completed_at"`
	DurationMinutes int                       `json:"duration_minutes"`
	Iterations      []ImplementationIteration `json:"iterations"`
	TotalIterations int                       `json:"total_iterations"`
}

type PlanningPhase struct {
	StartedAt       string `json:"started_at"`
	CompletedAt     string `json:"completed_at"`
	DurationMinutes int    `json:"duration_minutes"`
}

type DatabasePhase struct {
	StartedAt       string   `json:"started_at"`
	CompletedAt     string   `json:"completed_at"`
	DurationMinutes int      `json:"duration_minutes"`
	MigrationFiles  []string `json:"migration_files,omitempty"`
	Schema          *string  `json:"schema,omitempty"`
}

// ImplementationMetadata는 구현 진행 상황과 성능 지표를 추적합니다.
// 구조화된 단계 정보와 레거시 필드를 함께 보관하며, Normalize가 레거시 필드를 채웁니다.
type ImplementationMetadata struct {
	Index int    `json:"index"`
	Phase string `json:"phase"`

	FeatureID            *string `json:"feature_id,omitempty"`
	PlanningApproach     *string `json:"planning_approach,omitempty"`
	StartedAt            *string `json:"started_at,omitempty"`
	CompletedAt          *string `json:"completed_at,omitempty"`
	TotalDurationMinutes *int    `json:"total_duration_minutes,omitempty"`

	PlanningPhase        *PlanningPhase        `json:"planning_phase,omitempty"`
	ImplementationPhases []ImplementationPhase `json:"implementation_phases,omitempty"`
	DatabasePhase        *DatabasePhase        `json:"database_phase,omitempty"`

	// legacy
	CompletedTasks *int    `json:"completed_tasks,omitempty"`
	TotalTasks     *int    `json:"total_tasks,omitempty"`
	ReviewResult   *string `json:"review_result,omitempty"`
	DBIntegrated   *bool   `json:"db_integrated,omitempty"`
	Completed      *bool   `json:"completed,omitempty"`
}

func (ImplementationMetadata) MetadataKey() string { return MetadataImplement }
func (m ImplementationMetadata) RecordIndex() int  { return m.Index }

// Normalize는 구조화된 단계 정보로부터 비어 있는 레거시 필드를 채웁니다.
// 이미 값이 있는 레거시 필드는 그대로 둡니다.
func (m *ImplementationMetadata) Normalize() {
	if m.ReviewResult == nil {
		for i := len(m.ImplementationPhases) - 1; i >= 0 && m.ReviewResult == nil; i-- {
			iterations := m.ImplementationPhases[i].Iterations
			if len(iterations) > 0 {
				result := iterations[len(iterations)-1].ReviewerResult
				m.ReviewResult = &result
			}
		}
	}
	if m.DBIntegrated == nil && m.DatabasePhase != nil {
		integrated := m.DatabasePhase.CompletedAt != ""
		m.DBIntegrated = &integrated
	}
	if m.Completed == nil {
		completed := m.Phase == "completed"
		m.Completed = &completed
	}
	if m.TotalDurationMinutes == nil && (m.PlanningPhase != nil || len(m.ImplementationPhases) > 0 || m.DatabasePhase != nil) {
		total := 0
		if m.PlanningPhase != nil {
			total += m.PlanningPhase.DurationMinutes
		}
		for _, phase := range m.ImplementationPhases {
			total += phase.DurationMinutes
		}
		if m.DatabasePhase != nil {
			total += m.DatabasePhase.DurationMinutes
		}
		m.TotalDurationMinutes = &total
	}
}

// ReviewHistoryEntry는 태스크 리뷰 루프의 한 회차입니다.
type ReviewHistoryEntry struct {
	Iteration     int     `json:"iteration"`
	Result        string  `json:"result"`
	Feedback      string  `json:"feedback"`
	Timestamp     string  `json:"timestamp"`
	ReviewerAgent *string `json:"reviewer_agent,omitempty"`
}

// CommandExecution은 checkcard 단계에서 실행된 명령입니다.
type CommandExecution struct {
	Command    string  `json:"command"`
	Purpose    string  `json:"purpose"`
	OutputFile *string `json:"output_file"`
}

// AgentSpawned는 단계에서 하위 에이전트가 투입된 시점입니다.
// AgentID는 "planner[1.2]"처럼 에이전트와 단계 ID를 함께 표기합니다.
type AgentSpawned struct {
	AgentType string `json:"agent_type"`
	AgentID   string `json:"agent_id"`
	SpawnedAt string `json:"spawned_at"`
}

// AgentKilled는 단계에서 에이전트가 종료된 시점입니다.
type AgentKilled struct {
	AgentType string `json:"agent_type"`
	AgentID   string `json:"agent_id"`
	KilledAt  string `json:"killed_at"`
}

// AgentID는 에이전트와 단계 ID로 "agent[step]" 표기를 만듭니다.
func AgentID(agent, stepID string) string {
	return agent + "[" + stepID + "]"
}

// LoopIteration은 세 가지 루프 형태의 반복 데이터를 하나로 담습니다.
// Type에 따라 사용되는 필드가 다릅니다.
type LoopIteration struct {
	Iteration int `json:"iteration"`

	// user_approval_loop
	OrchestratorQuestion string `json:"orchestrator_question,omitempty"`
	UserResponse         string `json:"user_response,omitempty"`
	RefinedDescription   string `json:"refined_description,omitempty"`

	// plan_review_loop
	UserFeedback       string   `json:"user_feedback,omitempty"`
	LogicErrorsFound   []string `json:"logic_errors_found,omitempty"`
	PlannerCorrections string   `json:"planner_corrections,omitempty"`
	PlanFileUpdated    string   `json:"plan_file_updated,omitempty"`

	// coder_reviewer_loop
	CoderStartedAt      string   `json:"coder_started_at,omitempty"`
	CoderCompletedAt    string   `json:"coder_completed_at,omitempty"`
	ReviewerStartedAt   string   `json:"reviewer_started_at,omitempty"`
	ReviewerCompletedAt string   `json:"reviewer_completed_at,omitempty"`
	ReviewerResult      string   `json:"reviewer_result,omitempty"`
	IssuesFound         []string `json:"issues_found,omitempty"`
	CoderFixesApplied   []string `json:"coder_fixes_applied,omitempty"`
}

// LoopData는 checkcard 단계의 반복 루프입니다.
// MaxIterations가 nil이면 반복 횟수 제한이 없습니다.
type LoopData struct {
	Type                 string          `json:"type"`
	MaxIterations        *int            `json:"max_iterations"`
	Iterations           int             `json:"iterations"`
	LoopDataPerIteration []LoopIteration `json:"loop_data_per_iteration"`
	ExitCondition        string          `json:"exit_condition,omitempty"`
}
