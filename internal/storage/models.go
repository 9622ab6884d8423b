package storage

import "time"

// Project는 projects 테이블 레코드를 나타냅니다.
type Project struct {
	ID                   string         `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	Name                 string         `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description          string         `gorm:"column:description;type:text" json:"description"`
	Slug                 string         `gorm:"column:slug;type:varchar(128);not null;uniqueIndex:idx_projects_slug" json:"slug"`
	Status               string         `gorm:"column:status;type:varchar(32);not null;default:'devkit'" json:"status"`
	ConstitutionFileLink *string        `gorm:"column:constitution_file_link;type:text" json:"constitution_file_link"`
	ConstitutionMetadata map[string]any `gorm:"column:constitution_metadata;type:json;serializer:json" json:"constitution_metadata"`
	CreatedAt            time.Time      `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (Project) TableName() string {
	return "projects"
}

// ProjectFunction은 project_functions 테이블 레코드를 나타냅니다.
// 다섯 개의 메타데이터 배열은 append-only이며 Repository.AppendMetadata 외에는 갱신되지 않습니다.
type ProjectFunction struct {
	ID                     string                   `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	ProjectID              string                   `gorm:"column:project_id;type:varchar(36);not null;index:idx_functions_project;uniqueIndex:idx_functions_project_slug,priority:1" json:"project_id"`
	Name                   string                   `gorm:"column:name;type:varchar(255);not null" json:"name"`
	Description            string                   `gorm:"column:description;type:text" json:"description"`
	Slug                   string                   `gorm:"column:slug;type:varchar(128);not null;uniqueIndex:idx_functions_project_slug,priority:2" json:"slug"`
	StatusSpeckit          string                   `gorm:"column:status_speckit;type:varchar(32);not null;default:'specify'" json:"status_speckit"`
	StatusAgent            string                   `gorm:"column:status_agent;type:varchar(32);not null;default:'orchestrator'" json:"status_agent"`
	SpecMetadata           []SpecMetadata           `gorm:"column:spec_metadata;type:json;serializer:json" json:"spec_metadata"`
	PlanMetadata           []PlanMetadata           `gorm:"column:plan_metadata;type:json;serializer:json" json:"plan_metadata"`
	PlanArtifactsMetadata  []PlanArtifactMetadata   `gorm:"column:plan_artifacts_metadata;type:json;serializer:json" json:"plan_artifacts_metadata"`
	TasksMetadata          []TasksMetadata          `gorm:"column:tasks_metadata;type:json;serializer:json" json:"tasks_metadata"`
	ImplementationMetadata []ImplementationMetadata `gorm:"column:implementation_metadata;type:json;serializer:json" json:"implementation_metadata"`
	Version                int64                    `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt              time.Time                `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time                `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (ProjectFunction) TableName() string {
	return "project_functions"
}

// ProjectFunctionPhase는 project_function_phases 테이블 레코드를 나타냅니다.
// Status, TotalTasks, CompletedTasks는 소속 태스크로부터 계산됩니다.
type ProjectFunctionPhase struct {
	ID                 string     `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	FunctionID         string     `gorm:"column:function_id;type:varchar(36);not null;index:idx_phases_function;uniqueIndex:idx_phases_function_number,priority:1" json:"function_id"`
	PhaseNumber        int        `gorm:"column:phase_number;type:int;not null;uniqueIndex:idx_phases_function_number,priority:2" json:"phase_number"`
	PhaseName          string     `gorm:"column:phase_name;type:varchar(255);not null" json:"phase_name"`
	PhaseGoal          *string    `gorm:"column:phase_goal;type:text" json:"phase_goal"`
	IsMVP              bool       `gorm:"column:is_mvp;not null;default:false" json:"is_mvp"`
	UserStory          *string    `gorm:"column:user_story;type:text" json:"user_story"`
	Priority           *string    `gorm:"column:priority;type:varchar(16)" json:"priority"`
	Status             string     `gorm:"column:status;type:varchar(32);not null;default:'pending'" json:"status"`
	CompletionCriteria *string    `gorm:"column:completion_criteria;type:text" json:"completion_criteria"`
	IndependentTest    *string    `gorm:"column:independent_test;type:text" json:"independent_test"`
	TotalTasks         int        `gorm:"column:total_tasks;type:int;not null;default:0" json:"total_tasks"`
	CompletedTasks     int        `gorm:"column:completed_tasks;type:int;not null;default:0" json:"completed_tasks"`
	StartedAt          *time.Time `gorm:"column:started_at" json:"started_at"`
	CompletedAt        *time.Time `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt          time.Time  `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (ProjectFunctionPhase) TableName() string {
	return "project_function_phases"
}

// ProjectFunctionPhaseTask는 project_function_phase_tasks 테이블 레코드를 나타냅니다.
type ProjectFunctionPhaseTask struct {
	ID                       string               `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	FunctionID               string               `gorm:"column:function_id;type:varchar(36);not null;index:idx_tasks_function;uniqueIndex:idx_tasks_function_task,priority:1" json:"function_id"`
	PhaseID                  string               `gorm:"column:phase_id;type:varchar(36);not null;index:idx_tasks_phase" json:"phase_id"`
	TaskID                   string               `gorm:"column:task_id;type:varchar(64);not null;uniqueIndex:idx_tasks_function_task,priority:2" json:"task_id"`
	Title                    string               `gorm:"column:title;type:text;not null" json:"title"`
	Description              *string              `gorm:"column:description;type:text" json:"description"`
	PhaseNumber              int                  `gorm:"column:phase_number;type:int;not null" json:"phase_number"`
	UserStory                *string              `gorm:"column:user_story;type:text" json:"user_story"`
	Priority                 *string              `gorm:"column:priority;type:varchar(16)" json:"priority"`
	IsParallelizable         bool                 `gorm:"column:is_parallelizable;not null;default:false" json:"is_parallelizable"`
	FilePath                 *string              `gorm:"column:file_path;type:text" json:"file_path"`
	RegionHint               *string              `gorm:"column:region_hint;type:text" json:"region_hint"`
	OperationType            *string              `gorm:"column:operation_type;type:varchar(16)" json:"operation_type"`
	Status                   string               `gorm:"column:status;type:varchar(32);not null;default:'pending'" json:"status"`
	AssignedAgent            *string              `gorm:"column:assigned_agent;type:varchar(32)" json:"assigned_agent"`
	ReviewIteration          int                  `gorm:"column:review_iteration;type:int;not null;default:0" json:"review_iteration"`
	ReviewHistory            []ReviewHistoryEntry `gorm:"column:review_history;type:json;serializer:json" json:"review_history"`
	DependsOn                []string             `gorm:"column:depends_on;type:json;serializer:json" json:"depends_on"`
	Blocks                   []string             `gorm:"column:blocks;type:json;serializer:json" json:"blocks"`
	RequiresDBIntegration    bool                 `gorm:"column:requires_db_integration;not null;default:false" json:"requires_db_integration"`
	StartedAt                *time.Time           `gorm:"column:started_at" json:"started_at"`
	CompletedAt              *time.Time           `gorm:"column:completed_at" json:"completed_at"`
	EstimatedDurationMinutes *int                 `gorm:"column:estimated_duration_minutes;type:int" json:"estimated_duration_minutes"`
	ActualDurationMinutes    *int                 `gorm:"column:actual_duration_minutes;type:int" json:"actual_duration_minutes"`
	CreatedAt                time.Time            `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time            `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName은 gorm Tabler 인터페이스를 구현합니다.
func (ProjectFunctionPhaseTask) TableName() string {
	return "project_function_phase_tasks"
}

// Checkcard는 워크플로우 단계 하나의 감사 기록입니다.
// completed/failed 상태가 되면 더 이상 수정되지 않습니다.
// 담당 에이전트 인계는 AgentKilled/AgentSpawned 쌍으로 남습니다.
type Checkcard struct {
	ID               int64              `gorm:"column:id;primaryKey;autoIncrement" json:"-"`
	FunctionID       string             `gorm:"column:function_id;type:varchar(36);not null;default:'';index:idx_checkcards_function;uniqueIndex:idx_checkcards_function_step,priority:1" json:"function_id"`
	StepID           string             `gorm:"column:step_id;type:varchar(32);not null;uniqueIndex:idx_checkcards_function_step,priority:2" json:"step_id"`
	StepName         string             `gorm:"column:step_name;type:varchar(255)" json:"step_name"`
	Agent            string             `gorm:"column:agent;type:varchar(32);not null" json:"agent"`
	Description      string             `gorm:"column:description;type:text" json:"description"`
	BehaviorMode     *string            `gorm:"column:behavior_mode;type:varchar(64)" json:"behavior_mode,omitempty"`
	Status           string             `gorm:"column:status;type:varchar(32);not null;default:'pending'" json:"status"`
	StartedAt        *time.Time         `gorm:"column:started_at" json:"started_at"`
	CompletedAt      *time.Time         `gorm:"column:completed_at" json:"completed_at"`
	DurationMinutes  *int               `gorm:"column:duration_minutes;type:int" json:"duration_minutes"`
	Error            *string            `gorm:"column:error;type:text" json:"error,omitempty"`
	Inputs           map[string]any     `gorm:"column:inputs;type:json;serializer:json" json:"inputs"`
	Outputs          map[string]any     `gorm:"column:outputs;type:json;serializer:json" json:"outputs"`
	ContextReads     []string           `gorm:"column:context_reads;type:json;serializer:json" json:"context_reads"`
	CommandsExecuted []CommandExecution `gorm:"column:commands_executed;type:json;serializer:json" json:"commands_executed,omitempty"`
	Loop             *LoopData          `gorm:"column:loop_data;type:json;serializer:json" json:"loops"`
	AgentSpawned     *AgentSpawned      `gorm:"column:agent_spawned;type:json;serializer:json" json:"agent_spawned,omitempty"`
	AgentKilled      *AgentKilled       `gorm:"column:agent_killed;type:json;serializer:json" json:"agent_killed,omitempty"`
	CreatedAt        time.Time          `gorm:"column:created_at;not null;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time          `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName implements gorm's tabler interface.
func (Checkcard) TableName() string {
	return "checkcards"
}

// IsTerminal은 checkcard가 더 이상 변경될 수 없는 상태인지 확인합니다.
func (c *Checkcard) IsTerminal() bool {
	return c.Status == CheckcardStatusCompleted || c.Status == CheckcardStatusFailed
}
