package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/cnap-oss/devkit/internal/storage"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// tasksPerPhase는 phase가 명시되지 않은 태스크의 phase 추론 단위입니다 (T001-T010 -> 1).
const tasksPerPhase = 10

var requiredTaskFields = []string{"task_id", "description", "is_parallel", "dependencies", "mvp"}

// ImportTask는 tasks JSON 배열의 원소입니다.
type ImportTask struct {
	TaskID                string   `json:"task_id"`
	Description           string   `json:"description"`
	IsParallel            bool     `json:"is_parallel"`
	Dependencies          []string `json:"dependencies"`
	MVP                   bool     `json:"mvp"`
	Phase                 *int     `json:"phase,omitempty"`
	Title                 *string  `json:"title,omitempty"`
	UserStory             *string  `json:"user_story,omitempty"`
	Priority              *string  `json:"priority,omitempty"`
	FilePath              *string  `json:"file_path,omitempty"`
	OperationType         *string  `json:"operation_type,omitempty"`
	RequiresDBIntegration bool     `json:"requires_db_integration,omitempty"`
}

// PhaseNumber는 명시된 phase 또는 task_id 숫자로부터 추론한 phase 번호를 반환합니다.
func (t ImportTask) PhaseNumber() int {
	if t.Phase != nil && *t.Phase > 0 {
		return *t.Phase
	}
	return InferPhaseNumber(t.TaskID)
}

// InferPhaseNumber는 task_id의 숫자 부분으로 phase 번호를 계산합니다. 숫자가 없으면 1입니다.
func InferPhaseNumber(taskID string) int {
	digits := strings.TrimLeftFunc(taskID, func(r rune) bool { return !unicode.IsDigit(r) })
	end := strings.IndexFunc(digits, func(r rune) bool { return !unicode.IsDigit(r) })
	if end >= 0 {
		digits = digits[:end]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 1
	}
	return (n-1)/tasksPerPhase + 1
}

// ImportResult는 ImportTasks 결과 요약입니다.
type ImportResult struct {
	FunctionID    string                 `json:"function_id"`
	TasksCreated  int                    `json:"tasks_created"`
	PhasesCreated []int                  `json:"phases_created"`
	ParallelTasks int                    `json:"parallel_tasks"`
	MVPTasks      int                    `json:"mvp_tasks"`
	PostMVPTasks  int                    `json:"post_mvp_tasks"`
	Metadata      *storage.TasksMetadata `json:"metadata,omitempty"`
}

// ParseTaskList는 tasks JSON 배열을 검증하고 디코딩합니다.
// 모든 원소의 문제를 모아 multierr로 반환합니다.
func ParseTaskList(data []byte) ([]ImportTask, error) {
	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("tasks must be a JSON array of objects: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("tasks array is empty")
	}

	var errs error
	tasks := make([]ImportTask, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for i, entry := range raw {
		task, err := decodeImportTask(i, entry)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if seen[task.TaskID] {
			errs = multierr.Append(errs, fmt.Errorf("task %d: duplicate task_id %s", i, task.TaskID))
			continue
		}
		seen[task.TaskID] = true
		tasks = append(tasks, task)
	}
	if errs != nil {
		return nil, errs
	}
	return tasks, nil
}

func decodeImportTask(i int, entry map[string]json.RawMessage) (ImportTask, error) {
	var errs error
	for _, field := range requiredTaskFields {
		if _, ok := entry[field]; !ok {
			errs = multierr.Append(errs, fmt.Errorf("task %d: missing required field %q", i, field))
		}
	}
	if errs != nil {
		return ImportTask{}, errs
	}

	var task ImportTask
	errs = multierr.Combine(
		decodeField(i, entry, "task_id", &task.TaskID),
		decodeField(i, entry, "description", &task.Description),
		decodeField(i, entry, "is_parallel", &task.IsParallel),
		decodeField(i, entry, "dependencies", &task.Dependencies),
		decodeField(i, entry, "mvp", &task.MVP),
		decodeOptional(i, entry, "phase", &task.Phase),
		decodeOptional(i, entry, "title", &task.Title),
		decodeOptional(i, entry, "user_story", &task.UserStory),
		decodeOptional(i, entry, "priority", &task.Priority),
		decodeOptional(i, entry, "file_path", &task.FilePath),
		decodeOptional(i, entry, "operation_type", &task.OperationType),
		decodeOptional(i, entry, "requires_db_integration", &task.RequiresDBIntegration),
	)
	if errs != nil {
		return ImportTask{}, errs
	}
	if strings.TrimSpace(task.TaskID) == "" {
		errs = multierr.Append(errs, fmt.Errorf("task %d: task_id must not be empty", i))
	}
	if strings.TrimSpace(task.Description) == "" {
		errs = multierr.Append(errs, fmt.Errorf("task %d: description must not be empty", i))
	}
	for _, dep := range task.Dependencies {
		if strings.TrimSpace(dep) == "" {
			errs = multierr.Append(errs, fmt.Errorf("task %d: dependencies must be non-empty strings", i))
			break
		}
	}
	return task, errs
}

func decodeField(i int, entry map[string]json.RawMessage, field string, target any) error {
	if err := json.Unmarshal(entry[field], target); err != nil {
		return fmt.Errorf("task %d: field %q has wrong type: %v", i, field, err)
	}
	return nil
}

func decodeOptional(i int, entry map[string]json.RawMessage, field string, target any) error {
	if _, ok := entry[field]; !ok {
		return nil
	}
	return decodeField(i, entry, field, target)
}

// ImportTasks는 tasks JSON을 function에 한 번에 등록합니다.
// 필요한 phase를 만들고 의존성 순서대로 태스크를 넣으며, 하나라도 실패하면 아무것도 저장되지 않습니다.
// fileURL이 있으면 tasks 메타데이터 레코드를 추가합니다.
func (s *Store) ImportTasks(ctx context.Context, functionID string, data []byte, fileURL string) (*ImportResult, error) {
	const op = "ImportTasks"
	parsed, err := ParseTaskList(data)
	if err != nil {
		return nil, NewWorkflowError(op, functionID, ErrValidation, "%v", err)
	}

	result := &ImportResult{FunctionID: functionID}
	err = s.withFunction(ctx, op, functionID, func(tx *storage.Repository, f *storage.ProjectFunction) error {
		existing, err := tx.ListTasksByFunction(ctx, f.ID)
		if err != nil {
			return err
		}
		order, err := importOrder(functionID, existing, parsed)
		if err != nil {
			return err
		}

		phases, err := s.ensureImportPhases(ctx, tx, f.ID, parsed, result)
		if err != nil {
			return err
		}

		byID := make(map[string]ImportTask, len(parsed))
		for _, task := range parsed {
			byID[task.TaskID] = task
		}
		for _, id := range order {
			task := byID[id]
			current, err := tx.ListTasksByFunction(ctx, f.ID)
			if err != nil {
				return err
			}
			if _, err := s.insertTask(ctx, tx, phases[task.PhaseNumber()], current, importInput(task)); err != nil {
				return err
			}
			result.TasksCreated++
			if task.IsParallel {
				result.ParallelTasks++
			}
			if task.MVP {
				result.MVPTasks++
			} else {
				result.PostMVPTasks++
			}
		}

		for _, phase := range phases {
			if _, err := refreshPhase(ctx, tx, phase.ID, s.now()); err != nil {
				return err
			}
		}

		if fileURL == "" {
			return touch(ctx, tx, f)
		}
		mvp, postMVP := result.MVPTasks, result.PostMVPTasks
		rec, err := tx.AppendMetadata(ctx, f.ID, f.Version, storage.TasksMetadata{
			FileURL:       fileURL,
			Phase:         storage.StageTasks,
			TaskCount:     result.TasksCreated,
			ParallelTasks: result.ParallelTasks,
			MVPTasks:      &mvp,
			PostMVPTasks:  &postMVP,
		})
		if err != nil {
			return err
		}
		meta := rec.(storage.TasksMetadata)
		result.Metadata = &meta
		return nil
	})
	if err != nil {
		s.logger.Warn("Task import rejected",
			zap.String("function_id", functionID),
			zap.Int("tasks", len(parsed)),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.RecordTaskCreated(result.TasksCreated)
	if result.Metadata != nil {
		s.metrics.RecordMetadataAppend()
	}
	s.logger.Info("Tasks imported",
		zap.String("function_id", functionID),
		zap.Int("tasks_created", result.TasksCreated),
		zap.Ints("phases_created", result.PhasesCreated),
	)
	return result, nil
}

// importOrder는 기존 태스크와 새 태스크를 합친 그래프에서 새 태스크의 삽입 순서를 계산합니다.
func importOrder(functionID string, existing []storage.ProjectFunctionPhaseTask, tasks []ImportTask) ([]string, error) {
	const op = "ImportTasks"
	known := make(map[string]bool, len(existing)+len(tasks))
	graph := buildTaskGraph(existing)
	for _, task := range existing {
		known[task.TaskID] = true
	}
	for _, task := range tasks {
		if known[task.TaskID] {
			return nil, NewWorkflowError(op, functionID, ErrValidation, "task_id %s already exists in function", task.TaskID)
		}
		known[task.TaskID] = true
		graph.addNode(task.TaskID)
	}

	var errs error
	for _, task := range tasks {
		for _, dep := range task.Dependencies {
			if !known[dep] {
				errs = multierr.Append(errs, fmt.Errorf("%s depends on unknown task %s", task.TaskID, dep))
				continue
			}
			graph.addEdge(task.TaskID, dep)
		}
	}
	if errs != nil {
		return nil, NewWorkflowError(op, functionID, ErrValidation, "%v", errs)
	}

	ordered, ok := graph.topoOrder()
	if !ok {
		return nil, NewWorkflowError(op, functionID, ErrCyclicDependency, "dependency cycle among imported tasks")
	}
	order := make([]string, 0, len(tasks))
	isNew := make(map[string]bool, len(tasks))
	for _, task := range tasks {
		isNew[task.TaskID] = true
	}
	for _, id := range ordered {
		if isNew[id] {
			order = append(order, id)
		}
	}
	return order, nil
}

// ensureImportPhases는 가져올 태스크가 필요로 하는 phase를 조회하거나 생성합니다.
func (s *Store) ensureImportPhases(ctx context.Context, tx *storage.Repository, functionID string, tasks []ImportTask, result *ImportResult) (map[int]*storage.ProjectFunctionPhase, error) {
	mvpByPhase := make(map[int]bool)
	for _, task := range tasks {
		n := task.PhaseNumber()
		mvpByPhase[n] = mvpByPhase[n] || task.MVP
	}
	numbers := make([]int, 0, len(mvpByPhase))
	for n := range mvpByPhase {
		numbers = append(numbers, n)
	}
	sort.Ints(numbers)

	existing, err := tx.ListPhasesByFunction(ctx, functionID)
	if err != nil {
		return nil, err
	}
	phases := make(map[int]*storage.ProjectFunctionPhase, len(numbers))
	for i := range existing {
		phases[existing[i].PhaseNumber] = &existing[i]
	}

	for _, n := range numbers {
		if _, ok := phases[n]; ok {
			continue
		}
		phase, err := createPhase(ctx, tx, functionID, CreatePhaseInput{
			PhaseNumber: n,
			PhaseName:   fmt.Sprintf("Phase %d", n),
			IsMVP:       mvpByPhase[n],
		})
		if err != nil {
			return nil, err
		}
		phases[n] = phase
		result.PhasesCreated = append(result.PhasesCreated, n)
	}

	used := make(map[int]*storage.ProjectFunctionPhase, len(numbers))
	for _, n := range numbers {
		used[n] = phases[n]
	}
	return used, nil
}

func importInput(task ImportTask) CreateTaskInput {
	description := task.Description
	title := description
	if task.Title != nil && strings.TrimSpace(*task.Title) != "" {
		title = *task.Title
	}
	return CreateTaskInput{
		TaskID:                task.TaskID,
		Title:                 title,
		Description:           &description,
		UserStory:             task.UserStory,
		Priority:              task.Priority,
		IsParallelizable:      task.IsParallel,
		FilePath:              task.FilePath,
		OperationType:         task.OperationType,
		DependsOn:             task.Dependencies,
		RequiresDBIntegration: task.RequiresDBIntegration,
	}
}
