package checkcard

import (
	"encoding/json"
	"fmt"

	"github.com/cnap-oss/devkit/internal/storage"
	"github.com/cnap-oss/devkit/internal/workflow"
	"go.uber.org/multierr"
)

var checkcardStatuses = []string{
	storage.CheckcardStatusPending,
	storage.CheckcardStatusInProgress,
	storage.CheckcardStatusCompleted,
	storage.CheckcardStatusFailed,
}

// Problems는 checkcard 기록의 일관성 문제를 모두 반환합니다.
func Problems(card *storage.Checkcard) []error {
	if card == nil {
		return []error{fmt.Errorf("checkcard is nil")}
	}

	var errs error
	if card.StepID == "" {
		errs = multierr.Append(errs, fmt.Errorf("step_id is required"))
	}
	if !storage.Contains(storage.Agents, card.Agent) {
		errs = multierr.Append(errs, fmt.Errorf("invalid agent %q", card.Agent))
	}
	if !storage.Contains(checkcardStatuses, card.Status) {
		errs = multierr.Append(errs, fmt.Errorf("invalid status %q", card.Status))
	}

	switch card.Status {
	case storage.CheckcardStatusPending:
		if card.StartedAt != nil {
			errs = multierr.Append(errs, fmt.Errorf("pending checkcard must not have started_at"))
		}
	case storage.CheckcardStatusInProgress:
		if card.StartedAt == nil {
			errs = multierr.Append(errs, fmt.Errorf("in_progress checkcard requires started_at"))
		}
		if card.CompletedAt != nil {
			errs = multierr.Append(errs, fmt.Errorf("in_progress checkcard must not have completed_at"))
		}
	case storage.CheckcardStatusCompleted:
		if card.StartedAt == nil {
			errs = multierr.Append(errs, fmt.Errorf("completed checkcard requires started_at"))
		}
		if card.CompletedAt == nil {
			errs = multierr.Append(errs, fmt.Errorf("completed checkcard requires completed_at"))
		}
		if card.DurationMinutes == nil {
			errs = multierr.Append(errs, fmt.Errorf("completed checkcard requires duration_minutes"))
		}
		if card.Outputs == nil {
			errs = multierr.Append(errs, fmt.Errorf("completed checkcard requires outputs"))
		}
	case storage.CheckcardStatusFailed:
		if card.Error == nil || *card.Error == "" {
			errs = multierr.Append(errs, fmt.Errorf("failed checkcard requires error"))
		}
	}

	if card.StartedAt != nil && card.CompletedAt != nil {
		if card.CompletedAt.Before(*card.StartedAt) {
			errs = multierr.Append(errs, fmt.Errorf("completed_at is before started_at"))
		} else if card.DurationMinutes != nil && *card.DurationMinutes != wholeMinutes(*card.StartedAt, *card.CompletedAt) {
			errs = multierr.Append(errs, fmt.Errorf("duration_minutes %d does not match timestamps", *card.DurationMinutes))
		}
	}

	if loop := card.Loop; loop != nil {
		if _, ok := maxLoopIterations(loop.Type); !ok {
			errs = multierr.Append(errs, fmt.Errorf("invalid loop type %q", loop.Type))
		}
		if loop.Iterations != len(loop.LoopDataPerIteration) {
			errs = multierr.Append(errs, fmt.Errorf("loop iterations %d != %d recorded", loop.Iterations, len(loop.LoopDataPerIteration)))
		}
		if loop.MaxIterations != nil && loop.Iterations > *loop.MaxIterations {
			errs = multierr.Append(errs, fmt.Errorf("loop iterations %d exceed max %d", loop.Iterations, *loop.MaxIterations))
		}
		if loop.ExitCondition != "" && !storage.Contains(exitConditions[loop.Type], loop.ExitCondition) {
			errs = multierr.Append(errs, fmt.Errorf("invalid exit condition %q", loop.ExitCondition))
		}
	}

	if spawned := card.AgentSpawned; spawned != nil {
		if !storage.Contains(storage.Agents, spawned.AgentType) || spawned.AgentID == "" || spawned.SpawnedAt == "" {
			errs = multierr.Append(errs, fmt.Errorf("agent_spawned requires agent_type, agent_id and spawned_at"))
		}
	}
	if killed := card.AgentKilled; killed != nil {
		if !storage.Contains(storage.Agents, killed.AgentType) || killed.AgentID == "" || killed.KilledAt == "" {
			errs = multierr.Append(errs, fmt.Errorf("agent_killed requires agent_type, agent_id and killed_at"))
		}
	}

	return multierr.Errors(errs)
}

// Validate는 checkcard 기록이 상태별 필수 필드를 갖추었는지 확인합니다.
func Validate(card *storage.Checkcard) error {
	problems := Problems(card)
	if len(problems) == 0 {
		return nil
	}
	stepID := ""
	if card != nil {
		stepID = card.StepID
	}
	return workflow.NewWorkflowError("Validate", stepID, workflow.ErrValidation, "%v", multierr.Combine(problems...))
}

// checkStepOutputs는 단계 정의가 요구하는 outputs 검증을 수행합니다.
// task_json 단계는 outputs.tasks_json이 ParseTaskList를 통과해야 완료됩니다.
func checkStepOutputs(stepID string, outputs map[string]any) error {
	const op = "CompleteStep"
	step, ok := LookupStep(stepID)
	if !ok || step.RequiresValidation != ValidationTaskJSON {
		return nil
	}

	var data []byte
	switch raw := outputs["tasks_json"].(type) {
	case nil:
		return workflow.NewWorkflowError(op, stepID, workflow.ErrValidation, "outputs.tasks_json is required")
	case string:
		data = []byte(raw)
	case []byte:
		data = raw
	default:
		encoded, err := json.Marshal(raw)
		if err != nil {
			return workflow.NewWorkflowError(op, stepID, workflow.ErrValidation, "tasks_json: %v", err)
		}
		data = encoded
	}
	if _, err := workflow.ParseTaskList(data); err != nil {
		return workflow.NewWorkflowError(op, stepID, workflow.ErrValidation, "tasks_json: %v", err)
	}
	return nil
}
