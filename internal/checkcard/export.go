package checkcard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cnap-oss/devkit/internal/common"
	"github.com/cnap-oss/devkit/internal/storage"
	"go.uber.org/zap"
)

// exportMetadata는 내보내기 파일의 metadata 섹션입니다.
type exportMetadata struct {
	StepID          string  `json:"step_id"`
	StepName        string  `json:"step_name"`
	Agent           string  `json:"agent"`
	Description     string  `json:"description"`
	BehaviorMode    *string `json:"behavior_mode,omitempty"`
	Status          string  `json:"status"`
	StartedAt       *string `json:"started_at"`
	CompletedAt     *string `json:"completed_at"`
	DurationMinutes *int    `json:"duration_minutes"`
	Error           *string `json:"error,omitempty"`
	FunctionID      string  `json:"function_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// exportAgentData는 내보내기 파일의 agent_data 섹션입니다.
type exportAgentData struct {
	Inputs           map[string]any             `json:"inputs"`
	ContextReads     []string                   `json:"context_reads"`
	Loops            *storage.LoopData          `json:"loops"`
	CommandsExecuted []storage.CommandExecution `json:"commands_executed,omitempty"`
	AgentSpawned     *storage.AgentSpawned      `json:"agent_spawned,omitempty"`
	AgentKilled      *storage.AgentKilled       `json:"agent_killed,omitempty"`
	Outputs          map[string]any             `json:"outputs"`
}

type exportEntry struct {
	Metadata  exportMetadata  `json:"metadata"`
	AgentData exportAgentData `json:"agent_data"`
}

// Document는 checkcard 하나를 {"step<ID>": {"metadata": ..., "agent_data": ...}} 형태로 변환합니다.
func Document(card *storage.Checkcard) map[string]any {
	return map[string]any{
		"step" + card.StepID: exportEntry{
			Metadata: exportMetadata{
				StepID:          card.StepID,
				StepName:        card.StepName,
				Agent:           card.Agent,
				Description:     card.Description,
				BehaviorMode:    card.BehaviorMode,
				Status:          card.Status,
				StartedAt:       formatTime(card.StartedAt),
				CompletedAt:     formatTime(card.CompletedAt),
				DurationMinutes: card.DurationMinutes,
				Error:           card.Error,
				FunctionID:      card.FunctionID,
				CreatedAt:       card.CreatedAt.UTC().Format(time.RFC3339),
			},
			AgentData: exportAgentData{
				Inputs:           card.Inputs,
				ContextReads:     card.ContextReads,
				Loops:            card.Loop,
				CommandsExecuted: card.CommandsExecuted,
				AgentSpawned:     card.AgentSpawned,
				AgentKilled:      card.AgentKilled,
				Outputs:          card.Outputs,
			},
		},
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// FileName은 단계의 내보내기 파일 이름입니다.
func FileName(stepID string) string {
	safe := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(stepID)
	return safe + "_checkcard.json"
}

// Export는 function의 모든 checkcard를 dir 아래 <step>_checkcard.json 파일로 씁니다.
// 작성한 파일 경로 목록을 반환합니다.
func (r *Recorder) Export(ctx context.Context, functionID, dir string) ([]string, error) {
	if err := r.ensureRepo(); err != nil {
		return nil, err
	}
	if dir == "" {
		dir = common.GetCheckcardsDir()
	}
	cards, err := r.repo.ListCheckcards(ctx, functionID)
	if err != nil {
		return nil, err
	}
	if err := common.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("checkcard: create export dir: %w", err)
	}

	paths := make([]string, 0, len(cards))
	for i := range cards {
		card := &cards[i]
		if err := Validate(card); err != nil {
			r.logger.Warn("Exporting inconsistent checkcard",
				zap.String("step_id", card.StepID),
				zap.Error(err),
			)
		}
		data, err := json.MarshalIndent(Document(card), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("checkcard: encode %s: %w", card.StepID, err)
		}
		path := filepath.Join(dir, FileName(card.StepID))
		if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
			return nil, fmt.Errorf("checkcard: write %s: %w", path, err)
		}
		paths = append(paths, path)
	}

	r.logger.Info("Checkcards exported",
		zap.String("function_id", functionID),
		zap.String("dir", dir),
		zap.Int("count", len(paths)),
	)
	return paths, nil
}
