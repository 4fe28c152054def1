package ficherunner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/rjlane/courses/internal/toolregistry"
)

// SpawnCommisTool is the one fixed tool every fiche gets access to for
// delegating work (spec.md §4.3/§4.5): it does not execute anything itself,
// it raises the RunThread interrupt that hands job creation over to the
// caller (internal/conciergeservice / internal/commis), the same way the
// teacher's request_validation tool only ever signals a side channel
// (internal/plugins/native_validation.go).
type SpawnCommisTool struct{}

func NewSpawnCommisTool() *SpawnCommisTool { return &SpawnCommisTool{} }

type spawnCommisJobSpec struct {
	FicheID string         `json:"fiche_id"`
	Task    string         `json:"task"`
	Mode    string         `json:"mode,omitempty"` // plain|workspace
	Config  map[string]any `json:"config,omitempty"`
}

type spawnCommisInput struct {
	Jobs []spawnCommisJobSpec `json:"jobs"`
}

func (t *SpawnCommisTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "spawn_commis",
		Desc: "Delegate one or more sub-tasks to commis workers and suspend until they all finish.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"jobs": {
				Type:     schema.Array,
				Desc:     "The commis jobs to spawn, each naming the commis fiche to run and its task.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun parses the requested jobs, mints job IDs, and pushes a
// CommisSpawnRequest onto the run's interrupt channel. It does not itself
// create any CommisJob rows — that happens once the Fiche Runner's caller
// observes the Interrupted error and runs the two-phase barrier setup
// (spec.md §4.5 Phase 1/Phase 2).
func (t *SpawnCommisTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var input spawnCommisInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		env := toolregistry.ErrorEnvelope(fmt.Errorf("spawn_commis: parse input: %w", err))
		out, _ := json.Marshal(env)
		return string(out), nil
	}
	if len(input.Jobs) == 0 {
		env := toolregistry.ErrorEnvelope(fmt.Errorf("spawn_commis: jobs is required and must be non-empty"))
		out, _ := json.Marshal(env)
		return string(out), nil
	}

	ch := InterruptChFromContext(ctx)
	if ch == nil {
		env := toolregistry.ErrorEnvelope(fmt.Errorf("spawn_commis: not available outside a fiche run"))
		out, _ := json.Marshal(env)
		return string(out), nil
	}

	jobIDs := make([]string, len(input.Jobs))
	specs := make([]CommisJobSpec, len(input.Jobs))
	for i, j := range input.Jobs {
		id := uuid.NewString()
		jobIDs[i] = id
		specs[i] = CommisJobSpec{ID: id, FicheID: j.FicheID, Task: j.Task, Mode: j.Mode, Config: j.Config}
	}

	select {
	case ch <- CommisSpawnRequest{JobIDs: jobIDs, Jobs: specs}:
	default:
		// Channel is buffered size 1 and only ever consumed once per run;
		// a full channel means a spawn is already in flight this turn.
		env := toolregistry.ErrorEnvelope(fmt.Errorf("spawn_commis: a commis spawn is already pending this turn"))
		out, _ := json.Marshal(env)
		return string(out), nil
	}

	env := toolregistry.SuccessEnvelope(map[string]any{"job_ids": jobIDs})
	out, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
