package ficherunner

import (
	"context"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
)

// buildAgent wires a fiche's system instruction and resolved tool set into a
// streaming ADK ReAct loop. Trimmed from the teacher's internal/agent.NewAgent
// bridge (SPEC_FULL.md §B.1) down to the one configuration RunThread actually
// exercises: the teacher's persona constants and MaxIterations/middleware
// knobs never carried over since every fiche supplies its own
// SystemInstruction and spec.md names no per-run iteration cap.
func buildAgent(ctx context.Context, chatModel model.ToolCallingChatModel, systemInstruction string, tools []tool.InvokableTool) (*adk.Runner, error) {
	cfg := &adk.ChatModelAgentConfig{
		Name:        "fiche",
		Description: "fiche runner ReAct loop",
		Instruction: systemInstruction,
		Model:       chatModel,
	}

	if len(tools) > 0 {
		baseTools := make([]tool.BaseTool, len(tools))
		for i, t := range tools {
			baseTools[i] = t
		}
		cfg.ToolsConfig.Tools = baseTools
	}

	a, err := adk.NewChatModelAgent(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return adk.NewRunner(ctx, adk.RunnerConfig{Agent: a, EnableStreaming: true}), nil
}
