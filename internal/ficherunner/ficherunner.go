// Package ficherunner implements the Fiche Runner (spec.md §4.3): it loads a
// thread's unprocessed messages, resolves the fiche's allowed tool set from
// the process-global Tool Registry, drives one eino ADK ReAct loop over them,
// and persists whatever the loop produces back onto the thread — including
// translating a spawn_commis call into the Interrupted exception that marks
// the owning course deferred instead of completing it.
//
// Generalized from the teacher's internal/tasks.TaskRunner /
// internal/agent.NewAgent pairing (SPEC_FULL.md §B.1): one adk.ChatModelAgent
// + adk.Runner per invocation, `consumeRunnerOutput`'s event-draining loop,
// and the self-suspend side channel, all re-pointed at fiches/threads/courses
// instead of tasks/mailboxes.
package ficherunner

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	einocb "github.com/cloudwego/eino/callbacks"

	"github.com/cloudwego/eino/adk"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/rjlane/courses/internal/callbacks"
	"github.com/rjlane/courses/internal/credentials"
	"github.com/rjlane/courses/internal/events"
	"github.com/rjlane/courses/internal/models"
	"github.com/rjlane/courses/internal/store"
	"github.com/rjlane/courses/internal/toolregistry"
)

// Runner drives Fiche Runner invocations. One Runner is shared process-wide;
// it holds no per-run state beyond its dependencies.
type Runner struct {
	Store  *store.Store
	Bus    *events.Bus
	Tools  *toolregistry.Registry
	Models *models.Registry
	Source events.EventSource // SourceConcierge or SourceCommis, set by the caller
}

// New creates a Runner and registers the eino callback bridge
// (internal/callbacks) globally, so every ADK run this process drives
// publishes LLM_USAGE/CONCIERGE_TOOL_* events regardless of which Runner
// instance happens to be driving it — eino callbacks are process-global by
// design, the same way the teacher registers them once at gateway startup.
func New(st *store.Store, bus *events.Bus, tools *toolregistry.Registry, modelRegistry *models.Registry, source events.EventSource) *Runner {
	einocb.AppendGlobalHandlers(callbacks.NewEventBusHandler(bus, source))
	return &Runner{Store: st, Bus: bus, Tools: tools, Models: modelRegistry, Source: source}
}

// Result is what a RunThread invocation produced on normal completion.
type Result struct {
	Content      string
	TokensInput  int
	TokensOutput int
}

// RunThread executes one Fiche Runner pass over thread against fiche,
// scoped to course for event emission and token accounting. ctx must already
// carry a credentials.Resolver (spec.md §5) — RunThread never binds one
// itself since the caller owns task-boundary scoping.
//
// On success it returns a Result and persists the assistant's final message.
// On a spawn_commis call it returns (nil, *Interrupted) and persists nothing
// beyond what the ReAct loop already produced; the caller is responsible for
// the two-phase barrier setup (spec.md §4.5) before the course can resume.
func (r *Runner) RunThread(ctx context.Context, fiche *store.Fiche, thread *store.Thread, course *store.Course) (*Result, error) {
	if _, err := credentials.Require(ctx); err != nil {
		return nil, err
	}

	modelName := fiche.Model
	var chatModel, modelErr = r.Models.Default(ctx)
	if modelName != "" {
		chatModel, modelErr = r.Models.Get(ctx, modelName)
	}
	if modelErr != nil {
		return nil, fmt.Errorf("ficherunner: resolve model: %w", modelErr)
	}

	tools := r.Tools.Resolve(fiche.AllowedTools)

	persisted, err := r.Store.ListMessages(ctx, thread.ID)
	if err != nil {
		return nil, fmt.Errorf("ficherunner: list messages: %w", err)
	}
	messages, unprocessedIDs := toSchemaMessages(persisted)
	if len(messages) == 0 {
		return nil, fmt.Errorf("ficherunner: thread %s has no messages to run", thread.ID)
	}

	runner, err := buildAgent(ctx, chatModel, fiche.SystemInstruction, tools)
	if err != nil {
		return nil, fmt.Errorf("ficherunner: build agent: %w", err)
	}

	ctx = events.ContextWithCourseID(ctx, course.ID)
	interruptCh := make(chan CommisSpawnRequest, 1)
	ctx = ContextWithInterruptCh(ctx, interruptCh)

	// Checkpoint is keyed by thread_id so suspend/resume (continuation
	// courses) reuse the same ADK checkpoint instead of starting cold
	// (SPEC_FULL.md §B.1).
	checkpointID := thread.ID
	if len(thread.FicheState) == 0 {
		if err := r.Store.SetFicheState(ctx, thread.ID, []byte(checkpointID)); err != nil {
			return nil, fmt.Errorf("ficherunner: persist checkpoint handle: %w", err)
		}
	}

	content, tokensIn, tokensOut, interrupt, err := r.consume(ctx, runner, messages, checkpointID, interruptCh)
	if err != nil {
		return nil, err
	}

	if len(unprocessedIDs) > 0 {
		if err := r.Store.MarkMessagesProcessed(ctx, unprocessedIDs); err != nil {
			return nil, fmt.Errorf("ficherunner: mark messages processed: %w", err)
		}
	}

	if interrupt != nil {
		return nil, interrupt
	}

	if content != "" {
		assistantMsg := &store.ThreadMessage{
			ID:          uuid.NewString(),
			ThreadID:    thread.ID,
			Role:        store.RoleAssistant,
			Content:     content,
			Processed:   true,
			AssistantID: uuid.NewString(),
		}
		if err := r.Store.AppendMessage(ctx, assistantMsg); err != nil {
			return nil, fmt.Errorf("ficherunner: persist assistant message: %w", err)
		}
	}

	return &Result{Content: content, TokensInput: tokensIn, TokensOutput: tokensOut}, nil
}

// consume drains the ADK run iterator the same way the teacher's
// consumeRunnerOutput does, but selects on the commis-spawn interrupt
// channel instead of a validation-request channel between iterations.
func (r *Runner) consume(ctx context.Context, runner *adk.Runner, messages []*schema.Message, checkpointID string, interruptCh chan CommisSpawnRequest) (content string, tokensIn, tokensOut int, interrupt *Interrupted, err error) {
	iter := runner.Run(ctx, messages, adk.WithCheckPointID(checkpointID))

	for {
		select {
		case req := <-interruptCh:
			return content, tokensIn, tokensOut, &Interrupted{Type: "commiss_pending", JobIDs: req.JobIDs, Jobs: req.Jobs}, nil
		default:
		}

		event, ok := iter.Next()
		if !ok {
			break
		}
		if event.Err != nil {
			return "", 0, 0, nil, fmt.Errorf("ficherunner: run: %w", event.Err)
		}
		if event.Output == nil || event.Output.MessageOutput == nil {
			continue
		}
		mv := event.Output.MessageOutput
		if mv.Role == schema.Tool {
			if mv.IsStreaming && mv.MessageStream != nil {
				mv.MessageStream.Close()
			}
			continue
		}
		if mv.IsStreaming && mv.MessageStream != nil {
			content = drainStream(mv.MessageStream)
		} else if mv.Message != nil {
			if len(mv.Message.ToolCalls) > 0 && mv.Message.Content == "" {
				continue
			}
			if mv.Message.Content != "" {
				content = mv.Message.Content
			}
			if mv.Message.ResponseMeta != nil && mv.Message.ResponseMeta.Usage != nil {
				tokensIn = mv.Message.ResponseMeta.Usage.PromptTokens
				tokensOut = mv.Message.ResponseMeta.Usage.CompletionTokens
			}
		}
	}

	return content, tokensIn, tokensOut, nil, nil
}

func drainStream(stream *schema.StreamReader[*schema.Message]) string {
	var full string
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			slog.Error("ficherunner: stream error", "error", err)
			break
		}
		if chunk.Content != "" {
			full = chunk.Content
		}
	}
	return full
}

func toSchemaMessages(msgs []*store.ThreadMessage) ([]*schema.Message, []string) {
	out := make([]*schema.Message, 0, len(msgs))
	var unprocessed []string
	for _, m := range msgs {
		sm := &schema.Message{Content: m.Content}
		switch m.Role {
		case store.RoleSystem:
			sm.Role = schema.System
		case store.RoleUserMsg:
			sm.Role = schema.User
		case store.RoleAssistant:
			sm.Role = schema.Assistant
		case store.RoleTool:
			sm.Role = schema.Tool
			sm.ToolCallID = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]schema.ToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls[i] = schema.ToolCall{ID: tc.ID, Function: schema.FunctionCall{Name: tc.Name}}
			}
			sm.ToolCalls = calls
		}
		out = append(out, sm)
		if !m.Processed {
			unprocessed = append(unprocessed, m.ID)
		}
	}
	return out, unprocessed
}
