// Package callbacks provides Eino callback handlers that bridge the LLM
// graph's model/tool lifecycle into the course event bus (internal/events),
// so internal/coursemeter and the SSE layer observe the same run a Fiche
// Runner invocation drives, without either depending on eino directly.
package callbacks

import (
	"context"
	"io"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	ub "github.com/cloudwego/eino/utils/callbacks"

	"github.com/rjlane/courses/internal/events"
)

// NewEventBusHandler creates a callback handler that publishes events to the
// bus, scoped to whatever course ID is bound to ctx via
// events.ContextWithCourseID (set once per Fiche Runner invocation).
func NewEventBusHandler(bus *events.Bus, source events.EventSource) callbacks.Handler {
	if source == "" {
		source = events.SourceAgent
	}

	publishTyped := func(ctx context.Context, payload events.EventPayload) {
		if courseID := events.CourseIDFromContext(ctx); courseID != "" {
			bus.Publish(events.NewTypedEventWithCourse(source, payload, courseID))
		} else {
			bus.Publish(events.NewTypedEvent(source, payload))
		}
	}

	modelHandler := &ub.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *model.CallbackInput) context.Context {
			publishTyped(ctx, events.LLMCallPayload{
				Phase:        "request",
				Model:        info.Name,
				MessageCount: len(input.Messages),
			})
			return ctx
		},

		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *model.CallbackOutput) context.Context {
			payload := events.LLMCallPayload{
				Phase: "response",
				Model: info.Name,
			}
			if output.Message != nil && output.Message.ResponseMeta != nil && output.Message.ResponseMeta.Usage != nil {
				payload.TokensInput = output.Message.ResponseMeta.Usage.PromptTokens
				payload.TokensOutput = output.Message.ResponseMeta.Usage.CompletionTokens
			}
			publishTyped(ctx, payload)
			return ctx
		},

		OnEndWithStreamOutput: func(ctx context.Context, info *callbacks.RunInfo, output *schema.StreamReader[*model.CallbackOutput]) context.Context {
			// Stream is a copy, must be drained. Run in a goroutine so the
			// caller's own consumption of the original stream isn't blocked.
			go func() {
				defer output.Close()
				var tokensIn, tokensOut int
				for {
					chunk, err := output.Recv()
					if err != nil {
						if err != io.EOF {
							publishTyped(ctx, events.LLMCallPayload{
								Phase: "error",
								Model: info.Name,
								Error: err.Error(),
							})
						}
						break
					}
					if chunk.TokenUsage != nil {
						if chunk.TokenUsage.PromptTokens > 0 {
							tokensIn = chunk.TokenUsage.PromptTokens
						}
						if chunk.TokenUsage.CompletionTokens > 0 {
							tokensOut = chunk.TokenUsage.CompletionTokens
						}
					}
					if chunk.Message != nil && chunk.Message.ResponseMeta != nil && chunk.Message.ResponseMeta.Usage != nil {
						u := chunk.Message.ResponseMeta.Usage
						if u.PromptTokens > 0 {
							tokensIn = u.PromptTokens
						}
						if u.CompletionTokens > 0 {
							tokensOut = u.CompletionTokens
						}
					}
				}
				publishTyped(ctx, events.LLMCallPayload{
					Phase:        "response",
					Model:        info.Name,
					TokensInput:  tokensIn,
					TokensOutput: tokensOut,
				})
			}()
			return ctx
		},

		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publishTyped(ctx, events.LLMCallPayload{
				Phase: "error",
				Model: info.Name,
				Error: err.Error(),
			})
			return ctx
		},
	}

	toolHandler := &ub.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *callbacks.RunInfo, input *tool.CallbackInput) context.Context {
			payload := events.ConciergeToolPayload{
				Status:   events.ToolStatusStarted,
				ToolName: info.Name,
			}
			if input.ArgumentsInJSON != "" {
				payload.ArgsPreview = map[string]any{"raw": truncatePayload(input.ArgumentsInJSON, 1000)}
			}
			publishTyped(ctx, payload)
			return ctx
		},
		OnEnd: func(ctx context.Context, info *callbacks.RunInfo, output *tool.CallbackOutput) context.Context {
			publishTyped(ctx, events.ConciergeToolPayload{
				Status:        events.ToolStatusCompleted,
				ToolName:      info.Name,
				ResultPreview: truncatePayload(output.Response, 1000),
			})
			return ctx
		},
		OnError: func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			publishTyped(ctx, events.ConciergeToolPayload{
				Status:       events.ToolStatusFailed,
				ToolName:     info.Name,
				ErrorMessage: err.Error(),
			})
			return ctx
		},
	}

	return ub.NewHandlerHelper().
		ChatModel(modelHandler).
		Tool(toolHandler).
		Handler()
}

func truncatePayload(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
