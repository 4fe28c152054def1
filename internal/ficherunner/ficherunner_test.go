package ficherunner

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/rjlane/courses/internal/store"
)

func TestToSchemaMessages_MapsRolesAndToolCalls(t *testing.T) {
	msgs := []*store.ThreadMessage{
		{ID: "m1", Role: store.RoleSystem, Content: "be helpful", Processed: true},
		{ID: "m2", Role: store.RoleUserMsg, Content: "hi", Processed: true},
		{
			ID: "m3", Role: store.RoleAssistant, Content: "",
			ToolCalls: []store.ToolCall{{ID: "tc1", Name: "spawn_commis", Args: map[string]any{"jobs": []any{}}}},
			Processed: true,
		},
		{ID: "m4", Role: store.RoleTool, Content: `{"ok":true}`, ToolCallID: "tc1", Processed: false},
	}

	out, unprocessed := toSchemaMessages(msgs)
	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(out))
	}
	if out[0].Role != schema.System || out[1].Role != schema.User || out[2].Role != schema.Assistant || out[3].Role != schema.Tool {
		t.Fatalf("unexpected role mapping: %+v", out)
	}
	if out[3].ToolCallID != "tc1" {
		t.Fatalf("expected tool_call_id tc1, got %q", out[3].ToolCallID)
	}
	if len(out[2].ToolCalls) != 1 || out[2].ToolCalls[0].Function.Name != "spawn_commis" {
		t.Fatalf("expected spawn_commis tool call carried through, got %+v", out[2].ToolCalls)
	}

	if len(unprocessed) != 1 || unprocessed[0] != "m4" {
		t.Fatalf("expected only m4 unprocessed, got %v", unprocessed)
	}
}

func TestToSchemaMessages_EmptyInput(t *testing.T) {
	out, unprocessed := toSchemaMessages(nil)
	if len(out) != 0 || len(unprocessed) != 0 {
		t.Fatalf("expected empty output, got %d messages / %d unprocessed", len(out), len(unprocessed))
	}
}

func TestInterrupted_ErrorMessageNamesType(t *testing.T) {
	err := &Interrupted{Type: "commiss_pending", JobIDs: []string{"j1", "j2"}}
	if got := err.Error(); !strings.Contains(got, "commiss_pending") {
		t.Fatalf("expected error message to name the interrupt type, got %q", got)
	}
}

func TestInterruptChFromContext_AbsentReturnsNil(t *testing.T) {
	if ch := InterruptChFromContext(context.Background()); ch != nil {
		t.Fatal("expected nil channel when none bound")
	}
}

func TestInterruptChFromContext_RoundTrip(t *testing.T) {
	ch := make(chan CommisSpawnRequest, 1)
	ctx := ContextWithInterruptCh(context.Background(), ch)
	got := InterruptChFromContext(ctx)
	if got == nil {
		t.Fatal("expected channel to round-trip")
	}
	req := CommisSpawnRequest{JobIDs: []string{"j1"}}
	got <- req
	received := <-ch
	if len(received.JobIDs) != 1 || received.JobIDs[0] != "j1" {
		t.Fatalf("unexpected request: %+v", received)
	}
}
