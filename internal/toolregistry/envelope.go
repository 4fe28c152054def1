package toolregistry

import (
	"github.com/rjlane/courses/internal/apperr"
)

// PreviewLimit caps the size of argument/result previews attached to
// ConciergeToolPayload/commis tool events (spec.md §4.3 point 6:
// "Arguments and results are truncated for preview; the full payload is
// kept only in the course event log's dedicated field").
const PreviewLimit = 2048

// Truncate shortens s to PreviewLimit runes, appending an ellipsis marker
// when it had to cut.
func Truncate(s string) string {
	r := []rune(s)
	if len(r) <= PreviewLimit {
		return s
	}
	return string(r[:PreviewLimit]) + "…(truncated)"
}

// Envelope is the structured error contract a tool call returns to the LLM
// on failure, per spec.md §4.3: "tool execution errors are trapped into a
// structured error envelope {ok:false, error_type, user_message, details}
// returned to the LLM (recoverable)".
type Envelope struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error_type,omitempty"`
	Message string         `json:"user_message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// SuccessEnvelope wraps a successful tool result.
func SuccessEnvelope(result any) Envelope {
	return Envelope{OK: true, Details: map[string]any{"result": result}}
}

// ErrorEnvelope builds the {ok:false, ...} contract from an apperr-typed
// failure, reusing apperr's taxonomy so tool errors and HTTP errors share
// one vocabulary.
func ErrorEnvelope(err error) Envelope {
	e := apperr.ToEnvelope(err)
	return Envelope{OK: false, Error: string(e.ErrorType), Message: e.UserMessage, Details: e.Details}
}
