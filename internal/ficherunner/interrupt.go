package ficherunner

import "context"

// CommisSpawnRequest is pushed onto the interrupt side channel by the
// spawn_commis tool (internal/toolregistry-registered) when a fiche wants to
// delegate work to one or more commis jobs. It mirrors the teacher's
// events.ValidationRequest / ContextWithValidationCh self-suspend channel
// (internal/plugins/native_validation.go), generalized from "pause for user
// validation" to "pause for commis completion" (spec.md §4.3 step 5: "If the
// LLM calls spawn_commis, the Fiche Runner raises FicheInterrupted{type:
// commiss_pending, job_ids} instead of continuing the ReAct loop").
type CommisSpawnRequest struct {
	JobIDs []string
	Jobs   []CommisJobSpec
}

// CommisJobSpec is one requested delegation: which commis fiche to run and
// what task to give it. ID is pre-minted by the tool so the interrupt and
// the eventual CommisJob rows agree on identity.
type CommisJobSpec struct {
	ID      string
	FicheID string
	Task    string
	Mode    string // plain|workspace, defaults to plain if empty
	Config  map[string]any
}

type interruptChKey struct{}

// ContextWithInterruptCh binds the side channel the spawn_commis tool
// signals on into ctx. Must be set once per RunThread invocation — a fresh
// buffered channel per run, never shared across runs.
func ContextWithInterruptCh(ctx context.Context, ch chan CommisSpawnRequest) context.Context {
	return context.WithValue(ctx, interruptChKey{}, ch)
}

// InterruptChFromContext returns the channel bound by ContextWithInterruptCh,
// or nil if this context was not produced by a RunThread invocation (e.g. a
// tool invoked outside the Fiche Runner).
func InterruptChFromContext(ctx context.Context) chan CommisSpawnRequest {
	ch, _ := ctx.Value(interruptChKey{}).(chan CommisSpawnRequest)
	return ch
}

// Interrupted is the typed exception spec.md §4.3 calls FicheInterrupted:
// "the ReAct loop stops, the parent course is marked deferred, a
// CommisBarrier is created for job_ids". Errors.Is/As compatible via Unwrap.
// Jobs carries the full spawn request alongside JobIDs so the caller (the
// Concierge Service) can create the CommisJob rows themselves — spec.md
// §4.5 Phase 1 describes that insert as happening "inside the fiche
// runner", but nothing observes the rows between the tool call returning
// and RunThread unwinding with this error, so deferring the write to the
// Concierge Service's single Phase 1/Phase 2 sequence is equivalent and
// avoids giving the Fiche Runner a direct *store.Store dependency.
type Interrupted struct {
	Type   string // always "commiss_pending" today; typed for forward compatibility
	JobIDs []string
	Jobs   []CommisJobSpec
}

func (e *Interrupted) Error() string {
	return "ficherunner: interrupted: " + e.Type
}
