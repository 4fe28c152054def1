// Package coursemeter accumulates LLM token usage onto the owning Course row
// as a run streams, supplementing spec.md §3's total_tokens/total_cost_usd
// Course fields (C. SUPPLEMENTED FEATURES in SPEC_FULL.md: "track token usage
// and cost per course... accumulating... as events stream, rather than only
// at course completion"). Adapted from the teacher's
// internal/storage/costtracker.go, which did the same thing per-session off
// the same event bus; this version keys off course_id and persists through
// internal/store instead of a flat-file session store.
package coursemeter

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rjlane/courses/internal/events"
	"github.com/rjlane/courses/internal/store"
)

// Pricer turns a model name and token counts into a USD cost. Pricing tables
// are an operational concern outside this spec's scope (no provider
// price list is named anywhere in spec.md); ZeroPricer is the default and
// a real deployment supplies its own.
type Pricer interface {
	Cost(model string, tokensInput, tokensOutput int) float64
}

// ZeroPricer always returns 0 cost, used when no pricing table is configured.
type ZeroPricer struct{}

func (ZeroPricer) Cost(string, int, int) float64 { return 0 }

// Meter subscribes to EventLLMUsage and folds each response-phase usage
// report into the course row named by the event's CourseID.
type Meter struct {
	mu          sync.Mutex
	store       *store.Store
	pricer      Pricer
	unsubscribe func()
}

// New creates a Meter bound to bus. Call Close to unsubscribe.
func New(bus *events.Bus, st *store.Store, pricer Pricer) *Meter {
	if pricer == nil {
		pricer = ZeroPricer{}
	}
	m := &Meter{store: st, pricer: pricer}
	m.unsubscribe = bus.Subscribe(m.handleEvent, events.EventLLMUsage)
	return m
}

// Close unsubscribes the meter from the event bus.
func (m *Meter) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

func (m *Meter) handleEvent(e events.Event) {
	if e.CourseID == "" {
		return
	}

	payload, ok := events.GetLLMCallPayload(e)
	if !ok {
		return
	}
	if payload.Phase != "response" {
		return
	}
	if payload.TokensInput == 0 && payload.TokensOutput == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cost := m.pricer.Cost(payload.Model, payload.TokensInput, payload.TokensOutput)
	tokens := payload.TokensInput + payload.TokensOutput

	ctx := context.Background()
	if err := m.store.AddCourseTokens(ctx, e.CourseID, tokens, cost); err != nil {
		slog.Error("coursemeter: accumulate course tokens", "course_id", e.CourseID, "error", err)
	}
}
