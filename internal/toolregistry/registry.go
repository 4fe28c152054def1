// Package toolregistry implements the process-global Tool Registry named in
// spec.md §9: "the only process-global is the Tool Registry (built at
// startup, frozen)". It holds every known eino tool under its registered
// name and expands a Fiche's allowed_tools list (which may contain wildcard
// entries like "fs.*") into the concrete tool set a Fiche Runner invocation
// is allowed to call, generalizing the teacher's per-session mutable
// internal/agent.ToolSet into a single immutable, allowlist-driven registry.
package toolregistry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/tool"
)

// Registry is built once at startup via NewRegistry/Register calls and then
// frozen with Freeze; all read methods after that point are lock-free.
type Registry struct {
	mu     sync.Mutex
	frozen bool
	tools  map[string]tool.InvokableTool
	names  []string // sorted, populated at Freeze
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// Register adds a tool under name. It panics if called after Freeze — a
// frozen registry is a programming invariant, not a runtime condition to
// recover from.
func (r *Registry) Register(name string, t tool.InvokableTool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("toolregistry: Register(%q) called after Freeze", name))
	}
	r.tools[name] = t
}

// Freeze finalizes the registry. Call once at startup after all Register
// calls.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	r.names = names
	r.frozen = true
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	return r.names
}

// Resolve expands allowedTools — a Fiche's allowed_tools list, which may mix
// exact names and "prefix.*" wildcards (spec.md §3 Fiche: "allowed_tools
// (list or wildcard)") — into the concrete, deduplicated, sorted set of
// registered tools the caller may invoke. Unknown exact names are silently
// dropped: a fiche referencing a tool that no longer exists should degrade,
// not crash the run.
func (r *Registry) Resolve(allowedTools []string) []tool.InvokableTool {
	selected := make(map[string]tool.InvokableTool)
	for _, pattern := range allowedTools {
		if prefix, ok := strings.CutSuffix(pattern, ".*"); ok {
			for _, name := range r.names {
				if name == prefix || strings.HasPrefix(name, prefix+".") {
					selected[name] = r.tools[name]
				}
			}
			continue
		}
		if pattern == "*" {
			for _, name := range r.names {
				selected[name] = r.tools[name]
			}
			continue
		}
		if t, ok := r.tools[pattern]; ok {
			selected[pattern] = t
		}
	}

	names := make([]string, 0, len(selected))
	for n := range selected {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]tool.InvokableTool, 0, len(names))
	for _, n := range names {
		out = append(out, selected[n])
	}
	return out
}
