// Package credentials implements the context-scoped credential resolver
// contract from spec.md §5: "Credential resolvers are stored in a per-task
// context value; they never cross task boundaries implicitly. Any code
// running in a different task that needs credentials must be explicitly
// passed the resolver." The credential vault itself is named in spec.md's
// Non-goals as "an opaque resolver" external collaborator; this package
// provides the resolver contract plus a concrete age-encrypted
// implementation adapted from the teacher's envelope-encryption precedent,
// rather than reimplementing a vault service.
package credentials

import (
	"context"
	"fmt"

	"github.com/rjlane/courses/internal/apperr"
)

// Resolver looks up a decrypted secret value scoped to an owner. Tool
// implementations that need provider credentials call Resolve, never read
// globals or process environment directly (spec.md §5).
type Resolver interface {
	Resolve(ctx context.Context, ownerID, key string) (string, error)
}

type resolverKey struct{}

// WithResolver binds r into ctx for the duration of one task (one fiche
// run, one commis run). It must be set explicitly at each task boundary —
// background goroutines spawned from a task do not inherit it unless the
// caller passes ctx down directly.
func WithResolver(ctx context.Context, r Resolver) context.Context {
	return context.WithValue(ctx, resolverKey{}, r)
}

// FromContext retrieves the Resolver bound to ctx, if any.
func FromContext(ctx context.Context) (Resolver, bool) {
	r, ok := ctx.Value(resolverKey{}).(Resolver)
	return r, ok
}

// Require retrieves the Resolver bound to ctx, or returns the
// missing_context error envelope spec.md §4.3/§4.5 both call for: "Resolve
// the credential context; if absent, return missing_context error envelope
// — the LLM sees the failure and can react."
func Require(ctx context.Context) (Resolver, error) {
	r, ok := FromContext(ctx)
	if !ok {
		return nil, apperr.New(apperr.MissingContext, "no credential resolver bound to this task", nil)
	}
	return r, nil
}

// Resolve is a convenience wrapper: fetch the resolver from ctx then
// resolve key, folding a missing resolver and a resolve failure into the
// same missing_context/execution_error taxonomy tool calls expect.
func Resolve(ctx context.Context, ownerID, key string) (string, error) {
	r, err := Require(ctx)
	if err != nil {
		return "", err
	}
	val, err := r.Resolve(ctx, ownerID, key)
	if err != nil {
		return "", apperr.New(apperr.ExecutionError, fmt.Sprintf("resolve credential %q", key), err)
	}
	return val, nil
}
