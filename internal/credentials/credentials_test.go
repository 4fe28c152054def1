package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/rjlane/courses/internal/apperr"
)

type fakeResolver struct {
	values map[string]string
	err    error
}

func (f *fakeResolver) Resolve(ctx context.Context, ownerID, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.values[ownerID+"/"+key], nil
}

func TestWithResolver_RoundTrip(t *testing.T) {
	ctx := context.Background()
	r := &fakeResolver{values: map[string]string{"owner-1/api_key": "sk-test"}}
	ctx = WithResolver(ctx, r)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("expected resolver in context")
	}
	if got != r {
		t.Fatal("expected the same resolver instance back")
	}
}

func TestRequire_MissingReturnsMissingContext(t *testing.T) {
	_, err := Require(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	if appErr.ErrType != apperr.MissingContext {
		t.Fatalf("expected MissingContext, got %v", appErr.ErrType)
	}
}

func TestResolve_ReturnsValue(t *testing.T) {
	ctx := WithResolver(context.Background(), &fakeResolver{values: map[string]string{"owner-1/api_key": "sk-test"}})
	val, err := Resolve(ctx, "owner-1", "api_key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "sk-test" {
		t.Fatalf("expected sk-test, got %q", val)
	}
}

func TestResolve_WrapsUnderlyingFailure(t *testing.T) {
	ctx := WithResolver(context.Background(), &fakeResolver{err: errors.New("vault unreachable")})
	_, err := Resolve(ctx, "owner-1", "api_key")
	if err == nil {
		t.Fatal("expected error")
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperr.Error, got %T", err)
	}
	if appErr.ErrType != apperr.ExecutionError {
		t.Fatalf("expected ExecutionError, got %v", appErr.ErrType)
	}
}
