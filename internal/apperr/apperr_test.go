package apperr

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		t    Type
		want int
	}{
		{ValidationError, http.StatusUnprocessableEntity},
		{MissingContext, http.StatusInternalServerError},
		{NotFound, http.StatusNotFound},
		{InvalidState, http.StatusConflict},
		{PermissionDenied, http.StatusForbidden},
		{RateLimited, http.StatusTooManyRequests},
		{ExecutionError, http.StatusInternalServerError},
		{TransportException, http.StatusInternalServerError},
	}
	for _, c := range cases {
		e := New(c.t, "boom", nil)
		if got := e.HTTPStatus(); got != c.want {
			t.Errorf("%s: expected status %d, got %d", c.t, c.want, got)
		}
	}
}

func TestToEnvelope(t *testing.T) {
	e := New(NotFound, "fiche not found", nil).WithDetails(map[string]any{"fiche_id": "f1"})
	env := ToEnvelope(e)
	if env.OK {
		t.Fatal("expected ok=false")
	}
	if env.ErrorType != NotFound {
		t.Errorf("expected error_type %q, got %q", NotFound, env.ErrorType)
	}
	if env.Details["fiche_id"] != "f1" {
		t.Errorf("expected details to survive ToEnvelope, got %v", env.Details)
	}
}

func TestToEnvelope_NonAppErrFoldsToExecutionError(t *testing.T) {
	env := ToEnvelope(errors.New("some low-level failure"))
	if env.ErrorType != ExecutionError {
		t.Errorf("expected execution_error, got %q", env.ErrorType)
	}
}

func TestToHTTP(t *testing.T) {
	status, body := ToHTTP(New(PermissionDenied, "not your course", nil))
	if status != http.StatusForbidden {
		t.Errorf("expected 403, got %d", status)
	}
	if body.Detail != "not your course" {
		t.Errorf("expected detail %q, got %q", "not your course", body.Detail)
	}
}

func TestIsCritical(t *testing.T) {
	critical := []Type{MissingContext, NotFound, InvalidState}
	for _, ty := range critical {
		if !IsCritical(New(ty, "x", nil)) {
			t.Errorf("%s should be critical", ty)
		}
	}
	if IsCritical(New(ExecutionError, "x", nil)) {
		t.Error("execution_error should not be critical")
	}
	if IsCritical(errors.New("plain error")) {
		t.Error("non-*Error should not be critical")
	}
}

func TestErrorsAs(t *testing.T) {
	wrapped := New(RateLimited, "slow down", errors.New("upstream 429"))
	var target *Error
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As should unwrap to *Error")
	}
	if target.RetryAfter != 0 {
		t.Errorf("expected zero-value RetryAfter by default, got %d", target.RetryAfter)
	}
}

func TestIs(t *testing.T) {
	a := New(NotFound, "x", nil)
	b := New(NotFound, "y", nil)
	c := New(ValidationError, "z", nil)
	if !a.Is(b) {
		t.Error("same ErrType should match via Is")
	}
	if a.Is(c) {
		t.Error("different ErrType should not match via Is")
	}
}
