package events

import (
	"context"
	"testing"
)

func TestCourseIDRoundTrip(t *testing.T) {
	ctx := ContextWithCourseID(context.Background(), "course_abc123")
	got := CourseIDFromContext(ctx)
	if got != "course_abc123" {
		t.Errorf("got %q, want %q", got, "course_abc123")
	}
}

func TestCourseIDFromEmptyContext(t *testing.T) {
	got := CourseIDFromContext(context.Background())
	if got != "" {
		t.Errorf("got %q, want empty string", got)
	}
}
