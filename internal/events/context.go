package events

import "context"

type courseIDKey struct{}

// ContextWithCourseID returns a new context carrying the active course ID.
func ContextWithCourseID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, courseIDKey{}, id)
}

// CourseIDFromContext extracts the course ID from the context, or "" if absent.
func CourseIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(courseIDKey{}).(string); ok {
		return id
	}
	return ""
}
