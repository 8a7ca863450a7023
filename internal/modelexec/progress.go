package modelexec

import "context"

// reporterFunc appends one progress event for the executing step.
type reporterFunc func(current, total int64, message string)

type progressKey struct{}

func withReporter(ctx context.Context, report reporterFunc) context.Context {
	return context.WithValue(ctx, progressKey{}, report)
}

// ReportProgress streams a fine-grained progress event (current out of total)
// for the executing step. Model bodies call it mid-run; readers tail the
// events ordered by id. Outside an execution it is a no-op.
func ReportProgress(ctx context.Context, current, total int64, message string) {
	if report, ok := ctx.Value(progressKey{}).(reporterFunc); ok {
		report(current, total, message)
	}
}
