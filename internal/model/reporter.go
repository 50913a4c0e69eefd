package model

import "context"

// Reporter delivers progress to the monitor. Implementations must not block
// the caller and must not return errors: reporting is best effort.
type Reporter interface {
	Report(ctx context.Context, p Progress)
}

type ReportCloser interface {
	Reporter
	Close(ctx context.Context) error
}
