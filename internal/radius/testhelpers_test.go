package radius

import (
	"io"
	"log/slog"
	"time"
)

// discardLogger is the logger every test in this package hands to
// NewTrunk/NewWorker/NewDispatcher, since none of them want test output
// polluted with the subsystem's own Info/Warn/Debug lines.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fastRetry is a retry schedule short enough to exercise inside a unit
// test's synchronous clock stepping, without waiting on wall-clock time.
func fastRetry() RetryConfig {
	return RetryConfig{
		InitialRT: 10 * time.Millisecond,
		MaxRT:     40 * time.Millisecond,
		MRC:       3,
		MRD:       time.Second,
	}
}
