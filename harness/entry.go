package harness

import (
	"context"
	"log/slog"
	"sync"

	"github.com/frobware/go-raspeval/logging"
)

var (
	once    sync.Once
	current *Harness
)

// Initialize sets up the process-wide harness with a logger configured
// from the environment. Only the first call has any effect.
func Initialize() {
	InitializeWith(nil, Options{})
}

// InitializeWith is Initialize with an explicit logger and options.
// A nil logger is read from the environment.
func InitializeWith(logger *slog.Logger, opts Options) {
	once.Do(func() {
		if logger == nil {
			var err error
			if logger, err = logging.FromEnv(); err != nil {
				logger = logging.Default()
				logger.Warn("ignoring invalid log spec", "env", logging.EnvVar, "error", err)
			}
		}
		current = New(logger, opts)
		current.logger.Info("harness initialized")
	})
}

func get() *Harness {
	Initialize()
	return current
}

// AttemptProcessTrace runs the process-trace probe on the process-wide
// harness.
func AttemptProcessTrace(pid int32) int32 {
	return get().AttemptProcessTrace(context.Background(), pid)
}

// AttemptLinkageTablePatch runs the linkage-table patch probe on the
// process-wide harness.
func AttemptLinkageTablePatch(library, symbol string) int32 {
	return get().AttemptLinkageTablePatch(context.Background(), library, symbol)
}

// AttemptProtectedWrite runs the fault-isolated write probe on the
// process-wide harness.
func AttemptProtectedWrite(addr int64) int32 {
	return get().AttemptProtectedWrite(context.Background(), addr)
}

// DetectInstrumentation runs the instrumentation scanner on the
// process-wide harness.
func DetectInstrumentation() bool {
	return get().DetectInstrumentation(context.Background())
}
