// Package ptrace attempts to attach to a process the way a debugger
// would.
package ptrace

import (
	"context"
	"log/slog"
	"runtime"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/logging"
)

// Component is the logging component name of the probe.
const Component = "ptrace"

// Tracer is the process-control capability the probe drives. All three
// calls for one attempt are issued from the same OS thread.
type Tracer interface {
	Attach(pid raspeval.PID) error
	// Wait consumes the stop that follows a successful attach.
	Wait(pid raspeval.PID) error
	Detach(pid raspeval.PID) error
}

// Probe attaches to and immediately detaches from target processes.
type Probe struct {
	tracer   Tracer
	procRoot string
	logger   *slog.Logger
}

// Option configures a Probe.
type Option func(*Probe)

// WithTracer replaces the system tracer.
func WithTracer(t Tracer) Option {
	return func(p *Probe) { p.tracer = t }
}

// WithProcRoot sets where TracerPID diagnostics are read from.
func WithProcRoot(root string) Option {
	return func(p *Probe) { p.procRoot = root }
}

// New returns a probe using ptrace(2).
func New(logger *slog.Logger, opts ...Option) *Probe {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Probe{
		tracer:   SysTracer{},
		procRoot: DefaultProcRoot,
		logger:   logger.With(logging.ComponentKey, Component),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attempt attaches to pid and detaches straight away. A refused attach
// yields Blocked, a successful one Bypassed. Failures after the attach
// are logged and do not change the verdict.
func (p *Probe) Attempt(ctx context.Context, pid raspeval.PID) raspeval.Verdict {
	logger := p.logger.With("pid", int(pid))

	if pid <= 0 {
		logger.WarnContext(ctx, "invalid process id", "verdict", raspeval.InvocationError)
		return raspeval.InvocationError
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := p.tracer.Attach(pid); err != nil {
		attrs := []any{"error", err, "verdict", raspeval.Blocked}
		if tracer, terr := TracerPID(p.procRoot, int(pid)); terr == nil && tracer != 0 {
			attrs = append(attrs, "tracer_pid", tracer)
		}
		logger.InfoContext(ctx, "attach refused", attrs...)
		return raspeval.Blocked
	}
	logger.InfoContext(ctx, "attach succeeded")

	if err := p.tracer.Wait(pid); err != nil {
		logger.WarnContext(ctx, "wait for attach stop failed", "error", err)
	}
	if err := p.tracer.Detach(pid); err != nil {
		logger.ErrorContext(ctx, "detach failed", "error", err)
	} else {
		logger.DebugContext(ctx, "detached")
	}

	logger.ErrorContext(ctx, "process attachable", "verdict", raspeval.Bypassed)
	return raspeval.Bypassed
}
