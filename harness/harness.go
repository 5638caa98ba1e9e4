// Package harness exposes the probes to a host application through
// entry points that take and return primitive values only.
package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/logging"
	"github.com/frobware/go-raspeval/pltpatch"
	"github.com/frobware/go-raspeval/procscan"
	"github.com/frobware/go-raspeval/ptrace"
	"github.com/frobware/go-raspeval/trampoline"
)

// Component tags every record the harness emits.
const Component = "attack-harness"

// TraceProbe attempts a process trace attach.
type TraceProbe interface {
	Attempt(ctx context.Context, pid raspeval.PID) raspeval.Verdict
}

// PatchProbe attempts to make a linkage-table slot writable.
type PatchProbe interface {
	Attempt(ctx context.Context, target raspeval.LibraryTarget, symbol string) raspeval.Verdict
}

// WriteProbe attempts a fault-isolated write.
type WriteProbe interface {
	Attempt(ctx context.Context, addr uintptr) raspeval.Verdict
}

// Detector reports instrumentation.
type Detector interface {
	Detect(ctx context.Context) bool
}

// Harness dispatches to the four probes. Each call is synchronous and
// yields exactly one verdict.
type Harness struct {
	logger   *slog.Logger
	trace    TraceProbe
	patch    PatchProbe
	write    WriteProbe
	detector Detector
}

// Options selects the probe implementations. Nil fields get the
// system implementation.
type Options struct {
	Trace    TraceProbe
	Patch    PatchProbe
	Write    WriteProbe
	Detector Detector

	// Signatures overrides procscan.DefaultSignatures for the default
	// detector.
	Signatures []string
	// Sentinel overrides trampoline.DefaultSentinel for the default
	// write probe. Zero keeps the default.
	Sentinel byte
}

// New builds a harness logging through logger.
func New(logger *slog.Logger, opts Options) *Harness {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logging.WithInvocationHandler(logger)

	h := &Harness{
		logger:   logger.With(logging.ComponentKey, Component),
		trace:    opts.Trace,
		patch:    opts.Patch,
		write:    opts.Write,
		detector: opts.Detector,
	}
	if h.trace == nil {
		h.trace = ptrace.New(logger)
	}
	if h.patch == nil {
		h.patch = pltpatch.New(logger)
	}
	if h.write == nil {
		var wopts []trampoline.Option
		if opts.Sentinel != 0 {
			wopts = append(wopts, trampoline.WithSentinel(opts.Sentinel))
		}
		h.write = trampoline.New(logger, wopts...)
	}
	if h.detector == nil {
		var sopts []procscan.Option
		if len(opts.Signatures) > 0 {
			sopts = append(sopts, procscan.WithSignatures(opts.Signatures))
		}
		h.detector = procscan.New(logger, sopts...)
	}
	return h
}

// Trace runs the process-trace probe against pid.
func (h *Harness) Trace(ctx context.Context, pid raspeval.PID) raspeval.Verdict {
	ctx = h.begin(ctx, "process trace", "pid", int(pid))
	return h.finish(ctx, "process trace", h.trace.Attempt(ctx, pid))
}

// Patch runs the linkage-table patch probe. An empty library name is
// an invocation error.
func (h *Harness) Patch(ctx context.Context, library, symbol string) raspeval.Verdict {
	ctx = h.begin(ctx, "linkage table patch", "library", library, "symbol", symbol)
	target, err := raspeval.ParseLibraryTarget(library)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid library target", "error", err)
		return h.finish(ctx, "linkage table patch", raspeval.InvocationError)
	}
	return h.finish(ctx, "linkage table patch", h.patch.Attempt(ctx, target, symbol))
}

// Write runs the fault-isolated write probe against addr.
func (h *Harness) Write(ctx context.Context, addr uintptr) raspeval.Verdict {
	ctx = h.begin(ctx, "protected write", "address", fmt.Sprintf("%#x", addr))
	return h.finish(ctx, "protected write", h.write.Attempt(ctx, addr))
}

// Detect runs the instrumentation scanner.
func (h *Harness) Detect(ctx context.Context) bool {
	ctx = h.begin(ctx, "instrumentation scan")
	detected := h.detector.Detect(ctx)
	h.logger.InfoContext(ctx, "technique finished", "technique", "instrumentation scan", "detected", detected)
	return detected
}

// AttemptProcessTrace returns 0 if pid could be traced, -1 otherwise.
func (h *Harness) AttemptProcessTrace(ctx context.Context, pid int32) int32 {
	return h.Trace(ctx, raspeval.PID(pid)).Code()
}

// AttemptLinkageTablePatch returns 0 if symbol's slot in library could
// be made writable, -1 otherwise.
func (h *Harness) AttemptLinkageTablePatch(ctx context.Context, library, symbol string) int32 {
	return h.Patch(ctx, library, symbol).Code()
}

// AttemptProtectedWrite returns 0 if a byte could be written at addr,
// -1 otherwise.
func (h *Harness) AttemptProtectedWrite(ctx context.Context, addr int64) int32 {
	return h.Write(ctx, uintptr(addr)).Code()
}

// DetectInstrumentation reports whether instrumentation tooling was
// found.
func (h *Harness) DetectInstrumentation(ctx context.Context) bool {
	return h.Detect(ctx)
}

func (h *Harness) begin(ctx context.Context, technique string, args ...any) context.Context {
	if logging.InvocationFromContext(ctx) == "" {
		ctx, _ = logging.WithInvocation(ctx)
	}
	h.logger.InfoContext(ctx, "technique started", append([]any{"technique", technique}, args...)...)
	return ctx
}

func (h *Harness) finish(ctx context.Context, technique string, v raspeval.Verdict) raspeval.Verdict {
	h.logger.InfoContext(ctx, "technique finished", "technique", technique, "verdict", v, "code", v.Code())
	return v
}
