// Package trampoline writes through arbitrary addresses without
// letting a memory-access fault terminate the process.
//
// A write runs with runtime/debug.SetPanicOnFault enabled so that a
// SIGSEGV or SIGBUS raised by the store becomes a recoverable runtime
// panic. The attempt moves through three states: Armed once fault
// conversion is installed, Faulted if the store trapped, and Completed
// once the prior fault setting is back in place. Completed is reached
// on every path out of Armed.
//
// Attempts are serialized process-wide.
package trampoline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"unsafe"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/logging"
)

// Component is the logging component name of the probe.
const Component = "trampoline"

// DefaultSentinel is the byte written by an attempt.
const DefaultSentinel byte = 0x90

// State is a stage of one write attempt.
type State int

const (
	Idle State = iota
	Armed
	Faulted
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Faulted:
		return "faulted"
	case Completed:
		return "completed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// mu guards the fault configuration for the duration of an attempt.
var mu sync.Mutex

// Probe performs fault-isolated single-byte writes.
type Probe struct {
	sentinel     byte
	logger       *slog.Logger
	onTransition func(State)
}

// Option configures a Probe.
type Option func(*Probe)

// WithSentinel sets the byte to write.
func WithSentinel(b byte) Option {
	return func(p *Probe) { p.sentinel = b }
}

// WithTransitionHook calls fn on every state change.
func WithTransitionHook(fn func(State)) Option {
	return func(p *Probe) { p.onTransition = fn }
}

// New returns a write probe.
func New(logger *slog.Logger, opts ...Option) *Probe {
	if logger == nil {
		logger = logging.Discard()
	}
	p := &Probe{
		sentinel: DefaultSentinel,
		logger:   logger.With(logging.ComponentKey, Component),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Attempt writes the sentinel byte to addr. A fault yields Blocked; a
// completed write yields Bypassed.
func (p *Probe) Attempt(ctx context.Context, addr uintptr) raspeval.Verdict {
	mu.Lock()
	defer mu.Unlock()

	logger := p.logger.With("address", fmt.Sprintf("%#x", addr))
	logger.DebugContext(ctx, "attempting protected write", "sentinel", fmt.Sprintf("%#02x", p.sentinel))

	fault := p.store(addr)
	if fault != nil {
		logger.InfoContext(ctx, "write faulted", "fault", fault, "verdict", raspeval.Blocked)
		return raspeval.Blocked
	}
	logger.ErrorContext(ctx, "protected write succeeded", "verdict", raspeval.Bypassed)
	return raspeval.Bypassed
}

// store performs the write and returns the recovered fault, if any.
// Panics other than memory faults are re-raised after the prior fault
// setting is restored.
func (p *Probe) store(addr uintptr) (fault error) {
	prior := debug.SetPanicOnFault(true)
	p.transition(Armed)

	defer func() {
		r := recover()
		if r != nil {
			if rerr, ok := r.(runtime.Error); ok {
				fault = rerr
				p.transition(Faulted)
			}
		}
		debug.SetPanicOnFault(prior)
		p.transition(Completed)
		if r != nil && fault == nil {
			panic(r)
		}
	}()

	*(*byte)(unsafe.Pointer(addr)) = p.sentinel
	return nil
}

func (p *Probe) transition(s State) {
	if p.onTransition != nil {
		p.onTransition(s)
	}
}
