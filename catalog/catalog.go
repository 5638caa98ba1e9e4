// Package catalog holds the native attack cases the probes back and
// maps their verdicts to evaluation outcomes.
package catalog

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/frobware/go-raspeval"
)

// Probes is the set of attack primitives a case can drive.
// *harness.Harness satisfies it.
type Probes interface {
	Trace(ctx context.Context, pid raspeval.PID) raspeval.Verdict
	Patch(ctx context.Context, library, symbol string) raspeval.Verdict
	Write(ctx context.Context, addr uintptr) raspeval.Verdict
	Detect(ctx context.Context) bool
}

// Params are the inputs the cases pass to the probes.
type Params struct {
	// PID is the process case 3 traces.
	PID raspeval.PID
	// Library and Symbol select the slot case 55 patches.
	Library string
	Symbol  string
	// Address is where case 13 writes.
	Address uintptr
}

// DefaultParams traces the parent process, patches open in libc.so
// and writes to address zero.
func DefaultParams() Params {
	return Params{
		PID:     raspeval.PID(os.Getppid()),
		Library: "libc.so",
		Symbol:  "open",
		Address: 0,
	}
}

// Case is one attack scenario.
type Case struct {
	Requirement raspeval.Requirement
	execute     func(ctx context.Context, p Probes, params Params) raspeval.Outcome
}

// Execute runs the case once.
func (c Case) Execute(ctx context.Context, p Probes, params Params) raspeval.Outcome {
	return c.execute(ctx, p, params)
}

var cases = []Case{
	{
		Requirement: raspeval.Requirement{
			ID:       "3",
			Group:    "Group 1",
			Scenario: "Zygote/Ptrace Root Detection",
			Priority: raspeval.P1,
			Layer:    raspeval.LayerNativeHooking,
		},
		execute: func(ctx context.Context, p Probes, params Params) raspeval.Outcome {
			return verdictOutcome(p.Trace(ctx, params.PID),
				"Attack Blocked: ptrace attach refused.",
				"Attack Succeeded: process attached with ptrace.",
				fmt.Sprintf("Process %d could be attached and detached.", params.PID))
		},
	},
	{
		Requirement: raspeval.Requirement{
			ID:       "4",
			Group:    "Group 1",
			Scenario: "Frida/Xposed Hook Trace",
			Priority: raspeval.P1,
			Layer:    raspeval.LayerNativeProcess,
		},
		execute: func(ctx context.Context, p Probes, _ Params) raspeval.Outcome {
			if p.Detect(ctx) {
				return raspeval.Fail("Instrumentation Present: Frida/Xposed traces found.",
					"A known instrumentation signature appears in the memory map or a thread name.")
			}
			return raspeval.Pass("No Frida/Xposed traces found.")
		},
	},
	{
		Requirement: raspeval.Requirement{
			ID:       "13",
			Group:    "Group 2",
			Scenario: "Runtime Code Injection Halt",
			Priority: raspeval.P1,
			Layer:    raspeval.LayerNativeHooking,
		},
		execute: func(ctx context.Context, p Probes, params Params) raspeval.Outcome {
			return verdictOutcome(p.Write(ctx, params.Address),
				"Attack Blocked: memory write faulted.",
				"Attack Succeeded: memory write completed.",
				fmt.Sprintf("A byte was written at %#x.", params.Address))
		},
	},
	{
		Requirement: raspeval.Requirement{
			ID:       "55",
			Group:    "Group 6",
			Scenario: "Low-Level Native Call Interception",
			Priority: raspeval.P1,
			Layer:    raspeval.LayerNativeHooking,
		},
		execute: func(ctx context.Context, p Probes, params Params) raspeval.Outcome {
			return verdictOutcome(p.Patch(ctx, params.Library, params.Symbol),
				"Attack Blocked: PLT page protection change failed.",
				"Attack Succeeded: PLT page made writable.",
				fmt.Sprintf("The page holding %s in %s was made writable.", params.Symbol, params.Library))
		},
	},
}

func verdictOutcome(v raspeval.Verdict, blocked, bypassed, details string) raspeval.Outcome {
	switch v {
	case raspeval.Blocked:
		return raspeval.Pass(blocked)
	case raspeval.Bypassed:
		return raspeval.Fail(bypassed, details)
	default:
		return raspeval.Outcome{Kind: raspeval.OutcomeError, Message: "Attack could not be attempted: target not resolved."}
	}
}

// Cases returns every case ordered by numeric id.
func Cases() []Case {
	out := slices.Clone(cases)
	slices.SortFunc(out, func(a, b Case) int {
		ai, _ := strconv.Atoi(a.Requirement.ID)
		bi, _ := strconv.Atoi(b.Requirement.ID)
		return ai - bi
	})
	return out
}

// Lookup returns the case with id.
func Lookup(id string) (Case, bool) {
	for _, c := range cases {
		if c.Requirement.ID == id {
			return c, true
		}
	}
	return Case{}, false
}

// Select returns the cases named by ids in the order given, or every
// case if ids is empty.
func Select(ids []string) ([]Case, error) {
	if len(ids) == 0 {
		return Cases(), nil
	}
	out := make([]Case, 0, len(ids))
	for _, id := range ids {
		c, ok := Lookup(id)
		if !ok {
			return nil, fmt.Errorf("unknown requirement %q", id)
		}
		out = append(out, c)
	}
	return out, nil
}
