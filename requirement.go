package raspeval

import (
	"fmt"
	"strings"
)

// Priority ranks the importance of an attack scenario.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	P3
)

func (p Priority) String() string {
	if p < P0 || p > P3 {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return fmt.Sprintf("P%d", int(p))
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Layer is the application layer a test case exercises.
type Layer string

const (
	LayerManaged       Layer = "managed"
	LayerNativeHooking Layer = "native-hooking"
	LayerNativeProcess Layer = "native-process"
)

// Requirement is the metadata a test case validates.
type Requirement struct {
	ID       string   `json:"id"`
	Group    string   `json:"group"`
	Scenario string   `json:"scenario"`
	Priority Priority `json:"priority"`
	Layer    Layer    `json:"layer"`
}

// OutcomeKind classifies the result of a test case from the
// evaluator's point of view.
type OutcomeKind int

const (
	// OutcomeError means the case could not be executed.
	OutcomeError OutcomeKind = iota
	// OutcomePass means the protection held.
	OutcomePass
	// OutcomeFail means the technique succeeded against the protection.
	OutcomeFail
	// OutcomeSkipped means the case was not run.
	OutcomeSkipped
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeError:
		return "error"
	case OutcomePass:
		return "pass"
	case OutcomeFail:
		return "fail"
	case OutcomeSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// ParseOutcomeKind parses the string form produced by OutcomeKind.String.
func ParseOutcomeKind(s string) (OutcomeKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return OutcomeError, nil
	case "pass":
		return OutcomePass, nil
	case "fail":
		return OutcomeFail, nil
	case "skipped":
		return OutcomeSkipped, nil
	default:
		return OutcomeError, fmt.Errorf("unknown outcome %q", s)
	}
}

// Outcome is the evaluated result of one test case.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Message string      `json:"message"`
	Details string      `json:"details,omitempty"`
}

// Pass builds a passing outcome.
func Pass(message string) Outcome {
	return Outcome{Kind: OutcomePass, Message: message}
}

// Fail builds a failing outcome.
func Fail(reason, details string) Outcome {
	return Outcome{Kind: OutcomeFail, Message: reason, Details: details}
}

// Skipped builds a skipped outcome.
func Skipped(reason string) Outcome {
	return Outcome{Kind: OutcomeSkipped, Message: reason}
}

// Errored builds an error outcome from err.
func Errored(err error) Outcome {
	return Outcome{Kind: OutcomeError, Message: err.Error()}
}
