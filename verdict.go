package raspeval

import "fmt"

// Verdict is the tri-state result of a single probe attempt.
//
// The zero value is InvocationError so that an uninitialised verdict can
// never be mistaken for a successful bypass.
type Verdict int

const (
	// InvocationError means the probe could not run at all, for
	// example because its target could not be resolved. It is not a
	// security verdict.
	InvocationError Verdict = iota
	// Blocked means the technique failed. This is the expected outcome
	// under a working protection layer.
	Blocked
	// Bypassed means the technique succeeded and the protection did
	// not hold.
	Bypassed
)

// Entry-point return codes. The host only distinguishes a bypass from
// everything else.
const (
	CodeBypassed int32 = 0
	CodeBlocked  int32 = -1
)

// String returns the string representation of the verdict.
func (v Verdict) String() string {
	switch v {
	case InvocationError:
		return "invocation-error"
	case Blocked:
		return "blocked"
	case Bypassed:
		return "bypassed"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Code maps the verdict onto the entry-point return code.
// InvocationError collapses to CodeBlocked.
func (v Verdict) Code() int32 {
	if v == Bypassed {
		return CodeBypassed
	}
	return CodeBlocked
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// ParseVerdict parses the string form produced by Verdict.String.
func ParseVerdict(s string) (Verdict, error) {
	switch s {
	case "invocation-error":
		return InvocationError, nil
	case "blocked":
		return Blocked, nil
	case "bypassed":
		return Bypassed, nil
	default:
		return InvocationError, fmt.Errorf("unknown verdict %q", s)
	}
}
