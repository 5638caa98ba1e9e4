package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"k8s.io/client-go/util/jsonpath"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/catalog"
	"github.com/frobware/go-raspeval/store"
)

// VerdictResult is the output of a single probe command.
type VerdictResult struct {
	Technique string           `json:"technique"`
	Target    string           `json:"target"`
	Verdict   raspeval.Verdict `json:"verdict"`
	Code      int32            `json:"code"`
}

// DetectResult is the output of the detect command.
type DetectResult struct {
	Detected bool `json:"detected"`
}

// RunResult is the output of the run command.
type RunResult struct {
	RunID   string           `json:"run_id"`
	Results []catalog.Result `json:"results"`
}

// Report is the output of the report command.
type Report struct {
	Correlations []store.Correlation `json:"correlations"`
	Gaps         int                 `json:"gaps"`
}

// render formats v according to flags; table is used for the table
// format.
func render(v any, flags *OutputFlags, table func() string) (string, error) {
	switch flags.Format() {
	case OutputFormatJSON:
		return formatJSON(v)
	case OutputFormatJSONPath:
		return formatJSONPath(v, flags.JSONPathExpr())
	default:
		return table(), nil
	}
}

func formatJSON(v any) (string, error) {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(output) + "\n", nil
}

func formatJSONPath(v any, expr string) (string, error) {
	jp := jsonpath.New("output")
	if err := jp.Parse(expr); err != nil {
		return "", fmt.Errorf("invalid jsonpath expression %q: %w", expr, err)
	}

	// jsonpath walks generic values, not tagged structs.
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal: %w", err)
	}
	var data any
	if err := json.Unmarshal(jsonBytes, &data); err != nil {
		return "", fmt.Errorf("failed to unmarshal: %w", err)
	}

	var buf bytes.Buffer
	if err := jp.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("jsonpath execution failed: %w", err)
	}
	return buf.String() + "\n", nil
}

// FormatVerdict formats the result of a probe command.
func FormatVerdict(r VerdictResult, flags *OutputFlags) (string, error) {
	return render(r, flags, func() string {
		return fmt.Sprintf("%-10s %-32s %-16s %d\n", r.Technique, r.Target, r.Verdict, r.Code)
	})
}

// FormatDetect formats the result of the detect command.
func FormatDetect(r DetectResult, flags *OutputFlags) (string, error) {
	return render(r, flags, func() string {
		if r.Detected {
			return "instrumentation detected\n"
		}
		return "no instrumentation detected\n"
	})
}

// FormatRequirements formats the catalog.
func FormatRequirements(reqs []raspeval.Requirement, flags *OutputFlags) (string, error) {
	return render(reqs, flags, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "%-4s %-8s %-4s %-15s %s\n", "ID", "GROUP", "PRI", "LAYER", "SCENARIO")
		for _, r := range reqs {
			fmt.Fprintf(&b, "%-4s %-8s %-4s %-15s %s\n", r.ID, r.Group, r.Priority, r.Layer, r.Scenario)
		}
		return b.String()
	})
}

// FormatRun formats the results of a catalog run.
func FormatRun(r RunResult, flags *OutputFlags) (string, error) {
	return render(r, flags, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "run %s\n", r.RunID)
		fmt.Fprintf(&b, "%-4s %-8s %-8s %s\n", "ID", "ATTACK", "OUTCOME", "MESSAGE")
		for _, res := range r.Results {
			fmt.Fprintf(&b, "%-4s %-8d %-8s %s\n", res.Requirement.ID, res.AttackID, res.Outcome.Kind, res.Outcome.Message)
		}
		return b.String()
	})
}

// FormatThreats formats stored threats.
func FormatThreats(threats []store.ThreatRecord, flags *OutputFlags) (string, error) {
	return render(threats, flags, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "%-6s %-24s %-8s %-10s %s\n", "ID", "RECEIVED", "THREAT", "SEVERITY", "NAME")
		for _, t := range threats {
			fmt.Fprintf(&b, "%-6d %-24s %-8d %-10s %s\n",
				t.ID, t.ReceivedAt.Format(time.RFC3339), t.Threat.ID, t.Threat.Severity, t.Threat.Name)
		}
		return b.String()
	})
}

// FormatReport formats attack/threat correlations.
func FormatReport(r Report, flags *OutputFlags) (string, error) {
	return render(r, flags, func() string {
		var b strings.Builder
		fmt.Fprintf(&b, "%-8s %-4s %-8s %-24s %s\n", "ATTACK", "REQ", "OUTCOME", "STARTED", "THREAT")
		for _, c := range r.Correlations {
			outcome := "-"
			if c.Attack.Outcome != nil {
				outcome = c.Attack.Outcome.String()
			}
			threat := "none"
			if c.Threat != nil {
				threat = fmt.Sprintf("%s (%s)", c.Threat.Threat.Name, c.Threat.Threat.Severity)
			}
			fmt.Fprintf(&b, "%-8d %-4s %-8s %-24s %s\n",
				c.Attack.ID, c.Attack.RequirementID, outcome, c.Attack.StartedAt.Format(time.RFC3339), threat)
		}
		fmt.Fprintf(&b, "\ngaps: %d\n", r.Gaps)
		return b.String()
	})
}
