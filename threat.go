package raspeval

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Threat is a vendor-agnostic threat event reported by the protection
// layer under evaluation.
type Threat struct {
	ID       int     `json:"id"`
	Name     string  `json:"name"`
	Severity string  `json:"severity"`
	Details  *string `json:"details,omitempty"`
}

// ParseThreat decodes and validates a threat event.
func ParseThreat(data []byte) (Threat, error) {
	var t Threat
	if err := json.Unmarshal(data, &t); err != nil {
		return Threat{}, fmt.Errorf("decode threat: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Threat{}, err
	}
	return t, nil
}

// Validate checks that the name and severity are set.
func (t Threat) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("threat name cannot be empty")
	}
	if strings.TrimSpace(t.Severity) == "" {
		return fmt.Errorf("threat severity cannot be empty")
	}
	return nil
}
