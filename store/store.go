// Package store defines persistence for attack attempts and the threat
// events a protection layer reports, and the correlation between them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/frobware/go-raspeval"
)

// ErrNotFound is returned when a requested item does not exist in the store.
var ErrNotFound = errors.New("not found")

// CorrelationWindow bounds how long after its start an unfinished
// attack can be matched with threats.
const CorrelationWindow = 60 * time.Second

// Attack is one recorded attack attempt.
type Attack struct {
	ID            int64                 `json:"id"`
	RunID         string                `json:"run_id"`
	RequirementID string                `json:"requirement_id"`
	Scenario      string                `json:"scenario"`
	StartedAt     time.Time             `json:"started_at"`
	EndedAt       *time.Time            `json:"ended_at,omitempty"`
	Outcome       *raspeval.OutcomeKind `json:"outcome,omitempty"`
	Message       string                `json:"message,omitempty"`
	Detail        string                `json:"detail,omitempty"`
}

// ThreatRecord is a stored threat event.
type ThreatRecord struct {
	ID         int64           `json:"id"`
	Threat     raspeval.Threat `json:"threat"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Correlation pairs an attack with a threat received inside its
// window. Threat is nil for an attack nothing was reported for.
type Correlation struct {
	Attack Attack        `json:"attack"`
	Threat *ThreatRecord `json:"threat,omitempty"`
}

// Store persists attacks and threats.
type Store interface {
	// StartAttack records the start of an attempt and returns its id.
	StartAttack(ctx context.Context, runID, requirementID, scenario string, startedAt time.Time) (int64, error)
	// FinishAttack records the end and outcome of an attempt.
	// Returns ErrNotFound if id does not exist.
	FinishAttack(ctx context.Context, id int64, endedAt time.Time, outcome raspeval.Outcome) error
	// GetAttack returns ErrNotFound if id does not exist.
	GetAttack(ctx context.Context, id int64) (Attack, error)
	// ListAttacks returns the attacks of runID, or of every run if
	// runID is empty, oldest first.
	ListAttacks(ctx context.Context, runID string) ([]Attack, error)

	SaveThreat(ctx context.Context, threat raspeval.Threat, receivedAt time.Time) (int64, error)
	ListThreats(ctx context.Context) ([]ThreatRecord, error)

	// Correlate returns every attack with each threat received in
	// [started_at, ended_at], or [started_at, started_at+window] while
	// the attack is unfinished. Attacks without a threat appear once.
	Correlate(ctx context.Context) ([]Correlation, error)
	// GapCount returns the number of attacks no threat was received for.
	GapCount(ctx context.Context) (int, error)

	RunInTransaction(ctx context.Context, fn func(Store) error) error
	Close() error
}
