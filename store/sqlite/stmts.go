package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const attackColumns = `a.id, a.run_id, a.requirement_id, a.scenario, a.started_at, a.ended_at, a.outcome, a.message, a.detail`

// windowEnd is the last millisecond of an attack's correlation window.
// The window length is bound as the first parameter.
const windowEnd = `COALESCE(a.ended_at, a.started_at + ?1)`

func (s *sqliteStore) prepareStatements(ctx context.Context) error {
	stmts := []struct {
		name string
		sql  string
		dst  **sql.Stmt
	}{
		{"StartAttack", `
		INSERT INTO attacks (run_id, requirement_id, scenario, started_at)
		VALUES (?, ?, ?, ?)`, &s.stmtStartAttack},

		{"FinishAttack", `
		UPDATE attacks SET ended_at = ?, outcome = ?, message = ?, detail = ?
		WHERE id = ?`, &s.stmtFinishAttack},

		{"GetAttack", `
		SELECT ` + attackColumns + `
		FROM attacks a
		WHERE a.id = ?`, &s.stmtGetAttack},

		{"ListAttacks", `
		SELECT ` + attackColumns + `
		FROM attacks a
		WHERE ?1 = '' OR a.run_id = ?1
		ORDER BY a.started_at, a.id`, &s.stmtListAttacks},

		{"SaveThreat", `
		INSERT INTO threats (threat_json, received_at)
		VALUES (?, ?)`, &s.stmtSaveThreat},

		{"ListThreats", `
		SELECT t.id, t.threat_json, t.received_at
		FROM threats t
		ORDER BY t.received_at, t.id`, &s.stmtListThreats},

		{"Correlate", `
		SELECT ` + attackColumns + `, t.id, t.threat_json, t.received_at
		FROM attacks a
		LEFT JOIN threats t
		  ON t.received_at BETWEEN a.started_at AND ` + windowEnd + `
		ORDER BY a.started_at, a.id, t.received_at, t.id`, &s.stmtCorrelate},

		{"GapCount", `
		SELECT COUNT(*)
		FROM attacks a
		WHERE NOT EXISTS (
		  SELECT 1 FROM threats t
		  WHERE t.received_at BETWEEN a.started_at AND ` + windowEnd + `
		)`, &s.stmtGapCount},
	}

	for _, st := range stmts {
		stmt, err := s.db.PrepareContext(ctx, st.sql)
		if err != nil {
			return fmt.Errorf("prepare %s: %w", st.name, err)
		}
		*st.dst = stmt
	}
	return nil
}
