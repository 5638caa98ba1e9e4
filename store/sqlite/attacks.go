package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/store"
)

// StartAttack implements store.Store.
func (s *sqliteStore) StartAttack(ctx context.Context, runID, requirementID, scenario string, startedAt time.Time) (int64, error) {
	start := time.Now()
	args := []any{runID, requirementID, scenario, toMillis(startedAt)}

	res, err := s.stmtStartAttack.ExecContext(ctx, args...)
	if err != nil {
		s.logger.Debug("sql", "stmt", "StartAttack", "args", args, "duration_ms", msec(time.Since(start)), "error", err)
		return 0, fmt.Errorf("start attack %s: %w", requirementID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("start attack %s: %w", requirementID, err)
	}
	s.logger.Debug("sql", "stmt", "StartAttack", "args", args, "duration_ms", msec(time.Since(start)), "id", id)
	return id, nil
}

// FinishAttack implements store.Store.
func (s *sqliteStore) FinishAttack(ctx context.Context, id int64, endedAt time.Time, outcome raspeval.Outcome) error {
	start := time.Now()
	args := []any{toMillis(endedAt), outcome.Kind.String(), outcome.Message, outcome.Details, id}

	res, err := s.stmtFinishAttack.ExecContext(ctx, args...)
	if err != nil {
		s.logger.Debug("sql", "stmt", "FinishAttack", "args", args, "duration_ms", msec(time.Since(start)), "error", err)
		return fmt.Errorf("finish attack %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish attack %d: %w", id, err)
	}
	s.logger.Debug("sql", "stmt", "FinishAttack", "args", args, "duration_ms", msec(time.Since(start)), "rows_affected", rows)
	if rows == 0 {
		return fmt.Errorf("attack %d: %w", id, store.ErrNotFound)
	}
	return nil
}

// GetAttack implements store.Store.
func (s *sqliteStore) GetAttack(ctx context.Context, id int64) (store.Attack, error) {
	start := time.Now()
	a, err := scanAttack(s.stmtGetAttack.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		s.logger.Debug("sql", "stmt", "GetAttack", "args", []any{id}, "duration_ms", msec(time.Since(start)), "rows", 0)
		return store.Attack{}, fmt.Errorf("attack %d: %w", id, store.ErrNotFound)
	}
	if err != nil {
		s.logger.Debug("sql", "stmt", "GetAttack", "args", []any{id}, "duration_ms", msec(time.Since(start)), "error", err)
		return store.Attack{}, err
	}
	s.logger.Debug("sql", "stmt", "GetAttack", "args", []any{id}, "duration_ms", msec(time.Since(start)), "rows", 1)
	return a, nil
}

// ListAttacks implements store.Store.
func (s *sqliteStore) ListAttacks(ctx context.Context, runID string) ([]store.Attack, error) {
	start := time.Now()
	rows, err := s.stmtListAttacks.QueryContext(ctx, runID)
	if err != nil {
		s.logger.Debug("sql", "stmt", "ListAttacks", "args", []any{runID}, "duration_ms", msec(time.Since(start)), "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []store.Attack
	for rows.Next() {
		a, err := scanAttack(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("sql", "stmt", "ListAttacks", "args", []any{runID}, "duration_ms", msec(time.Since(start)), "rows", len(out))
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

// attackRow holds the nullable columns of an attack row.
type attackRow struct {
	a       store.Attack
	started int64
	ended   sql.NullInt64
	outcome sql.NullString
}

func (r *attackRow) dest() []any {
	return []any{&r.a.ID, &r.a.RunID, &r.a.RequirementID, &r.a.Scenario, &r.started, &r.ended, &r.outcome, &r.a.Message, &r.a.Detail}
}

func (r *attackRow) attack() (store.Attack, error) {
	a := r.a
	a.StartedAt = fromMillis(r.started)
	if r.ended.Valid {
		t := fromMillis(r.ended.Int64)
		a.EndedAt = &t
	}
	if r.outcome.Valid {
		k, err := raspeval.ParseOutcomeKind(r.outcome.String)
		if err != nil {
			return store.Attack{}, fmt.Errorf("attack %d: %w", a.ID, err)
		}
		a.Outcome = &k
	}
	return a, nil
}

func scanAttack(sc scanner) (store.Attack, error) {
	var r attackRow
	if err := sc.Scan(r.dest()...); err != nil {
		return store.Attack{}, err
	}
	return r.attack()
}
