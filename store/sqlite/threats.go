package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/store"
)

// SaveThreat implements store.Store.
func (s *sqliteStore) SaveThreat(ctx context.Context, threat raspeval.Threat, receivedAt time.Time) (int64, error) {
	if err := threat.Validate(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(threat)
	if err != nil {
		return 0, fmt.Errorf("encode threat %d: %w", threat.ID, err)
	}

	start := time.Now()
	args := []any{string(data), toMillis(receivedAt)}
	res, err := s.stmtSaveThreat.ExecContext(ctx, args...)
	if err != nil {
		s.logger.Debug("sql", "stmt", "SaveThreat", "args", args, "duration_ms", msec(time.Since(start)), "error", err)
		return 0, fmt.Errorf("save threat %d: %w", threat.ID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("save threat %d: %w", threat.ID, err)
	}
	s.logger.Debug("sql", "stmt", "SaveThreat", "args", args, "duration_ms", msec(time.Since(start)), "id", id)
	return id, nil
}

// ListThreats implements store.Store.
func (s *sqliteStore) ListThreats(ctx context.Context) ([]store.ThreatRecord, error) {
	start := time.Now()
	rows, err := s.stmtListThreats.QueryContext(ctx)
	if err != nil {
		s.logger.Debug("sql", "stmt", "ListThreats", "duration_ms", msec(time.Since(start)), "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []store.ThreatRecord
	for rows.Next() {
		var (
			id       int64
			data     string
			received int64
		)
		if err := rows.Scan(&id, &data, &received); err != nil {
			return nil, err
		}
		rec, err := threatRecord(id, data, received)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("sql", "stmt", "ListThreats", "duration_ms", msec(time.Since(start)), "rows", len(out))
	return out, nil
}

// Correlate implements store.Store.
func (s *sqliteStore) Correlate(ctx context.Context) ([]store.Correlation, error) {
	start := time.Now()
	window := s.window.Milliseconds()
	rows, err := s.stmtCorrelate.QueryContext(ctx, window)
	if err != nil {
		s.logger.Debug("sql", "stmt", "Correlate", "args", []any{window}, "duration_ms", msec(time.Since(start)), "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []store.Correlation
	for rows.Next() {
		var (
			r        attackRow
			id       sql.NullInt64
			data     sql.NullString
			received sql.NullInt64
		)
		if err := rows.Scan(append(r.dest(), &id, &data, &received)...); err != nil {
			return nil, err
		}
		a, err := r.attack()
		if err != nil {
			return nil, err
		}
		c := store.Correlation{Attack: a}
		if id.Valid {
			rec, err := threatRecord(id.Int64, data.String, received.Int64)
			if err != nil {
				return nil, err
			}
			c.Threat = &rec
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	s.logger.Debug("sql", "stmt", "Correlate", "args", []any{window}, "duration_ms", msec(time.Since(start)), "rows", len(out))
	return out, nil
}

// GapCount implements store.Store.
func (s *sqliteStore) GapCount(ctx context.Context) (int, error) {
	start := time.Now()
	window := s.window.Milliseconds()
	var n int
	if err := s.stmtGapCount.QueryRowContext(ctx, window).Scan(&n); err != nil {
		s.logger.Debug("sql", "stmt", "GapCount", "args", []any{window}, "duration_ms", msec(time.Since(start)), "error", err)
		return 0, err
	}
	s.logger.Debug("sql", "stmt", "GapCount", "args", []any{window}, "duration_ms", msec(time.Since(start)), "count", n)
	return n, nil
}

func threatRecord(id int64, data string, received int64) (store.ThreatRecord, error) {
	t, err := raspeval.ParseThreat([]byte(data))
	if err != nil {
		return store.ThreatRecord{}, fmt.Errorf("threat %d: %w", id, err)
	}
	return store.ThreatRecord{ID: id, Threat: t, ReceivedAt: fromMillis(received)}, nil
}
