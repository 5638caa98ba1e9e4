// Package sqlite stores attacks and threats in SQLite through the
// pure-Go modernc.org/sqlite driver.
//
// Every query is a prepared statement compiled when the store opens.
// Methods run in autocommit mode unless called on the store handed to
// a RunInTransaction callback, in which case they use handles bound to
// that transaction.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/frobware/go-raspeval/store"
)

const driverName = "sqlite"

//go:embed schema.sql
var schemaSQL string

// msec formats a duration as milliseconds with 3 decimal places.
func msec(d time.Duration) string {
	return fmt.Sprintf("%.3f", float64(d.Microseconds())/1000)
}

// dsn appends each pragma to path as _pragma=key(value).
func dsn(path string, pragmas [][2]string) string {
	var b strings.Builder
	b.WriteString(path)
	for i, p := range pragmas {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "_pragma=%s(%s)", p[0], p[1])
	}
	return b.String()
}

type sqliteStore struct {
	db     *sql.DB
	logger *slog.Logger
	window time.Duration

	stmtStartAttack  *sql.Stmt
	stmtFinishAttack *sql.Stmt
	stmtGetAttack    *sql.Stmt
	stmtListAttacks  *sql.Stmt
	stmtSaveThreat   *sql.Stmt
	stmtListThreats  *sql.Stmt
	stmtCorrelate    *sql.Stmt
	stmtGapCount     *sql.Stmt
}

var _ store.Store = (*sqliteStore)(nil)

// New opens, creating if needed, the store at dbPath.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "db", dbPath)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(driverName, dsn(dbPath, [][2]string{{"journal_mode", "WAL"}, {"busy_timeout", "5000"}}))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s, err := open(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("opened database", "path", dbPath)
	return s, nil
}

// NewInMemory creates an in-memory store for testing.
func NewInMemory(ctx context.Context, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "db", ":memory:")

	db, err := sql.Open(driverName, ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	s, err := open(ctx, db, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("opened in-memory database")
	return s, nil
}

func open(ctx context.Context, db *sql.DB, logger *slog.Logger) (*sqliteStore, error) {
	s := &sqliteStore{db: db, logger: logger, window: store.CorrelationWindow}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := s.prepareStatements(ctx); err != nil {
		s.closeStatements()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return s, nil
}

// Close closes all prepared statements and the database connection.
func (s *sqliteStore) Close() error {
	s.closeStatements()
	return s.db.Close()
}

func (s *sqliteStore) statements() []**sql.Stmt {
	return []**sql.Stmt{
		&s.stmtStartAttack,
		&s.stmtFinishAttack,
		&s.stmtGetAttack,
		&s.stmtListAttacks,
		&s.stmtSaveThreat,
		&s.stmtListThreats,
		&s.stmtCorrelate,
		&s.stmtGapCount,
	}
}

// closeStatements ignores close errors because the database is about
// to be closed.
func (s *sqliteStore) closeStatements() {
	for _, stmt := range s.statements() {
		if *stmt != nil {
			(*stmt).Close()
		}
	}
}

// RunInTransaction runs fn against a store whose statements are bound
// to one transaction. A nil return commits; an error rolls back.
func (s *sqliteStore) RunInTransaction(ctx context.Context, fn func(store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	txStore := &sqliteStore{db: s.db, logger: s.logger, window: s.window}
	master := s.statements()
	for i, stmt := range txStore.statements() {
		*stmt = tx.StmtContext(ctx, *master[i])
	}

	if err := fn(txStore); err != nil {
		return err
	}
	return tx.Commit()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
