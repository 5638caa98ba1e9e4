package sqlite_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/store"
	"github.com/frobware/go-raspeval/store/sqlite"
)

// testLogger returns a logger for tests. By default it discards all output.
// Set RASPEVAL_TEST_VERBOSE=1 to enable logging.
func testLogger() *slog.Logger {
	if os.Getenv("RASPEVAL_TEST_VERBOSE") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.NewInMemory(context.Background(), testLogger())
	require.NoError(t, err, "failed to create store")
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func threat(id int, name string) raspeval.Threat {
	return raspeval.Threat{ID: id, Name: name, Severity: "high"}
}

func TestAttackLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.StartAttack(ctx, "run-1", "55", "Low-Level Native Call Interception", t0)
	require.NoError(t, err)

	a, err := s.GetAttack(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "run-1", a.RunID)
	assert.Equal(t, "55", a.RequirementID)
	assert.True(t, t0.Equal(a.StartedAt))
	assert.Nil(t, a.EndedAt)
	assert.Nil(t, a.Outcome)

	require.NoError(t, s.FinishAttack(ctx, id, t0.Add(250*time.Millisecond), raspeval.Fail("bypassed", "slot page made writable")))

	a, err = s.GetAttack(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, a.EndedAt)
	assert.True(t, t0.Add(250*time.Millisecond).Equal(*a.EndedAt))
	require.NotNil(t, a.Outcome)
	assert.Equal(t, raspeval.OutcomeFail, *a.Outcome)
	assert.Equal(t, "bypassed", a.Message)
	assert.Equal(t, "slot page made writable", a.Detail)
}

func TestAttack_NotFound(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.GetAttack(ctx, 42)
	require.ErrorIs(t, err, store.ErrNotFound)

	err = s.FinishAttack(ctx, 42, t0, raspeval.Pass("blocked"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFinishAttack_RejectsEndBeforeStart(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.StartAttack(ctx, "run-1", "3", "Zygote/Ptrace Root Detection", t0)
	require.NoError(t, err)
	require.Error(t, s.FinishAttack(ctx, id, t0.Add(-time.Second), raspeval.Pass("blocked")))
}

func TestListAttacks_FilterByRun(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	for i, run := range []string{"a", "b", "a"} {
		_, err := s.StartAttack(ctx, run, "4", "Frida/Xposed Hook Trace", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	all, err := s.ListAttacks(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	a, err := s.ListAttacks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, a, 2)
	assert.True(t, a[0].StartedAt.Before(a[1].StartedAt))

	none, err := s.ListAttacks(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSaveThreat(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	details := "frida-agent-64.so mapped"
	th := raspeval.Threat{ID: 9, Name: "hook", Severity: "critical", Details: &details}
	_, err := s.SaveThreat(ctx, th, t0)
	require.NoError(t, err)

	_, err = s.SaveThreat(ctx, raspeval.Threat{ID: 1, Severity: "low"}, t0)
	require.Error(t, err, "nameless threat rejected")

	list, err := s.ListThreats(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, th, list[0].Threat)
	assert.True(t, t0.Equal(list[0].ReceivedAt))
}

func TestCorrelate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	// Finished attack with one threat inside and one after its window.
	finished, err := s.StartAttack(ctx, "run", "13", "Runtime Code Injection Halt", t0)
	require.NoError(t, err)
	require.NoError(t, s.FinishAttack(ctx, finished, t0.Add(2*time.Second), raspeval.Pass("blocked")))

	// Unfinished attack: window is started_at + 60s.
	open, err := s.StartAttack(ctx, "run", "3", "Zygote/Ptrace Root Detection", t0.Add(10*time.Minute))
	require.NoError(t, err)

	// Attack with nothing reported.
	gap, err := s.StartAttack(ctx, "run", "55", "Low-Level Native Call Interception", t0.Add(20*time.Minute))
	require.NoError(t, err)
	require.NoError(t, s.FinishAttack(ctx, gap, t0.Add(20*time.Minute+time.Second), raspeval.Fail("bypassed", "")))

	for _, tc := range []struct {
		th raspeval.Threat
		at time.Time
	}{
		{threat(1, "tamper"), t0.Add(time.Second)},
		{threat(2, "late"), t0.Add(3 * time.Second)},
		{threat(3, "debugger"), t0.Add(10*time.Minute + 59*time.Second)},
		{threat(4, "too-late"), t0.Add(10*time.Minute + 61*time.Second)},
	} {
		_, err := s.SaveThreat(ctx, tc.th, tc.at)
		require.NoError(t, err)
	}

	got, err := s.Correlate(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, finished, got[0].Attack.ID)
	require.NotNil(t, got[0].Threat)
	assert.Equal(t, "tamper", got[0].Threat.Threat.Name)

	assert.Equal(t, open, got[1].Attack.ID)
	require.NotNil(t, got[1].Threat)
	assert.Equal(t, "debugger", got[1].Threat.Threat.Name)

	assert.Equal(t, gap, got[2].Attack.ID)
	assert.Nil(t, got[2].Threat)

	n, err := s.GapCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCorrelate_ManyThreatsPerAttack(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	id, err := s.StartAttack(ctx, "run", "4", "Frida/Xposed Hook Trace", t0)
	require.NoError(t, err)
	for i := range 3 {
		_, err := s.SaveThreat(ctx, threat(i, "hook"), t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	got, err := s.Correlate(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, c := range got {
		assert.Equal(t, id, c.Attack.ID)
		assert.NotNil(t, c.Threat)
	}

	n, err := s.GapCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRunInTransaction(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		if _, err := tx.StartAttack(ctx, "rolled-back", "3", "x", t0); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	var id int64
	require.NoError(t, s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		id, err = tx.StartAttack(ctx, "committed", "3", "x", t0)
		if err != nil {
			return err
		}
		return tx.FinishAttack(ctx, id, t0, raspeval.Pass("blocked"))
	}))

	all, err := s.ListAttacks(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "committed", all[0].RunID)
	assert.Equal(t, id, all[0].ID)
}

func TestNew_OnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "db", "raspeval.db")

	s, err := sqlite.New(ctx, path, testLogger())
	require.NoError(t, err)
	_, err = s.StartAttack(ctx, "run", "3", "x", t0)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = sqlite.New(ctx, path, testLogger())
	require.NoError(t, err)
	defer s.Close()
	all, err := s.ListAttacks(ctx, "run")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
