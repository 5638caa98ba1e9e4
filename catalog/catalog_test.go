package catalog_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/catalog"
	"github.com/frobware/go-raspeval/lock"
	"github.com/frobware/go-raspeval/store"
	"github.com/frobware/go-raspeval/store/sqlite"
)

type fakeProbes struct {
	trace, patch, write raspeval.Verdict
	detected            bool
	calls               []string
}

func (f *fakeProbes) Trace(_ context.Context, pid raspeval.PID) raspeval.Verdict {
	f.calls = append(f.calls, "trace")
	return f.trace
}

func (f *fakeProbes) Patch(_ context.Context, library, symbol string) raspeval.Verdict {
	f.calls = append(f.calls, "patch "+library+" "+symbol)
	return f.patch
}

func (f *fakeProbes) Write(_ context.Context, addr uintptr) raspeval.Verdict {
	f.calls = append(f.calls, "write")
	return f.write
}

func (f *fakeProbes) Detect(context.Context) bool {
	f.calls = append(f.calls, "detect")
	return f.detected
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withScope runs fn holding a real run lock under t.TempDir().
func withScope(t *testing.T, fn func(context.Context, lock.RunScope) error) {
	t.Helper()
	require.NoError(t, lock.Run(context.Background(), filepath.Join(t.TempDir(), ".lock"), fn))
}

func TestCases(t *testing.T) {
	cs := catalog.Cases()
	var ids []string
	for _, c := range cs {
		ids = append(ids, c.Requirement.ID)
	}
	assert.Equal(t, []string{"3", "4", "13", "55"}, ids)

	c, ok := catalog.Lookup("55")
	require.True(t, ok)
	assert.Equal(t, "Low-Level Native Call Interception", c.Requirement.Scenario)
	assert.Equal(t, "Group 6", c.Requirement.Group)

	_, ok = catalog.Lookup("99")
	assert.False(t, ok)
}

func TestSelect(t *testing.T) {
	all, err := catalog.Select(nil)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	some, err := catalog.Select([]string{"55", "3"})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "55", some[0].Requirement.ID)

	_, err = catalog.Select([]string{"3", "nope"})
	require.Error(t, err)
}

func TestOutcomeMapping(t *testing.T) {
	tests := []struct {
		name  string
		id    string
		fake  fakeProbes
		want  raspeval.OutcomeKind
		calls []string
	}{
		{"trace blocked", "3", fakeProbes{trace: raspeval.Blocked}, raspeval.OutcomePass, []string{"trace"}},
		{"trace bypassed", "3", fakeProbes{trace: raspeval.Bypassed}, raspeval.OutcomeFail, []string{"trace"}},
		{"not detected", "4", fakeProbes{}, raspeval.OutcomePass, []string{"detect"}},
		{"detected", "4", fakeProbes{detected: true}, raspeval.OutcomeFail, []string{"detect"}},
		{"write blocked", "13", fakeProbes{write: raspeval.Blocked}, raspeval.OutcomePass, []string{"write"}},
		{"write bypassed", "13", fakeProbes{write: raspeval.Bypassed}, raspeval.OutcomeFail, []string{"write"}},
		{"patch blocked", "55", fakeProbes{patch: raspeval.Blocked}, raspeval.OutcomePass, []string{"patch libc.so open"}},
		{"patch bypassed", "55", fakeProbes{patch: raspeval.Bypassed}, raspeval.OutcomeFail, []string{"patch libc.so open"}},
		{"patch unresolved", "55", fakeProbes{patch: raspeval.InvocationError}, raspeval.OutcomeError, []string{"patch libc.so open"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := catalog.Lookup(tt.id)
			require.True(t, ok)
			fake := tt.fake
			got := c.Execute(context.Background(), &fake, catalog.DefaultParams())
			assert.Equal(t, tt.want, got.Kind)
			assert.NotEmpty(t, got.Message)
			assert.Equal(t, tt.calls, fake.calls)
		})
	}
}

func TestRunner_RecordsAttacks(t *testing.T) {
	ctx := context.Background()
	st, err := sqlite.NewInMemory(ctx, discard())
	require.NoError(t, err)
	defer st.Close()

	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	fake := &fakeProbes{trace: raspeval.Blocked, patch: raspeval.Bypassed}
	r := catalog.NewRunner(fake, st, catalog.DefaultParams(), discard())
	r.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	cases, err := catalog.Select([]string{"3", "55"})
	require.NoError(t, err)

	var (
		runID   string
		results []catalog.Result
	)
	withScope(t, func(ctx context.Context, scope lock.RunScope) error {
		var err error
		runID, results, err = r.Run(ctx, scope, cases)
		return err
	})

	require.Len(t, results, 2)
	assert.Equal(t, raspeval.OutcomePass, results[0].Outcome.Kind)
	assert.Equal(t, raspeval.OutcomeFail, results[1].Outcome.Kind)

	attacks, err := st.ListAttacks(ctx, runID)
	require.NoError(t, err)
	require.Len(t, attacks, 2)
	for i, a := range attacks {
		assert.Equal(t, results[i].AttackID, a.ID)
		assert.Equal(t, results[i].Requirement.ID, a.RequirementID)
		require.NotNil(t, a.EndedAt)
		assert.True(t, a.EndedAt.After(a.StartedAt))
		require.NotNil(t, a.Outcome)
		assert.Equal(t, results[i].Outcome.Kind, *a.Outcome)
	}
}

func TestRunner_RequiresLock(t *testing.T) {
	r := catalog.NewRunner(&fakeProbes{}, nil, catalog.DefaultParams(), nil)
	_, _, err := r.Run(context.Background(), nil, catalog.Cases())
	require.Error(t, err)
}

func TestRunner_WithoutStore(t *testing.T) {
	fake := &fakeProbes{detected: true}
	r := catalog.NewRunner(fake, nil, catalog.DefaultParams(), nil)
	withScope(t, func(ctx context.Context, scope lock.RunScope) error {
		_, results, err := r.Run(ctx, scope, catalog.Cases())
		require.NoError(t, err)
		require.Len(t, results, 4)
		assert.Zero(t, results[0].AttackID)
		return nil
	})
	assert.Equal(t, []string{"trace", "detect", "write", "patch libc.so open"}, fake.calls)
}

type failingStore struct {
	store.Store
}

func (failingStore) StartAttack(context.Context, string, string, string, time.Time) (int64, error) {
	return 0, assert.AnError
}

func TestRunner_RecordingFailureAborts(t *testing.T) {
	fake := &fakeProbes{}
	r := catalog.NewRunner(fake, failingStore{}, catalog.DefaultParams(), nil)
	withScope(t, func(ctx context.Context, scope lock.RunScope) error {
		_, results, err := r.Run(ctx, scope, catalog.Cases())
		require.ErrorIs(t, err, assert.AnError)
		assert.Empty(t, results)
		return nil
	})
	assert.Empty(t, fake.calls, "no attack without a recorded start")
}

func TestRunner_Cancelled(t *testing.T) {
	fake := &fakeProbes{}
	r := catalog.NewRunner(fake, nil, catalog.DefaultParams(), nil)
	withScope(t, func(ctx context.Context, scope lock.RunScope) error {
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := r.Run(ctx, scope, catalog.Cases())
		require.ErrorIs(t, err, context.Canceled)
		return nil
	})
	assert.Empty(t, fake.calls)
}
