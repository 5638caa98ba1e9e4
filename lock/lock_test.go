package lock_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frobware/go-raspeval/lock"
)

func TestRun_ProvidesScope(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	var seen lock.RunScope
	err := lock.Run(context.Background(), path, func(ctx context.Context, scope lock.RunScope) error {
		seen = scope
		assert.Greater(t, scope.FD(), 0)
		assert.Equal(t, path, scope.Path())
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, seen)
}

func TestRun_PropagatesError(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")
	want := errors.New("run failed")

	err := lock.Run(context.Background(), path, func(context.Context, lock.RunScope) error {
		return want
	})
	require.ErrorIs(t, err, want)
}

func TestRun_ContendedLockHonoursCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".lock")

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- lock.Run(context.Background(), path, func(context.Context, lock.RunScope) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := lock.Run(ctx, path, func(context.Context, lock.RunScope) error {
		t.Fatal("second run must not acquire the lock")
		return nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, <-done)

	require.NoError(t, lock.Run(context.Background(), path, func(context.Context, lock.RunScope) error {
		return nil
	}), "lock is reacquirable after release")
}
