// Package lock provides a cross-process evaluation-run lock using
// flock(2), so two raspeval processes never interleave catalog runs
// against the same store.
//
// Callers never hold the lock directly. They call Run and receive a
// RunScope, a non-forgeable token proving the lock is held; operations
// that record into the store require that token.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// RunScope represents the region in which the evaluation-run lock is
// held. It can only be obtained inside Run.
type RunScope interface {
	// FD returns the raw lock file descriptor (for logging/diagnostics).
	FD() int

	// Path returns the lock file path.
	Path() string

	runScopeMarker()
}

type runScope struct {
	f *os.File
}

func (*runScope) runScopeMarker() {}

func (s *runScope) FD() int {
	return int(s.f.Fd())
}

func (s *runScope) Path() string {
	return s.f.Name()
}

// Run acquires the lock at lockPath, executes fn, then releases it.
// Acquisition uses LOCK_EX|LOCK_NB with exponential backoff and
// respects ctx cancellation.
func Run(ctx context.Context, lockPath string, fn func(context.Context, RunScope) error) error {
	f, err := acquire(ctx, lockPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return fn(ctx, &runScope{f: f})
}

func acquire(ctx context.Context, path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	backoff := 25 * time.Millisecond
	const maxBackoff = 500 * time.Millisecond

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			f.Close()
			return nil, fmt.Errorf("flock: %w", err)
		}

		select {
		case <-ctx.Done():
			f.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}

		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
