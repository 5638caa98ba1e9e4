package trampoline_test

import (
	"context"
	"runtime"
	"runtime/debug"
	"sync"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/trampoline"
)

func addrOf(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func mapPage(t *testing.T, prot int) []byte {
	t.Helper()
	b, err := unix.Mmap(-1, 0, unix.Getpagesize(), prot, unix.MAP_PRIVATE|unix.MAP_ANON)
	require.NoError(t, err)
	t.Cleanup(func() { _ = unix.Munmap(b) })
	return b
}

func TestAttempt_OwnedBufferIsBypassed(t *testing.T) {
	buf := make([]byte, 16)
	p := trampoline.New(nil)

	assert.Equal(t, raspeval.Bypassed, p.Attempt(context.Background(), addrOf(buf[3:])))
	assert.Equal(t, trampoline.DefaultSentinel, buf[3])
	assert.Zero(t, buf[2])
	runtime.KeepAlive(buf)
}

func TestAttempt_CustomSentinel(t *testing.T) {
	page := mapPage(t, unix.PROT_READ|unix.PROT_WRITE)
	p := trampoline.New(nil, trampoline.WithSentinel(0xcc))

	assert.Equal(t, raspeval.Bypassed, p.Attempt(context.Background(), addrOf(page)))
	assert.Equal(t, byte(0xcc), page[0])
}

func TestAttempt_FaultsAreBlocked(t *testing.T) {
	readOnly := mapPage(t, unix.PROT_READ)

	unmapped, err := unix.Mmap(-1, 0, unix.Getpagesize(), unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_ANON)
	require.NoError(t, err)
	unmappedAddr := addrOf(unmapped)
	require.NoError(t, unix.Munmap(unmapped))

	tests := []struct {
		name string
		addr uintptr
	}{
		{"null", 0},
		{"low page", 0x10},
		{"read-only", addrOf(readOnly)},
		{"unmapped", unmappedAddr},
	}
	p := trampoline.New(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, raspeval.Blocked, p.Attempt(context.Background(), tt.addr))

			// The process survives and the next call still works.
			buf := make([]byte, 1)
			assert.Equal(t, raspeval.Bypassed, p.Attempt(context.Background(), addrOf(buf)))
			assert.Equal(t, trampoline.DefaultSentinel, buf[0])
		})
	}
	assert.Zero(t, readOnly[0], "read-only page untouched")
}

func TestAttempt_Transitions(t *testing.T) {
	var states []trampoline.State
	p := trampoline.New(nil, trampoline.WithTransitionHook(func(s trampoline.State) {
		states = append(states, s)
	}))

	p.Attempt(context.Background(), 0)
	assert.Equal(t, []trampoline.State{trampoline.Armed, trampoline.Faulted, trampoline.Completed}, states)

	states = nil
	buf := make([]byte, 1)
	p.Attempt(context.Background(), addrOf(buf))
	assert.Equal(t, []trampoline.State{trampoline.Armed, trampoline.Completed}, states)
}

func TestAttempt_RestoresPanicOnFault(t *testing.T) {
	p := trampoline.New(nil)
	for _, prior := range []bool{false, true} {
		debug.SetPanicOnFault(prior)
		p.Attempt(context.Background(), 0)
		assert.Equal(t, prior, debug.SetPanicOnFault(false), "after fault")

		debug.SetPanicOnFault(prior)
		buf := make([]byte, 1)
		p.Attempt(context.Background(), addrOf(buf))
		assert.Equal(t, prior, debug.SetPanicOnFault(false), "after write")
	}
}

func TestAttempt_Concurrent(t *testing.T) {
	readOnly := mapPage(t, unix.PROT_READ)
	p := trampoline.New(nil)

	const workers = 8
	var wg sync.WaitGroup
	results := make([][2]raspeval.Verdict, workers)
	bufs := make([][]byte, workers)
	for i := range workers {
		bufs[i] = make([]byte, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				results[i][0] = p.Attempt(context.Background(), addrOf(readOnly))
				results[i][1] = p.Attempt(context.Background(), addrOf(bufs[i]))
			}
		}()
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, raspeval.Blocked, r[0], "worker %d", i)
		assert.Equal(t, raspeval.Bypassed, r[1], "worker %d", i)
		assert.Equal(t, trampoline.DefaultSentinel, bufs[i][0])
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "armed", trampoline.Armed.String())
	assert.Equal(t, "faulted", trampoline.Faulted.String())
	assert.Equal(t, "completed", trampoline.Completed.String())
	assert.Equal(t, "State(9)", trampoline.State(9).String())
}
