package ptrace

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-raspeval"
)

// SysTracer issues real ptrace(2) requests. The caller must hold the
// OS thread across Attach, Wait and Detach.
type SysTracer struct{}

var _ Tracer = SysTracer{}

// Attach implements Tracer.
func (SysTracer) Attach(pid raspeval.PID) error {
	if err := unix.PtraceAttach(int(pid)); err != nil {
		return fmt.Errorf("ptrace attach %d: %w", pid, err)
	}
	return nil
}

// Wait implements Tracer.
func (SysTracer) Wait(pid raspeval.PID) error {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(int(pid), &ws, unix.WALL, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("wait4 %d: %w", pid, err)
		}
		break
	}
	if !ws.Stopped() {
		return fmt.Errorf("process %d not stopped after attach (status %#x)", pid, uint32(ws))
	}
	return nil
}

// Detach implements Tracer.
func (SysTracer) Detach(pid raspeval.PID) error {
	if err := unix.PtraceDetach(int(pid)); err != nil {
		return fmt.Errorf("ptrace detach %d: %w", pid, err)
	}
	return nil
}
