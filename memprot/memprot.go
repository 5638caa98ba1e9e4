// Package memprot changes and inspects page protections of the
// current process.
package memprot

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/vmmap"
)

// Protector changes the protection of a page-aligned region.
type Protector interface {
	SetProtection(region raspeval.ProtectedRegion, prot raspeval.Protection) error
}

// Inspector reports the protection currently in effect at an
// address.
type Inspector interface {
	ProtectionAt(addr uintptr) (raspeval.Protection, error)
}

// PageSize returns the system page size.
func PageSize() uintptr {
	return uintptr(unix.Getpagesize())
}

// Mprotect applies protections with mprotect(2) and reads them back
// from the proc filesystem.
type Mprotect struct {
	// ProcRoot is where the proc filesystem is mounted. Empty means
	// vmmap.DefaultProcRoot.
	ProcRoot string
}

var _ Protector = Mprotect{}
var _ Inspector = Mprotect{}

// SetProtection implements Protector.
func (Mprotect) SetProtection(region raspeval.ProtectedRegion, prot raspeval.Protection) error {
	if region.Size == 0 {
		return fmt.Errorf("mprotect %s: empty region", region)
	}
	_, _, errno := unix.Syscall(unix.SYS_MPROTECT, region.Start, region.Size, uintptr(toSys(prot)))
	if errno != 0 {
		return fmt.Errorf("mprotect %s %s: %w", region, prot, errno)
	}
	return nil
}

// ProtectionAt implements Inspector.
func (m Mprotect) ProtectionAt(addr uintptr) (raspeval.Protection, error) {
	root := m.ProcRoot
	if root == "" {
		root = vmmap.DefaultProcRoot
	}
	maps, err := vmmap.Read(root, os.Getpid())
	if err != nil {
		return raspeval.ProtNone, err
	}
	return maps.ProtectionAt(addr)
}

func toSys(p raspeval.Protection) int {
	prot := unix.PROT_NONE
	if p&raspeval.ProtRead != 0 {
		prot |= unix.PROT_READ
	}
	if p&raspeval.ProtWrite != 0 {
		prot |= unix.PROT_WRITE
	}
	if p&raspeval.ProtExec != 0 {
		prot |= unix.PROT_EXEC
	}
	return prot
}
