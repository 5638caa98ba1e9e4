package raspeval

import (
	"fmt"
	"strings"
)

// ExecutableSelector is the library name that selects the running
// executable instead of a shared library.
const ExecutableSelector = "executable"

// PID identifies a target process. It is supplied per call and never
// retained.
type PID int

// LibraryTarget selects either the running executable or a loaded
// shared library by name. It is resolved afresh on every probe
// invocation.
type LibraryTarget struct {
	Name string
}

// ParseLibraryTarget builds a LibraryTarget from a host-supplied name.
// The name is trimmed; ExecutableSelector (case-insensitive) selects
// the running executable.
func ParseLibraryTarget(name string) (LibraryTarget, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return LibraryTarget{}, fmt.Errorf("library name cannot be empty")
	}
	if strings.EqualFold(name, ExecutableSelector) {
		name = ExecutableSelector
	}
	return LibraryTarget{Name: name}, nil
}

// IsExecutable reports whether the target denotes the running image.
func (t LibraryTarget) IsExecutable() bool {
	return t.Name == ExecutableSelector
}

func (t LibraryTarget) String() string {
	return t.Name
}

// SymbolLocation is a resolved linkage-table slot for a dynamic symbol.
// It is only valid for the duration of one probe call.
type SymbolLocation struct {
	// Library is the selector the location was resolved from.
	Library string
	// Path is the on-disk path of the resolved image.
	Path string
	// Symbol is the dynamic symbol name.
	Symbol string
	// Base is the load address of the image.
	Base uintptr
	// Offset is the relocation offset of the symbol's slot.
	Offset uint64
}

// SlotAddr returns the absolute address of the linkage-table slot.
func (l SymbolLocation) SlotAddr() uintptr {
	return l.Base + uintptr(l.Offset)
}

// Protection is a set of page access permissions. The bit values match
// PROT_READ, PROT_WRITE and PROT_EXEC.
type Protection int

const (
	ProtNone  Protection = 0
	ProtRead  Protection = 0x1
	ProtWrite Protection = 0x2
	ProtExec  Protection = 0x4
)

// String renders the protection the way the maps file does, e.g. "r-x".
func (p Protection) String() string {
	b := []byte("---")
	if p&ProtRead != 0 {
		b[0] = 'r'
	}
	if p&ProtWrite != 0 {
		b[1] = 'w'
	}
	if p&ProtExec != 0 {
		b[2] = 'x'
	}
	return string(b)
}

// ProtectedRegion is a page-aligned memory range whose protection is
// the object of mutation.
type ProtectedRegion struct {
	Start uintptr
	Size  uintptr
}

// RegionFor returns the page of the given size that contains addr.
func RegionFor(addr, pageSize uintptr) ProtectedRegion {
	return ProtectedRegion{
		Start: addr &^ (pageSize - 1),
		Size:  pageSize,
	}
}

// End returns the first address past the region.
func (r ProtectedRegion) End() uintptr {
	return r.Start + r.Size
}

// Contains reports whether addr lies inside the region.
func (r ProtectedRegion) Contains(addr uintptr) bool {
	return addr >= r.Start && addr < r.End()
}

func (r ProtectedRegion) String() string {
	return fmt.Sprintf("%#x-%#x", r.Start, r.End())
}
