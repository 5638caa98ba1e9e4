// Package vmmap reads a process's memory mappings from the proc
// filesystem and answers the questions the probes ask of them: which
// mapping holds an address, what protection it has, and where a named
// image is loaded.
package vmmap

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/prometheus/procfs"

	"github.com/frobware/go-raspeval"
)

// DefaultProcRoot is the mount point of the proc filesystem.
const DefaultProcRoot = procfs.DefaultMountPoint

// Mappings is a snapshot of a process's memory mappings, ordered by
// start address.
type Mappings []*procfs.ProcMap

// Read snapshots the mappings of pid under procRoot.
func Read(procRoot string, pid int) (Mappings, error) {
	fs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, fmt.Errorf("open proc filesystem %s: %w", procRoot, err)
	}
	proc, err := fs.Proc(pid)
	if err != nil {
		return nil, fmt.Errorf("open process %d: %w", pid, err)
	}
	maps, err := proc.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("read maps of process %d: %w", pid, err)
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].StartAddr < maps[j].StartAddr })
	return Mappings(maps), nil
}

// Containing returns the mapping that holds addr.
func (m Mappings) Containing(addr uintptr) (*procfs.ProcMap, bool) {
	i := sort.Search(len(m), func(i int) bool { return m[i].EndAddr > addr })
	if i < len(m) && m[i].StartAddr <= addr {
		return m[i], true
	}
	return nil, false
}

// ProtectionAt returns the protection of the mapping that holds addr.
func (m Mappings) ProtectionAt(addr uintptr) (raspeval.Protection, error) {
	pm, ok := m.Containing(addr)
	if !ok {
		return raspeval.ProtNone, fmt.Errorf("address %#x is not mapped", addr)
	}
	return Protection(pm.Perms), nil
}

// Protection converts procfs permissions to a raspeval.Protection.
func Protection(perms *procfs.ProcMapPermissions) raspeval.Protection {
	if perms == nil {
		return raspeval.ProtNone
	}
	var p raspeval.Protection
	if perms.Read {
		p |= raspeval.ProtRead
	}
	if perms.Write {
		p |= raspeval.ProtWrite
	}
	if perms.Execute {
		p |= raspeval.ProtExec
	}
	return p
}

// Image is a file-backed image found in the mappings.
type Image struct {
	// Path is the pathname recorded in the maps file.
	Path string
	// Start is the lowest mapped address of the image.
	Start uintptr
	// Offset is the file offset of the mapping at Start.
	Offset uintptr
}

// FindByPath returns the image mapped from exactly path.
func (m Mappings) FindByPath(path string) (Image, bool) {
	for _, pm := range m {
		if pm.Pathname == path {
			return Image{Path: pm.Pathname, Start: pm.StartAddr, Offset: uintptr(pm.Offset)}, true
		}
	}
	return Image{}, false
}

// deletedSuffix marks a mapping whose backing file has been unlinked.
const deletedSuffix = " (deleted)"

// FindByName returns the image whose file name best matches name. An
// exact file name match wins over a prefix match, which wins over a
// substring match; ties go to the lowest address. Images whose file
// was deleted cannot be opened and are skipped.
func (m Mappings) FindByName(name string) (Image, bool) {
	if name == "" {
		return Image{}, false
	}

	best, bestScore := -1, 0
	for i, pm := range m {
		if !strings.HasPrefix(pm.Pathname, "/") || strings.HasSuffix(pm.Pathname, deletedSuffix) {
			continue
		}
		score := nameScore(filepath.Base(pm.Pathname), name)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return Image{}, false
	}
	return m.FindByPath(m[best].Pathname)
}

func nameScore(base, name string) int {
	switch {
	case base == name:
		return 3
	case strings.HasPrefix(base, name):
		return 2
	case strings.Contains(base, name):
		return 1
	default:
		return 0
	}
}
