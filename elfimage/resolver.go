package elfimage

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"

	"github.com/frobware/go-raspeval"
	"github.com/frobware/go-raspeval/vmmap"
)

// LoadedImage is an ELF image found in a process's address space.
type LoadedImage struct {
	// Library is the selector the image was resolved from.
	Library string
	// Path is the file the image was mapped from.
	Path string
	// Base is the load bias to add to relocation offsets.
	Base uintptr
}

// Resolver turns a library selector into a loaded image and a symbol
// name into the offset of its linkage-table slot.
type Resolver interface {
	Resolve(target raspeval.LibraryTarget) (LoadedImage, error)
	FindSymbol(img LoadedImage, symbol string) (uint64, error)
}

// ProcResolver resolves images from a process's maps file and reads
// relocations from the mapped files.
type ProcResolver struct {
	procRoot   string
	pid        int
	executable func() (string, error)
}

var _ Resolver = (*ProcResolver)(nil)

// Option configures a ProcResolver.
type Option func(*ProcResolver)

// WithProcRoot reads mappings from an alternative proc mount.
func WithProcRoot(root string) Option {
	return func(r *ProcResolver) { r.procRoot = root }
}

// WithPID resolves images in another process.
func WithPID(pid int) Option {
	return func(r *ProcResolver) { r.pid = pid }
}

// WithExecutable overrides how the running executable's path is found.
func WithExecutable(fn func() (string, error)) Option {
	return func(r *ProcResolver) { r.executable = fn }
}

// NewProcResolver returns a resolver for the current process.
func NewProcResolver(opts ...Option) *ProcResolver {
	r := &ProcResolver{
		procRoot:   vmmap.DefaultProcRoot,
		pid:        os.Getpid(),
		executable: executablePath,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func executablePath() (string, error) {
	p, err := os.Executable()
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(p)
}

// Resolve implements Resolver. Mappings are read afresh on each call.
func (r *ProcResolver) Resolve(target raspeval.LibraryTarget) (LoadedImage, error) {
	notFound := raspeval.ErrLibraryNotFound{Library: target.Name}

	maps, err := vmmap.Read(r.procRoot, r.pid)
	if err != nil {
		return LoadedImage{}, fmt.Errorf("%w: %v", notFound, err)
	}

	var (
		img vmmap.Image
		ok  bool
	)
	if target.IsExecutable() {
		path, err := r.executable()
		if err != nil {
			return LoadedImage{}, fmt.Errorf("%w: %v", notFound, err)
		}
		img, ok = maps.FindByPath(path)
	} else {
		img, ok = maps.FindByName(target.Name)
	}
	if !ok {
		return LoadedImage{}, notFound
	}

	f, err := elf.Open(img.Path)
	if err != nil {
		return LoadedImage{}, fmt.Errorf("%w: open image %s: %v", notFound, img.Path, err)
	}
	defer f.Close()

	base, err := LoadBias(img.Start, img.Offset, f.Progs)
	if err != nil {
		return LoadedImage{}, fmt.Errorf("image %s: %w", img.Path, err)
	}
	return LoadedImage{Library: target.Name, Path: img.Path, Base: base}, nil
}

// FindSymbol implements Resolver.
func (r *ProcResolver) FindSymbol(img LoadedImage, symbol string) (uint64, error) {
	f, err := elf.Open(img.Path)
	if err != nil {
		return 0, fmt.Errorf("open image %s: %w", img.Path, err)
	}
	defer f.Close()

	rel, ok, err := FindRelocation(f, symbol)
	if err != nil {
		return 0, fmt.Errorf("image %s: %w", img.Path, err)
	}
	if !ok {
		return 0, raspeval.ErrSymbolNotFound{Library: img.Library, Symbol: symbol}
	}
	return rel.Offset, nil
}
