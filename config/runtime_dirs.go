package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultRuntimeBase is the runtime root on the device. The shell user
// can write here without root.
const DefaultRuntimeBase = "/data/local/tmp/raspeval"

// RuntimeDirs holds the runtime paths used by raspeval:
//
//	{base}/                 - runtime root
//	{base}/db/              - database directory
//	{base}/db/raspeval.db   - attack and threat store
//	{base}/.lock            - evaluation run lock
//
// RuntimeDirs is immutable after construction. Use NewRuntimeDirs to create.
type RuntimeDirs struct {
	base string
	db   string
	lock string
}

// DefaultRuntimeDirs returns RuntimeDirs rooted at DefaultRuntimeBase.
func DefaultRuntimeDirs() RuntimeDirs {
	dirs, err := NewRuntimeDirs(DefaultRuntimeBase)
	if err != nil {
		panic(fmt.Sprintf("DefaultRuntimeDirs: %v", err))
	}
	return dirs
}

// NewRuntimeDirs creates RuntimeDirs rooted at base, which must be an
// absolute path.
func NewRuntimeDirs(base string) (RuntimeDirs, error) {
	if base == "" {
		return RuntimeDirs{}, fmt.Errorf("base path cannot be empty")
	}
	if !filepath.IsAbs(base) {
		return RuntimeDirs{}, fmt.Errorf("base path must be absolute, got %q", base)
	}
	base = filepath.Clean(base)
	return RuntimeDirs{
		base: base,
		db:   filepath.Join(base, "db"),
		lock: filepath.Join(base, ".lock"),
	}, nil
}

// Base returns the runtime root.
func (d RuntimeDirs) Base() string { return d.base }

// DB returns the database directory.
func (d RuntimeDirs) DB() string { return d.db }

// Lock returns the evaluation run lock file.
func (d RuntimeDirs) Lock() string { return d.lock }

// DBPath returns the SQLite database file.
func (d RuntimeDirs) DBPath() string {
	return filepath.Join(d.db, "raspeval.db")
}

// EnsureDirectories creates the runtime root and database directory.
func (d RuntimeDirs) EnsureDirectories() error {
	for _, dir := range []string{d.base, d.db} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
