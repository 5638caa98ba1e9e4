package cli

import (
	"fmt"
	"path/filepath"

	"github.com/frobware/go-raspeval/config"
)

// Address is a memory address given in decimal or 0x-prefixed hex.
// Set distinguishes an explicit zero from an absent flag.
type Address struct {
	Value uintptr
	Set   bool
}

// ParseAddress parses an Address.
func ParseAddress(s string) (Address, error) {
	v, err := config.ParseAddress(s)
	if err != nil {
		return Address{}, err
	}
	if uint64(uintptr(v)) != v {
		return Address{}, fmt.Errorf("address %q does not fit in a pointer", s)
	}
	return Address{Value: uintptr(v), Set: true}, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", a.Value)
}

// DBPath is a validated database path.
type DBPath struct {
	Path string
}

// ParseDBPath cleans and validates a database path.
func ParseDBPath(s string) (DBPath, error) {
	if s == "" {
		return DBPath{}, fmt.Errorf("database path cannot be empty")
	}
	if filepath.Base(s) == "." || s[len(s)-1] == filepath.Separator {
		return DBPath{}, fmt.Errorf("database path %q names a directory", s)
	}
	return DBPath{Path: filepath.Clean(s)}, nil
}
