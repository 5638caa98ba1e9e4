package raspeval

import "fmt"

// ErrLibraryNotFound is returned when a library selector matches no
// image loaded in the process.
type ErrLibraryNotFound struct {
	Library string
}

func (e ErrLibraryNotFound) Error() string {
	if e.Library == ExecutableSelector {
		return "unable to find target executable"
	}
	return fmt.Sprintf("unable to find library %s", e.Library)
}

// ErrSymbolNotFound is returned when a symbol is absent from an image's
// dynamic relocation set.
type ErrSymbolNotFound struct {
	Library string
	Symbol  string
}

func (e ErrSymbolNotFound) Error() string {
	return fmt.Sprintf("unable to find symbol %s in %s", e.Symbol, e.Library)
}

// ErrRestoreFailed is returned when a protection change succeeded but
// could not be reverted, which may leave the process with a
// non-standard protection state.
type ErrRestoreFailed struct {
	Region  ProtectedRegion
	Restore Protection
	Err     error
}

func (e ErrRestoreFailed) Error() string {
	return fmt.Sprintf("restore %s to %s failed: %v", e.Region, e.Restore, e.Err)
}

func (e ErrRestoreFailed) Unwrap() error {
	return e.Err
}
