package patcher

import "os"

// dependencies defines the OS interactions the Registry performs through a
// substitutable interface. Mocking complexity is reduced by keeping each
// dependency to the minimal subset of the real call it needs. The interface
// also carries a Disrupt hook for named fault-injection points; no code in
// this package consults it, so it injects no faults.
type dependencies interface {
	// MkdirAll creates a chain of directories.
	MkdirAll(path string, perm os.FileMode) error
	// OpenFile opens (and optionally creates) a target file for
	// read/write access.
	OpenFile(path string, flag int, perm os.FileMode) (*os.File, error)
	// Stat reports file metadata, used to detect size mismatches.
	Stat(path string) (os.FileInfo, error)
	// WriteFile writes a whole file in one shot. WriteVersionFiles writes
	// the version sidecars with os.WriteFile directly, not through this.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// Disrupt reports whether a named fault-injection point should fire.
	// Production dependencies always return false.
	Disrupt(name string) bool
}

// productionDependencies implements dependencies using the real OS.
type productionDependencies struct{}

func (productionDependencies) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

func (productionDependencies) OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

func (productionDependencies) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

func (productionDependencies) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(path, data, perm)
}

func (productionDependencies) Disrupt(name string) bool { return false }
