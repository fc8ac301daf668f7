package fio

// IOManager is the byte-oriented file abstraction segments are stored on.
// It can be custom in options.
type IOManager interface {
	ReadAt([]byte, int64) (int, error)
	WriteAt([]byte, int64) (int, error)
	// Write appends at the current write offset
	Write([]byte) (int, error)
	Sync() error
	Size() (int64, error)
	Name() string
	Close() error
}

// OpenMode tells a Creator how to open a file
type OpenMode uint8

const (
	// ModeCreate creates the file, or truncates it if it exists
	ModeCreate OpenMode = iota
	// ModeReadWrite opens an existing file for reading and in place writes
	ModeReadWrite
	// ModeReadOnly opens an existing file for reading only
	ModeReadOnly
)

// Creator opens the IOManager for a path
type Creator func(path string, mode OpenMode) (IOManager, error)
