package fio

import (
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLocker is an advisory lock held by at most one process at a time
type FileLocker interface {
	TryLock() (bool, error)
	Unlock() error
	Path() string
}

var _ FileLocker = (*flock.Flock)(nil)

// NewFlock returns the lock guarding name inside dirPath. The lock file is
// created on TryLock; the OS releases the lock when the holder exits.
func NewFlock(dirPath, name string) FileLocker {
	return flock.New(filepath.Join(dirPath, name))
}
