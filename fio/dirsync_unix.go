//go:build !windows

package fio

import (
	"os"

	"golang.org/x/sys/unix"
)

// SyncDir persists directory entries, so a rename or create survives a crash
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	err = unix.Fsync(int(d.Fd()))
	if e := d.Close(); err == nil {
		err = e
	}
	return err
}
