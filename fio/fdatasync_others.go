//go:build !linux

package fio

import "os"

func syncData(f *os.File) error {
	return f.Sync()
}
