package fio

// SyncDir is a nop, windows can not fsync a directory handle
func SyncDir(dir string) error {
	return nil
}
