package fio

import (
	"os"
	"time"
)

const removeRetryDelay = 20 * time.Millisecond

// RemoveFile deletes path. A missing file is not an error.
// A failed delete is retried once, another process may briefly hold the file.
func RemoveFile(path string) error {
	err := os.Remove(path)
	if err == nil || os.IsNotExist(err) {
		return nil
	}
	time.Sleep(removeRetryDelay)
	if err = os.Remove(path); err == nil || os.IsNotExist(err) {
		return nil
	}
	return err
}
