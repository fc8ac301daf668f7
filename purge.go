package applog

import (
	"log/slog"
)

// Purge enforces the size retention of the log: committed segments other than
// the newest are deleted, oldest first, until their total size is within the
// configured max log size. It is asynchronous.
func (w *Writer) Purge() chan error {
	done := make(chan error, 1)
	go w.doPurge(done)
	return done
}

func (w *Writer) doPurge(done chan<- error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		sendError(done, ErrClosed)
		return
	}

	if _, err := w.purgeLocked(); err != nil {
		sendError(done, err)
		return
	}
	sendNil(done)
}

func (w *Writer) purgeLocked() (int, error) {
	return purgeSegments(w.dir, w.options.maxLogSize, w.logger)
}

// PurgeLog runs one retention sweep over the log name without opening a
// writer, and returns the number of segments removed
func PurgeLog(name string, opts ...Option) (int, error) {
	options := newOptions(opts)
	dir, err := lookupDirectory(options.rootFolder, name)
	if err != nil {
		return 0, err
	}
	return purgeSegments(dir, options.maxLogSize, options.logger.With("log", name))
}

func purgeSegments(dir *directory, maxLogSize int64, logger *slog.Logger) (int, error) {
	if maxLogSize <= 0 {
		return 0, nil
	}

	segments, err := dir.Segments()
	if err != nil {
		return 0, err
	}
	defer segments.Close()

	// the newest segment is never purged
	newest := segments.Last()
	if newest == nil {
		return 0, nil
	}
	segments.Delete(newest.Seq)

	var removed int
	total := segments.TotalSize()
	for total > maxLogSize {
		oldest := segments.First()
		if err = dir.remove(oldest); err != nil {
			return removed, err
		}
		segments.Delete(oldest.Seq)
		total -= oldest.Size
		removed++
		logger.Info("segment purged", "seq", oldest.Seq, "size", oldest.Size, "remaining", total)
	}
	return removed, nil
}

func sendError(done chan<- error, err error) {
	done <- err
}

func sendNil(done chan<- error) {
	done <- nil
}
