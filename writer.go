// Package applog is an append-only log of records kept as a directory of
// segment files.
//
// A Writer appends records to an uncommitted segment and makes them visible
// by committing it, which renames the segment from .new to .log. A Reader
// walks the committed segments in sequence order, can mark records deleted
// and hands out position tokens to resume from later. Writers and readers of
// the same log share nothing but the directory; each side is exclusive and
// guarded by a lock file.
package applog

import (
	"log/slog"
	"sync"
	"time"

	"github.com/cqkv/applog/fio"
	"github.com/cqkv/applog/model"
	"github.com/cqkv/applog/segment"
)

// Writer appends records to a named log. It is safe for concurrent use.
type Writer struct {
	mu sync.Mutex

	dir     *directory
	flock   fio.FileLocker
	options options
	schema  model.Schema
	logger  *slog.Logger

	active    *segment.Segment // records are appended here until the next commit
	nextSeq   uint64
	lastWrite time.Time
	closed    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// OpenWriter opens the log name for writing. Every segment written carries
// the schema (schemaName, schemaVersion). Only one writer may hold a log;
// a second one fails with ErrMultipleWriters.
func OpenWriter(name, schemaName string, schemaVersion int32, opts ...Option) (*Writer, error) {
	if len(schemaName) > model.MaxSchemaNameSize {
		return nil, ErrSchemaTooLong
	}
	options := newOptions(opts)

	dir, err := openDirectory(options.rootFolder, name)
	if err != nil {
		return nil, err
	}
	fl, err := dir.lockWriter()
	if err != nil {
		return nil, err
	}

	w := &Writer{
		dir:       dir,
		flock:     fl,
		options:   options,
		schema:    model.Schema{Name: schemaName, Version: schemaVersion},
		logger:    options.logger.With("log", name),
		lastWrite: time.Now(),
		stopCh:    make(chan struct{}),
	}
	if err = w.recover(); err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	if err = w.ensureActive(); err != nil {
		_ = fl.Unlock()
		return nil, err
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// recover drops the uncommitted segments of a previous writer and picks the
// sequence number of the next segment
func (w *Writer) recover() error {
	removed, maxSeq, found, err := w.dir.removeUncommitted()
	if err != nil {
		return err
	}
	if removed > 0 {
		w.logger.Warn("removed uncommitted segments", "count", removed)
	}

	if found {
		w.nextSeq = maxSeq + 1
	} else {
		// an emptied log must not reuse sequences a reader may still point at
		w.nextSeq = uint64(time.Now().UnixMicro())
	}
	return nil
}

// Write appends record to the active segment. The record becomes visible to
// readers once the segment is committed, explicitly by Commit or after the
// idle interval.
func (w *Writer) Write(record *model.Record) error {
	if record == nil {
		return ErrNilRecord
	}
	body, err := w.options.codec.MarshalRecord(record)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.appendLocked(body)
}

func (w *Writer) appendLocked(body []byte) error {
	if err := w.ensureActive(); err != nil {
		return err
	}

	// a record is never split, so one larger than the limit gets a segment of its own
	if w.active.Count() > 0 && w.active.Size()+segment.SlotSize(len(body)) > w.options.maxFileSize {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	if err := w.active.Append(body); err != nil {
		w.abortLocked(err)
		return err
	}
	w.lastWrite = time.Now()
	return nil
}

// Commit makes every record written so far durable and visible to readers
func (w *Writer) Commit() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}
	return w.rotateLocked()
}

// rotateLocked commits the active segment if it holds records, opens the
// next one and enforces retention
func (w *Writer) rotateLocked() error {
	if w.active != nil && w.active.Count() == 0 {
		return nil
	}
	if err := w.commitLocked(); err != nil {
		return err
	}
	if err := w.ensureActive(); err != nil {
		return err
	}
	if _, err := w.purgeLocked(); err != nil {
		w.logger.Warn("purge after rotation failed", "err", err)
	}
	return nil
}

// commitLocked commits the active segment and leaves the writer without one
func (w *Writer) commitLocked() error {
	seg := w.active
	if seg == nil {
		return nil
	}
	w.active = nil

	if err := seg.Commit(); err != nil {
		w.logger.Error("commit segment failed", "seq", seg.Seq(), "err", err)
		return err
	}
	if seg.Count() > 0 {
		w.logger.Debug("segment committed", "seq", seg.Seq(), "records", seg.Count(), "size", seg.Size())
	}
	return nil
}

func (w *Writer) ensureActive() error {
	if w.active != nil {
		return nil
	}
	seg, err := segment.Create(w.dir.path, w.nextSeq, w.schema, w.options.segmentOptions())
	if err != nil {
		return err
	}
	w.nextSeq++
	w.active = seg
	return nil
}

// abortLocked gives up the active segment after a failed append. Its records
// were never committed, the .new file is removed by the next writer.
func (w *Writer) abortLocked(cause error) {
	seg := w.active
	if seg == nil {
		return
	}
	w.active = nil
	_ = seg.Abort()
	w.logger.Error("active segment aborted", "seq", seg.Seq(), "records", seg.Count(), "err", cause)
}

func (w *Writer) run() {
	defer w.wg.Done()

	var idleC, purgeC <-chan time.Time
	if idle := w.options.idleCommitInterval; idle > 0 {
		tick := idle / 4
		if tick < time.Millisecond {
			tick = time.Millisecond
		}
		ticker := time.NewTicker(tick)
		defer ticker.Stop()
		idleC = ticker.C
	}
	if w.options.purgeInterval > 0 {
		ticker := time.NewTicker(w.options.purgeInterval)
		defer ticker.Stop()
		purgeC = ticker.C
	}

	for {
		select {
		case <-w.stopCh:
			return
		case <-idleC:
			w.idleCommit()
		case <-purgeC:
			if err := <-w.Purge(); err != nil && err != ErrClosed {
				w.logger.Warn("background purge failed", "err", err)
			}
		}
	}
}

func (w *Writer) idleCommit() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.active == nil || w.active.Count() == 0 {
		return
	}
	if time.Since(w.lastWrite) < w.options.idleCommitInterval {
		return
	}

	w.logger.Debug("idle commit", "seq", w.active.Seq(), "records", w.active.Count())
	if err := w.rotateLocked(); err != nil {
		w.logger.Error("idle commit failed", "err", err)
	}
}

// Stats describes the committed segments of the log plus the records
// waiting in the active segment
func (w *Writer) Stats() (*Stats, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, ErrClosed
	}

	stats, err := statDirectory(w.dir, &w.options)
	if err != nil {
		return nil, err
	}
	if w.active != nil {
		stats.Pending = w.active.Count()
	}
	return stats, nil
}

func (w *Writer) Schema() model.Schema {
	return w.schema
}

// Close commits pending records and releases the log. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.stopCh)
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	err := w.commitLocked()
	if e := w.flock.Unlock(); e != nil && err == nil {
		err = model.IOErr("unlock", w.flock.Path(), e)
	}
	return err
}
