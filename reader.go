package applog

import (
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/cqkv/applog/fio"
	"github.com/cqkv/applog/model"
	"github.com/cqkv/applog/segment"
	"github.com/pkg/errors"
)

// Reader reads the committed records of a named log in order. Reads never
// wait for data: the end of the log is a nil record. It is safe for
// concurrent use.
type Reader struct {
	mu sync.Mutex

	dir     *directory
	flock   fio.FileLocker
	options options
	logger  *slog.Logger

	cur    model.Position
	seg    *segment.Segment // open segment cur points into, if any
	closed bool

	available chan struct{}
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// OpenReader opens the log name for reading, resuming from the position the
// previous reader stored, or from the beginning. Only one reader may hold a
// log; a second one fails with ErrMultipleReaders.
func OpenReader(name string, opts ...Option) (*Reader, error) {
	options := newOptions(opts)

	dir, err := openDirectory(options.rootFolder, name)
	if err != nil {
		return nil, err
	}
	fl, err := dir.lockReader()
	if err != nil {
		return nil, err
	}

	r := &Reader{
		dir:       dir,
		flock:     fl,
		options:   options,
		logger:    options.logger.With("log", name),
		available: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
	}

	if options.persistPosition {
		token, err := r.loadPosition()
		if err != nil {
			_ = fl.Unlock()
			return nil, err
		}
		if token != "" {
			if err = r.setPositionLocked(token); err != nil {
				r.logger.Warn("stored position is invalid, reading from the beginning", "token", token, "err", err)
				r.cur = model.Position{}
			}
		}
	}

	if options.pollInterval > 0 {
		newest, found, err := dir.newestSeq()
		if err != nil {
			r.closeSegment()
			_ = fl.Unlock()
			return nil, err
		}
		r.wg.Add(1)
		go r.poll(newest, found)
	}
	return r, nil
}

// Read returns the next live record and advances past it, or nil at the end of the log
func (r *Reader) Read() (*model.Record, error) {
	return r.next(true, false)
}

// Peek returns the next live record without advancing, or nil at the end of the log
func (r *Reader) Peek() (*model.Record, error) {
	return r.next(false, false)
}

// ReadDelete returns the next live record, deletes it from the log and
// advances past it. A segment left without live records is removed.
func (r *Reader) ReadDelete() (*model.Record, error) {
	return r.next(true, true)
}

func (r *Reader) next(advance, del bool) (*model.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}

	for {
		if r.seg == nil {
			ok, err := r.openNext()
			if err != nil || !ok {
				return nil, err
			}
		}

		var (
			record *model.Record
			err    error
		)
		switch {
		case del:
			record, err = r.seg.ReadDelete()
		case advance:
			record, err = r.seg.Read()
		default:
			record, err = r.seg.Peek()
		}
		if err != nil {
			return nil, err
		}

		if record != nil {
			if del && r.seg.Live() == 0 {
				if err = r.finishSegment(); err != nil {
					return nil, err
				}
			}
			return record, nil
		}
		if err = r.finishSegment(); err != nil {
			return nil, err
		}
	}
}

// openNext opens the first committed segment at or after the cursor.
// It reports false when there is none.
func (r *Reader) openNext() (bool, error) {
	segments, err := r.dir.Segments()
	if err != nil {
		return false, err
	}
	defer segments.Close()

	for info := segments.Seek(r.cur.Seq); info != nil; info = segments.Seek(info.Seq + 1) {
		off := r.cur.Offset
		if info.Seq != r.cur.Seq {
			off = 0
		}

		seg, err := segment.Open(info.Path, r.options.segmentOptions())
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return false, err
		}
		if err = seg.SetPosition(off); err != nil {
			_ = seg.Close()
			return false, err
		}

		r.seg = seg
		r.cur = model.Position{Seq: info.Seq, Offset: off}
		r.logger.Debug("segment opened", "pos", r.cur.String(), "live", seg.Live())
		return true, nil
	}
	return false, nil
}

// finishSegment releases the open segment and moves the cursor to the start
// of the following one. A segment without live records is removed.
func (r *Reader) finishSegment() error {
	seg := r.seg
	r.seg = nil
	r.cur = model.Position{Seq: seg.Seq() + 1}

	if seg.Live() > 0 {
		return seg.Close()
	}
	if err := seg.Remove(); err != nil {
		return err
	}
	r.logger.Info("removed fully deleted segment", "seq", seg.Seq(), "records", seg.Count())
	return nil
}

func (r *Reader) closeSegment() {
	if r.seg == nil {
		return
	}
	r.cur = r.positionLocked()
	if err := r.seg.Close(); err != nil {
		r.logger.Warn("close segment failed", "pos", r.cur.String(), "err", err)
	}
	r.seg = nil
}

func (r *Reader) positionLocked() model.Position {
	if r.seg != nil {
		return model.Position{Seq: r.seg.Seq(), Offset: r.seg.Position()}
	}
	return r.cur
}

// Position returns a token of the current read position, valid across restarts
func (r *Reader) Position() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}
	return r.options.codec.MarshalPosition(r.positionLocked()), nil
}

// SetPosition moves the cursor to token, which is a token returned by
// Position, Beginning or End. A token pointing into a segment that no longer
// exists resolves to the first record after it.
func (r *Reader) SetPosition(token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	return r.setPositionLocked(token)
}

func (r *Reader) setPositionLocked(token string) error {
	pos, err := r.resolve(token)
	if err != nil {
		return err
	}

	r.closeSegment()
	prev := r.cur
	r.cur = pos
	if pos.Offset == 0 {
		return nil
	}

	// validate the offset against the segment if it still exists
	segments, err := r.dir.Segments()
	if err != nil {
		r.cur = prev
		return err
	}
	defer segments.Close()
	if segments.Get(pos.Seq) == nil {
		return nil
	}
	if _, err = r.openNext(); err != nil {
		r.cur = prev
		return withToken(err, token)
	}
	return nil
}

// Available signals when new committed segments show up. The signal is a
// hint: receivers must still Read, and may find nothing.
func (r *Reader) Available() <-chan struct{} {
	return r.available
}

func (r *Reader) poll(newest uint64, found bool) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.options.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			seq, ok, err := r.dir.newestSeq()
			if err != nil {
				r.logger.Debug("poll failed", "err", err)
				continue
			}
			if !ok || (found && seq <= newest) {
				continue
			}
			newest, found = seq, true
			select {
			case r.available <- struct{}{}:
			default:
			}
		}
	}
}

// Clear deletes every committed segment and moves the cursor to the beginning
func (r *Reader) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	r.closeSegment()
	removed, err := r.dir.clear()
	if err != nil {
		return err
	}
	r.cur = model.Position{}
	r.logger.Info("log cleared", "segments", removed)
	return nil
}

// Close stores the read position and releases the log. It is safe to call more than once.
func (r *Reader) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	close(r.stopCh)
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()
	var err error
	if r.options.persistPosition {
		err = r.savePosition(r.options.codec.MarshalPosition(r.positionLocked()))
	}
	r.closeSegment()
	if e := r.flock.Unlock(); e != nil && err == nil {
		err = model.IOErr("unlock", r.flock.Path(), e)
	}
	return err
}
