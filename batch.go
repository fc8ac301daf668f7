package applog

import (
	"sync"
	"time"

	"github.com/cqkv/applog/model"
	"github.com/cqkv/applog/segment"
)

const defaultMaxBatchNum = 10000

type batchOptions struct {
	maxBatchNum int
}

type BatchOption func(*batchOptions)

func WithMaxBatchNum(num int) BatchOption {
	return func(o *batchOptions) {
		o.maxBatchNum = num
	}
}

// Batch collects records that become visible together: a committed batch
// lands in a single segment, which is committed once
type Batch struct {
	mu *sync.Mutex

	w       *Writer
	options batchOptions
	pending [][]byte
	size    int64
}

func (w *Writer) NewBatch(options ...BatchOption) *Batch {
	opts := batchOptions{maxBatchNum: defaultMaxBatchNum}
	for _, opt := range options {
		opt(&opts)
	}

	return &Batch{
		mu:      new(sync.Mutex),
		w:       w,
		options: opts,
	}
}

// Add serializes record into the batch
func (b *Batch) Add(record *model.Record) error {
	if record == nil {
		return ErrNilRecord
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.options.maxBatchNum {
		return ErrExceedMaxBatchNum
	}

	body, err := b.w.options.codec.MarshalRecord(record)
	if err != nil {
		return err
	}
	b.pending = append(b.pending, body)
	b.size += segment.SlotSize(len(body))
	return nil
}

func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Commit writes every record of the batch and commits them at once.
// Records written to the writer before the batch are committed with it.
func (b *Batch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return nil
	}

	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrClosed
	}

	if err := w.ensureActive(); err != nil {
		return err
	}
	// start a fresh segment when the batch would push the active one past its limit
	if w.active.Count() > 0 && w.active.Size()+b.size > w.options.maxFileSize {
		if err := w.rotateLocked(); err != nil {
			return err
		}
	}

	for _, body := range b.pending {
		if err := w.active.Append(body); err != nil {
			w.abortLocked(err)
			return err
		}
	}
	w.lastWrite = time.Now()
	if err := w.rotateLocked(); err != nil {
		return err
	}

	b.pending = nil
	b.size = 0
	return nil
}
