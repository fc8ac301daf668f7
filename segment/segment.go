// Package segment stores one ordered run of records in a single file.
//
// A segment is created with the uncommitted suffix (.new), filled through an
// append buffer and committed exactly once: the header is rewritten with the
// final record count and data size, then the file is renamed to the
// committed suffix (.log). Committed segments are opened read-write only to
// flip the tombstone flag of a record slot, or read-only when no record is
// deleted; they are never appended to again.
//
//	header(512) | slot | slot | ...
//	slot: isDelete(1) | size(4) | crc(4) | record body
package segment

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cqkv/applog/codec"
	"github.com/cqkv/applog/fio"
	"github.com/cqkv/applog/model"
	"github.com/cqkv/applog/utils"
	"github.com/pkg/errors"
)

var (
	ErrClosed      = errors.New("segment: closed")
	ErrNotWritable = errors.New("segment: committed segments are read only")
	ErrNotReadable = errors.New("segment: uncommitted segments can not be read")
	ErrTooLarge    = errors.New("segment: record larger than 4GiB")
	ErrReadOnly    = errors.New("segment: opened read only")
)

const (
	DefaultBufferSize = 64 << 10

	// the smallest slot: a record header and a body holding only the field count
	minSlotSize = model.RecordHeaderSize + 4
	// cap on the slot table preallocated from an untrusted header
	maxSlotPrealloc = 1 << 16
)

type Options struct {
	// BufferSize sizes the append buffer and the read-ahead buffer
	BufferSize int
	Codec      codec.Codec
	IOCreator  fio.Creator
	// ReadOnly opens committed segments without write access; ReadDelete fails
	ReadOnly   bool
}

func (o Options) withDefaults() Options {
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.Codec == nil {
		o.Codec = codec.NewCodecImpl()
	}
	if o.IOCreator == nil {
		o.IOCreator = fio.NewFileIO
	}
	return o
}

type slot struct {
	off     int64
	size    int64 // slot header + body
	deleted bool
}

type Segment struct {
	mu sync.Mutex

	seq    uint64
	path   string
	io      fio.IOManager
	codec   codec.Codec
	header  model.SegmentHeader
	closed  bool
	bufSize int

	// uncommitted segments only
	writable bool
	buf      *bufio.Writer
	size     int64
	count    uint64

	// committed segments only
	readOnly bool
	slots    []slot
	live     int
	cur      int
	dirty    bool          // a tombstone was written since the last sync
	rd       *bufio.Reader // read-ahead over the slots
	rdOff    int64         // file offset rd is positioned at, -1 when unknown
}

// Create starts a new uncommitted segment seq in dir
func Create(dir string, seq uint64, schema model.Schema, opts Options) (*Segment, error) {
	opts = opts.withDefaults()
	path := model.GetSegmentName(dir, seq, false)

	s := &Segment{
		seq:     seq,
		path:    path,
		codec:   opts.Codec,
		bufSize: opts.BufferSize,
		header: model.SegmentHeader{
			Schema:    schema,
			CreatedAt: time.Now(),
		},
		writable: true,
	}

	header, err := s.codec.MarshalSegmentHeader(&s.header)
	if err != nil {
		return nil, err
	}

	s.io, err = opts.IOCreator(path, fio.ModeCreate)
	if err != nil {
		return nil, model.IOErr("create", path, err)
	}
	if _, err = s.io.Write(header); err != nil {
		_ = s.io.Close()
		_ = fio.RemoveFile(path)
		return nil, model.IOErr("write header", path, err)
	}

	s.size = model.SegmentHeaderSize
	s.buf = bufio.NewWriterSize(writerFunc(s.io.Write), opts.BufferSize)
	return s, nil
}

// Open opens the committed segment at path and indexes its record slots
func Open(path string, opts Options) (*Segment, error) {
	opts = opts.withDefaults()
	seq, committed, ok := model.ParseSegmentName(path)
	if !ok || !committed {
		return nil, errors.Errorf("segment: %s is not a committed segment", path)
	}

	mode := fio.ModeReadWrite
	if opts.ReadOnly {
		mode = fio.ModeReadOnly
	}
	iom, err := opts.IOCreator(path, mode)
	if err != nil {
		return nil, model.IOErr("open", path, err)
	}

	s := &Segment{
		seq:      seq,
		path:     path,
		io:       iom,
		codec:    opts.Codec,
		bufSize:  opts.BufferSize,
		readOnly: opts.ReadOnly,
		rdOff:    -1,
	}
	if err = s.load(); err != nil {
		_ = iom.Close()
		return nil, err
	}
	return s, nil
}

func (s *Segment) load() error {
	data := make([]byte, model.SegmentHeaderSize)
	if _, err := s.io.ReadAt(data, 0); err != nil {
		if err == io.EOF {
			return s.corrupt(0, model.Corrupt("segment shorter than its header"))
		}
		return model.IOErr("read header", s.path, err)
	}
	if err := s.codec.UnmarshalSegmentHeader(data, &s.header); err != nil {
		return s.corrupt(0, err)
	}

	fileSize, err := s.io.Size()
	if err != nil {
		return model.IOErr("stat", s.path, err)
	}
	// the header is checked against the file before anything is sized from it
	if fileSize < model.SegmentHeaderSize {
		return s.corrupt(0, model.Corrupt("segment shorter than its header"))
	}
	if avail := uint64(fileSize - model.SegmentHeaderSize); s.header.DataSize > avail {
		return s.corrupt(fileSize, model.Corrupt("segment truncated: data size %d, file holds %d", s.header.DataSize, avail))
	}
	if s.header.Count > s.header.DataSize/minSlotSize {
		return s.corrupt(0, model.Corrupt("record count %d does not fit data size %d", s.header.Count, s.header.DataSize))
	}

	end := s.end()
	s.rd = bufio.NewReaderSize(io.NewSectionReader(s.io, model.SegmentHeaderSize, end-model.SegmentHeaderSize), s.bufSize)

	var header model.RecordHeader
	hb := make([]byte, model.RecordHeaderSize)
	s.slots = make([]slot, 0, min(s.header.Count, maxSlotPrealloc))
	for off := int64(model.SegmentHeaderSize); off < end; {
		if off+model.RecordHeaderSize > end {
			return s.corrupt(off, model.Corrupt("partial record header"))
		}
		if _, err = io.ReadFull(s.rd, hb); err != nil {
			return model.IOErr("read record header", s.path, err)
		}
		if err = s.codec.UnmarshalRecordHeader(hb, &header); err != nil {
			return s.corrupt(off, err)
		}
		size := int64(model.RecordHeaderSize) + int64(header.Size)
		if off+size > end {
			return s.corrupt(off, model.Corrupt("record size %d past segment end", header.Size))
		}
		if _, err = s.rd.Discard(int(header.Size)); err != nil {
			return model.IOErr("read record", s.path, err)
		}
		s.slots = append(s.slots, slot{off: off, size: size, deleted: header.IsDelete})
		if !header.IsDelete {
			s.live++
		}
		off += size
	}
	s.rdOff = -1

	if uint64(len(s.slots)) != s.header.Count {
		return s.corrupt(end, model.Corrupt("found %d records, header says %d", len(s.slots), s.header.Count))
	}
	return nil
}

func (s *Segment) corrupt(off int64, err error) error {
	var c *model.CorruptRecordError
	if errors.As(err, &c) {
		return &model.CorruptRecordError{Path: s.path, Offset: off, Reason: c.Reason}
	}
	return err
}

// end is the offset just after the last record
func (s *Segment) end() int64 {
	if s.writable {
		return s.size
	}
	return model.SegmentHeaderSize + int64(s.header.DataSize)
}

// Write serializes record into the append buffer
func (s *Segment) Write(record *model.Record) error {
	body, err := s.codec.MarshalRecord(record)
	if err != nil {
		return err
	}
	return s.Append(body)
}

// Append buffers an already marshaled record body
func (s *Segment) Append(body []byte) error {
	if uint64(len(body)) > math.MaxUint32 {
		return ErrTooLarge
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.writable {
		return ErrNotWritable
	}

	header := s.codec.MarshalRecordHeader(&model.RecordHeader{
		Size: uint32(len(body)),
		Crc:  utils.GenerateCrc(body),
	})
	if _, err := s.buf.Write(header); err != nil {
		return model.IOErr("write", s.path, err)
	}
	if _, err := s.buf.Write(body); err != nil {
		return model.IOErr("write", s.path, err)
	}
	s.size += SlotSize(len(body))
	s.count++
	return nil
}

// SlotSize is the number of bytes a record body of size n takes in a segment
func SlotSize(n int) int64 {
	return int64(model.RecordHeaderSize) + int64(n)
}

// Commit makes the written records durable and visible. The header is
// finalized and the file renamed to its committed name; a segment without
// records is deleted instead. On failure the uncommitted file stays behind.
func (s *Segment) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !s.writable {
		return ErrNotWritable
	}
	s.closed = true

	if s.count == 0 {
		_ = s.io.Close()
		return model.IOErr("remove", s.path, fio.RemoveFile(s.path))
	}

	if err := s.finalize(); err != nil {
		_ = s.io.Close()
		return err
	}
	if err := s.io.Close(); err != nil {
		return model.IOErr("close", s.path, err)
	}

	committed := model.GetSegmentName(filepath.Dir(s.path), s.seq, true)
	if err := os.Rename(s.path, committed); err != nil {
		return model.IOErr("rename", s.path, err)
	}
	s.path = committed
	return model.IOErr("sync dir", s.path, fio.SyncDir(filepath.Dir(committed)))
}

func (s *Segment) finalize() error {
	if err := s.buf.Flush(); err != nil {
		return model.IOErr("flush", s.path, err)
	}

	s.header.Count = s.count
	s.header.DataSize = uint64(s.size - model.SegmentHeaderSize)
	header, err := s.codec.MarshalSegmentHeader(&s.header)
	if err != nil {
		return err
	}
	if _, err = s.io.WriteAt(header, 0); err != nil {
		return model.IOErr("write header", s.path, err)
	}
	return model.IOErr("sync", s.path, s.io.Sync())
}

// Close commits an uncommitted segment, or releases a committed one
func (s *Segment) Close() error {
	s.mu.Lock()
	if s.writable {
		s.mu.Unlock()
		if err := s.Commit(); err != ErrClosed {
			return err
		}
		return nil
	}
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.dirty {
		err = model.IOErr("sync", s.path, s.io.Sync())
	}
	if e := s.io.Close(); err == nil {
		err = model.IOErr("close", s.path, e)
	}
	return err
}

// Abort releases an uncommitted segment without committing it. The .new file
// stays on disk and is cleaned up by the next writer.
func (s *Segment) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return model.IOErr("close", s.path, s.io.Close())
}

// Remove closes the segment and deletes its file
func (s *Segment) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		_ = s.io.Close()
	}
	return model.IOErr("remove", s.path, fio.RemoveFile(s.path))
}

// Read returns the next live record and advances past it.
// It returns nil at the end of the segment.
func (s *Segment) Read() (*model.Record, error) {
	return s.next(true, false)
}

// Peek returns the next live record without advancing
func (s *Segment) Peek() (*model.Record, error) {
	return s.next(false, false)
}

// ReadDelete returns the next live record, marks its slot deleted and advances past it
func (s *Segment) ReadDelete() (*model.Record, error) {
	return s.next(true, true)
}

func (s *Segment) next(advance, del bool) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.writable {
		return nil, ErrNotReadable
	}
	if del && s.readOnly {
		return nil, ErrReadOnly
	}

	for s.cur < len(s.slots) {
		sl := &s.slots[s.cur]
		if sl.deleted {
			s.cur++
			continue
		}

		record, err := s.readSlot(sl)
		if err != nil {
			return nil, err
		}
		if del {
			flag := []byte{codec.TombstoneFlag(true)}
			if _, err = s.io.WriteAt(flag, sl.off); err != nil {
				return nil, model.IOErr("write tombstone", s.path, err)
			}
			sl.deleted = true
			s.live--
			s.dirty = true
		}
		if advance {
			s.cur++
		}
		return record, nil
	}
	return nil, nil
}

func (s *Segment) readSlot(sl *slot) (*model.Record, error) {
	if s.rdOff != sl.off {
		s.rd.Reset(io.NewSectionReader(s.io, sl.off, s.end()-sl.off))
		s.rdOff = sl.off
	}
	data := make([]byte, sl.size)
	if _, err := io.ReadFull(s.rd, data); err != nil {
		s.rdOff = -1
		return nil, model.IOErr("read", s.path, err)
	}
	s.rdOff += sl.size

	var header model.RecordHeader
	if err := s.codec.UnmarshalRecordHeader(data, &header); err != nil {
		return nil, s.corrupt(sl.off, err)
	}
	body := data[model.RecordHeaderSize:]
	if int64(header.Size) != int64(len(body)) {
		return nil, s.corrupt(sl.off, model.Corrupt("record size changed from %d to %d", len(body), header.Size))
	}
	if !utils.CheckCrc(header.Crc, body) {
		return nil, s.corrupt(sl.off, model.Corrupt("record checksum mismatch"))
	}

	record, err := s.codec.UnmarshalRecord(body)
	if err != nil {
		return nil, s.corrupt(sl.off, err)
	}
	record.Schema = s.header.Schema
	return record, nil
}

// ReadAsync runs Read on another goroutine
func (s *Segment) ReadAsync() *fio.Future[*model.Record] {
	return fio.Go(s.Read)
}

// WriteAsync runs Write on another goroutine; the future yields the new segment size
func (s *Segment) WriteAsync(record *model.Record) *fio.Future[int64] {
	return fio.Go(func() (int64, error) {
		if err := s.Write(record); err != nil {
			return 0, err
		}
		return s.Size(), nil
	})
}

// Position returns the byte offset of the next slot to read,
// or the end offset once all slots were consumed
func (s *Segment) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writable {
		return s.size
	}
	if s.cur < len(s.slots) {
		return s.slots[s.cur].off
	}
	return s.end()
}

// SetPosition moves the cursor to the slot starting at off. Offsets 0 and the
// header size address the first slot, the end offset addresses the end.
func (s *Segment) SetPosition(off int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writable {
		return ErrNotReadable
	}

	end := s.end()
	switch {
	case off == 0 || off == model.SegmentHeaderSize:
		s.cur = 0
	case off == end:
		s.cur = len(s.slots)
	case off < 0 || off > end:
		return &model.InvalidPositionError{
			Reason: fmt.Sprintf("offset %d outside segment %d of size %d", off, s.seq, end),
		}
	default:
		i := sort.Search(len(s.slots), func(i int) bool {
			return s.slots[i].off >= off
		})
		if i == len(s.slots) || s.slots[i].off != off {
			return &model.InvalidPositionError{
				Reason: fmt.Sprintf("offset %d is not a record boundary in segment %d", off, s.seq),
			}
		}
		s.cur = i
	}
	return nil
}

func (s *Segment) Seq() uint64 {
	return s.seq
}

func (s *Segment) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Segment) Schema() model.Schema {
	return s.header.Schema
}

func (s *Segment) CreatedAt() time.Time {
	return s.header.CreatedAt
}

// Size is the number of bytes the segment takes, including buffered writes
func (s *Segment) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.end()
}

// Count is the number of records written, deleted ones included
func (s *Segment) Count() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writable {
		return s.count
	}
	return uint64(len(s.slots))
}

// Live is the number of records not marked deleted
func (s *Segment) Live() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writable {
		return int(s.count)
	}
	return s.live
}

type writerFunc func([]byte) (int, error)

func (fn writerFunc) Write(p []byte) (int, error) {
	return fn(p)
}
