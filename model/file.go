package model

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	CommittedSuffix   = ".log"
	UncommittedSuffix = ".new"

	WriterLockName = "Writer.lock"
	ReaderLockName = "Reader.lock"
	PositionName   = "Reader.pos"

	seqDigits = 20
)

const (
	SegmentMagic         uint32 = 0x414c4f47 // "ALOG"
	SegmentFormatVersion uint16 = 1

	// SegmentHeaderSize is the fixed size of the header at the start of every segment:
	// magic(4) | format(2) | nameLen(2) | createdAt(8) | count(8) | dataSize(8) | schemaVersion(4) | crc(4) | name
	SegmentHeaderSize = 512
	segmentFixedSize  = 40
	MaxSchemaNameSize = SegmentHeaderSize - segmentFixedSize
)

// SegmentHeader is the finalized description of a segment.
// Count and DataSize are placeholders (zero) until the segment is committed.
type SegmentHeader struct {
	Schema    Schema
	CreatedAt time.Time
	Count     uint64
	DataSize  uint64
}

// Position addresses a byte offset inside the segment with sequence Seq.
// Offset 0 means the start of the segment.
type Position struct {
	Seq    uint64
	Offset int64
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Seq, p.Offset)
}

// GetSegmentName returns the path of segment seq inside dir.
// Names are zero padded so lexicographic order matches write order.
func GetSegmentName(dir string, seq uint64, committed bool) string {
	suffix := UncommittedSuffix
	if committed {
		suffix = CommittedSuffix
	}
	return filepath.Join(dir, fmt.Sprintf("%0*d%s", seqDigits, seq, suffix))
}

// ParseSegmentName extracts the sequence number and commit state from a segment file name
func ParseSegmentName(name string) (seq uint64, committed bool, ok bool) {
	base := filepath.Base(name)
	switch {
	case strings.HasSuffix(base, CommittedSuffix):
		committed = true
		base = strings.TrimSuffix(base, CommittedSuffix)
	case strings.HasSuffix(base, UncommittedSuffix):
		base = strings.TrimSuffix(base, UncommittedSuffix)
	default:
		return 0, false, false
	}
	if len(base) != seqDigits {
		return 0, false, false
	}
	seq, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, false, false
	}
	return seq, committed, true
}
