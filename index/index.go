package index

import "github.com/google/btree"

// Index defined the catalogue of committed segments of a log, ordered by sequence number.
// you can use some other data structure once you implement this interface
type Index interface {
	Put(info *SegmentInfo) bool
	Get(seq uint64) *SegmentInfo
	Delete(seq uint64) bool
	// Seek returns the first segment with a sequence >= seq
	Seek(seq uint64) *SegmentInfo
	First() *SegmentInfo
	Last() *SegmentInfo
	Len() int
	// TotalSize sums the size of all segments
	TotalSize() int64
	// Ascend calls fn for every segment in sequence order until fn returns false
	Ascend(fn func(info *SegmentInfo) bool)
	List() []*SegmentInfo
	Close() error
}

// SegmentInfo describes one committed segment file
type SegmentInfo struct {
	Seq  uint64
	Path string
	Size int64
}

// Item implement the btree.Item interface
type Item struct {
	info *SegmentInfo
}

func (i *Item) Less(than btree.Item) bool {
	return i.info.Seq < than.(*Item).info.Seq
}

func pivot(seq uint64) *Item {
	return &Item{info: &SegmentInfo{Seq: seq}}
}
