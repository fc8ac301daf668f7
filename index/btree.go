package index

import (
	"sync"

	"github.com/google/btree"
)

var _ Index = (*BTree)(nil)

const defaultDegree = 32

// BTree implement the index
type BTree struct {
	tree *btree.BTree
	lock *sync.RWMutex
}

func NewBTree(degree int) *BTree {
	if degree <= 0 {
		degree = defaultDegree
	}
	return &BTree{
		tree: btree.New(degree),
		lock: &sync.RWMutex{},
	}
}

// Put adds the segment and reports whether it was not yet present
func (bt *BTree) Put(info *SegmentInfo) bool {
	bt.lock.Lock()
	defer bt.lock.Unlock()
	return bt.tree.ReplaceOrInsert(&Item{info: info}) == nil
}

func (bt *BTree) Get(seq uint64) *SegmentInfo {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return unwrap(bt.tree.Get(pivot(seq)))
}

func (bt *BTree) Delete(seq uint64) bool {
	bt.lock.Lock()
	defer bt.lock.Unlock()
	return bt.tree.Delete(pivot(seq)) != nil
}

func (bt *BTree) Seek(seq uint64) *SegmentInfo {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	var found *SegmentInfo
	bt.tree.AscendGreaterOrEqual(pivot(seq), func(item btree.Item) bool {
		found = item.(*Item).info
		return false
	})
	return found
}

func (bt *BTree) First() *SegmentInfo {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return unwrap(bt.tree.Min())
}

func (bt *BTree) Last() *SegmentInfo {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return unwrap(bt.tree.Max())
}

func (bt *BTree) Len() int {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	return bt.tree.Len()
}

// TotalSize sums the size of all segments
func (bt *BTree) TotalSize() int64 {
	var total int64
	bt.Ascend(func(info *SegmentInfo) bool {
		total += info.Size
		return true
	})
	return total
}

// Ascend calls fn for every segment in sequence order until fn returns false
func (bt *BTree) Ascend(fn func(info *SegmentInfo) bool) {
	bt.lock.RLock()
	defer bt.lock.RUnlock()
	bt.tree.Ascend(func(item btree.Item) bool {
		return fn(item.(*Item).info)
	})
}

// List returns the segments in sequence order
func (bt *BTree) List() []*SegmentInfo {
	infos := make([]*SegmentInfo, 0, bt.Len())
	bt.Ascend(func(info *SegmentInfo) bool {
		infos = append(infos, info)
		return true
	})
	return infos
}

func (bt *BTree) Close() error {
	bt.lock.Lock()
	defer bt.lock.Unlock()
	bt.tree.Clear(false)
	return nil
}

func unwrap(item btree.Item) *SegmentInfo {
	if item == nil {
		return nil
	}
	return item.(*Item).info
}
