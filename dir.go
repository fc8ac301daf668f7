package applog

import (
	"os"
	"path/filepath"

	"github.com/cqkv/applog/fio"
	"github.com/cqkv/applog/index"
	"github.com/cqkv/applog/model"
	"github.com/pkg/errors"
)

// directory is the folder holding every segment of one named log.
// Writers and readers share nothing but this folder.
type directory struct {
	name string
	path string
}

// openDirectory returns the folder of log name, creating it if needed
func openDirectory(root, name string) (*directory, error) {
	d, err := lookupDirectory(root, name)
	if err != nil {
		return nil, err
	}
	if err = os.MkdirAll(d.path, os.ModePerm); err != nil {
		return nil, model.IOErr("mkdir", d.path, err)
	}
	return d, nil
}

// lookupDirectory returns the folder of log name without touching the disk.
// A folder that does not exist reads as an empty log.
func lookupDirectory(root, name string) (*directory, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return nil, ErrInvalidName
	}
	return &directory{name: name, path: filepath.Join(root, name)}, nil
}

// lock takes the exclusive marker lockName, failing with a LogError carrying
// reason when another writer or reader holds it
func (d *directory) lock(lockName, reason string) (fio.FileLocker, error) {
	fl := fio.NewFlock(d.path, lockName)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, model.IOErr("lock", fl.Path(), err)
	}
	if !ok {
		return nil, &LogError{Log: d.name, Reason: reason}
	}
	return fl, nil
}

func (d *directory) lockWriter() (fio.FileLocker, error) {
	return d.lock(model.WriterLockName, ErrMultipleWriters.Reason)
}

func (d *directory) lockReader() (fio.FileLocker, error) {
	return d.lock(model.ReaderLockName, ErrMultipleReaders.Reason)
}

func (d *directory) scan(fn func(seq uint64, committed bool, entry os.DirEntry) error) error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return model.IOErr("read dir", d.path, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		seq, committed, ok := model.ParseSegmentName(entry.Name())
		if !ok {
			continue
		}
		if err = fn(seq, committed, entry); err != nil {
			return err
		}
	}
	return nil
}

// Segments lists the committed segments ordered by sequence number
func (d *directory) Segments() (index.Index, error) {
	bt := index.NewBTree(0)
	err := d.scan(func(seq uint64, committed bool, entry os.DirEntry) error {
		if !committed {
			return nil
		}
		fi, err := entry.Info()
		if err != nil {
			// removed between listing and stat
			if os.IsNotExist(err) {
				return nil
			}
			return model.IOErr("stat", filepath.Join(d.path, entry.Name()), err)
		}
		bt.Put(&index.SegmentInfo{
			Seq:  seq,
			Path: filepath.Join(d.path, entry.Name()),
			Size: fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bt, nil
}

// newestSeq returns the sequence of the newest committed segment
func (d *directory) newestSeq() (uint64, bool, error) {
	var (
		newest uint64
		found  bool
	)
	err := d.scan(func(seq uint64, committed bool, _ os.DirEntry) error {
		if committed && (!found || seq > newest) {
			newest, found = seq, true
		}
		return nil
	})
	return newest, found, err
}

// removeUncommitted deletes the .new segments left behind by a crashed writer.
// It returns how many were removed and the highest sequence seen on disk.
func (d *directory) removeUncommitted() (removed int, maxSeq uint64, found bool, err error) {
	err = d.scan(func(seq uint64, committed bool, entry os.DirEntry) error {
		if !found || seq > maxSeq {
			maxSeq, found = seq, true
		}
		if committed {
			return nil
		}
		path := filepath.Join(d.path, entry.Name())
		if err := fio.RemoveFile(path); err != nil {
			return model.IOErr("remove", path, err)
		}
		removed++
		return nil
	})
	return removed, maxSeq, found, err
}

func (d *directory) remove(info *index.SegmentInfo) error {
	return model.IOErr("remove", info.Path, fio.RemoveFile(info.Path))
}

// clear deletes every committed segment. The active segment of a writer is
// uncommitted and therefore untouched.
func (d *directory) clear() (int, error) {
	segments, err := d.Segments()
	if err != nil {
		return 0, err
	}
	var removed int
	for _, info := range segments.List() {
		if err = d.remove(info); err != nil {
			return removed, errors.WithMessagef(err, "clear %s", d.name)
		}
		removed++
	}
	return removed, nil
}
