package applog

import (
	"io/fs"
	"time"

	"github.com/cqkv/applog/segment"
	"github.com/pkg/errors"
)

// Stats summarizes the committed segments of a log
type Stats struct {
	Segments int
	Size     int64
	Records  uint64 // deleted records included
	Live     int
	Oldest   time.Time
	Newest   time.Time
	// Pending is the number of records written but not yet committed,
	// only known to the writer
	Pending uint64
}

// Stat reads the statistics of the log name without locking it
func Stat(name string, opts ...Option) (*Stats, error) {
	options := newOptions(opts)
	dir, err := lookupDirectory(options.rootFolder, name)
	if err != nil {
		return nil, err
	}
	return statDirectory(dir, &options)
}

func statDirectory(dir *directory, options *options) (*Stats, error) {
	segments, err := dir.Segments()
	if err != nil {
		return nil, err
	}
	defer segments.Close()

	segOpts := options.segmentOptions()
	segOpts.ReadOnly = true

	stats := &Stats{}
	for _, info := range segments.List() {
		seg, err := segment.Open(info.Path, segOpts)
		if err != nil {
			// deleted by a reader or a purge since listing
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}

		stats.Segments++
		stats.Size += seg.Size()
		stats.Records += seg.Count()
		stats.Live += seg.Live()
		if created := seg.CreatedAt(); stats.Oldest.IsZero() || created.Before(stats.Oldest) {
			stats.Oldest = created
		}
		if created := seg.CreatedAt(); created.After(stats.Newest) {
			stats.Newest = created
		}
		if err = seg.Close(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}
