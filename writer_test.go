package applog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cqkv/applog/model"
	"github.com/cqkv/applog/segment"
	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testLog = "events"

func openTestWriter(t *testing.T, root string, opts ...Option) *Writer {
	t.Helper()
	opts = append([]Option{
		WithRootFolder(root),
		WithIdleCommitInterval(0),
		WithPurgeInterval(0),
		WithMaxLogSize(0),
	}, opts...)
	w, err := OpenWriter(testLog, "event", 1, opts...)
	require.Nil(t, err)
	return w
}

func openTestReader(t *testing.T, root string, opts ...Option) *Reader {
	t.Helper()
	opts = append([]Option{
		WithRootFolder(root),
		WithPollInterval(0),
	}, opts...)
	r, err := OpenReader(testLog, opts...)
	require.Nil(t, err)
	return r
}

func indexRecord(i int) *model.Record {
	return model.NewRecord().SetString("index", strconv.Itoa(i))
}

func writeIndexes(t *testing.T, w *Writer, from, to int) {
	t.Helper()
	for i := from; i < to; i++ {
		require.Nil(t, w.Write(indexRecord(i)))
	}
}

func indexes(from, to int) []string {
	res := make([]string, 0, to-from)
	for i := from; i < to; i++ {
		res = append(res, strconv.Itoa(i))
	}
	return res
}

// readIndexes reads until the end of the log
func readIndexes(t *testing.T, r *Reader) []string {
	t.Helper()
	res := make([]string, 0)
	for {
		record, err := r.Read()
		require.Nil(t, err)
		if record == nil {
			return res
		}
		res = append(res, record.GetString("index"))
	}
}

func segmentFiles(t *testing.T, root, suffix string) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, testLog))
	require.Nil(t, err)
	var names []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			names = append(names, entry.Name())
		}
	}
	return names
}

func TestOpenWriter(t *testing.T) {
	defer leaktest.Check(t)()
	root := t.TempDir()

	w := openTestWriter(t, root)
	assert.Equal(t, model.Schema{Name: "event", Version: 1}, w.Schema())
	assert.Len(t, segmentFiles(t, root, model.UncommittedSuffix), 1)
	assert.Nil(t, w.Close())

	// the empty active segment does not survive close
	assert.Empty(t, segmentFiles(t, root, model.UncommittedSuffix))
	assert.Empty(t, segmentFiles(t, root, model.CommittedSuffix))
}

func TestOpenWriter_InvalidInput(t *testing.T) {
	root := t.TempDir()

	_, err := OpenWriter("", "event", 1, WithRootFolder(root))
	assert.Equal(t, ErrEmptyName, err)

	_, err = OpenWriter("a/b", "event", 1, WithRootFolder(root))
	assert.Equal(t, ErrInvalidName, err)

	_, err = OpenWriter("..", "event", 1, WithRootFolder(root))
	assert.Equal(t, ErrInvalidName, err)

	_, err = OpenWriter(testLog, strings.Repeat("s", model.MaxSchemaNameSize+1), 1, WithRootFolder(root))
	assert.Equal(t, ErrSchemaTooLong, err)
}

func TestWriter_Scenario(t *testing.T) {
	defer leaktest.Check(t)()
	root := t.TempDir()
	w := openTestWriter(t, root)
	defer w.Close()
	r := openTestReader(t, root)
	defer r.Close()

	writeIndexes(t, w, 0, 10)
	assert.Nil(t, w.Commit())

	for i := 0; i < 10; i++ {
		record, err := r.Read()
		assert.Nil(t, err)
		require.NotNil(t, record)
		assert.Equal(t, strconv.Itoa(i), record.GetString("index"))
		assert.Equal(t, w.Schema(), record.Schema)
	}
	record, err := r.Read()
	assert.Nil(t, err)
	assert.Nil(t, record)

	assert.Nil(t, w.Write(indexRecord(10)))
	assert.Nil(t, w.Commit())

	record, err = r.Read()
	assert.Nil(t, err)
	require.NotNil(t, record)
	assert.Equal(t, "10", record.GetString("index"))
}

func TestWriter_CommitVisibility(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root)
	defer w.Close()

	writeIndexes(t, w, 0, 3)

	r := openTestReader(t, root, WithPersistPosition(false))
	assert.Empty(t, readIndexes(t, r))
	assert.Nil(t, r.Close())

	assert.Nil(t, w.Commit())
	// nothing pending, nothing to commit
	assert.Nil(t, w.Commit())

	r = openTestReader(t, root, WithPersistPosition(false))
	defer r.Close()
	assert.Equal(t, indexes(0, 3), readIndexes(t, r))
}

func TestWriter_Rotation(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root, WithMaxFileSize(1024))
	defer w.Close()

	writeIndexes(t, w, 0, 200)
	assert.Nil(t, w.Commit())

	stats, err := w.Stats()
	assert.Nil(t, err)
	assert.True(t, stats.Segments > 1)
	assert.Equal(t, uint64(200), stats.Records)
	assert.Equal(t, 200, stats.Live)
	assert.Equal(t, uint64(0), stats.Pending)

	// no segment grows past the limit
	segments, err := w.dir.Segments()
	require.Nil(t, err)
	for _, info := range segments.List() {
		assert.True(t, info.Size <= 1024, "segment %d has %d bytes", info.Seq, info.Size)
	}

	r := openTestReader(t, root)
	defer r.Close()
	assert.Equal(t, indexes(0, 200), readIndexes(t, r))
}

func TestWriter_LargeRecord(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root, WithMaxFileSize(1024))
	defer w.Close()

	big := make([]byte, 3<<20)
	for i := range big {
		big[i] = byte(i % 251)
	}

	assert.Nil(t, w.Write(indexRecord(0)))
	assert.Nil(t, w.Write(indexRecord(1).SetBytes("blob", big)))
	assert.Nil(t, w.Write(indexRecord(2)))
	assert.Nil(t, w.Commit())

	stats, err := w.Stats()
	assert.Nil(t, err)
	assert.Equal(t, 3, stats.Segments)

	r := openTestReader(t, root)
	defer r.Close()
	assert.Equal(t, indexes(0, 3), readIndexes(t, r))

	assert.Nil(t, r.SetPosition(Beginning))
	_, err = r.Read()
	assert.Nil(t, err)
	record, err := r.Read()
	assert.Nil(t, err)
	value, ok := record.Get("BLOB")
	assert.True(t, ok)
	assert.Equal(t, big, value.Bytes())
}

func TestWriter_IdleCommit(t *testing.T) {
	defer leaktest.Check(t)()
	root := t.TempDir()
	w := openTestWriter(t, root, WithIdleCommitInterval(50*time.Millisecond))
	defer w.Close()
	r := openTestReader(t, root)
	defer r.Close()

	assert.Nil(t, w.Write(indexRecord(0)))

	var record *model.Record
	assert.Eventually(t, func() bool {
		var err error
		record, err = r.Read()
		return err == nil && record != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "0", record.GetString("index"))
}

func TestWriter_MultipleWriters(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root)

	_, err := OpenWriter(testLog, "event", 1, WithRootFolder(root))
	assert.True(t, errors.Is(err, ErrMultipleWriters))
	var logErr *LogError
	assert.True(t, errors.As(err, &logErr))
	assert.Equal(t, testLog, logErr.Log)

	// a reader is not affected by the writer lock
	r := openTestReader(t, root)
	assert.Nil(t, r.Close())

	assert.Nil(t, w.Close())
	w = openTestWriter(t, root)
	assert.Nil(t, w.Close())
}

func TestWriter_UncommittedCleanup(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, testLog)
	require.Nil(t, os.MkdirAll(dir, os.ModePerm))

	// a writer that crashed before committing
	seg, err := segment.Create(dir, 5, model.Schema{Name: "event"}, segment.Options{})
	require.Nil(t, err)
	require.Nil(t, seg.Write(indexRecord(99)))
	require.Nil(t, seg.Abort())
	require.Len(t, segmentFiles(t, root, model.UncommittedSuffix), 1)

	w := openTestWriter(t, root)
	defer w.Close()
	assert.Equal(t, []string{filepath.Base(model.GetSegmentName(dir, 6, false))},
		segmentFiles(t, root, model.UncommittedSuffix))

	writeIndexes(t, w, 0, 2)
	assert.Nil(t, w.Commit())
	assert.Equal(t, []string{filepath.Base(model.GetSegmentName(dir, 6, true))},
		segmentFiles(t, root, model.CommittedSuffix))

	r := openTestReader(t, root)
	defer r.Close()
	assert.Equal(t, indexes(0, 2), readIndexes(t, r))
}

func TestWriter_Close(t *testing.T) {
	defer leaktest.Check(t)()
	root := t.TempDir()
	w := openTestWriter(t, root, WithIdleCommitInterval(time.Hour), WithPurgeInterval(time.Hour))

	writeIndexes(t, w, 0, 4)
	assert.Nil(t, w.Close())
	assert.Nil(t, w.Close())

	assert.Equal(t, ErrClosed, w.Write(indexRecord(4)))
	assert.Equal(t, ErrClosed, w.Commit())
	assert.Equal(t, ErrClosed, <-w.Purge())
	_, err := w.Stats()
	assert.Equal(t, ErrClosed, err)
	assert.Empty(t, segmentFiles(t, root, model.UncommittedSuffix))

	// close committed the pending records
	r := openTestReader(t, root)
	defer r.Close()
	assert.Equal(t, indexes(0, 4), readIndexes(t, r))
}

func TestWriter_NilRecord(t *testing.T) {
	w := openTestWriter(t, t.TempDir())
	defer w.Close()
	assert.Equal(t, ErrNilRecord, w.Write(nil))
}

func TestWriter_Concurrent(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root, WithMaxFileSize(2048))
	defer w.Close()

	const producers, perProducer = 8, 100
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				record := model.NewRecord().
					SetString("producer", strconv.Itoa(p)).
					SetString("index", strconv.Itoa(i))
				assert.Nil(t, w.Write(record))
			}
		}(p)
	}
	wg.Wait()
	assert.Nil(t, w.Commit())

	r := openTestReader(t, root)
	defer r.Close()
	next := make(map[string]int)
	var total int
	for {
		record, err := r.Read()
		require.Nil(t, err)
		if record == nil {
			break
		}
		producer := record.GetString("producer")
		assert.Equal(t, strconv.Itoa(next[producer]), record.GetString("index"))
		next[producer]++
		total++
	}
	assert.Equal(t, producers*perProducer, total)
}

func TestWriter_Stats(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root)
	defer w.Close()

	writeIndexes(t, w, 0, 3)
	assert.Nil(t, w.Commit())
	writeIndexes(t, w, 3, 5)

	stats, err := w.Stats()
	assert.Nil(t, err)
	assert.Equal(t, 1, stats.Segments)
	assert.Equal(t, uint64(3), stats.Records)
	assert.Equal(t, uint64(2), stats.Pending)
	assert.False(t, stats.Oldest.IsZero())
	assert.Equal(t, stats.Oldest, stats.Newest)

	fromDisk, err := Stat(testLog, WithRootFolder(root))
	assert.Nil(t, err)
	assert.Equal(t, stats.Size, fromDisk.Size)
	assert.Equal(t, uint64(0), fromDisk.Pending)
}

func TestWriter_SequenceAfterClear(t *testing.T) {
	root := t.TempDir()
	w := openTestWriter(t, root)
	writeIndexes(t, w, 0, 2)
	assert.Nil(t, w.Close())

	r := openTestReader(t, root)
	assert.Equal(t, indexes(0, 2), readIndexes(t, r))
	before, err := r.Position()
	assert.Nil(t, err)
	assert.Nil(t, r.Clear())
	assert.Nil(t, r.Close())

	// a new writer on the emptied log must not reuse the old sequences
	w = openTestWriter(t, root)
	writeIndexes(t, w, 2, 4)
	assert.Nil(t, w.Close())

	r = openTestReader(t, root)
	defer r.Close()
	assert.Nil(t, r.SetPosition(before))
	assert.Equal(t, indexes(2, 4), readIndexes(t, r))
}

func ExampleWriter() {
	root, _ := os.MkdirTemp("", "applog")
	defer os.RemoveAll(root)

	w, _ := OpenWriter("orders", "order", 1, WithRootFolder(root))
	_ = w.Write(model.NewRecord().SetString("id", "42").SetBytes("payload", []byte("{}")))
	_ = w.Close()

	r, _ := OpenReader("orders", WithRootFolder(root))
	defer r.Close()
	record, _ := r.Read()
	fmt.Println(record.GetString("id"), record.Schema.Name)
	// Output: 42 order
}
