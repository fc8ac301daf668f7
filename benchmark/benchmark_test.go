package benchmark

import (
	"os"
	"strconv"
	"testing"

	"github.com/cqkv/applog"
	"github.com/cqkv/applog/model"
	"github.com/stretchr/testify/assert"
)

var payload = make([]byte, 256)

func newRecord(i int) *model.Record {
	return model.NewRecord().
		SetString("index", strconv.Itoa(i)).
		SetBytes("payload", payload)
}

func openWriter(b *testing.B, root string) *applog.Writer {
	w, err := applog.OpenWriter("bench", "bench", 1,
		applog.WithRootFolder(root),
		applog.WithIdleCommitInterval(0),
		applog.WithMaxLogSize(0),
	)
	if err != nil {
		b.Fatal(err)
	}
	return w
}

// Benchmark_Write .
func Benchmark_Write(b *testing.B) {
	root, err := os.MkdirTemp("", "applog-bench")
	assert.Nil(b, err)
	defer os.RemoveAll(root)
	w := openWriter(b, root)
	defer w.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		err := w.Write(newRecord(i))
		assert.Nil(b, err)
	}
	assert.Nil(b, w.Commit())
}

// Benchmark_WriteCommit commits after every record
func Benchmark_WriteCommit(b *testing.B) {
	root, err := os.MkdirTemp("", "applog-bench")
	assert.Nil(b, err)
	defer os.RemoveAll(root)
	w := openWriter(b, root)
	defer w.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		assert.Nil(b, w.Write(newRecord(i)))
		assert.Nil(b, w.Commit())
	}
}

// Benchmark_Read .
func Benchmark_Read(b *testing.B) {
	root, err := os.MkdirTemp("", "applog-bench")
	assert.Nil(b, err)
	defer os.RemoveAll(root)

	w := openWriter(b, root)
	for i := 0; i < b.N; i++ {
		assert.Nil(b, w.Write(newRecord(i)))
	}
	assert.Nil(b, w.Close())

	r, err := applog.OpenReader("bench", applog.WithRootFolder(root), applog.WithPollInterval(0))
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		record, err := r.Read()
		if err != nil || record == nil {
			b.Fatal(err)
		}
	}
}

// Benchmark_ReadDelete .
func Benchmark_ReadDelete(b *testing.B) {
	root, err := os.MkdirTemp("", "applog-bench")
	assert.Nil(b, err)
	defer os.RemoveAll(root)

	w := openWriter(b, root)
	for i := 0; i < b.N; i++ {
		assert.Nil(b, w.Write(newRecord(i)))
	}
	assert.Nil(b, w.Close())

	r, err := applog.OpenReader("bench", applog.WithRootFolder(root), applog.WithPollInterval(0))
	if err != nil {
		b.Fatal(err)
	}
	defer r.Close()

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		record, err := r.ReadDelete()
		if err != nil || record == nil {
			b.Fatal(err)
		}
	}
}
