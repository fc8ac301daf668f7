package fio

import "io"

// Future is the pending result of an operation started on another goroutine
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Go runs fn on a new goroutine and returns its future
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn()
	}()
	return f
}

// Done is closed once the result is available
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the operation finished
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

func ReadAtAsync(r io.ReaderAt, buf []byte, offset int64) *Future[int] {
	return Go(func() (int, error) {
		return r.ReadAt(buf, offset)
	})
}

func WriteAtAsync(w io.WriterAt, data []byte, offset int64) *Future[int] {
	return Go(func() (int, error) {
		return w.WriteAt(data, offset)
	})
}
