package model

import (
	"fmt"
)

// CorruptRecordError is returned when a segment header or record payload cannot be decoded
type CorruptRecordError struct {
	Path   string
	Offset int64
	Reason string
}

func (e *CorruptRecordError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("applog err: corrupt record: %s", e.Reason)
	}
	return fmt.Sprintf("applog err: corrupt record in %s at offset %d: %s", e.Path, e.Offset, e.Reason)
}

func Corrupt(format string, args ...interface{}) *CorruptRecordError {
	return &CorruptRecordError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidPositionError is returned when a position does not resolve
// to a location in the current segment set
type InvalidPositionError struct {
	Token  string
	Reason string
}

func (e *InvalidPositionError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("applog err: invalid position: %s", e.Reason)
	}
	return fmt.Sprintf("applog err: invalid position %q: %s", e.Token, e.Reason)
}

// IOError wraps a failure of the underlying storage
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("applog err: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IOErr wraps err in an IOError, nil stays nil
func IOErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*IOError); ok {
		return err
	}
	return &IOError{Op: op, Path: path, Err: err}
}
