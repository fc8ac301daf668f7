package applog

import (
	"github.com/cqkv/applog/model"
	"github.com/pkg/errors"
)

var (
	ErrEmptyName         = addPrefix("the log name is empty")
	ErrInvalidName       = addPrefix("the log name must be a single path element")
	ErrClosed            = addPrefix("log is closed")
	ErrSchemaTooLong     = addPrefix("schema name is too long")
	ErrExceedMaxBatchNum = addPrefix("exceed the max batch num")
	ErrNilRecord         = addPrefix("record is nil")

	ErrMultipleWriters = &LogError{Reason: "multiple writers"}
	ErrMultipleReaders = &LogError{Reason: "multiple readers"}
)

type (
	CorruptRecordError   = model.CorruptRecordError
	InvalidPositionError = model.InvalidPositionError
	IOError              = model.IOError
)

func addPrefix(errStr string) error {
	return errors.Errorf("applog err: %s", errStr)
}

// LogError reports a structural failure of a named log, such as a second
// writer or reader trying to open it
type LogError struct {
	Log    string
	Reason string
}

func (e *LogError) Error() string {
	if e.Log == "" {
		return "applog err: " + e.Reason
	}
	return "applog err: " + e.Log + ": " + e.Reason
}

// Is matches LogErrors with the same reason, so errors.Is(err, ErrMultipleWriters) works
func (e *LogError) Is(target error) bool {
	t, ok := target.(*LogError)
	return ok && t.Reason == e.Reason
}
