package applog

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cqkv/applog/fio"
	"github.com/cqkv/applog/model"
	"github.com/pkg/errors"
)

// Reserved position tokens, resolved every time they are used
const (
	// Beginning is the oldest live record of the log
	Beginning = "BEGINNING"
	// End is just after the last committed record; only records committed
	// later are read from there
	End = "END"
)

// resolve turns token into a cursor. The cursor addresses the first live
// record at or after Offset in segment Seq, or in any later segment.
func (r *Reader) resolve(token string) (model.Position, error) {
	switch token {
	case Beginning:
		return model.Position{}, nil
	case End:
		newest, found, err := r.dir.newestSeq()
		if err != nil || !found {
			return model.Position{}, err
		}
		return model.Position{Seq: newest + 1}, nil
	}

	pos, err := r.options.codec.UnmarshalPosition(token)
	if err != nil {
		return pos, withToken(err, token)
	}
	return pos, nil
}

func withToken(err error, token string) error {
	var invalid *model.InvalidPositionError
	if errors.As(err, &invalid) && invalid.Token == "" {
		return &model.InvalidPositionError{Token: token, Reason: invalid.Reason}
	}
	return err
}

func (r *Reader) positionPath() string {
	return filepath.Join(r.dir.path, model.PositionName)
}

// loadPosition returns the token stored by the last reader, or "" if there is none
func (r *Reader) loadPosition() (string, error) {
	data, err := os.ReadFile(r.positionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", model.IOErr("read", r.positionPath(), err)
	}
	return strings.TrimSpace(string(data)), nil
}

// savePosition stores token through a temporary file renamed over the old one
func (r *Reader) savePosition(token string) error {
	path := r.positionPath()
	tmp := path + ".tmp"

	iom, err := r.options.ioManagerCreator(tmp, fio.ModeCreate)
	if err != nil {
		return model.IOErr("create", tmp, err)
	}
	if _, err = iom.Write([]byte(token)); err != nil {
		_ = iom.Close()
		return model.IOErr("write", tmp, err)
	}
	if err = iom.Sync(); err != nil {
		_ = iom.Close()
		return model.IOErr("sync", tmp, err)
	}
	if err = iom.Close(); err != nil {
		return model.IOErr("close", tmp, err)
	}

	if err = os.Rename(tmp, path); err != nil {
		return model.IOErr("rename", tmp, err)
	}
	return model.IOErr("sync dir", r.dir.path, fio.SyncDir(r.dir.path))
}
