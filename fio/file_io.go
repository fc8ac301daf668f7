package fio

import (
	"os"

	"github.com/pkg/errors"
)

var _ IOManager = (*FileIO)(nil)

// FileIO is the default implement for IOManager
type FileIO struct {
	fd *os.File
}

// NewFileIO opens file in the given mode
func NewFileIO(file string, mode OpenMode) (IOManager, error) {
	var flag int
	switch mode {
	case ModeCreate:
		flag = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	case ModeReadWrite:
		flag = os.O_RDWR
	case ModeReadOnly:
		flag = os.O_RDONLY
	default:
		return nil, errors.Errorf("fio: unknown open mode %d", mode)
	}
	fd, err := os.OpenFile(file, flag, 0644)
	if err != nil {
		return nil, err
	}
	return &FileIO{fd: fd}, nil
}

func (fio *FileIO) ReadAt(buf []byte, offset int64) (int, error) {
	return fio.fd.ReadAt(buf, offset)
}

func (fio *FileIO) WriteAt(data []byte, offset int64) (int, error) {
	return fio.fd.WriteAt(data, offset)
}

func (fio *FileIO) Write(data []byte) (int, error) {
	return fio.fd.Write(data)
}

func (fio *FileIO) Sync() error {
	return syncData(fio.fd)
}

func (fio *FileIO) Size() (int64, error) {
	info, err := fio.fd.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (fio *FileIO) Name() string {
	return fio.fd.Name()
}

func (fio *FileIO) Close() error {
	return fio.fd.Close()
}
