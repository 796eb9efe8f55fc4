package persistent

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// NewFileStore creates new file-based store.
func NewFileStore(file *os.File) (*FileStore, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return &FileStore{
		file: file,
		size: uint64(info.Size()),
	}, nil
}

// FileStore defines persistent file-based store.
type FileStore struct {
	file *os.File
	size uint64
}

// Size returns size of the store.
func (s *FileStore) Size() uint64 {
	return s.size
}

// Read reads data from the store.
func (s *FileStore) Read(offset uint64, data []byte) error {
	if offset+uint64(len(data)) > s.size {
		return errors.Errorf("read of %d bytes at offset %d exceeds store size %d", len(data), offset, s.size)
	}
	_, err := s.file.ReadAt(data, int64(offset))
	return errors.WithStack(err)
}

// Write writes data to the store.
func (s *FileStore) Write(offset uint64, data []byte) error {
	if _, err := s.file.WriteAt(data, int64(offset)); err != nil {
		return errors.WithStack(err)
	}
	s.size = max(s.size, offset+uint64(len(data)))
	return nil
}

// Sync syncs pending writes.
func (s *FileStore) Sync() error {
	return errors.WithStack(unix.Fdatasync(int(s.file.Fd())))
}

// MapFile maps the file into memory in read-only mode.
func MapFile(path string) ([]byte, func(), error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}
	if info.Size() == 0 {
		return []byte{}, func() {}, nil
	}

	data, err := unix.Mmap(int(file.Fd()), 0, int(info.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "mapping %s failed", path)
	}

	return data, func() {
		_ = unix.Munmap(data)
	}, nil
}
