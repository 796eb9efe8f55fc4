package persistent

import (
	"github.com/pkg/errors"
)

// NewMemoryStore creates new in-memory store taking ownership of data.
func NewMemoryStore(data []byte) *MemoryStore {
	return &MemoryStore{
		data: data,
	}
}

// MemoryStore defines growable in-memory store. Every parse and repair session uses its own one.
type MemoryStore struct {
	data []byte
}

// Size returns size of the store.
func (s *MemoryStore) Size() uint64 {
	return uint64(len(s.data))
}

// Read reads data from the store.
func (s *MemoryStore) Read(offset uint64, data []byte) error {
	return read(s.data, offset, data)
}

// Write writes data to the store, extending it if needed.
func (s *MemoryStore) Write(offset uint64, data []byte) error {
	end := offset + uint64(len(data))
	if end > uint64(len(s.data)) {
		if end > uint64(cap(s.data)) {
			grown := make([]byte, end, max(end, 2*uint64(cap(s.data))))
			copy(grown, s.data)
			s.data = grown
		} else {
			s.data = s.data[:end]
		}
	}
	copy(s.data[offset:], data)
	return nil
}

// Bytes returns the content of the store.
func (s *MemoryStore) Bytes() []byte {
	return s.data
}

// NewReadOnlyStore creates store exposing data without permitting modifications.
func NewReadOnlyStore(data []byte) *ReadOnlyStore {
	return &ReadOnlyStore{
		data: data,
	}
}

// ReadOnlyStore is the store used to parse data owned by the caller.
type ReadOnlyStore struct {
	data []byte
}

// Size returns size of the store.
func (s *ReadOnlyStore) Size() uint64 {
	return uint64(len(s.data))
}

// Read reads data from the store.
func (s *ReadOnlyStore) Read(offset uint64, data []byte) error {
	return read(s.data, offset, data)
}

// Write always fails.
func (s *ReadOnlyStore) Write(_ uint64, _ []byte) error {
	return errors.New("store is read-only")
}

func read(src []byte, offset uint64, data []byte) error {
	if offset > uint64(len(src)) || uint64(len(data)) > uint64(len(src))-offset {
		return errors.Errorf("read of %d bytes at offset %d exceeds store size %d", len(data), offset, len(src))
	}
	copy(data, src[offset:])
	return nil
}
