package blocks

import (
	"encoding/binary"
	"iter"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/types"
)

// Open opens block file stored in the stream.
func Open(store persistent.Store) (*Store, error) {
	if store.Size() < UserHeaderOffset {
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "stream of %d bytes is too short", store.Size())
	}
	prefix := make([]byte, UserHeaderOffset)
	if err := store.Read(0, prefix); err != nil {
		return nil, err
	}
	header, err := ParseHeader(prefix)
	if err != nil {
		return nil, err
	}
	if store.Size() < uint64(header.HeaderSize) {
		return nil, errors.Wrapf(types.ErrCorruptTree, "stream of %d bytes can't hold header of %d bytes",
			store.Size(), header.HeaderSize)
	}

	userHeader := make([]byte, header.HeaderSize-UserHeaderOffset)
	if err := store.Read(UserHeaderOffset, userHeader); err != nil {
		return nil, err
	}

	s := newStore(store, header)
	s.userHeader = userHeader
	return s, nil
}

// Create initializes empty block file in the stream.
func Create(store persistent.Store, config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := newStore(store, Header{
		Config:        config,
		FreeBlockHead: types.NoBlock,
	})
	s.numOfBlocks = 1
	if err := s.Flush(); err != nil {
		return nil, err
	}
	return s, nil
}

// Attach interprets the stream using provided geometry without reading the header. Used to scan damaged files.
func Attach(store persistent.Store, config Config) (*Store, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return newStore(store, Header{
		Config:        config,
		FreeBlockHead: types.NoBlock,
	}), nil
}

func newStore(store persistent.Store, header Header) *Store {
	var numOfBlocks uint64 = 1
	if size := store.Size(); size > uint64(header.HeaderSize) {
		numOfBlocks += (size - uint64(header.HeaderSize)) / uint64(header.BlockSize)
	}

	return &Store{
		store:       store,
		header:      header,
		userHeader:  make([]byte, header.HeaderSize-UserHeaderOffset),
		numOfBlocks: min(numOfBlocks, uint64(types.NoBlock)),
		zeroBlock:   make([]byte, header.BlockSize),
	}
}

// Store maps byte stream to the space of fixed-size blocks.
type Store struct {
	store       persistent.Store
	header      Header
	userHeader  []byte
	numOfBlocks uint64
	zeroBlock   []byte
}

// Header returns block-level header.
func (s *Store) Header() Header {
	return s.header
}

// BlockSize returns size of the block.
func (s *Store) BlockSize() uint32 {
	return s.header.BlockSize
}

// PayloadSize returns number of bytes available for payload in chained block.
func (s *Store) PayloadSize() uint32 {
	return s.header.BlockSize - ChainHeaderSize
}

// NumOfBlocks returns number of blocks in the file, including the header block.
func (s *Store) NumOfBlocks() uint64 {
	return s.numOfBlocks
}

// UserHeader returns the copy of header bytes following the block-level header.
func (s *Store) UserHeader() []byte {
	return append([]byte{}, s.userHeader...)
}

// SetUserHeader sets header bytes following the block-level header. They are stored on Flush.
func (s *Store) SetUserHeader(data []byte) error {
	if len(data) > len(s.userHeader) {
		return errors.Errorf("user header of %d bytes exceeds available %d bytes", len(data), len(s.userHeader))
	}
	clear(s.userHeader)
	copy(s.userHeader, data)
	return nil
}

// SetDirty sets the dirty flag stored on Flush.
func (s *Store) SetDirty(dirty bool) {
	s.header.Dirty = dirty
}

// Flush writes header. It is the commit point of the layers built on top of the store.
func (s *Store) Flush() error {
	buf := make([]byte, s.header.HeaderSize)
	s.header.Encode(buf)
	copy(buf[UserHeaderOffset:], s.userHeader)
	return s.store.Write(0, buf)
}

func (s *Store) offset(address types.BlockAddress) uint64 {
	return uint64(s.header.HeaderSize) + uint64(address-1)*uint64(s.header.BlockSize)
}

func (s *Store) checkAddress(address types.BlockAddress) error {
	if address == types.HeaderBlock || uint64(address) >= s.numOfBlocks {
		return errors.Wrapf(types.ErrOutOfRange, "block %d, number of blocks: %d", address, s.numOfBlocks)
	}
	return nil
}

// ReadBlock returns content of the block.
func (s *Store) ReadBlock(address types.BlockAddress) ([]byte, error) {
	if err := s.checkAddress(address); err != nil {
		return nil, err
	}
	block := make([]byte, s.header.BlockSize)
	if err := s.store.Read(s.offset(address), block); err != nil {
		return nil, err
	}
	return block, nil
}

// WriteBlock writes content of the block. Data shorter than block is zero-padded.
func (s *Store) WriteBlock(address types.BlockAddress, data []byte) error {
	if err := s.checkAddress(address); err != nil {
		return err
	}
	if len(data) > len(s.zeroBlock) {
		return errors.Errorf("%d bytes don't fit in block of %d bytes", len(data), len(s.zeroBlock))
	}
	if len(data) < len(s.zeroBlock) {
		data = append(append(make([]byte, 0, len(s.zeroBlock)), data...), s.zeroBlock[len(data):]...)
	}
	return s.store.Write(s.offset(address), data)
}

// AllocateBlock returns block from the free list or appends new one to the stream.
func (s *Store) AllocateBlock() (types.BlockAddress, error) {
	if address := s.header.FreeBlockHead; address != types.NoBlock {
		if next, ok := s.freeBlockNext(address); ok {
			s.header.FreeBlockHead = next
			return address, nil
		}
		// Free list is damaged, e.g. by a write interrupted before commit. Remaining blocks are abandoned.
		s.header.FreeBlockHead = types.NoBlock
	}

	if s.numOfBlocks >= uint64(types.NoBlock) {
		return 0, errors.New("address space exhausted")
	}
	address := types.BlockAddress(s.numOfBlocks)
	if err := s.store.Write(s.offset(address), s.zeroBlock); err != nil {
		return 0, err
	}
	s.numOfBlocks++
	return address, nil
}

func (s *Store) freeBlockNext(address types.BlockAddress) (types.BlockAddress, bool) {
	block, err := s.ReadBlock(address)
	if err != nil || types.Signature(block[:types.SignatureLength]) != types.FreeSignature {
		return 0, false
	}
	next := types.BlockAddress(binary.BigEndian.Uint32(block[types.SignatureLength:]))
	if next != types.NoBlock && s.checkAddress(next) != nil {
		return 0, false
	}
	return next, true
}

// FreeBlock pushes block onto the free list.
func (s *Store) FreeBlock(address types.BlockAddress) error {
	buf := make([]byte, types.SignatureLength+types.UInt32Length)
	copy(buf, types.FreeSignature[:])
	binary.BigEndian.PutUint32(buf[types.SignatureLength:], uint32(s.header.FreeBlockHead))
	if err := s.WriteBlock(address, buf); err != nil {
		return err
	}
	s.header.FreeBlockHead = address
	return nil
}

// FreeBlocks iterates over the free list.
func (s *Store) FreeBlocks() iter.Seq2[types.BlockAddress, error] {
	return func(yield func(types.BlockAddress, error) bool) {
		visited := map[types.BlockAddress]struct{}{}
		for address := s.header.FreeBlockHead; address != types.NoBlock; {
			if _, exists := visited[address]; exists {
				yield(0, errors.Wrapf(types.ErrCorruptTree, "free list cycles at block %d", address))
				return
			}
			visited[address] = struct{}{}

			next, ok := s.freeBlockNext(address)
			if !ok {
				yield(0, errors.Wrapf(types.ErrCorruptTree, "block %d on the free list is not free", address))
				return
			}
			if !yield(address, nil) {
				return
			}
			address = next
		}
	}
}
