package blocks_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/types"
)

var testConfig = blocks.Config{
	HeaderSize: 128,
	BlockSize:  64,
}

func newStore(requireT *require.Assertions) (*blocks.Store, *persistent.MemoryStore) {
	ms := persistent.NewMemoryStore(nil)
	s, err := blocks.Create(ms, testConfig)
	requireT.NoError(err)
	return s, ms
}

func collectFreeBlocks(requireT *require.Assertions, s *blocks.Store) []types.BlockAddress {
	addresses := []types.BlockAddress{}
	for address, err := range s.FreeBlocks() {
		requireT.NoError(err)
		addresses = append(addresses, address)
	}
	return addresses
}

func TestCreateAndOpen(t *testing.T) {
	requireT := require.New(t)
	s, ms := newStore(requireT)

	requireT.EqualValues(testConfig.HeaderSize, ms.Size())
	requireT.EqualValues(1, s.NumOfBlocks())
	requireT.Equal([]byte(blocks.Signature), ms.Bytes()[:6])

	requireT.NoError(s.SetUserHeader([]byte("user header")))
	s.SetDirty(true)
	requireT.NoError(s.Flush())

	s2, err := blocks.Open(ms)
	requireT.NoError(err)
	requireT.Equal(blocks.Header{
		Config:        testConfig,
		Dirty:         true,
		FreeBlockHead: types.NoBlock,
	}, s2.Header())
	requireT.True(bytes.HasPrefix(s2.UserHeader(), []byte("user header")))
	requireT.Len(s2.UserHeader(), int(testConfig.HeaderSize-blocks.UserHeaderOffset))
}

func TestOpenErrors(t *testing.T) {
	requireT := require.New(t)

	_, err := blocks.Open(persistent.NewMemoryStore([]byte("short")))
	requireT.ErrorIs(err, types.ErrUnsupportedFormat)

	_, err = blocks.Open(persistent.NewMemoryStore(bytes.Repeat([]byte{'x'}, 256)))
	requireT.ErrorIs(err, types.ErrUnsupportedFormat)

	_, ms := newStore(requireT)
	data := append([]byte{}, ms.Bytes()...)
	data[10], data[11], data[12], data[13] = 0, 0, 0, 1
	_, err = blocks.Open(persistent.NewMemoryStore(data))
	requireT.ErrorIs(err, types.ErrCorruptTree)

	_, ms = newStore(requireT)
	_, err = blocks.Open(persistent.NewMemoryStore(ms.Bytes()[:100]))
	requireT.ErrorIs(err, types.ErrCorruptTree)

	_, err = blocks.Create(persistent.NewMemoryStore(nil), blocks.Config{HeaderSize: 16, BlockSize: 64})
	requireT.ErrorIs(err, types.ErrInvalidConfig)
}

func TestReadBlockOutOfRange(t *testing.T) {
	requireT := require.New(t)
	s, _ := newStore(requireT)

	_, err := s.ReadBlock(types.HeaderBlock)
	requireT.ErrorIs(err, types.ErrOutOfRange)

	_, err = s.ReadBlock(1)
	requireT.ErrorIs(err, types.ErrOutOfRange)

	address, err := s.AllocateBlock()
	requireT.NoError(err)
	requireT.Equal(types.BlockAddress(1), address)

	block, err := s.ReadBlock(address)
	requireT.NoError(err)
	requireT.Equal(make([]byte, testConfig.BlockSize), block)

	_, err = s.ReadBlock(2)
	requireT.ErrorIs(err, types.ErrOutOfRange)
}

func TestAllocateAndFree(t *testing.T) {
	requireT := require.New(t)
	s, ms := newStore(requireT)

	addresses := []types.BlockAddress{}
	for range 5 {
		address, err := s.AllocateBlock()
		requireT.NoError(err)
		addresses = append(addresses, address)
	}
	requireT.Equal([]types.BlockAddress{1, 2, 3, 4, 5}, addresses)
	requireT.EqualValues(testConfig.HeaderSize+5*testConfig.BlockSize, ms.Size())
	requireT.Empty(collectFreeBlocks(requireT, s))

	requireT.NoError(s.FreeBlock(2))
	requireT.NoError(s.FreeBlock(4))
	requireT.Equal([]types.BlockAddress{4, 2}, collectFreeBlocks(requireT, s))

	block, err := s.ReadBlock(4)
	requireT.NoError(err)
	requireT.Equal(types.FreeSignature[:], block[:2])

	address, err := s.AllocateBlock()
	requireT.NoError(err)
	requireT.Equal(types.BlockAddress(4), address)

	address, err = s.AllocateBlock()
	requireT.NoError(err)
	requireT.Equal(types.BlockAddress(2), address)

	address, err = s.AllocateBlock()
	requireT.NoError(err)
	requireT.Equal(types.BlockAddress(6), address)
	requireT.Equal(types.NoBlock, s.Header().FreeBlockHead)
}

func TestFreeListSurvivesReopen(t *testing.T) {
	requireT := require.New(t)
	s, ms := newStore(requireT)

	for range 3 {
		_, err := s.AllocateBlock()
		requireT.NoError(err)
	}
	requireT.NoError(s.FreeBlock(1))
	requireT.NoError(s.FreeBlock(3))
	requireT.NoError(s.Flush())

	s2, err := blocks.Open(ms)
	requireT.NoError(err)
	requireT.Equal([]types.BlockAddress{3, 1}, collectFreeBlocks(requireT, s2))
}

func TestDamagedFreeListIsAbandoned(t *testing.T) {
	requireT := require.New(t)
	s, _ := newStore(requireT)

	for range 2 {
		_, err := s.AllocateBlock()
		requireT.NoError(err)
	}
	requireT.NoError(s.FreeBlock(1))

	// Simulates block taken from the free list and written before the header was committed.
	requireT.NoError(s.WriteBlock(1, []byte("LL")))

	for _, err := range s.FreeBlocks() {
		requireT.ErrorIs(err, types.ErrCorruptTree)
	}

	address, err := s.AllocateBlock()
	requireT.NoError(err)
	requireT.Equal(types.BlockAddress(3), address)
	requireT.Equal(types.NoBlock, s.Header().FreeBlockHead)
}

func TestChainSingleBlock(t *testing.T) {
	requireT := require.New(t)
	s, _ := newStore(requireT)

	first, err := s.AllocateBlock()
	requireT.NoError(err)

	data := []byte("short payload")
	_, err = s.WriteChain(first, types.LeafSignature, data)
	requireT.NoError(err)
	requireT.EqualValues(2, s.NumOfBlocks())

	read, signature, err := s.ReadChain(first)
	requireT.NoError(err)
	requireT.Equal(types.LeafSignature, signature)
	requireT.Equal(data, read)
}

func TestChainMultipleBlocks(t *testing.T) {
	requireT := require.New(t)
	s, _ := newStore(requireT)

	first, err := s.AllocateBlock()
	requireT.NoError(err)

	data := bytes.Repeat([]byte("0123456789"), 30)
	_, err = s.WriteChain(first, types.LeafSignature, data)
	requireT.NoError(err)

	payloadSize := int(testConfig.BlockSize - blocks.ChainHeaderSize)
	expectedBlocks := (len(data) + payloadSize - 1) / payloadSize

	addresses, err := s.ChainBlocks(first)
	requireT.NoError(err)
	requireT.Len(addresses, expectedBlocks)

	block, err := s.ReadBlock(addresses[1])
	requireT.NoError(err)
	requireT.Equal(types.ContinuationSignature[:], block[:2])

	read, signature, err := s.ReadChain(first)
	requireT.NoError(err)
	requireT.Equal(types.LeafSignature, signature)
	requireT.Equal(data, read)

	requireT.NoError(s.FreeChain(first))
	requireT.ElementsMatch(addresses, collectFreeBlocks(requireT, s))
}

func TestChainEmptyPayload(t *testing.T) {
	requireT := require.New(t)
	s, _ := newStore(requireT)

	first, err := s.AllocateBlock()
	requireT.NoError(err)
	_, err = s.WriteChain(first, types.IndexSignature, nil)
	requireT.NoError(err)

	read, signature, err := s.ReadChain(first)
	requireT.NoError(err)
	requireT.Equal(types.IndexSignature, signature)
	requireT.Empty(read)
}

func TestChainCorruption(t *testing.T) {
	requireT := require.New(t)
	s, _ := newStore(requireT)

	first, err := s.AllocateBlock()
	requireT.NoError(err)
	_, err = s.WriteChain(first, types.LeafSignature, bytes.Repeat([]byte{0xaa}, 100))
	requireT.NoError(err)
	addresses, err := s.ChainBlocks(first)
	requireT.NoError(err)
	requireT.Len(addresses, 2)

	// Next pointer of the last block points back to the first one.
	block, err := s.ReadBlock(addresses[1])
	requireT.NoError(err)
	block[6], block[7], block[8], block[9] = 0, 0, 0, byte(first)
	requireT.NoError(s.WriteBlock(addresses[1], block))
	_, _, err = s.ReadChain(first)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	// Next pointer beyond the end of the stream.
	block[9] = 0x7f
	requireT.NoError(s.WriteBlock(addresses[1], block))
	_, _, err = s.ReadChain(first)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	// Payload length exceeding the block.
	block[6], block[7], block[8], block[9] = 0xff, 0xff, 0xff, 0xff
	block[2], block[3], block[4], block[5] = 0, 0, 1, 0
	requireT.NoError(s.WriteBlock(addresses[1], block))
	_, _, err = s.ReadChain(first)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	// Chain can't start with continuation block.
	_, _, err = s.ReadChain(addresses[1])
	requireT.ErrorIs(err, types.ErrCorruptTree)
}

func TestAttach(t *testing.T) {
	requireT := require.New(t)
	s, ms := newStore(requireT)

	first, err := s.AllocateBlock()
	requireT.NoError(err)
	_, err = s.WriteChain(first, types.LeafSignature, []byte("attached"))
	requireT.NoError(err)

	// Header is destroyed, geometry is provided externally.
	data := append([]byte{}, ms.Bytes()...)
	clear(data[:testConfig.HeaderSize])

	attached, err := blocks.Attach(persistent.NewReadOnlyStore(data), testConfig)
	requireT.NoError(err)
	requireT.EqualValues(2, attached.NumOfBlocks())

	read, _, err := attached.ReadChain(first)
	requireT.NoError(err)
	requireT.Equal([]byte("attached"), read)
}
