package btree

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/types"
)

func newTree(requireT *require.Assertions, blockSize uint32) (*Tree, *persistent.MemoryStore) {
	ms := persistent.NewMemoryStore(nil)
	s, err := blocks.Create(ms, blocks.Config{
		HeaderSize: 256,
		BlockSize:  blockSize,
	})
	requireT.NoError(err)
	tree, err := Create(s, Config{
		KeySize:    4,
		Identifier: "Test",
	})
	requireT.NoError(err)
	return tree, ms
}

func reopen(requireT *require.Assertions, ms *persistent.MemoryStore) *Tree {
	s, err := blocks.Open(ms)
	requireT.NoError(err)
	tree, err := Open(s)
	requireT.NoError(err)
	return tree
}

func key(i uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, i)
}

func collect(requireT *require.Assertions, tree *Tree) []types.Item {
	items := []types.Item{}
	for item, err := range tree.Iterator() {
		requireT.NoError(err)
		items = append(items, item)
	}
	return items
}

func TestLookupInSingleLeaf(t *testing.T) {
	requireT := require.New(t)

	ms := persistent.NewMemoryStore(nil)
	s, err := blocks.Create(ms, blocks.Config{
		HeaderSize: 512,
		BlockSize:  512,
	})
	requireT.NoError(err)

	address, err := s.AllocateBlock()
	requireT.NoError(err)
	_, err = s.WriteChain(address, types.LeafSignature, encodeLeaf([]types.Item{
		{Key: []byte("AAAA"), Value: []byte("v1")},
	}))
	requireT.NoError(err)
	root := types.RootDescriptor{Block: address, IsLeaf: true}
	requireT.NoError(s.SetUserHeader(Header{
		Identifier:    "World4",
		KeySize:       4,
		Root:          root,
		AlternateRoot: root,
	}.Encode()))
	requireT.NoError(s.Flush())
	requireT.EqualValues(2, s.NumOfBlocks())

	tree := reopen(requireT, ms)
	requireT.Equal("World4", tree.Header().Identifier)
	requireT.Equal(4, tree.KeySize())

	value, err := tree.Get([]byte("AAAA"))
	requireT.NoError(err)
	requireT.Equal([]byte("v1"), value)

	_, err = tree.Get([]byte("BBBB"))
	requireT.ErrorIs(err, types.ErrNotFound)

	_, err = tree.Get([]byte("AAA"))
	requireT.ErrorIs(err, types.ErrInvalidKey)
}

func TestEmptyTree(t *testing.T) {
	requireT := require.New(t)
	tree, _ := newTree(requireT, 128)

	_, err := tree.Get(key(1))
	requireT.ErrorIs(err, types.ErrNotFound)
	requireT.Empty(collect(requireT, tree))
	requireT.NoError(tree.Check())
}

func TestSequentialInsertSplitsTree(t *testing.T) {
	requireT := require.New(t)
	tree, _ := newTree(requireT, 128)

	const count = 1000
	for i := range uint32(count) {
		requireT.NoError(tree.Put(key(i), []byte("value---")))
	}

	root := tree.Header().Active()
	requireT.False(root.IsLeaf)
	n, err := tree.readIndex(root.Block, nil, nil, -1)
	requireT.NoError(err)
	requireT.GreaterOrEqual(n.level, uint8(1))

	items := collect(requireT, tree)
	requireT.Len(items, count)
	for i, item := range items {
		requireT.Equal(key(uint32(i)), item.Key)
		requireT.Equal([]byte("value---"), item.Value)
	}

	for i := range uint32(count) {
		value, err := tree.Get(key(i))
		requireT.NoError(err)
		requireT.Equal([]byte("value---"), value)
	}
	requireT.NoError(tree.Check())
}

func TestLatestValueWins(t *testing.T) {
	requireT := require.New(t)
	tree, _ := newTree(requireT, 128)

	requireT.NoError(tree.Put([]byte("KKKK"), []byte("v1")))
	requireT.NoError(tree.Put([]byte("KKKK"), []byte("v2")))

	value, err := tree.Get([]byte("KKKK"))
	requireT.NoError(err)
	requireT.Equal([]byte("v2"), value)
	requireT.Equal([]types.Item{{Key: []byte("KKKK"), Value: []byte("v2")}}, collect(requireT, tree))
}

func TestReopenKeepsContent(t *testing.T) {
	requireT := require.New(t)
	tree, ms := newTree(requireT, 128)

	const count = 500
	for i := range uint32(count) {
		requireT.NoError(tree.Put(key(i*7919%count), key(i)))
	}
	expected := collect(requireT, tree)
	requireT.Len(expected, count)

	tree = reopen(requireT, ms)
	requireT.Equal(expected, collect(requireT, tree))
	requireT.NoError(tree.Check())

	// Blocks of the inactive root are released by the first commit after reopening.
	for i := range uint32(count) {
		requireT.NoError(tree.Put(key(i), []byte("updated")))
		requireT.NoError(tree.Check())
	}
	for _, item := range collect(requireT, reopen(requireT, ms)) {
		requireT.Equal([]byte("updated"), item.Value)
	}
}

func TestPreviousRootSnapshot(t *testing.T) {
	requireT := require.New(t)
	tree, _ := newTree(requireT, 128)

	requireT.NoError(tree.Put([]byte("AAAA"), []byte("first")))
	requireT.NoError(tree.Put([]byte("BBBB"), []byte("second")))

	previous := tree.Snapshot(tree.Header().Inactive())
	value, err := previous.Get([]byte("AAAA"))
	requireT.NoError(err)
	requireT.Equal([]byte("first"), value)
	_, err = previous.Get([]byte("BBBB"))
	requireT.ErrorIs(err, types.ErrNotFound)

	requireT.Error(previous.Put([]byte("CCCC"), []byte("third")))

	current := tree.Snapshot(tree.Header().Active())
	requireT.Len(collect(requireT, current), 2)
}

func TestLargeValuesAreChained(t *testing.T) {
	requireT := require.New(t)
	tree, ms := newTree(requireT, 128)

	large := bytes.Repeat([]byte("0123456789"), 100)
	requireT.NoError(tree.Put([]byte("AAAA"), []byte("small")))
	requireT.NoError(tree.Put([]byte("LLLL"), large))
	requireT.NoError(tree.Put([]byte("ZZZZ"), []byte("small")))

	tree = reopen(requireT, ms)
	value, err := tree.Get([]byte("LLLL"))
	requireT.NoError(err)
	requireT.Equal(large, value)
	requireT.Len(collect(requireT, tree), 3)
	requireT.NoError(tree.Check())
}

func TestBlocksAreReused(t *testing.T) {
	requireT := require.New(t)
	tree, _ := newTree(requireT, 128)

	for i := range uint32(100) {
		requireT.NoError(tree.Put([]byte("KKKK"), key(i)))
	}
	// Header block, blocks of the active and inactive roots and the one released by the last commit.
	requireT.EqualValues(4, tree.blocks.NumOfBlocks())
	requireT.NoError(tree.Check())
}

// headerFailingStore fails writes of the header when armed.
type headerFailingStore struct {
	*persistent.MemoryStore
	fail bool
}

func (s *headerFailingStore) Write(offset uint64, data []byte) error {
	if s.fail && offset == 0 {
		return errors.New("header write failed")
	}
	return s.MemoryStore.Write(offset, data)
}

func TestFailedCommitKeepsTreeConsistent(t *testing.T) {
	requireT := require.New(t)

	store := &headerFailingStore{MemoryStore: persistent.NewMemoryStore(nil)}
	s, err := blocks.Create(store, blocks.Config{
		HeaderSize: 256,
		BlockSize:  128,
	})
	requireT.NoError(err)
	tree, err := Create(s, Config{
		KeySize:    4,
		Identifier: "Test",
	})
	requireT.NoError(err)

	const count = 50
	for i := range uint32(count) {
		requireT.NoError(tree.Put(key(i), []byte("first")))
	}
	for i := range uint32(count) {
		requireT.NoError(tree.Put(key(i), []byte("second")))
	}
	header := tree.Header()

	store.fail = true
	requireT.Error(tree.Put(key(10), []byte("third")))
	requireT.Equal(header, tree.Header())
	requireT.NoError(tree.Check())

	value, err := tree.Get(key(10))
	requireT.NoError(err)
	requireT.Equal([]byte("second"), value)
	requireT.Len(collect(requireT, tree.Snapshot(header.Inactive())), count)

	store.fail = false
	requireT.NoError(tree.Put(key(10), []byte("third")))
	requireT.NoError(tree.Check())

	tree = reopen(requireT, store.MemoryStore)
	requireT.NoError(tree.Check())
	value, err = tree.Get(key(10))
	requireT.NoError(err)
	requireT.Equal([]byte("third"), value)
	requireT.Len(collect(requireT, tree), count)
}

func TestCorruptionIsDetected(t *testing.T) {
	requireT := require.New(t)
	tree, _ := newTree(requireT, 128)

	for i := range uint32(100) {
		requireT.NoError(tree.Put(key(i), []byte("v")))
	}
	root := tree.Header().Active()
	requireT.False(root.IsLeaf)

	// Child pointing beyond the end of the file.
	_, err := tree.blocks.WriteChain(root.Block, types.IndexSignature, encodeIndex(indexNode{
		level:    0,
		keys:     [][]byte{key(50)},
		children: []types.BlockAddress{999, 998},
	}))
	requireT.NoError(err)
	_, err = tree.Get(key(1))
	requireT.ErrorIs(err, types.ErrCorruptTree)

	// Leaf found where index is expected.
	_, err = tree.blocks.WriteChain(root.Block, types.LeafSignature, encodeLeaf(nil))
	requireT.NoError(err)
	_, err = tree.Get(key(1))
	requireT.ErrorIs(err, types.ErrCorruptTree)
	requireT.ErrorIs(tree.Put(key(1), []byte("v")), types.ErrCorruptTree)
	requireT.ErrorIs(tree.Check(), types.ErrCorruptTree)

	var iterErr error
	for _, err := range tree.Iterator() {
		iterErr = err
	}
	requireT.ErrorIs(iterErr, types.ErrCorruptTree)
}

func TestOutOfOrderChildIsDetected(t *testing.T) {
	requireT := require.New(t)
	tree, _ := newTree(requireT, 128)

	for i := range uint32(100) {
		requireT.NoError(tree.Put(key(i), []byte("v")))
	}
	root := tree.Header().Active()
	n, err := tree.readIndex(root.Block, nil, nil, -1)
	requireT.NoError(err)

	// Swapped children violate the ranges defined by separators.
	n.children[0], n.children[1] = n.children[1], n.children[0]
	_, err = tree.blocks.WriteChain(root.Block, types.IndexSignature, encodeIndex(n))
	requireT.NoError(err)

	requireT.ErrorIs(tree.Check(), types.ErrCorruptTree)
}

func TestCreateValidation(t *testing.T) {
	requireT := require.New(t)

	s, err := blocks.Create(persistent.NewMemoryStore(nil), blocks.Config{
		HeaderSize: 256,
		BlockSize:  64,
	})
	requireT.NoError(err)

	_, err = Create(s, Config{KeySize: 0})
	requireT.ErrorIs(err, types.ErrInvalidConfig)

	_, err = Create(s, Config{KeySize: MaxKeySize + 1})
	requireT.ErrorIs(err, types.ErrInvalidConfig)

	_, err = Create(s, Config{KeySize: 4, Identifier: "identifier-too-long"})
	requireT.ErrorIs(err, types.ErrInvalidConfig)

	_, err = Create(s, Config{KeySize: 32})
	requireT.ErrorIs(err, types.ErrInvalidConfig)
}

func TestOpenRejectsForeignHeader(t *testing.T) {
	requireT := require.New(t)

	ms := persistent.NewMemoryStore(nil)
	s, err := blocks.Create(ms, blocks.DefaultConfig())
	requireT.NoError(err)

	_, err = Open(s)
	requireT.ErrorIs(err, types.ErrUnsupportedFormat)
}
