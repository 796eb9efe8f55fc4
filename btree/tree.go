package btree

import (
	"bytes"
	"iter"
	"slices"
	"sort"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/types"
)

// maxDepth limits descent so cycles in damaged files terminate.
const maxDepth = 64

// Create creates empty tree in the block store.
func Create(store *blocks.Store, config Config) (*Tree, error) {
	if config.KeySize == 0 || config.KeySize > MaxKeySize {
		return nil, errors.Wrapf(types.ErrInvalidConfig, "key size %d out of range [1, %d]", config.KeySize,
			MaxKeySize)
	}
	if len(config.Identifier) > NameLength {
		return nil, errors.Wrapf(types.ErrInvalidConfig, "identifier %q exceeds %d bytes", config.Identifier,
			NameLength)
	}
	maxKeys := maxIndexKeys(store, config.KeySize)
	if maxKeys < 2 {
		return nil, errors.Wrapf(types.ErrInvalidConfig, "block of %d bytes is too small for keys of %d bytes",
			store.BlockSize(), config.KeySize)
	}

	t := &Tree{
		blocks: store,
		header: Header{
			Identifier: config.Identifier,
			KeySize:    config.KeySize,
		},
		maxIndexKeys: maxKeys,
		pendingKnown: true,
	}

	address, err := store.AllocateBlock()
	if err != nil {
		return nil, err
	}
	if _, err := store.WriteChain(address, types.LeafSignature, encodeLeaf(nil)); err != nil {
		return nil, err
	}
	root := types.RootDescriptor{Block: address, IsLeaf: true}
	t.header.Root = root
	t.header.AlternateRoot = root

	store.SetDirty(false)
	if err := t.flush(); err != nil {
		return nil, err
	}
	return t, nil
}

// Open opens tree stored in the block store.
func Open(store *blocks.Store) (*Tree, error) {
	header, err := ParseHeader(store.UserHeader())
	if err != nil {
		return nil, err
	}
	maxKeys := maxIndexKeys(store, header.KeySize)
	if maxKeys < 2 {
		return nil, errors.Wrapf(types.ErrCorruptTree, "block of %d bytes is too small for keys of %d bytes",
			store.BlockSize(), header.KeySize)
	}

	return &Tree{
		blocks:       store,
		header:       header,
		maxIndexKeys: maxKeys,
	}, nil
}

func maxIndexKeys(store *blocks.Store, keySize uint32) int {
	return (int(store.PayloadSize()) - indexHeaderSize) / (int(keySize) + types.UInt32Length)
}

// Tree is the B-tree stored in the block store. Every modification is committed by writing the new path to fresh
// blocks and switching the active root descriptor.
type Tree struct {
	blocks       *blocks.Store
	header       Header
	maxIndexKeys int
	readOnly     bool

	// pending collects blocks referenced only by the inactive root. They are released after the next commit is
	// flushed, once the inactive descriptor no longer points to them.
	pending      []types.BlockAddress
	pendingKnown bool
}

// Header returns the tree-level header.
func (t *Tree) Header() Header {
	return t.header
}

// KeySize returns size of the keys.
func (t *Tree) KeySize() int {
	return int(t.header.KeySize)
}

// Snapshot returns read-only view of the tree rooted at the provided descriptor.
func (t *Tree) Snapshot(root types.RootDescriptor) *Tree {
	header := t.header
	header.UseAlternate = false
	header.Root = root
	header.AlternateRoot = root

	return &Tree{
		blocks:       t.blocks,
		header:       header,
		maxIndexKeys: t.maxIndexKeys,
		readOnly:     true,
	}
}

// Get returns value stored under the key.
func (t *Tree) Get(key []byte) ([]byte, error) {
	if err := t.validateKey(key); err != nil {
		return nil, err
	}

	_, _, items, err := t.descend(t.header.Active(), key)
	if err != nil {
		return nil, err
	}
	i, found := findItem(items, key)
	if !found {
		return nil, errors.Wrapf(types.ErrNotFound, "key %x", key)
	}
	return items[i].Value, nil
}

// Put inserts or updates the value stored under the key and commits the change.
func (t *Tree) Put(key, value []byte) error {
	if t.readOnly {
		return errors.New("tree is read-only")
	}
	if err := t.validateKey(key); err != nil {
		return err
	}
	if !t.pendingKnown {
		t.pending = t.stalePending()
		t.pendingKnown = true
	}

	path, leafAddress, items, err := t.descend(t.header.Active(), key)
	if err != nil {
		return err
	}

	i, found := findItem(items, key)
	newItems := make([]types.Item, 0, len(items)+1)
	newItems = append(newItems, items[:i]...)
	newItems = append(newItems, types.Item{Key: key, Value: value})
	if found {
		i++
	}
	newItems = append(newItems, items[i:]...)

	replaced, err := t.blocks.ChainBlocks(leafAddress)
	if err != nil {
		return err
	}

	children, separators, err := t.writeLeaves(splitLeaf(newItems, int(t.blocks.PayloadSize())))
	if err != nil {
		return err
	}

	// -1 means children are leaves.
	childLevel := -1
	for p := len(path) - 1; p >= 0; p-- {
		entry := path[p]
		replaced = append(replaced, entry.address)

		n := indexNode{
			level:    entry.node.level,
			keys:     slices.Concat(entry.node.keys[:entry.child], separators, entry.node.keys[entry.child:]),
			children: slices.Concat(entry.node.children[:entry.child], children, entry.node.children[entry.child+1:]),
		}
		children, separators, err = t.writeIndexes(n)
		if err != nil {
			return err
		}
		childLevel = int(n.level)
	}

	for len(children) > 1 {
		childLevel++
		children, separators, err = t.writeIndexes(indexNode{
			level:    uint8(childLevel),
			keys:     separators,
			children: children,
		})
		if err != nil {
			return err
		}
	}

	// Blocks freed before the flush would still be referenced by the inactive root on disk.
	previous := t.header
	t.header.commit(types.RootDescriptor{
		Block:  children[0],
		IsLeaf: childLevel < 0,
	})
	if err := t.flush(); err != nil {
		t.header = previous
		return err
	}

	released := t.pending
	t.pending = replaced
	return t.release(released)
}

// Iterator iterates over items in ascending key order. On corruption, the error is yielded and iteration stops.
func (t *Tree) Iterator() iter.Seq2[types.Item, error] {
	return func(yield func(types.Item, error) bool) {
		if err := t.walk(t.header.Active(), nil, func(item types.Item) bool {
			return yield(item, nil)
		}); err != nil {
			yield(types.Item{}, err)
		}
	}
}

func (t *Tree) validateKey(key []byte) error {
	if len(key) != int(t.header.KeySize) {
		return errors.Wrapf(types.ErrInvalidKey, "key of %d bytes, expected %d", len(key), t.header.KeySize)
	}
	return nil
}

func (t *Tree) flush() error {
	if err := t.blocks.SetUserHeader(t.header.Encode()); err != nil {
		return err
	}
	return t.blocks.Flush()
}

type pathEntry struct {
	address types.BlockAddress
	node    indexNode
	child   int
}

func (t *Tree) descend(root types.RootDescriptor, key []byte) ([]pathEntry, types.BlockAddress, []types.Item, error) {
	var path []pathEntry
	var lower, upper []byte
	address := root.Block
	isLeaf := root.IsLeaf
	level := -1

	for {
		if len(path) > maxDepth {
			return nil, 0, nil, errors.Wrapf(types.ErrCorruptTree, "tree is deeper than %d levels", maxDepth)
		}
		if isLeaf {
			items, err := t.readLeaf(address, lower, upper)
			if err != nil {
				return nil, 0, nil, err
			}
			return path, address, items, nil
		}

		n, err := t.readIndex(address, lower, upper, level)
		if err != nil {
			return nil, 0, nil, err
		}
		i := n.childIndex(key)
		path = append(path, pathEntry{
			address: address,
			node:    n,
			child:   i,
		})
		lower, upper = n.childBounds(i, lower, upper)
		address = n.children[i]
		isLeaf = n.level == 0
		level = int(n.level) - 1
	}
}

func (t *Tree) readNode(address types.BlockAddress, signature types.Signature) ([]byte, error) {
	payload, sig, err := t.blocks.ReadChain(address)
	if err != nil {
		if errors.Is(err, types.ErrOutOfRange) {
			return nil, errors.Wrapf(types.ErrCorruptTree, "node %d: %s", address, err)
		}
		return nil, err
	}
	if sig != signature {
		return nil, errors.Wrapf(types.ErrCorruptTree, "block %d of type %s found where %s is expected", address,
			sig, signature)
	}
	return payload, nil
}

func (t *Tree) readLeaf(address types.BlockAddress, lower, upper []byte) ([]types.Item, error) {
	payload, err := t.readNode(address, types.LeafSignature)
	if err != nil {
		return nil, err
	}
	items, err := DecodeLeaf(payload, int(t.header.KeySize))
	if err != nil {
		return nil, errors.WithMessagef(err, "leaf %d", address)
	}
	if len(items) > 0 && !inBounds(items[0].Key, items[len(items)-1].Key, lower, upper) {
		return nil, errors.Wrapf(types.ErrCorruptTree, "keys of leaf %d are outside the range of the parent", address)
	}
	return items, nil
}

func (t *Tree) readIndex(address types.BlockAddress, lower, upper []byte, level int) (indexNode, error) {
	payload, err := t.readNode(address, types.IndexSignature)
	if err != nil {
		return indexNode{}, err
	}
	n, err := decodeIndex(payload, int(t.header.KeySize))
	if err != nil {
		return indexNode{}, errors.WithMessagef(err, "index %d", address)
	}
	if level >= 0 && int(n.level) != level {
		return indexNode{}, errors.Wrapf(types.ErrCorruptTree, "index %d has level %d, expected %d", address,
			n.level, level)
	}
	if len(n.keys) > 0 && !inBounds(n.keys[0], n.keys[len(n.keys)-1], lower, upper) {
		return indexNode{}, errors.Wrapf(types.ErrCorruptTree, "keys of index %d are outside the range of the parent",
			address)
	}
	return n, nil
}

func inBounds(first, last, lower, upper []byte) bool {
	return (lower == nil || bytes.Compare(first, lower) >= 0) && (upper == nil || bytes.Compare(last, upper) < 0)
}

func findItem(items []types.Item, key []byte) (int, bool) {
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].Key, key) >= 0
	})
	return i, i < len(items) && bytes.Equal(items[i].Key, key)
}

func (t *Tree) writeLeaves(groups [][]types.Item) ([]types.BlockAddress, [][]byte, error) {
	children := make([]types.BlockAddress, 0, len(groups))
	separators := make([][]byte, 0, len(groups)-1)
	for i, group := range groups {
		address, err := t.blocks.AllocateBlock()
		if err != nil {
			return nil, nil, err
		}
		if _, err := t.blocks.WriteChain(address, types.LeafSignature, encodeLeaf(group)); err != nil {
			return nil, nil, err
		}
		children = append(children, address)
		if i > 0 {
			separators = append(separators, group[0].Key)
		}
	}
	return children, separators, nil
}

func (t *Tree) writeIndexes(n indexNode) ([]types.BlockAddress, [][]byte, error) {
	nodes, separators := splitIndex(n, t.maxIndexKeys)
	children := make([]types.BlockAddress, 0, len(nodes))
	for _, node := range nodes {
		address, err := t.blocks.AllocateBlock()
		if err != nil {
			return nil, nil, err
		}
		if _, err := t.blocks.WriteChain(address, types.IndexSignature, encodeIndex(node)); err != nil {
			return nil, nil, err
		}
		children = append(children, address)
	}
	return children, separators, nil
}
