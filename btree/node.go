package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/sbon"
	"github.com/outofforest/sbdb/types"
)

const (
	leafHeaderSize  = types.UInt32Length
	indexHeaderSize = 1 + 2*types.UInt32Length
)

// indexNode routes keys to children. Child i covers keys in [keys[i-1], keys[i]).
type indexNode struct {
	level    uint8
	keys     [][]byte
	children []types.BlockAddress
}

// childIndex returns index of the child covering the key.
func (n indexNode) childIndex(key []byte) int {
	lo, hi := 0, len(n.keys)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if bytes.Compare(n.keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childBounds returns the key range covered by child i, narrowed by the bounds of the node itself.
func (n indexNode) childBounds(i int, lower, upper []byte) ([]byte, []byte) {
	if i > 0 {
		lower = n.keys[i-1]
	}
	if i < len(n.keys) {
		upper = n.keys[i]
	}
	return lower, upper
}

func encodeIndex(n indexNode) []byte {
	size := indexHeaderSize
	for _, key := range n.keys {
		size += len(key) + types.UInt32Length
	}

	buf := make([]byte, 0, size)
	buf = append(buf, n.level)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(n.keys)))
	buf = binary.BigEndian.AppendUint32(buf, uint32(n.children[0]))
	for i, key := range n.keys {
		buf = append(buf, key...)
		buf = binary.BigEndian.AppendUint32(buf, uint32(n.children[i+1]))
	}
	return buf
}

func decodeIndex(payload []byte, keySize int) (indexNode, error) {
	if len(payload) < indexHeaderSize {
		return indexNode{}, errors.Wrapf(types.ErrCorruptTree, "index node of %d bytes is truncated", len(payload))
	}
	count := uint64(binary.BigEndian.Uint32(payload[1:]))
	entrySize := uint64(keySize + types.UInt32Length)
	if count*entrySize != uint64(len(payload)-indexHeaderSize) {
		return indexNode{}, errors.Wrapf(types.ErrCorruptTree, "index node declares %d keys in %d bytes", count,
			len(payload))
	}

	n := indexNode{
		level:    payload[0],
		keys:     make([][]byte, 0, count),
		children: make([]types.BlockAddress, 0, count+1),
	}
	n.children = append(n.children, types.BlockAddress(binary.BigEndian.Uint32(payload[5:])))
	for offset := indexHeaderSize; offset < len(payload); offset += int(entrySize) {
		key := payload[offset : offset+keySize]
		if len(n.keys) > 0 && bytes.Compare(n.keys[len(n.keys)-1], key) >= 0 {
			return indexNode{}, errors.Wrap(types.ErrCorruptTree, "index node keys are not ordered")
		}
		n.keys = append(n.keys, key)
		n.children = append(n.children, types.BlockAddress(binary.BigEndian.Uint32(payload[offset+keySize:])))
	}
	return n, nil
}

func encodeLeaf(items []types.Item) []byte {
	size := leafHeaderSize
	for _, item := range items {
		size += len(item.Key) + uvarintLength(uint64(len(item.Value))) + len(item.Value)
	}

	buf := make([]byte, 0, size)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(items)))
	for _, item := range items {
		buf = append(buf, item.Key...)
		buf = sbon.AppendUvarint(buf, uint64(len(item.Value)))
		buf = append(buf, item.Value...)
	}
	return buf
}

// DecodeLeaf decodes and validates leaf node payload. Every key must have exactly keySize bytes, keys must be
// strictly ascending and the payload must be consumed entirely.
func DecodeLeaf(payload []byte, keySize int) ([]types.Item, error) {
	if len(payload) < leafHeaderSize {
		return nil, errors.Wrapf(types.ErrCorruptTree, "leaf node of %d bytes is truncated", len(payload))
	}
	count := uint64(binary.BigEndian.Uint32(payload))
	// Every entry takes at least the key and one byte of value length.
	if count*uint64(keySize+1) > uint64(len(payload)-leafHeaderSize) {
		return nil, errors.Wrapf(types.ErrCorruptTree, "leaf node declares %d entries in %d bytes", count,
			len(payload))
	}

	items := make([]types.Item, 0, count)
	offset := leafHeaderSize
	for range count {
		if len(payload)-offset < keySize {
			return nil, errors.Wrap(types.ErrCorruptTree, "leaf key overruns the node")
		}
		key := payload[offset : offset+keySize]
		offset += keySize

		length, n, err := sbon.ReadUvarint(payload[offset:])
		if err != nil {
			return nil, errors.Wrapf(types.ErrCorruptTree, "leaf value length: %s", err)
		}
		offset += n
		if length > uint64(len(payload)-offset) {
			return nil, errors.Wrapf(types.ErrCorruptTree, "leaf value of %d bytes overruns the node", length)
		}

		if len(items) > 0 && bytes.Compare(items[len(items)-1].Key, key) >= 0 {
			return nil, errors.Wrap(types.ErrCorruptTree, "leaf node keys are not ordered")
		}
		items = append(items, types.Item{
			Key:   key,
			Value: payload[offset : offset+int(length)],
		})
		offset += int(length)
	}
	if offset != len(payload) {
		return nil, errors.Wrapf(types.ErrCorruptTree, "%d trailing bytes in leaf node", len(payload)-offset)
	}
	return items, nil
}

func leafItemSize(item types.Item) int {
	return len(item.Key) + uvarintLength(uint64(len(item.Value))) + len(item.Value)
}

func uvarintLength(v uint64) int {
	n := 1
	for v >>= 7; v > 0; v >>= 7 {
		n++
	}
	return n
}

// splitLeaf divides items into groups each fitting in one block payload. Item which doesn't fit alone forms its
// own group and is stored in a chain of blocks.
func splitLeaf(items []types.Item, capacity int) [][]types.Item {
	size := leafHeaderSize
	for _, item := range items {
		size += leafItemSize(item)
	}
	if size <= capacity || len(items) <= 1 {
		return [][]types.Item{items}
	}

	half := size / 2
	m := 1
	for acc := leafHeaderSize + leafItemSize(items[0]); m < len(items)-1 && acc < half; m++ {
		acc += leafItemSize(items[m])
	}
	return append(splitLeaf(items[:m], capacity), splitLeaf(items[m:], capacity)...)
}

// splitIndex divides index node into nodes having at most maxKeys keys. Returned separators route between
// consecutive nodes.
func splitIndex(n indexNode, maxKeys int) ([]indexNode, [][]byte) {
	if len(n.keys) <= maxKeys {
		return []indexNode{n}, nil
	}

	m := len(n.keys) / 2
	left, leftSeparators := splitIndex(indexNode{
		level:    n.level,
		keys:     n.keys[:m],
		children: n.children[:m+1],
	}, maxKeys)
	right, rightSeparators := splitIndex(indexNode{
		level:    n.level,
		keys:     n.keys[m+1:],
		children: n.children[m+1:],
	}, maxKeys)

	separators := append(append(leftSeparators, n.keys[m]), rightSeparators...)
	return append(left, right...), separators
}
