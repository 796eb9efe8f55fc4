package btree

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/sbdb/types"
)

func TestLeafEncoding(t *testing.T) {
	requireT := require.New(t)

	items := []types.Item{
		{Key: []byte("AA"), Value: []byte("first")},
		{Key: []byte("AB"), Value: []byte{}},
		{Key: []byte("BA"), Value: make([]byte, 300)},
	}
	payload := encodeLeaf(items)
	decoded, err := DecodeLeaf(payload, 2)
	requireT.NoError(err)
	requireT.Equal(items, decoded)

	_, err = DecodeLeaf(payload, 3)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	_, err = DecodeLeaf(payload[:len(payload)-1], 2)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	_, err = DecodeLeaf(append(payload, 0), 2)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	_, err = DecodeLeaf([]byte{0, 0}, 2)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	_, err = DecodeLeaf([]byte{0xff, 0xff, 0xff, 0xff}, 2)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	_, err = DecodeLeaf(encodeLeaf([]types.Item{
		{Key: []byte("BB"), Value: []byte("1")},
		{Key: []byte("AA"), Value: []byte("2")},
	}), 2)
	requireT.ErrorIs(err, types.ErrCorruptTree)
}

func TestIndexEncoding(t *testing.T) {
	requireT := require.New(t)

	n := indexNode{
		level:    2,
		keys:     [][]byte{[]byte("BB"), []byte("DD")},
		children: []types.BlockAddress{1, 2, 3},
	}
	decoded, err := decodeIndex(encodeIndex(n), 2)
	requireT.NoError(err)
	requireT.Equal(n, decoded)

	requireT.Equal(0, n.childIndex([]byte("AA")))
	requireT.Equal(1, n.childIndex([]byte("BB")))
	requireT.Equal(1, n.childIndex([]byte("CC")))
	requireT.Equal(2, n.childIndex([]byte("ZZ")))

	lower, upper := n.childBounds(1, nil, nil)
	requireT.Equal([]byte("BB"), lower)
	requireT.Equal([]byte("DD"), upper)
	lower, upper = n.childBounds(2, []byte("AA"), []byte("XX"))
	requireT.Equal([]byte("DD"), lower)
	requireT.Equal([]byte("XX"), upper)

	_, err = decodeIndex(encodeIndex(n)[:10], 2)
	requireT.ErrorIs(err, types.ErrCorruptTree)

	n.keys[0], n.keys[1] = n.keys[1], n.keys[0]
	_, err = decodeIndex(encodeIndex(n), 2)
	requireT.ErrorIs(err, types.ErrCorruptTree)
}

func TestSplitLeaf(t *testing.T) {
	requireT := require.New(t)

	items := make([]types.Item, 0, 20)
	for i := range byte(20) {
		items = append(items, types.Item{Key: []byte{i}, Value: []byte("0123456789")})
	}

	groups := splitLeaf(items, 50)
	requireT.Greater(len(groups), 1)
	merged := []types.Item{}
	for _, group := range groups {
		requireT.LessOrEqual(len(encodeLeaf(group)), 50)
		merged = append(merged, group...)
	}
	requireT.Equal(items, merged)

	requireT.Len(splitLeaf(items, 1000), 1)

	oversized := []types.Item{
		{Key: []byte{1}, Value: make([]byte, 100)},
		{Key: []byte{2}, Value: []byte("x")},
	}
	requireT.Len(splitLeaf(oversized, 50), 2)
}

func TestSplitIndex(t *testing.T) {
	requireT := require.New(t)

	n := indexNode{level: 1}
	n.children = append(n.children, 0)
	for i := range byte(10) {
		n.keys = append(n.keys, []byte{i})
		n.children = append(n.children, types.BlockAddress(i+1))
	}

	nodes, separators := splitIndex(n, 3)
	requireT.Len(separators, len(nodes)-1)

	keys := 0
	children := []types.BlockAddress{}
	for _, node := range nodes {
		requireT.LessOrEqual(len(node.keys), 3)
		requireT.Len(node.children, len(node.keys)+1)
		requireT.Equal(uint8(1), node.level)
		keys += len(node.keys)
		children = append(children, node.children...)
	}
	requireT.Equal(len(n.keys), keys+len(separators))
	requireT.Equal(n.children, children)
}
