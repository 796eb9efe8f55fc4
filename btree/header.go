package btree

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/types"
)

// Signature identifies the B-tree database inside block file.
const Signature = "BTreeDB4"

const (
	// MaxKeySize is the largest supported key.
	MaxKeySize = 1024

	// NameLength is the space reserved for signature and identifier in the header.
	NameLength = 12

	// HeaderSize is the number of header bytes used by the tree.
	HeaderSize = 43
)

// Offsets relative to the user header of the block store.
const (
	signatureOffset     = 0
	identifierOffset    = signatureOffset + NameLength
	keySizeOffset       = identifierOffset + NameLength
	selectorOffset      = keySizeOffset + types.UInt32Length
	rootOffset          = selectorOffset + 2
	rootIsLeafOffset    = rootOffset + types.UInt32Length
	altRootOffset       = rootIsLeafOffset + 4
	altRootIsLeafOffset = altRootOffset + types.UInt32Length
)

// Config stores configuration of new tree.
type Config struct {
	KeySize    uint32
	Identifier string
}

// Header is the tree-level part of block 0.
type Header struct {
	Identifier    string
	KeySize       uint32
	UseAlternate  bool
	Root          types.RootDescriptor
	AlternateRoot types.RootDescriptor
}

// Active returns descriptor of the active root.
func (h Header) Active() types.RootDescriptor {
	if h.UseAlternate {
		return h.AlternateRoot
	}
	return h.Root
}

// Inactive returns descriptor of the root which is replaced by the next commit.
func (h Header) Inactive() types.RootDescriptor {
	if h.UseAlternate {
		return h.Root
	}
	return h.AlternateRoot
}

// commit stores new root in the inactive descriptor and makes it active.
func (h *Header) commit(root types.RootDescriptor) {
	if h.UseAlternate {
		h.Root = root
	} else {
		h.AlternateRoot = root
	}
	h.UseAlternate = !h.UseAlternate
}

// ParseHeader decodes tree-level header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize || !bytes.Equal(trimName(data[signatureOffset:identifierOffset]), []byte(Signature)) {
		return Header{}, errors.Wrapf(types.ErrUnsupportedFormat, "%q signature expected", Signature)
	}

	h := Header{
		Identifier:   string(trimName(data[identifierOffset:keySizeOffset])),
		KeySize:      binary.BigEndian.Uint32(data[keySizeOffset:]),
		UseAlternate: data[selectorOffset] != 0,
		Root: types.RootDescriptor{
			Block:  types.BlockAddress(binary.BigEndian.Uint32(data[rootOffset:])),
			IsLeaf: data[rootIsLeafOffset] != 0,
		},
		AlternateRoot: types.RootDescriptor{
			Block:  types.BlockAddress(binary.BigEndian.Uint32(data[altRootOffset:])),
			IsLeaf: data[altRootIsLeafOffset] != 0,
		},
	}
	if h.KeySize == 0 || h.KeySize > MaxKeySize {
		return Header{}, errors.Wrapf(types.ErrCorruptTree, "invalid key size %d", h.KeySize)
	}
	return h, nil
}

// Encode encodes tree-level header.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[signatureOffset:], Signature)
	copy(buf[identifierOffset:keySizeOffset], h.Identifier)
	binary.BigEndian.PutUint32(buf[keySizeOffset:], h.KeySize)
	if h.UseAlternate {
		buf[selectorOffset] = 1
	}
	binary.BigEndian.PutUint32(buf[rootOffset:], uint32(h.Root.Block))
	if h.Root.IsLeaf {
		buf[rootIsLeafOffset] = 1
	}
	binary.BigEndian.PutUint32(buf[altRootOffset:], uint32(h.AlternateRoot.Block))
	if h.AlternateRoot.IsLeaf {
		buf[altRootIsLeafOffset] = 1
	}
	return buf
}

func trimName(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}
