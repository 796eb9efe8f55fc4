package blocks

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/types"
)

// Signature starts every block file.
const Signature = "SBBF02"

const (
	// UserHeaderOffset is the offset where the header of the layer built on top of block store begins.
	UserHeaderOffset = 32

	// ChainHeaderSize is the size of the header stored in every chained block: signature, payload length
	// and next block pointer.
	ChainHeaderSize = types.SignatureLength + 2*types.UInt32Length

	// MinHeaderSize is the smallest accepted header.
	MinHeaderSize = 80

	// MaxHeaderSize is the largest accepted header.
	MaxHeaderSize = 1 << 20

	// MinBlockSize is the smallest accepted block.
	MinBlockSize = 64

	// MaxBlockSize is the largest accepted block.
	MaxBlockSize = 1 << 24
)

const (
	headerSizeOffset = 6
	blockSizeOffset  = 10
	dirtyOffset      = 14
	freeHeadOffset   = 15
)

// Config stores geometry of the block file.
type Config struct {
	HeaderSize uint32
	BlockSize  uint32
}

// DefaultConfig returns geometry used by the game.
func DefaultConfig() Config {
	return Config{
		HeaderSize: 512,
		BlockSize:  2048,
	}
}

// Validate verifies that geometry is sane.
func (c Config) Validate() error {
	if c.HeaderSize < MinHeaderSize || c.HeaderSize > MaxHeaderSize {
		return errors.Wrapf(types.ErrInvalidConfig, "header size %d out of range [%d, %d]", c.HeaderSize,
			MinHeaderSize, MaxHeaderSize)
	}
	if c.BlockSize < MinBlockSize || c.BlockSize > MaxBlockSize {
		return errors.Wrapf(types.ErrInvalidConfig, "block size %d out of range [%d, %d]", c.BlockSize,
			MinBlockSize, MaxBlockSize)
	}
	return nil
}

// Header is the block-level part of block 0.
type Header struct {
	Config
	Dirty         bool
	FreeBlockHead types.BlockAddress
}

// ParseHeader decodes block-level header.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < UserHeaderOffset || !bytes.Equal(data[:len(Signature)], []byte(Signature)) {
		return Header{}, errors.Wrapf(types.ErrUnsupportedFormat, "%q signature expected", Signature)
	}

	h := Header{
		Config: Config{
			HeaderSize: binary.BigEndian.Uint32(data[headerSizeOffset:]),
			BlockSize:  binary.BigEndian.Uint32(data[blockSizeOffset:]),
		},
		Dirty:         data[dirtyOffset] != 0,
		FreeBlockHead: types.BlockAddress(binary.BigEndian.Uint32(data[freeHeadOffset:])),
	}
	if err := h.Validate(); err != nil {
		return Header{}, errors.Wrap(types.ErrCorruptTree, err.Error())
	}
	return h, nil
}

// Encode encodes header into the first UserHeaderOffset bytes of buf.
func (h Header) Encode(buf []byte) {
	clear(buf[:UserHeaderOffset])
	copy(buf, Signature)
	binary.BigEndian.PutUint32(buf[headerSizeOffset:], h.HeaderSize)
	binary.BigEndian.PutUint32(buf[blockSizeOffset:], h.BlockSize)
	if h.Dirty {
		buf[dirtyOffset] = 1
	}
	binary.BigEndian.PutUint32(buf[freeHeadOffset:], uint32(h.FreeBlockHead))
}
