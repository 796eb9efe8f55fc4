package world

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/types"
)

const (
	// KeySize is the size of keys used by world databases.
	KeySize = 5

	// Identifier is the identifier stored in the header of world databases.
	Identifier = "World4"
)

// Layers of world keys.
const (
	MetadataLayer uint8 = 0
	TilesLayer    uint8 = 1
	EntitiesLayer uint8 = 2
)

// MetadataKey is the reserved key of world metadata.
var MetadataKey = Key{Layer: MetadataLayer}

// Key addresses the record in the world database.
type Key struct {
	Layer uint8
	X     uint16
	Y     uint16
}

// Bytes returns binary representation of the key.
func (k Key) Bytes() []byte {
	b := make([]byte, KeySize)
	b[0] = k.Layer
	binary.BigEndian.PutUint16(b[1:], k.X)
	binary.BigEndian.PutUint16(b[3:], k.Y)
	return b
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d:%d", k.Layer, k.X, k.Y)
}

// ParseKey decodes key from its binary representation.
func ParseKey(b []byte) (Key, error) {
	if len(b) != KeySize {
		return Key{}, errors.Wrapf(types.ErrInvalidKey, "world key of %d bytes, expected %d", len(b), KeySize)
	}
	return Key{
		Layer: b[0],
		X:     binary.BigEndian.Uint16(b[1:]),
		Y:     binary.BigEndian.Uint16(b[3:]),
	}, nil
}
