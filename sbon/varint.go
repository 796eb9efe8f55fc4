package sbon

import (
	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/types"
)

// maxVarintLength is the number of 7-bit groups needed to store uint64.
const maxVarintLength = 10

// AppendUvarint appends big-endian base-128 encoding of v to buf.
func AppendUvarint(buf []byte, v uint64) []byte {
	var tmp [maxVarintLength]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7f)
	v >>= 7
	for v > 0 {
		i--
		tmp[i] = byte(v&0x7f) | 0x80
		v >>= 7
	}
	return append(buf, tmp[i:]...)
}

// AppendVarint appends sign-folded varint encoding of v to buf.
func AppendVarint(buf []byte, v int64) []byte {
	if v < 0 {
		return AppendUvarint(buf, uint64(-(v+1))<<1|1)
	}
	return AppendUvarint(buf, uint64(v)<<1)
}

// ReadUvarint decodes unsigned varint and returns the value and number of bytes consumed.
func ReadUvarint(data []byte) (uint64, int, error) {
	var v uint64
	for i := range data {
		if i == maxVarintLength || v > (1<<57)-1 {
			return 0, 0, errors.Wrap(types.ErrMalformedDocument, "varint overflows uint64")
		}
		b := data[i]
		v = v<<7 | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, errors.Wrap(types.ErrMalformedDocument, "varint truncated")
}

// ReadVarint decodes sign-folded varint.
func ReadVarint(data []byte) (int64, int, error) {
	u, n, err := ReadUvarint(data)
	if err != nil {
		return 0, 0, err
	}
	if u&1 == 1 {
		return -int64(u>>1) - 1, n, nil
	}
	return int64(u >> 1), n, nil
}
