package sbon

import (
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/types"
)

// Tag is the type marker written in front of every encoded value.
type Tag byte

// Value tags.
const (
	TagNil Tag = iota + 1
	TagFloat
	TagBool
	TagInt
	TagString
	TagList
	TagMap
)

// DefaultMaxDepth is the nesting limit used by Decode.
const DefaultMaxDepth = 512

// Encode encodes value. Supported types are nil, bool, int64, float64, string, []any and map[string]any.
func Encode(v any) ([]byte, error) {
	return AppendValue(nil, v)
}

// AppendValue appends encoded value to buf.
func AppendValue(buf []byte, v any) ([]byte, error) {
	switch v := v.(type) {
	case nil:
		return append(buf, byte(TagNil)), nil
	case float64:
		buf = append(buf, byte(TagFloat))
		return binary.BigEndian.AppendUint64(buf, math.Float64bits(v)), nil
	case bool:
		b := byte(0)
		if v {
			b = 1
		}
		return append(buf, byte(TagBool), b), nil
	case int64:
		return AppendVarint(append(buf, byte(TagInt)), v), nil
	case string:
		return AppendString(append(buf, byte(TagString)), v), nil
	case []any:
		buf = AppendUvarint(append(buf, byte(TagList)), uint64(len(v)))
		for _, item := range v {
			var err error
			buf, err = AppendValue(buf, item)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	case map[string]any:
		buf = AppendUvarint(append(buf, byte(TagMap)), uint64(len(v)))
		for key, item := range v {
			buf = AppendString(buf, key)
			var err error
			buf, err = AppendValue(buf, item)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return nil, errors.Errorf("unsupported value type %T", v)
	}
}

// AppendString appends length-prefixed string to buf.
func AppendString(buf []byte, s string) []byte {
	return append(AppendUvarint(buf, uint64(len(s))), s...)
}

// Decode decodes value using default decoder.
func Decode(data []byte) (any, int, error) {
	return Decoder{}.Decode(data)
}

// Decoder decodes values with configurable nesting limit.
type Decoder struct {
	// MaxDepth limits nesting of lists and maps. Zero means DefaultMaxDepth.
	MaxDepth int
}

// Decode decodes single value and returns number of bytes consumed.
func (d Decoder) Decode(data []byte) (any, int, error) {
	maxDepth := d.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	r := reader{data: data, maxDepth: maxDepth}
	v, err := r.value(0)
	if err != nil {
		return nil, 0, err
	}
	return v, r.offset, nil
}

// ReadString decodes length-prefixed string.
func ReadString(data []byte) (string, int, error) {
	r := reader{data: data}
	s, err := r.string()
	if err != nil {
		return "", 0, err
	}
	return s, r.offset, nil
}

type reader struct {
	data     []byte
	offset   int
	maxDepth int
}

func (r *reader) remaining() int {
	return len(r.data) - r.offset
}

func (r *reader) take(n uint64) ([]byte, error) {
	if n > uint64(r.remaining()) {
		return nil, errors.Wrapf(types.ErrMalformedDocument, "%d bytes requested at offset %d, %d available",
			n, r.offset, r.remaining())
	}
	b := r.data[r.offset : r.offset+int(n)]
	r.offset += int(n)
	return b, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n, err := ReadUvarint(r.data[r.offset:])
	if err != nil {
		return 0, errors.Wrapf(err, "offset %d", r.offset)
	}
	r.offset += n
	return v, nil
}

func (r *reader) string() (string, error) {
	length, err := r.uvarint()
	if err != nil {
		return "", err
	}
	b, err := r.take(length)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", errors.Wrapf(types.ErrMalformedDocument, "invalid utf-8 string at offset %d", r.offset-len(b))
	}
	return string(b), nil
}

// length reads element count and rejects counts which can't fit the remaining bytes.
// Every element takes at least one byte.
func (r *reader) length() (uint64, error) {
	n, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if n > uint64(r.remaining()) {
		return 0, errors.Wrapf(types.ErrMalformedDocument, "%d elements declared, %d bytes available",
			n, r.remaining())
	}
	return n, nil
}

func (r *reader) value(depth int) (any, error) {
	tagByte, err := r.take(1)
	if err != nil {
		return nil, err
	}

	switch tag := Tag(tagByte[0]); tag {
	case TagNil:
		return nil, nil
	case TagFloat:
		b, err := r.take(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
	case TagBool:
		b, err := r.take(1)
		if err != nil {
			return nil, err
		}
		return b[0] != 0, nil
	case TagInt:
		v, n, err := ReadVarint(r.data[r.offset:])
		if err != nil {
			return nil, err
		}
		r.offset += n
		return v, nil
	case TagString:
		return r.string()
	case TagList:
		if depth >= r.maxDepth {
			return nil, errors.Wrapf(types.ErrMalformedDocument, "nesting exceeds %d levels", r.maxDepth)
		}
		n, err := r.length()
		if err != nil {
			return nil, err
		}
		list := make([]any, 0, n)
		for range n {
			item, err := r.value(depth + 1)
			if err != nil {
				return nil, err
			}
			list = append(list, item)
		}
		return list, nil
	case TagMap:
		if depth >= r.maxDepth {
			return nil, errors.Wrapf(types.ErrMalformedDocument, "nesting exceeds %d levels", r.maxDepth)
		}
		n, err := r.length()
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, n)
		for range n {
			key, err := r.string()
			if err != nil {
				return nil, err
			}
			if _, exists := m[key]; exists {
				return nil, errors.Wrapf(types.ErrMalformedDocument, "duplicated map key %q", key)
			}
			item, err := r.value(depth + 1)
			if err != nil {
				return nil, err
			}
			m[key] = item
		}
		return m, nil
	default:
		return nil, errors.Wrapf(types.ErrMalformedDocument, "unknown tag 0x%02x at offset %d", byte(tag), r.offset-1)
	}
}
