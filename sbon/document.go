package sbon

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/types"
)

// VersionedSignature starts every versioned single-document file.
const VersionedSignature = "SBVJ01"

// Document is the value tagged with identifier and version.
type Document struct {
	Identifier string
	Version    int32
	Versioned  bool
	Value      any
}

// EncodeDocument encodes document without file signature.
func EncodeDocument(doc Document) ([]byte, error) {
	return AppendDocument(nil, doc)
}

// AppendDocument appends encoded document to buf.
func AppendDocument(buf []byte, doc Document) ([]byte, error) {
	buf = AppendString(buf, doc.Identifier)
	if doc.Versioned {
		buf = append(buf, 1)
		buf = binary.BigEndian.AppendUint32(buf, uint32(doc.Version))
	} else {
		buf = append(buf, 0)
	}
	return AppendValue(buf, doc.Value)
}

// DecodeDocument decodes document and returns number of bytes consumed.
func DecodeDocument(data []byte) (Document, int, error) {
	return Decoder{}.DecodeDocument(data)
}

// DecodeDocument decodes document and returns number of bytes consumed.
func (d Decoder) DecodeDocument(data []byte) (Document, int, error) {
	identifier, offset, err := ReadString(data)
	if err != nil {
		return Document{}, 0, errors.WithMessage(err, "document identifier")
	}
	if offset >= len(data) {
		return Document{}, 0, errors.Wrap(types.ErrMalformedDocument, "document version flag missing")
	}

	doc := Document{Identifier: identifier}
	switch data[offset] {
	case 0:
		offset++
	case 1:
		if len(data)-offset < 5 {
			return Document{}, 0, errors.Wrap(types.ErrMalformedDocument, "document version truncated")
		}
		doc.Versioned = true
		doc.Version = int32(binary.BigEndian.Uint32(data[offset+1:]))
		offset += 5
	default:
		return Document{}, 0, errors.Wrapf(types.ErrMalformedDocument, "invalid version flag 0x%02x", data[offset])
	}

	v, n, err := d.Decode(data[offset:])
	if err != nil {
		return Document{}, 0, errors.WithMessagef(err, "document %q", identifier)
	}
	doc.Value = v
	return doc, offset + n, nil
}

// EncodeVersioned encodes document as the content of versioned single-document file.
func EncodeVersioned(doc Document) ([]byte, error) {
	return AppendDocument([]byte(VersionedSignature), doc)
}

// DecodeVersioned decodes content of versioned single-document file.
func DecodeVersioned(data []byte) (Document, error) {
	return Decoder{}.DecodeVersioned(data)
}

// DecodeVersioned decodes content of versioned single-document file.
func (d Decoder) DecodeVersioned(data []byte) (Document, error) {
	if !IsVersioned(data) {
		return Document{}, errors.Wrapf(types.ErrUnsupportedFormat, "%q signature expected", VersionedSignature)
	}
	doc, _, err := d.DecodeDocument(data[len(VersionedSignature):])
	return doc, err
}

// IsVersioned tells if data starts with the versioned file signature.
func IsVersioned(data []byte) bool {
	return bytes.HasPrefix(data, []byte(VersionedSignature))
}
