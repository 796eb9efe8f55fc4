package world

import (
	"bytes"
	"encoding/binary"
	"io"
	"iter"

	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/sbon"
	"github.com/outofforest/sbdb/types"
)

const metadataSizeLength = 2 * types.UInt32Length

// Metadata is the world metadata record.
type Metadata struct {
	Width    uint32
	Height   uint32
	Document sbon.Document
}

// Metadata returns world metadata.
func (w *World) Metadata() (Metadata, error) {
	data, err := w.get(MetadataKey)
	if err != nil {
		return Metadata{}, errors.WithMessage(err, "world metadata")
	}
	if len(data) < metadataSizeLength {
		return Metadata{}, errors.Wrapf(types.ErrMalformedDocument, "metadata of %d bytes is truncated", len(data))
	}

	doc, n, err := sbon.DecodeDocument(data[metadataSizeLength:])
	if err != nil {
		return Metadata{}, errors.WithMessage(err, "world metadata")
	}
	if n != len(data)-metadataSizeLength {
		return Metadata{}, errors.Wrapf(types.ErrMalformedDocument, "%d trailing bytes in metadata",
			len(data)-metadataSizeLength-n)
	}
	return Metadata{
		Width:    binary.BigEndian.Uint32(data),
		Height:   binary.BigEndian.Uint32(data[types.UInt32Length:]),
		Document: doc,
	}, nil
}

// PutMetadata stores world metadata.
func (w *World) PutMetadata(m Metadata) error {
	buf := make([]byte, metadataSizeLength, 256)
	binary.BigEndian.PutUint32(buf, m.Width)
	binary.BigEndian.PutUint32(buf[types.UInt32Length:], m.Height)
	buf, err := sbon.AppendDocument(buf, m.Document)
	if err != nil {
		return err
	}
	return w.put(MetadataKey, buf)
}

// Region returns decompressed payload of the region.
func (w *World) Region(layer uint8, x, y uint16) ([]byte, error) {
	return w.get(Key{Layer: layer, X: x, Y: y})
}

// PutRegion stores payload of the region.
func (w *World) PutRegion(layer uint8, x, y uint16, data []byte) error {
	key := Key{Layer: layer, X: x, Y: y}
	if key == MetadataKey {
		return errors.Wrap(types.ErrInvalidKey, "metadata key can't store region")
	}
	return w.put(key, data)
}

// Entities returns entities stored in the region.
func (w *World) Entities(x, y uint16) ([]sbon.Document, error) {
	data, err := w.get(Key{Layer: EntitiesLayer, X: x, Y: y})
	if err != nil {
		return nil, err
	}

	count, offset, err := sbon.ReadUvarint(data)
	if err != nil {
		return nil, errors.WithMessage(err, "entity count")
	}
	// Every document takes at least 3 bytes.
	if count > uint64(len(data)-offset)/3 {
		return nil, errors.Wrapf(types.ErrMalformedDocument, "%d entities declared in %d bytes", count, len(data))
	}

	docs := make([]sbon.Document, 0, count)
	for range count {
		doc, n, err := sbon.DecodeDocument(data[offset:])
		if err != nil {
			return nil, errors.WithMessagef(err, "entity %d", len(docs))
		}
		docs = append(docs, doc)
		offset += n
	}
	if offset != len(data) {
		return nil, errors.Wrapf(types.ErrMalformedDocument, "%d trailing bytes after entities", len(data)-offset)
	}
	return docs, nil
}

// PutEntities stores entities of the region.
func (w *World) PutEntities(x, y uint16, docs []sbon.Document) error {
	buf := sbon.AppendUvarint(nil, uint64(len(docs)))
	for _, doc := range docs {
		var err error
		buf, err = sbon.AppendDocument(buf, doc)
		if err != nil {
			return err
		}
	}
	return w.put(Key{Layer: EntitiesLayer, X: x, Y: y}, buf)
}

// Regions iterates over keys of all the stored regions.
func (w *World) Regions() iter.Seq2[Key, error] {
	return func(yield func(Key, error) bool) {
		for item, err := range w.tree.Iterator() {
			if err != nil {
				yield(Key{}, err)
				return
			}
			key, err := ParseKey(item.Key)
			if err != nil {
				yield(Key{}, err)
				return
			}
			if key == MetadataKey {
				continue
			}
			if !yield(key, nil) {
				return
			}
		}
	}
}

func (w *World) get(key Key) ([]byte, error) {
	value, err := w.tree.Get(key.Bytes())
	if err != nil {
		return nil, errors.WithMessagef(err, "record %s", key)
	}
	return Decompress(value, w.maxRecordSize)
}

func (w *World) put(key Key, data []byte) error {
	value, err := Compress(data)
	if err != nil {
		return err
	}
	return w.tree.Put(key.Bytes(), value)
}

// Compress compresses record value.
func Compress(data []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zlib.NewWriter(buf)
	if _, err := zw.Write(data); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := zw.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// Decompress decompresses record value. Values expanding beyond limit bytes are rejected.
func Decompress(value []byte, limit uint64) ([]byte, error) {
	zr, err := zlib.NewReader(bytes.NewReader(value))
	if err != nil {
		return nil, errors.Wrapf(types.ErrMalformedDocument, "zlib stream: %s", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, int64(limit)+1))
	if err != nil {
		return nil, errors.Wrapf(types.ErrMalformedDocument, "zlib stream: %s", err)
	}
	if uint64(len(data)) > limit {
		return nil, errors.Wrapf(types.ErrMalformedDocument, "record exceeds %d bytes", limit)
	}
	return data, nil
}
