package world

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/btree"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/sbon"
	"github.com/outofforest/sbdb/types"
)

// Kind is the kind of parsed file.
type Kind int

// Kinds of files.
const (
	KindVersioned Kind = iota + 1
	KindWorld
)

func (k Kind) String() string {
	switch k {
	case KindVersioned:
		return "versioned"
	case KindWorld:
		return "world"
	default:
		return "unknown"
	}
}

var hints = map[string]Kind{
	"world":         KindWorld,
	"shipworld":     KindWorld,
	"fail":          KindWorld,
	"player":        KindVersioned,
	"metadata":      KindVersioned,
	"clientcontext": KindVersioned,
}

// File is the parsed file. It is either *VersionedFile or *World.
type File interface {
	Kind() Kind
	file()
}

// VersionedFile is the file storing single versioned document.
type VersionedFile struct {
	Document sbon.Document
}

// Kind returns kind of the file.
func (f *VersionedFile) Kind() Kind {
	return KindVersioned
}

func (f *VersionedFile) file() {}

// DefaultMaxRecordSize is the limit of decompressed record size used when none is configured.
const DefaultMaxRecordSize = 16 << 20

// Config stores configuration of new world database.
type Config struct {
	Blocks     blocks.Config
	Identifier string

	// MaxRecordSize limits size of decompressed record. Zero means DefaultMaxRecordSize.
	MaxRecordSize uint64
}

// DefaultConfig returns default world configuration.
func DefaultConfig() Config {
	return Config{
		Blocks:        blocks.DefaultConfig(),
		Identifier:    Identifier,
		MaxRecordSize: DefaultMaxRecordSize,
	}
}

// Parse parses the file. Hint is the file extension, when it is empty the kind is detected from the content.
func Parse(data []byte, hint string) (File, error) {
	kind, err := detectKind(data, hint)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindVersioned:
		doc, err := sbon.DecodeVersioned(data)
		if err != nil {
			return nil, err
		}
		return &VersionedFile{Document: doc}, nil
	default:
		return Open(persistent.NewReadOnlyStore(data))
	}
}

func detectKind(data []byte, hint string) (Kind, error) {
	hint = strings.ToLower(strings.TrimPrefix(hint, "."))
	if hint != "" {
		kind, exists := hints[hint]
		if !exists {
			return 0, errors.Wrapf(types.ErrUnsupportedFormat, "unknown file extension %q", hint)
		}
		return kind, nil
	}

	switch {
	case bytes.HasPrefix(data, []byte(blocks.Signature)):
		return KindWorld, nil
	case sbon.IsVersioned(data):
		return KindVersioned, nil
	default:
		return 0, errors.Wrap(types.ErrUnsupportedFormat, "file signature not recognized")
	}
}

// Open opens world database stored in the stream.
func Open(store persistent.Store) (*World, error) {
	bs, err := blocks.Open(store)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(bs)
	if err != nil {
		return nil, err
	}
	if tree.KeySize() != KeySize {
		return nil, errors.Wrapf(types.ErrUnsupportedFormat, "world keys have %d bytes, got %d", KeySize,
			tree.KeySize())
	}
	return &World{
		blocks:        bs,
		tree:          tree,
		maxRecordSize: DefaultMaxRecordSize,
	}, nil
}

// Create creates empty world database in the stream.
func Create(store persistent.Store, config Config) (*World, error) {
	bs, err := blocks.Create(store, config.Blocks)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Create(bs, btree.Config{
		KeySize:    KeySize,
		Identifier: config.Identifier,
	})
	if err != nil {
		return nil, err
	}
	maxRecordSize := config.MaxRecordSize
	if maxRecordSize == 0 {
		maxRecordSize = DefaultMaxRecordSize
	}
	return &World{
		blocks:        bs,
		tree:          tree,
		maxRecordSize: maxRecordSize,
	}, nil
}

// World is the world database.
type World struct {
	blocks        *blocks.Store
	tree          *btree.Tree
	maxRecordSize uint64
}

// Kind returns kind of the file.
func (w *World) Kind() Kind {
	return KindWorld
}

func (w *World) file() {}

// Identifier returns identifier stored in the header.
func (w *World) Identifier() string {
	return w.tree.Header().Identifier
}

// Blocks returns the underlying block store.
func (w *World) Blocks() *blocks.Store {
	return w.blocks
}

// Tree returns the underlying B-tree.
func (w *World) Tree() *btree.Tree {
	return w.tree
}
