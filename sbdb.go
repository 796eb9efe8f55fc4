package sbdb

import (
	"context"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/recovery"
	"github.com/outofforest/sbdb/sbon"
	"github.com/outofforest/sbdb/types"
	"github.com/outofforest/sbdb/world"
)

// Parse parses the file. Hint is the file extension, if it is empty the kind is detected from the content.
func Parse(data []byte, hint string) (world.File, error) {
	return world.Parse(data, hint)
}

// Metadata returns the descriptive document of the file.
func Metadata(f world.File) (sbon.Document, error) {
	switch f := f.(type) {
	case *world.VersionedFile:
		return f.Document, nil
	case *world.World:
		m, err := f.Metadata()
		if err != nil {
			return sbon.Document{}, err
		}
		return m.Document, nil
	default:
		return sbon.Document{}, errors.Wrapf(types.ErrUnsupportedFormat, "file of type %T", f)
	}
}

// Repair rebuilds corrupted world database. Reference is optional, nil means it is not provided.
// Context must carry the logger.
func Repair(ctx context.Context, corrupted, reference []byte, opts ...recovery.Option) (recovery.Result, error) {
	return recovery.Repair(ctx, corrupted, reference, opts...)
}
