package types

import "github.com/pkg/errors"

var (
	// ErrMalformedDocument is returned when document bytes can't be decoded.
	ErrMalformedDocument = errors.New("malformed document")

	// ErrUnsupportedFormat is returned when signature of the stream is not recognized.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrOutOfRange is returned when block index is beyond the stream.
	ErrOutOfRange = errors.New("block out of range")

	// ErrCorruptTree is returned when traversal finds an inconsistent tree structure.
	ErrCorruptTree = errors.New("corrupt tree")

	// ErrUnrecoverable is returned when recovery found nothing usable.
	ErrUnrecoverable = errors.New("unrecoverable")

	// ErrNotFound is returned when key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidKey is returned when key length differs from the key size of the database.
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidConfig is returned when requested geometry can't hold the tree.
	ErrInvalidConfig = errors.New("invalid config")
)
