package persistent

// Store is the byte stream the block store lives in.
type Store interface {
	Size() uint64
	Read(offset uint64, data []byte) error
	Write(offset uint64, data []byte) error
}
