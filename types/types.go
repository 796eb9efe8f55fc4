package types

import "math"

const (
	// UInt32Length is the number of bytes taken by uint32.
	UInt32Length = 4

	// SignatureLength is the number of bytes taken by block signature.
	SignatureLength = 2
)

// BlockAddress is the 0-based index of the block in the file. Block 0 is the header.
type BlockAddress uint32

const (
	// HeaderBlock is the address of the header block.
	HeaderBlock BlockAddress = 0

	// NoBlock terminates free lists and block chains.
	NoBlock BlockAddress = math.MaxUint32
)

// Signature is the 2-byte marker stored at the beginning of every data block.
type Signature [SignatureLength]byte

// Block signatures.
var (
	// FreeSignature marks block on the free list.
	FreeSignature = Signature{'F', 'F'}

	// IndexSignature marks index node.
	IndexSignature = Signature{'I', 'I'}

	// LeafSignature marks leaf node.
	LeafSignature = Signature{'L', 'L'}

	// ContinuationSignature marks continuation block of a chain.
	ContinuationSignature = Signature{'C', 'C'}
)

// String returns printable form of the signature.
func (s Signature) String() string {
	return string(s[:])
}

// RootDescriptor identifies the top block of the tree.
type RootDescriptor struct {
	Block  BlockAddress
	IsLeaf bool
}

// Item is the key-value pair stored in the tree.
type Item struct {
	Key   []byte
	Value []byte
}
