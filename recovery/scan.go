package recovery

import (
	"github.com/cespare/xxhash"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/btree"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/types"
)

// Geometry sources.
const (
	sourceHeader    = "header"
	sourceProbe     = "probe"
	sourceReference = "reference"
	sourceDefault   = "default"
)

type geometry struct {
	Blocks     blocks.Config
	KeySize    uint32
	Identifier string
	Source     string
}

// resolveGeometry determines the layout of the corrupted file. Values declared by its header win, then the ones
// declared by the reference, then the configured defaults. Block size is probed if the header is unreadable.
func resolveGeometry(corrupted []byte, ref *reference, config Config) geometry {
	g := geometry{
		Blocks:     config.Blocks,
		KeySize:    config.KeySize,
		Identifier: config.Identifier,
		Source:     sourceDefault,
	}
	if ref != nil {
		g.Blocks = ref.Blocks
		g.KeySize = uint32(ref.Tree.KeySize())
		g.Identifier = ref.Tree.Header().Identifier
		g.Source = sourceReference
	}

	header, err := blocks.ParseHeader(corrupted)
	if err != nil {
		if blockSize, ok := probeBlockSize(corrupted, g.Blocks.HeaderSize, config.ProbeBlockSizes); ok {
			g.Blocks.BlockSize = blockSize
			g.Source = sourceProbe
		}
		return g
	}

	g.Blocks = header.Config
	g.Source = sourceHeader
	if uint64(len(corrupted)) >= uint64(header.HeaderSize) {
		if treeHeader, err := btree.ParseHeader(corrupted[blocks.UserHeaderOffset:header.HeaderSize]); err == nil {
			g.KeySize = treeHeader.KeySize
			g.Identifier = treeHeader.Identifier
		}
	}
	return g
}

func isNodeSignature(signature types.Signature) bool {
	switch signature {
	case types.LeafSignature, types.IndexSignature, types.FreeSignature, types.ContinuationSignature:
		return true
	default:
		return false
	}
}

// probeBlockSize selects the stride at which block signatures recur. Each position holding a signature scores a
// point and each position not holding one loses a point, so both halves and multiples of the real block size score
// lower than the real one.
func probeBlockSize(data []byte, headerSize uint32, candidates []uint32) (uint32, bool) {
	var best uint32
	bestScore := 0
	for _, size := range candidates {
		if (blocks.Config{HeaderSize: headerSize, BlockSize: size}).Validate() != nil {
			continue
		}

		score := 0
		for offset := uint64(headerSize); offset+uint64(size) <= uint64(len(data)); offset += uint64(size) {
			if isNodeSignature(types.Signature(data[offset : offset+types.SignatureLength])) {
				score++
			} else {
				score--
			}
		}
		if score > bestScore {
			best = size
			bestScore = score
		}
	}
	return best, bestScore > 0
}

type scanResult struct {
	Entries    map[string][]byte
	Leaves     int
	Rejected   int
	Duplicates int
}

// scan harvests entries of all the leaves which decode correctly. Entries found later in the file replace the
// earlier ones.
func scan(corrupted []byte, g geometry, log *zap.Logger) (scanResult, error) {
	result := scanResult{
		Entries: map[string][]byte{},
	}

	store, err := blocks.Attach(persistent.NewReadOnlyStore(corrupted), g.Blocks)
	if err != nil {
		return scanResult{}, err
	}

	fingerprints := map[uint64]struct{}{}
	for address := types.BlockAddress(1); uint64(address) < store.NumOfBlocks(); address++ {
		block, err := store.ReadBlock(address)
		if err != nil {
			return scanResult{}, err
		}
		if types.Signature(block[:types.SignatureLength]) != types.LeafSignature {
			continue
		}

		payload, _, err := store.ReadChain(address)
		if err != nil {
			if !errors.Is(err, types.ErrCorruptTree) {
				return scanResult{}, err
			}
			log.Debug("Leaf chain rejected", zap.Uint32("block", uint32(address)), zap.Error(err))
			result.Rejected++
			continue
		}
		items, err := btree.DecodeLeaf(payload, int(g.KeySize))
		if err != nil {
			log.Debug("Leaf rejected", zap.Uint32("block", uint32(address)), zap.Error(err))
			result.Rejected++
			continue
		}

		// Copies of earlier leaves are still applied, they may restore values replaced in between.
		fingerprint := xxhash.Sum64(payload)
		if _, exists := fingerprints[fingerprint]; exists {
			result.Duplicates++
		}
		fingerprints[fingerprint] = struct{}{}

		result.Leaves++
		for _, item := range items {
			result.Entries[string(item.Key)] = item.Value
		}
	}
	return result, nil
}
