package test

import (
	"bytes"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/types"
)

// DamageHeader returns copy of the file with the header zeroed.
func DamageHeader(data []byte, config blocks.Config) []byte {
	damaged := bytes.Clone(data)
	clear(damaged[:min(int(config.HeaderSize), len(damaged))])
	return damaged
}

// DamageBlocks returns copy of the file with all the blocks of the given kind overwritten by garbage.
func DamageBlocks(data []byte, config blocks.Config, signature types.Signature) []byte {
	damaged := bytes.Clone(data)
	for offset := int(config.HeaderSize); offset+int(config.BlockSize) <= len(damaged); offset += int(config.BlockSize) {
		block := damaged[offset : offset+int(config.BlockSize)]
		if types.Signature(block[:types.SignatureLength]) != signature {
			continue
		}
		for i := range block {
			block[i] = byte(i*31 + 7)
		}
	}
	return damaged
}

// Truncate returns copy of the first size bytes of the file.
func Truncate(data []byte, size int) []byte {
	return bytes.Clone(data[:min(size, len(data))])
}
