package recovery

import (
	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/world"
)

// Config stores configuration of the repair session.
type Config struct {
	// Blocks is the geometry assumed when neither the corrupted file nor the reference declares it.
	Blocks blocks.Config

	// KeySize is the key size assumed when neither the corrupted file nor the reference declares it.
	KeySize uint32

	// Identifier is the tree identifier assumed when neither the corrupted file nor the reference declares it.
	Identifier string

	// ProbeBlockSizes are the strides tried when the header of the corrupted file is unreadable.
	ProbeBlockSizes []uint32

	// FailName is the name of the corrupted file.
	FailName string

	// ReferenceName is the name of the reference file.
	ReferenceName string
}

// DefaultConfig returns default repair configuration.
func DefaultConfig() Config {
	sizes := []uint32{}
	for size := uint32(256); size <= 65536; size <<= 1 {
		sizes = append(sizes, size)
	}

	return Config{
		Blocks:          blocks.DefaultConfig(),
		KeySize:         world.KeySize,
		Identifier:      world.Identifier,
		ProbeBlockSizes: sizes,
	}
}

// Option modifies repair configuration.
type Option func(config *Config)

// WithFileNames sets names of the corrupted and reference files.
func WithFileNames(failName, referenceName string) Option {
	return func(config *Config) {
		config.FailName = failName
		config.ReferenceName = referenceName
	}
}

// WithDefaultGeometry sets geometry assumed when no file declares it.
func WithDefaultGeometry(blocksConfig blocks.Config, keySize uint32) Option {
	return func(config *Config) {
		config.Blocks = blocksConfig
		config.KeySize = keySize
	}
}

// WithProbeBlockSizes sets strides tried when the header of the corrupted file is unreadable.
func WithProbeBlockSizes(sizes ...uint32) Option {
	return func(config *Config) {
		config.ProbeBlockSizes = sizes
	}
}
