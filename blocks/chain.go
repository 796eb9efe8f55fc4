package blocks

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/types"
)

// ChainBlock is the decoded chained block.
type ChainBlock struct {
	Signature types.Signature
	Payload   []byte
	Next      types.BlockAddress
}

// DecodeChainBlock decodes chained block.
func DecodeChainBlock(block []byte) (ChainBlock, error) {
	if len(block) < ChainHeaderSize {
		return ChainBlock{}, errors.Wrapf(types.ErrCorruptTree, "block of %d bytes can't be chained", len(block))
	}
	length := binary.BigEndian.Uint32(block[types.SignatureLength:])
	if uint64(length) > uint64(len(block)-ChainHeaderSize) {
		return ChainBlock{}, errors.Wrapf(types.ErrCorruptTree, "payload length %d exceeds block", length)
	}
	return ChainBlock{
		Signature: types.Signature(block[:types.SignatureLength]),
		Payload:   block[ChainHeaderSize : ChainHeaderSize+length],
		Next:      types.BlockAddress(binary.BigEndian.Uint32(block[types.SignatureLength+types.UInt32Length:])),
	}, nil
}

// ReadChain reads data stored in the chain starting at the first block.
func (s *Store) ReadChain(first types.BlockAddress) ([]byte, types.Signature, error) {
	var data []byte
	var signature types.Signature
	err := s.walkChain(first, func(_ types.BlockAddress, cb ChainBlock) {
		if data == nil {
			signature = cb.Signature
			data = make([]byte, 0, len(cb.Payload))
		}
		data = append(data, cb.Payload...)
	})
	if err != nil {
		return nil, types.Signature{}, err
	}
	return data, signature, nil
}

// ChainBlocks returns addresses of all the blocks forming the chain.
func (s *Store) ChainBlocks(first types.BlockAddress) ([]types.BlockAddress, error) {
	var addresses []types.BlockAddress
	err := s.walkChain(first, func(address types.BlockAddress, _ ChainBlock) {
		addresses = append(addresses, address)
	})
	if err != nil {
		return nil, err
	}
	return addresses, nil
}

func (s *Store) walkChain(first types.BlockAddress, fn func(types.BlockAddress, ChainBlock)) error {
	if err := s.checkAddress(first); err != nil {
		return err
	}

	visited := map[types.BlockAddress]struct{}{}
	for address := first; address != types.NoBlock; {
		if _, exists := visited[address]; exists {
			return errors.Wrapf(types.ErrCorruptTree, "chain starting at block %d cycles at block %d", first, address)
		}
		visited[address] = struct{}{}

		block, err := s.ReadBlock(address)
		if err != nil {
			if errors.Is(err, types.ErrOutOfRange) {
				return errors.Wrapf(types.ErrCorruptTree, "chain starting at block %d: %s", first, err)
			}
			return err
		}
		cb, err := DecodeChainBlock(block)
		if err != nil {
			return errors.WithMessagef(err, "block %d", address)
		}

		switch {
		case address == first && (cb.Signature == types.FreeSignature || cb.Signature == types.ContinuationSignature):
			return errors.Wrapf(types.ErrCorruptTree, "block %d of type %s can't start the chain", address,
				cb.Signature)
		case address != first && cb.Signature != types.ContinuationSignature:
			return errors.Wrapf(types.ErrCorruptTree, "block %d of type %s found in the chain of block %d",
				address, cb.Signature, first)
		}

		fn(address, cb)
		address = cb.Next
	}
	return nil
}

// WriteChain writes data to the chain starting at the preallocated first block. Continuation blocks are allocated
// when data exceeds the payload size of one block.
func (s *Store) WriteChain(first types.BlockAddress, signature types.Signature, data []byte) (types.BlockAddress, error) {
	if err := s.checkAddress(first); err != nil {
		return 0, err
	}

	payloadSize := int(s.PayloadSize())
	addresses := []types.BlockAddress{first}
	for remaining := len(data) - payloadSize; remaining > 0; remaining -= payloadSize {
		address, err := s.AllocateBlock()
		if err != nil {
			return 0, err
		}
		addresses = append(addresses, address)
	}

	block := make([]byte, s.header.BlockSize)
	for i, address := range addresses {
		chunk := data[min(i*payloadSize, len(data)):min((i+1)*payloadSize, len(data))]
		next := types.NoBlock
		if i < len(addresses)-1 {
			next = addresses[i+1]
		}
		sig := signature
		if i > 0 {
			sig = types.ContinuationSignature
		}

		clear(block)
		copy(block, sig[:])
		binary.BigEndian.PutUint32(block[types.SignatureLength:], uint32(len(chunk)))
		binary.BigEndian.PutUint32(block[types.SignatureLength+types.UInt32Length:], uint32(next))
		copy(block[ChainHeaderSize:], chunk)

		if err := s.WriteBlock(address, block); err != nil {
			return 0, err
		}
	}

	return first, nil
}

// FreeChain returns all the blocks of the chain to the free list.
func (s *Store) FreeChain(first types.BlockAddress) error {
	addresses, err := s.ChainBlocks(first)
	if err != nil {
		return err
	}
	for _, address := range addresses {
		if err := s.FreeBlock(address); err != nil {
			return err
		}
	}
	return nil
}
