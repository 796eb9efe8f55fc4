package btree

import (
	"slices"

	"github.com/pkg/errors"

	"github.com/outofforest/sbdb/types"
)

type blockSet map[types.BlockAddress]struct{}

// Check verifies structure of both root descriptors and consistency of the free list.
func (t *Tree) Check() error {
	reachable := blockSet{}
	for _, root := range t.roots() {
		visited, err := t.reachable(root)
		if err != nil {
			return err
		}
		for address := range visited {
			reachable[address] = struct{}{}
		}
	}

	for address, err := range t.blocks.FreeBlocks() {
		if err != nil {
			return err
		}
		if _, exists := reachable[address]; exists {
			return errors.Wrapf(types.ErrCorruptTree, "block %d is both free and used by the tree", address)
		}
	}
	return nil
}

func (t *Tree) roots() []types.RootDescriptor {
	active, inactive := t.header.Active(), t.header.Inactive()
	if active == inactive {
		return []types.RootDescriptor{active}
	}
	return []types.RootDescriptor{active, inactive}
}

// reachable returns all the blocks forming the tree rooted at the descriptor.
func (t *Tree) reachable(root types.RootDescriptor) (blockSet, error) {
	visited := blockSet{}
	err := t.walk(root, func(addresses []types.BlockAddress) error {
		for _, address := range addresses {
			if _, exists := visited[address]; exists {
				return errors.Wrapf(types.ErrCorruptTree, "block %d is referenced more than once", address)
			}
			visited[address] = struct{}{}
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return visited, nil
}

// walk visits nodes of the tree in key order. onNode receives blocks forming each node, onItem receives leaf items
// and stops the walk by returning false.
func (t *Tree) walk(
	root types.RootDescriptor,
	onNode func([]types.BlockAddress) error,
	onItem func(types.Item) bool,
) error {
	_, err := t.walkNode(root.Block, root.IsLeaf, -1, nil, nil, 0, onNode, onItem)
	return err
}

func (t *Tree) walkNode(
	address types.BlockAddress,
	isLeaf bool,
	level int,
	lower, upper []byte,
	depth int,
	onNode func([]types.BlockAddress) error,
	onItem func(types.Item) bool,
) (bool, error) {
	if depth > maxDepth {
		return false, errors.Wrapf(types.ErrCorruptTree, "tree is deeper than %d levels", maxDepth)
	}

	if isLeaf {
		items, err := t.readLeaf(address, lower, upper)
		if err != nil {
			return false, err
		}
		if err := t.visitNode(address, onNode); err != nil {
			return false, err
		}
		if onItem == nil {
			return true, nil
		}
		for _, item := range items {
			if !onItem(item) {
				return false, nil
			}
		}
		return true, nil
	}

	n, err := t.readIndex(address, lower, upper, level)
	if err != nil {
		return false, err
	}
	if err := t.visitNode(address, onNode); err != nil {
		return false, err
	}
	for i, child := range n.children {
		childLower, childUpper := n.childBounds(i, lower, upper)
		cont, err := t.walkNode(child, n.level == 0, int(n.level)-1, childLower, childUpper, depth+1, onNode, onItem)
		if err != nil || !cont {
			return false, err
		}
	}
	return true, nil
}

func (t *Tree) visitNode(address types.BlockAddress, onNode func([]types.BlockAddress) error) error {
	if onNode == nil {
		return nil
	}
	addresses, err := t.blocks.ChainBlocks(address)
	if err != nil {
		return err
	}
	return onNode(addresses)
}

// release frees blocks no root refers to anymore and stores the updated free list.
func (t *Tree) release(addresses []types.BlockAddress) error {
	if len(addresses) == 0 {
		return nil
	}
	for _, address := range addresses {
		if err := t.blocks.FreeBlock(address); err != nil {
			return err
		}
	}
	return t.blocks.Flush()
}

// stalePending computes blocks used only by the inactive root of the tree loaded from the file. Whenever it can't
// be determined reliably, nothing is released and blocks are leaked instead.
func (t *Tree) stalePending() []types.BlockAddress {
	active, inactive := t.header.Active(), t.header.Inactive()
	if active == inactive {
		return nil
	}

	activeBlocks, err := t.reachable(active)
	if err != nil {
		return nil
	}
	inactiveBlocks, err := t.reachable(inactive)
	if err != nil {
		return nil
	}
	for address, err := range t.blocks.FreeBlocks() {
		if err != nil {
			return nil
		}
		delete(inactiveBlocks, address)
	}

	pending := make([]types.BlockAddress, 0, len(inactiveBlocks))
	for address := range inactiveBlocks {
		if _, exists := activeBlocks[address]; !exists {
			pending = append(pending, address)
		}
	}
	slices.Sort(pending)
	return pending
}
