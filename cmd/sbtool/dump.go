package main

import (
	"flag"
	"fmt"
	"slices"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/btree"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/types"
)

func runDump(args []string) error {
	fs := flag.NewFlagSet("dump", flag.ExitOnError)
	raw := fs.Int("raw", -1, "dump content of the block")
	if err := fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one file must be provided")
	}

	data, unmap, err := persistent.MapFile(fs.Arg(0))
	if err != nil {
		return err
	}
	defer unmap()

	bs, err := blocks.Open(persistent.NewReadOnlyStore(data))
	if err != nil {
		return err
	}

	if *raw >= 0 {
		block, err := bs.ReadBlock(types.BlockAddress(*raw))
		if err != nil {
			return err
		}
		cb, err := blocks.DecodeChainBlock(block)
		if err != nil {
			spew.Dump(block)
			return err
		}
		spew.Dump(cb)
		return nil
	}

	header := bs.Header()
	fmt.Printf("header size:     %d\n", header.HeaderSize)
	fmt.Printf("block size:      %d\n", header.BlockSize)
	fmt.Printf("dirty:           %t\n", header.Dirty)
	fmt.Printf("free block head: %s\n", addressString(header.FreeBlockHead))
	fmt.Printf("blocks:          %d\n", bs.NumOfBlocks())

	tree, err := btree.Open(bs)
	if err != nil {
		fmt.Printf("tree:            %s\n", err)
	} else {
		treeHeader := tree.Header()
		fmt.Printf("identifier:      %s\n", treeHeader.Identifier)
		fmt.Printf("key size:        %d\n", treeHeader.KeySize)
		fmt.Printf("active root:     %s\n", rootString(treeHeader.Active()))
		fmt.Printf("inactive root:   %s\n", rootString(treeHeader.Inactive()))
		check := "ok"
		if err := tree.Check(); err != nil {
			check = err.Error()
		}
		fmt.Printf("check:           %s\n", check)
	}

	counts := map[string]int{}
	for address := types.BlockAddress(1); uint64(address) < bs.NumOfBlocks(); address++ {
		block, err := bs.ReadBlock(address)
		if err != nil {
			return err
		}
		counts[types.Signature(block[:types.SignatureLength]).String()]++
	}
	signatures := lo.Keys(counts)
	slices.Sort(signatures)
	for _, signature := range signatures {
		fmt.Printf("%-16s %d\n", signature+":", counts[signature])
	}
	return nil
}

func addressString(address types.BlockAddress) string {
	if address == types.NoBlock {
		return "none"
	}
	return fmt.Sprint(uint32(address))
}

func rootString(root types.RootDescriptor) string {
	return fmt.Sprintf("%s (leaf: %t)", addressString(root.Block), root.IsLeaf)
}
