package test

import (
	"fmt"
	"slices"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/btree"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/sbon"
	"github.com/outofforest/sbdb/types"
	"github.com/outofforest/sbdb/world"
)

// SmallWorldConfig returns world configuration with small blocks, so even few regions produce multi-level tree.
func SmallWorldConfig() world.Config {
	return world.Config{
		Blocks: blocks.Config{
			HeaderSize: 512,
			BlockSize:  256,
		},
		Identifier: world.Identifier,
	}
}

// Metadata returns world metadata used by fixtures.
func Metadata() world.Metadata {
	return world.Metadata{
		Width:  3000,
		Height: 2000,
		Document: sbon.Document{
			Identifier: "WorldMetadata",
			Version:    23,
			Versioned:  true,
			Value: map[string]any{
				"playerStart":       []any{int64(1500), int64(1012)},
				"adjustPlayerStart": true,
				"gravity":           80.5,
				"worldTemplate": map[string]any{
					"seed": int64(-42),
					"type": "terrestrial",
				},
			},
		},
	}
}

// RegionKey returns key of i-th fixture region.
func RegionKey(i int) world.Key {
	return world.Key{
		Layer: world.TilesLayer,
		X:     uint16(i % 100),
		Y:     uint16(i / 100),
	}
}

// RegionPayload returns payload of i-th fixture region.
func RegionPayload(i int) []byte {
	return []byte(fmt.Sprintf("region-%05d-tiles", i))
}

// BuildWorld builds world database containing metadata and the requested number of regions.
func BuildWorld(config world.Config, regions int) ([]byte, error) {
	ms := persistent.NewMemoryStore(nil)
	w, err := world.Create(ms, config)
	if err != nil {
		return nil, err
	}
	if err := w.PutMetadata(Metadata()); err != nil {
		return nil, err
	}
	for i := range regions {
		key := RegionKey(i)
		if err := w.PutRegion(key.Layer, key.X, key.Y, RegionPayload(i)); err != nil {
			return nil, err
		}
	}
	return ms.Bytes(), nil
}

// CollectItems collects items stored in the tree.
func CollectItems(tree *btree.Tree) ([]types.Item, error) {
	items := []types.Item{}
	for item, err := range tree.Iterator() {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// CollectRegions collects keys of regions stored in the world.
func CollectRegions(w *world.World) ([]world.Key, error) {
	keys := []world.Key{}
	for key, err := range w.Regions() {
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// RegionKeys returns sorted keys of the first n fixture regions.
func RegionKeys(n int) []world.Key {
	keys := make([]world.Key, 0, n)
	for i := range n {
		keys = append(keys, RegionKey(i))
	}
	slices.SortFunc(keys, func(a, b world.Key) int {
		return slices.Compare(a.Bytes(), b.Bytes())
	})
	return keys
}
