package recovery

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/outofforest/sbdb/blocks"
	"github.com/outofforest/sbdb/btree"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/types"
)

// WarningKind is the kind of repair warning.
type WarningKind int

// Warning kinds.
const (
	// WarningFilled is reported for every key copied from the reference.
	WarningFilled WarningKind = iota + 1

	// WarningReference is reported when the reference can't be used.
	WarningReference

	// WarningFileName is reported when names suggest that files belong to different worlds.
	WarningFileName
)

// Warning describes non-fatal condition met during repair.
type Warning struct {
	Kind    WarningKind
	Key     []byte
	Message string
}

func (w Warning) String() string {
	return w.Message
}

// Result is the result of repair.
type Result struct {
	Data       []byte
	Warnings   []Warning
	Recovered  int
	Filled     int
	Identifier string
}

type reference struct {
	Tree   *btree.Tree
	Blocks blocks.Config
}

// Repair rebuilds world database from the corrupted file. Entries missing in the corrupted file are copied from
// the reference if it is provided.
func Repair(ctx context.Context, corrupted, referenceData []byte, opts ...Option) (Result, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	log := logger.Get(ctx).With(zap.Stringer("session", uuid.New()))

	var warnings []Warning
	if referenceData != nil && config.FailName != "" && config.ReferenceName != "" &&
		!strings.HasPrefix(filepath.Base(config.FailName), filepath.Base(config.ReferenceName)) {
		warnings = append(warnings, Warning{
			Kind: WarningFileName,
			Message: fmt.Sprintf("fail file name %q does not start with the reference file name %q, if the "+
				"files belong to different worlds the result may be very strange",
				filepath.Base(config.FailName), filepath.Base(config.ReferenceName)),
		})
	}

	var ref *reference
	if referenceData != nil {
		var err error
		ref, err = openReference(referenceData)
		if err != nil {
			log.Warn("Reference is unusable", zap.Error(err))
			warnings = append(warnings, Warning{
				Kind:    WarningReference,
				Message: fmt.Sprintf("reference can't be used: %s", err),
			})
		}
	}

	g := resolveGeometry(corrupted, ref, config)
	log.Info("Geometry resolved",
		zap.String("source", g.Source),
		zap.Uint32("headerSize", g.Blocks.HeaderSize),
		zap.Uint32("blockSize", g.Blocks.BlockSize),
		zap.Uint32("keySize", g.KeySize),
		zap.String("identifier", g.Identifier))

	if ref != nil && uint32(ref.Tree.KeySize()) != g.KeySize {
		warnings = append(warnings, Warning{
			Kind: WarningReference,
			Message: fmt.Sprintf("reference keys have %d bytes while corrupted file uses %d bytes",
				ref.Tree.KeySize(), g.KeySize),
		})
		ref = nil
	}

	result, err := scan(corrupted, g, log)
	if err != nil {
		return Result{}, err
	}
	log.Info("Scan finished",
		zap.Int("leaves", result.Leaves),
		zap.Int("rejected", result.Rejected),
		zap.Int("duplicates", result.Duplicates),
		zap.Int("entries", len(result.Entries)))

	if result.Leaves == 0 && ref == nil {
		return Result{}, errors.Wrap(types.ErrUnrecoverable, "no valid leaf found and no reference is usable")
	}

	entries := result.Entries
	recovered := len(entries)
	if ref != nil {
		fillWarnings, err := fill(entries, ref.Tree)
		if err != nil {
			log.Warn("Reference traversal failed", zap.Error(err))
			fillWarnings = append(fillWarnings, Warning{
				Kind:    WarningReference,
				Message: fmt.Sprintf("reading reference stopped: %s", err),
			})
		}
		warnings = append(warnings, fillWarnings...)
	}
	log.Info("Gaps filled", zap.Int("filled", len(entries)-recovered))

	data, err := rebuild(entries, g)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Data:       data,
		Warnings:   warnings,
		Recovered:  recovered,
		Filled:     len(entries) - recovered,
		Identifier: g.Identifier,
	}, nil
}

func openReference(data []byte) (*reference, error) {
	bs, err := blocks.Open(persistent.NewReadOnlyStore(data))
	if err != nil {
		return nil, err
	}
	tree, err := btree.Open(bs)
	if err != nil {
		return nil, err
	}
	return &reference{
		Tree:   tree,
		Blocks: bs.Header().Config,
	}, nil
}

// fill copies entries missing in the harvested set from the reference. Entries read before traversal error are kept.
func fill(entries map[string][]byte, tree *btree.Tree) ([]Warning, error) {
	var warnings []Warning
	for item, err := range tree.Iterator() {
		if err != nil {
			return warnings, err
		}
		if _, exists := entries[string(item.Key)]; exists {
			continue
		}
		entries[string(item.Key)] = item.Value
		warnings = append(warnings, Warning{
			Kind:    WarningFilled,
			Key:     item.Key,
			Message: fmt.Sprintf("key %x copied from the reference", item.Key),
		})
	}
	return warnings, nil
}

// rebuild writes entries to the new database.
func rebuild(entries map[string][]byte, g geometry) ([]byte, error) {
	ms := persistent.NewMemoryStore(nil)
	bs, err := blocks.Create(ms, g.Blocks)
	if err != nil {
		return nil, err
	}
	tree, err := btree.Create(bs, btree.Config{
		KeySize:    g.KeySize,
		Identifier: g.Identifier,
	})
	if err != nil {
		return nil, err
	}

	keys := lo.Keys(entries)
	slices.Sort(keys)
	for _, key := range keys {
		if err := tree.Put([]byte(key), entries[key]); err != nil {
			return nil, err
		}
	}
	return ms.Bytes(), nil
}
