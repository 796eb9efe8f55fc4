package main

import (
	"context"
	"flag"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/outofforest/sbdb"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/recovery"
)

func runRepair(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	referencePath := fs.String("reference", "", "known-good world used to fill missing entries")
	outPath := fs.String("out", "", "output file, derived from the fail file name by default")
	force := fs.Bool("force", false, "accept corrupted file without .fail extension")
	if err := fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one fail file must be provided")
	}
	failPath := fs.Arg(0)
	if !*force && !strings.HasSuffix(failPath, ".fail") {
		return errors.Errorf("file %s does not end with .fail", failPath)
	}

	corrupted, unmap, err := persistent.MapFile(failPath)
	if err != nil {
		return err
	}
	defer unmap()

	var reference []byte
	if *referencePath != "" {
		var unmapReference func()
		reference, unmapReference, err = persistent.MapFile(*referencePath)
		if err != nil {
			return err
		}
		defer unmapReference()
	}

	result, err := sbdb.Repair(ctx, corrupted, reference, recovery.WithFileNames(failPath, *referencePath))
	if err != nil {
		return err
	}

	filled := 0
	for _, w := range result.Warnings {
		if w.Kind == recovery.WarningFilled {
			filled++
			continue
		}
		color.Yellow("warning: %s", w)
	}
	if filled > 0 {
		color.Yellow("warning: %d entries copied from the reference", filled)
	}

	if *outPath == "" {
		*outPath = filepath.Join(filepath.Dir(failPath), recovery.RepairedFileName(failPath))
	}
	if err := writeFile(*outPath, result.Data); err != nil {
		return err
	}

	color.Green("Repaired world %q written to %s, %d entries recovered, %d filled from the reference",
		result.Identifier, *outPath, result.Recovered, result.Filled)
	return nil
}

func writeFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		return errors.WithStack(err)
	}
	defer file.Close()

	store, err := persistent.NewFileStore(file)
	if err != nil {
		return err
	}
	if err := store.Write(0, data); err != nil {
		return err
	}
	return store.Sync()
}
