package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/outofforest/parallel"
	"github.com/pkg/errors"

	"github.com/outofforest/sbdb"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/world"
)

func runParse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	fileType := fs.String("type", "", "type of the files, detected from the extension by default")
	if err := fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}
	files := fs.Args()
	if len(files) == 0 {
		return errors.New("no files provided")
	}

	outputs := make([][]byte, len(files))
	err := parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for i, file := range files {
			spawn(fmt.Sprintf("file-%02d", i), parallel.Continue, func(ctx context.Context) error {
				hint := *fileType
				if hint == "" {
					hint = hintFromPath(file)
				}
				output, err := describe(file, hint)
				if err != nil {
					return errors.WithMessagef(err, "parsing file %s", file)
				}
				outputs[i] = output
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, output := range outputs {
		fmt.Println(string(output))
	}
	return nil
}

func describe(path, hint string) ([]byte, error) {
	data, unmap, err := persistent.MapFile(path)
	if err != nil {
		return nil, err
	}
	defer unmap()

	f, err := sbdb.Parse(data, hint)
	if err != nil {
		return nil, err
	}
	doc, err := sbdb.Metadata(f)
	if err != nil {
		return nil, err
	}

	v := map[string]any{
		"file":     path,
		"kind":     f.Kind().String(),
		"metadata": documentJSON(doc),
	}
	if w, ok := f.(*world.World); ok {
		m, err := w.Metadata()
		if err != nil {
			return nil, err
		}
		v["identifier"] = w.Identifier()
		v["width"] = m.Width
		v["height"] = m.Height
	}
	return marshalJSON(v)
}
