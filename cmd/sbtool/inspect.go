package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"
	"github.com/pkg/errors"

	"github.com/outofforest/sbdb"
	"github.com/outofforest/sbdb/persistent"
	"github.com/outofforest/sbdb/world"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".meta"),
	readline.PcItem(".get"),
	readline.PcItem(".regions"),
	readline.PcItem(".check"),
	readline.PcItem(".exit"),
)

const inspectHelp = `Commands:
  .meta              print world metadata
  .get LAYER X Y     print record stored under the key
  .regions           list keys of all the regions
  .check             verify structure of the tree
  .exit              leave the shell`

func runInspect(args []string) error {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return errors.WithStack(err)
	}
	if fs.NArg() != 1 {
		return errors.New("exactly one file must be provided")
	}
	path := fs.Arg(0)

	data, unmap, err := persistent.MapFile(path)
	if err != nil {
		return err
	}
	defer unmap()

	f, err := sbdb.Parse(data, hintFromPath(path))
	if err != nil {
		return err
	}
	w, ok := f.(*world.World)
	if !ok {
		return errors.Errorf("file %s is not a world database", path)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("sbtool:%s> ", filepath.Base(path)),
		HistoryFile:     filepath.Join(os.TempDir(), ".sbtool_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete:    completer,
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer rl.Close()

	fmt.Println("Enter .help for usage hints.")
	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			if line == "" {
				return nil
			}
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return errors.WithStack(err)
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == ".exit" {
			return nil
		}
		if err := execute(w, fields); err != nil {
			color.Red("error: %s", err)
		}
	}
}

func execute(w *world.World, fields []string) error {
	switch fields[0] {
	case ".help":
		fmt.Println(inspectHelp)
	case ".meta":
		m, err := w.Metadata()
		if err != nil {
			return err
		}
		output, err := marshalJSON(map[string]any{
			"width":    m.Width,
			"height":   m.Height,
			"metadata": documentJSON(m.Document),
		})
		if err != nil {
			return err
		}
		fmt.Println(string(output))
	case ".get":
		key, err := parseKey(fields[1:])
		if err != nil {
			return err
		}
		return printRecord(w, key)
	case ".regions":
		count := 0
		for key, err := range w.Regions() {
			if err != nil {
				return err
			}
			fmt.Println(key)
			count++
		}
		fmt.Printf("%d regions\n", count)
	case ".check":
		if err := w.Tree().Check(); err != nil {
			return err
		}
		color.Green("tree is consistent")
	default:
		return errors.Errorf("unknown command %s, enter .help for usage hints", fields[0])
	}
	return nil
}

func parseKey(args []string) (world.Key, error) {
	if len(args) != 3 {
		return world.Key{}, errors.New("usage: .get LAYER X Y")
	}
	layer, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return world.Key{}, errors.WithStack(err)
	}
	x, err := strconv.ParseUint(args[1], 10, 16)
	if err != nil {
		return world.Key{}, errors.WithStack(err)
	}
	y, err := strconv.ParseUint(args[2], 10, 16)
	if err != nil {
		return world.Key{}, errors.WithStack(err)
	}
	return world.Key{
		Layer: uint8(layer),
		X:     uint16(x),
		Y:     uint16(y),
	}, nil
}

func printRecord(w *world.World, key world.Key) error {
	if key.Layer == world.EntitiesLayer {
		docs, err := w.Entities(key.X, key.Y)
		if err != nil {
			return err
		}
		entities := make([]any, 0, len(docs))
		for _, doc := range docs {
			entities = append(entities, documentJSON(doc))
		}
		output, err := marshalJSON(entities)
		if err != nil {
			return err
		}
		fmt.Println(string(output))
		return nil
	}

	payload, err := w.Region(key.Layer, key.X, key.Y)
	if err != nil {
		return err
	}
	fmt.Printf("%d bytes\n", len(payload))
	fmt.Print(hex.Dump(payload[:min(len(payload), 256)]))
	return nil
}
