package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/outofforest/logger"
	"go.uber.org/zap"

	"github.com/outofforest/sbdb/sbon"
)

const usage = `sbtool - inspects and repairs world databases

Usage:
  sbtool parse [-type TYPE] FILE...                 print metadata of the files
  sbtool dump [-raw BLOCK] FILE                     print layout of the block file
  sbtool repair [-reference FILE] [-out FILE] FAIL  rebuild corrupted world
  sbtool inspect FILE                               open interactive shell
`

func main() {
	ctx := logger.WithLogger(context.Background(), logger.New(logger.DefaultConfig))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "parse":
		err = runParse(ctx, os.Args[2:])
	case "dump":
		err = runDump(os.Args[2:])
	case "repair":
		err = runRepair(ctx, os.Args[2:])
	case "inspect":
		err = runInspect(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		logger.Get(ctx).Error("Command failed", zap.String("command", os.Args[1]), zap.Error(err))
		os.Exit(1)
	}
}

// hintFromPath returns file type hint derived from the file extension.
func hintFromPath(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

func documentJSON(doc sbon.Document) map[string]any {
	v := map[string]any{
		"identifier": doc.Identifier,
		"data":       doc.Value,
	}
	if doc.Versioned {
		v["version"] = doc.Version
	}
	return v
}

func marshalJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}
