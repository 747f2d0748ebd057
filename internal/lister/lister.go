// Package lister is the processing loop behind the faultdump tool: read a
// captured diagnostic blob, decode it and print the report.
package lister

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"faultcore/internal/blob"
	"faultcore/internal/catalog"
	"faultcore/internal/common"
	"faultcore/internal/diag"
)

// Config mirrors the command line of faultdump.
type Config struct {
	// Input is a console capture, a raw flash image with Raw set, or "-"
	// for stdin.
	Input string
	Raw   bool
	// Catalog is the base tag catalog; nil means the built-in test tags.
	Catalog *catalog.Catalog
	// CatalogPath names a YAML catalog merged over Catalog.
	CatalogPath  string
	ShowOffsets  bool
	Stats        bool
	OutputWriter io.Writer
	Logger       *zap.Logger
}

// Run decodes the input and prints it. A structural error in the blob is
// reported after printing whatever sections were decoded.
func Run(cfg Config) error {
	w := cfg.OutputWriter
	if w == nil {
		w = os.Stdout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fmt.Fprintln(w, "Fault Data Lister: diagnostic blob decode")
	fmt.Fprintln(w, "-----------------------------------------")
	fmt.Fprintf(w, "Fault Data Lister : reading %s\n", name(cfg.Input))

	data, err := readInput(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Read %d bytes of fault data\n", len(data))

	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.Default()
	}
	if cfg.CatalogPath != "" {
		extra, err := catalog.Load(cfg.CatalogPath)
		if err != nil {
			return err
		}
		if cat, err = cat.Merge(extra); err != nil {
			return err
		}
		fmt.Fprintf(w, "Using tag catalog %s (%d tags)\n", cfg.CatalogPath, cat.Len())
	}

	rep, decodeErr := blob.NewDecoder(cat, logger).Decode(data)
	p := blob.NewReportPrinter(w)
	p.SetShowOffsets(cfg.ShowOffsets)
	if cfg.Stats {
		p.SetCollectStats()
	}
	p.PrintReport(rep)
	if cfg.Stats {
		p.PrintStats()
	}
	if decodeErr != nil {
		return decodeErr
	}
	if !rep.Complete {
		fmt.Fprintln(w, "WARNING: no end marker, fault data may be truncated")
	}
	return nil
}

func name(input string) string {
	if input == "" || input == "-" {
		return "stdin"
	}
	return input
}

func readInput(cfg Config) ([]byte, error) {
	var raw []byte
	var err error
	if cfg.Input == "" || cfg.Input == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(cfg.Input)
	}
	if err != nil {
		return nil, common.Errorf(diag.ErrArg, "read %s: %v", name(cfg.Input), err)
	}
	if cfg.Raw {
		return raw, nil
	}
	return blob.ParseText(bytes.NewReader(raw))
}
