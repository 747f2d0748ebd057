package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"faultcore/common"
	"faultcore/internal/board"
	"faultcore/internal/lister"
)

var (
	raw         bool
	catalogPath string
	showOffsets bool
	stats       bool
	logLevel    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "faultdump [file]",
		Short: "Decode a fault report captured from the console or read from flash",
		Long: `faultdump decodes the diagnostic blob written by the fault handler.

The input is either the hex rows printed on the console when the fault
occurred, or with --raw a binary image of the diagnostic flash region.
Without a file, the input is read from stdin. Trace entries are rendered
with the board tag catalog, extended by --catalog.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	rootCmd.Flags().BoolVar(&raw, "raw", false, "Input is a binary flash image")
	rootCmd.Flags().StringVar(&catalogPath, "catalog", "", "YAML tag catalog merged over the board tags")
	rootCmd.Flags().BoolVar(&showOffsets, "offsets", false, "Prefix trace lines with their buffer offset")
	rootCmd.Flags().BoolVar(&stats, "stats", false, "Print per-tag counts after the trace")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	sev, ok := common.ParseSeverity(logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", logLevel)
	}
	logger := common.NewLoggerWithWriter(os.Stderr, sev)
	defer logger.Sync()

	input := "-"
	if len(args) == 1 {
		input = args[0]
	}
	return lister.Run(lister.Config{
		Input:        input,
		Raw:          raw,
		Catalog:      board.Catalog(),
		CatalogPath:  catalogPath,
		ShowOffsets:  showOffsets,
		Stats:        stats,
		OutputWriter: cmd.OutOrStdout(),
		Logger:       logger,
	})
}
