// Command faulterr lists the result codes returned by the reliability core.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"faultcore/internal/common"
	"faultcore/internal/diag"
)

var rootCmd = &cobra.Command{
	Use:   "faulterr [code...]",
	Short: "List result codes and their descriptions",
	Long: `faulterr prints every result code with its symbolic name and
description. With arguments, only the named numeric codes are printed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listCodes(cmd.OutOrStdout(), args)
	},
}

func listCodes(w io.Writer, args []string) error {
	var codes []diag.Err
	if len(args) == 0 {
		for c := diag.OK; c < diag.ErrLast; c++ {
			codes = append(codes, c)
		}
		fmt.Fprintf(w, "Result code list\n\n")
	}
	for _, a := range args {
		n, err := strconv.ParseUint(a, 0, 32)
		if err != nil {
			return fmt.Errorf("bad code %q: %w", a, err)
		}
		codes = append(codes, diag.Err(n))
	}
	for _, c := range codes {
		name, msg, ok := common.Describe(c)
		if !ok {
			fmt.Fprintf(w, "%d: unknown result code\n", uint32(c))
			continue
		}
		fmt.Fprintf(w, "%d: %s - %s\n", uint32(c), name, msg)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
