package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"faultcore/common"
	"faultcore/internal/blob"
	"faultcore/internal/board"
)

var (
	inject      string
	tasks       uint32
	warmupMs    uint32
	runMs       uint32
	reportKind  uint32
	reportParam uint32
	decode      bool
	showMetrics bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Boot the board, inject a fault and decode the stored report",
	Long: `run boots the simulated board with a number of watchdog-fed tasks,
runs a warm-up period and then injects one of:

  none       no fault; the board runs for --run-ms
  starve     task 0 stops feeding its watchdog client
  report     the fault handler is called with --kind and --param
  ptr        a store to an unmapped address faults
  stack      unbounded recursion runs into the stack guard
  hw-wdg     the hardware watchdog is no longer fed
  hang-init  every init hangs until the init guard gives up

After a reset the board is booted again and the stored report is decoded.`,
	RunE: runScenario,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&inject, "inject", string(board.InjectStarve), "Fault to inject")
	f.Uint32Var(&tasks, "tasks", 2, "Number of watchdog-fed tasks")
	f.Uint32Var(&warmupMs, "warmup-ms", 500, "Time to run before injecting")
	f.Uint32Var(&runMs, "run-ms", 10000, "Time to run after injecting")
	f.Uint32Var(&reportKind, "kind", 1, "Fault type for --inject report")
	f.Uint32Var(&reportParam, "param", 0, "Fault parameter for --inject report")
	f.BoolVar(&decode, "decode", true, "Decode the stored report after the run")
	f.BoolVar(&showMetrics, "metrics", false, "Print watchdog and flash counters")
}

func validInjection(name string) bool {
	for _, in := range board.Injections {
		if string(in) == name {
			return true
		}
	}
	return false
}

func runScenario(cmd *cobra.Command, args []string) error {
	if !validInjection(inject) {
		names := make([]string, len(board.Injections))
		for i, in := range board.Injections {
			names[i] = string(in)
		}
		return fmt.Errorf("unknown injection %q (want one of %s)", inject, strings.Join(names, ", "))
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sev, _ := common.ParseSeverity(cfg.Board.LogLevel)
	logger := common.NewLoggerWithWriter(os.Stderr, sev)
	defer logger.Sync()

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	out := cmd.OutOrStdout()
	b, err := board.New(cfg, out, logger, provider.Meter("faultcore/panicsim"))
	if err != nil {
		return err
	}
	res, err := b.Play(board.Scenario{
		Tasks:    tasks,
		WarmupMs: warmupMs,
		RunMs:    runMs,
		Inject:   board.Injection(inject),
		Kind:     reportKind,
		Param:    reportParam,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nBoots: %d\n", res.Boots)
	for i, ev := range res.Resets {
		fmt.Fprintf(out, "Reset %d: %v\n", i+1, ev)
	}
	if showMetrics {
		if err := printMetrics(context.Background(), out, reader); err != nil {
			return err
		}
	}
	if !decode {
		return nil
	}

	data, err := b.StoredBlob()
	if err != nil {
		return err
	}
	rep, err := blob.NewDecoder(board.Catalog(), logger).Decode(data)
	if err != nil {
		fmt.Fprintf(out, "No fault report stored (%v)\n", err)
		return nil
	}
	p := blob.NewReportPrinter(out)
	p.PrintReport(rep)
	return nil
}

func printMetrics(ctx context.Context, w io.Writer, reader *sdkmetric.ManualReader) error {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return err
	}
	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			lines = append(lines, fmt.Sprintf("%-28s %d", m.Name, total))
		}
	}
	sort.Strings(lines)
	fmt.Fprintln(w, "\nCounters:")
	for _, l := range lines {
		fmt.Fprintln(w, "  "+l)
	}
	return nil
}
