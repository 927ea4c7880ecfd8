package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/bench"
	"github.com/weiihann/addrcheck/config"
	"github.com/weiihann/addrcheck/normalize"
	"github.com/weiihann/addrcheck/report"
	"github.com/weiihann/addrcheck/sheet"
	"github.com/weiihann/addrcheck/workload"
)

// probeSource selects where benchmark requests come from. The zero value
// repeats the configured probe row.
type probeSource struct {
	sheet    *sheet.Sheet
	probeRow int
}

type benchOptions struct {
	input        string
	probeRow     int
	mode         string
	seed         int64
	dumpWorkload string
	requests     int
	outputJSON   bool
}

func newBenchCmd(app *globalOptions) *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Find the best concurrency for the normalization service",
		Long: `Measure the normalization service at a ladder of concurrency levels,
re-measure the most promising levels with a larger sample and recommend the
level with the best throughput-to-latency ratio under the error ceiling.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(app.configPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("workload") {
				cfg.Bench.Workload = opts.mode
			}

			if cmd.Flags().Changed("seed") {
				cfg.Bench.Seed = opts.seed
			}

			return runBench(cmd.Context(), app, cfg, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.input, "input", "i", "",
		"Test sheet to take probe rows from")
	flags.IntVar(&opts.probeRow, "probe-row", 0,
		"Sheet row (line number) used as the identical probe")
	flags.StringVar(&opts.mode, "workload", workload.ModeIdentical,
		"Probe workload: identical, sample")
	flags.Int64Var(&opts.seed, "seed", 0,
		"Random seed for the sample workload")
	flags.StringVar(&opts.dumpWorkload, "dump-workload", "",
		"Write the probe requests as JSONL to this path and exit")
	flags.IntVar(&opts.requests, "requests", 1000,
		"Number of requests written by --dump-workload")
	flags.BoolVar(&opts.outputJSON, "json", false,
		"Output results as JSON instead of table")

	return cmd
}

func runBench(
	ctx context.Context,
	app *globalOptions,
	cfg *config.Config,
	opts benchOptions,
) error {
	logger := app.logger.With(slog.String("mode", "bench"))

	// Step 1: Load probe rows from the sheet, if one was given.
	src := probeSource{probeRow: opts.probeRow}

	if opts.input != "" {
		s, err := loadSheet(ctx, logger, opts.input, cfg)
		if err != nil {
			return err
		}

		src.sheet = s
	}

	// Step 2: Dump the workload instead of running it, if asked.
	if opts.dumpWorkload != "" {
		gen, err := newGenerator(cfg, src)
		if err != nil {
			return fmt.Errorf("create workload: %w", err)
		}

		return dumpWorkload(ctx, logger, gen, opts)
	}

	// Step 3: Build the normalization client.
	client, err := normalize.NewClient(normalize.Config{
		Endpoint: cfg.Normalize.Endpoint,
		Timeout:  cfg.NormalizeTimeout(),
	}, newHTTPClient(maxLevel(cfg.Bench.Ladder)), logger)
	if err != nil {
		return fmt.Errorf("create normalize client: %w", err)
	}

	// Step 4: Run the benchmark.
	rec, err := runEngine(ctx, logger, cfg, client, src)
	if err != nil {
		return err
	}

	// Step 5: Generate report.
	if opts.outputJSON {
		if err := report.BenchmarkJSON(os.Stdout, rec); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	} else {
		if err := report.Benchmark(os.Stdout, rec); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	logger.InfoContext(ctx, "benchmark complete",
		slog.Int("concurrency", rec.Concurrency),
	)

	return nil
}

// runEngine benchmarks proc with probes drawn from src.
func runEngine(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
	proc address.Processor,
	src probeSource,
) (*bench.Recommendation, error) {
	gen, err := newGenerator(cfg, src)
	if err != nil {
		return nil, fmt.Errorf("create workload: %w", err)
	}

	eng, err := bench.NewEngine(cfg.BenchConfig(), proc, gen.Rows, logger)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "starting benchmark",
		slog.String("workload", gen.Mode()),
		slog.Any("ladder", cfg.Bench.Ladder),
	)

	rec, err := eng.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("run benchmark: %w", err)
	}

	return rec, nil
}

func newGenerator(cfg *config.Config, src probeSource) (*workload.Generator, error) {
	wc := workload.Config{
		Mode:  cfg.Bench.Workload,
		Seed:  cfg.Bench.Seed,
		Probe: cfg.ProbeRow(),
	}

	if src.sheet != nil {
		wc.Pool = src.sheet.Rows

		if src.probeRow > 0 {
			row, ok := findRow(src.sheet.Rows, src.probeRow)
			if !ok {
				return nil, fmt.Errorf("probe row %d not found in input", src.probeRow)
			}

			wc.Probe = row
		}
	}

	return workload.NewGenerator(wc)
}

func dumpWorkload(
	ctx context.Context,
	logger *slog.Logger,
	gen *workload.Generator,
	opts benchOptions,
) error {
	f, err := os.Create(opts.dumpWorkload)
	if err != nil {
		return fmt.Errorf("create workload file: %w", err)
	}

	summary, err := gen.Generate(f, opts.requests)
	if err != nil {
		f.Close()

		return fmt.Errorf("generate: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close workload file: %w", err)
	}

	logger.InfoContext(ctx, "workload generated",
		slog.String("path", opts.dumpWorkload),
		slog.Int("requests", summary.TotalRequests),
		slog.Int("distinct", summary.DistinctRows),
	)

	return nil
}

func findRow(rows []address.Row, index int) (address.Row, bool) {
	for _, r := range rows {
		if r.Index == index {
			return r, true
		}
	}

	return address.Row{}, false
}

func maxLevel(ladder []int) int {
	top := 1
	for _, k := range ladder {
		top = max(top, k)
	}

	return top
}
