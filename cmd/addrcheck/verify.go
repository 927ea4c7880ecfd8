package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/config"
	"github.com/weiihann/addrcheck/dispatch"
	"github.com/weiihann/addrcheck/lookup"
	"github.com/weiihann/addrcheck/normalize"
	"github.com/weiihann/addrcheck/report"
	"github.com/weiihann/addrcheck/sheet"
	"github.com/weiihann/addrcheck/verify"
	"golang.org/x/sync/errgroup"
)

const (
	modeNormalize = "normalize"
	modeLookup    = "lookup"
)

type verifyOptions struct {
	input       string
	output      string
	concurrency int
	threshold   float64
	autoTune    bool
	outputJSON  bool
}

func (o *verifyOptions) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&o.input, "input", "i", "",
		"Path to the labeled CSV/TSV test sheet")
	flags.StringVarP(&o.output, "output", "o", "",
		"Path for the result sheet (.csv or .tsv)")
	flags.IntVarP(&o.concurrency, "concurrency", "c", 0,
		"Rows processed in parallel (overrides config)")
	flags.BoolVar(&o.outputJSON, "json", false,
		"Print the summary as JSON instead of a table")

	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
}

// apply copies flags set on the command line over cfg.
func (o *verifyOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("concurrency") {
		cfg.Concurrency = o.concurrency
	}

	if cmd.Flags().Changed("threshold") {
		cfg.Normalize.Threshold = o.threshold
	}

	return cfg.Validate()
}

func newNormalizeCmd(app *globalOptions) *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Verify the normalization service against a test sheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(app.configPath)
			if err != nil {
				return err
			}

			if err := opts.apply(cmd, cfg); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			return runNormalize(cmd.Context(), app, cfg, opts)
		},
	}

	opts.register(cmd)

	flags := cmd.Flags()
	flags.Float64Var(&opts.threshold, "threshold", 0,
		"Minimum confidence for a result to be kept (overrides config)")
	flags.BoolVar(&opts.autoTune, "auto-tune", false,
		"Benchmark the service first and use the recommended concurrency")

	return cmd
}

func newLookupCmd(app *globalOptions) *cobra.Command {
	var opts verifyOptions

	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Verify the reference database against a test sheet",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(app.configPath)
			if err != nil {
				return err
			}

			if err := opts.apply(cmd, cfg); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			return runLookup(cmd.Context(), app, cfg, opts)
		},
	}

	opts.register(cmd)

	return cmd
}

func runNormalize(
	ctx context.Context,
	app *globalOptions,
	cfg *config.Config,
	opts verifyOptions,
) error {
	logger := app.logger.With(slog.String("mode", modeNormalize))
	start := time.Now()

	// Step 1: Load the test sheet.
	s, err := loadSheet(ctx, logger, opts.input, cfg)
	if err != nil {
		return err
	}

	// Step 2: Build the shared normalization client.
	conns := cfg.Concurrency
	if opts.autoTune {
		conns = max(conns, maxLevel(cfg.Bench.Ladder))
	}

	client, err := normalize.NewClient(normalize.Config{
		Endpoint: cfg.Normalize.Endpoint,
		Timeout:  cfg.NormalizeTimeout(),
	}, newHTTPClient(conns), logger)
	if err != nil {
		return fmt.Errorf("create normalize client: %w", err)
	}

	// Step 3: Pick the concurrency budget.
	k := cfg.Concurrency
	if opts.autoTune {
		rec, err := runEngine(ctx, logger, cfg, client, probeSource{sheet: s})
		if err != nil {
			return fmt.Errorf("auto-tune: %w", err)
		}

		k = rec.Concurrency
	}

	// Step 4: Dispatch every row.
	results := dispatch.New(k, logger).Rows(ctx, s.Rows, client)
	entries := results.Drain()

	// Step 5: Lay out and evaluate.
	rows := verify.NormalizeLayout(entries, cfg.Normalize.Threshold)
	expected := expectedByIndex(s)

	verdicts := make([]verify.CorrectnessRow, len(rows))
	for i, r := range rows {
		verdicts[i] = verify.Evaluate(r.Index, expected[r.Index], r.Record)
	}

	// Step 6: Write the result sheet.
	err = s.WriteFile(opts.output, func(w io.Writer, comma rune) error {
		return s.WriteNormalized(w, comma, sheet.NormalizedResults{
			Rows:     rows,
			Verdicts: verdicts,
		})
	})
	if err != nil {
		return err
	}

	// Step 7: Report.
	summary := verify.Summarize(verdicts, results.Tally())
	summary.Mode = modeNormalize
	summary.Concurrency = k

	return finish(ctx, logger, app, summary, start, opts)
}

func runLookup(
	ctx context.Context,
	app *globalOptions,
	cfg *config.Config,
	opts verifyOptions,
) error {
	logger := app.logger.With(slog.String("mode", modeLookup))
	start := time.Now()

	lc, err := cfg.LookupConfig()
	if err != nil {
		return err
	}

	if lc.MaxOpenConns == 0 {
		lc.MaxOpenConns = cfg.Concurrency
	}

	// Step 1: Load the sheet and connect to the database in parallel.
	var (
		s     *sheet.Sheet
		store *lookup.Store
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		s, err = loadSheet(gctx, logger, opts.input, cfg)

		return err
	})

	g.Go(func() error {
		var err error
		store, err = lookup.Open(gctx, lc, logger)

		return err
	})

	if err := g.Wait(); err != nil {
		if store != nil {
			store.Close()
		}

		return err
	}
	defer store.Close()

	// Step 2: Dispatch every row.
	results := dispatch.New(cfg.Concurrency, logger).Rows(ctx, s.Rows, store)
	entries := results.Drain()

	// Step 3: Lay out and evaluate the first record of each row.
	rows, maxRecords := verify.LookupLayout(entries)
	expected := expectedByIndex(s)

	verdicts := make([]verify.CorrectnessRow, len(rows))
	for i, r := range rows {
		var first *address.Record
		if len(r.Blocks) > 0 {
			first = r.Blocks[0]
		}

		verdicts[i] = verify.Evaluate(r.Index, expected[r.Index], first)
	}

	// Step 4: Write the result sheet.
	err = s.WriteFile(opts.output, func(w io.Writer, comma rune) error {
		return s.WriteLookup(w, comma, sheet.LookupResults{
			Rows:       rows,
			MaxRecords: maxRecords,
			Verdicts:   verdicts,
		})
	})
	if err != nil {
		return err
	}

	// Step 5: Report.
	summary := verify.Summarize(verdicts, results.Tally())
	summary.Mode = modeLookup
	summary.Concurrency = cfg.Concurrency
	summary.MissingColumns = store.MissingColumns()

	return finish(ctx, logger, app, summary, start, opts)
}

func expectedByIndex(s *sheet.Sheet) map[int]verify.Expected {
	out := make(map[int]verify.Expected, len(s.Rows))
	for i, row := range s.Rows {
		out[row.Index] = s.Expected[i]
	}

	return out
}

func finish(
	ctx context.Context,
	logger *slog.Logger,
	app *globalOptions,
	summary verify.Summary,
	start time.Time,
	opts verifyOptions,
) error {
	summary.RunID = app.runID
	summary.ElapsedMs = time.Since(start).Milliseconds()

	var err error
	if opts.outputJSON {
		err = report.VerificationJSON(os.Stdout, summary)
	} else {
		err = report.Verification(os.Stdout, summary)
	}

	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}

	logger.InfoContext(ctx, "verification complete",
		slog.String("output", opts.output),
		slog.Int("rows", summary.Rows),
		slog.Int("correct", summary.Correct),
		slog.Int("failures", summary.Errors.Failures()),
		slog.Int("concurrency", summary.Concurrency),
	)

	// Rows dispatched after an interrupt fail fast and are written as
	// blanks; report the interrupt once the sheet is safe on disk.
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}

	return nil
}
