// Package main provides the CLI entry point for addrcheck, a tool that
// verifies an address normalization service and a reference database
// against a labeled test sheet.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/config"
	"github.com/weiihann/addrcheck/sheet"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	app := &globalOptions{}

	root := newRootCmd(app)
	err := root.ExecuteContext(ctx)

	stop()

	if err != nil {
		app.log().Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// globalOptions holds the persistent flags and the state derived from them.
type globalOptions struct {
	configPath string
	verbose    bool
	logJSON    bool

	runID  string
	logger *slog.Logger
}

func (g *globalOptions) setup() error {
	level := slog.LevelInfo
	if g.verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if g.logJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}

	g.runID = id.String()
	g.logger = slog.New(handler).With(slog.String("run_id", g.runID))

	return nil
}

func (g *globalOptions) log() *slog.Logger {
	if g.logger == nil {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	return g.logger
}

func newRootCmd(app *globalOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "addrcheck",
		Short: "Address normalization and lookup verification tool",
		Long: `Addrcheck sends every row of a labeled test sheet to an address
normalization service or a reference database with bounded concurrency,
compares the results with the expected values and writes them back next to
the input. The bench command finds the concurrency the service handles best.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return app.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&app.configPath, "config", "",
		"Path to YAML config file")
	flags.BoolVarP(&app.verbose, "verbose", "v", false,
		"Enable debug logging")
	flags.BoolVar(&app.logJSON, "log-json", false,
		"Write logs as JSON")

	root.AddCommand(
		newNormalizeCmd(app),
		newLookupCmd(app),
		newBenchCmd(app),
	)

	return root
}

// sheetColumns converts the configured header names.
func sheetColumns(cfg *config.Config) sheet.Columns {
	cols := sheet.Columns{
		Request:  make(map[address.FieldName]string),
		Expected: make(map[address.FieldName]string),
	}

	for k, v := range cfg.Columns.Request {
		if f, err := address.ParseFieldName(k); err == nil {
			cols.Request[f] = v
		}
	}

	for k, v := range cfg.Columns.Expected {
		if f, err := address.ParseFieldName(k); err == nil {
			cols.Expected[f] = v
		}
	}

	return cols
}

func loadSheet(ctx context.Context, logger *slog.Logger, path string, cfg *config.Config) (*sheet.Sheet, error) {
	s, err := sheet.Read(path, sheetColumns(cfg))
	if err != nil {
		return nil, fmt.Errorf("load input: %w", err)
	}

	if len(s.Schema.MissingRequest) > 0 {
		logger.WarnContext(ctx, "request columns not found, sending empty values",
			slog.Any("fields", s.Schema.MissingRequest),
		)
	}

	logger.InfoContext(ctx, "input loaded",
		slog.String("path", path),
		slog.Int("rows", len(s.Rows)),
		slog.Any("tracked", s.Schema.Tracked()),
	)

	return s, nil
}

// newHTTPClient returns the single client shared by every normalize
// request, sized so that conns requests can reuse idle connections.
func newHTTPClient(conns int) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = conns
	transport.MaxIdleConnsPerHost = conns

	return &http.Client{Transport: transport}
}
