// Package workload generates deterministic probe rows for benchmarking the
// normalization service. By default every probe is the same request; the
// sample mode draws rows from a labeled input instead.
package workload

import (
	"encoding/json"
	"fmt"
	"io"
	mrand "math/rand"

	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/normalize"
)

// Modes understood by NewGenerator.
const (
	ModeIdentical = "identical"
	ModeSample    = "sample"
)

// Summary contains statistics about a generated workload.
type Summary struct {
	TotalRequests int
	DistinctRows  int
}

// Config controls probe generation.
type Config struct {
	Mode string
	Seed int64

	// Probe is the request used in identical mode.
	Probe address.Row

	// Pool is the set of rows drawn from in sample mode.
	Pool []address.Row
}

// Generator produces deterministic probe rows from a Config.
type Generator struct {
	cfg Config
}

// NewGenerator creates a Generator. Sample mode needs a non-empty pool.
func NewGenerator(cfg Config) (*Generator, error) {
	switch cfg.Mode {
	case "", ModeIdentical:
		cfg.Mode = ModeIdentical
	case ModeSample:
		if len(cfg.Pool) == 0 {
			return nil, fmt.Errorf("sample mode needs at least one row")
		}
	default:
		return nil, fmt.Errorf("unknown workload mode %q", cfg.Mode)
	}

	return &Generator{cfg: cfg}, nil
}

// Mode returns the effective generation mode.
func (g *Generator) Mode() string {
	return g.cfg.Mode
}

// Rows returns n probe rows indexed 0..n-1. The same generator always
// returns the same sequence for the same n.
func (g *Generator) Rows(n int) []address.Row {
	rows := make([]address.Row, n)

	if g.cfg.Mode == ModeIdentical {
		for i := range rows {
			rows[i] = g.cfg.Probe
			rows[i].Index = i
		}

		return rows
	}

	rng := mrand.New(mrand.NewSource(g.cfg.Seed))
	for i := range rows {
		rows[i] = g.cfg.Pool[rng.Intn(len(g.cfg.Pool))]
		rows[i].Index = i
	}

	return rows
}

// Generate writes n request bodies as JSONL to w, for replay with external
// load tools.
func (g *Generator) Generate(w io.Writer, n int) (Summary, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var summary Summary

	seen := make(map[normalize.Request]struct{})

	for _, row := range g.Rows(n) {
		req := normalize.NewRequest(row)

		if err := enc.Encode(req); err != nil {
			return summary, fmt.Errorf("encode request %d: %w", row.Index, err)
		}

		seen[req] = struct{}{}
		summary.TotalRequests++
	}

	summary.DistinctRows = len(seen)

	return summary, nil
}
