package bench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/weiihann/addrcheck/address"
	"github.com/weiihann/addrcheck/dispatch"
)

// Phase is a step of the benchmark.
type Phase int

// Phases in execution order.
const (
	PhaseCoarseScan Phase = iota
	PhaseSelectProvisional
	PhaseRefine
	PhaseSelectFinal
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseCoarseScan:
		return "coarse_scan"
	case PhaseSelectProvisional:
		return "select_provisional"
	case PhaseRefine:
		return "refine"
	case PhaseSelectFinal:
		return "select_final"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// DefaultLadder is the coarse scan's list of concurrency levels.
var DefaultLadder = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 15, 20, 30, 50, 75, 100}

// Config tunes the benchmark.
type Config struct {
	Ladder []int

	// Coarse sample count per level is Concurrency*CoarsePerLevel clamped
	// to [CoarseMin, CoarseMax].
	CoarsePerLevel int
	CoarseMin      int
	CoarseMax      int

	RefineSamples int
	RefineTop     int

	// Volume is the request count used to rank levels by time to finish.
	Volume int

	ErrorCeiling   float64
	EfficiencyBand float64

	// AbortErrorRate stops the coarse scan once a level fails this often.
	// Zero disables the check.
	AbortErrorRate float64

	// Pause is slept between levels.
	Pause time.Duration
}

// DefaultConfig returns the standard benchmark settings.
func DefaultConfig() Config {
	return Config{
		Ladder:         DefaultLadder,
		CoarsePerLevel: 4,
		CoarseMin:      10,
		CoarseMax:      300,
		RefineSamples:  500,
		RefineTop:      3,
		Volume:         10000,
		ErrorCeiling:   0.05,
		EfficiencyBand: 0.95,
		AbortErrorRate: 0.5,
	}
}

// CoarseSamples returns the number of requests issued at level k during
// the coarse scan.
func (c Config) CoarseSamples(k int) int {
	return max(c.CoarseMin, min(k*c.CoarsePerLevel, c.CoarseMax))
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Ladder) == 0 {
		return errors.New("ladder is empty")
	}

	for _, k := range c.Ladder {
		if k < 1 {
			return fmt.Errorf("ladder level %d must be positive", k)
		}
	}

	if c.CoarseMin < 1 || c.CoarseMax < c.CoarseMin || c.CoarsePerLevel < 1 {
		return fmt.Errorf("invalid coarse sizing: per_level=%d min=%d max=%d",
			c.CoarsePerLevel, c.CoarseMin, c.CoarseMax)
	}

	if c.RefineSamples < 1 || c.RefineTop < 0 || c.Volume < 1 {
		return fmt.Errorf("invalid refine sizing: samples=%d top=%d volume=%d",
			c.RefineSamples, c.RefineTop, c.Volume)
	}

	if c.ErrorCeiling < 0 || c.ErrorCeiling > 1 {
		return fmt.Errorf("error ceiling %v outside [0, 1]", c.ErrorCeiling)
	}

	if c.EfficiencyBand <= 0 || c.EfficiencyBand > 1 {
		return fmt.Errorf("efficiency band %v outside (0, 1]", c.EfficiencyBand)
	}

	return nil
}

// Recommendation is the result of a benchmark run.
type Recommendation struct {
	Concurrency int      `json:"concurrency"`
	Provisional int      `json:"provisional"`
	Refined     []int    `json:"refined"`
	Samples     []Sample `json:"samples"`
	Aborted     bool     `json:"aborted_scan"`
}

// Sample returns the sample measured at concurrency k.
func (r *Recommendation) Sample(k int) (Sample, bool) {
	for _, s := range r.Samples {
		if s.Concurrency == k {
			return s, true
		}
	}

	return Sample{}, false
}

// ProbeFunc returns n probe rows for one level.
type ProbeFunc func(n int) []address.Row

// Engine runs the benchmark against a processor.
type Engine struct {
	cfg    Config
	proc   address.Processor
	probes ProbeFunc
	logger *slog.Logger

	// OnPhase, when set, is called as each phase begins.
	OnPhase func(Phase)
}

// NewEngine creates an Engine.
func NewEngine(
	cfg Config,
	proc address.Processor,
	probes ProbeFunc,
	logger *slog.Logger,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid benchmark config: %w", err)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Engine{
		cfg:    cfg,
		proc:   proc,
		probes: probes,
		logger: logger.With(slog.String("component", "bench")),
	}, nil
}

// Run executes the coarse scan, the provisional selection, the refinement
// of promising levels and the final selection, strictly one after another.
func (e *Engine) Run(ctx context.Context) (*Recommendation, error) {
	rec := &Recommendation{}

	// Phase 1: coarse scan over the ladder.
	e.enter(ctx, PhaseCoarseScan)

	coarse := make([]Sample, 0, len(e.cfg.Ladder))

	for i, k := range e.cfg.Ladder {
		if i > 0 {
			if err := e.pause(ctx); err != nil {
				return nil, err
			}
		}

		s := e.Measure(ctx, k, e.cfg.CoarseSamples(k))
		coarse = append(coarse, s)

		if e.cfg.AbortErrorRate > 0 && s.ErrorRate() > e.cfg.AbortErrorRate {
			e.logger.WarnContext(ctx, "stopping coarse scan",
				slog.Int("concurrency", k),
				slog.Float64("error_rate", s.ErrorRate()),
			)

			rec.Aborted = true

			break
		}
	}

	// Phase 2: provisional selection.
	e.enter(ctx, PhaseSelectProvisional)

	first, err := Select(coarse, e.cfg.ErrorCeiling, e.cfg.EfficiencyBand)
	if err != nil {
		return nil, fmt.Errorf("provisional selection: %w", err)
	}

	rec.Provisional = first.Best.Concurrency

	e.logger.InfoContext(ctx, "provisional recommendation",
		slog.Int("concurrency", rec.Provisional),
		slog.Float64("efficiency", first.Best.Efficiency()),
	)

	// Phase 3: re-measure the promising levels with more samples.
	e.enter(ctx, PhaseRefine)

	var refined []Sample

	if e.cfg.RefineTop > 0 {
		for _, k := range Promising(first, e.cfg.Volume, e.cfg.RefineTop) {
			if err := e.pause(ctx); err != nil {
				return nil, err
			}

			s := e.Measure(ctx, k, e.cfg.RefineSamples)
			s.Refined = true

			refined = append(refined, s)
			rec.Refined = append(rec.Refined, k)
		}
	}

	// Phase 4: final selection over the merged table.
	e.enter(ctx, PhaseSelectFinal)

	rec.Samples = Merge(coarse, refined)

	final, err := Select(rec.Samples, e.cfg.ErrorCeiling, e.cfg.EfficiencyBand)
	if err != nil {
		return nil, fmt.Errorf("final selection: %w", err)
	}

	rec.Concurrency = final.Best.Concurrency

	e.enter(ctx, PhaseDone)

	e.logger.InfoContext(ctx, "benchmark recommendation",
		slog.Int("concurrency", rec.Concurrency),
		slog.Int("provisional", rec.Provisional),
		slog.Any("refined", rec.Refined),
	)

	return rec, nil
}

// Measure issues n probe requests with k of them in flight and summarizes
// the result.
func (e *Engine) Measure(ctx context.Context, k, n int) Sample {
	rows := e.probes(n)
	obs := make([]observation, len(rows))
	units := make([]dispatch.Unit, len(rows))

	for i, row := range rows {
		units[i] = func(ctx context.Context) {
			// Recorded before the call so a panicking processor still
			// counts as a failure.
			obs[i].kind = address.KindInternal

			start := time.Now()
			o := e.proc.Process(ctx, row)
			obs[i] = observation{latency: time.Since(start), kind: o.Kind}
		}
	}

	start := time.Now()
	dispatch.New(k, e.logger).Run(ctx, units)
	elapsed := time.Since(start)

	s := summarize(k, obs, elapsed)

	e.logger.InfoContext(ctx, "level measured",
		slog.Int("concurrency", k),
		slog.Int("requests", s.Requests),
		slog.Int("failures", s.Failures()),
		slog.Float64("throughput_rps", s.Throughput),
		slog.Float64("latency_mean_ms", s.LatencyMeanMs),
		slog.Duration("elapsed", elapsed),
	)

	return s
}

func (e *Engine) enter(ctx context.Context, p Phase) {
	e.logger.DebugContext(ctx, "benchmark phase", slog.String("phase", p.String()))

	if e.OnPhase != nil {
		e.OnPhase(p)
	}
}

func (e *Engine) pause(ctx context.Context) error {
	if e.cfg.Pause <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(e.cfg.Pause)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
