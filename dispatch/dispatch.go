// Package dispatch runs independent row checks with a bounded number of
// invocations in flight and collects their outcomes by row index.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/weiihann/addrcheck/address"
	"golang.org/x/sync/semaphore"
)

// Unit is one independently failing piece of work.
type Unit func(ctx context.Context)

// Dispatcher runs units with at most Limit of them in flight.
type Dispatcher struct {
	Limit  int
	Logger *slog.Logger
}

// New creates a Dispatcher. A limit below 1 is treated as 1.
func New(limit int, logger *slog.Logger) *Dispatcher {
	if limit < 1 {
		limit = 1
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Dispatcher{Limit: limit, Logger: logger}
}

// Run starts every unit and blocks until all of them have returned.
// A permit is taken before a unit starts and released when it returns,
// even if it panics. A failing unit never stops the others, and permit
// acquisition ignores cancellation so that every unit runs exactly once.
func (d *Dispatcher) Run(ctx context.Context, units []Unit) {
	sem := semaphore.NewWeighted(int64(d.Limit))
	admit := context.WithoutCancel(ctx)

	var wg sync.WaitGroup

	for i, unit := range units {
		// Cannot fail: admit is never cancelled.
		_ = sem.Acquire(admit, 1)

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer sem.Release(1)
			defer func() {
				if r := recover(); r != nil {
					d.Logger.ErrorContext(ctx, "unit panicked",
						slog.Int("unit", i),
						slog.Any("panic", r),
						slog.String("stack", string(debug.Stack())),
					)
				}
			}()

			unit(ctx)
		}()
	}

	wg.Wait()
}

// Rows processes every row with proc and returns the populated result map.
// Each row yields exactly one entry; a panicking processor yields an Empty
// outcome tagged KindInternal.
func (d *Dispatcher) Rows(
	ctx context.Context,
	rows []address.Row,
	proc address.Processor,
) *ResultMap {
	results := NewResultMap(len(rows))
	units := make([]Unit, len(rows))

	for i, row := range rows {
		units[i] = func(ctx context.Context) {
			outcome := safeProcess(ctx, proc, row)
			if err := results.Store(row.Index, outcome); err != nil {
				d.Logger.ErrorContext(ctx, "dropping result",
					slog.Int("row", row.Index),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	d.Logger.DebugContext(ctx, "dispatching rows",
		slog.Int("rows", len(rows)),
		slog.Int("limit", d.Limit),
	)

	d.Run(ctx, units)

	return results
}

func safeProcess(
	ctx context.Context,
	proc address.Processor,
	row address.Row,
) (outcome address.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = address.Failed(
				address.KindInternal,
				fmt.Errorf("processor panicked on row %d: %v", row.Index, r),
			)
		}
	}()

	return proc.Process(ctx, row)
}
