package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"ricorrenze/internal/core"
	"ricorrenze/internal/storage"
)

// ProcessorConfig tunes the due-series scan.
type ProcessorConfig struct {
	// CatchUpLimit bounds how many elapsed periods a single scan
	// materializes per series. The engine advances one period per step;
	// without a bound a long-paused daily series would flood the ledger
	// in one run.
	CatchUpLimit int

	// Concurrency bounds how many series are processed in parallel.
	Concurrency int
}

// DefaultProcessorConfig returns sensible processing defaults.
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		CatchUpLimit: 12,
		Concurrency:  4,
	}
}

// Processor materializes every active series that is due, catching up
// period by period.
type Processor struct {
	service *SeriesService
	store   SeriesStore
	config  ProcessorConfig
}

func NewProcessor(service *SeriesService, store SeriesStore, config ProcessorConfig) *Processor {
	if config.CatchUpLimit < 1 {
		config.CatchUpLimit = 1
	}
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	return &Processor{
		service: service,
		store:   store,
		config:  config,
	}
}

// ProcessDue scans active due series and materializes each one until it is
// caught up (or the catch-up limit is hit). Failures on one series do not
// stop the others; a duplicate-period conflict means a concurrent run
// already satisfied the period and is treated as a skip. Returns the number
// of instances created.
func (p *Processor) ProcessDue(ctx context.Context, now time.Time) (int, error) {
	if p.service == nil || p.store == nil {
		return 0, fmt.Errorf("processor not properly initialized")
	}

	dueSeries, err := p.store.ListActiveDue(ctx, core.DateOf(now))
	if err != nil {
		return 0, fmt.Errorf("list active due series: %w", err)
	}

	slog.InfoContext(ctx, "Processing due series",
		"total_due", len(dueSeries),
		"processing_date", core.DateOf(now).String())

	var created atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.Concurrency)

	for _, series := range dueSeries {
		series := series
		g.Go(func() error {
			n := p.catchUp(gctx, series, now)
			created.Add(int64(n))
			return nil
		})
	}

	_ = g.Wait()

	total := int(created.Load())
	slog.InfoContext(ctx, "Due series processing complete",
		"instances_created", total,
		"series_checked", len(dueSeries))

	return total, nil
}

// catchUp materializes one series period by period until it is no longer
// due. Returns the number of instances created.
func (p *Processor) catchUp(ctx context.Context, series core.RecurringSeries, now time.Time) int {
	created := 0
	for steps := 0; steps < p.config.CatchUpLimit; steps++ {
		outcome, err := p.service.step(ctx, series, now)
		if err != nil {
			if errors.Is(err, storage.ErrDuplicatePeriod) {
				// A concurrent run already satisfied this period.
				slog.InfoContext(ctx, "Period already materialized, skipping",
					"series_id", series.ID,
					"due_date", series.NextDueDate.String())
				return created
			}
			slog.ErrorContext(ctx, "Failed to materialize series",
				"series_id", series.ID,
				"error", err)
			return created
		}

		created++
		series = outcome.Series

		if outcome.Exhausted || !series.Active {
			return created
		}
		if series.NextDueDate.After(core.DateOf(now).Time) {
			return created
		}
	}

	slog.WarnContext(ctx, "Catch-up limit reached, series still due",
		"series_id", series.ID,
		"next_due_date", series.NextDueDate.String(),
		"limit", p.config.CatchUpLimit)
	return created
}
