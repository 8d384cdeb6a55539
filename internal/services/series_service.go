// Package services orchestrates the recurrence engine against storage and
// messaging: it owns the load -> isDue -> materialize -> persist control
// flow and keeps the engine itself free of I/O.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
)

// ErrSeriesEnded signals a resume attempt on a series whose schedule ran
// past its end date. Ended is terminal; the user creates a new series.
var ErrSeriesEnded = errors.New("series has ended and cannot be resumed")

// SeriesStore is the persistence collaborator. *storage.SQLiteRepository
// implements it.
type SeriesStore interface {
	CreateSeries(ctx context.Context, s core.RecurringSeries) (int64, error)
	GetSeries(ctx context.Context, id int64) (core.RecurringSeries, error)
	ListSeries(ctx context.Context) ([]core.RecurringSeries, error)
	ListActiveDue(ctx context.Context, asOf core.Date) ([]core.RecurringSeries, error)
	UpdateSeries(ctx context.Context, id int64, s core.RecurringSeries) error
	SetSeriesActive(ctx context.Context, id int64, active bool) error
	DeleteSeries(ctx context.Context, id int64) error
	ApplyMaterialization(ctx context.Context, instance core.TransactionInstance, updated core.RecurringSeries, dueDate core.Date) (core.TransactionInstance, error)
}

// InstancePublisher announces materialized instances downstream (AMQP).
type InstancePublisher interface {
	PublishInstanceCreated(ctx context.Context, instanceID, seriesID int64, kind core.Kind, dueDate core.Date) error
}

// SeriesService manages recurring series and drives their materialization.
type SeriesService struct {
	store     SeriesStore
	publisher InstancePublisher
	clock     recurrence.Clock
}

func NewSeriesService(store SeriesStore, publisher InstancePublisher, clock recurrence.Clock) *SeriesService {
	if clock == nil {
		clock = recurrence.SystemClock{}
	}
	return &SeriesService{
		store:     store,
		publisher: publisher,
		clock:     clock,
	}
}

// Create validates and stores a new series. The first NextDueDate is the
// start date advanced by one period: the occurrence dated exactly on the
// start date is treated as already satisfied.
func (s *SeriesService) Create(ctx context.Context, series core.RecurringSeries) (core.RecurringSeries, error) {
	next, err := recurrence.InitialNextDue(series.StartDate, series.Every)
	if err != nil {
		return core.RecurringSeries{}, err
	}
	series.NextDueDate = next
	series.Active = series.EndDate.IsZero() || !next.After(series.EndDate.Time)

	if err := series.Validate(); err != nil {
		return core.RecurringSeries{}, err
	}

	id, err := s.store.CreateSeries(ctx, series)
	if err != nil {
		return core.RecurringSeries{}, fmt.Errorf("create series: %w", err)
	}
	series.ID = id
	return series, nil
}

// Update replaces a series' user-editable fields. The schedule is re-anchored
// to the new start date and frequency, so NextDueDate is recomputed the same
// way Create computes it.
func (s *SeriesService) Update(ctx context.Context, id int64, series core.RecurringSeries) (core.RecurringSeries, error) {
	next, err := recurrence.InitialNextDue(series.StartDate, series.Every)
	if err != nil {
		return core.RecurringSeries{}, err
	}
	series.ID = id
	series.NextDueDate = next
	series.Active = series.EndDate.IsZero() || !next.After(series.EndDate.Time)

	if err := series.Validate(); err != nil {
		return core.RecurringSeries{}, err
	}

	if err := s.store.UpdateSeries(ctx, id, series); err != nil {
		return core.RecurringSeries{}, err
	}
	return series, nil
}

func (s *SeriesService) Get(ctx context.Context, id int64) (core.RecurringSeries, error) {
	return s.store.GetSeries(ctx, id)
}

func (s *SeriesService) List(ctx context.Context) ([]core.RecurringSeries, error) {
	return s.store.ListSeries(ctx)
}

func (s *SeriesService) Delete(ctx context.Context, id int64) error {
	return s.store.DeleteSeries(ctx, id)
}

// Pause deactivates a series without touching its schedule.
func (s *SeriesService) Pause(ctx context.Context, id int64) error {
	return s.store.SetSeriesActive(ctx, id, false)
}

// Resume reactivates a paused series. Due-ness is re-evaluated on the next
// check; an ended series stays ended.
func (s *SeriesService) Resume(ctx context.Context, id int64) (core.RecurringSeries, error) {
	series, err := s.store.GetSeries(ctx, id)
	if err != nil {
		return core.RecurringSeries{}, err
	}
	if !series.EndDate.IsZero() && series.NextDueDate.After(series.EndDate.Time) {
		return core.RecurringSeries{}, ErrSeriesEnded
	}
	if err := s.store.SetSeriesActive(ctx, id, true); err != nil {
		return core.RecurringSeries{}, err
	}
	series.Active = true
	return series, nil
}

// Outcome is the result of one persisted materialization step.
type Outcome struct {
	Instance  core.TransactionInstance
	Series    core.RecurringSeries
	Exhausted bool
}

// ProcessSeries performs one materialize-and-advance step for a single
// series. processAsOf zero means "now" per the injected clock.
func (s *SeriesService) ProcessSeries(ctx context.Context, id int64, processAsOf time.Time) (Outcome, error) {
	if processAsOf.IsZero() {
		processAsOf = s.clock.Now()
	}

	series, err := s.store.GetSeries(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	return s.step(ctx, series, processAsOf)
}

func (s *SeriesService) step(ctx context.Context, series core.RecurringSeries, processAsOf time.Time) (Outcome, error) {
	res, err := recurrence.Materialize(series, processAsOf)
	if err != nil {
		return Outcome{}, err
	}

	instance, err := s.store.ApplyMaterialization(ctx, res.Instance, res.Series, res.DueDate)
	if err != nil {
		return Outcome{}, err
	}

	s.publishInstanceCreated(ctx, instance, res.Series.ID, res.DueDate)

	if res.Exhausted {
		slog.InfoContext(ctx, "Series schedule exhausted",
			"series_id", res.Series.ID,
			"end_date", res.Series.EndDate.String())
	}

	return Outcome{Instance: instance, Series: res.Series, Exhausted: res.Exhausted}, nil
}

func (s *SeriesService) publishInstanceCreated(ctx context.Context, instance core.TransactionInstance, seriesID int64, dueDate core.Date) {
	if s.publisher == nil {
		return
	}
	err := s.publisher.PublishInstanceCreated(ctx, instance.ID, seriesID, instance.Kind, dueDate)
	if err != nil {
		// The instance is already committed; mirroring is best-effort.
		slog.ErrorContext(ctx, "Failed to publish instance-created message",
			"instance_id", instance.ID,
			"series_id", seriesID,
			"error", err)
	}
}
