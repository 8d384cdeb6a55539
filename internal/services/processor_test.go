package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"ricorrenze/internal/core"
)

func TestProcessDue_CatchesUpPeriodByPeriod(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 3, 10))
	proc := NewProcessor(svc, store, DefaultProcessorConfig())
	ctx := context.Background()

	// Daily series five periods behind.
	s := serviceSeries()
	s.Every = core.Daily
	s.StartDate = core.NewDate(2024, 3, 1)
	s.NextDueDate = core.NewDate(2024, 3, 6)
	s.Active = true
	id, _ := store.CreateSeries(ctx, s)

	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	count, err := proc.ProcessDue(ctx, now)
	if err != nil {
		t.Fatalf("process due: %v", err)
	}
	if count != 5 {
		t.Fatalf("created %d instances, want 5 (due 2024-03-06..10)", count)
	}

	got, _ := store.GetSeries(ctx, id)
	if !got.NextDueDate.Equal(core.NewDate(2024, 3, 11).Time) {
		t.Errorf("next due = %s, want 2024-03-11", got.NextDueDate)
	}
}

func TestProcessDue_CatchUpLimit(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 3, 10))
	proc := NewProcessor(svc, store, ProcessorConfig{CatchUpLimit: 2, Concurrency: 1})
	ctx := context.Background()

	s := serviceSeries()
	s.Every = core.Daily
	s.StartDate = core.NewDate(2024, 3, 1)
	s.NextDueDate = core.NewDate(2024, 3, 2)
	s.Active = true
	store.CreateSeries(ctx, s)

	count, err := proc.ProcessDue(ctx, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("created %d instances, want catch-up limit of 2", count)
	}
}

func TestProcessDue_StopsAtExhaustion(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 6, 20))
	proc := NewProcessor(svc, store, DefaultProcessorConfig())
	ctx := context.Background()

	s := serviceSeries()
	s.StartDate = core.NewDate(2024, 1, 15)
	s.NextDueDate = core.NewDate(2024, 5, 15)
	s.EndDate = core.NewDate(2024, 6, 1)
	s.Active = true
	id, _ := store.CreateSeries(ctx, s)

	count, err := proc.ProcessDue(ctx, time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Fatalf("created %d instances, want 1 (next period passes end date)", count)
	}

	got, _ := store.GetSeries(ctx, id)
	if got.Active {
		t.Error("series must be inactive after exhaustion")
	}
}

func TestProcessDue_SkipsClaimedPeriods(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 2, 3))
	proc := NewProcessor(svc, store, DefaultProcessorConfig())
	ctx := context.Background()

	s := serviceSeries()
	s.NextDueDate = core.NewDate(2024, 2, 1)
	s.Active = true
	id, _ := store.CreateSeries(ctx, s)
	store.guards[fmt.Sprintf("%d|%s", id, core.NewDate(2024, 2, 1))] = true

	count, err := proc.ProcessDue(ctx, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("created %d instances, want 0 for an already-claimed period", count)
	}
}

func TestProcessDue_MultipleSeries(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 2, 3))
	proc := NewProcessor(svc, store, DefaultProcessorConfig())
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		s := serviceSeries()
		s.Description = fmt.Sprintf("Serie %d", i)
		s.NextDueDate = core.NewDate(2024, 2, 1)
		s.Active = true
		store.CreateSeries(ctx, s)
	}

	count, err := proc.ProcessDue(ctx, time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatal(err)
	}
	if count != 6 {
		t.Fatalf("created %d instances, want 6", count)
	}
}

func TestNewProcessor_ClampsConfig(t *testing.T) {
	proc := NewProcessor(nil, nil, ProcessorConfig{})
	if proc.config.CatchUpLimit != 1 || proc.config.Concurrency != 1 {
		t.Errorf("config = %+v, want clamped to 1", proc.config)
	}
}

func TestProcessDue_NotInitialized(t *testing.T) {
	proc := NewProcessor(nil, nil, DefaultProcessorConfig())
	if _, err := proc.ProcessDue(context.Background(), time.Now()); err == nil {
		t.Fatal("expected error for uninitialized processor")
	}
}
