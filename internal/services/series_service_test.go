package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"ricorrenze/internal/core"
	"ricorrenze/internal/recurrence"
	"ricorrenze/internal/storage"
)

// fakeStore is an in-memory SeriesStore with the same duplicate-period
// semantics as the SQLite repository.
type fakeStore struct {
	mu        sync.Mutex
	nextID    int64
	series    map[int64]core.RecurringSeries
	instances []core.TransactionInstance
	guards    map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		series: make(map[int64]core.RecurringSeries),
		guards: make(map[string]bool),
	}
}

func (f *fakeStore) CreateSeries(_ context.Context, s core.RecurringSeries) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	f.series[s.ID] = s
	return s.ID, nil
}

func (f *fakeStore) GetSeries(_ context.Context, id int64) (core.RecurringSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[id]
	if !ok {
		return core.RecurringSeries{}, storage.ErrSeriesNotFound
	}
	return s, nil
}

func (f *fakeStore) ListSeries(_ context.Context) ([]core.RecurringSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]core.RecurringSeries, 0, len(f.series))
	for _, s := range f.series {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeStore) ListActiveDue(_ context.Context, asOf core.Date) ([]core.RecurringSeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []core.RecurringSeries
	for _, s := range f.series {
		if s.Active && !asOf.Before(s.NextDueDate.Time) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeStore) UpdateSeries(_ context.Context, id int64, s core.RecurringSeries) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.series[id]; !ok {
		return storage.ErrSeriesNotFound
	}
	s.ID = id
	f.series[id] = s
	return nil
}

func (f *fakeStore) SetSeriesActive(_ context.Context, id int64, active bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[id]
	if !ok {
		return storage.ErrSeriesNotFound
	}
	s.Active = active
	f.series[id] = s
	return nil
}

func (f *fakeStore) DeleteSeries(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.series[id]; !ok {
		return storage.ErrSeriesNotFound
	}
	delete(f.series, id)
	return nil
}

func (f *fakeStore) ApplyMaterialization(_ context.Context, instance core.TransactionInstance, updated core.RecurringSeries, dueDate core.Date) (core.TransactionInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := fmt.Sprintf("%d|%s", updated.ID, dueDate)
	if f.guards[key] {
		return core.TransactionInstance{}, storage.ErrDuplicatePeriod
	}
	f.guards[key] = true
	instance.ID = int64(len(f.instances) + 1)
	f.instances = append(f.instances, instance)
	f.series[updated.ID] = updated
	return instance, nil
}

type published struct {
	instanceID int64
	seriesID   int64
	kind       core.Kind
	dueDate    core.Date
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (f *fakePublisher) PublishInstanceCreated(_ context.Context, instanceID, seriesID int64, kind core.Kind, dueDate core.Date) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{instanceID, seriesID, kind, dueDate})
	return nil
}

func serviceSeries() core.RecurringSeries {
	return core.RecurringSeries{
		Kind:        core.KindExpense,
		Every:       core.Monthly,
		Description: "Affitto",
		Amount:      core.Money{Cents: 120000},
		Primary:     "Casa",
		Secondary:   "Affitto",
		StartDate:   core.NewDate(2024, 1, 1),
	}
}

func fixedClock(year, month, day int) recurrence.FixedClock {
	return recurrence.FixedClock{Instant: time.Date(year, time.Month(month), day, 10, 0, 0, 0, time.UTC)}
}

func TestCreate_InitializesSchedule(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 1, 15))

	created, err := svc.Create(context.Background(), serviceSeries())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created.NextDueDate.Equal(core.NewDate(2024, 2, 1).Time) {
		t.Errorf("next due = %s, want start advanced one period", created.NextDueDate)
	}
	if !created.Active {
		t.Error("series should start active")
	}
	if created.ID == 0 {
		t.Error("expected assigned id")
	}
}

func TestCreate_EndDateBeforeFirstDue(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 1, 15))

	s := serviceSeries()
	s.EndDate = core.NewDate(2024, 1, 20) // before 2024-02-01
	created, err := svc.Create(context.Background(), s)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Active {
		t.Error("series whose first due date passes the end date must start inactive")
	}
}

func TestCreate_Invalid(t *testing.T) {
	svc := NewSeriesService(newFakeStore(), nil, nil)
	s := serviceSeries()
	s.Amount = core.Money{}
	if _, err := svc.Create(context.Background(), s); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestPauseAndResume(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 1, 15))
	ctx := context.Background()

	created, err := svc.Create(ctx, serviceSeries())
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.Pause(ctx, created.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	got, _ := store.GetSeries(ctx, created.ID)
	if got.Active {
		t.Error("series should be paused")
	}

	resumed, err := svc.Resume(ctx, created.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed.Active {
		t.Error("series should be active after resume")
	}
}

func TestResume_EndedIsTerminal(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, nil)
	ctx := context.Background()

	s := serviceSeries()
	s.EndDate = core.NewDate(2024, 3, 1)
	s.NextDueDate = core.NewDate(2024, 4, 1) // already past the end
	s.Active = false
	id, _ := store.CreateSeries(ctx, s)

	if _, err := svc.Resume(ctx, id); !errors.Is(err, ErrSeriesEnded) {
		t.Fatalf("error = %v, want ErrSeriesEnded", err)
	}
}

func TestProcessSeries(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{}
	svc := NewSeriesService(store, pub, fixedClock(2024, 2, 3))
	ctx := context.Background()

	created, err := svc.Create(ctx, serviceSeries())
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := svc.ProcessSeries(ctx, created.ID, time.Time{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !outcome.Instance.OccurredOn.Equal(core.NewDate(2024, 2, 3).Time) {
		t.Errorf("occurredOn = %s, want processing date", outcome.Instance.OccurredOn)
	}
	if !outcome.Series.NextDueDate.Equal(core.NewDate(2024, 3, 1).Time) {
		t.Errorf("next due = %s, want 2024-03-01", outcome.Series.NextDueDate)
	}

	stored, _ := store.GetSeries(ctx, created.ID)
	if !stored.NextDueDate.Equal(core.NewDate(2024, 3, 1).Time) {
		t.Error("schedule advance not persisted")
	}

	if len(pub.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.messages))
	}
	msg := pub.messages[0]
	if msg.seriesID != created.ID || msg.kind != core.KindExpense || !msg.dueDate.Equal(core.NewDate(2024, 2, 1).Time) {
		t.Errorf("message = %+v", msg)
	}
}

func TestProcessSeries_Errors(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 1, 15))
	ctx := context.Background()

	created, err := svc.Create(ctx, serviceSeries())
	if err != nil {
		t.Fatal(err)
	}

	t.Run("not due", func(t *testing.T) {
		_, err := svc.ProcessSeries(ctx, created.ID, time.Time{})
		if !errors.Is(err, recurrence.ErrNotDue) {
			t.Fatalf("error = %v, want ErrNotDue", err)
		}
	})

	t.Run("unknown series", func(t *testing.T) {
		_, err := svc.ProcessSeries(ctx, 999, time.Time{})
		if !errors.Is(err, storage.ErrSeriesNotFound) {
			t.Fatalf("error = %v, want ErrSeriesNotFound", err)
		}
	})

	t.Run("paused series", func(t *testing.T) {
		if err := svc.Pause(ctx, created.ID); err != nil {
			t.Fatal(err)
		}
		_, err := svc.ProcessSeries(ctx, created.ID, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
		if !errors.Is(err, recurrence.ErrSeriesInactive) {
			t.Fatalf("error = %v, want ErrSeriesInactive", err)
		}
	})
}

func TestProcessSeries_DuplicatePeriod(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 2, 3))
	ctx := context.Background()

	created, err := svc.Create(ctx, serviceSeries())
	if err != nil {
		t.Fatal(err)
	}

	// Pre-claim the current period, as a racing run would.
	store.guards[fmt.Sprintf("%d|%s", created.ID, core.NewDate(2024, 2, 1))] = true

	_, err = svc.ProcessSeries(ctx, created.ID, time.Time{})
	if !errors.Is(err, storage.ErrDuplicatePeriod) {
		t.Fatalf("error = %v, want ErrDuplicatePeriod", err)
	}

	// Retry-safe: the schedule must still point at the conflicted period.
	stored, _ := store.GetSeries(ctx, created.ID)
	if !stored.NextDueDate.Equal(core.NewDate(2024, 2, 1).Time) {
		t.Errorf("next due = %s, schedule must not advance on conflict", stored.NextDueDate)
	}
}

func TestProcessSeries_PublishFailureDoesNotFail(t *testing.T) {
	store := newFakeStore()
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := NewSeriesService(store, pub, fixedClock(2024, 2, 3))
	ctx := context.Background()

	created, err := svc.Create(ctx, serviceSeries())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ProcessSeries(ctx, created.ID, time.Time{}); err != nil {
		t.Fatalf("publish failure must not fail the step: %v", err)
	}
}

func TestUpdate_ReanchorsSchedule(t *testing.T) {
	store := newFakeStore()
	svc := NewSeriesService(store, nil, fixedClock(2024, 1, 15))
	ctx := context.Background()

	created, err := svc.Create(ctx, serviceSeries())
	if err != nil {
		t.Fatal(err)
	}

	edited := serviceSeries()
	edited.StartDate = core.NewDate(2024, 6, 1)
	updated, err := svc.Update(ctx, created.ID, edited)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.NextDueDate.Equal(core.NewDate(2024, 7, 1).Time) {
		t.Errorf("next due = %s, want re-anchored to new start", updated.NextDueDate)
	}
}
