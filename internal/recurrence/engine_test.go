package recurrence

import (
	"errors"
	"testing"
	"time"

	"ricorrenze/internal/core"
)

func monthlySeries() core.RecurringSeries {
	return core.RecurringSeries{
		ID:          1,
		Kind:        core.KindExpense,
		Every:       core.Monthly,
		Description: "Affitto",
		Amount:      core.Money{Cents: 120000},
		Primary:     "Casa",
		Secondary:   "Affitto",
		StartDate:   core.NewDate(2024, 1, 1),
		NextDueDate: core.NewDate(2024, 2, 1),
		Active:      true,
	}
}

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		name      string
		from      core.Date
		frequency core.Frequency
		want      core.Date
	}{
		{"daily", core.NewDate(2024, 3, 10), core.Daily, core.NewDate(2024, 3, 11)},
		{"daily month boundary", core.NewDate(2024, 1, 31), core.Daily, core.NewDate(2024, 2, 1)},
		{"weekly", core.NewDate(2024, 3, 4), core.Weekly, core.NewDate(2024, 3, 11)},
		{"weekly year boundary", core.NewDate(2024, 12, 30), core.Weekly, core.NewDate(2025, 1, 6)},
		{"monthly plain", core.NewDate(2024, 4, 15), core.Monthly, core.NewDate(2024, 5, 15)},
		{"monthly jan 31 clamps to leap feb", core.NewDate(2024, 1, 31), core.Monthly, core.NewDate(2024, 2, 29)},
		{"monthly jan 31 clamps to feb 28", core.NewDate(2023, 1, 31), core.Monthly, core.NewDate(2023, 2, 28)},
		{"monthly mar 31 clamps to apr 30", core.NewDate(2024, 3, 31), core.Monthly, core.NewDate(2024, 4, 30)},
		{"monthly december wraps year", core.NewDate(2024, 12, 15), core.Monthly, core.NewDate(2025, 1, 15)},
		{"yearly", core.NewDate(2024, 5, 20), core.Yearly, core.NewDate(2025, 5, 20)},
		{"yearly feb 29 clamps to feb 28", core.NewDate(2024, 2, 29), core.Yearly, core.NewDate(2025, 2, 28)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextDueDate(tt.from, tt.frequency)
			if err != nil {
				t.Fatalf("NextDueDate() error = %v", err)
			}
			if !got.Equal(tt.want.Time) {
				t.Errorf("NextDueDate(%s, %s) = %s, want %s", tt.from, tt.frequency, got, tt.want)
			}
		})
	}
}

func TestNextDueDate_UnknownFrequency(t *testing.T) {
	if _, err := NextDueDate(core.NewDate(2024, 1, 1), core.Frequency("fortnightly")); err == nil {
		t.Fatal("expected error for unknown frequency")
	}
}

// Once clamped, subsequent periods stay at the clamped day instead of
// snapping back to the original day-of-month.
func TestNextDueDate_NoDriftAfterClamp(t *testing.T) {
	d := core.NewDate(2024, 1, 31)

	d, err := NextDueDate(d, core.Monthly)
	if err != nil {
		t.Fatalf("first step: %v", err)
	}
	if want := core.NewDate(2024, 2, 29); !d.Equal(want.Time) {
		t.Fatalf("first step = %s, want %s", d, want)
	}

	d, err = NextDueDate(d, core.Monthly)
	if err != nil {
		t.Fatalf("second step: %v", err)
	}
	if want := core.NewDate(2024, 3, 29); !d.Equal(want.Time) {
		t.Fatalf("second step = %s, want %s (not 2024-03-31)", d, want)
	}
}

func TestIsDue(t *testing.T) {
	tests := []struct {
		name   string
		next   core.Date
		active bool
		asOf   time.Time
		want   bool
	}{
		{"before due date", core.NewDate(2024, 2, 1), true, time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC), false},
		{"on due date", core.NewDate(2024, 2, 1), true, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), true},
		{"after due date", core.NewDate(2024, 2, 1), true, time.Date(2024, 2, 3, 9, 0, 0, 0, time.UTC), true},
		{"inactive never due", core.NewDate(2024, 2, 1), false, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := monthlySeries()
			s.NextDueDate = tt.next
			s.Active = tt.active
			if got := IsDue(s, tt.asOf); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsDue_Repeatable(t *testing.T) {
	s := monthlySeries()
	asOf := time.Date(2024, 2, 3, 12, 0, 0, 0, time.UTC)
	first := IsDue(s, asOf)
	for i := 0; i < 5; i++ {
		if IsDue(s, asOf) != first {
			t.Fatal("IsDue changed outcome on repeated call")
		}
	}
}

func TestMaterialize_EndToEnd(t *testing.T) {
	s := monthlySeries()
	asOf := time.Date(2024, 2, 3, 10, 30, 0, 0, time.UTC)

	res, err := Materialize(s, asOf)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	if res.Instance.Amount.Cents != 120000 {
		t.Errorf("instance amount = %d, want 120000", res.Instance.Amount.Cents)
	}
	if want := core.NewDate(2024, 2, 3); !res.Instance.OccurredOn.Equal(want.Time) {
		t.Errorf("occurredOn = %s, want %s (processing date, not due date)", res.Instance.OccurredOn, want)
	}
	if res.Instance.Kind != core.KindExpense {
		t.Errorf("instance kind = %s, want expense", res.Instance.Kind)
	}
	if res.Instance.Primary != "Casa" || res.Instance.Secondary != "Affitto" {
		t.Errorf("instance categories = %q/%q, want inherited from series", res.Instance.Primary, res.Instance.Secondary)
	}
	if want := core.NewDate(2024, 3, 1); !res.Series.NextDueDate.Equal(want.Time) {
		t.Errorf("advanced next due = %s, want %s", res.Series.NextDueDate, want)
	}
	if !res.Series.Active {
		t.Error("series without end date must stay active")
	}
	if res.Exhausted {
		t.Error("series without end date must not be exhausted")
	}
	if want := core.NewDate(2024, 2, 1); !res.DueDate.Equal(want.Time) {
		t.Errorf("satisfied due date = %s, want %s", res.DueDate, want)
	}

	// Input series is untouched.
	if !s.NextDueDate.Equal(core.NewDate(2024, 2, 1).Time) || !s.Active {
		t.Error("Materialize mutated its input series")
	}
}

func TestMaterialize_Deterministic(t *testing.T) {
	s := monthlySeries()
	asOf := time.Date(2024, 2, 3, 10, 30, 0, 0, time.UTC)

	first, err := Materialize(s, asOf)
	if err != nil {
		t.Fatalf("first call: %v", err)
	}
	second, err := Materialize(s, asOf)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if first != second {
		t.Errorf("repeated Materialize differs:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestMaterialize_Termination(t *testing.T) {
	s := monthlySeries()
	s.StartDate = core.NewDate(2024, 1, 15)
	s.NextDueDate = core.NewDate(2024, 5, 15)
	s.EndDate = core.NewDate(2024, 6, 1)

	res, err := Materialize(s, time.Date(2024, 5, 20, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if want := core.NewDate(2024, 6, 15); !res.Series.NextDueDate.Equal(want.Time) {
		t.Errorf("next due = %s, want %s", res.Series.NextDueDate, want)
	}
	if res.Series.Active {
		t.Error("series must be inactive once next due passes end date")
	}
	if !res.Exhausted {
		t.Error("expected exhausted flag")
	}
}

func TestMaterialize_NextDueOnEndDateStaysActive(t *testing.T) {
	s := monthlySeries()
	s.StartDate = core.NewDate(2024, 1, 15)
	s.NextDueDate = core.NewDate(2024, 5, 15)
	s.EndDate = core.NewDate(2024, 6, 15)

	res, err := Materialize(s, time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if !res.Series.Active || res.Exhausted {
		t.Error("a due date exactly on the end date is still producible")
	}
}

// A series un-processed for several periods advances one period per call.
func TestMaterialize_SingleStepCatchUp(t *testing.T) {
	s := monthlySeries()
	s.Every = core.Daily
	s.StartDate = core.NewDate(2024, 3, 1)
	s.NextDueDate = core.NewDate(2024, 3, 5)
	asOf := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)

	for i, wantNext := range []core.Date{
		core.NewDate(2024, 3, 6),
		core.NewDate(2024, 3, 7),
		core.NewDate(2024, 3, 8),
	} {
		res, err := Materialize(s, asOf)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if !res.Series.NextDueDate.Equal(wantNext.Time) {
			t.Fatalf("step %d: next due = %s, want %s", i, res.Series.NextDueDate, wantNext)
		}
		s = res.Series
	}
}

func TestMaterialize_InvalidStates(t *testing.T) {
	t.Run("inactive series", func(t *testing.T) {
		s := monthlySeries()
		s.Active = false
		_, err := Materialize(s, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
		if !errors.Is(err, ErrSeriesInactive) {
			t.Fatalf("error = %v, want ErrSeriesInactive", err)
		}
	})

	t.Run("not yet due", func(t *testing.T) {
		s := monthlySeries()
		_, err := Materialize(s, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
		if !errors.Is(err, ErrNotDue) {
			t.Fatalf("error = %v, want ErrNotDue", err)
		}
	})
}

func TestMaterialize_IncomeInheritsSource(t *testing.T) {
	s := monthlySeries()
	s.Kind = core.KindIncome
	s.Primary = ""
	s.Secondary = ""
	s.Source = "Stipendio"

	res, err := Materialize(s, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if res.Instance.Kind != core.KindIncome || res.Instance.Source != "Stipendio" {
		t.Errorf("instance = %+v, want income with inherited source", res.Instance)
	}
}

func TestInitialNextDue(t *testing.T) {
	got, err := InitialNextDue(core.NewDate(2024, 1, 1), core.Monthly)
	if err != nil {
		t.Fatalf("InitialNextDue() error = %v", err)
	}
	if want := core.NewDate(2024, 2, 1); !got.Equal(want.Time) {
		t.Errorf("InitialNextDue = %s, want %s", got, want)
	}
}

func TestClocks(t *testing.T) {
	fixed := FixedClock{Instant: time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)}
	if !fixed.Now().Equal(fixed.Instant) {
		t.Error("FixedClock must return its instant")
	}
	if (SystemClock{}).Now().IsZero() {
		t.Error("SystemClock must return a real instant")
	}
}
