// Package recurrence decides when a recurring series is due and performs one
// atomic materialize-and-advance step over it.
//
// Each frequency has its own stepper, registered in a small strategy table.
// Advancement is always anchored at the previous due date, never at the
// processing instant, so period boundaries stay fixed to the series' start
// date even when processing runs late.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"ricorrenze/internal/core"
)

var (
	// ErrSeriesInactive signals a materialize call on a paused or ended
	// series. This is a caller bug, not a condition to retry.
	ErrSeriesInactive = errors.New("series is not active")

	// ErrNotDue signals a materialize call before the series' next due date.
	ErrNotDue = errors.New("series is not due")
)

// Stepper advances a due date by one period.
type Stepper interface {
	Next(from core.Date) core.Date
}

// DailyStepper advances by one day.
type DailyStepper struct{}

func (DailyStepper) Next(from core.Date) core.Date {
	return core.Date{Time: from.AddDate(0, 0, 1)}
}

// WeeklyStepper advances by seven days.
type WeeklyStepper struct{}

func (WeeklyStepper) Next(from core.Date) core.Date {
	return core.Date{Time: from.AddDate(0, 0, 7)}
}

// MonthlyStepper advances by one calendar month, clamping to the last valid
// day when the target month is shorter (Jan 31 -> Feb 29 -> Mar 29, never
// overflowing into the following month).
type MonthlyStepper struct{}

func (MonthlyStepper) Next(from core.Date) core.Date {
	year, month := from.Year(), time.Month(from.Month())
	month++
	if month > time.December {
		month = time.January
		year++
	}
	return clampedDate(year, month, from.Day())
}

// YearlyStepper advances by one calendar year, with Feb 29 clamping to
// Feb 28 in non-leap target years.
type YearlyStepper struct{}

func (YearlyStepper) Next(from core.Date) core.Date {
	return clampedDate(from.Year()+1, time.Month(from.Month()), from.Day())
}

// clampedDate builds a date in the given month, pulling the day back to the
// month's last day when it would not exist.
func clampedDate(year int, month time.Month, day int) core.Date {
	lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > lastDay {
		day = lastDay
	}
	return core.NewDate(year, int(month), day)
}

// steppers maps frequencies to their schedule-advancement strategies.
var steppers = map[core.Frequency]Stepper{
	core.Daily:   DailyStepper{},
	core.Weekly:  WeeklyStepper{},
	core.Monthly: MonthlyStepper{},
	core.Yearly:  YearlyStepper{},
}

// GetStepper returns the stepper for a frequency.
func GetStepper(frequency core.Frequency) (Stepper, error) {
	st, ok := steppers[frequency]
	if !ok {
		return nil, fmt.Errorf("unknown frequency: %s", frequency)
	}
	return st, nil
}

// RegisterStepper registers a custom stepper for a new frequency, allowing
// extension without touching the engine.
func RegisterStepper(frequency core.Frequency, st Stepper) {
	steppers[frequency] = st
}

// NextDueDate computes the due date one period after from. It must be called
// with the previous due date, never with "today": advancing from the due
// date keeps period boundaries anchored instead of sliding with processing
// delay.
func NextDueDate(from core.Date, frequency core.Frequency) (core.Date, error) {
	st, err := GetStepper(frequency)
	if err != nil {
		return core.Date{}, err
	}
	return st.Next(from), nil
}

// IsDue reports whether the series has an occurrence awaiting
// materialization at asOf. An inactive series is never due. Pure function of
// its inputs.
func IsDue(series core.RecurringSeries, asOf time.Time) bool {
	if !series.Active {
		return false
	}
	return !core.DateOf(asOf).Before(series.NextDueDate.Time)
}

// Result carries the outcome of one materialization step.
type Result struct {
	// Instance is the ledger entry to persist. Its ID is unassigned; the
	// store fills it in.
	Instance core.TransactionInstance

	// Series is an advanced copy of the input series. The input value is
	// never mutated; the caller owns persistence of both.
	Series core.RecurringSeries

	// DueDate is the period this step satisfied (the series' next due date
	// before advancement). It keys the at-most-once guard in storage.
	DueDate core.Date

	// Exhausted reports that the advance moved past the series' end date
	// and the returned Series is now inactive. Informational: the instance
	// is still valid and must be persisted.
	Exhausted bool
}

// Materialize performs one materialize-and-advance step: it builds the
// instance for the series' current due period, dated at processAsOf, and
// returns the series with its schedule advanced by exactly one period.
//
// It is deterministic and side-effect free. It does not deduplicate: the
// persistence layer must enforce at-most-once per (series, due period).
// A series due for several elapsed periods advances one period per call;
// catch-up is the caller's loop.
func Materialize(series core.RecurringSeries, processAsOf time.Time) (Result, error) {
	if !series.Active {
		return Result{}, ErrSeriesInactive
	}
	if !IsDue(series, processAsOf) {
		return Result{}, fmt.Errorf("%w: next due %s, asked at %s",
			ErrNotDue, series.NextDueDate, core.DateOf(processAsOf))
	}

	next, err := NextDueDate(series.NextDueDate, series.Every)
	if err != nil {
		return Result{}, err
	}

	// A late-processed instance is dated when it was actually processed,
	// not when it was originally due.
	instance := core.TransactionInstance{
		Kind:        series.Kind,
		OccurredOn:  core.DateOf(processAsOf),
		Description: series.Description,
		Amount:      series.Amount,
		Primary:     series.Primary,
		Secondary:   series.Secondary,
		Source:      series.Source,
	}

	updated := series
	dueDate := series.NextDueDate
	updated.NextDueDate = next

	exhausted := false
	if !series.EndDate.IsZero() && next.After(series.EndDate.Time) {
		updated.Active = false
		exhausted = true
	}

	return Result{
		Instance:  instance,
		Series:    updated,
		DueDate:   dueDate,
		Exhausted: exhausted,
	}, nil
}

// InitialNextDue computes the first NextDueDate for a newly created series:
// the start date advanced by one period. The occurrence dated exactly on the
// start date is treated as already satisfied and never materialized.
func InitialNextDue(startDate core.Date, frequency core.Frequency) (core.Date, error) {
	return NextDueDate(startDate, frequency)
}
