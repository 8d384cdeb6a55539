package core

import (
	"errors"
	"strings"
	"time"
)

const (
	Monthly Frequency = "monthly"
	Yearly  Frequency = "yearly"
	Weekly  Frequency = "weekly"
	Daily   Frequency = "daily"
)

const (
	KindExpense Kind = "expense"
	KindIncome  Kind = "income"
)

type (
	// Frequency is the repetition cadence of a recurring series.
	Frequency string

	// Kind selects the ledger a materialized instance posts to.
	Kind string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// RecurringSeries is a template describing a repeating obligation.
	// NextDueDate is the only schedule field the engine advances; StartDate
	// stays fixed as the anchor for period boundaries.
	RecurringSeries struct {
		ID          int64
		Kind        Kind
		Every       Frequency
		Description string
		Amount      Money
		Primary     string // Primary category (expense series)
		Secondary   string // Secondary category (expense series)
		Source      string // Income source label (income series)
		StartDate   Date
		EndDate     Date // zero means the series runs until deleted
		NextDueDate Date
		Active      bool
	}

	// TransactionInstance is one concrete ledger entry produced from a
	// series. After creation it is an ordinary, independently editable row
	// with no linkage back to its origin.
	TransactionInstance struct {
		ID          int64
		Kind        Kind
		OccurredOn  Date
		Description string
		Amount      Money
		Primary     string
		Secondary   string
		Source      string
	}
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidFrequency = errors.New("invalid frequency")
	ErrInvalidKind      = errors.New("invalid kind")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyPrimary     = errors.New("empty primary category")
	ErrEmptySecondary   = errors.New("empty secondary category")
	ErrEmptySource      = errors.New("empty income source")
)

func (f Frequency) Validate() error {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return nil
	default:
		return ErrInvalidFrequency
	}
}

func (k Kind) Validate() error {
	switch k {
	case KindExpense, KindIncome:
		return nil
	default:
		return ErrInvalidKind
	}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// NewDate creates a Date at midnight UTC.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar day.
func DateOf(t time.Time) Date {
	u := t.UTC()
	return NewDate(u.Year(), int(u.Month()), u.Day())
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year.
func (d Date) Year() int {
	return d.Time.Year()
}

// IsEmpty reports whether the date is unset (used for optional end dates).
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

// String formats as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format("2006-01-02")
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (ti TransactionInstance) Validate() error {
	if err := ti.Kind.Validate(); err != nil {
		return err
	}
	if err := ti.OccurredOn.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(ti.Description)) == 0 {
		return ErrEmptyDescription
	}
	if err := ti.Amount.Validate(); err != nil {
		return err
	}
	switch ti.Kind {
	case KindExpense:
		if strings.TrimSpace(ti.Primary) == "" {
			return ErrEmptyPrimary
		}
		if strings.TrimSpace(ti.Secondary) == "" {
			return ErrEmptySecondary
		}
	case KindIncome:
		if strings.TrimSpace(ti.Source) == "" {
			return ErrEmptySource
		}
	}
	return nil
}

func (rs RecurringSeries) Validate() error {
	if err := rs.Kind.Validate(); err != nil {
		return err
	}

	if err := rs.StartDate.Validate(); err != nil {
		return errors.New("invalid start date: " + err.Error())
	}

	if !rs.EndDate.IsZero() && rs.EndDate.Before(rs.StartDate.Time) {
		return errors.New("end date must not be before start date")
	}

	if !rs.NextDueDate.IsZero() && rs.NextDueDate.Before(rs.StartDate.Time) {
		return errors.New("next due date must not be before start date")
	}

	if err := rs.Every.Validate(); err != nil {
		return err
	}

	if len(strings.TrimSpace(rs.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(rs.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}

	if err := rs.Amount.Validate(); err != nil {
		return err
	}

	switch rs.Kind {
	case KindExpense:
		if strings.TrimSpace(rs.Primary) == "" {
			return ErrEmptyPrimary
		}
		if strings.TrimSpace(rs.Secondary) == "" {
			return ErrEmptySecondary
		}
	case KindIncome:
		if strings.TrimSpace(rs.Source) == "" {
			return ErrEmptySource
		}
	}

	return nil
}
