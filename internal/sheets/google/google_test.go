package google

import (
	"testing"

	"ricorrenze/internal/core"
)

func TestYearPrefixedName(t *testing.T) {
	cases := []struct {
		base string
		year int
		want string
	}{
		{"Expenses", 2026, "2026 Expenses"},
		{"2025 Expenses", 2026, "2025 Expenses"},
		{"  Incomes  ", 2024, "2024 Incomes"},
		{"", 2026, ""},
	}
	for _, c := range cases {
		if got := yearPrefixedName(c.base, c.year); got != c.want {
			t.Errorf("yearPrefixedName(%q, %d) = %q, want %q", c.base, c.year, got, c.want)
		}
	}
}

func TestSheetNameFor(t *testing.T) {
	c := &Client{expensesBase: "Expenses", incomesBase: "Incomes"}

	expense := core.TransactionInstance{
		Kind:       core.KindExpense,
		OccurredOn: core.NewDate(2026, 2, 1),
	}
	if got := c.sheetNameFor(expense); got != "2026 Expenses" {
		t.Errorf("expense sheet = %q, want %q", got, "2026 Expenses")
	}

	income := core.TransactionInstance{
		Kind:       core.KindIncome,
		OccurredOn: core.NewDate(2025, 12, 31),
	}
	if got := c.sheetNameFor(income); got != "2025 Incomes" {
		t.Errorf("income sheet = %q, want %q", got, "2025 Incomes")
	}
}
