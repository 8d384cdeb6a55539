// Package storage persists recurring series and their materialized ledger
// entries in SQLite. It owns the at-most-once guarantee the engine itself
// does not provide: the materializations table keys every produced instance
// by (series id, due date), and the ledger write, guard insert, and schedule
// advance happen in one transaction.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ricorrenze/internal/core"

	_ "modernc.org/sqlite"
)

var (
	// ErrSeriesNotFound is returned when a series id does not exist.
	ErrSeriesNotFound = errors.New("series not found")

	// ErrDuplicatePeriod is returned when an instance already exists for
	// the series' current due period. The series schedule is left
	// untouched, so a later attempt retries against the same boundary.
	ErrDuplicatePeriod = errors.New("instance already materialized for this period")
)

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// SQLite leaves foreign keys off per connection; the materializations
	// guard rows rely on ON DELETE CASCADE, so enable them in the DSN.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// CreateSeries inserts a new series and returns its id.
func (r *SQLiteRepository) CreateSeries(ctx context.Context, s core.RecurringSeries) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO series (kind, frequency, description, amount_cents,
			primary_category, secondary_category, source_label,
			start_date, end_date, next_due_date, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(s.Kind), string(s.Every), s.Description, s.Amount.Cents,
		s.Primary, s.Secondary, s.Source,
		formatDate(s.StartDate), formatOptionalDate(s.EndDate),
		formatDate(s.NextDueDate), boolToInt(s.Active),
	)
	if err != nil {
		return 0, fmt.Errorf("create series: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("series insert id: %w", err)
	}

	slog.InfoContext(ctx, "Series saved to SQLite",
		"id", id,
		"kind", s.Kind,
		"description", s.Description,
		"frequency", s.Every,
		"next_due_date", s.NextDueDate.String())

	return id, nil
}

const seriesColumns = `id, kind, frequency, description, amount_cents,
	primary_category, secondary_category, source_label,
	start_date, end_date, next_due_date, active`

// GetSeries loads a single series by id.
func (r *SQLiteRepository) GetSeries(ctx context.Context, id int64) (core.RecurringSeries, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+seriesColumns+` FROM series WHERE id = ?`, id)
	s, err := scanSeries(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringSeries{}, ErrSeriesNotFound
	}
	if err != nil {
		return core.RecurringSeries{}, fmt.Errorf("get series %d: %w", id, err)
	}
	return s, nil
}

// ListSeries returns all series, newest first.
func (r *SQLiteRepository) ListSeries(ctx context.Context) ([]core.RecurringSeries, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seriesColumns+` FROM series ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()
	return collectSeries(rows)
}

// ListActiveDue returns active series whose next due date has been reached.
func (r *SQLiteRepository) ListActiveDue(ctx context.Context, asOf core.Date) ([]core.RecurringSeries, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+seriesColumns+` FROM series
		 WHERE active = 1 AND next_due_date <= ?
		 ORDER BY next_due_date ASC`, formatDate(asOf))
	if err != nil {
		return nil, fmt.Errorf("list active due series: %w", err)
	}
	defer rows.Close()
	return collectSeries(rows)
}

// UpdateSeries replaces the user-editable schedule fields of a series.
func (r *SQLiteRepository) UpdateSeries(ctx context.Context, id int64, s core.RecurringSeries) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE series SET kind = ?, frequency = ?, description = ?,
			amount_cents = ?, primary_category = ?, secondary_category = ?,
			source_label = ?, start_date = ?, end_date = ?,
			next_due_date = ?, active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		string(s.Kind), string(s.Every), s.Description, s.Amount.Cents,
		s.Primary, s.Secondary, s.Source,
		formatDate(s.StartDate), formatOptionalDate(s.EndDate),
		formatDate(s.NextDueDate), boolToInt(s.Active), id,
	)
	if err != nil {
		return fmt.Errorf("update series %d: %w", id, err)
	}
	return requireRow(res, id)
}

// SetSeriesActive flips the active flag (user pause/resume).
func (r *SQLiteRepository) SetSeriesActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE series SET active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("set series %d active: %w", id, err)
	}
	return requireRow(res, id)
}

// DeleteSeries removes a series and its materialization guard rows. Ledger
// entries already produced stay: they are independent rows.
func (r *SQLiteRepository) DeleteSeries(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM series WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete series %d: %w", id, err)
	}
	return requireRow(res, id)
}

// ApplyMaterialization persists one engine step atomically: the ledger row,
// the (series, due period) guard row, and the series schedule advance either
// all commit or none do. A guard conflict rolls everything back and returns
// ErrDuplicatePeriod with the series untouched.
func (r *SQLiteRepository) ApplyMaterialization(ctx context.Context, instance core.TransactionInstance, updated core.RecurringSeries, dueDate core.Date) (core.TransactionInstance, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.TransactionInstance{}, fmt.Errorf("begin materialization tx: %w", err)
	}
	defer tx.Rollback()

	instanceID, err := insertInstance(ctx, tx, instance)
	if err != nil {
		return core.TransactionInstance{}, fmt.Errorf("insert %s instance: %w", instance.Kind, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO materializations (series_id, due_date, instance_kind, instance_id)
		VALUES (?, ?, ?, ?)`,
		updated.ID, formatDate(dueDate), string(instance.Kind), instanceID)
	if err != nil {
		if isUniqueViolation(err) {
			return core.TransactionInstance{}, ErrDuplicatePeriod
		}
		if isForeignKeyViolation(err) {
			// The series was deleted out from under a concurrent scan.
			return core.TransactionInstance{}, ErrSeriesNotFound
		}
		return core.TransactionInstance{}, fmt.Errorf("insert materialization guard: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE series SET next_due_date = ?, active = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		formatDate(updated.NextDueDate), boolToInt(updated.Active), updated.ID)
	if err != nil {
		return core.TransactionInstance{}, fmt.Errorf("advance series %d: %w", updated.ID, err)
	}
	// A concurrent delete can race the materialization; the ledger row must
	// roll back with it rather than commit against a gone series.
	if err := requireRow(res, updated.ID); err != nil {
		return core.TransactionInstance{}, err
	}

	if err := tx.Commit(); err != nil {
		return core.TransactionInstance{}, fmt.Errorf("commit materialization: %w", err)
	}

	instance.ID = instanceID

	slog.InfoContext(ctx, "Materialization applied",
		"series_id", updated.ID,
		"instance_id", instanceID,
		"kind", instance.Kind,
		"due_date", dueDate.String(),
		"occurred_on", instance.OccurredOn.String(),
		"next_due_date", updated.NextDueDate.String(),
		"active", updated.Active)

	return instance, nil
}

// GetInstance loads one ledger entry by kind and id.
func (r *SQLiteRepository) GetInstance(ctx context.Context, kind core.Kind, id int64) (core.TransactionInstance, error) {
	ti := core.TransactionInstance{ID: id, Kind: kind}
	var occurredOn string
	var err error

	switch kind {
	case core.KindExpense:
		err = r.db.QueryRowContext(ctx, `
			SELECT occurred_on, description, amount_cents, primary_category, secondary_category
			FROM expenses WHERE id = ?`, id).
			Scan(&occurredOn, &ti.Description, &ti.Amount.Cents, &ti.Primary, &ti.Secondary)
	case core.KindIncome:
		err = r.db.QueryRowContext(ctx, `
			SELECT occurred_on, description, amount_cents, source_label
			FROM incomes WHERE id = ?`, id).
			Scan(&occurredOn, &ti.Description, &ti.Amount.Cents, &ti.Source)
	default:
		return core.TransactionInstance{}, core.ErrInvalidKind
	}
	if errors.Is(err, sql.ErrNoRows) {
		return core.TransactionInstance{}, fmt.Errorf("%s instance %d: not found", kind, id)
	}
	if err != nil {
		return core.TransactionInstance{}, fmt.Errorf("get %s instance %d: %w", kind, id, err)
	}

	ti.OccurredOn, err = parseDate(occurredOn)
	if err != nil {
		return core.TransactionInstance{}, fmt.Errorf("parse occurred_on: %w", err)
	}
	return ti, nil
}

// ListInstances returns ledger entries of one kind for a calendar month.
func (r *SQLiteRepository) ListInstances(ctx context.Context, kind core.Kind, year, month int) ([]core.TransactionInstance, error) {
	first := core.NewDate(year, month, 1)
	next := core.Date{Time: first.AddDate(0, 1, 0)}

	var query string
	switch kind {
	case core.KindExpense:
		query = `SELECT id, occurred_on, description, amount_cents, primary_category, secondary_category
			FROM expenses WHERE occurred_on >= ? AND occurred_on < ? ORDER BY occurred_on, id`
	case core.KindIncome:
		query = `SELECT id, occurred_on, description, amount_cents, source_label
			FROM incomes WHERE occurred_on >= ? AND occurred_on < ? ORDER BY occurred_on, id`
	default:
		return nil, core.ErrInvalidKind
	}

	rows, err := r.db.QueryContext(ctx, query, formatDate(first), formatDate(next))
	if err != nil {
		return nil, fmt.Errorf("list %s instances: %w", kind, err)
	}
	defer rows.Close()

	var out []core.TransactionInstance
	for rows.Next() {
		ti := core.TransactionInstance{Kind: kind}
		var occurredOn string
		if kind == core.KindExpense {
			err = rows.Scan(&ti.ID, &occurredOn, &ti.Description, &ti.Amount.Cents, &ti.Primary, &ti.Secondary)
		} else {
			err = rows.Scan(&ti.ID, &occurredOn, &ti.Description, &ti.Amount.Cents, &ti.Source)
		}
		if err != nil {
			return nil, fmt.Errorf("scan %s instance: %w", kind, err)
		}
		if ti.OccurredOn, err = parseDate(occurredOn); err != nil {
			return nil, fmt.Errorf("parse occurred_on: %w", err)
		}
		out = append(out, ti)
	}
	return out, rows.Err()
}

func insertInstance(ctx context.Context, tx *sql.Tx, ti core.TransactionInstance) (int64, error) {
	var res sql.Result
	var err error
	switch ti.Kind {
	case core.KindExpense:
		res, err = tx.ExecContext(ctx, `
			INSERT INTO expenses (occurred_on, description, amount_cents, primary_category, secondary_category)
			VALUES (?, ?, ?, ?, ?)`,
			formatDate(ti.OccurredOn), ti.Description, ti.Amount.Cents, ti.Primary, ti.Secondary)
	case core.KindIncome:
		res, err = tx.ExecContext(ctx, `
			INSERT INTO incomes (occurred_on, description, amount_cents, source_label)
			VALUES (?, ?, ?, ?)`,
			formatDate(ti.OccurredOn), ti.Description, ti.Amount.Cents, ti.Source)
	default:
		return 0, core.ErrInvalidKind
	}
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanSeries(row *sql.Row) (core.RecurringSeries, error) {
	var s core.RecurringSeries
	var kind, frequency, startDate, nextDue string
	var endDate sql.NullString
	var active int
	err := row.Scan(&s.ID, &kind, &frequency, &s.Description, &s.Amount.Cents,
		&s.Primary, &s.Secondary, &s.Source, &startDate, &endDate, &nextDue, &active)
	if err != nil {
		return core.RecurringSeries{}, err
	}
	return buildSeries(s, kind, frequency, startDate, endDate, nextDue, active)
}

func collectSeries(rows *sql.Rows) ([]core.RecurringSeries, error) {
	var out []core.RecurringSeries
	for rows.Next() {
		var s core.RecurringSeries
		var kind, frequency, startDate, nextDue string
		var endDate sql.NullString
		var active int
		err := rows.Scan(&s.ID, &kind, &frequency, &s.Description, &s.Amount.Cents,
			&s.Primary, &s.Secondary, &s.Source, &startDate, &endDate, &nextDue, &active)
		if err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		s, err = buildSeries(s, kind, frequency, startDate, endDate, nextDue, active)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func buildSeries(s core.RecurringSeries, kind, frequency, startDate string, endDate sql.NullString, nextDue string, active int) (core.RecurringSeries, error) {
	var err error
	s.Kind = core.Kind(kind)
	s.Every = core.Frequency(frequency)
	s.Active = active != 0
	if s.StartDate, err = parseDate(startDate); err != nil {
		return core.RecurringSeries{}, fmt.Errorf("parse start_date: %w", err)
	}
	if endDate.Valid && endDate.String != "" {
		if s.EndDate, err = parseDate(endDate.String); err != nil {
			return core.RecurringSeries{}, fmt.Errorf("parse end_date: %w", err)
		}
	}
	if s.NextDueDate, err = parseDate(nextDue); err != nil {
		return core.RecurringSeries{}, fmt.Errorf("parse next_due_date: %w", err)
	}
	return s, nil
}

func formatDate(d core.Date) string {
	return d.Format(dateLayout)
}

func formatOptionalDate(d core.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.Format(dateLayout)
}

func parseDate(s string) (core.Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return core.Date{}, err
	}
	return core.Date{Time: t}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrSeriesNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
