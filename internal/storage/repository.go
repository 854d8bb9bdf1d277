// Package storage implements the SQLite persistence layer. It is the concrete
// stand-in for the hosted store the rest of the system talks to through small
// interfaces.
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

	"centime/internal/core"
	"centime/internal/log"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable is returned when the database cannot be reached or its
	// schema has not been provisioned. Callers surface this as a
	// configuration problem rather than a generic failure.
	ErrUnavailable = errors.New("storage unavailable")
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", classifyErr(err))
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

// classifyErr maps driver errors onto the repository's sentinel errors so the
// services can distinguish a missing schema from a bad query.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	msg := err.Error()
	if strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "unable to open database") ||
		strings.Contains(msg, "database is locked") {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// ResolveCategory resolves a slug-or-id reference to a full category row.
func (r *SQLiteRepository) ResolveCategory(ctx context.Context, ref core.CategoryRef) (core.Category, error) {
	if ref.IsZero() {
		return core.Category{}, core.ErrEmptyCategory
	}

	query := `SELECT id, slug, name FROM categories WHERE id = ?`
	if ref.IsSlug() {
		query = `SELECT id, slug, name FROM categories WHERE slug = ?`
	}

	var c core.Category
	err := r.db.QueryRowContext(ctx, query, ref.Value()).Scan(&c.ID, &c.Slug, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Category{}, fmt.Errorf("%w: %q", core.ErrUnknownCategory, ref.Value())
	}
	if err != nil {
		return core.Category{}, fmt.Errorf("resolve category %q: %w", ref.Value(), classifyErr(err))
	}
	return c, nil
}

// ListCategories returns all categories ordered by name.
func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, slug, name FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", classifyErr(err))
	}
	defer rows.Close()

	var categories []core.Category
	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Slug, &c.Name); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// CreateTemplate inserts a new recurring template.
func (r *SQLiteRepository) CreateTemplate(ctx context.Context, t core.RecurringTemplate) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO recurring_templates (id, user_id, category_id, name, amount_units, day_of_month, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.CategoryID, t.Name, t.Amount.Units, t.DayOfMonth, t.Active)
	if err != nil {
		return fmt.Errorf("create template: %w", classifyErr(err))
	}

	slog.InfoContext(ctx, "Recurring template saved",
		log.FieldTemplate, t.ID,
		"name", t.Name,
		log.FieldAmount, t.Amount.Units,
		"day_of_month", t.DayOfMonth)

	return nil
}

// UpdateTemplate updates a template's mutable fields. Already-materialized
// expenses are never touched.
func (r *SQLiteRepository) UpdateTemplate(ctx context.Context, t core.RecurringTemplate) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE recurring_templates
		SET category_id = ?, name = ?, amount_units = ?, day_of_month = ?, is_active = ?,
		    updated_at = datetime('now')
		WHERE id = ? AND user_id = ?`,
		t.CategoryID, t.Name, t.Amount.Units, t.DayOfMonth, t.Active, t.ID, t.UserID)
	if err != nil {
		return fmt.Errorf("update template %s: %w", t.ID, classifyErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update template %s: %w", t.ID, ErrNotFound)
	}
	return nil
}

// DeleteTemplate removes a template. Expenses it produced keep their weak
// back-reference and survive.
func (r *SQLiteRepository) DeleteTemplate(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM recurring_templates WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete template %s: %w", id, classifyErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete template %s: %w", id, ErrNotFound)
	}
	return nil
}

// GetTemplate fetches a single template by id.
func (r *SQLiteRepository) GetTemplate(ctx context.Context, userID, id string) (core.RecurringTemplate, error) {
	var t core.RecurringTemplate
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, category_id, name, amount_units, day_of_month, is_active
		FROM recurring_templates WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&t.ID, &t.UserID, &t.CategoryID, &t.Name, &t.Amount.Units, &t.DayOfMonth, &t.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RecurringTemplate{}, fmt.Errorf("get template %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("get template %s: %w", id, classifyErr(err))
	}
	return t, nil
}

// ListTemplates returns all templates owned by the user, active or not.
func (r *SQLiteRepository) ListTemplates(ctx context.Context, userID string) ([]core.RecurringTemplate, error) {
	return r.listTemplates(ctx, userID, false)
}

// ListActiveTemplates returns the user's active templates only.
func (r *SQLiteRepository) ListActiveTemplates(ctx context.Context, userID string) ([]core.RecurringTemplate, error) {
	return r.listTemplates(ctx, userID, true)
}

func (r *SQLiteRepository) listTemplates(ctx context.Context, userID string, activeOnly bool) ([]core.RecurringTemplate, error) {
	query := `
		SELECT id, user_id, category_id, name, amount_units, day_of_month, is_active
		FROM recurring_templates WHERE user_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY day_of_month, name`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list templates for user %s: %w", userID, classifyErr(err))
	}
	defer rows.Close()

	var templates []core.RecurringTemplate
	for rows.Next() {
		var t core.RecurringTemplate
		if err := rows.Scan(&t.ID, &t.UserID, &t.CategoryID, &t.Name, &t.Amount.Units, &t.DayOfMonth, &t.Active); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// ListUsersWithActiveTemplates returns the distinct owners of active templates.
// The recurring worker iterates these when a processing tick fires.
func (r *SQLiteRepository) ListUsersWithActiveTemplates(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM recurring_templates WHERE is_active = 1`)
	if err != nil {
		return nil, fmt.Errorf("list users with active templates: %w", classifyErr(err))
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// CreateExpense inserts a single expense row.
func (r *SQLiteRepository) CreateExpense(ctx context.Context, e core.Expense) error {
	var templateID any
	if e.TemplateID != "" {
		templateID = e.TemplateID
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO expenses (id, user_id, category_id, amount_units, description, expense_date, month_key, is_recurring, template_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.CategoryID, e.Amount.Units, e.Description,
		e.Date.String(), core.MonthOf(e.Date).String(), e.IsRecurring, templateID)
	if err != nil {
		return fmt.Errorf("create expense: %w", classifyErr(err))
	}

	slog.InfoContext(ctx, "Expense saved",
		log.FieldExpense, e.ID,
		"description", e.Description,
		log.FieldAmount, e.Amount.Units,
		"date", e.Date.String())

	return nil
}

// DeleteExpense removes an expense owned by the user.
func (r *SQLiteRepository) DeleteExpense(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM expenses WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete expense %s: %w", id, classifyErr(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete expense %s: %w", id, ErrNotFound)
	}
	return nil
}

// BatchInsertExpenses inserts all candidates in one transaction. Rows that
// collide with the per-template-per-month uniqueness index are silently
// skipped; the return value counts rows actually inserted. Any other failure
// rolls back the whole batch.
func (r *SQLiteRepository) BatchInsertExpenses(ctx context.Context, expenses []core.Expense) (int, error) {
	if len(expenses) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin batch insert: %w", classifyErr(err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO expenses (id, user_id, category_id, amount_units, description, expense_date, month_key, is_recurring, template_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare batch insert: %w", classifyErr(err))
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range expenses {
		var templateID any
		if e.TemplateID != "" {
			templateID = e.TemplateID
		}
		res, err := stmt.ExecContext(ctx,
			e.ID, e.UserID, e.CategoryID, e.Amount.Units, e.Description,
			e.Date.String(), core.MonthOf(e.Date).String(), e.IsRecurring, templateID)
		if err != nil {
			return 0, fmt.Errorf("batch insert expense: %w", classifyErr(err))
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit batch insert: %w", classifyErr(err))
	}
	return inserted, nil
}

// ListExpensesByMonth returns all of a user's expenses for a month, newest first.
func (r *SQLiteRepository) ListExpensesByMonth(ctx context.Context, userID string, month core.Month) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, category_id, amount_units, description, expense_date, is_recurring, COALESCE(template_id, '')
		FROM expenses WHERE user_id = ? AND month_key = ?
		ORDER BY expense_date DESC, created_at DESC`, userID, month.String())
	if err != nil {
		return nil, fmt.Errorf("list expenses for %s: %w", month, classifyErr(err))
	}
	defer rows.Close()
	return scanExpenses(rows)
}

// ListRecurringExpensesInRange returns the user's materialized recurring
// expenses with dates inside [start, end]. This feeds the idempotency set.
func (r *SQLiteRepository) ListRecurringExpensesInRange(ctx context.Context, userID string, start, end core.Date) ([]core.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, category_id, amount_units, description, expense_date, is_recurring, COALESCE(template_id, '')
		FROM expenses
		WHERE user_id = ? AND is_recurring = 1 AND expense_date >= ? AND expense_date <= ?`,
		userID, start.String(), end.String())
	if err != nil {
		return nil, fmt.Errorf("list recurring expenses %s..%s: %w", start, end, classifyErr(err))
	}
	defer rows.Close()
	return scanExpenses(rows)
}

// ListExpensesByCategory returns the user's expenses for a category, optionally
// bounded by a date range. Zero dates leave that side unbounded.
func (r *SQLiteRepository) ListExpensesByCategory(ctx context.Context, userID, categoryID string, from, to core.Date) ([]core.Expense, error) {
	query := `
		SELECT id, user_id, category_id, amount_units, description, expense_date, is_recurring, COALESCE(template_id, '')
		FROM expenses WHERE user_id = ? AND category_id = ?`
	args := []any{userID, categoryID}
	if !from.IsZero() {
		query += ` AND expense_date >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		query += ` AND expense_date <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY expense_date`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list expenses for category %s: %w", categoryID, classifyErr(err))
	}
	defer rows.Close()
	return scanExpenses(rows)
}

func scanExpenses(rows *sql.Rows) ([]core.Expense, error) {
	var expenses []core.Expense
	for rows.Next() {
		var (
			e       core.Expense
			dateStr string
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.CategoryID, &e.Amount.Units, &e.Description, &dateStr, &e.IsRecurring, &e.TemplateID); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		d, err := core.ParseDate(dateStr)
		if err != nil {
			return nil, fmt.Errorf("scan expense date: %w", err)
		}
		e.Date = d
		expenses = append(expenses, e)
	}
	return expenses, rows.Err()
}

// UpsertBudget inserts or replaces the budget for (user, category, month).
func (r *SQLiteRepository) UpsertBudget(ctx context.Context, b core.Budget) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (user_id, category_id, month_key, amount_units)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id, category_id, month_key)
		DO UPDATE SET amount_units = excluded.amount_units, updated_at = datetime('now')`,
		b.UserID, b.CategoryID, b.Month.String(), b.Amount.Units)
	if err != nil {
		return fmt.Errorf("upsert budget for %s/%s: %w", b.CategoryID, b.Month, classifyErr(err))
	}

	slog.InfoContext(ctx, "Budget saved",
		log.FieldCategory, b.CategoryID,
		log.FieldMonth, b.Month.String(),
		log.FieldAmount, b.Amount.Units)

	return nil
}

// ListBudgets returns the user's budgets for a month.
func (r *SQLiteRepository) ListBudgets(ctx context.Context, userID string, month core.Month) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, category_id, month_key, amount_units
		FROM budgets WHERE user_id = ? AND month_key = ?`, userID, month.String())
	if err != nil {
		return nil, fmt.Errorf("list budgets for %s: %w", month, classifyErr(err))
	}
	defer rows.Close()

	var budgets []core.Budget
	for rows.Next() {
		var (
			b        core.Budget
			monthStr string
		)
		if err := rows.Scan(&b.UserID, &b.CategoryID, &monthStr, &b.Amount.Units); err != nil {
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		m, err := core.ParseMonth(monthStr)
		if err != nil {
			return nil, fmt.Errorf("scan budget month: %w", err)
		}
		b.Month = m
		budgets = append(budgets, b)
	}
	return budgets, rows.Err()
}

// MonthOverview aggregates a user's month: total spent plus spent-vs-budget
// per category, skipping categories with neither spending nor a budget.
func (r *SQLiteRepository) MonthOverview(ctx context.Context, userID string, month core.Month) (core.MonthOverview, error) {
	overview := core.MonthOverview{Month: month}

	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.slug, c.name,
		       COALESCE((SELECT SUM(e.amount_units) FROM expenses e
		                 WHERE e.user_id = ? AND e.category_id = c.id AND e.month_key = ?), 0),
		       COALESCE((SELECT b.amount_units FROM budgets b
		                 WHERE b.user_id = ? AND b.category_id = c.id AND b.month_key = ?), 0)
		FROM categories c
		ORDER BY c.name`,
		userID, month.String(), userID, month.String())
	if err != nil {
		return overview, fmt.Errorf("month overview for %s: %w", month, classifyErr(err))
	}
	defer rows.Close()

	for rows.Next() {
		var cs core.CategorySpend
		if err := rows.Scan(&cs.Category.ID, &cs.Category.Slug, &cs.Category.Name, &cs.Spent.Units, &cs.Budget.Units); err != nil {
			return overview, fmt.Errorf("scan overview row: %w", err)
		}
		if cs.Spent.Units == 0 && cs.Budget.Units == 0 {
			continue
		}
		overview.Total.Units += cs.Spent.Units
		overview.ByCategory = append(overview.ByCategory, cs)
	}
	return overview, rows.Err()
}
