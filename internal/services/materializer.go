// Package services contains the application services: recurring-expense
// materialization, upcoming-occurrence projection, budget suggestions, expense
// mutations and the outbox publisher.
package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"centime/internal/core"
	"centime/internal/log"
)

// TemplateStore is the slice of storage the materializer reads templates from.
type TemplateStore interface {
	ListActiveTemplates(ctx context.Context, userID string) ([]core.RecurringTemplate, error)
}

// ExpenseStore is the slice of storage the materializer writes through.
type ExpenseStore interface {
	ListRecurringExpensesInRange(ctx context.Context, userID string, start, end core.Date) ([]core.Expense, error)
	BatchInsertExpenses(ctx context.Context, expenses []core.Expense) (int, error)
}

// Materializer turns active recurring templates into concrete expenses for a
// target month. Running it twice for the same month is a no-op: templates
// already materialized are skipped up front, and any that slip through a
// concurrent run are absorbed by the storage uniqueness constraint.
type Materializer struct {
	templates TemplateStore
	expenses  ExpenseStore
}

func NewMaterializer(templates TemplateStore, expenses ExpenseStore) *Materializer {
	return &Materializer{templates: templates, expenses: expenses}
}

// ProcessMonth materializes all of a user's due templates for the given
// YYYY-MM month. Per-template failures are collected in the result rather
// than aborting the run; the error return is reserved for input and storage
// failures that prevent the run entirely.
func (m *Materializer) ProcessMonth(ctx context.Context, userID, monthKey string) (core.MaterializationResult, error) {
	month, err := core.ParseMonth(monthKey)
	if err != nil {
		return core.MaterializationResult{}, fmt.Errorf("process month for user %s: %w", userID, err)
	}
	result := core.MaterializationResult{Month: month}

	templates, err := m.templates.ListActiveTemplates(ctx, userID)
	if err != nil {
		return result, fmt.Errorf("list active templates for user %s: %w", userID, err)
	}

	slog.InfoContext(ctx, "Materializing recurring expenses",
		log.FieldUserID, userID,
		log.FieldMonth, month.String(),
		"active_templates", len(templates))

	if len(templates) == 0 {
		result.Success = true
		return result, nil
	}

	existing, err := m.expenses.ListRecurringExpensesInRange(ctx, userID, month.First(), month.Last())
	if err != nil {
		return result, fmt.Errorf("list recurring expenses for %s: %w", month, err)
	}

	processed := make(map[string]bool, len(existing))
	for _, e := range existing {
		if e.TemplateID != "" {
			processed[e.TemplateID] = true
		}
	}

	var candidates []core.Expense
	for _, t := range templates {
		if processed[t.ID] {
			continue
		}

		expense := core.Expense{
			ID:          uuid.NewString(),
			UserID:      t.UserID,
			CategoryID:  t.CategoryID,
			Amount:      t.Amount,
			Description: t.Name,
			Date:        core.NewDate(month.Year, month.Month, month.ClampDay(t.DayOfMonth)),
			IsRecurring: true,
			TemplateID:  t.ID,
		}
		if err := expense.Validate(); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("template %s (%s): %v", t.ID, t.Name, err))
			slog.WarnContext(ctx, "Skipping invalid recurring template",
				log.FieldTemplate, t.ID,
				"name", t.Name,
				log.FieldError, err)
			continue
		}
		candidates = append(candidates, expense)
	}

	if len(candidates) > 0 {
		inserted, err := m.expenses.BatchInsertExpenses(ctx, candidates)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("batch insert: %v", err))
			return result, nil
		}
		result.ProcessedCount = inserted
	}

	result.Success = len(result.Errors) == 0

	slog.InfoContext(ctx, "Materialization complete",
		log.FieldUserID, userID,
		log.FieldMonth, month.String(),
		"processed", result.ProcessedCount,
		"skipped", len(processed),
		"errors", len(result.Errors))

	return result, nil
}
