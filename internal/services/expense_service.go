package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"centime/internal/core"
	"centime/internal/log"
	"centime/internal/storage"
)

// ExpenseService orchestrates expense and budget mutations. Every write lands
// in SQLite together with an outbox entry in the same database; the outbox
// processor publishes the entries to AMQP afterwards, so a broker outage
// never loses a mutation.
type ExpenseService struct {
	storage *storage.SQLiteRepository
}

func NewExpenseService(storage *storage.SQLiteRepository) *ExpenseService {
	return &ExpenseService{storage: storage}
}

// ExpenseInput carries the fields a caller supplies for a new expense.
type ExpenseInput struct {
	Category    core.CategoryRef
	Amount      core.Money
	Description string
	Date        core.Date
}

// CreateExpense resolves the category reference, validates and saves the
// expense, and records the mutation for publication.
func (s *ExpenseService) CreateExpense(ctx context.Context, userID string, in ExpenseInput) (core.Expense, error) {
	category, err := s.storage.ResolveCategory(ctx, in.Category)
	if err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	expense := core.Expense{
		ID:          uuid.NewString(),
		UserID:      userID,
		CategoryID:  category.ID,
		Amount:      in.Amount,
		Description: in.Description,
		Date:        in.Date,
	}
	if err := expense.Validate(); err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	if err := s.storage.CreateExpense(ctx, expense); err != nil {
		return core.Expense{}, fmt.Errorf("create expense: %w", err)
	}

	s.enqueueMutation(ctx, userID, "expense", expense.ID, "created", map[string]any{
		"category":     category.Slug,
		"amount_units": expense.Amount.Units,
		"date":         expense.Date.String(),
	})

	return expense, nil
}

// DeleteExpense removes an expense and records the deletion for publication.
func (s *ExpenseService) DeleteExpense(ctx context.Context, userID, id string) error {
	if err := s.storage.DeleteExpense(ctx, userID, id); err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}

	s.enqueueMutation(ctx, userID, "expense", id, "deleted", nil)
	return nil
}

// BudgetInput carries the fields a caller supplies for a budget write.
type BudgetInput struct {
	Category core.CategoryRef
	Month    core.Month
	Amount   core.Money
}

// SetBudget upserts the budget for one category and month.
func (s *ExpenseService) SetBudget(ctx context.Context, userID string, in BudgetInput) (core.Budget, error) {
	category, err := s.storage.ResolveCategory(ctx, in.Category)
	if err != nil {
		return core.Budget{}, fmt.Errorf("set budget: %w", err)
	}

	budget := core.Budget{
		UserID:     userID,
		CategoryID: category.ID,
		Month:      in.Month,
		Amount:     in.Amount,
	}
	if err := budget.Validate(); err != nil {
		return core.Budget{}, fmt.Errorf("set budget: %w", err)
	}

	if err := s.storage.UpsertBudget(ctx, budget); err != nil {
		return core.Budget{}, fmt.Errorf("set budget: %w", err)
	}

	s.enqueueMutation(ctx, userID, "budget", category.ID, "upserted", map[string]any{
		"category":     category.Slug,
		"month":        in.Month.String(),
		"amount_units": in.Amount.Units,
	})

	return budget, nil
}

// enqueueMutation records a mutation in the outbox. Failure to enqueue is
// logged, not returned: the primary write already succeeded.
func (s *ExpenseService) enqueueMutation(ctx context.Context, userID, entity, entityID, operation string, payload map[string]any) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to marshal outbox payload",
				"entity", entity, "entity_id", entityID, log.FieldError, err)
			return
		}
		raw = b
	}

	if err := s.storage.Enqueue(ctx, userID, entity, entityID, operation, raw); err != nil {
		slog.ErrorContext(ctx, "Failed to enqueue mutation",
			"entity", entity, "entity_id", entityID, log.FieldOperation, operation, log.FieldError, err)
	}
}
