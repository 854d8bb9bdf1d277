package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"centime/internal/core"
	"centime/internal/storage"
)

// RecurringService manages recurring templates and exposes the materializer
// and projector over them.
type RecurringService struct {
	storage      *storage.SQLiteRepository
	materializer *Materializer
	horizonDays  int
}

func NewRecurringService(st *storage.SQLiteRepository, horizonDays int) *RecurringService {
	return &RecurringService{
		storage:      st,
		materializer: NewMaterializer(st, st),
		horizonDays:  horizonDays,
	}
}

// TemplateInput carries the fields a caller supplies for a template.
type TemplateInput struct {
	Category   core.CategoryRef
	Name       string
	Amount     core.Money
	DayOfMonth int
	Active     bool
}

// CreateTemplate resolves the category, validates and saves a new template.
func (s *RecurringService) CreateTemplate(ctx context.Context, userID string, in TemplateInput) (core.RecurringTemplate, error) {
	category, err := s.storage.ResolveCategory(ctx, in.Category)
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("create template: %w", err)
	}

	t := core.RecurringTemplate{
		ID:         uuid.NewString(),
		UserID:     userID,
		CategoryID: category.ID,
		Name:       in.Name,
		Amount:     in.Amount,
		DayOfMonth: in.DayOfMonth,
		Active:     in.Active,
	}
	if err := t.Validate(); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("create template: %w", err)
	}

	if err := s.storage.CreateTemplate(ctx, t); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("create template: %w", err)
	}
	return t, nil
}

// UpdateTemplate applies new fields to an existing template. Expenses already
// materialized from it keep their original values.
func (s *RecurringService) UpdateTemplate(ctx context.Context, userID, id string, in TemplateInput) (core.RecurringTemplate, error) {
	category, err := s.storage.ResolveCategory(ctx, in.Category)
	if err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("update template: %w", err)
	}

	t := core.RecurringTemplate{
		ID:         id,
		UserID:     userID,
		CategoryID: category.ID,
		Name:       in.Name,
		Amount:     in.Amount,
		DayOfMonth: in.DayOfMonth,
		Active:     in.Active,
	}
	if err := t.Validate(); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("update template: %w", err)
	}

	if err := s.storage.UpdateTemplate(ctx, t); err != nil {
		return core.RecurringTemplate{}, fmt.Errorf("update template: %w", err)
	}
	return t, nil
}

// DeleteTemplate removes a template without touching its past expenses.
func (s *RecurringService) DeleteTemplate(ctx context.Context, userID, id string) error {
	if err := s.storage.DeleteTemplate(ctx, userID, id); err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	return nil
}

// ListTemplates returns all of the user's templates.
func (s *RecurringService) ListTemplates(ctx context.Context, userID string) ([]core.RecurringTemplate, error) {
	return s.storage.ListTemplates(ctx, userID)
}

// ProcessMonth materializes the user's due templates for the given month.
func (s *RecurringService) ProcessMonth(ctx context.Context, userID, monthKey string) (core.MaterializationResult, error) {
	return s.materializer.ProcessMonth(ctx, userID, monthKey)
}

// Upcoming projects the next occurrence of each active template within the
// configured horizon, seen from now.
func (s *RecurringService) Upcoming(ctx context.Context, userID string, now time.Time) ([]Occurrence, error) {
	templates, err := s.storage.ListActiveTemplates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("upcoming occurrences for user %s: %w", userID, err)
	}
	return UpcomingOccurrences(templates, core.DateOf(now), s.horizonDays), nil
}
