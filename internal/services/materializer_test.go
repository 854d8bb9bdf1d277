package services

import (
	"context"
	"errors"
	"testing"

	"centime/internal/core"
)

type fakeTemplateStore struct {
	templates []core.RecurringTemplate
	err       error
}

func (f *fakeTemplateStore) ListActiveTemplates(_ context.Context, _ string) ([]core.RecurringTemplate, error) {
	return f.templates, f.err
}

type fakeExpenseStore struct {
	existing  []core.Expense
	inserted  []core.Expense
	listErr   error
	insertErr error
}

func (f *fakeExpenseStore) ListRecurringExpensesInRange(_ context.Context, _ string, _, _ core.Date) ([]core.Expense, error) {
	return f.existing, f.listErr
}

func (f *fakeExpenseStore) BatchInsertExpenses(_ context.Context, expenses []core.Expense) (int, error) {
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	// Mirror the storage uniqueness constraint: one row per template per month
	seen := make(map[string]bool)
	for _, e := range f.existing {
		seen[e.TemplateID] = true
	}
	inserted := 0
	for _, e := range expenses {
		if seen[e.TemplateID] {
			continue
		}
		seen[e.TemplateID] = true
		f.inserted = append(f.inserted, e)
		inserted++
	}
	return inserted, nil
}

func activeTemplate(id, name string, units int64, day int) core.RecurringTemplate {
	return core.RecurringTemplate{
		ID:         id,
		UserID:     "user-1",
		CategoryID: "cat-1",
		Name:       name,
		Amount:     core.Money{Units: units},
		DayOfMonth: day,
		Active:     true,
	}
}

func TestMaterializer_ProcessMonth(t *testing.T) {
	tests := []struct {
		name          string
		templates     []core.RecurringTemplate
		existing      []core.Expense
		month         string
		wantProcessed int
		wantSuccess   bool
		wantErrCount  int
	}{
		{
			name: "materializes all due templates",
			templates: []core.RecurringTemplate{
				activeTemplate("t1", "Rent", 800, 1),
				activeTemplate("t2", "Gym", 30, 15),
			},
			month:         "2024-03",
			wantProcessed: 2,
			wantSuccess:   true,
		},
		{
			name: "skips templates already materialized",
			templates: []core.RecurringTemplate{
				activeTemplate("t1", "Rent", 800, 1),
				activeTemplate("t2", "Gym", 30, 15),
			},
			existing: []core.Expense{
				{ID: "e1", TemplateID: "t1", IsRecurring: true},
			},
			month:         "2024-03",
			wantProcessed: 1,
			wantSuccess:   true,
		},
		{
			name:          "no active templates",
			month:         "2024-03",
			wantProcessed: 0,
			wantSuccess:   true,
		},
		{
			name: "collects invalid templates without aborting",
			templates: []core.RecurringTemplate{
				activeTemplate("t1", "Rent", 800, 1),
				activeTemplate("t2", "Broken", 0, 15),
			},
			month:         "2024-03",
			wantProcessed: 1,
			wantSuccess:   false,
			wantErrCount:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			templates := &fakeTemplateStore{templates: tt.templates}
			expenses := &fakeExpenseStore{existing: tt.existing}
			m := NewMaterializer(templates, expenses)

			result, err := m.ProcessMonth(context.Background(), "user-1", tt.month)
			if err != nil {
				t.Fatalf("ProcessMonth() error = %v", err)
			}
			if result.ProcessedCount != tt.wantProcessed {
				t.Errorf("ProcessedCount = %d, want %d", result.ProcessedCount, tt.wantProcessed)
			}
			if result.Success != tt.wantSuccess {
				t.Errorf("Success = %v, want %v", result.Success, tt.wantSuccess)
			}
			if len(result.Errors) != tt.wantErrCount {
				t.Errorf("Errors = %v, want %d entries", result.Errors, tt.wantErrCount)
			}
		})
	}
}

func TestMaterializer_ProcessMonth_ClampsDayOfMonth(t *testing.T) {
	tests := []struct {
		name     string
		month    string
		day      int
		wantDate core.Date
	}{
		{
			name:     "day 31 clamps to 30 in April",
			month:    "2024-04",
			day:      31,
			wantDate: core.NewDate(2024, 4, 30),
		},
		{
			name:     "day 31 clamps to 29 in leap February",
			month:    "2024-02",
			day:      31,
			wantDate: core.NewDate(2024, 2, 29),
		},
		{
			name:     "day 30 clamps to 28 in non-leap February",
			month:    "2025-02",
			day:      30,
			wantDate: core.NewDate(2025, 2, 28),
		},
		{
			name:     "day within month is kept",
			month:    "2024-04",
			day:      15,
			wantDate: core.NewDate(2024, 4, 15),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			templates := &fakeTemplateStore{
				templates: []core.RecurringTemplate{activeTemplate("t1", "Rent", 800, tt.day)},
			}
			expenses := &fakeExpenseStore{}
			m := NewMaterializer(templates, expenses)

			result, err := m.ProcessMonth(context.Background(), "user-1", tt.month)
			if err != nil {
				t.Fatalf("ProcessMonth() error = %v", err)
			}
			if result.ProcessedCount != 1 {
				t.Fatalf("ProcessedCount = %d, want 1", result.ProcessedCount)
			}
			if got := expenses.inserted[0].Date; got != tt.wantDate {
				t.Errorf("materialized date = %s, want %s", got, tt.wantDate)
			}
		})
	}
}

func TestMaterializer_ProcessMonth_Idempotent(t *testing.T) {
	templates := &fakeTemplateStore{
		templates: []core.RecurringTemplate{
			activeTemplate("t1", "Rent", 800, 1),
			activeTemplate("t2", "Gym", 30, 15),
		},
	}
	expenses := &fakeExpenseStore{}
	m := NewMaterializer(templates, expenses)

	first, err := m.ProcessMonth(context.Background(), "user-1", "2024-03")
	if err != nil {
		t.Fatalf("first ProcessMonth() error = %v", err)
	}
	if first.ProcessedCount != 2 {
		t.Fatalf("first run processed = %d, want 2", first.ProcessedCount)
	}

	// Second run sees the first run's output
	expenses.existing = expenses.inserted

	second, err := m.ProcessMonth(context.Background(), "user-1", "2024-03")
	if err != nil {
		t.Fatalf("second ProcessMonth() error = %v", err)
	}
	if second.ProcessedCount != 0 {
		t.Errorf("second run processed = %d, want 0", second.ProcessedCount)
	}
	if !second.Success {
		t.Errorf("second run Success = false, want true")
	}
	if len(expenses.inserted) != 2 {
		t.Errorf("total inserted = %d, want 2", len(expenses.inserted))
	}
}

func TestMaterializer_ProcessMonth_MaterializedFields(t *testing.T) {
	templates := &fakeTemplateStore{
		templates: []core.RecurringTemplate{activeTemplate("t1", "Netflix", 15, 5)},
	}
	expenses := &fakeExpenseStore{}
	m := NewMaterializer(templates, expenses)

	if _, err := m.ProcessMonth(context.Background(), "user-1", "2024-06"); err != nil {
		t.Fatalf("ProcessMonth() error = %v", err)
	}

	e := expenses.inserted[0]
	if e.ID == "" {
		t.Error("expense ID not assigned")
	}
	if !e.IsRecurring {
		t.Error("IsRecurring = false, want true")
	}
	if e.TemplateID != "t1" {
		t.Errorf("TemplateID = %q, want t1", e.TemplateID)
	}
	if e.Description != "Netflix" {
		t.Errorf("Description = %q, want template name", e.Description)
	}
	if e.Amount.Units != 15 {
		t.Errorf("Amount = %d, want 15", e.Amount.Units)
	}
}

func TestMaterializer_ProcessMonth_Errors(t *testing.T) {
	t.Run("invalid month format", func(t *testing.T) {
		m := NewMaterializer(&fakeTemplateStore{}, &fakeExpenseStore{})
		_, err := m.ProcessMonth(context.Background(), "user-1", "2024-3")
		if !errors.Is(err, core.ErrInvalidMonth) {
			t.Errorf("error = %v, want ErrInvalidMonth", err)
		}
	})

	t.Run("template listing failure aborts run", func(t *testing.T) {
		m := NewMaterializer(&fakeTemplateStore{err: errors.New("db down")}, &fakeExpenseStore{})
		_, err := m.ProcessMonth(context.Background(), "user-1", "2024-03")
		if err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("batch insert failure surfaces in result", func(t *testing.T) {
		templates := &fakeTemplateStore{
			templates: []core.RecurringTemplate{activeTemplate("t1", "Rent", 800, 1)},
		}
		expenses := &fakeExpenseStore{insertErr: errors.New("disk full")}
		m := NewMaterializer(templates, expenses)

		result, err := m.ProcessMonth(context.Background(), "user-1", "2024-03")
		if err != nil {
			t.Fatalf("ProcessMonth() error = %v", err)
		}
		if result.Success {
			t.Error("Success = true, want false")
		}
		if len(result.Errors) == 0 {
			t.Error("expected batch failure recorded in result")
		}
		if result.ProcessedCount != 0 {
			t.Errorf("ProcessedCount = %d, want 0", result.ProcessedCount)
		}
	})
}
