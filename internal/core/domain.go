package core

import (
	"errors"
	"strings"
)

var (
	ErrInvalidDay      = errors.New("invalid day of month")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrEmptyName       = errors.New("empty name")
	ErrEmptyUser       = errors.New("empty user id")
	ErrEmptyCategory   = errors.New("empty category reference")
	ErrUnknownCategory = errors.New("unknown category")
)

// Category is a spending category. Categories are seeded by migration and
// carry both an opaque storage id and a stable human-readable slug.
type Category struct {
	ID   string
	Slug string
	Name string
}

type categoryRefKind int

const (
	categoryRefNone categoryRefKind = iota
	categoryRefSlug
	categoryRefID
)

// CategoryRef identifies a category either by slug (stable human-readable key)
// or by opaque storage id. The tag is explicit; callers resolve the reference
// at the storage boundary instead of guessing from the string shape.
type CategoryRef struct {
	kind  categoryRefKind
	value string
}

// CategoryBySlug references a category by its slug.
func CategoryBySlug(slug string) CategoryRef {
	return CategoryRef{kind: categoryRefSlug, value: slug}
}

// CategoryByID references a category by its storage id.
func CategoryByID(id string) CategoryRef {
	return CategoryRef{kind: categoryRefID, value: id}
}

// IsSlug reports whether the reference carries a slug.
func (r CategoryRef) IsSlug() bool { return r.kind == categoryRefSlug }

// IsID reports whether the reference carries a storage id.
func (r CategoryRef) IsID() bool { return r.kind == categoryRefID }

// IsZero reports whether the reference is empty.
func (r CategoryRef) IsZero() bool { return r.kind == categoryRefNone || r.value == "" }

// Value returns the raw slug or id.
func (r CategoryRef) Value() string { return r.value }

// Expense is a concrete, dated transaction.
//
// When IsRecurring is true the expense was produced by the materializer and
// TemplateID points at the originating template. The reference is weak: the
// expense survives deletion of the template.
type Expense struct {
	ID          string
	UserID      string
	CategoryID  string
	Amount      Money
	Description string
	Date        Date
	IsRecurring bool
	TemplateID  string
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.UserID) == "" {
		return ErrEmptyUser
	}
	if strings.TrimSpace(e.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if len(e.Description) > 255 {
		return errors.New("description too long (max 255 characters)")
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if e.IsRecurring && e.TemplateID == "" {
		return errors.New("recurring expense without template reference")
	}
	return nil
}

// RecurringTemplate describes an expense that recurs monthly on a fixed day.
// DayOfMonth is always stored in [1,31] regardless of month length; the
// materializer clamps it to the target month.
type RecurringTemplate struct {
	ID         string
	UserID     string
	CategoryID string
	Name       string
	Amount     Money
	DayOfMonth int
	Active     bool
}

func (t RecurringTemplate) Validate() error {
	if strings.TrimSpace(t.UserID) == "" {
		return ErrEmptyUser
	}
	if strings.TrimSpace(t.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if len(strings.TrimSpace(t.Name)) == 0 {
		return ErrEmptyName
	}
	if len(t.Name) > 100 {
		return errors.New("name too long (max 100 characters)")
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if t.DayOfMonth < 1 || t.DayOfMonth > 31 {
		return ErrInvalidDay
	}
	return nil
}

// Budget is a monthly spending limit for one category. At most one budget
// exists per (user, category, month); writes upsert on that composite key.
type Budget struct {
	UserID     string
	CategoryID string
	Month      Month
	Amount     Money
}

func (b Budget) Validate() error {
	if strings.TrimSpace(b.UserID) == "" {
		return ErrEmptyUser
	}
	if strings.TrimSpace(b.CategoryID) == "" {
		return ErrEmptyCategory
	}
	if err := b.Month.Validate(); err != nil {
		return err
	}
	if b.Amount.Units < 0 {
		return ErrInvalidAmount
	}
	return nil
}

// MaterializationResult reports the outcome of one monthly processing run.
// It is ephemeral and never persisted.
type MaterializationResult struct {
	Success        bool
	ProcessedCount int
	Errors         []string
	Month          Month
}
