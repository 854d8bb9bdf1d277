package services

import (
	"context"
	"fmt"
	"math"
	"sort"

	"centime/internal/core"
)

// Trend describes the direction of recent spending in a category.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Confidence grades a suggestion by how much history backs it.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// trendThresholdPct is the minimum relative shift between the earlier and
// later halves of the recent window before a trend is declared.
const trendThresholdPct = 10.0

// MonthlySpend is one category's total for one month.
type MonthlySpend struct {
	Month core.Month
	Total core.Money
}

// Analysis is the outcome of the suggestion heuristic for one category,
// before it is joined with the category and its current budget.
type Analysis struct {
	AverageSpending   float64
	LastMonthSpending float64
	ThreeMonthAverage float64
	Suggested         core.Money
	Trend             Trend
	TrendPercent      float64
	Confidence        Confidence
}

// Suggestion is a budget recommendation for one category.
type Suggestion struct {
	Category      core.Category
	CurrentBudget core.Money
	Analysis
}

// Analyze runs the suggestion heuristic over a category's monthly history,
// seen from the reference month.
//
// The base figure is the average of the three months before ref, falling back
// to the all-history average of spending months when the recent window is
// empty. A trend is read off the recent window by comparing its earlier and
// later halves; the suggested budget buffers the base by 15% when spending is
// rising, 5% when falling, 10% when stable, and 20% on the all-history
// fallback, then rounds up to the next multiple of ten. Confidence follows
// the number of months with any spending: six or more is high, three or more
// is medium, fewer is low.
func Analyze(history []MonthlySpend, ref core.Month) Analysis {
	var a Analysis
	a.Trend = TrendStable
	a.Confidence = ConfidenceLow

	sorted := make([]MonthlySpend, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Month.Before(sorted[j].Month) })

	spendingMonths := 0
	var total float64
	for _, ms := range sorted {
		if ms.Total.Units > 0 {
			spendingMonths++
			total += ms.Total.Float()
		}
	}
	if spendingMonths > 0 {
		a.AverageSpending = total / float64(spendingMonths)
	}

	lastMonth := ref.AddMonths(-1)
	cutoff := ref.AddMonths(-3)
	var recent []float64
	for _, ms := range sorted {
		if ms.Month == lastMonth {
			a.LastMonthSpending = ms.Total.Float()
		}
		if ms.Total.Units > 0 && !ms.Month.Before(cutoff) && ms.Month.Before(ref) {
			recent = append(recent, ms.Total.Float())
		}
	}

	a.ThreeMonthAverage = a.AverageSpending
	if len(recent) > 0 {
		var sum float64
		for _, v := range recent {
			sum += v
		}
		a.ThreeMonthAverage = sum / float64(len(recent))
	}

	if len(recent) >= 2 {
		half := len(recent) / 2
		earlier := mean(recent[:half])
		later := mean(recent[half:])
		if earlier > 0 {
			a.TrendPercent = (later - earlier) / earlier * 100
			if a.TrendPercent >= trendThresholdPct {
				a.Trend = TrendIncreasing
			} else if a.TrendPercent <= -trendThresholdPct {
				a.Trend = TrendDecreasing
			}
		}
	}

	var suggested float64
	switch {
	case len(recent) > 0 && a.ThreeMonthAverage > 0:
		switch a.Trend {
		case TrendIncreasing:
			suggested = a.ThreeMonthAverage * 1.15
		case TrendDecreasing:
			suggested = a.ThreeMonthAverage * 1.05
		default:
			suggested = a.ThreeMonthAverage * 1.10
		}
	case a.AverageSpending > 0:
		suggested = a.AverageSpending * 1.20
	}
	a.Suggested = core.Money{Units: roundUpToTen(suggested)}

	if spendingMonths >= 6 {
		a.Confidence = ConfidenceHigh
	} else if spendingMonths >= 3 {
		a.Confidence = ConfidenceMedium
	}

	return a
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// roundUpToTen rounds up to the next multiple of ten. The epsilon absorbs
// float noise from the buffer multiplication so 100*1.10 lands on 110, not 120.
func roundUpToTen(v float64) int64 {
	if v <= 0 {
		return 0
	}
	return int64(math.Ceil(v/10-1e-9)) * 10
}

// AdvisorStore is the slice of storage the advisor reads from.
type AdvisorStore interface {
	ListCategories(ctx context.Context) ([]core.Category, error)
	ListExpensesByCategory(ctx context.Context, userID, categoryID string, from, to core.Date) ([]core.Expense, error)
	ListBudgets(ctx context.Context, userID string, month core.Month) ([]core.Budget, error)
}

// BudgetAdvisor assembles per-category budget suggestions from stored history.
type BudgetAdvisor struct {
	store AdvisorStore
}

func NewBudgetAdvisor(store AdvisorStore) *BudgetAdvisor {
	return &BudgetAdvisor{store: store}
}

// Suggest analyzes every category for the user and returns suggestions for
// those with either past spending or an existing budget, largest suggested
// amount first.
func (s *BudgetAdvisor) Suggest(ctx context.Context, userID string, ref core.Month) ([]Suggestion, error) {
	categories, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("suggest budgets for user %s: %w", userID, err)
	}

	budgets, err := s.store.ListBudgets(ctx, userID, ref)
	if err != nil {
		return nil, fmt.Errorf("suggest budgets for user %s: %w", userID, err)
	}
	currentByCategory := make(map[string]core.Money, len(budgets))
	for _, b := range budgets {
		currentByCategory[b.CategoryID] = b.Amount
	}

	var suggestions []Suggestion
	for _, category := range categories {
		expenses, err := s.store.ListExpensesByCategory(ctx, userID, category.ID, core.Date{}, ref.AddMonths(-1).Last())
		if err != nil {
			return nil, fmt.Errorf("load history for category %s: %w", category.Slug, err)
		}

		byMonth := make(map[core.Month]int64)
		for _, e := range expenses {
			byMonth[core.MonthOf(e.Date)] += e.Amount.Units
		}
		history := make([]MonthlySpend, 0, len(byMonth))
		for m, units := range byMonth {
			history = append(history, MonthlySpend{Month: m, Total: core.Money{Units: units}})
		}

		sg := Suggestion{
			Category:      category,
			CurrentBudget: currentByCategory[category.ID],
			Analysis:      Analyze(history, ref),
		}
		if sg.AverageSpending <= 0 && sg.CurrentBudget.Units <= 0 {
			continue
		}
		suggestions = append(suggestions, sg)
	}

	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Suggested.Units != suggestions[j].Suggested.Units {
			return suggestions[i].Suggested.Units > suggestions[j].Suggested.Units
		}
		return suggestions[i].Category.Name < suggestions[j].Category.Name
	})
	return suggestions, nil
}
