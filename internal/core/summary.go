package core

// CategorySpend pairs a category with spent and budgeted amounts for a month.
type CategorySpend struct {
	Category Category
	Spent    Money
	Budget   Money
}

// MonthOverview is a compact summary for a specific month: total spent plus
// the per-category spent-versus-budget rows the dashboard renders.
type MonthOverview struct {
	Month      Month
	Total      Money
	ByCategory []CategorySpend
}
