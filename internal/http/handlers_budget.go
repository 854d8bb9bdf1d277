package http

import (
	"net/http"

	"centime/internal/core"
	"centime/internal/services"
)

type budgetRequest struct {
	CategoryID string `json:"category_id,omitempty"`
	Category   string `json:"category,omitempty"`
	Month      string `json:"month"`
	Amount     string `json:"amount"`
}

type budgetResponse struct {
	CategoryID  string `json:"category_id"`
	Month       string `json:"month"`
	AmountUnits int64  `json:"amount_units"`
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonthParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	budgets, err := s.store.ListBudgets(r.Context(), userID(r), month)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]budgetResponse, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, budgetResponse{
			CategoryID:  b.CategoryID,
			Month:       b.Month.String(),
			AmountUnits: b.Amount.Units,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	month, err := core.ParseMonth(req.Month)
	if err != nil {
		respondError(w, r, err)
		return
	}
	// A zero amount clears the limit, so the stricter expense parser is
	// bypassed for "0"
	var amount core.Money
	if req.Amount != "0" && req.Amount != "" {
		amount, err = core.ParseAmount(req.Amount)
		if err != nil {
			respondError(w, r, err)
			return
		}
	}

	user := userID(r)
	budget, err := s.expenses.SetBudget(r.Context(), user, services.BudgetInput{
		Category: categoryRefFromPayload(req.CategoryID, req.Category),
		Month:    month,
		Amount:   amount,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.invalidateUserCaches(user)
	writeJSON(w, http.StatusOK, budgetResponse{
		CategoryID:  budget.CategoryID,
		Month:       budget.Month.String(),
		AmountUnits: budget.Amount.Units,
	})
}

type suggestionResponse struct {
	Category          string  `json:"category"`
	Name              string  `json:"name"`
	CurrentBudget     int64   `json:"current_budget_units"`
	SuggestedBudget   int64   `json:"suggested_budget_units"`
	AverageSpending   float64 `json:"average_spending"`
	ThreeMonthAverage float64 `json:"three_month_average"`
	LastMonthSpending float64 `json:"last_month_spending"`
	Trend             string  `json:"trend"`
	TrendPercent      float64 `json:"trend_percent"`
	Confidence        string  `json:"confidence"`
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonthParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	suggestions, err := s.advisor.Suggest(r.Context(), userID(r), month)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]suggestionResponse, 0, len(suggestions))
	for _, sg := range suggestions {
		out = append(out, suggestionResponse{
			Category:          sg.Category.Slug,
			Name:              sg.Category.Name,
			CurrentBudget:     sg.CurrentBudget.Units,
			SuggestedBudget:   sg.Suggested.Units,
			AverageSpending:   sg.AverageSpending,
			ThreeMonthAverage: sg.ThreeMonthAverage,
			LastMonthSpending: sg.LastMonthSpending,
			Trend:             string(sg.Trend),
			TrendPercent:      sg.TrendPercent,
			Confidence:        string(sg.Confidence),
		})
	}
	writeJSON(w, http.StatusOK, out)
}
