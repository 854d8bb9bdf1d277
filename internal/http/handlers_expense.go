package http

import (
	"net/http"

	"centime/internal/core"
	"centime/internal/services"
)

type expenseRequest struct {
	CategoryID  string `json:"category_id,omitempty"`
	Category    string `json:"category,omitempty"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	Date        string `json:"date"`
}

type expenseResponse struct {
	ID          string `json:"id"`
	CategoryID  string `json:"category_id"`
	AmountUnits int64  `json:"amount_units"`
	Description string `json:"description"`
	Date        string `json:"date"`
	IsRecurring bool   `json:"is_recurring"`
	TemplateID  string `json:"template_id,omitempty"`
}

func toExpenseResponse(e core.Expense) expenseResponse {
	return expenseResponse{
		ID:          e.ID,
		CategoryID:  e.CategoryID,
		AmountUnits: e.Amount.Units,
		Description: e.Description,
		Date:        e.Date.String(),
		IsRecurring: e.IsRecurring,
		TemplateID:  e.TemplateID,
	}
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}

	type categoryResponse struct {
		ID   string `json:"id"`
		Slug string `json:"slug"`
		Name string `json:"name"`
	}
	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryResponse{ID: c.ID, Slug: c.Slug, Name: c.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonthParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	expenses, err := s.store.ListExpensesByMonth(r.Context(), userID(r), month)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]expenseResponse, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseResponse(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		respondError(w, r, err)
		return
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user := userID(r)
	expense, err := s.expenses.CreateExpense(r.Context(), user, services.ExpenseInput{
		Category:    categoryRefFromPayload(req.CategoryID, req.Category),
		Amount:      amount,
		Description: sanitizeInput(req.Description),
		Date:        date,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	s.invalidateUserCaches(user)
	writeJSON(w, http.StatusCreated, toExpenseResponse(expense))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if err := s.expenses.DeleteExpense(r.Context(), user, r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}

	s.invalidateUserCaches(user)
	w.WriteHeader(http.StatusNoContent)
}

type categorySpendResponse struct {
	Category    string `json:"category"`
	Name        string `json:"name"`
	SpentUnits  int64  `json:"spent_units"`
	BudgetUnits int64  `json:"budget_units"`
}

type dashboardResponse struct {
	Month      string                  `json:"month"`
	TotalUnits int64                   `json:"total_units"`
	ByCategory []categorySpendResponse `json:"by_category"`
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	month, err := parseMonthParam(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	user := userID(r)
	cacheKey := user + ":" + month.String()

	overview, ok := s.overviewCache.Get(cacheKey)
	if !ok {
		overview, err = s.store.MonthOverview(r.Context(), user, month)
		if err != nil {
			respondError(w, r, err)
			return
		}
		s.overviewCache.Set(cacheKey, overview)
	}

	out := dashboardResponse{
		Month:      overview.Month.String(),
		TotalUnits: overview.Total.Units,
		ByCategory: make([]categorySpendResponse, 0, len(overview.ByCategory)),
	}
	for _, cs := range overview.ByCategory {
		out.ByCategory = append(out.ByCategory, categorySpendResponse{
			Category:    cs.Category.Slug,
			Name:        cs.Category.Name,
			SpentUnits:  cs.Spent.Units,
			BudgetUnits: cs.Budget.Units,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleOutboxStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.outbox.Stats(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleOutboxRetry(w http.ResponseWriter, r *http.Request) {
	n, err := s.outbox.RetryFailed(r.Context())
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}
