package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"centime/internal/core"
	"centime/internal/services"
)

type templateRequest struct {
	CategoryID string `json:"category_id,omitempty"`
	Category   string `json:"category,omitempty"`
	Name       string `json:"name"`
	Amount     string `json:"amount"`
	DayOfMonth int    `json:"day_of_month"`
	Active     *bool  `json:"active,omitempty"`
}

type templateResponse struct {
	ID          string `json:"id"`
	CategoryID  string `json:"category_id"`
	Name        string `json:"name"`
	AmountUnits int64  `json:"amount_units"`
	DayOfMonth  int    `json:"day_of_month"`
	Active      bool   `json:"active"`
}

func toTemplateResponse(t core.RecurringTemplate) templateResponse {
	return templateResponse{
		ID:          t.ID,
		CategoryID:  t.CategoryID,
		Name:        t.Name,
		AmountUnits: t.Amount.Units,
		DayOfMonth:  t.DayOfMonth,
		Active:      t.Active,
	}
}

func (req templateRequest) toInput() (services.TemplateInput, error) {
	amount, err := core.ParseAmount(req.Amount)
	if err != nil {
		return services.TemplateInput{}, err
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return services.TemplateInput{
		Category:   categoryRefFromPayload(req.CategoryID, req.Category),
		Name:       sanitizeInput(req.Name),
		Amount:     amount,
		DayOfMonth: req.DayOfMonth,
		Active:     active,
	}, nil
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.recurring.ListTemplates(r.Context(), userID(r))
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]templateResponse, 0, len(templates))
	for _, t := range templates {
		out = append(out, toTemplateResponse(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.toInput()
	if err != nil {
		respondError(w, r, err)
		return
	}

	t, err := s.recurring.CreateTemplate(r.Context(), userID(r), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTemplateResponse(t))
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := req.toInput()
	if err != nil {
		respondError(w, r, err)
		return
	}

	t, err := s.recurring.UpdateTemplate(r.Context(), userID(r), r.PathValue("id"), in)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(t))
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.recurring.DeleteTemplate(r.Context(), userID(r), r.PathValue("id")); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type processRequest struct {
	Month string `json:"month,omitempty"`
}

type processResponse struct {
	Success        bool     `json:"success"`
	ProcessedCount int      `json:"processed_count"`
	Errors         []string `json:"errors,omitempty"`
	Month          string   `json:"month"`
}

func (s *Server) handleProcessMonth(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Month == "" {
		req.Month = core.MonthOf(core.DateOf(time.Now())).String()
	}

	user := userID(r)
	result, err := s.recurring.ProcessMonth(r.Context(), user, req.Month)
	if err != nil {
		respondError(w, r, err)
		return
	}

	if result.ProcessedCount > 0 {
		s.invalidateUserCaches(user)
	}

	writeJSON(w, http.StatusOK, processResponse{
		Success:        result.Success,
		ProcessedCount: result.ProcessedCount,
		Errors:         result.Errors,
		Month:          result.Month.String(),
	})
}

type occurrenceResponse struct {
	Template  templateResponse `json:"template"`
	NextDate  string           `json:"next_date"`
	DaysUntil int              `json:"days_until"`
}

func (s *Server) handleUpcoming(w http.ResponseWriter, r *http.Request) {
	occurrences, err := s.recurring.Upcoming(r.Context(), userID(r), time.Now())
	if err != nil {
		respondError(w, r, err)
		return
	}

	out := make([]occurrenceResponse, 0, len(occurrences))
	for _, o := range occurrences {
		out = append(out, occurrenceResponse{
			Template:  toTemplateResponse(o.Template),
			NextDate:  o.NextDate.String(),
			DaysUntil: o.DaysUntil,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
