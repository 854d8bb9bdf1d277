package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"centime/internal/services"
	"centime/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	recurring := services.NewRecurringService(repo, 30)
	expenses := services.NewExpenseService(repo)
	advisor := services.NewBudgetAdvisor(repo)
	outbox := services.NewOutboxProcessor(repo, nil, services.DefaultOutboxProcessorConfig())

	srv := NewServer(":0", repo, recurring, expenses, advisor, outbox)
	t.Cleanup(func() {
		srv.cacheManager.Stop()
		srv.rateLimiter.stop()
	})
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-User-ID", "user-1")

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rr.Code)
		}
	}
}

func TestMissingUserHeader(t *testing.T) {
	srv := newTestServer(t)

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/recurring", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rr.Code)
	}
}

func TestListCategories(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/api/categories", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var categories []map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &categories); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(categories) == 0 {
		t.Fatal("no seeded categories returned")
	}
}

func TestTemplateLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/recurring",
		`{"category":"housing","name":"Rent","amount":"800","day_of_month":1}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var created templateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.AmountUnits != 800 || !created.Active {
		t.Errorf("created = %+v, want amount 800 active", created)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/recurring", "")
	var listed []templateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("listed %d templates, want 1", len(listed))
	}

	rr = doRequest(t, srv, http.MethodPut, "/api/recurring/"+created.ID,
		`{"category":"housing","name":"Rent","amount":"850","day_of_month":2,"active":false}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodDelete, "/api/recurring/"+created.ID, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodDelete, "/api/recurring/"+created.ID, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want 404", rr.Code)
	}
}

func TestTemplateValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{
			name: "invalid amount",
			body: `{"category":"housing","name":"Rent","amount":"abc","day_of_month":1}`,
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "unknown category",
			body: `{"category":"nope","name":"Rent","amount":"800","day_of_month":1}`,
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "day out of range",
			body: `{"category":"housing","name":"Rent","amount":"800","day_of_month":32}`,
			want: http.StatusUnprocessableEntity,
		},
		{
			name: "malformed json",
			body: `{`,
			want: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := doRequest(t, srv, http.MethodPost, "/api/recurring", tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestProcessMonthIdempotent(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/recurring",
		`{"category":"subscriptions","name":"Netflix","amount":"15","day_of_month":31}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create template: %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodPost, "/api/recurring/process", `{"month":"2024-02"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("process status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var first processResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &first); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !first.Success || first.ProcessedCount != 1 {
		t.Fatalf("first run = %+v, want success with 1 processed", first)
	}

	// Same month again is a no-op
	rr = doRequest(t, srv, http.MethodPost, "/api/recurring/process", `{"month":"2024-02"}`)
	var second processResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !second.Success || second.ProcessedCount != 0 {
		t.Fatalf("second run = %+v, want success with 0 processed", second)
	}

	// Day 31 clamps to leap-February 29th
	rr = doRequest(t, srv, http.MethodGet, "/api/expenses?month=2024-02", "")
	var expenses []expenseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &expenses); err != nil {
		t.Fatalf("decode expenses: %v", err)
	}
	if len(expenses) != 1 {
		t.Fatalf("expenses = %d, want 1", len(expenses))
	}
	if expenses[0].Date != "2024-02-29" {
		t.Errorf("materialized date = %s, want 2024-02-29", expenses[0].Date)
	}
	if !expenses[0].IsRecurring {
		t.Error("materialized expense not flagged recurring")
	}
}

func TestProcessMonthInvalidInput(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/recurring/process", `{"month":"2024-13"}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestExpenseAndDashboard(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/expenses",
		`{"category":"daily","amount":"42,50","description":"Groceries","date":"2024-06-10"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create expense status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var expense expenseResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &expense); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// 42,50 rounds half-up to 43 whole units
	if expense.AmountUnits != 43 {
		t.Errorf("amount = %d, want 43", expense.AmountUnits)
	}

	rr = doRequest(t, srv, http.MethodPut, "/api/budgets",
		`{"category":"daily","month":"2024-06","amount":"200"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("set budget status = %d, body = %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/dashboard?month=2024-06", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("dashboard status = %d", rr.Code)
	}
	var dash dashboardResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &dash); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if dash.TotalUnits != 43 {
		t.Errorf("dashboard total = %d, want 43", dash.TotalUnits)
	}
	if len(dash.ByCategory) != 1 || dash.ByCategory[0].Category != "daily" {
		t.Fatalf("dashboard categories = %+v, want daily only", dash.ByCategory)
	}
	if dash.ByCategory[0].BudgetUnits != 200 {
		t.Errorf("dashboard budget = %d, want 200", dash.ByCategory[0].BudgetUnits)
	}

	rr = doRequest(t, srv, http.MethodDelete, "/api/expenses/"+expense.ID, "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete expense status = %d", rr.Code)
	}

	// Cache was invalidated by the delete
	rr = doRequest(t, srv, http.MethodGet, "/api/dashboard?month=2024-06", "")
	if err := json.Unmarshal(rr.Body.Bytes(), &dash); err != nil {
		t.Fatalf("decode dashboard: %v", err)
	}
	if dash.TotalUnits != 0 {
		t.Errorf("dashboard total after delete = %d, want 0", dash.TotalUnits)
	}
}

func TestSuggestions(t *testing.T) {
	srv := newTestServer(t)

	for _, date := range []string{"2024-03-05", "2024-04-05", "2024-05-05"} {
		rr := doRequest(t, srv, http.MethodPost, "/api/expenses",
			`{"category":"leisure","amount":"100","description":"Cinema","date":"`+date+`"}`)
		if rr.Code != http.StatusCreated {
			t.Fatalf("seed expense status = %d", rr.Code)
		}
	}

	rr := doRequest(t, srv, http.MethodGet, "/api/budgets/suggestions?month=2024-06", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("suggestions status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var suggestions []suggestionResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &suggestions); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(suggestions) != 1 {
		t.Fatalf("suggestions = %d, want 1", len(suggestions))
	}
	sg := suggestions[0]
	if sg.Category != "leisure" {
		t.Errorf("category = %s, want leisure", sg.Category)
	}
	// 100/month stable gets a 10 percent buffer
	if sg.SuggestedBudget != 110 {
		t.Errorf("suggested = %d, want 110", sg.SuggestedBudget)
	}
	if sg.Trend != string(services.TrendStable) {
		t.Errorf("trend = %s, want stable", sg.Trend)
	}
	if sg.Confidence != string(services.ConfidenceMedium) {
		t.Errorf("confidence = %s, want medium", sg.Confidence)
	}
}

func TestUpcoming(t *testing.T) {
	srv := newTestServer(t)

	// Pick a day guaranteed to land within the horizon from any test date
	day := time.Now().Day() + 1
	if day > 28 {
		day = 1
	}
	rr := doRequest(t, srv, http.MethodPost, "/api/recurring",
		fmt.Sprintf(`{"category":"housing","name":"Rent","amount":"800","day_of_month":%d}`, day))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create template: %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/recurring/upcoming", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("upcoming status = %d", rr.Code)
	}

	var occurrences []occurrenceResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &occurrences); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(occurrences) != 1 {
		t.Fatalf("occurrences = %d, want 1", len(occurrences))
	}
	if occurrences[0].DaysUntil < 1 {
		t.Errorf("days_until = %d, want at least 1", occurrences[0].DaysUntil)
	}
}

func TestOutboxStats(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/api/expenses",
		`{"category":"daily","amount":"10","description":"Coffee","date":"2024-06-10"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create expense: %d", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/api/outbox/stats", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats status = %d", rr.Code)
	}
	var stats storage.OutboxStats
	if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Pending != 1 {
		t.Errorf("pending = %d, want 1 (mutation recorded)", stats.Pending)
	}
}
