package handlers

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"riskengine/internal/api/middleware"
	"riskengine/internal/models"
	"riskengine/internal/service"
)

// ============ ViolationHandler Tests ============

func TestViolationHandler_GetViolations(t *testing.T) {
	t.Run("passes filter to service", func(t *testing.T) {
		mockSvc := NewMockViolationService()
		mockSvc.violations = []models.Violation{
			{ID: 1, AccountID: 42, Ref: "ticket:1", Rule: models.RuleLotSize, Severity: models.SeverityWarning},
		}
		handler := NewViolationHandler(mockSvc)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/violations?account_id=42&rule_type=lot_size&severity=warning&run_id=01HRUN&limit=10&offset=5", nil)
		w := httptest.NewRecorder()

		handler.GetViolations(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
		}

		q := mockSvc.lastQuery
		if q.AccountID != 42 || q.Rule != "lot_size" || q.Severity != "warning" || q.RunID != "01HRUN" {
			t.Errorf("unexpected query: %+v", q)
		}
		if q.Limit != 10 || q.Offset != 5 {
			t.Errorf("expected limit 10 offset 5, got %d %d", q.Limit, q.Offset)
		}

		var resp ViolationListResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Count != 1 || resp.Limit != 10 {
			t.Errorf("unexpected response: %+v", resp)
		}
	})

	t.Run("reports effective default limit", func(t *testing.T) {
		handler := NewViolationHandler(NewMockViolationService())

		w := httptest.NewRecorder()
		handler.GetViolations(w, httptest.NewRequest(http.MethodGet, "/api/v1/violations", nil))

		var resp ViolationListResponse
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if resp.Limit != service.DefaultViolationLimit {
			t.Errorf("expected limit %d, got %d", service.DefaultViolationLimit, resp.Limit)
		}
	})

	badRequests := []struct {
		name  string
		query string
	}{
		{"non-numeric account", "account_id=abc"},
		{"zero account", "account_id=0"},
		{"bad limit", "limit=x"},
		{"negative offset", "offset=-1"},
	}
	for _, tt := range badRequests {
		t.Run("returns 400 for "+tt.name, func(t *testing.T) {
			handler := NewViolationHandler(NewMockViolationService())

			w := httptest.NewRecorder()
			handler.GetViolations(w, httptest.NewRequest(http.MethodGet, "/api/v1/violations?"+tt.query, nil))

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
			}
		})
	}

	t.Run("maps unknown rule type to 400", func(t *testing.T) {
		mockSvc := NewMockViolationService()
		mockSvc.listErr = service.ErrInvalidRuleType
		handler := NewViolationHandler(mockSvc)

		w := httptest.NewRecorder()
		handler.GetViolations(w, httptest.NewRequest(http.MethodGet, "/api/v1/violations?rule_type=bogus", nil))

		if w.Code != http.StatusBadRequest {
			t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
		}
	})
}

func TestViolationHandler_RemoveViolation(t *testing.T) {
	body := []byte(`{"account_id":42,"ref":"ticket:1001","rule_type":"lot_size","reason":"split fill"}`)

	t.Run("operator from token", func(t *testing.T) {
		mockSvc := NewMockViolationService()
		handler := NewViolationHandler(mockSvc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/violations/removals", bytes.NewReader(body))
		req = req.WithContext(middleware.WithOperator(req.Context(), "alice"))
		// Заголовок не должен перекрывать токен
		req.Header.Set("X-Operator", "mallory")
		w := httptest.NewRecorder()

		handler.RemoveViolation(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, w.Code, w.Body.String())
		}
		if mockSvc.lastRemove.Operator != "alice" {
			t.Errorf("expected operator alice, got %q", mockSvc.lastRemove.Operator)
		}
		if mockSvc.lastRemove.Rule != "lot_size" || mockSvc.lastRemove.AccountID != 42 {
			t.Errorf("unexpected request: %+v", mockSvc.lastRemove)
		}
	})

	t.Run("operator from header without auth", func(t *testing.T) {
		mockSvc := NewMockViolationService()
		handler := NewViolationHandler(mockSvc)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/violations/removals", bytes.NewReader(body))
		req.Header.Set("X-Operator", "bob")
		w := httptest.NewRecorder()

		handler.RemoveViolation(w, req)

		if w.Code != http.StatusCreated {
			t.Fatalf("expected status %d, got %d", http.StatusCreated, w.Code)
		}
		if mockSvc.lastRemove.Operator != "bob" {
			t.Errorf("expected operator bob, got %q", mockSvc.lastRemove.Operator)
		}
	})

	t.Run("returns 401 without operator", func(t *testing.T) {
		handler := NewViolationHandler(NewMockViolationService())

		w := httptest.NewRecorder()
		handler.RemoveViolation(w, httptest.NewRequest(http.MethodPost, "/api/v1/violations/removals", bytes.NewReader(body)))

		if w.Code != http.StatusUnauthorized {
			t.Errorf("expected status %d, got %d", http.StatusUnauthorized, w.Code)
		}
	})

	errCases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", service.ErrViolationNotFound, http.StatusNotFound},
		{"missing reason", service.ErrReasonRequired, http.StatusBadRequest},
		{"bad key", service.ErrInvalidViolationKey, http.StatusBadRequest},
		{"storage failure", ErrMockDatabase, http.StatusInternalServerError},
	}
	for _, tt := range errCases {
		t.Run("maps "+tt.name, func(t *testing.T) {
			mockSvc := NewMockViolationService()
			mockSvc.removeErr = tt.err
			handler := NewViolationHandler(mockSvc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/violations/removals", bytes.NewReader(body))
			req.Header.Set("X-Operator", "bob")
			w := httptest.NewRecorder()

			handler.RemoveViolation(w, req)

			if w.Code != tt.want {
				t.Errorf("expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestViolationHandler_GetRemovals(t *testing.T) {
	mockSvc := NewMockViolationService()
	mockSvc.removals = []models.Removal{{ID: "rm-1", AccountID: 42, Operator: "alice"}}
	handler := NewViolationHandler(mockSvc)

	w := httptest.NewRecorder()
	handler.GetRemovals(w, httptest.NewRequest(http.MethodGet, "/api/v1/violations/removals?account_id=42", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	var resp RemovalListResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Total != 1 {
		t.Errorf("expected 1 removal, got %d", resp.Total)
	}

	w = httptest.NewRecorder()
	handler.GetRemovals(w, httptest.NewRequest(http.MethodGet, "/api/v1/violations/removals?account_id=x", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}
