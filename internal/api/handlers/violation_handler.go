package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"riskengine/internal/models"
	"riskengine/internal/service"
)

// ViolationHandler отвечает за просмотр и снятие нарушений
//
// Endpoints:
// - GET /api/v1/violations           - нарушения по фильтру
// - POST /api/v1/violations/removals - снять нарушение (ложное срабатывание)
// - GET /api/v1/violations/removals  - аудит снятий
//
// Снятие необратимо: нарушение с теми же доказательствами больше
// не записывается. Оператор берётся из токена.
type ViolationHandler struct {
	violationService service.ViolationServiceInterface
}

// NewViolationHandler создает новый ViolationHandler с внедрением зависимостей
func NewViolationHandler(violationService service.ViolationServiceInterface) *ViolationHandler {
	return &ViolationHandler{violationService: violationService}
}

// ViolationListResponse страница нарушений
type ViolationListResponse struct {
	Violations []models.Violation `json:"violations"`
	Count      int                `json:"count"`
	Limit      int                `json:"limit"`
	Offset     int                `json:"offset"`
}

// RemovalListResponse аудит снятий
type RemovalListResponse struct {
	Removals []models.Removal `json:"removals"`
	Total    int              `json:"total"`
}

// GetViolations возвращает нарушения, новые первыми
// GET /api/v1/violations
//
// Query Parameters:
// - account_id: фильтр по счёту
// - rule_type: фильтр по правилу (max_drawdown, daily_loss, ...)
// - severity: warning, critical, breach
// - run_id: нарушения, записанные прогоном
// - limit, offset: постраничный вывод (limit по умолчанию 100, максимум 1000)
func (h *ViolationHandler) GetViolations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var accountID int64
	if raw := q.Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respondWithError(w, http.StatusBadRequest, "invalid_account_id", "Invalid account ID", "account_id must be a positive number")
			return
		}
		accountID = id
	}

	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", "Invalid limit", "limit must be a number")
		return
	}
	offset, ok := queryInt(r, "offset", 0)
	if !ok || offset < 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_offset", "Invalid offset", "offset must be a non-negative number")
		return
	}

	query := &service.ViolationQuery{
		AccountID: accountID,
		Rule:      q.Get("rule_type"),
		Severity:  q.Get("severity"),
		RunID:     q.Get("run_id"),
		Limit:     limit,
		Offset:    offset,
	}
	violations, err := h.violationService.List(r.Context(), query)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	if limit <= 0 {
		limit = service.DefaultViolationLimit
	}
	if limit > service.MaxViolationLimit {
		limit = service.MaxViolationLimit
	}
	respondWithJSON(w, http.StatusOK, ViolationListResponse{
		Violations: violations,
		Count:      len(violations),
		Limit:      limit,
		Offset:     offset,
	})
}

// RemoveViolation снимает нарушение
// POST /api/v1/violations/removals
//
// Request Body:
//
//	{
//	  "account_id": 42,
//	  "ref": "ticket:1001",
//	  "rule_type": "lot_size",
//	  "reason": "broker confirmed a split fill"
//	}
//
// Response:
// - 201 Created: запись аудита снятия
// - 400 Bad Request: неверный ключ или пустая причина
// - 401 Unauthorized: оператор не определён
// - 404 Not Found: нарушения нет
func (h *ViolationHandler) RemoveViolation(w http.ResponseWriter, r *http.Request) {
	var req service.RemoveViolationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.Operator = operatorFrom(r)

	removal, err := h.violationService.Remove(r.Context(), &req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, removal)
}

// GetRemovals возвращает аудит снятий
// GET /api/v1/violations/removals?account_id=42
func (h *ViolationHandler) GetRemovals(w http.ResponseWriter, r *http.Request) {
	var accountID int64
	if raw := r.URL.Query().Get("account_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_account_id", "Invalid account ID", "account_id must be a number")
			return
		}
		accountID = id
	}

	removals, err := h.violationService.ListRemovals(r.Context(), accountID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, RemovalListResponse{Removals: removals, Total: len(removals)})
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *ViolationHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrViolationNotFound):
		respondWithError(w, http.StatusNotFound, "violation_not_found", "Violation not found", "")

	case errors.Is(err, service.ErrInvalidViolationKey):
		respondWithError(w, http.StatusBadRequest, "invalid_violation_key", "account_id and ref are required", "")

	case errors.Is(err, service.ErrInvalidRuleType):
		respondWithError(w, http.StatusBadRequest, "invalid_rule_type", "Unknown rule type", err.Error())

	case errors.Is(err, service.ErrInvalidSeverity):
		respondWithError(w, http.StatusBadRequest, "invalid_severity", "Unknown severity", err.Error())

	case errors.Is(err, service.ErrInvalidOperator):
		respondWithError(w, http.StatusUnauthorized, "operator_required", "Operator identity is required", "")

	case errors.Is(err, service.ErrReasonRequired):
		respondWithError(w, http.StatusBadRequest, "reason_required", "Removal reason is required", "")

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}
