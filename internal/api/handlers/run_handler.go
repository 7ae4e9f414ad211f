package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"riskengine/internal/models"
	"riskengine/internal/service"
)

// RunHandler отвечает за пакетные прогоны
//
// Endpoints:
// - POST /api/v1/runs                 - запуск или возобновление прогона
// - GET /api/v1/runs                  - последние прогоны
// - GET /api/v1/runs/active           - выполняющийся прогон
// - POST /api/v1/runs/active/cancel   - прервать прогон
// - GET /api/v1/runs/{id}             - прогон с итоговым отчётом
// - GET /api/v1/runs/{id}/outcomes    - исходы счетов прогона
type RunHandler struct {
	runService service.RunServiceInterface
}

// NewRunHandler создает новый RunHandler с внедрением зависимостей
func NewRunHandler(runService service.RunServiceInterface) *RunHandler {
	return &RunHandler{runService: runService}
}

// RunListResponse список прогонов
type RunListResponse struct {
	Runs  []models.BatchRun `json:"runs"`
	Total int               `json:"total"`
}

// OutcomeListResponse исходы счетов прогона
type OutcomeListResponse struct {
	RunID    string                  `json:"run_id"`
	Outcomes []models.AccountOutcome `json:"outcomes"`
	Total    int                     `json:"total"`
}

// StartRun запускает прогон в фоне
// POST /api/v1/runs
//
// Request Body (все поля опциональны):
//
//	{
//	  "selector": {"group": "lite", "status": "active", "account_ids": [1, 2]},
//	  "fresh": false,
//	  "concurrency": 16,
//	  "as_of": "2024-03-05T20:00:00Z"
//	}
//
// Response:
// - 202 Accepted: прогон запущен, ход - через /ws/stream
// - 400 Bad Request: невалидная выборка
// - 409 Conflict: прогон уже выполняется
func (h *RunHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req service.StartRunRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}

	active, err := h.runService.Start(&req)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, active)
}

// GetRuns возвращает последние прогоны
// GET /api/v1/runs?limit=20
func (h *RunHandler) GetRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", "Invalid limit", "limit must be a number")
		return
	}

	runs, err := h.runService.ListRuns(r.Context(), limit)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, RunListResponse{Runs: runs, Total: len(runs)})
}

// GetActiveRun возвращает выполняющийся прогон
// GET /api/v1/runs/active
//
// Response:
// - 200 OK: прогон
// - 404 Not Found: активного прогона нет
func (h *RunHandler) GetActiveRun(w http.ResponseWriter, r *http.Request) {
	active := h.runService.Active()
	if active == nil {
		respondWithError(w, http.StatusNotFound, "no_active_run", "No active batch run", "")
		return
	}
	respondWithJSON(w, http.StatusOK, active)
}

// CancelRun прерывает выполняющийся прогон
// POST /api/v1/runs/active/cancel
//
// Response:
// - 202 Accepted: отмена запрошена, прогон сохранится как aborted
// - 404 Not Found: активного прогона нет
func (h *RunHandler) CancelRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runService.Cancel(); err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusAccepted, SuccessResponse{Message: "cancellation requested"})
}

// GetRun возвращает прогон по ID
// GET /api/v1/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	details, err := h.runService.GetRun(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, details)
}

// GetOutcomes возвращает исходы счетов прогона
// GET /api/v1/runs/{id}/outcomes
func (h *RunHandler) GetOutcomes(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	outcomes, err := h.runService.ListOutcomes(r.Context(), id)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, OutcomeListResponse{RunID: id, Outcomes: outcomes, Total: len(outcomes)})
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *RunHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRunInProgress):
		respondWithError(w, http.StatusConflict, "run_in_progress", "A batch run is already in progress", "")

	case errors.Is(err, service.ErrRunNotActive):
		respondWithError(w, http.StatusNotFound, "no_active_run", "No active batch run", "")

	case errors.Is(err, service.ErrRunNotFound):
		respondWithError(w, http.StatusNotFound, "run_not_found", "Batch run not found", "")

	case errors.Is(err, service.ErrInvalidSelector):
		respondWithError(w, http.StatusBadRequest, "invalid_selector", "Invalid account selector", err.Error())

	case errors.Is(err, service.ErrInvalidConcurrent):
		respondWithError(w, http.StatusBadRequest, "invalid_concurrency", "Concurrency must be between 0 and 256", "")

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}
