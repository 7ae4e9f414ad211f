package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"riskengine/internal/risk"
	"riskengine/internal/service"
)

// AccountHandler отвечает за пробную оценку счёта
//
// Endpoints:
// - GET /api/v1/accounts/{id}/check - оценить счёт без записи нарушений
type AccountHandler struct {
	checkService service.CheckServiceInterface
}

// NewAccountHandler создает новый AccountHandler с внедрением зависимостей
func NewAccountHandler(checkService service.CheckServiceInterface) *AccountHandler {
	return &AccountHandler{checkService: checkService}
}

// CheckAccount оценивает счёт по активному набору правил группы
// GET /api/v1/accounts/{id}/check?as_of=2024-03-05T20:00:00Z
//
// Response:
// - 200 OK: снимок equity и найденные нарушения
// - 404 Not Found: счёта или набора правил нет
// - 422 Unprocessable Entity: история сделок противоречива
func (h *AccountHandler) CheckAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "invalid_id", "Invalid account ID", "ID must be a positive number")
		return
	}

	var asOf time.Time
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err = time.Parse(time.RFC3339, raw)
		if err != nil {
			respondWithError(w, http.StatusBadRequest, "invalid_as_of", "Invalid as_of", "as_of must be RFC3339")
			return
		}
	}

	res, err := h.checkService.CheckAccount(r.Context(), id, asOf)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *AccountHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrAccountNotFound):
		respondWithError(w, http.StatusNotFound, "account_not_found", "Account not found", "")

	case errors.Is(err, service.ErrRuleSetNotFound):
		respondWithError(w, http.StatusNotFound, "ruleset_not_found", "No rule set for the account group", "")

	case risk.Classify(err) == risk.ClassDataIntegrity:
		respondWithError(w, http.StatusUnprocessableEntity, "data_integrity", "Account history is inconsistent", err.Error())

	case risk.Classify(err) == risk.ClassConfiguration:
		respondWithError(w, http.StatusUnprocessableEntity, "configuration", "Rule set is invalid", err.Error())

	case risk.IsTransient(err):
		respondWithError(w, http.StatusServiceUnavailable, "unavailable", "Data source temporarily unavailable", err.Error())

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}
