package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"riskengine/internal/models"
	"riskengine/internal/service"
)

// RuleSetHandler отвечает за наборы правил групп счетов
//
// Endpoints:
// - GET /api/v1/rulesets                             - активные наборы всех групп
// - POST /api/v1/rulesets                            - опубликовать новую версию
// - GET /api/v1/rulesets/{group}                     - активный набор группы
// - GET /api/v1/rulesets/{group}/versions            - все версии группы
// - GET /api/v1/rulesets/{group}/versions/{version}  - конкретная версия
type RuleSetHandler struct {
	ruleSetService service.RuleSetServiceInterface
}

// NewRuleSetHandler создает новый RuleSetHandler с внедрением зависимостей
func NewRuleSetHandler(ruleSetService service.RuleSetServiceInterface) *RuleSetHandler {
	return &RuleSetHandler{ruleSetService: ruleSetService}
}

// RuleSetListResponse список наборов правил
type RuleSetListResponse struct {
	RuleSets []models.RuleSetConfig `json:"rule_sets"`
	Total    int                    `json:"total"`
}

// GetRuleSets возвращает активные наборы всех групп
// GET /api/v1/rulesets
func (h *RuleSetHandler) GetRuleSets(w http.ResponseWriter, r *http.Request) {
	sets, err := h.ruleSetService.List(r.Context(), "")
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, RuleSetListResponse{RuleSets: sets, Total: len(sets)})
}

// GetVersions возвращает все версии группы, новые первыми
// GET /api/v1/rulesets/{group}/versions
func (h *RuleSetHandler) GetVersions(w http.ResponseWriter, r *http.Request) {
	sets, err := h.ruleSetService.List(r.Context(), mux.Vars(r)["group"])
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, RuleSetListResponse{RuleSets: sets, Total: len(sets)})
}

// GetActive возвращает активный набор группы
// GET /api/v1/rulesets/{group}
func (h *RuleSetHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.ruleSetService.Active(r.Context(), mux.Vars(r)["group"])
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

// GetVersion возвращает конкретную версию набора
// GET /api/v1/rulesets/{group}/versions/{version}
func (h *RuleSetHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	version, err := strconv.Atoi(vars["version"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_version", "Invalid version", "version must be a number")
		return
	}

	cfg, err := h.ruleSetService.Version(r.Context(), vars["group"], version)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, cfg)
}

// PublishRuleSet публикует новую версию набора правил группы
// POST /api/v1/rulesets
//
// Тело - полный набор правил (см. models.RuleSetConfig). Поля id,
// version, active и created_at игнорируются.
//
// Response:
// - 201 Created: опубликованная версия
// - 400 Bad Request: ошибки валидации по полям
func (h *RuleSetHandler) PublishRuleSet(w http.ResponseWriter, r *http.Request) {
	var cfg models.RuleSetConfig
	if !decodeBody(w, r, &cfg) {
		return
	}

	published, err := h.ruleSetService.Publish(r.Context(), &cfg)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, published)
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *RuleSetHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrRuleSetNotFound):
		respondWithError(w, http.StatusNotFound, "ruleset_not_found", "Rule set not found", "")

	case errors.Is(err, service.ErrInvalidGroup):
		respondWithError(w, http.StatusBadRequest, "invalid_group", "Invalid account group", err.Error())

	case errors.Is(err, service.ErrInvalidRuleSet):
		respondWithError(w, http.StatusBadRequest, "invalid_ruleset", "Rule set validation failed", err.Error())

	default:
		respondWithError(w, http.StatusInternalServerError, "internal_error", "Internal server error", err.Error())
	}
}
