package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskengine/internal/api/handlers"
	"riskengine/internal/api/middleware"
	"riskengine/internal/service"
	"riskengine/internal/websocket"
	"riskengine/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	RunService       service.RunServiceInterface
	ViolationService service.ViolationServiceInterface
	RuleSetService   service.RuleSetServiceInterface
	CheckService     service.CheckServiceInterface
	Hub              *websocket.Hub

	AuthEnabled    bool
	JWTSecret      string
	AllowedOrigins []string
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /runs/
//	│   ├── POST / - запустить или возобновить прогон
//	│   ├── GET / - последние прогоны
//	│   ├── GET /active - выполняющийся прогон
//	│   ├── POST /active/cancel - прервать прогон
//	│   ├── GET /{id} - прогон с отчётом
//	│   └── GET /{id}/outcomes - исходы счетов
//	├── /violations/
//	│   ├── GET / - нарушения по фильтру
//	│   ├── POST /removals - снять нарушение
//	│   └── GET /removals - аудит снятий
//	├── /rulesets/
//	│   ├── GET / - активные наборы
//	│   ├── POST / - опубликовать версию
//	│   ├── GET /{group} - активный набор группы
//	│   ├── GET /{group}/versions - версии группы
//	│   └── GET /{group}/versions/{version} - конкретная версия
//	└── /accounts/
//	    └── GET /{id}/check - пробная оценка счёта
//
// /ws/stream - WebSocket: ход прогонов и нарушения в реальном времени
// /metrics   - Prometheus
// /health    - проверка живости
//
// Middleware применяется в следующем порядке:
// 1. Logging (для всех маршрутов, присваивает X-Request-ID)
// 2. Recovery (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только /api/v1, если включена)
func SetupRoutes(deps *Dependencies) *mux.Router {
	if deps == nil {
		deps = &Dependencies{}
	}
	log := deps.Logger
	if log == nil {
		log = utils.L()
	}

	router := mux.NewRouter()

	// Глобальные middleware (применяются ко всем маршрутам)
	router.Use(middleware.Logging(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()
	if deps.AuthEnabled {
		api.Use(middleware.Auth(deps.JWTSecret))
	}

	// Run routes
	if deps.RunService != nil {
		runHandler := handlers.NewRunHandler(deps.RunService)
		api.HandleFunc("/runs", runHandler.StartRun).Methods("POST")
		api.HandleFunc("/runs", runHandler.GetRuns).Methods("GET")
		api.HandleFunc("/runs/active", runHandler.GetActiveRun).Methods("GET")
		api.HandleFunc("/runs/active/cancel", runHandler.CancelRun).Methods("POST")
		api.HandleFunc("/runs/{id}", runHandler.GetRun).Methods("GET")
		api.HandleFunc("/runs/{id}/outcomes", runHandler.GetOutcomes).Methods("GET")
	}

	// Violation routes
	if deps.ViolationService != nil {
		violationHandler := handlers.NewViolationHandler(deps.ViolationService)
		api.HandleFunc("/violations", violationHandler.GetViolations).Methods("GET")
		api.HandleFunc("/violations/removals", violationHandler.RemoveViolation).Methods("POST")
		api.HandleFunc("/violations/removals", violationHandler.GetRemovals).Methods("GET")
	}

	// Rule set routes
	if deps.RuleSetService != nil {
		ruleSetHandler := handlers.NewRuleSetHandler(deps.RuleSetService)
		api.HandleFunc("/rulesets", ruleSetHandler.GetRuleSets).Methods("GET")
		api.HandleFunc("/rulesets", ruleSetHandler.PublishRuleSet).Methods("POST")
		api.HandleFunc("/rulesets/{group}", ruleSetHandler.GetActive).Methods("GET")
		api.HandleFunc("/rulesets/{group}/versions", ruleSetHandler.GetVersions).Methods("GET")
		api.HandleFunc("/rulesets/{group}/versions/{version}", ruleSetHandler.GetVersion).Methods("GET")
	}

	// Account routes
	if deps.CheckService != nil {
		accountHandler := handlers.NewAccountHandler(deps.CheckService)
		api.HandleFunc("/accounts/{id}/check", accountHandler.CheckAccount).Methods("GET")
	}

	// WebSocket route
	if deps.Hub != nil {
		hub := deps.Hub
		router.HandleFunc("/ws/stream", func(w http.ResponseWriter, r *http.Request) {
			websocket.ServeWS(hub, w, r)
		})
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
