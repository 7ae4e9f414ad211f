package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"riskengine/internal/api"
	"riskengine/internal/batch"
	"riskengine/internal/config"
	"riskengine/internal/registry"
	"riskengine/internal/repository"
	"riskengine/internal/service"
	"riskengine/internal/sink"
	"riskengine/internal/websocket"
	"riskengine/pkg/ratelimit"
	"riskengine/pkg/retry"
	"riskengine/pkg/utils"
)

// App собирает движок поверх Postgres: реестр, sink, процессор,
// сервисы и HTTP сервер. Используется cmd/server и riskctl serve.
type App struct {
	cfg *config.Config
	log *utils.Logger
	db  *sql.DB

	Registry  *registry.Registry
	Sink      *sink.Sink
	Processor *batch.Processor
	Hub       *websocket.Hub

	Runs       *service.RunService
	Violations *service.ViolationService
	RuleSets   *service.RuleSetService
	Check      *service.CheckService

	kafka *sink.KafkaPublisher
}

// OpenDB создает подключение к базе данных и проверяет его
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// ProcessorConfig переводит конфигурацию окружения в параметры процессора
func ProcessorConfig(cfg *config.Config) batch.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Batch.MaxAttempts
	rc.BaseDelay = cfg.Batch.RetryBaseDelay
	rc.MaxDelay = cfg.Batch.RetryMaxDelay

	return batch.Config{
		Concurrency: cfg.Batch.Concurrency,
		PageSize:    cfg.Batch.PageSize,
		Retry:       rc,
		Breaker: batch.BreakerConfig{
			Window:             cfg.Breaker.Window,
			Threshold:          cfg.Breaker.Threshold,
			CoolDown:           cfg.Breaker.CoolDown,
			CoolDownMultiplier: cfg.Breaker.CoolDownMultiplier,
			MaxCoolDown:        cfg.Breaker.MaxCoolDown,
			ProbeSize:          cfg.Breaker.ProbeSize,
		},
	}
}

// New подключается к базе, применяет схему и собирает компоненты
func New(ctx context.Context, cfg *config.Config, log *utils.Logger) (*App, error) {
	db, err := OpenDB(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	log.Info("connected to database", utils.Component("app"))

	if cfg.Database.Migrate {
		if err := repository.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	a, err := Build(cfg, db, log)
	if err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

// Build собирает компоненты поверх открытой базы
func Build(cfg *config.Config, db *sql.DB, log *utils.Logger) (*App, error) {
	a := &App{cfg: cfg, log: log.WithComponent("app"), db: db}

	// Инициализация репозиториев
	accountRepo := repository.NewAccountRepository(db)
	tradeRepo := repository.NewTradeRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)
	ruleSetRepo := repository.NewRuleSetRepository(db)
	runRepo := repository.NewRunRepository(db)
	violationRepo := repository.NewViolationRepository(db)

	var limiter *ratelimit.RateLimiter
	if cfg.Batch.RateLimit > 0 {
		limiter = ratelimit.NewRateLimiter(cfg.Batch.RateLimit, float64(cfg.Batch.RateBurst))
	}
	source := batch.NewRepositorySource(accountRepo, tradeRepo, calendarRepo, limiter)

	a.Registry = registry.New(ruleSetRepo,
		registry.WithLogger(log),
		registry.WithCacheTTL(cfg.Batch.RuleSetCacheTTL),
	)

	// События нарушений: операторам через WebSocket, downstream через Kafka
	a.Hub = websocket.NewHub()
	a.Hub.SetAllowedOrigins(cfg.Server.AllowedOrigins)
	publishers := []sink.Publisher{a.Hub}
	if cfg.Kafka.Enabled {
		kp, err := sink.NewKafkaPublisher(sink.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			WriteTimeout: cfg.Kafka.WriteTimeout,
			MaxAttempts:  cfg.Kafka.MaxAttempts,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		a.kafka = kp
		publishers = append(publishers, kp)
	}
	a.Sink = sink.New(violationRepo, sink.Multi(publishers...), log)

	a.Processor = batch.NewProcessor(ProcessorConfig(cfg), source, a.Registry, a.Sink, runRepo, batch.WithLogger(log))

	// Инициализация сервисов
	a.Runs = service.NewRunService(a.Processor, runRepo, a.Hub)
	a.Violations = service.NewViolationService(a.Sink)
	a.RuleSets = service.NewRuleSetService(a.Registry)
	a.Check = service.NewCheckService(source, a.Registry, nil)

	return a, nil
}

// Handler возвращает HTTP роутер приложения
func (a *App) Handler() http.Handler {
	return api.SetupRoutes(&api.Dependencies{
		RunService:       a.Runs,
		ViolationService: a.Violations,
		RuleSetService:   a.RuleSets,
		CheckService:     a.Check,
		Hub:              a.Hub,
		AuthEnabled:      a.cfg.Security.AuthEnabled,
		JWTSecret:        a.cfg.Security.JWTSecret,
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		Logger:           a.log,
	})
}

// Serve запускает HTTP сервер и расписание до отмены ctx
//
// При отмене прерывает выполняющийся прогон (чекпоинт сохраняется)
// и останавливает сервер с таймаутом 30 секунд.
func (a *App) Serve(ctx context.Context) error {
	go a.Hub.Run()
	defer a.Hub.Stop()

	server := &http.Server{
		Addr:         a.cfg.Server.Addr(),
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	if a.cfg.Schedule.Enabled {
		sched := NewScheduler(a.Runs, a.cfg.Schedule.Interval, a.cfg.Schedule.Group, a.log)
		go sched.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info("starting server", zap.String("addr", server.Addr), zap.Bool("https", a.cfg.Server.UseHTTPS))
		var err error
		if a.cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(a.cfg.Server.CertFile, a.cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.Runs.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("batch run did not stop in time", utils.Err(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	a.log.Info("server exited")
	return nil
}

// Close освобождает ресурсы: продюсер Kafka и соединения с базой
func (a *App) Close() error {
	var errs []error
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka: %w", err))
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}
