package service

import (
	"context"
	"time"

	"riskengine/internal/batch"
	"riskengine/internal/models"
	"riskengine/internal/registry"
	"riskengine/internal/report"
	"riskengine/internal/repository"
	"riskengine/internal/sink"
	"riskengine/internal/websocket"
)

// RunRepositoryInterface определяет чтение чекпоинтов прогонов
type RunRepositoryInterface interface {
	GetRun(ctx context.Context, id string) (*models.BatchRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error)
	ListOutcomes(ctx context.Context, runID string) ([]models.AccountOutcome, error)
}

// RunProcessor запускает пакетный прогон
type RunProcessor interface {
	Run(ctx context.Context, sel models.Selector, opts batch.Options) (*report.Summary, error)
}

// ProgressBroadcaster рассылает ход прогона операторам
type ProgressBroadcaster interface {
	BroadcastRunStarted(runID string, resumed bool)
	BroadcastProgress(p batch.Progress)
	BroadcastRunFinished(s *report.Summary)
}

// ViolationStoreInterface определяет интерфейс хранилища нарушений с аудитом
type ViolationStoreInterface interface {
	ListViolations(ctx context.Context, f repository.ViolationFilter) ([]models.Violation, error)
	RemoveViolation(ctx context.Context, key models.ViolationKey, operator, reason string) (*models.Removal, error)
	ListRemovals(ctx context.Context, accountID int64) ([]models.Removal, error)
}

// RuleSetRegistryInterface определяет интерфейс реестра наборов правил
type RuleSetRegistryInterface interface {
	Active(ctx context.Context, group string) (*models.RuleSetConfig, error)
	Version(ctx context.Context, group string, version int) (*models.RuleSetConfig, error)
	Publish(ctx context.Context, cfg *models.RuleSetConfig) (*models.RuleSetConfig, error)
	List(ctx context.Context, group string) ([]models.RuleSetConfig, error)
}

// Проверяем, что реальные реализации удовлетворяют интерфейсам
var _ RunRepositoryInterface = (*repository.RunRepository)(nil)
var _ RunRepositoryInterface = (*batch.MemoryRunStore)(nil)
var _ RunProcessor = (*batch.Processor)(nil)
var _ ProgressBroadcaster = (*websocket.Hub)(nil)
var _ ViolationStoreInterface = (*sink.Sink)(nil)
var _ RuleSetRegistryInterface = (*registry.Registry)(nil)

// ============ Интерфейсы сервисов для Dependency Injection ============

// RunServiceInterface определяет интерфейс сервиса прогонов
type RunServiceInterface interface {
	Start(req *StartRunRequest) (*ActiveRun, error)
	Cancel() error
	Active() *ActiveRun
	GetRun(ctx context.Context, id string) (*RunDetails, error)
	ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error)
	ListOutcomes(ctx context.Context, runID string) ([]models.AccountOutcome, error)
}

// ViolationServiceInterface определяет интерфейс сервиса нарушений
type ViolationServiceInterface interface {
	List(ctx context.Context, q *ViolationQuery) ([]models.Violation, error)
	Remove(ctx context.Context, req *RemoveViolationRequest) (*models.Removal, error)
	ListRemovals(ctx context.Context, accountID int64) ([]models.Removal, error)
}

// RuleSetServiceInterface определяет интерфейс сервиса наборов правил
type RuleSetServiceInterface interface {
	List(ctx context.Context, group string) ([]models.RuleSetConfig, error)
	Active(ctx context.Context, group string) (*models.RuleSetConfig, error)
	Version(ctx context.Context, group string, version int) (*models.RuleSetConfig, error)
	Publish(ctx context.Context, cfg *models.RuleSetConfig) (*models.RuleSetConfig, error)
}

// CheckServiceInterface определяет интерфейс пробной оценки счёта
type CheckServiceInterface interface {
	CheckAccount(ctx context.Context, accountID int64, asOf time.Time) (*CheckResult, error)
}

// Проверяем, что реальные сервисы реализуют интерфейсы
var _ RunServiceInterface = (*RunService)(nil)
var _ ViolationServiceInterface = (*ViolationService)(nil)
var _ RuleSetServiceInterface = (*RuleSetService)(nil)
var _ CheckServiceInterface = (*CheckService)(nil)
