package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"riskengine/internal/batch"
	"riskengine/internal/models"
	"riskengine/internal/report"
	"riskengine/internal/repository"
	"riskengine/pkg/utils"
)

// Ошибки сервиса прогонов
var (
	ErrRunInProgress     = errors.New("batch run already in progress")
	ErrRunNotActive      = errors.New("no active batch run")
	ErrRunNotFound       = errors.New("batch run not found")
	ErrInvalidSelector   = errors.New("invalid account selector")
	ErrInvalidConcurrent = errors.New("concurrency must be between 0 and 256")
)

// Ограничения списка прогонов
const (
	DefaultRunListLimit = 20
	MaxRunListLimit     = 100
)

// StartRunRequest - параметры запуска прогона из API, CLI или расписания
type StartRunRequest struct {
	Selector    models.Selector `json:"selector"`
	Fresh       bool            `json:"fresh"`
	Concurrency int             `json:"concurrency,omitempty"`
	AsOf        *time.Time      `json:"as_of,omitempty"`
}

// ActiveRun - состояние выполняющегося прогона
type ActiveRun struct {
	RunID     string          `json:"run_id"`
	Selector  models.Selector `json:"selector"`
	Resumed   bool            `json:"resumed"`
	StartedAt time.Time       `json:"started_at"`
}

// RunDetails - прогон вместе с итоговым отчётом
type RunDetails struct {
	Run     *models.BatchRun `json:"run"`
	Summary *report.Summary  `json:"summary,omitempty"`
	Active  bool             `json:"active"`
}

type runHandle struct {
	info   ActiveRun
	cancel context.CancelFunc
	done   chan struct{}
}

// RunService управляет пакетными прогонами.
//
// Одновременно выполняется не больше одного прогона: процессор сам
// распараллеливает работу по счетам, а два прогона одной выборки
// конкурировали бы за чекпоинт. Прогон выполняется в фоне, ход
// рассылается через ProgressBroadcaster.
type RunService struct {
	processor RunProcessor
	runs      RunRepositoryInterface
	events    ProgressBroadcaster
	log       *utils.Logger

	mu     sync.Mutex
	active *runHandle
}

// NewRunService создает новый экземпляр RunService.
//
// events может быть nil.
func NewRunService(processor RunProcessor, runs RunRepositoryInterface, events ProgressBroadcaster) *RunService {
	if events == nil {
		events = noopBroadcaster{}
	}
	return &RunService{
		processor: processor,
		runs:      runs,
		events:    events,
		log:       utils.L().WithComponent("run-service"),
	}
}

// Start запускает прогон в фоне и возвращает его ID.
//
// Возвращает:
// - ErrRunInProgress если прогон уже выполняется
// - ErrInvalidSelector / ErrInvalidConcurrent при неверных параметрах
// - ошибку процессора, если прогон не удалось открыть
func (s *RunService) Start(req *StartRunRequest) (*ActiveRun, error) {
	if req == nil {
		req = &StartRunRequest{}
	}
	if err := validateSelector(req.Selector); err != nil {
		return nil, err
	}
	if req.Concurrency < 0 || req.Concurrency > 256 {
		return nil, ErrInvalidConcurrent
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return nil, ErrRunInProgress
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &runHandle{
		info:   ActiveRun{Selector: req.Selector.Normalize(), StartedAt: time.Now().UTC()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.active = h
	s.mu.Unlock()

	opts := batch.Options{
		Fresh:       req.Fresh,
		Concurrency: req.Concurrency,
		OnProgress:  s.events.BroadcastProgress,
	}
	if req.AsOf != nil {
		opts.AsOf = req.AsOf.UTC()
	}

	ready := make(chan error, 1)
	go s.execute(ctx, h, opts, ready)

	if err := <-ready; err != nil {
		return nil, err
	}

	s.mu.Lock()
	info := h.info
	s.mu.Unlock()
	return &info, nil
}

// execute выполняет прогон; ready получает nil после открытия прогона
// или ошибку, если прогон открыть не удалось
func (s *RunService) execute(ctx context.Context, h *runHandle, opts batch.Options, ready chan<- error) {
	started := false
	opts.OnStart = func(runID string, resumed bool) {
		started = true
		s.mu.Lock()
		h.info.RunID = runID
		h.info.Resumed = resumed
		s.mu.Unlock()
		s.events.BroadcastRunStarted(runID, resumed)
		ready <- nil
	}

	summary, err := s.processor.Run(ctx, h.info.Selector, opts)
	s.release(h)

	if !started {
		if err == nil {
			err = errors.New("batch run finished before it was opened")
		}
		ready <- fmt.Errorf("start batch run: %w", err)
		return
	}

	log := s.log.WithRun(h.info.RunID)
	if summary != nil {
		s.events.BroadcastRunFinished(summary)
	}
	switch {
	case err == nil:
		log.Info("batch run finished")
	case errors.Is(err, batch.ErrRunAborted):
		log.Warn("batch run aborted")
	default:
		log.Error("batch run failed", utils.Err(err))
	}
}

func (s *RunService) release(h *runHandle) {
	s.mu.Lock()
	if s.active == h {
		s.active = nil
	}
	s.mu.Unlock()
	h.cancel()
	close(h.done)
}

// Cancel прерывает выполняющийся прогон.
//
// Начатые счета дорабатываются, прогон сохраняется в статусе aborted
// и может быть возобновлён следующим Start той же выборки.
func (s *RunService) Cancel() error {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		return ErrRunNotActive
	}
	h.cancel()
	return nil
}

// Active возвращает выполняющийся прогон или nil
func (s *RunService) Active() *ActiveRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	info := s.active.info
	return &info
}

// Shutdown прерывает прогон и ждёт сохранения чекпоинта
func (s *RunService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	h := s.active
	s.mu.Unlock()
	if h == nil {
		return nil
	}

	h.cancel()
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetRun возвращает прогон с раскодированным итоговым отчётом
func (s *RunService) GetRun(ctx context.Context, id string) (*RunDetails, error) {
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrRunNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}

	details := &RunDetails{Run: run}
	if len(run.Summary) > 0 {
		summary, err := report.Unmarshal(run.Summary)
		if err != nil {
			return nil, fmt.Errorf("decode summary of run %s: %w", id, err)
		}
		details.Summary = summary
	}

	if active := s.Active(); active != nil && active.RunID == id {
		details.Active = true
	}
	return details, nil
}

// ListRuns возвращает последние прогоны, новые первыми
func (s *RunService) ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error) {
	if limit <= 0 {
		limit = DefaultRunListLimit
	}
	if limit > MaxRunListLimit {
		limit = MaxRunListLimit
	}

	runs, err := s.runs.ListRuns(ctx, limit)
	if err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []models.BatchRun{}
	}
	return runs, nil
}

// ListOutcomes возвращает исходы счетов прогона
func (s *RunService) ListOutcomes(ctx context.Context, runID string) ([]models.AccountOutcome, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	outcomes, err := s.runs.ListOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	if outcomes == nil {
		outcomes = []models.AccountOutcome{}
	}
	return outcomes, nil
}

func validateSelector(sel models.Selector) error {
	if sel.Group != "" {
		if err := utils.ValidateGroup(sel.Group); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSelector, err)
		}
	}
	if sel.Status != "" && !models.IsValidAccountStatus(sel.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSelector, sel.Status)
	}
	for _, id := range sel.AccountIDs {
		if id <= 0 {
			return fmt.Errorf("%w: account id must be positive", ErrInvalidSelector)
		}
	}
	return nil
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastRunStarted(string, bool)     {}
func (noopBroadcaster) BroadcastProgress(batch.Progress)     {}
func (noopBroadcaster) BroadcastRunFinished(*report.Summary) {}
