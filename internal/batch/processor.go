package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"riskengine/internal/models"
	"riskengine/internal/registry"
	"riskengine/internal/report"
	"riskengine/internal/repository"
	"riskengine/internal/risk"
	"riskengine/internal/sink"
	"riskengine/pkg/id"
	"riskengine/pkg/retry"
	"riskengine/pkg/utils"
)

// ============================================================
// Batch Risk Processor
// ============================================================
//
// Один диспетчер и пул из Concurrency воркеров.
//
// Диспетчер единственный владеет breaker'ом, курсором и отчётом:
// он выдаёт ID счетов по возрастанию, принимает исходы и после
// каждого исхода сохраняет чекпоинт. Курсор - нижняя граница:
// все ID <= cursor обработаны, даже если воркеры завершают счета
// не по порядку.
//
// Воркер загружает счёт и сделки, восстанавливает состояние,
// оценивает правила и записывает нарушения одной транзакцией.
// Начатый счёт доводится до конца даже после отмены прогона.

// ErrRunAborted - прогон прерван и может быть возобновлён
var ErrRunAborted = errors.New("batch run aborted")

// probePoll - интервал проверки breaker'а, пока пробы в работе
const probePoll = 50 * time.Millisecond

// RunStore - чекпоинты прогонов
type RunStore interface {
	CreateRun(ctx context.Context, run *models.BatchRun) error
	FindResumable(ctx context.Context, selectorKey string) (*models.BatchRun, error)
	ReopenRun(ctx context.Context, id string, total int) error
	SaveProgress(ctx context.Context, runID string, outcome *models.AccountOutcome, cursor int64, breaker models.BreakerSnapshot) error
	FinishRun(ctx context.Context, runID, status string, cursor int64, breaker models.BreakerSnapshot, summary []byte) error
	ListOutcomes(ctx context.Context, runID string) ([]models.AccountOutcome, error)
}

var _ RunStore = (*repository.RunRepository)(nil)

// Recorder - запись нарушений счёта
type Recorder interface {
	RecordViolations(ctx context.Context, accountID int64, candidates []models.Violation, meta sink.Meta) (*sink.RecordResult, error)
}

var _ Recorder = (*sink.Sink)(nil)

// Config - параметры процессора
type Config struct {
	Concurrency int
	PageSize    int // размер страницы ID счетов
	Retry       retry.Config
	Breaker     BreakerConfig
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		PageSize:    500,
		Retry:       retry.DefaultConfig(),
		Breaker:     DefaultBreakerConfig(),
	}
}

// Options - параметры одного прогона
type Options struct {
	Concurrency int       // 0 = из Config
	Fresh       bool      // не возобновлять незавершённый прогон
	AsOf        time.Time // момент оценки; zero = время старта
	OnStart     func(runID string, resumed bool)
	OnProgress  func(Progress)
}

// Progress - событие завершения счёта в прогоне
type Progress struct {
	RunID     string               `json:"run_id"`
	AccountID int64                `json:"account_id"`
	Status    models.OutcomeStatus `json:"status"`
	Processed int                  `json:"processed"`
	Total     int                  `json:"total"`
	Cursor    int64                `json:"cursor"`
	Breaker   string               `json:"breaker"`
}

// Processor запускает пакетные прогоны
type Processor struct {
	cfg       Config
	source    DataSource
	registry  *registry.Registry
	recorder  Recorder
	runs      RunStore
	evaluator *risk.Evaluator
	log       *utils.Logger
	now       func() time.Time
}

// Option настраивает Processor
type Option func(*Processor)

// WithEvaluator подменяет конвейер правил
func WithEvaluator(e *risk.Evaluator) Option {
	return func(p *Processor) { p.evaluator = e }
}

// WithLogger задаёт логгер
func WithLogger(l *utils.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// NewProcessor создаёт процессор
func NewProcessor(cfg Config, source DataSource, reg *registry.Registry, recorder Recorder, runs RunStore, opts ...Option) *Processor {
	def := DefaultConfig()
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = def.Retry
	}
	cfg.Breaker.applyDefaults()

	p := &Processor{
		cfg:       cfg,
		source:    source,
		registry:  reg,
		recorder:  recorder,
		runs:      runs,
		evaluator: risk.NewEvaluator(),
		log:       utils.L(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithComponent("batch")
	return p
}

// Run выполняет прогон по выборке и возвращает итоговый отчёт
//
// Незавершённый прогон той же выборки возобновляется с чекпоинта,
// если не задан Options.Fresh. При отмене ctx выдача новых счетов
// прекращается, начатые счета дорабатываются, прогон сохраняется
// в статусе aborted и возвращается ErrRunAborted вместе с отчётом.
func (p *Processor) Run(ctx context.Context, sel models.Selector, opts Options) (*report.Summary, error) {
	sel = sel.Normalize()
	startedAt := p.now().UTC()

	total, err := p.source.CountAccounts(ctx, sel)
	if err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}

	run, resumed, err := p.openRun(ctx, sel, total, opts.Fresh, startedAt)
	if err != nil {
		return nil, err
	}

	log := p.log.WithRun(run.ID)
	rep := report.NewReporter(run.ID, run.SelectorKey, total, startedAt)
	breaker := NewCircuitBreaker(p.cfg.Breaker, p.now)

	if resumed {
		prev, err := p.runs.ListOutcomes(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("load outcomes of run %s: %w", run.ID, err)
		}
		rep.Seed(prev)
		breaker.Restore(run.Breaker)
		log.Info("resuming batch run", utils.Int64("cursor", run.Cursor), utils.Count("done", len(prev)), utils.Count("total", total))
	} else {
		log.Info("batch run started", utils.String("selector", run.SelectorKey), utils.Count("total", total))
	}

	if opts.OnStart != nil {
		opts.OnStart(run.ID, resumed)
	}

	breaker.OnTransition(func(from, to BreakerState) {
		log.Warn("circuit breaker transition",
			utils.String("from", string(from)),
			utils.State(string(to)),
			utils.Duration("cool_down", breaker.CoolDown()))
		if to == StateOpen {
			BreakerTrips.Inc()
		}
		if to == StateClosed {
			BreakerOpen.Set(0)
		} else {
			BreakerOpen.Set(1)
		}
	})

	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = startedAt
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = p.cfg.Concurrency
	}

	st := &runState{
		p:          p,
		run:        run,
		view:       p.registry.Pin(),
		breaker:    breaker,
		rep:        rep,
		log:        log,
		asOf:       asOf,
		total:      total,
		onProgress: opts.OnProgress,
		cursor:     run.Cursor,
		done:       make(map[int64]bool),
		admitted:   make(map[int64]uint64),
		feed: &feed{
			source:   p.source,
			sel:      sel,
			after:    run.Cursor,
			pageSize: p.cfg.PageSize,
			skip:     rep.Has,
		},
	}

	status, loopErr := st.loop(ctx, concurrency)
	return st.finish(ctx, status, loopErr)
}

// openRun находит прогон для возобновления или создаёт новый
func (p *Processor) openRun(ctx context.Context, sel models.Selector, total int, fresh bool, startedAt time.Time) (*models.BatchRun, bool, error) {
	key := sel.Key()

	if !fresh {
		run, err := p.runs.FindResumable(ctx, key)
		switch {
		case err == nil:
			if err := p.runs.ReopenRun(ctx, run.ID, total); err != nil {
				return nil, false, fmt.Errorf("reopen run %s: %w", run.ID, err)
			}
			run.Status = models.RunStatusRunning
			run.TotalAccounts = total
			run.FinishedAt = nil
			return run, true, nil
		case !errors.Is(err, repository.ErrRunNotFound):
			return nil, false, fmt.Errorf("find resumable run: %w", err)
		}
	}

	run := &models.BatchRun{
		ID:            id.NewAt(startedAt),
		SelectorKey:   key,
		Selector:      sel,
		Status:        models.RunStatusRunning,
		TotalAccounts: total,
		Breaker:       models.BreakerSnapshot{State: string(StateClosed)},
		StartedAt:     startedAt,
	}
	if err := p.runs.CreateRun(ctx, run); err != nil {
		return nil, false, fmt.Errorf("create run: %w", err)
	}
	return run, false, nil
}

// storeRetry - повтор записи чекпоинта при временных сбоях базы
func (p *Processor) storeRetry() retry.Config {
	cfg := p.cfg.Retry
	cfg.RetryIf = repository.IsTransient
	cfg.OnRetry = nil
	return cfg
}

// ============================================================
// Состояние прогона
// ============================================================

type result struct {
	outcome     models.AccountOutcome
	interrupted bool // отменён между попытками, счёт не завершён
}

type runState struct {
	p          *Processor
	run        *models.BatchRun
	view       *registry.View
	breaker    *CircuitBreaker
	rep        *report.Reporter
	log        *utils.Logger
	asOf       time.Time
	total      int
	onProgress func(Progress)
	feed       *feed

	cursor      int64
	pending     []int64 // выданные и не вошедшие в курсор, по возрастанию
	done        map[int64]bool
	admitted    map[int64]uint64 // поколение breaker'а на момент выдачи
	interrupted int              // счета, прерванные отменой
}

// loop - цикл диспетчера; возвращает итоговый статус прогона
func (s *runState) loop(ctx context.Context, concurrency int) (string, error) {
	jobs := make(chan int64)
	results := make(chan result, concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for accountID := range jobs {
				results <- s.process(ctx, accountID)
			}
		}()
	}
	defer func() {
		close(jobs)
		wg.Wait()
	}()

	var (
		inflight    int
		dispatching = true
		aborted     bool
		feedErr     error
		cancel      = ctx.Done()
	)

	for {
		var pause <-chan time.Time

		for dispatching && inflight < concurrency {
			if ctx.Err() != nil {
				dispatching, aborted = false, true
				break
			}

			accountID, ok, err := s.feed.next(ctx, s.p.storeRetry())
			if err != nil {
				dispatching = false
				if ctx.Err() != nil {
					aborted = true
				} else {
					feedErr = err
				}
				break
			}
			if !ok {
				dispatching = false
				break
			}

			gen, err := s.breaker.Admit()
			if err != nil {
				s.feed.unread(accountID)
				wait := s.breaker.RetryAfter()
				if wait <= 0 {
					wait = probePoll
				}
				pause = time.After(wait)
				break
			}

			s.admitted[accountID] = gen
			s.pending = append(s.pending, accountID)
			jobs <- accountID
			inflight++
			InFlightAccounts.Inc()
		}

		if inflight == 0 && !dispatching {
			break
		}

		select {
		case r := <-results:
			inflight--
			InFlightAccounts.Dec()
			s.complete(ctx, r)
		case <-pause:
		case <-cancel:
			cancel = nil
			if dispatching {
				dispatching, aborted = false, true
				s.log.Warn("batch run cancelled, waiting for in-flight accounts", utils.Count("in_flight", inflight))
			}
		}
	}

	switch {
	case feedErr != nil:
		return models.RunStatusAborted, feedErr
	case aborted, s.interrupted > 0:
		return models.RunStatusAborted, nil
	}
	return models.RunStatusCompleted, nil
}

// complete учитывает исход счёта и сохраняет чекпоинт
func (s *runState) complete(ctx context.Context, r result) {
	o := r.outcome
	gen := s.admitted[o.AccountID]
	delete(s.admitted, o.AccountID)

	if r.interrupted {
		// счёт остаётся в pending: курсор не пройдёт его до возобновления,
		// прогон завершится как aborted даже при исчерпанной выборке
		s.interrupted++
		s.log.Warn("account interrupted by cancellation", utils.AccountID(o.AccountID), utils.Attempt(o.Attempts))
		return
	}

	s.done[o.AccountID] = true
	for len(s.pending) > 0 && s.done[s.pending[0]] {
		s.cursor = s.pending[0]
		delete(s.done, s.pending[0])
		s.pending = s.pending[1:]
	}

	s.breaker.RecordAt(gen, o.Status == models.OutcomeFailed)
	s.rep.Add(o)

	AccountsProcessed.WithLabelValues(string(o.Status)).Inc()
	AccountLatency.Observe(float64(o.Duration.Microseconds()) / 1000)
	for rule, n := range o.ViolationsByRule {
		ViolationsRecorded.WithLabelValues(string(rule)).Add(float64(n))
	}
	if s.total > 0 {
		RunProgress.Set(float64(s.rep.Processed()) / float64(s.total))
	}

	saveCtx := context.WithoutCancel(ctx)
	snap := s.breaker.Snapshot()
	_, err := retry.Do(saveCtx, func() error {
		return s.p.runs.SaveProgress(saveCtx, s.run.ID, &o, s.cursor, snap)
	}, s.p.storeRetry())
	if err != nil {
		s.log.Error("failed to save run checkpoint", utils.AccountID(o.AccountID), utils.Int64("cursor", s.cursor), utils.Err(err))
	}

	if s.onProgress != nil {
		s.onProgress(Progress{
			RunID:     s.run.ID,
			AccountID: o.AccountID,
			Status:    o.Status,
			Processed: s.rep.Processed(),
			Total:     s.total,
			Cursor:    s.cursor,
			Breaker:   string(s.breaker.State()),
		})
	}
}

// finish сохраняет итог прогона
func (s *runState) finish(ctx context.Context, status string, loopErr error) (*report.Summary, error) {
	finishedAt := s.p.now().UTC()
	snap := s.breaker.Snapshot()

	summary := s.rep.Summary(status, snap, finishedAt)
	summary.RuleSets = s.view.Pinned()

	data, err := summary.Marshal()
	if err != nil {
		return summary, fmt.Errorf("encode run summary: %w", err)
	}

	saveCtx := context.WithoutCancel(ctx)
	_, err = retry.Do(saveCtx, func() error {
		return s.p.runs.FinishRun(saveCtx, s.run.ID, status, s.cursor, snap, data)
	}, s.p.storeRetry())
	if err != nil {
		s.log.Error("failed to finish run", utils.State(status), utils.Err(err))
		return summary, fmt.Errorf("finish run %s: %w", s.run.ID, err)
	}

	RunsFinished.WithLabelValues(status).Inc()
	InFlightAccounts.Set(0)
	BreakerOpen.Set(0)

	s.log.Info("batch run finished",
		utils.State(status),
		utils.Count("processed", summary.Processed),
		utils.Count("total", summary.TotalAccounts),
		utils.Count("failed", summary.Failed),
		utils.Count("excluded", summary.Excluded),
		utils.Count("new_violations", summary.NewViolations),
		utils.Elapsed(summary.Duration))

	switch {
	case loopErr != nil:
		return summary, fmt.Errorf("%w: run %s: %v", ErrRunAborted, s.run.ID, loopErr)
	case status == models.RunStatusAborted:
		return summary, fmt.Errorf("%w: run %s: %v", ErrRunAborted, s.run.ID, ctx.Err())
	}
	return summary, nil
}

// ============================================================
// Обработка счёта
// ============================================================

// process выполняет оценку счёта с retry и возвращает исход
func (s *runState) process(ctx context.Context, accountID int64) result {
	start := time.Now()
	log := s.log.WithAccount(accountID)
	opCtx := context.WithoutCancel(ctx)

	cfg := s.p.cfg.Retry
	cfg.RetryIf = risk.IsTransient
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		AccountRetries.WithLabelValues(string(risk.Classify(err))).Inc()
		log.Warn("account attempt failed, retrying", utils.Attempt(attempt), utils.Duration("delay", delay), utils.Err(err))
	}

	var rec *sink.RecordResult
	attempts, err := retry.Do(ctx, func() error {
		var err error
		rec, err = s.evaluate(opCtx, accountID)
		return err
	}, cfg)

	o := models.AccountOutcome{
		RunID:       s.run.ID,
		AccountID:   accountID,
		Attempts:    attempts,
		Duration:    time.Since(start),
		CompletedAt: s.p.now().UTC(),
	}

	if err != nil && ctx.Err() != nil && (attempts == 0 || (risk.IsTransient(err) && attempts < s.p.cfg.Retry.MaxAttempts)) {
		return result{outcome: o, interrupted: true}
	}

	switch {
	case err == nil:
		o.Status = models.OutcomeSucceeded
		if attempts > 1 {
			o.Status = models.OutcomeRetried
		}
		o.NewViolations = len(rec.New)
		o.ExistingViolations = rec.Existing
		o.ViolationsByRule = rec.ByRule
	case risk.IsExcluding(err):
		o.Status = models.OutcomeExcluded
		if risk.Classify(err) == risk.ClassConfiguration {
			log.Error("account excluded: configuration error", utils.Err(err))
		} else {
			log.Warn("account excluded: data integrity", utils.Err(err))
		}
	default:
		o.Status = models.OutcomeFailed
		log.Error("account failed", utils.Attempt(attempts), utils.ErrorClass(string(risk.Classify(err))), utils.Err(err))
	}
	if err != nil {
		o.ErrorClass = string(risk.Classify(err))
		o.Error = err.Error()
	}
	return result{outcome: o}
}

// evaluate - одна попытка: загрузка, оценка, запись
func (s *runState) evaluate(ctx context.Context, accountID int64) (*sink.RecordResult, error) {
	src := s.p.source

	acc, err := src.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	rs, err := s.view.RuleSet(ctx, acc.Group)
	if err != nil {
		return nil, err
	}

	trades, err := src.ListTrades(ctx, accountID, time.Time{})
	if err != nil {
		return nil, err
	}

	from := acc.CreatedAt.Add(-24 * time.Hour)
	if acc.CreatedAt.IsZero() {
		from = time.Time{}
	}
	windows, err := src.ListWindows(ctx, from, s.asOf)
	if err != nil {
		return nil, err
	}

	candidates, _, err := s.p.evaluator.EvaluateAccount(acc, trades, rs, windows, s.asOf)
	if err != nil {
		return nil, err
	}

	return s.p.recorder.RecordViolations(ctx, accountID, candidates, sink.Meta{
		RuleSetID:      rs.ID,
		RuleSetVersion: rs.Version,
		RunID:          s.run.ID,
		EvaluatedAt:    s.asOf,
	})
}

// ============================================================
// Постраничная выдача ID
// ============================================================

type feed struct {
	source    DataSource
	sel       models.Selector
	after     int64
	pageSize  int
	skip      func(int64) bool // уже обработанные в предыдущем запуске
	buf       []int64
	exhausted bool
}

// next возвращает следующий ID; ok=false когда выборка исчерпана
func (f *feed) next(ctx context.Context, cfg retry.Config) (int64, bool, error) {
	for len(f.buf) == 0 {
		if f.exhausted {
			return 0, false, nil
		}

		cfg.RetryIf = risk.IsTransient
		ids, _, err := retry.DoWithResult(ctx, func() ([]int64, error) {
			return f.source.ListAccountIDs(ctx, f.sel, f.after, f.pageSize)
		}, cfg)
		if err != nil {
			return 0, false, fmt.Errorf("list account ids after %d: %w", f.after, err)
		}

		if len(ids) < f.pageSize {
			f.exhausted = true
		}
		if len(ids) > 0 {
			f.after = ids[len(ids)-1]
		}
		for _, accountID := range ids {
			if f.skip == nil || !f.skip(accountID) {
				f.buf = append(f.buf, accountID)
			}
		}
	}

	accountID := f.buf[0]
	f.buf = f.buf[1:]
	return accountID, true, nil
}

// unread возвращает ID в начало очереди (пауза breaker'а)
func (f *feed) unread(accountID int64) {
	f.buf = append([]int64{accountID}, f.buf...)
}
