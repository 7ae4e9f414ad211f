package service

import (
	"context"
	"sync"

	"riskengine/internal/batch"
	"riskengine/internal/models"
	"riskengine/internal/report"
	"riskengine/internal/repository"
)

// ============ Mock RunProcessor ============

// MockRunProcessor имитирует прогон: вызывает OnStart и ждёт отмены
// или сигнала release
type MockRunProcessor struct {
	runID   string
	resumed bool
	openErr error // ошибка до открытия прогона
	runErr  error // ошибка после открытия
	block   bool  // ждать release или отмены ctx

	release chan struct{}

	mu    sync.Mutex
	calls []batch.Options
	sels  []models.Selector
}

func NewMockRunProcessor(runID string) *MockRunProcessor {
	return &MockRunProcessor{runID: runID, release: make(chan struct{})}
}

func (m *MockRunProcessor) Run(ctx context.Context, sel models.Selector, opts batch.Options) (*report.Summary, error) {
	m.mu.Lock()
	m.calls = append(m.calls, opts)
	m.sels = append(m.sels, sel)
	m.mu.Unlock()

	if m.openErr != nil {
		return nil, m.openErr
	}
	if opts.OnStart != nil {
		opts.OnStart(m.runID, m.resumed)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(batch.Progress{RunID: m.runID, AccountID: 1, Status: models.OutcomeSucceeded, Processed: 1, Total: 1})
	}

	status := models.RunStatusCompleted
	if m.block {
		select {
		case <-m.release:
		case <-ctx.Done():
			status = models.RunStatusAborted
		}
	}

	summary := &report.Summary{RunID: m.runID, Status: status}
	if status == models.RunStatusAborted {
		return summary, batch.ErrRunAborted
	}
	return summary, m.runErr
}

func (m *MockRunProcessor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ============ Mock ProgressBroadcaster ============

type MockBroadcaster struct {
	mu       sync.Mutex
	started  []string
	progress int
	finished []*report.Summary
	done     chan struct{}
}

func NewMockBroadcaster() *MockBroadcaster {
	return &MockBroadcaster{done: make(chan struct{}, 8)}
}

func (m *MockBroadcaster) BroadcastRunStarted(runID string, resumed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = append(m.started, runID)
}

func (m *MockBroadcaster) BroadcastProgress(p batch.Progress) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.progress++
}

func (m *MockBroadcaster) BroadcastRunFinished(s *report.Summary) {
	m.mu.Lock()
	m.finished = append(m.finished, s)
	m.mu.Unlock()
	m.done <- struct{}{}
}

func (m *MockBroadcaster) Finished() []*report.Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*report.Summary(nil), m.finished...)
}

// ============ Mock RunRepository ============

type MockRunRepository struct {
	runs     map[string]*models.BatchRun
	outcomes map[string][]models.AccountOutcome
	getErr   error
	listErr  error
	lastLim  int
}

func NewMockRunRepository() *MockRunRepository {
	return &MockRunRepository{
		runs:     make(map[string]*models.BatchRun),
		outcomes: make(map[string][]models.AccountOutcome),
	}
}

func (m *MockRunRepository) GetRun(_ context.Context, id string) (*models.BatchRun, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	run, ok := m.runs[id]
	if !ok {
		return nil, repository.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *MockRunRepository) ListRuns(_ context.Context, limit int) ([]models.BatchRun, error) {
	m.lastLim = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []models.BatchRun
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (m *MockRunRepository) ListOutcomes(_ context.Context, runID string) ([]models.AccountOutcome, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.outcomes[runID], nil
}

// ============ Mock ViolationStore ============

type MockViolationStore struct {
	violations []models.Violation
	removals   []models.Removal
	lastFilter repository.ViolationFilter
	listErr    error
	removeErr  error
}

func (m *MockViolationStore) ListViolations(_ context.Context, f repository.ViolationFilter) ([]models.Violation, error) {
	m.lastFilter = f
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.violations, nil
}

func (m *MockViolationStore) RemoveViolation(_ context.Context, key models.ViolationKey, operator, reason string) (*models.Removal, error) {
	if m.removeErr != nil {
		return nil, m.removeErr
	}
	for i, v := range m.violations {
		if v.Key() == key {
			m.violations = append(m.violations[:i], m.violations[i+1:]...)
			r := models.Removal{ID: "rm-1", AccountID: key.AccountID, Ref: key.Ref, Rule: key.Rule, Operator: operator, Reason: reason}
			m.removals = append(m.removals, r)
			return &r, nil
		}
	}
	return nil, repository.ErrViolationNotFound
}

func (m *MockViolationStore) ListRemovals(_ context.Context, accountID int64) ([]models.Removal, error) {
	var out []models.Removal
	for _, r := range m.removals {
		if accountID == 0 || r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out, nil
}
