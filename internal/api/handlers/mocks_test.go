package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
	"riskengine/internal/service"
)

// ErrMockDatabase имитирует отказ хранилища
var ErrMockDatabase = errors.New("mock database error")

// ============ Mock Run Service ============

// MockRunService мок для RunServiceInterface
type MockRunService struct {
	mu       sync.Mutex
	active   *service.ActiveRun
	runs     map[string]*service.RunDetails
	outcomes map[string][]models.AccountOutcome
	lastReq  *service.StartRunRequest

	startErr  error
	cancelErr error
	listErr   error
}

func NewMockRunService() *MockRunService {
	return &MockRunService{
		runs:     make(map[string]*service.RunDetails),
		outcomes: make(map[string][]models.AccountOutcome),
	}
}

func (m *MockRunService) Start(req *service.StartRunRequest) (*service.ActiveRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastReq = req
	if m.startErr != nil {
		return nil, m.startErr
	}
	if m.active != nil {
		return nil, service.ErrRunInProgress
	}
	m.active = &service.ActiveRun{
		RunID:     "01HRUN",
		Selector:  req.Selector,
		StartedAt: time.Now(),
	}
	return m.active, nil
}

func (m *MockRunService) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancelErr != nil {
		return m.cancelErr
	}
	if m.active == nil {
		return service.ErrRunNotActive
	}
	m.active = nil
	return nil
}

func (m *MockRunService) Active() *service.ActiveRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *MockRunService) GetRun(ctx context.Context, id string) (*service.RunDetails, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.runs[id]
	if !ok {
		return nil, service.ErrRunNotFound
	}
	return d, nil
}

func (m *MockRunService) ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.listErr != nil {
		return nil, m.listErr
	}
	result := make([]models.BatchRun, 0, len(m.runs))
	for _, d := range m.runs {
		result = append(result, *d.Run)
	}
	return result, nil
}

func (m *MockRunService) ListOutcomes(ctx context.Context, runID string) ([]models.AccountOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[runID]; !ok {
		return nil, service.ErrRunNotFound
	}
	return m.outcomes[runID], nil
}

// ============ Mock Violation Service ============

// MockViolationService мок для ViolationServiceInterface
type MockViolationService struct {
	mu         sync.Mutex
	violations []models.Violation
	removals   []models.Removal
	lastQuery  *service.ViolationQuery
	lastRemove *service.RemoveViolationRequest

	listErr   error
	removeErr error
}

func NewMockViolationService() *MockViolationService {
	return &MockViolationService{}
}

func (m *MockViolationService) List(ctx context.Context, q *service.ViolationQuery) ([]models.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastQuery = q
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.violations, nil
}

func (m *MockViolationService) Remove(ctx context.Context, req *service.RemoveViolationRequest) (*models.Removal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastRemove = req
	if m.removeErr != nil {
		return nil, m.removeErr
	}
	if req.Operator == "" {
		return nil, service.ErrInvalidOperator
	}
	r := models.Removal{
		ID:        "rm-1",
		AccountID: req.AccountID,
		Ref:       req.Ref,
		Rule:      models.RuleType(req.Rule),
		Operator:  req.Operator,
		Reason:    req.Reason,
		RemovedAt: time.Now(),
	}
	m.removals = append(m.removals, r)
	return &r, nil
}

func (m *MockViolationService) ListRemovals(ctx context.Context, accountID int64) ([]models.Removal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removals, nil
}

// ============ Mock Rule Set Service ============

// MockRuleSetService мок для RuleSetServiceInterface
type MockRuleSetService struct {
	mu   sync.Mutex
	sets map[string][]models.RuleSetConfig // версии группы, новые первыми

	publishErr error
}

func NewMockRuleSetService() *MockRuleSetService {
	return &MockRuleSetService{sets: make(map[string][]models.RuleSetConfig)}
}

func (m *MockRuleSetService) add(cfg models.RuleSetConfig) {
	m.sets[cfg.Group] = append([]models.RuleSetConfig{cfg}, m.sets[cfg.Group]...)
}

func (m *MockRuleSetService) List(ctx context.Context, group string) ([]models.RuleSetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if group != "" {
		return m.sets[group], nil
	}
	result := make([]models.RuleSetConfig, 0, len(m.sets))
	for _, versions := range m.sets {
		result = append(result, versions[0])
	}
	return result, nil
}

func (m *MockRuleSetService) Active(ctx context.Context, group string) (*models.RuleSetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.sets[group]
	if len(versions) == 0 {
		return nil, service.ErrRuleSetNotFound
	}
	cfg := versions[0]
	return &cfg, nil
}

func (m *MockRuleSetService) Version(ctx context.Context, group string, version int) (*models.RuleSetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cfg := range m.sets[group] {
		if cfg.Version == version {
			c := cfg
			return &c, nil
		}
	}
	return nil, service.ErrRuleSetNotFound
}

func (m *MockRuleSetService) Publish(ctx context.Context, cfg *models.RuleSetConfig) (*models.RuleSetConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return nil, m.publishErr
	}
	published := *cfg
	published.Version = len(m.sets[cfg.Group]) + 1
	published.Active = true
	m.add(published)
	return &published, nil
}

// ============ Mock Check Service ============

// MockCheckService мок для CheckServiceInterface
type MockCheckService struct {
	result   *service.CheckResult
	err      error
	lastAsOf time.Time
}

func (m *MockCheckService) CheckAccount(ctx context.Context, accountID int64, asOf time.Time) (*service.CheckResult, error) {
	m.lastAsOf = asOf
	if m.err != nil {
		return nil, m.err
	}
	res := *m.result
	res.AccountID = accountID
	return &res, nil
}

func sampleCheckResult() *service.CheckResult {
	return &service.CheckResult{
		Group:          "lite",
		RuleSet:        "lite@v1",
		InitialBalance: decimal.NewFromInt(10000),
		CurrentEquity:  decimal.NewFromInt(9500),
		PeakEquity:     decimal.NewFromInt(10200),
		ClosedTrades:   3,
		Violations:     []models.Violation{},
	}
}
