package batch

import (
	"context"
	"sort"
	"sync"
	"time"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/internal/risk"
)

// ============================================================
// Хранилища в памяти
// ============================================================
//
// Используются для офлайн-прогонов CLI по файлу с историей счетов
// и в тестах. Семантика совпадает с Postgres-репозиториями.

// StaticSource - DataSource поверх фиксированного набора данных
type StaticSource struct {
	mu       sync.RWMutex
	accounts map[int64]*models.Account
	trades   map[int64][]models.Trade
	windows  []models.CalendarWindow
}

var _ DataSource = (*StaticSource)(nil)

// NewStaticSource создаёт пустой источник
func NewStaticSource() *StaticSource {
	return &StaticSource{
		accounts: make(map[int64]*models.Account),
		trades:   make(map[int64][]models.Trade),
	}
}

// AddAccount добавляет счёт с историей сделок
func (s *StaticSource) AddAccount(acc models.Account, trades ...models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := acc
	s.accounts[acc.ID] = &a
	s.trades[acc.ID] = append([]models.Trade(nil), trades...)
}

// AddWindow добавляет календарное окно
func (s *StaticSource) AddWindow(w models.CalendarWindow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = append(s.windows, w)
}

// GetAccount возвращает копию счёта
func (s *StaticSource) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, &risk.DataIntegrityError{AccountID: id, Reason: risk.ReasonMissingAccount}
	}
	out := *acc
	return &out, nil
}

// ListTrades возвращает сделки, закрытые не раньше since, и открытые
func (s *StaticSource) ListTrades(_ context.Context, accountID int64, since time.Time) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Trade
	for _, t := range s.trades[accountID] {
		if !t.IsClosed() || !t.CloseTime.Before(since) {
			out = append(out, t)
		}
	}
	models.SortByClose(out)
	return out, nil
}

// ListWindows возвращает окна, пересекающие [from, to]
func (s *StaticSource) ListWindows(_ context.Context, from, to time.Time) ([]models.CalendarWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CalendarWindow
	for _, w := range s.windows {
		if !w.End.Before(from) && !w.Start.After(to) {
			out = append(out, w)
		}
	}
	return out, nil
}

// ListAccountIDs возвращает страницу ID выборки по возрастанию
func (s *StaticSource) ListAccountIDs(_ context.Context, sel models.Selector, after int64, limit int) ([]int64, error) {
	ids := s.matching(sel)
	out := make([]int64, 0, limit)
	for _, id := range ids {
		if id <= after {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, id)
	}
	return out, nil
}

// CountAccounts возвращает размер выборки
func (s *StaticSource) CountAccounts(_ context.Context, sel models.Selector) (int, error) {
	return len(s.matching(sel)), nil
}

func (s *StaticSource) matching(sel models.Selector) []int64 {
	sel = sel.Normalize()
	var wanted map[int64]bool
	if len(sel.AccountIDs) > 0 {
		wanted = make(map[int64]bool, len(sel.AccountIDs))
		for _, id := range sel.AccountIDs {
			wanted[id] = true
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []int64
	for id, acc := range s.accounts {
		if wanted != nil && !wanted[id] {
			continue
		}
		if sel.Group != "" && acc.Group != sel.Group {
			continue
		}
		if acc.Status != sel.Status {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MemoryRunStore - чекпоинты прогонов в памяти
type MemoryRunStore struct {
	mu       sync.Mutex
	runs     []*models.BatchRun
	outcomes map[string]map[int64]models.AccountOutcome
}

var _ RunStore = (*MemoryRunStore)(nil)

// NewMemoryRunStore создаёт пустое хранилище
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{outcomes: make(map[string]map[int64]models.AccountOutcome)}
}

func (m *MemoryRunStore) find(id string) *models.BatchRun {
	for _, r := range m.runs {
		if r.ID == id {
			return r
		}
	}
	return nil
}

// CreateRun сохраняет прогон
func (m *MemoryRunStore) CreateRun(_ context.Context, run *models.BatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now
	cp := *run
	m.runs = append(m.runs, &cp)
	m.outcomes[run.ID] = make(map[int64]models.AccountOutcome)
	return nil
}

// GetRun возвращает копию прогона
func (m *MemoryRunStore) GetRun(_ context.Context, id string) (*models.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil {
		return nil, repository.ErrRunNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRuns возвращает последние прогоны
func (m *MemoryRunStore) ListRuns(_ context.Context, limit int) ([]models.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	var out []models.BatchRun
	for i := len(m.runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *m.runs[i])
	}
	return out, nil
}

// FindResumable возвращает последний незавершённый прогон выборки,
// начатый после последнего завершённого
func (m *MemoryRunStore) FindResumable(_ context.Context, selectorKey string) (*models.BatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.runs) - 1; i >= 0; i-- {
		r := m.runs[i]
		if r.SelectorKey != selectorKey {
			continue
		}
		if r.Status == models.RunStatusCompleted {
			break
		}
		cp := *r
		return &cp, nil
	}
	return nil, repository.ErrRunNotFound
}

// ReopenRun переводит прогон в running
func (m *MemoryRunStore) ReopenRun(_ context.Context, id string, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(id)
	if r == nil {
		return repository.ErrRunNotFound
	}
	r.Status = models.RunStatusRunning
	r.TotalAccounts = total
	r.FinishedAt = nil
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// SaveProgress записывает исход и курсор
func (m *MemoryRunStore) SaveProgress(_ context.Context, runID string, outcome *models.AccountOutcome, cursor int64, breaker models.BreakerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(runID)
	if r == nil {
		return repository.ErrRunNotFound
	}
	o := *outcome
	o.RunID = runID
	m.outcomes[runID][o.AccountID] = o
	r.Cursor = cursor
	r.Breaker = breaker
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// FinishRun закрывает прогон
func (m *MemoryRunStore) FinishRun(_ context.Context, runID, status string, cursor int64, breaker models.BreakerSnapshot, summary []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.find(runID)
	if r == nil {
		return repository.ErrRunNotFound
	}
	now := time.Now().UTC()
	r.Status = status
	r.Cursor = cursor
	r.Breaker = breaker
	r.Summary = append([]byte(nil), summary...)
	r.UpdatedAt = now
	r.FinishedAt = &now
	return nil
}

// ListOutcomes возвращает исходы прогона по возрастанию ID счёта
func (m *MemoryRunStore) ListOutcomes(_ context.Context, runID string) ([]models.AccountOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AccountOutcome, 0, len(m.outcomes[runID]))
	for _, o := range m.outcomes[runID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}
