package sink

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"riskengine/internal/models"
	"riskengine/internal/repository"
)

// MemoryStore - хранилище нарушений в памяти с той же семантикой,
// что у таблиц violations и violation_removals
//
// Используется для пробных прогонов CLI (--dry-run) и в тестах.
type MemoryStore struct {
	mu         sync.Mutex
	nextID     int64
	violations map[models.ViolationKey]models.Violation
	removals   []models.Removal
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{violations: make(map[models.ViolationKey]models.Violation)}
}

// UpsertViolations записывает кандидатов атомарно
func (m *MemoryStore) UpsertViolations(_ context.Context, vs []models.Violation) (*repository.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := &repository.UpsertResult{}
	for _, v := range vs {
		key := v.Key()
		if m.removedLocked(key, v.Fingerprint) {
			res.Suppressed++
			continue
		}
		if _, ok := m.violations[key]; ok {
			res.Existing++
			continue
		}
		m.nextID++
		v.ID = m.nextID
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now().UTC()
		}
		m.violations[key] = v
		res.Inserted = append(res.Inserted, v)
	}
	return res, nil
}

func (m *MemoryStore) removedLocked(key models.ViolationKey, fp string) bool {
	for _, r := range m.removals {
		if r.AccountID == key.AccountID && r.Ref == key.Ref && r.Rule == key.Rule && r.Fingerprint == fp {
			return true
		}
	}
	return false
}

// DeleteViolation удаляет нарушение и записывает аудит
func (m *MemoryStore) DeleteViolation(_ context.Context, key models.ViolationKey, operator, reason string) (*models.Removal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.violations[key]
	if !ok {
		return nil, repository.ErrViolationNotFound
	}
	delete(m.violations, key)

	r := models.Removal{
		ID:          uuid.New().String(),
		AccountID:   key.AccountID,
		Ref:         key.Ref,
		Rule:        key.Rule,
		Fingerprint: v.Fingerprint,
		Evidence:    v.Evidence,
		Operator:    operator,
		Reason:      reason,
		RemovedAt:   time.Now().UTC(),
	}
	m.removals = append(m.removals, r)
	return &r, nil
}

// ListViolations возвращает нарушения по фильтру, новые первыми
func (m *MemoryStore) ListViolations(_ context.Context, f repository.ViolationFilter) ([]models.Violation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Violation
	for _, v := range m.violations {
		if f.AccountID != 0 && v.AccountID != f.AccountID {
			continue
		}
		if f.Rule != "" && v.Rule != f.Rule {
			continue
		}
		if f.Severity != "" && v.Severity != f.Severity {
			continue
		}
		if f.RunID != "" && v.RunID != f.RunID {
			continue
		}
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListRemovals возвращает аудит снятий, последние первыми
func (m *MemoryStore) ListRemovals(_ context.Context, accountID int64) ([]models.Removal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Removal
	for i := len(m.removals) - 1; i >= 0; i-- {
		if accountID == 0 || m.removals[i].AccountID == accountID {
			out = append(out, m.removals[i])
		}
	}
	return out, nil
}

// Len возвращает число записанных нарушений
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}
