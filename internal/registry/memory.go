package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"riskengine/internal/models"
	"riskengine/internal/repository"
)

// MemoryStore - хранилище версий в памяти
//
// Используется CLI для проверки YAML-файлов без базы и в тестах.
type MemoryStore struct {
	mu       sync.RWMutex
	nextID   int64
	versions map[string][]models.RuleSetConfig // по возрастанию версии
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore создаёт пустое хранилище
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[string][]models.RuleSetConfig)}
}

// GetActiveRuleSet возвращает активную версию группы
func (m *MemoryStore) GetActiveRuleSet(_ context.Context, group string) (*models.RuleSetConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cfg := range m.versions[group] {
		if cfg.Active {
			return cfg.Clone(), nil
		}
	}
	return nil, repository.ErrRuleSetNotFound
}

// GetRuleSetVersion возвращает версию группы
func (m *MemoryStore) GetRuleSetVersion(_ context.Context, group string, version int) (*models.RuleSetConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cfg := range m.versions[group] {
		if cfg.Version == version {
			return cfg.Clone(), nil
		}
	}
	return nil, repository.ErrRuleSetNotFound
}

// PublishRuleSet добавляет версию и делает её активной
func (m *MemoryStore) PublishRuleSet(_ context.Context, cfg *models.RuleSetConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.versions[cfg.Group]
	for i := range list {
		list[i].Active = false
	}

	m.nextID++
	cfg.ID = m.nextID
	cfg.Version = len(list) + 1
	cfg.Active = true
	cfg.CreatedAt = time.Now().UTC()

	m.versions[cfg.Group] = append(list, *cfg)
	return nil
}

// ListRuleSets возвращает версии группы (новые первыми) или активные версии всех групп
func (m *MemoryStore) ListRuleSets(_ context.Context, group string) ([]models.RuleSetConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.RuleSetConfig
	if group != "" {
		list := m.versions[group]
		for i := len(list) - 1; i >= 0; i-- {
			out = append(out, list[i])
		}
		return out, nil
	}

	for _, list := range m.versions {
		for _, cfg := range list {
			if cfg.Active {
				out = append(out, cfg)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Group < out[j].Group })
	return out, nil
}
