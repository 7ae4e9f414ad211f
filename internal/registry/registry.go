package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/internal/risk"
	"riskengine/pkg/utils"
)

// ============================================================
// Реестр наборов правил
// ============================================================
//
// Реестр не хранит глобального состояния: экземпляр создаётся при старте
// и передаётся процессору, сервисам и CLI. Конфигурации версионируются
// хранилищем; реестр только кэширует активные версии и отдаёт копии,
// поэтому вызывающий код не может изменить закэшированную версию.

// Store - хранилище версий наборов правил
type Store interface {
	GetActiveRuleSet(ctx context.Context, group string) (*models.RuleSetConfig, error)
	GetRuleSetVersion(ctx context.Context, group string, version int) (*models.RuleSetConfig, error)
	PublishRuleSet(ctx context.Context, cfg *models.RuleSetConfig) error
	ListRuleSets(ctx context.Context, group string) ([]models.RuleSetConfig, error)
}

var _ Store = (*repository.RuleSetRepository)(nil)

// DefaultCacheTTL - время жизни закэшированной активной версии
const DefaultCacheTTL = 30 * time.Second

type cacheEntry struct {
	cfg      *models.RuleSetConfig
	loadedAt time.Time
}

// Registry - источник действующих наборов правил по группам
type Registry struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
	log   *utils.Logger

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// Option настраивает Registry
type Option func(*Registry)

// WithCacheTTL задаёт время жизни кэша (0 - без кэша)
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) { r.ttl = ttl }
}

// WithLogger задаёт логгер
func WithLogger(l *utils.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithClock подменяет часы (для тестов)
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New создаёт реестр поверх хранилища
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store: store,
		ttl:   DefaultCacheTTL,
		now:   time.Now,
		log:   utils.L(),
		cache: make(map[string]cacheEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithComponent("registry")
	return r
}

// Active возвращает копию активной версии набора правил группы
//
// Отсутствие набора и невалидная конфигурация возвращаются как
// risk.ConfigurationError, сбой хранилища - как risk.TransientIOError.
func (r *Registry) Active(ctx context.Context, group string) (*models.RuleSetConfig, error) {
	if cfg, ok := r.cached(group); ok {
		return cfg.Clone(), nil
	}

	cfg, err := r.store.GetActiveRuleSet(ctx, group)
	if err != nil {
		return nil, r.mapError(group, "get active rule set", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		r.log.Error("active rule set is invalid", utils.Group(group), utils.RuleSet(cfg.Ref()), utils.Err(err))
		return nil, &risk.ConfigurationError{Group: group, Err: err}
	}

	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[group] = cacheEntry{cfg: cfg, loadedAt: r.now()}
		r.mu.Unlock()
	}
	return cfg.Clone(), nil
}

// Version возвращает конкретную версию набора правил (для аудита нарушений)
func (r *Registry) Version(ctx context.Context, group string, version int) (*models.RuleSetConfig, error) {
	cfg, err := r.store.GetRuleSetVersion(ctx, group, version)
	if err != nil {
		return nil, r.mapError(group, fmt.Sprintf("get rule set v%d", version), err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// Publish валидирует и публикует новую версию набора правил группы
//
// Предыдущая версия остаётся в хранилище неизменной и перестаёт быть
// активной. Возвращает опубликованную версию.
func (r *Registry) Publish(ctx context.Context, cfg *models.RuleSetConfig) (*models.RuleSetConfig, error) {
	next := cfg.Clone()
	next.ID, next.Version, next.Active, next.CreatedAt = 0, 0, false, time.Time{}
	next.ApplyDefaults()

	if err := Validate(next); err != nil {
		return nil, err
	}
	if err := r.store.PublishRuleSet(ctx, next); err != nil {
		return nil, fmt.Errorf("publish rule set for %q: %w", next.Group, err)
	}

	r.Invalidate(next.Group)
	r.log.Info("rule set published", utils.Group(next.Group), utils.RuleSet(next.Ref()))
	return next.Clone(), nil
}

// List возвращает версии группы или активные версии всех групп
func (r *Registry) List(ctx context.Context, group string) ([]models.RuleSetConfig, error) {
	out, err := r.store.ListRuleSets(ctx, group)
	if err != nil {
		return nil, risk.Transient("list rule sets", err)
	}
	return out, nil
}

// Invalidate сбрасывает кэш группы
func (r *Registry) Invalidate(group string) {
	r.mu.Lock()
	delete(r.cache, group)
	r.mu.Unlock()
}

func (r *Registry) cached(group string) (*models.RuleSetConfig, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.cache[group]
	if !ok || r.now().Sub(e.loadedAt) >= r.ttl {
		return nil, false
	}
	return e.cfg, true
}

func (r *Registry) mapError(group, op string, err error) error {
	if errors.Is(err, repository.ErrRuleSetNotFound) {
		return &risk.ConfigurationError{Group: group, Err: err}
	}
	return risk.Transient(op, err)
}

// ============================================================
// Фиксация версий на время прогона
// ============================================================

// View - наборы правил, зафиксированные на время одного прогона
//
// Первое обращение к группе запоминает активную версию, все следующие
// счета группы оцениваются той же версией, даже если во время прогона
// опубликована новая. Безопасен для конкурентного использования.
type View struct {
	reg *Registry

	mu     sync.Mutex
	pinned map[string]*models.RuleSetConfig
}

// Pin создаёт пустое представление для нового прогона
func (r *Registry) Pin() *View {
	return &View{reg: r, pinned: make(map[string]*models.RuleSetConfig)}
}

// RuleSet возвращает зафиксированную версию набора правил группы
//
// Ошибки не фиксируются: следующий счёт группы повторит загрузку.
func (v *View) RuleSet(ctx context.Context, group string) (*models.RuleSetConfig, error) {
	v.mu.Lock()
	cfg, ok := v.pinned[group]
	v.mu.Unlock()
	if ok {
		return cfg.Clone(), nil
	}

	loaded, err := v.reg.Active(ctx, group)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	if existing, ok := v.pinned[group]; ok {
		loaded = existing
	} else {
		v.pinned[group] = loaded
	}
	v.mu.Unlock()
	return loaded.Clone(), nil
}

// Pinned возвращает ссылки на зафиксированные версии (group -> group@vN)
func (v *View) Pinned() map[string]string {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make(map[string]string, len(v.pinned))
	for g, cfg := range v.pinned {
		out[g] = cfg.Ref()
	}
	return out
}
