package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/pkg/utils"
)

// Ошибки сервиса наборов правил
var (
	ErrInvalidGroup    = errors.New("invalid account group")
	ErrInvalidRuleSet  = errors.New("invalid rule set")
	ErrRuleSetNotFound = errors.New("rule set not found")
)

// RuleSetService предоставляет просмотр и публикацию наборов правил.
//
// Наборы правил неизменяемы: Publish всегда создаёт новую версию
// группы и делает её активной. Уже записанные нарушения сохраняют
// ссылку на версию, которой были обнаружены.
type RuleSetService struct {
	registry RuleSetRegistryInterface
	log      *utils.Logger
}

// NewRuleSetService создает новый экземпляр RuleSetService.
func NewRuleSetService(registry RuleSetRegistryInterface) *RuleSetService {
	return &RuleSetService{
		registry: registry,
		log:      utils.L().WithComponent("ruleset-service"),
	}
}

// List возвращает версии группы или активные версии всех групп (group = "")
func (s *RuleSetService) List(ctx context.Context, group string) ([]models.RuleSetConfig, error) {
	group = strings.TrimSpace(group)
	if group != "" {
		if err := utils.ValidateGroup(group); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidGroup, err)
		}
	}

	sets, err := s.registry.List(ctx, group)
	if err != nil {
		return nil, err
	}
	if sets == nil {
		sets = []models.RuleSetConfig{}
	}
	return sets, nil
}

// Active возвращает активную версию набора правил группы
func (s *RuleSetService) Active(ctx context.Context, group string) (*models.RuleSetConfig, error) {
	group = strings.TrimSpace(group)
	if err := utils.ValidateGroup(group); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGroup, err)
	}

	cfg, err := s.registry.Active(ctx, group)
	if err != nil {
		return nil, mapRuleSetError(err)
	}
	return cfg, nil
}

// Version возвращает конкретную версию набора правил группы
func (s *RuleSetService) Version(ctx context.Context, group string, version int) (*models.RuleSetConfig, error) {
	group = strings.TrimSpace(group)
	if err := utils.ValidateGroup(group); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGroup, err)
	}
	if version <= 0 {
		return nil, fmt.Errorf("%w: version must be positive", ErrInvalidRuleSet)
	}

	cfg, err := s.registry.Version(ctx, group, version)
	if err != nil {
		return nil, mapRuleSetError(err)
	}
	return cfg, nil
}

// Publish валидирует и публикует новую версию набора правил.
//
// Возвращает:
// - ErrInvalidRuleSet со списком полей при ошибке валидации
// - опубликованную версию при успехе
func (s *RuleSetService) Publish(ctx context.Context, cfg *models.RuleSetConfig) (*models.RuleSetConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidRuleSet)
	}
	cfg.Group = strings.TrimSpace(cfg.Group)

	published, err := s.registry.Publish(ctx, cfg)
	if err != nil {
		var verrs utils.ValidationErrors
		if errors.As(err, &verrs) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSet, verrs)
		}
		return nil, err
	}

	s.log.Info("rule set version published", utils.Group(published.Group), utils.RuleSet(published.Ref()))
	return published, nil
}

func mapRuleSetError(err error) error {
	if errors.Is(err, repository.ErrRuleSetNotFound) {
		return ErrRuleSetNotFound
	}
	return err
}
