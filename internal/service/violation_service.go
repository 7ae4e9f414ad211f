package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/internal/sink"
	"riskengine/pkg/utils"
)

// Ошибки сервиса нарушений
var (
	ErrInvalidViolationKey = errors.New("invalid violation key")
	ErrInvalidRuleType     = errors.New("invalid rule type")
	ErrInvalidSeverity     = errors.New("invalid severity")
	ErrInvalidOperator     = errors.New("invalid operator")
	ErrReasonRequired      = errors.New("removal reason is required")
	ErrViolationNotFound   = errors.New("violation not found")
)

// Ограничения постраничного списка нарушений
const (
	DefaultViolationLimit = 100
	MaxViolationLimit     = 1000
	maxReasonLength       = 1024
)

// ViolationQuery - фильтр списка нарушений из API и CLI
type ViolationQuery struct {
	AccountID int64
	Rule      string
	Severity  string
	RunID     string
	Limit     int
	Offset    int
}

// RemoveViolationRequest - запрос на снятие нарушения оператором
type RemoveViolationRequest struct {
	AccountID int64  `json:"account_id"`
	Ref       string `json:"ref"`
	Rule      string `json:"rule_type"`
	Operator  string `json:"-"` // из токена, не из тела запроса
	Reason    string `json:"reason"`
}

// ViolationService предоставляет просмотр и снятие нарушений.
//
// Снятие необратимо и всегда сопровождается записью аудита
// с идентификатором оператора и причиной.
type ViolationService struct {
	store ViolationStoreInterface
}

// NewViolationService создает новый экземпляр ViolationService.
func NewViolationService(store ViolationStoreInterface) *ViolationService {
	return &ViolationService{store: store}
}

// List возвращает нарушения по фильтру, новые первыми
func (s *ViolationService) List(ctx context.Context, q *ViolationQuery) ([]models.Violation, error) {
	if q == nil {
		q = &ViolationQuery{}
	}

	f := repository.ViolationFilter{
		AccountID: q.AccountID,
		RunID:     strings.TrimSpace(q.RunID),
		Limit:     q.Limit,
		Offset:    q.Offset,
	}
	if q.Rule != "" {
		rt := models.RuleType(strings.TrimSpace(q.Rule))
		if !models.IsValidRuleType(rt) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRuleType, q.Rule)
		}
		f.Rule = rt
	}
	if q.Severity != "" {
		sev := models.Severity(strings.ToLower(strings.TrimSpace(q.Severity)))
		switch sev {
		case models.SeverityWarning, models.SeverityCritical, models.SeverityBreach:
			f.Severity = sev
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidSeverity, q.Severity)
		}
	}
	if f.Limit <= 0 {
		f.Limit = DefaultViolationLimit
	}
	if f.Limit > MaxViolationLimit {
		f.Limit = MaxViolationLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	violations, err := s.store.ListViolations(ctx, f)
	if err != nil {
		return nil, err
	}
	if violations == nil {
		violations = []models.Violation{}
	}
	return violations, nil
}

// Remove снимает нарушение как ложное срабатывание.
//
// Возвращает:
// - ErrInvalidViolationKey / ErrInvalidRuleType при неверном ключе
// - ErrInvalidOperator если оператор не задан
// - ErrReasonRequired если причина пустая
// - ErrViolationNotFound если нарушения нет
func (s *ViolationService) Remove(ctx context.Context, req *RemoveViolationRequest) (*models.Removal, error) {
	if req == nil || req.AccountID <= 0 || strings.TrimSpace(req.Ref) == "" {
		return nil, ErrInvalidViolationKey
	}
	rt := models.RuleType(strings.TrimSpace(req.Rule))
	if !models.IsValidRuleType(rt) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRuleType, req.Rule)
	}

	operator := strings.TrimSpace(req.Operator)
	if err := utils.ValidateOperator(operator); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperator, err)
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, ErrReasonRequired
	}
	if len(reason) > maxReasonLength {
		reason = reason[:maxReasonLength]
	}

	key := models.ViolationKey{AccountID: req.AccountID, Ref: strings.TrimSpace(req.Ref), Rule: rt}
	removal, err := s.store.RemoveViolation(ctx, key, operator, reason)
	if err != nil {
		if errors.Is(err, sink.ErrViolationNotFound) {
			return nil, ErrViolationNotFound
		}
		return nil, err
	}
	return removal, nil
}

// ListRemovals возвращает аудит снятий (accountID = 0 - по всем счетам)
func (s *ViolationService) ListRemovals(ctx context.Context, accountID int64) ([]models.Removal, error) {
	if accountID < 0 {
		return nil, ErrInvalidViolationKey
	}
	removals, err := s.store.ListRemovals(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if removals == nil {
		removals = []models.Removal{}
	}
	return removals, nil
}
