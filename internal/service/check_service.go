package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/batch"
	"riskengine/internal/models"
	"riskengine/internal/risk"
)

// ErrAccountNotFound - счёта нет в источнике данных
var ErrAccountNotFound = errors.New("account not found")

// CheckResult - результат пробной оценки одного счёта
type CheckResult struct {
	AccountID      int64              `json:"account_id"`
	Group          string             `json:"group"`
	RuleSet        string             `json:"rule_set"` // group@vN
	AsOf           time.Time          `json:"as_of"`
	InitialBalance decimal.Decimal    `json:"initial_balance"`
	CurrentEquity  decimal.Decimal    `json:"current_equity"`
	PeakEquity     decimal.Decimal    `json:"peak_equity"`
	TradingDay     string             `json:"trading_day,omitempty"`
	DayStartEquity decimal.Decimal    `json:"day_start_equity"`
	DayRealized    decimal.Decimal    `json:"day_realized"`
	ClosedTrades   int                `json:"closed_trades"`
	Violations     []models.Violation `json:"violations"`
}

// CheckService выполняет оценку одного счёта без записи нарушений.
//
// Используется оператором для проверки счёта до или после смены
// набора правил: результат показывает, что записал бы прогон.
type CheckService struct {
	source    batch.DataSource
	registry  RuleSetRegistryInterface
	evaluator *risk.Evaluator
	now       func() time.Time
}

// NewCheckService создает новый экземпляр CheckService.
//
// evaluator == nil означает полный конвейер правил.
func NewCheckService(source batch.DataSource, registry RuleSetRegistryInterface, evaluator *risk.Evaluator) *CheckService {
	if evaluator == nil {
		evaluator = risk.NewEvaluator()
	}
	return &CheckService{
		source:    source,
		registry:  registry,
		evaluator: evaluator,
		now:       time.Now,
	}
}

// CheckAccount оценивает счёт на момент asOf (zero = сейчас).
//
// Возвращает:
// - ErrAccountNotFound если счёта нет
// - ErrRuleSetNotFound если для группы нет набора правил
// - *risk.DataIntegrityError если история сделок противоречива
func (s *CheckService) CheckAccount(ctx context.Context, accountID int64, asOf time.Time) (*CheckResult, error) {
	if accountID <= 0 {
		return nil, ErrAccountNotFound
	}
	if asOf.IsZero() {
		asOf = s.now()
	}
	asOf = asOf.UTC()

	acc, err := s.source.GetAccount(ctx, accountID)
	if err != nil {
		return nil, mapCheckError(err)
	}

	rs, err := s.registry.Active(ctx, acc.Group)
	if err != nil {
		return nil, mapRuleSetError(err)
	}

	trades, err := s.source.ListTrades(ctx, accountID, time.Time{})
	if err != nil {
		return nil, err
	}

	from := time.Time{}
	if !acc.CreatedAt.IsZero() {
		from = acc.CreatedAt.Add(-24 * time.Hour)
	}
	windows, err := s.source.ListWindows(ctx, from, asOf)
	if err != nil {
		return nil, err
	}

	violations, snap, err := s.evaluator.EvaluateAccount(acc, trades, rs, windows, asOf)
	if err != nil {
		return nil, err
	}
	if violations == nil {
		violations = []models.Violation{}
	}

	return &CheckResult{
		AccountID:      acc.ID,
		Group:          acc.Group,
		RuleSet:        rs.Ref(),
		AsOf:           asOf,
		InitialBalance: snap.InitialBalance,
		CurrentEquity:  snap.CurrentEquity,
		PeakEquity:     snap.Peak,
		TradingDay:     snap.Today,
		DayStartEquity: snap.TodayStartOfDay,
		DayRealized:    snap.TodayRealized,
		ClosedTrades:   len(snap.Closed),
		Violations:     violations,
	}, nil
}

func mapCheckError(err error) error {
	var di *risk.DataIntegrityError
	if errors.As(err, &di) && di.Reason == risk.ReasonMissingAccount {
		return ErrAccountNotFound
	}
	return err
}
