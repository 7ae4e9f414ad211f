package risk

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

// ============================================================
// Rule Evaluator
// ============================================================
//
// Оценка - чистая функция от снимка счёта, истории сделок, набора
// правил и календарных окон. Все правила выполняются независимо,
// даже если предыдущее уже нашло нарушение. Порядок кандидатов:
// порядок правил в конвейере, внутри правила - хронологический.

// Input - входные данные одной оценки
type Input struct {
	Snapshot *Snapshot
	RuleSet  *models.RuleSetConfig
	Windows  []models.CalendarWindow // новости и технические окна из календаря
}

// Rule - независимая проверка
//
// Check возвращает кандидатов без метаданных прогона; AccountID
// проставляет Evaluator.
type Rule interface {
	Type() models.RuleType
	Check(in *Input) []models.Violation
}

// Evaluator выполняет конвейер правил
type Evaluator struct {
	rules []Rule
}

// NewEvaluator создаёт оценщик с указанными правилами
//
// Без аргументов используется DefaultRules().
func NewEvaluator(rules ...Rule) *Evaluator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Evaluator{rules: rules}
}

// DefaultRules возвращает полный конвейер в каноническом порядке
func DefaultRules() []Rule {
	return []Rule{
		MaxDrawdownRule{},
		DailyLossRule{},
		DailyLossWarningRule{},
		RiskPerTradeRule{},
		MinDurationRule{},
		LotSizeRule{},
		TradingHoursRule{},
		WeekendRule{},
		NewsRule{},
		ConsistencyRule{},
		RevengeRule{},
		MartingaleRule{},
		HedgingRule{},
		AutomationRule{},
		MaxTradesPerDayRule{},
	}
}

// Rules возвращает типы правил конвейера
func (e *Evaluator) Rules() []models.RuleType {
	out := make([]models.RuleType, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.Type()
	}
	return out
}

// Evaluate возвращает кандидатов в нарушения
//
// Кандидаты с одинаковым ключом схлопываются в первого.
func (e *Evaluator) Evaluate(in *Input) []models.Violation {
	if in == nil || in.Snapshot == nil || in.RuleSet == nil {
		return nil
	}

	var out []models.Violation
	seen := make(map[models.ViolationKey]struct{})

	for _, rule := range e.rules {
		for _, v := range rule.Check(in) {
			v.AccountID = in.Snapshot.AccountID
			if v.Rule == "" {
				v.Rule = rule.Type()
			}
			key := v.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

// EvaluateAccount восстанавливает снимок и выполняет конвейер
//
// Граница торгового дня берётся из набора правил.
func (e *Evaluator) EvaluateAccount(account *models.Account, trades []models.Trade, rs *models.RuleSetConfig,
	windows []models.CalendarWindow, asOf time.Time) ([]models.Violation, *Snapshot, error) {
	loc, err := rs.Location()
	if err != nil {
		return nil, nil, &ConfigurationError{Group: rs.Group, Err: err}
	}

	snap, err := Reconstruct(account, trades, ReconstructOptions{
		Location:     loc,
		RolloverHour: rs.DailyRolloverHour,
		AsOf:         asOf,
	})
	if err != nil {
		return nil, nil, err
	}

	return e.Evaluate(&Input{Snapshot: snap, RuleSet: rs, Windows: windows}), snap, nil
}

// ============================================================
// Хелперы для правил
// ============================================================

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// levelBelow возвращает base × (1 − pct/100)
func levelBelow(base decimal.Decimal, pct float64) decimal.Decimal {
	return base.Mul(one.Sub(decimal.NewFromFloat(pct).Div(hundred)))
}

// share возвращает base × pct/100
func share(base decimal.Decimal, pct float64) decimal.Decimal {
	return base.Mul(decimal.NewFromFloat(pct)).Div(hundred)
}

// percentDrop возвращает падение от base до value в процентах
func percentDrop(base, value decimal.Decimal) decimal.Decimal {
	if base.IsZero() {
		return decimal.Zero
	}
	return base.Sub(value).Div(base).Mul(hundred).Round(4)
}

func seconds(d time.Duration) decimal.Decimal {
	return decimal.NewFromFloat(d.Seconds()).Round(3)
}

func violation(rule models.RuleType, ref string, sev models.Severity, ev models.Evidence, format string, args ...interface{}) models.Violation {
	return models.Violation{
		Ref:         ref,
		Rule:        rule,
		Severity:    sev,
		Evidence:    ev,
		Description: fmt.Sprintf(format, args...),
	}
}
