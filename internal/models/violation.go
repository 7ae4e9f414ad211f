package models

import (
	"fmt"
	"time"
)

// RuleType - тип правила риска
type RuleType string

// Типы правил
const (
	RuleMaxDrawdown      RuleType = "max_drawdown"
	RuleDailyLoss        RuleType = "daily_loss"
	RuleDailyLossWarning RuleType = "daily_loss_warning"
	RuleRiskPerTrade     RuleType = "max_risk_per_trade"
	RuleTickScalping     RuleType = "tick_scalping"
	RuleLotSize          RuleType = "lot_size"
	RuleTradingHours     RuleType = "trading_hours"
	RuleWeekend          RuleType = "weekend_trading"
	RuleNewsTrading      RuleType = "news_trading"
	RuleConsistency      RuleType = "consistency"
	RuleRevenge          RuleType = "revenge_trading"
	RuleMartingale       RuleType = "martingale"
	RuleHedging          RuleType = "hedging"
	RuleEADetected       RuleType = "ea_detected"
	RuleMaxTradesPerDay  RuleType = "max_trades_per_day"
)

// AllRuleTypes возвращает все типы правил в порядке конвейера
func AllRuleTypes() []RuleType {
	return []RuleType{
		RuleMaxDrawdown, RuleDailyLoss, RuleDailyLossWarning, RuleRiskPerTrade,
		RuleTickScalping, RuleLotSize, RuleTradingHours, RuleWeekend, RuleNewsTrading,
		RuleConsistency, RuleRevenge, RuleMartingale, RuleHedging, RuleEADetected,
		RuleMaxTradesPerDay,
	}
}

// IsValidRuleType проверяет тип правила
func IsValidRuleType(rt RuleType) bool {
	for _, t := range AllRuleTypes() {
		if t == rt {
			return true
		}
	}
	return false
}

// Severity - серьёзность нарушения
type Severity string

// Уровни серьёзности
const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityBreach   Severity = "breach"
)

// Ref-идентификаторы окон, к которым привязываются нарушения
const (
	RefAccount    = "account"
	RefAutomation = "pattern:automation"
)

// TicketRef возвращает ref нарушения по конкретной сделке
func TicketRef(ticket int64) string {
	return fmt.Sprintf("ticket:%d", ticket)
}

// DayRef возвращает ref нарушения по торговому дню
func DayRef(day string) string {
	return "day:" + day
}

// ViolationKey - составной ключ нарушения (уникален в хранилище)
type ViolationKey struct {
	AccountID int64    `json:"account_id"`
	Ref       string   `json:"ref"`
	Rule      RuleType `json:"rule_type"`
}

// String возвращает ключ в виде account/ref/rule
func (k ViolationKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.AccountID, k.Ref, k.Rule)
}

// Violation - зафиксированное нарушение правила риска
type Violation struct {
	ID          int64     `json:"id" db:"id"`
	AccountID   int64     `json:"account_id" db:"account_id"`
	Ref         string    `json:"ref" db:"ref"`
	Rule        RuleType  `json:"rule_type" db:"rule_type"`
	Severity    Severity  `json:"severity" db:"severity"`
	Evidence    Evidence  `json:"-" db:"evidence"`
	Description string    `json:"description" db:"description"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"` // blake2b от ключа и доказательств

	RuleSetID      int64  `json:"rule_set_id" db:"rule_set_id"`
	RuleSetVersion int    `json:"rule_set_version" db:"rule_set_version"`
	RunID          string `json:"run_id,omitempty" db:"run_id"`

	EvaluatedAt time.Time `json:"evaluated_at" db:"evaluated_at"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Key возвращает составной ключ нарушения
func (v *Violation) Key() ViolationKey {
	return ViolationKey{AccountID: v.AccountID, Ref: v.Ref, Rule: v.Rule}
}

// Removal - аудит ручного снятия нарушения (ложное срабатывание)
//
// Снятие необратимо: нарушение с тем же отпечатком доказательств
// больше не записывается. Новые доказательства по тому же ключу
// фиксируются заново.
type Removal struct {
	ID          string    `json:"id" db:"id"` // uuid
	AccountID   int64     `json:"account_id" db:"account_id"`
	Ref         string    `json:"ref" db:"ref"`
	Rule        RuleType  `json:"rule_type" db:"rule_type"`
	Fingerprint string    `json:"fingerprint" db:"fingerprint"`
	Evidence    Evidence  `json:"-" db:"evidence"`
	Operator    string    `json:"operator" db:"operator"`
	Reason      string    `json:"reason" db:"reason"`
	RemovedAt   time.Time `json:"removed_at" db:"removed_at"`
}
