package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account представляет торговый счёт участника программы
//
// Счёт поступает из внешней системы (онбординг, расчёты).
// Движок рисков только читает счёт и никогда его не изменяет.
type Account struct {
	ID             int64           `json:"id" db:"id"`
	Group          string          `json:"group" db:"account_group"` // определяет набор правил
	InitialBalance decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`

	// Текущая equity с плавающим P/L. Valid=false - расчётная система
	// её не передала, текущим уровнем считается баланс по закрытым сделкам.
	Equity decimal.NullDecimal `json:"equity" db:"equity"`

	// Снимок equity на начало торгового дня, выставленный расчётной системой.
	// StartOfDayDate - торговый день (YYYY-MM-DD), к которому относится снимок.
	StartOfDayEquity decimal.Decimal `json:"start_of_day_equity" db:"start_of_day_equity"`
	StartOfDayDate   string          `json:"start_of_day_date,omitempty" db:"start_of_day_date"`

	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Статусы счёта
const (
	AccountStatusActive   = "active"
	AccountStatusBreached = "breached"
	AccountStatusPassed   = "passed"
	AccountStatusDisabled = "disabled"
)

// IsValidAccountStatus проверяет статус счёта
func IsValidAccountStatus(s string) bool {
	switch s {
	case AccountStatusActive, AccountStatusBreached, AccountStatusPassed, AccountStatusDisabled:
		return true
	}
	return false
}
