package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Trade - сделка по счёту
//
// Закрытая сделка неизменяема. Открытая сделка имеет нулевой CloseTime
// и не участвует в проверках правил.
type Trade struct {
	Ticket      int64           `json:"ticket" db:"ticket"` // уникален в пределах счёта
	AccountID   int64           `json:"account_id" db:"account_id"`
	Symbol      string          `json:"symbol" db:"symbol"`
	Direction   string          `json:"direction" db:"direction"` // buy, sell
	Type        string          `json:"type" db:"trade_type"`     // market, pending
	Volume      decimal.Decimal `json:"volume" db:"volume"`       // в лотах
	OpenTime    time.Time       `json:"open_time" db:"open_time"`
	CloseTime   time.Time       `json:"close_time,omitempty" db:"close_time"`
	Profit      decimal.Decimal `json:"profit" db:"profit"`
	MagicNumber int64           `json:"magic_number,omitempty" db:"magic_number"` // ненулевой у советников
	Comment     string          `json:"comment,omitempty" db:"comment"`
}

// Направления сделки
const (
	DirectionBuy  = "buy"
	DirectionSell = "sell"
)

// Типы сделки
const (
	TradeTypeMarket  = "market"
	TradeTypePending = "pending"
)

// IsClosed возвращает true если сделка закрыта
func (t *Trade) IsClosed() bool {
	return !t.CloseTime.IsZero()
}

// Duration возвращает время удержания позиции
func (t *Trade) Duration() time.Duration {
	if !t.IsClosed() {
		return 0
	}
	return t.CloseTime.Sub(t.OpenTime)
}

// IsLoss возвращает true для убыточной сделки
func (t *Trade) IsLoss() bool {
	return t.Profit.IsNegative()
}

// Overlap возвращает длительность одновременного удержания двух закрытых сделок
func (t *Trade) Overlap(other *Trade) time.Duration {
	start := t.OpenTime
	if other.OpenTime.After(start) {
		start = other.OpenTime
	}
	end := t.CloseTime
	if other.CloseTime.Before(end) {
		end = other.CloseTime
	}
	if !end.After(start) {
		return 0
	}
	return end.Sub(start)
}

// SortByClose сортирует сделки по времени закрытия, при равенстве - по тикету
func SortByClose(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].CloseTime.Equal(trades[j].CloseTime) {
			return trades[i].CloseTime.Before(trades[j].CloseTime)
		}
		return trades[i].Ticket < trades[j].Ticket
	})
}

// SortByOpen сортирует сделки по времени открытия, при равенстве - по тикету
func SortByOpen(trades []Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		if !trades[i].OpenTime.Equal(trades[j].OpenTime) {
			return trades[i].OpenTime.Before(trades[j].OpenTime)
		}
		return trades[i].Ticket < trades[j].Ticket
	})
}
