package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Доказательства нарушений
// ============================================================
//
// Каждое правило формирует доказательство фиксированной схемы.
// Потребители различают варианты по Kind() и приводят к конкретному
// типу через type switch, без разбора произвольных полей.

// EvidenceKind - тег варианта доказательства
type EvidenceKind string

// Варианты доказательств
const (
	EvidenceDrawdown    EvidenceKind = "drawdown"
	EvidenceDailyLoss   EvidenceKind = "daily_loss"
	EvidenceTradeRisk   EvidenceKind = "trade_risk"
	EvidenceDuration    EvidenceKind = "duration"
	EvidenceLotSize     EvidenceKind = "lot_size"
	EvidenceWindow      EvidenceKind = "window"
	EvidenceConsistency EvidenceKind = "consistency"
	EvidenceSequence    EvidenceKind = "sequence"
	EvidenceHedging     EvidenceKind = "hedging"
	EvidenceAutomation  EvidenceKind = "automation"
	EvidenceTradeCount  EvidenceKind = "trade_count"
)

// Evidence - закрытый набор вариантов доказательств
type Evidence interface {
	Kind() EvidenceKind
	Base() EvidenceBase
	sealed()
}

// EvidenceBase - общая часть всех доказательств
type EvidenceBase struct {
	Metric    decimal.Decimal `json:"metric"`    // вычисленное значение
	Threshold decimal.Decimal `json:"threshold"` // порог правила
	Tickets   []int64         `json:"tickets"`   // сделки, приведшие к нарушению
}

// Base возвращает общую часть доказательства
func (b EvidenceBase) Base() EvidenceBase { return b }

func (EvidenceBase) sealed() {}

// DrawdownEvidence - падение equity ниже порога от пика
type DrawdownEvidence struct {
	EvidenceBase
	Peak            decimal.Decimal `json:"peak"`
	DrawdownPercent decimal.Decimal `json:"drawdown_percent"`
	LimitPercent    float64         `json:"limit_percent"`
	At              time.Time       `json:"at"`
}

// Kind возвращает тег варианта
func (DrawdownEvidence) Kind() EvidenceKind { return EvidenceDrawdown }

// DailyLossEvidence - падение equity ниже порога от начала дня
type DailyLossEvidence struct {
	EvidenceBase
	Day          string          `json:"day"`
	StartOfDay   decimal.Decimal `json:"start_of_day"`
	LossPercent  decimal.Decimal `json:"loss_percent"`
	LimitPercent float64         `json:"limit_percent"`
	At           time.Time       `json:"at"`
}

// Kind возвращает тег варианта
func (DailyLossEvidence) Kind() EvidenceKind { return EvidenceDailyLoss }

// TradeRiskEvidence - убыток одной сделки сверх доли начального баланса
type TradeRiskEvidence struct {
	EvidenceBase
	InitialBalance decimal.Decimal `json:"initial_balance"`
	LimitPercent   float64         `json:"limit_percent"`
}

// Kind возвращает тег варианта
func (TradeRiskEvidence) Kind() EvidenceKind { return EvidenceTradeRisk }

// DurationEvidence - слишком короткое удержание позиции
type DurationEvidence struct {
	EvidenceBase
	DurationSeconds float64 `json:"duration_seconds"`
	MinSeconds      int     `json:"min_seconds"`
}

// Kind возвращает тег варианта
func (DurationEvidence) Kind() EvidenceKind { return EvidenceDuration }

// LotSizeEvidence - объём сделки выше лимита группы
type LotSizeEvidence struct {
	EvidenceBase
	Symbol string `json:"symbol"`
}

// Kind возвращает тег варианта
func (LotSizeEvidence) Kind() EvidenceKind { return EvidenceLotSize }

// Виды запрещённых окон
const (
	WindowSession  = "session"
	WindowWeekend  = "weekend"
	WindowBlackout = "blackout"
	WindowNews     = "news"
)

// WindowEvidence - открытие или закрытие сделки внутри запрещённого окна
type WindowEvidence struct {
	EvidenceBase
	Window string    `json:"window"` // session, weekend, blackout, news
	Label  string    `json:"label,omitempty"`
	Start  time.Time `json:"start,omitempty"`
	End    time.Time `json:"end,omitempty"`
	Edge   string    `json:"edge"` // open, close
	At     time.Time `json:"at"`
}

// Kind возвращает тег варианта
func (WindowEvidence) Kind() EvidenceKind { return EvidenceWindow }

// ConsistencyEvidence - концентрация прибыли в одной сделке
type ConsistencyEvidence struct {
	EvidenceBase
	Profit       decimal.Decimal `json:"profit"`
	TotalProfit  decimal.Decimal `json:"total_profit"`
	LimitPercent float64         `json:"limit_percent"`
}

// Kind возвращает тег варианта
func (ConsistencyEvidence) Kind() EvidenceKind { return EvidenceConsistency }

// SequenceEvidence - увеличение объёма после убыточной сделки
type SequenceEvidence struct {
	EvidenceBase
	PriorTicket int64           `json:"prior_ticket"`
	PriorProfit decimal.Decimal `json:"prior_profit"`
	PriorVolume decimal.Decimal `json:"prior_volume"`
	Volume      decimal.Decimal `json:"volume"`
	GapSeconds  float64         `json:"gap_seconds"`
	Multiplier  float64         `json:"multiplier"`
	SameSymbol  bool            `json:"same_symbol"`
}

// Kind возвращает тег варианта
func (SequenceEvidence) Kind() EvidenceKind { return EvidenceSequence }

// HedgingEvidence - встречные позиции по одному символу
type HedgingEvidence struct {
	EvidenceBase
	Symbol         string  `json:"symbol"`
	OpposingTicket int64   `json:"opposing_ticket"`
	OverlapSeconds float64 `json:"overlap_seconds"`
}

// Kind возвращает тег варианта
func (HedgingEvidence) Kind() EvidenceKind { return EvidenceHedging }

// AutomationEvidence - признаки торговли советником
type AutomationEvidence struct {
	EvidenceBase
	MagicNumber      int64  `json:"magic_number,omitempty"`
	Comment          string `json:"comment,omitempty"`
	SubSecondEntries int    `json:"sub_second_entries,omitempty"`
}

// Kind возвращает тег варианта
func (AutomationEvidence) Kind() EvidenceKind { return EvidenceAutomation }

// TradeCountEvidence - превышение числа сделок за торговый день
type TradeCountEvidence struct {
	EvidenceBase
	Day   string `json:"day"`
	Count int    `json:"count"`
	Limit int    `json:"limit"`
}

// Kind возвращает тег варианта
func (TradeCountEvidence) Kind() EvidenceKind { return EvidenceTradeCount }
