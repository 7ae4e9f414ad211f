package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

// ============================================================
// Правила по отдельным сделкам
// ============================================================

// MinDurationRule - удержание позиции меньше min_trade_duration_seconds
//
// Признак тиковой торговли: только предупреждение, счёт не нарушает.
type MinDurationRule struct{}

func (MinDurationRule) Type() models.RuleType { return models.RuleTickScalping }

func (MinDurationRule) Check(in *Input) []models.Violation {
	minSec := in.RuleSet.MinTradeDurationSeconds
	if minSec <= 0 {
		return nil
	}
	limit := time.Duration(minSec) * time.Second

	var out []models.Violation
	for i := range in.Snapshot.Closed {
		t := &in.Snapshot.Closed[i]
		d := t.Duration()
		if d >= limit {
			continue
		}
		ev := models.DurationEvidence{
			EvidenceBase:    models.EvidenceBase{Metric: seconds(d), Threshold: decimal.NewFromInt(int64(minSec)), Tickets: []int64{t.Ticket}},
			DurationSeconds: d.Seconds(),
			MinSeconds:      minSec,
		}
		out = append(out, violation(models.RuleTickScalping, models.TicketRef(t.Ticket), models.SeverityWarning, ev,
			"trade %d held for %.1fs, minimum is %ds", t.Ticket, d.Seconds(), minSec))
	}
	return out
}

// LotSizeRule - объём сделки больше max_lot_size группы
type LotSizeRule struct{}

func (LotSizeRule) Type() models.RuleType { return models.RuleLotSize }

func (LotSizeRule) Check(in *Input) []models.Violation {
	if in.RuleSet.MaxLotSize <= 0 {
		return nil
	}
	limit := decimal.NewFromFloat(in.RuleSet.MaxLotSize)

	var out []models.Violation
	for i := range in.Snapshot.Closed {
		t := &in.Snapshot.Closed[i]
		if !t.Volume.GreaterThan(limit) {
			continue
		}
		ev := models.LotSizeEvidence{
			EvidenceBase: models.EvidenceBase{Metric: t.Volume, Threshold: limit, Tickets: []int64{t.Ticket}},
			Symbol:       t.Symbol,
		}
		out = append(out, violation(models.RuleLotSize, models.TicketRef(t.Ticket), models.SeverityCritical, ev,
			"trade %d volume %s lots exceeds maximum %s", t.Ticket, t.Volume.String(), limit.String()))
	}
	return out
}

// ConsistencyRule - прибыль одной сделки больше consistency_max_percent
// от суммарной прибыли всех выигрышных сделок окна
//
// Сумма считается по всему окну, поэтому результат не зависит
// от порядка сделок.
type ConsistencyRule struct{}

func (ConsistencyRule) Type() models.RuleType { return models.RuleConsistency }

func (ConsistencyRule) Check(in *Input) []models.Violation {
	pct := in.RuleSet.ConsistencyMaxPercent
	if pct <= 0 || pct >= 100 {
		return nil
	}

	total := decimal.Zero
	for i := range in.Snapshot.Closed {
		if p := in.Snapshot.Closed[i].Profit; p.IsPositive() {
			total = total.Add(p)
		}
	}
	if !total.IsPositive() {
		return nil
	}
	limit := share(total, pct)

	var out []models.Violation
	for i := range in.Snapshot.Closed {
		t := &in.Snapshot.Closed[i]
		if !t.Profit.GreaterThan(limit) {
			continue
		}
		ev := models.ConsistencyEvidence{
			EvidenceBase: models.EvidenceBase{
				Metric:    t.Profit.Div(total).Mul(hundred).Round(2),
				Threshold: decimal.NewFromFloat(pct),
				Tickets:   []int64{t.Ticket},
			},
			Profit:       t.Profit,
			TotalProfit:  total,
			LimitPercent: pct,
		}
		out = append(out, violation(models.RuleConsistency, models.TicketRef(t.Ticket), models.SeverityBreach, ev,
			"trade %d profit %s is %s%% of total winning profit %s (max %v%%)",
			t.Ticket, t.Profit.StringFixed(2), ev.Metric.String(), total.StringFixed(2), pct))
	}
	return out
}

// MaxTradesPerDayRule - число сделок, открытых за торговый день, больше лимита
type MaxTradesPerDayRule struct{}

func (MaxTradesPerDayRule) Type() models.RuleType { return models.RuleMaxTradesPerDay }

func (MaxTradesPerDayRule) Check(in *Input) []models.Violation {
	limit := in.RuleSet.MaxTradesPerDay
	if limit <= 0 {
		return nil
	}
	snap := in.Snapshot

	byDay := make(map[string][]int64)
	for i := range snap.Closed {
		day := snap.Day(snap.Closed[i].OpenTime)
		byDay[day] = append(byDay[day], snap.Closed[i].Ticket)
	}

	var out []models.Violation
	for _, day := range snap.DayOrder {
		tickets := byDay[day]
		if len(tickets) <= limit {
			continue
		}
		sortTickets(tickets)
		ev := models.TradeCountEvidence{
			EvidenceBase: models.EvidenceBase{
				Metric:    decimal.NewFromInt(int64(len(tickets))),
				Threshold: decimal.NewFromInt(int64(limit)),
				Tickets:   tickets,
			},
			Day:   day,
			Count: len(tickets),
			Limit: limit,
		}
		out = append(out, violation(models.RuleMaxTradesPerDay, models.DayRef(day), models.SeverityWarning, ev,
			"%d trades opened on %s, limit is %d", len(tickets), day, limit))
	}
	return out
}
