package risk

import (
	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

// ============================================================
// Правила по кривой equity
// ============================================================
//
// Сравнения строгие: equity, равный порогу, нарушением не считается.

// MaxDrawdownRule - падение equity ниже пика × (1 − max_drawdown_percent/100)
//
// Пик - максимум из начального баланса и всех предыдущих точек equity.
// Одно нарушение на счёт (ref "account"), по первой точке пробоя.
type MaxDrawdownRule struct{}

func (MaxDrawdownRule) Type() models.RuleType { return models.RuleMaxDrawdown }

func (r MaxDrawdownRule) Check(in *Input) []models.Violation {
	pct := in.RuleSet.MaxDrawdownPercent
	if pct <= 0 {
		return nil
	}
	snap := in.Snapshot

	for _, p := range snap.Points {
		level := levelBelow(p.Peak, pct)
		if p.Balance.LessThan(level) {
			return []models.Violation{r.breach(p.Balance, p.Peak, level, pct, []int64{p.Ticket}, p)}
		}
	}

	// текущий equity включает плавающий P/L открытых позиций
	peak := snap.InitialBalance
	if n := len(snap.Points); n > 0 {
		peak = snap.Points[n-1].Peak
	}
	level := levelBelow(peak, pct)
	if snap.CurrentEquity.LessThan(level) {
		return []models.Violation{r.breach(snap.CurrentEquity, peak, level, pct, nil, EquityPoint{})}
	}
	return nil
}

func (MaxDrawdownRule) breach(equity, peak, level decimal.Decimal, pct float64, tickets []int64, p EquityPoint) models.Violation {
	ev := models.DrawdownEvidence{
		EvidenceBase:    models.EvidenceBase{Metric: equity, Threshold: level, Tickets: tickets},
		Peak:            peak,
		DrawdownPercent: percentDrop(peak, equity),
		LimitPercent:    pct,
		At:              p.Time,
	}
	return violation(models.RuleMaxDrawdown, models.RefAccount, models.SeverityBreach, ev,
		"equity %s fell below max drawdown level %s (peak %s, limit %v%%)",
		equity.StringFixed(2), level.StringFixed(2), peak.StringFixed(2), pct)
}

// DailyLossRule - equity после закрытия ниже начала дня × (1 − max_daily_loss_percent/100)
//
// Одно нарушение на торговый день (ref "day:YYYY-MM-DD"), по первому
// пробивающему закрытию. Для текущего дня дополнительно проверяется
// текущий equity.
type DailyLossRule struct{}

func (DailyLossRule) Type() models.RuleType { return models.RuleDailyLoss }

func (r DailyLossRule) Check(in *Input) []models.Violation {
	pct := in.RuleSet.MaxDailyLossPercent
	if pct <= 0 {
		return nil
	}
	return dailyBreaches(in.Snapshot, pct, models.RuleDailyLoss, models.SeverityBreach, nil)
}

// DailyLossWarningRule - ранее предупреждение на доле дневного лимита
//
// Выдаётся только за дни без пробоя самого лимита.
type DailyLossWarningRule struct{}

func (DailyLossWarningRule) Type() models.RuleType { return models.RuleDailyLossWarning }

func (DailyLossWarningRule) Check(in *Input) []models.Violation {
	pct := in.RuleSet.MaxDailyLossPercent
	ratio := in.RuleSet.DailyLossWarningRatio
	if pct <= 0 || ratio <= 0 || ratio >= 1 {
		return nil
	}

	breached := make(map[string]struct{})
	for _, v := range dailyBreaches(in.Snapshot, pct, models.RuleDailyLoss, models.SeverityBreach, nil) {
		breached[v.Ref] = struct{}{}
	}
	return dailyBreaches(in.Snapshot, pct*ratio, models.RuleDailyLossWarning, models.SeverityWarning, breached)
}

// dailyBreaches находит первый пробой уровня за каждый торговый день
func dailyBreaches(snap *Snapshot, pct float64, rule models.RuleType, sev models.Severity, skip map[string]struct{}) []models.Violation {
	var out []models.Violation
	hit := make(map[string]struct{})

	emit := func(day string, equity, sod decimal.Decimal, p *EquityPoint) {
		ref := models.DayRef(day)
		if _, ok := hit[day]; ok {
			return
		}
		if _, ok := skip[ref]; ok {
			return
		}
		level := levelBelow(sod, pct)
		if !equity.LessThan(level) {
			return
		}
		hit[day] = struct{}{}

		ev := models.DailyLossEvidence{
			EvidenceBase: models.EvidenceBase{Metric: equity, Threshold: level},
			Day:          day,
			StartOfDay:   sod,
			LossPercent:  percentDrop(sod, equity),
			LimitPercent: pct,
		}
		if p != nil {
			ev.Tickets = []int64{p.Ticket}
			ev.At = p.Time
		}
		out = append(out, violation(rule, ref, sev, ev,
			"equity %s fell below daily level %s on %s (start of day %s, limit %v%%)",
			equity.StringFixed(2), level.StringFixed(2), day, sod.StringFixed(2), pct))
	}

	for i := range snap.Points {
		p := &snap.Points[i]
		emit(p.Day, p.Balance, p.StartOfDay, p)
	}
	if snap.Today != "" {
		emit(snap.Today, snap.CurrentEquity, snap.TodayStartOfDay, nil)
	}
	return out
}

// RiskPerTradeRule - убыток одной сделки больше доли начального баланса
type RiskPerTradeRule struct{}

func (RiskPerTradeRule) Type() models.RuleType { return models.RuleRiskPerTrade }

func (RiskPerTradeRule) Check(in *Input) []models.Violation {
	pct := in.RuleSet.MaxRiskPerTradePct
	if pct <= 0 {
		return nil
	}
	limit := share(in.Snapshot.InitialBalance, pct)

	var out []models.Violation
	for i := range in.Snapshot.Closed {
		t := &in.Snapshot.Closed[i]
		loss := t.Profit.Neg()
		if !loss.GreaterThan(limit) {
			continue
		}
		ev := models.TradeRiskEvidence{
			EvidenceBase:   models.EvidenceBase{Metric: loss, Threshold: limit, Tickets: []int64{t.Ticket}},
			InitialBalance: in.Snapshot.InitialBalance,
			LimitPercent:   pct,
		}
		out = append(out, violation(models.RuleRiskPerTrade, models.TicketRef(t.Ticket), models.SeverityBreach, ev,
			"trade %d lost %s, above %v%% of initial balance (%s)", t.Ticket, loss.StringFixed(2), pct, limit.StringFixed(2)))
	}
	return out
}
