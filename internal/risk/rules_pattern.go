package risk

import (
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
)

// ============================================================
// Эвристики злоупотреблений
// ============================================================

// priorClose возвращает последнюю сделку, закрытую не позже момента at
//
// closed отсортирован по закрытию и тикету; при равном времени
// закрытия последней считается сделка с большим тикетом.
func priorClose(closed []models.Trade, at time.Time, self int64, match func(*models.Trade) bool) *models.Trade {
	idx := sort.Search(len(closed), func(i int) bool { return closed[i].CloseTime.After(at) })
	for i := idx - 1; i >= 0; i-- {
		p := &closed[i]
		if p.Ticket == self {
			continue
		}
		if match == nil || match(p) {
			return p
		}
	}
	return nil
}

func byOpen(closed []models.Trade) []models.Trade {
	out := make([]models.Trade, len(closed))
	copy(out, closed)
	models.SortByOpen(out)
	return out
}

func sortTickets(tickets []int64) {
	sort.Slice(tickets, func(i, j int) bool { return tickets[i] < tickets[j] })
}

// RevengeRule - сделка, открытая вскоре после убыточной, с заметно большим объёмом
//
// Предыдущей считается последняя закрытая до открытия сделка по любому символу.
type RevengeRule struct{}

func (RevengeRule) Type() models.RuleType { return models.RuleRevenge }

func (RevengeRule) Check(in *Input) []models.Violation {
	rs := in.RuleSet
	if rs.RevengeWindowSeconds <= 0 || rs.RevengeVolumeMultiplier <= 0 {
		return nil
	}
	return sequenceViolations(in.Snapshot.Closed, sequenceParams{
		rule:       models.RuleRevenge,
		window:     time.Duration(rs.RevengeWindowSeconds) * time.Second,
		multiplier: rs.RevengeVolumeMultiplier,
		strict:     true,
	})
}

// MartingaleRule - увеличение объёма по тому же символу после убытка
//
// Проверяется только если группе запрещён мартингейл.
type MartingaleRule struct{}

func (MartingaleRule) Type() models.RuleType { return models.RuleMartingale }

func (MartingaleRule) Check(in *Input) []models.Violation {
	rs := in.RuleSet
	if rs.AllowMartingale || rs.MartingaleMultiplier <= 0 || rs.RevengeWindowSeconds <= 0 {
		return nil
	}
	return sequenceViolations(in.Snapshot.Closed, sequenceParams{
		rule:       models.RuleMartingale,
		window:     time.Duration(rs.RevengeWindowSeconds) * time.Second,
		multiplier: rs.MartingaleMultiplier,
		sameSymbol: true,
	})
}

type sequenceParams struct {
	rule       models.RuleType
	window     time.Duration
	multiplier float64
	sameSymbol bool
	strict     bool // объём строго больше prior × multiplier, иначе не меньше
}

func sequenceViolations(closed []models.Trade, p sequenceParams) []models.Violation {
	mult := decimal.NewFromFloat(p.multiplier)

	var out []models.Violation
	for _, t := range byOpen(closed) {
		t := t
		var match func(*models.Trade) bool
		if p.sameSymbol {
			match = func(c *models.Trade) bool { return c.Symbol == t.Symbol }
		}
		prior := priorClose(closed, t.OpenTime, t.Ticket, match)
		if prior == nil || !prior.IsLoss() {
			continue
		}
		gap := t.OpenTime.Sub(prior.CloseTime)
		if gap > p.window {
			continue
		}
		level := prior.Volume.Mul(mult)
		if p.strict && !t.Volume.GreaterThan(level) {
			continue
		}
		if !p.strict && t.Volume.LessThan(level) {
			continue
		}

		ev := models.SequenceEvidence{
			EvidenceBase: models.EvidenceBase{Metric: t.Volume, Threshold: level, Tickets: []int64{prior.Ticket, t.Ticket}},
			PriorTicket:  prior.Ticket,
			PriorProfit:  prior.Profit,
			PriorVolume:  prior.Volume,
			Volume:       t.Volume,
			GapSeconds:   gap.Seconds(),
			Multiplier:   p.multiplier,
			SameSymbol:   prior.Symbol == t.Symbol,
		}
		out = append(out, violation(p.rule, models.TicketRef(t.Ticket), models.SeverityWarning, ev,
			"trade %d opened %.0fs after losing trade %d with volume %s (prior %s)",
			t.Ticket, gap.Seconds(), prior.Ticket, t.Volume.String(), prior.Volume.String()))
	}
	return out
}

// HedgingRule - встречные позиции по одному символу, одновременно
// удерживаемые не меньше hedge_min_overlap_seconds
//
// Нарушение относится к позже открытой сделке.
type HedgingRule struct{}

func (HedgingRule) Type() models.RuleType { return models.RuleHedging }

func (HedgingRule) Check(in *Input) []models.Violation {
	rs := in.RuleSet
	if rs.AllowHedging {
		return nil
	}
	minOverlap := time.Duration(rs.HedgeMinOverlapSeconds) * time.Second

	ordered := byOpen(in.Snapshot.Closed)
	flagged := make(map[int64]models.Violation)

	for i := range ordered {
		first := &ordered[i]
		for j := i + 1; j < len(ordered); j++ {
			second := &ordered[j]
			if !second.OpenTime.Before(first.CloseTime) {
				break
			}
			if second.Symbol != first.Symbol || second.Direction == first.Direction {
				continue
			}
			if _, done := flagged[second.Ticket]; done {
				continue
			}
			overlap := first.Overlap(second)
			if overlap < minOverlap || overlap <= 0 {
				continue
			}
			ev := models.HedgingEvidence{
				EvidenceBase:   models.EvidenceBase{Metric: seconds(overlap), Threshold: decimal.NewFromInt(int64(rs.HedgeMinOverlapSeconds)), Tickets: []int64{first.Ticket, second.Ticket}},
				Symbol:         second.Symbol,
				OpposingTicket: first.Ticket,
				OverlapSeconds: overlap.Seconds(),
			}
			flagged[second.Ticket] = violation(models.RuleHedging, models.TicketRef(second.Ticket), models.SeverityBreach, ev,
				"trade %d %s %s overlaps opposing trade %d for %.1fs",
				second.Ticket, second.Direction, second.Symbol, first.Ticket, overlap.Seconds())
		}
	}

	// порядок вывода - по открытию нарушающей сделки
	var out []models.Violation
	for i := range ordered {
		if v, ok := flagged[ordered[i].Ticket]; ok {
			out = append(out, v)
		}
	}
	return out
}

var eaKeywords = []string{"expert", "robot", "bot", "auto"}

// commentLooksAutomated ищет в комментарии признаки советника
func commentLooksAutomated(comment string) bool {
	words := strings.FieldsFunc(strings.ToLower(comment), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if w == "ea" {
			return true
		}
		for _, k := range eaKeywords {
			if strings.HasPrefix(w, k) {
				return true
			}
		}
	}
	return false
}

// AutomationRule - признаки торговли советником, если группе он запрещён
//
// Ненулевой magic number - нарушение сделки. Комментарий с признаками
// советника - предупреждение. Субсекундные интервалы между входами,
// повторившиеся не меньше ea_sensitivity раз, отмечают счёт целиком
// (ref "pattern:automation").
type AutomationRule struct{}

func (AutomationRule) Type() models.RuleType { return models.RuleEADetected }

func (AutomationRule) Check(in *Input) []models.Violation {
	rs := in.RuleSet
	if rs.AllowEA {
		return nil
	}

	var out []models.Violation
	for i := range in.Snapshot.Closed {
		t := &in.Snapshot.Closed[i]
		switch {
		case t.MagicNumber != 0:
			ev := models.AutomationEvidence{
				EvidenceBase: models.EvidenceBase{Metric: decimal.NewFromInt(t.MagicNumber), Threshold: decimal.Zero, Tickets: []int64{t.Ticket}},
				MagicNumber:  t.MagicNumber,
			}
			out = append(out, violation(models.RuleEADetected, models.TicketRef(t.Ticket), models.SeverityBreach, ev,
				"trade %d placed by expert advisor (magic number %d)", t.Ticket, t.MagicNumber))
		case commentLooksAutomated(t.Comment):
			ev := models.AutomationEvidence{
				EvidenceBase: models.EvidenceBase{Metric: decimal.Zero, Threshold: decimal.Zero, Tickets: []int64{t.Ticket}},
				Comment:      t.Comment,
			}
			out = append(out, violation(models.RuleEADetected, models.TicketRef(t.Ticket), models.SeverityWarning, ev,
				"trade %d comment %q suggests automated trading", t.Ticket, t.Comment))
		}
	}

	if rs.EASensitivity <= 0 {
		return out
	}

	ordered := byOpen(in.Snapshot.Closed)
	involved := make(map[int64]struct{})
	count := 0
	for i := 1; i < len(ordered); i++ {
		gap := ordered[i].OpenTime.Sub(ordered[i-1].OpenTime)
		if gap < time.Second {
			count++
			involved[ordered[i-1].Ticket] = struct{}{}
			involved[ordered[i].Ticket] = struct{}{}
		}
	}
	if count >= rs.EASensitivity {
		tickets := make([]int64, 0, len(involved))
		for tk := range involved {
			tickets = append(tickets, tk)
		}
		sortTickets(tickets)
		ev := models.AutomationEvidence{
			EvidenceBase:     models.EvidenceBase{Metric: decimal.NewFromInt(int64(count)), Threshold: decimal.NewFromInt(int64(rs.EASensitivity)), Tickets: tickets},
			SubSecondEntries: count,
		}
		out = append(out, violation(models.RuleEADetected, models.RefAutomation, models.SeverityCritical, ev,
			"%d sub-second re-entries detected (sensitivity %d)", count, rs.EASensitivity))
	}
	return out
}
