package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
	"riskengine/pkg/utils"
)

// ============================================================
// Правила запрещённых окон
// ============================================================
//
// Сделка нарушает окно, если её открытие или закрытие попадает внутрь.
// Открытие проверяется первым: на одну сделку приходится одно нарушение
// каждого правила.

const (
	edgeOpen  = "open"
	edgeClose = "close"
)

type tradeEdge struct {
	name string
	at   time.Time
}

func edges(t *models.Trade) [2]tradeEdge {
	return [2]tradeEdge{{edgeOpen, t.OpenTime}, {edgeClose, t.CloseTime}}
}

func windowViolation(rule models.RuleType, sev models.Severity, t *models.Trade, ev models.WindowEvidence, format string, args ...interface{}) models.Violation {
	ev.Tickets = []int64{t.Ticket}
	ev.Metric = decimal.NewFromInt(ev.At.Unix())
	return violation(rule, models.TicketRef(t.Ticket), sev, ev, format, args...)
}

// TradingHoursRule - открытие или закрытие вне торговой сессии группы
// либо внутри технического окна календаря (blackout)
type TradingHoursRule struct{}

func (TradingHoursRule) Type() models.RuleType { return models.RuleTradingHours }

func (TradingHoursRule) Check(in *Input) []models.Violation {
	rs := in.RuleSet
	snap := in.Snapshot

	var session *utils.ClockWindow
	if rs.TradingHoursEnabled {
		if w, err := utils.ParseClockWindow(rs.TradingStart, rs.TradingEnd); err == nil {
			session = &w
		}
	}

	var blackouts []models.CalendarWindow
	for _, w := range in.Windows {
		if w.Kind == models.WindowBlackout {
			blackouts = append(blackouts, w)
		}
	}
	if session == nil && len(blackouts) == 0 {
		return nil
	}

	var out []models.Violation
	for i := range snap.Closed {
		t := &snap.Closed[i]
		if v, ok := checkSession(t, session, blackouts, snap.Location); ok {
			out = append(out, v)
		}
	}
	return out
}

func checkSession(t *models.Trade, session *utils.ClockWindow, blackouts []models.CalendarWindow, loc *time.Location) (models.Violation, bool) {
	for _, e := range edges(t) {
		if session != nil && !session.Contains(e.at, loc) {
			ev := models.WindowEvidence{Window: models.WindowSession, Label: session.String(), Edge: e.name, At: e.at}
			return windowViolation(models.RuleTradingHours, models.SeverityCritical, t, ev,
				"trade %d %s at %s outside trading session %s", t.Ticket, e.name, e.at.In(loc).Format("15:04"), session.String()), true
		}
		for _, w := range blackouts {
			if w.Contains(e.at, 0) {
				ev := models.WindowEvidence{Window: models.WindowBlackout, Label: w.Label, Start: w.Start, End: w.End, Edge: e.name, At: e.at}
				return windowViolation(models.RuleTradingHours, models.SeverityCritical, t, ev,
					"trade %d %s inside blackout window %q", t.Ticket, e.name, w.Label), true
			}
		}
	}
	return models.Violation{}, false
}

// WeekendRule - открытие или закрытие в субботу или воскресенье
// по таймзоне торгового дня
type WeekendRule struct{}

func (WeekendRule) Type() models.RuleType { return models.RuleWeekend }

func (WeekendRule) Check(in *Input) []models.Violation {
	if in.RuleSet.AllowWeekend {
		return nil
	}
	loc := in.Snapshot.Location

	var out []models.Violation
	for i := range in.Snapshot.Closed {
		t := &in.Snapshot.Closed[i]
		for _, e := range edges(t) {
			if !utils.IsWeekend(e.at, loc) {
				continue
			}
			ev := models.WindowEvidence{Window: models.WindowWeekend, Label: e.at.In(loc).Weekday().String(), Edge: e.name, At: e.at}
			out = append(out, windowViolation(models.RuleWeekend, models.SeverityCritical, t, ev,
				"trade %d %s on %s", t.Ticket, e.name, ev.Label))
			break
		}
	}
	return out
}

// NewsRule - открытие или закрытие в окне новости, расширенном на news_buffer_minutes
type NewsRule struct{}

func (NewsRule) Type() models.RuleType { return models.RuleNewsTrading }

func (NewsRule) Check(in *Input) []models.Violation {
	if in.RuleSet.AllowNewsTrading {
		return nil
	}
	buffer := time.Duration(in.RuleSet.NewsBufferMinutes) * time.Minute

	var news []models.CalendarWindow
	for _, w := range in.Windows {
		if w.Kind == models.WindowNews {
			news = append(news, w)
		}
	}
	if len(news) == 0 {
		return nil
	}

	var out []models.Violation
	for i := range in.Snapshot.Closed {
		t := &in.Snapshot.Closed[i]
	edgeLoop:
		for _, e := range edges(t) {
			for _, w := range news {
				if !w.Contains(e.at, buffer) {
					continue
				}
				ev := models.WindowEvidence{Window: models.WindowNews, Label: w.Label, Start: w.Start, End: w.End, Edge: e.name, At: e.at}
				out = append(out, windowViolation(models.RuleNewsTrading, models.SeverityCritical, t, ev,
					"trade %d %s within %s of news %q", t.Ticket, e.name, buffer, w.Label))
				break edgeLoop
			}
		}
	}
	return out
}
