package risk

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"riskengine/internal/models"
	"riskengine/pkg/utils"
)

// ReconstructOptions - граница торгового дня и момент оценки
type ReconstructOptions struct {
	Location     *time.Location // таймзона границы дня, nil = UTC
	RolloverHour int            // час перехода торгового дня
	AsOf         time.Time      // момент оценки текущего equity; zero = не проверять текущий день
}

// EquityPoint - состояние счёта сразу после закрытия сделки
type EquityPoint struct {
	Ticket     int64
	Time       time.Time
	Balance    decimal.Decimal // equity после закрытия
	Peak       decimal.Decimal // пик equity с открытия счёта, включая эту точку
	Day        string          // торговый день закрытия
	StartOfDay decimal.Decimal // equity на начало торгового дня
}

// DayStats - агрегаты торгового дня
type DayStats struct {
	Day        string
	Start      time.Time
	StartOfDay decimal.Decimal
	Realized   decimal.Decimal // реализованный P/L дня
	Closes     int
	Opens      int // сделки, открытые в этот день
}

// Snapshot - восстановленное состояние счёта
//
// Снимок не изменяется после построения и безопасен для чтения
// из нескольких правил.
type Snapshot struct {
	AccountID      int64
	InitialBalance decimal.Decimal
	CurrentEquity  decimal.Decimal
	Peak           decimal.Decimal // максимум из начального баланса, точек equity и текущего equity

	Points []EquityPoint
	Closed []models.Trade // закрытые сделки по времени закрытия, затем по тикету

	Days     map[string]*DayStats
	DayOrder []string

	// Текущий торговый день (если задан AsOf)
	Today           string
	TodayStartOfDay decimal.Decimal
	TodayRealized   decimal.Decimal

	Location     *time.Location
	RolloverHour int
	AsOf         time.Time
}

// Day возвращает идентификатор торгового дня для момента t
func (s *Snapshot) Day(t time.Time) string {
	return utils.TradingDay(t, s.Location, s.RolloverHour)
}

// LastBalance возвращает баланс после последней закрытой сделки
func (s *Snapshot) LastBalance() decimal.Decimal {
	if len(s.Points) == 0 {
		return s.InitialBalance
	}
	return s.Points[len(s.Points)-1].Balance
}

// Reconstruct восстанавливает кривую equity счёта по истории сделок
//
// Открытые сделки игнорируются. Входной срез не изменяется.
// Ошибки: *DataIntegrityError при закрытии до создания счёта,
// закрытии раньше открытия, повторе тикета или чужой сделке.
func Reconstruct(account *models.Account, trades []models.Trade, opts ReconstructOptions) (*Snapshot, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	closed := make([]models.Trade, 0, len(trades))
	seen := make(map[int64]struct{}, len(trades))
	for i := range trades {
		if _, dup := seen[trades[i].Ticket]; dup {
			return nil, &DataIntegrityError{AccountID: account.ID, Ticket: trades[i].Ticket, Reason: ReasonDuplicateTicket}
		}
		seen[trades[i].Ticket] = struct{}{}
		if trades[i].IsClosed() {
			closed = append(closed, trades[i])
		}
	}
	models.SortByClose(closed)

	for i := range closed {
		t := &closed[i]
		switch {
		case t.AccountID != 0 && t.AccountID != account.ID:
			return nil, &DataIntegrityError{AccountID: account.ID, Ticket: t.Ticket, Reason: ReasonForeignTrade}
		case t.CloseTime.Before(t.OpenTime):
			return nil, &DataIntegrityError{AccountID: account.ID, Ticket: t.Ticket, Reason: ReasonCloseBeforeOpen,
				Detail: "close " + t.CloseTime.UTC().Format(time.RFC3339) + " before open " + t.OpenTime.UTC().Format(time.RFC3339)}
		case !account.CreatedAt.IsZero() && t.CloseTime.Before(account.CreatedAt):
			return nil, &DataIntegrityError{AccountID: account.ID, Ticket: t.Ticket, Reason: ReasonIncompleteHistory,
				Detail: "trade closed before account creation"}
		}
	}

	snap := &Snapshot{
		AccountID:      account.ID,
		InitialBalance: account.InitialBalance,
		Closed:         closed,
		Points:         make([]EquityPoint, 0, len(closed)),
		Days:           make(map[string]*DayStats),
		Location:       loc,
		RolloverHour:   opts.RolloverHour,
		AsOf:           opts.AsOf,
	}

	balance := account.InitialBalance
	peak := account.InitialBalance

	for i := range closed {
		t := &closed[i]
		day := snap.Day(t.CloseTime)
		stats := snap.dayStats(day, t.CloseTime, balance, account)

		balance = balance.Add(t.Profit)
		if balance.GreaterThan(peak) {
			peak = balance
		}
		stats.Realized = stats.Realized.Add(t.Profit)
		stats.Closes++

		snap.Points = append(snap.Points, EquityPoint{
			Ticket:     t.Ticket,
			Time:       t.CloseTime,
			Balance:    balance,
			Peak:       peak,
			Day:        day,
			StartOfDay: stats.StartOfDay,
		})
	}

	for i := range closed {
		day := snap.Day(closed[i].OpenTime)
		if stats, ok := snap.Days[day]; ok {
			stats.Opens++
			continue
		}
		// день без закрытий: баланс на начало не нужен правилам
		snap.Days[day] = &DayStats{Day: day, Start: utils.TradingDayStart(closed[i].OpenTime, loc, opts.RolloverHour), Opens: 1}
		snap.DayOrder = append(snap.DayOrder, day)
	}

	sort.Strings(snap.DayOrder)

	snap.CurrentEquity = balance
	if account.Equity.Valid {
		snap.CurrentEquity = account.Equity.Decimal
	}
	snap.Peak = peak
	if snap.CurrentEquity.GreaterThan(peak) {
		snap.Peak = snap.CurrentEquity
	}

	if !opts.AsOf.IsZero() {
		snap.Today = snap.Day(opts.AsOf)
		if stats, ok := snap.Days[snap.Today]; ok && stats.Closes > 0 {
			snap.TodayStartOfDay = stats.StartOfDay
			snap.TodayRealized = stats.Realized
		} else {
			snap.TodayStartOfDay = baselineFor(snap.Today, balance, account)
		}
	}

	return snap, nil
}

// dayStats возвращает агрегаты дня, фиксируя баланс на начало при первом закрытии
func (s *Snapshot) dayStats(day string, at time.Time, balanceBefore decimal.Decimal, account *models.Account) *DayStats {
	if stats, ok := s.Days[day]; ok {
		if stats.Closes == 0 {
			stats.StartOfDay = baselineFor(day, balanceBefore, account)
		}
		return stats
	}
	stats := &DayStats{
		Day:        day,
		Start:      utils.TradingDayStart(at, s.Location, s.RolloverHour),
		StartOfDay: baselineFor(day, balanceBefore, account),
	}
	s.Days[day] = stats
	s.DayOrder = append(s.DayOrder, day)
	return stats
}

// baselineFor возвращает equity на начало дня
//
// Снимок расчётной системы имеет приоритет для своего дня:
// он учитывает плавающий P/L открытых позиций на момент перехода.
func baselineFor(day string, balanceBefore decimal.Decimal, account *models.Account) decimal.Decimal {
	if account.StartOfDayDate == day && !account.StartOfDayEquity.IsZero() {
		return account.StartOfDayEquity
	}
	return balanceBefore
}
