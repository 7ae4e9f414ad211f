package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// time.go - утилиты для работы со временем
//
// Назначение:
// Границы торгового дня, разбор торговых сессий и форматирование
// длительностей для отчётов.
//
// Торговый день начинается в rolloverHour по таймзоне брокера.
// Например, при rolloverHour=17 и America/New_York сделка,
// закрытая в 18:00 по Нью-Йорку, относится к следующему дню.

// DayLayout - формат идентификатора торгового дня
const DayLayout = "2006-01-02"

// ============================================================
// Торговый день
// ============================================================

// TradingDayStart возвращает начало торгового дня, содержащего t
//
// Пример:
//
//	// t: 2024-01-15 03:00 UTC, rolloverHour = 5
//	start := TradingDayStart(t, time.UTC, 5)
//	// start: 2024-01-14 05:00 UTC
func TradingDayStart(t time.Time, loc *time.Location, rolloverHour int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), rolloverHour, 0, 0, 0, loc)
	if local.Before(start) {
		start = time.Date(local.Year(), local.Month(), local.Day()-1, rolloverHour, 0, 0, 0, loc)
	}
	return start
}

// TradingDay возвращает идентификатор торгового дня (YYYY-MM-DD)
//
// День именуется по календарной дате его начала.
func TradingDay(t time.Time, loc *time.Location, rolloverHour int) string {
	return TradingDayStart(t, loc, rolloverHour).Format(DayLayout)
}

// IsWeekend проверяет что момент приходится на субботу или воскресенье в loc
func IsWeekend(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	switch t.In(loc).Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

// ============================================================
// Торговые сессии
// ============================================================

// ParseClock разбирает время суток "HH:MM" в минуты от полуночи
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("invalid clock %q: expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// ClockWindow - ежедневное окно времени суток [Start, End) в минутах
//
// Start > End означает окно через полночь (например 22:00-06:00).
// Start == End означает круглосуточное окно.
type ClockWindow struct {
	Start int
	End   int
}

// ParseClockWindow разбирает пару "HH:MM"
func ParseClockWindow(start, end string) (ClockWindow, error) {
	s, err := ParseClock(start)
	if err != nil {
		return ClockWindow{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return ClockWindow{}, err
	}
	return ClockWindow{Start: s, End: e}, nil
}

// Contains проверяет попадание момента в окно по времени суток в loc
func (w ClockWindow) Contains(t time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	if w.Start == w.End {
		return true
	}
	local := t.In(loc)
	m := local.Hour()*60 + local.Minute()
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// String возвращает окно в формате HH:MM-HH:MM
func (w ClockWindow) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.Start/60, w.Start%60, w.End/60, w.End%60)
}

// ============================================================
// Форматирование времени
// ============================================================

// FormatDuration форматирует продолжительность в человекочитаемый формат
//
// Примеры:
//   - "45s"
//   - "5m30s"
//   - "2h15m0s"
//   - "1.5s" для длительностей меньше минуты с дробной частью
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Minute {
		return d.Round(100 * time.Millisecond).String()
	}
	if d < time.Hour {
		return d.Round(time.Second).String()
	}
	return d.Round(time.Minute).String()
}
