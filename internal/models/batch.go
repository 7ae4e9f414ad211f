package models

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Selector - выборка счетов для пакетного прогона
//
// Пустая выборка означает все счета со статусом active.
// Ключ выборки (Key) используется для поиска незавершённого прогона
// при повторном запуске.
type Selector struct {
	Group      string  `json:"group,omitempty"`
	Status     string  `json:"status,omitempty"`
	AccountIDs []int64 `json:"account_ids,omitempty"`
}

// Normalize применяет значения по умолчанию и упорядочивает список ID
func (s Selector) Normalize() Selector {
	out := Selector{
		Group:  strings.TrimSpace(s.Group),
		Status: strings.TrimSpace(s.Status),
	}
	if out.Status == "" {
		out.Status = AccountStatusActive
	}
	if len(s.AccountIDs) > 0 {
		ids := make([]int64, 0, len(s.AccountIDs))
		seen := make(map[int64]struct{}, len(s.AccountIDs))
		for _, id := range s.AccountIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		out.AccountIDs = ids
	}
	return out
}

// Key возвращает каноничное строковое представление выборки
func (s Selector) Key() string {
	n := s.Normalize()
	var b strings.Builder
	b.WriteString("group=")
	b.WriteString(n.Group)
	b.WriteString(";status=")
	b.WriteString(n.Status)
	if len(n.AccountIDs) > 0 {
		b.WriteString(";ids=")
		for i, id := range n.AccountIDs {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatInt(id, 10))
		}
	}
	return b.String()
}

// Статусы прогона
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusAborted   = "aborted"
)

// Итоги обработки счёта в прогоне
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeRetried   OutcomeStatus = "retried" // успех после повторных попыток
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeExcluded  OutcomeStatus = "excluded" // ошибка данных или конфигурации
)

// BreakerSnapshot - состояние circuit breaker на момент сохранения
type BreakerSnapshot struct {
	State    string        `json:"state"`
	Trips    int           `json:"trips"`
	CoolDown time.Duration `json:"cool_down"`
}

// BatchRun - запись пакетного прогона (чекпоинт для возобновления)
type BatchRun struct {
	ID            string          `json:"id" db:"id"` // ULID
	SelectorKey   string          `json:"selector_key" db:"selector_key"`
	Selector      Selector        `json:"selector" db:"selector"`
	Status        string          `json:"status" db:"status"`
	TotalAccounts int             `json:"total_accounts" db:"total_accounts"`
	Cursor        int64           `json:"cursor" db:"cursor"` // все ID <= cursor обработаны
	Breaker       BreakerSnapshot `json:"breaker" db:"breaker"`
	Summary       []byte          `json:"-" db:"summary"` // итоговый отчёт в JSON
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// IsTerminal возвращает true для завершённого или прерванного прогона
func (r *BatchRun) IsTerminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusAborted
}

// AccountOutcome - результат обработки одного счёта в прогоне
type AccountOutcome struct {
	RunID              string           `json:"run_id" db:"run_id"`
	AccountID          int64            `json:"account_id" db:"account_id"`
	Status             OutcomeStatus    `json:"status" db:"status"`
	Attempts           int              `json:"attempts" db:"attempts"`
	ErrorClass         string           `json:"error_class,omitempty" db:"error_class"`
	Error              string           `json:"error,omitempty" db:"error"`
	NewViolations      int              `json:"new_violations" db:"new_violations"`
	ExistingViolations int              `json:"existing_violations" db:"existing_violations"`
	ViolationsByRule   map[RuleType]int `json:"violations_by_rule,omitempty" db:"violations_by_rule"`
	Duration           time.Duration    `json:"duration" db:"duration_ms"`
	CompletedAt        time.Time        `json:"completed_at" db:"completed_at"`
}

// CalendarWindow - внешнее окно запрета торговли (новости, технический перерыв)
type CalendarWindow struct {
	ID    int64     `json:"id" db:"id"`
	Kind  string    `json:"kind" db:"kind"` // news, blackout
	Label string    `json:"label" db:"label"`
	Start time.Time `json:"start" db:"starts_at"`
	End   time.Time `json:"end" db:"ends_at"`
}

// Contains проверяет попадание момента в окно, расширенное на buffer с обеих сторон
func (w CalendarWindow) Contains(t time.Time, buffer time.Duration) bool {
	start := w.Start.Add(-buffer)
	end := w.End.Add(buffer)
	return !t.Before(start) && !t.After(end)
}

// String возвращает описание окна для логов
func (w CalendarWindow) String() string {
	return fmt.Sprintf("%s %q [%s, %s]", w.Kind, w.Label, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}
