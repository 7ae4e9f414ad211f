package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	jsoniter "github.com/json-iterator/go"

	"riskengine/internal/models"
	"riskengine/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============================================================
// Run Reporter
// ============================================================
//
// Reporter принадлежит диспетчеру прогона: исходы добавляет один поток.
// Summary - неизменяемый снимок, который можно отдавать в API и CLI.

// FailedAccount - счёт, не прошедший оценку
type FailedAccount struct {
	AccountID  int64                `json:"account_id"`
	Status     models.OutcomeStatus `json:"status"` // failed или excluded
	ErrorClass string               `json:"error_class"`
	Error      string               `json:"error"`
	Attempts   int                  `json:"attempts"`
}

// Summary - итог пакетного прогона
type Summary struct {
	RunID       string `json:"run_id"`
	SelectorKey string `json:"selector_key"`
	Status      string `json:"status"`

	TotalAccounts int `json:"total_accounts"`
	Processed     int `json:"processed"`
	Succeeded     int `json:"succeeded"`
	Retried       int `json:"retried"`
	Failed        int `json:"failed"`
	Excluded      int `json:"excluded"`

	NewViolations      int                     `json:"new_violations"`
	ExistingViolations int                     `json:"existing_violations"`
	ViolationsByRule   map[models.RuleType]int `json:"violations_by_rule"`

	Failures []FailedAccount   `json:"failures"`
	RuleSets map[string]string `json:"rule_sets,omitempty"` // group -> group@vN

	StartedAt         time.Time     `json:"started_at"`
	FinishedAt        time.Time     `json:"finished_at"`
	Duration          time.Duration `json:"duration"`
	AccountsPerSecond float64       `json:"accounts_per_second"`
	AvgAccountLatency time.Duration `json:"avg_account_latency"`

	Breaker models.BreakerSnapshot `json:"breaker"`
}

// Reporter накапливает исходы счетов прогона
type Reporter struct {
	runID       string
	selectorKey string
	total       int
	startedAt   time.Time

	outcomes map[int64]models.AccountOutcome
	session  int // исходы текущего запуска (для пропускной способности)
	latency  time.Duration
}

// NewReporter создаёт отчёт прогона
func NewReporter(runID, selectorKey string, total int, startedAt time.Time) *Reporter {
	return &Reporter{
		runID:       runID,
		selectorKey: selectorKey,
		total:       total,
		startedAt:   startedAt,
		outcomes:    make(map[int64]models.AccountOutcome),
	}
}

// Seed загружает исходы предыдущего запуска возобновлённого прогона
func (r *Reporter) Seed(outcomes []models.AccountOutcome) {
	for _, o := range outcomes {
		r.outcomes[o.AccountID] = o
	}
}

// Add учитывает исход счёта; повторный исход счёта заменяет прежний
func (r *Reporter) Add(o models.AccountOutcome) {
	r.outcomes[o.AccountID] = o
	r.session++
	r.latency += o.Duration
}

// Has проверяет, есть ли исход по счёту
func (r *Reporter) Has(accountID int64) bool {
	_, ok := r.outcomes[accountID]
	return ok
}

// Processed возвращает число счетов с исходом
func (r *Reporter) Processed() int { return len(r.outcomes) }

// Summary строит снимок отчёта
func (r *Reporter) Summary(status string, breaker models.BreakerSnapshot, finishedAt time.Time) *Summary {
	s := &Summary{
		RunID:            r.runID,
		SelectorKey:      r.selectorKey,
		Status:           status,
		TotalAccounts:    r.total,
		Processed:        len(r.outcomes),
		ViolationsByRule: make(map[models.RuleType]int),
		Failures:         []FailedAccount{},
		StartedAt:        r.startedAt,
		FinishedAt:       finishedAt,
		Duration:         finishedAt.Sub(r.startedAt),
		Breaker:          breaker,
	}
	if s.Processed > s.TotalAccounts {
		s.TotalAccounts = s.Processed
	}

	for _, o := range r.outcomes {
		switch o.Status {
		case models.OutcomeSucceeded:
			s.Succeeded++
		case models.OutcomeRetried:
			s.Retried++
		case models.OutcomeFailed:
			s.Failed++
		case models.OutcomeExcluded:
			s.Excluded++
		}
		if o.Status == models.OutcomeFailed || o.Status == models.OutcomeExcluded {
			s.Failures = append(s.Failures, FailedAccount{
				AccountID:  o.AccountID,
				Status:     o.Status,
				ErrorClass: o.ErrorClass,
				Error:      o.Error,
				Attempts:   o.Attempts,
			})
		}
		s.NewViolations += o.NewViolations
		s.ExistingViolations += o.ExistingViolations
		for rule, n := range o.ViolationsByRule {
			s.ViolationsByRule[rule] += n
		}
	}
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].AccountID < s.Failures[j].AccountID })

	if secs := s.Duration.Seconds(); secs > 0 {
		s.AccountsPerSecond = float64(r.session) / secs
	}
	if r.session > 0 {
		s.AvgAccountLatency = r.latency / time.Duration(r.session)
	}
	return s
}

// Marshal сериализует отчёт для сохранения в batch_runs.summary
func (s *Summary) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal восстанавливает сохранённый отчёт
func Unmarshal(data []byte) (*Summary, error) {
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode run summary: %w", err)
	}
	return &s, nil
}

// WriteText выводит отчёт таблицей для оператора
func (s *Summary) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Run\t%s\t%s\n", s.RunID, s.Status)
	fmt.Fprintf(tw, "Selector\t%s\n", s.SelectorKey)
	fmt.Fprintf(tw, "Accounts\t%d/%d\n", s.Processed, s.TotalAccounts)
	fmt.Fprintf(tw, "  succeeded\t%d\n", s.Succeeded)
	fmt.Fprintf(tw, "  retried\t%d\n", s.Retried)
	fmt.Fprintf(tw, "  failed\t%d\n", s.Failed)
	fmt.Fprintf(tw, "  excluded\t%d\n", s.Excluded)
	fmt.Fprintf(tw, "Violations\t%d new, %d existing\n", s.NewViolations, s.ExistingViolations)

	for _, rule := range models.AllRuleTypes() {
		if n := s.ViolationsByRule[rule]; n > 0 {
			fmt.Fprintf(tw, "  %s\t%d\n", rule, n)
		}
	}

	fmt.Fprintf(tw, "Duration\t%s\t%.1f accounts/s, avg %s\n",
		utils.FormatDuration(s.Duration), s.AccountsPerSecond, utils.FormatDuration(s.AvgAccountLatency))
	fmt.Fprintf(tw, "Breaker\t%s\ttrips=%d\n", s.Breaker.State, s.Breaker.Trips)

	if len(s.RuleSets) > 0 {
		groups := make([]string, 0, len(s.RuleSets))
		for g := range s.RuleSets {
			groups = append(groups, g)
		}
		sort.Strings(groups)
		refs := make([]string, len(groups))
		for i, g := range groups {
			refs[i] = s.RuleSets[g]
		}
		fmt.Fprintf(tw, "Rule sets\t%s\n", strings.Join(refs, ", "))
	}

	if len(s.Failures) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "ACCOUNT\tSTATUS\tCLASS\tATTEMPTS\tERROR")
		for _, f := range s.Failures {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", f.AccountID, f.Status, f.ErrorClass, f.Attempts, f.Error)
		}
	}

	return tw.Flush()
}
