package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"riskengine/internal/models"
)

var start = time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)

func outcome(id int64, status models.OutcomeStatus, byRule map[models.RuleType]int) models.AccountOutcome {
	o := models.AccountOutcome{AccountID: id, Status: status, Attempts: 1, ViolationsByRule: byRule, Duration: 100 * time.Millisecond}
	for _, n := range byRule {
		o.NewViolations += n
	}
	return o
}

func TestReporter_Summary(t *testing.T) {
	r := NewReporter("run-1", "group=lite;status=active", 5, start)

	r.Add(outcome(3, models.OutcomeSucceeded, map[models.RuleType]int{models.RuleDailyLoss: 1, models.RuleLotSize: 2}))
	r.Add(outcome(1, models.OutcomeRetried, map[models.RuleType]int{models.RuleLotSize: 1}))

	failed := outcome(4, models.OutcomeFailed, nil)
	failed.Attempts, failed.ErrorClass, failed.Error = 3, "transient_io", "list trades: connection reset"
	r.Add(failed)

	excluded := outcome(2, models.OutcomeExcluded, nil)
	excluded.ErrorClass, excluded.Error = "data_integrity", "account 2: incomplete_history"
	r.Add(excluded)

	s := r.Summary(models.RunStatusCompleted, models.BreakerSnapshot{State: "closed"}, start.Add(2*time.Second))

	assert.Equal(t, 4, s.Processed)
	assert.Equal(t, 5, s.TotalAccounts)
	assert.Equal(t, 1, s.Succeeded)
	assert.Equal(t, 1, s.Retried)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Excluded)
	assert.Equal(t, 4, s.NewViolations)
	assert.Equal(t, 3, s.ViolationsByRule[models.RuleLotSize])
	assert.Equal(t, 1, s.ViolationsByRule[models.RuleDailyLoss])

	require.Len(t, s.Failures, 2)
	assert.Equal(t, int64(2), s.Failures[0].AccountID, "failures are sorted by account")
	assert.Equal(t, "data_integrity", s.Failures[0].ErrorClass)
	assert.Equal(t, 3, s.Failures[1].Attempts)

	assert.Equal(t, 2*time.Second, s.Duration)
	assert.InDelta(t, 2.0, s.AccountsPerSecond, 1e-9)
	assert.Equal(t, 100*time.Millisecond, s.AvgAccountLatency)
}

func TestReporter_SeededOutcomesCountTowardsTotals(t *testing.T) {
	r := NewReporter("run-1", "group=lite;status=active", 4, start)
	r.Seed([]models.AccountOutcome{
		outcome(1, models.OutcomeSucceeded, nil),
		outcome(2, models.OutcomeSucceeded, nil),
	})
	assert.True(t, r.Has(2))
	assert.False(t, r.Has(3))

	r.Add(outcome(3, models.OutcomeSucceeded, nil))
	r.Add(outcome(4, models.OutcomeSucceeded, nil))
	r.Add(outcome(4, models.OutcomeRetried, nil))

	s := r.Summary(models.RunStatusCompleted, models.BreakerSnapshot{State: "closed"}, start.Add(time.Second))
	assert.Equal(t, 4, s.Processed)
	assert.Equal(t, 4, s.TotalAccounts)
	assert.Equal(t, 1, s.Retried, "a later outcome replaces the earlier one")
	assert.InDelta(t, 3.0, s.AccountsPerSecond, 1e-9, "throughput counts only this session")
}

func TestSummary_MarshalAndText(t *testing.T) {
	r := NewReporter("run-1", "group=lite;status=active", 1, start)
	excluded := outcome(9, models.OutcomeExcluded, nil)
	excluded.ErrorClass, excluded.Error = "configuration", `rule set for group "vip": rule set not found`
	r.Add(excluded)

	s := r.Summary(models.RunStatusAborted, models.BreakerSnapshot{State: "open", Trips: 2}, start.Add(time.Second))
	s.RuleSets = map[string]string{"lite": "lite@v3"}

	data, err := s.Marshal()
	require.NoError(t, err)
	back, err := Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, s.Excluded, back.Excluded)
	assert.Equal(t, s.Breaker, back.Breaker)

	var buf bytes.Buffer
	require.NoError(t, s.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "aborted")
	assert.Contains(t, out, "trips=2")
	assert.Contains(t, out, "lite@v3")
	assert.Contains(t, out, "configuration")
}
