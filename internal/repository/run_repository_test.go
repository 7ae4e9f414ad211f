package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"riskengine/internal/models"
)

// ============================================================
// RunRepository Tests
// ============================================================

var runRowColumns = []string{"id", "selector_key", "selector", "status", "total_accounts", "cursor", "breaker", "summary", "started_at", "updated_at", "finished_at"}

func TestRunRepositoryCreateRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	sel := models.Selector{Group: "lite"}
	run := &models.BatchRun{
		ID:            "01HS0000000000000000000000",
		SelectorKey:   sel.Key(),
		Selector:      sel,
		Status:        models.RunStatusRunning,
		TotalAccounts: 3,
	}

	mock.ExpectExec(`INSERT INTO batch_runs`).
		WithArgs(run.ID, "group=lite;status=active", `{"group":"lite"}`, "running", 3, int64(0), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := NewRunRepository(db).CreateRun(context.Background(), run); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.StartedAt.IsZero() || run.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRunRepositoryFindResumable(t *testing.T) {
	started := time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "aborted run found",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM batch_runs WHERE selector_key = \$1 AND status <> \$2`).
					WithArgs("group=lite;status=active", models.RunStatusCompleted).
					WillReturnRows(sqlmock.NewRows(runRowColumns).AddRow(
						"01HS0000000000000000000000", "group=lite;status=active", []byte(`{"group":"lite","status":"active"}`),
						"aborted", 10, 40, []byte(`{"state":"open","trips":2,"cool_down":60000000000}`), nil,
						started, started.Add(time.Minute), started.Add(time.Minute)))
			},
		},
		{
			name: "nothing to resume",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`SELECT .+ FROM batch_runs`).
					WillReturnError(sql.ErrNoRows)
			},
			expectError: ErrRunNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			run, err := NewRunRepository(db).FindResumable(context.Background(), "group=lite;status=active")
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if run.Cursor != 40 || run.Selector.Group != "lite" {
					t.Errorf("unexpected run %+v", run)
				}
				if run.Breaker.State != "open" || run.Breaker.Trips != 2 || run.Breaker.CoolDown != time.Minute {
					t.Errorf("unexpected breaker %+v", run.Breaker)
				}
				if run.FinishedAt == nil {
					t.Error("expected finished_at")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestRunRepositorySaveProgress(t *testing.T) {
	outcome := &models.AccountOutcome{
		AccountID:        17,
		Status:           models.OutcomeRetried,
		Attempts:         2,
		NewViolations:    1,
		ViolationsByRule: map[models.RuleType]int{models.RuleDailyLoss: 1},
		Duration:         1500 * time.Millisecond,
		CompletedAt:      time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC),
	}
	breaker := models.BreakerSnapshot{State: "closed"}

	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError error
	}{
		{
			name: "outcome and cursor in one transaction",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO batch_run_outcomes`).
					WithArgs("run-1", int64(17), "retried", 2, "", "", 1, 0, `{"daily_loss":1}`, int64(1500), outcome.CompletedAt).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE batch_runs SET cursor = \$2`).
					WithArgs("run-1", int64(17), sqlmock.AnyArg(), sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
		},
		{
			name: "unknown run rolls back",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`INSERT INTO batch_run_outcomes`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE batch_runs`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			expectError: ErrRunNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			err = NewRunRepository(db).SaveProgress(context.Background(), "run-1", outcome, 17, breaker)
			if tt.expectError != nil {
				if !errors.Is(err, tt.expectError) {
					t.Errorf("expected error %v, got %v", tt.expectError, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestRunRepositoryFinishRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`UPDATE batch_runs\s+SET status = \$2`).
		WithArgs("run-1", models.RunStatusCompleted, int64(99), sqlmock.AnyArg(), `{"processed":3}`, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = NewRunRepository(db).FinishRun(context.Background(), "run-1", models.RunStatusCompleted, 99, models.BreakerSnapshot{State: "closed"}, []byte(`{"processed":3}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRunRepositoryListOutcomes(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	done := time.Date(2024, 3, 4, 1, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT .+ FROM batch_run_outcomes`).
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"run_id", "account_id", "status", "attempts", "error_class", "error", "new_violations", "existing_violations", "violations_by_rule", "duration_ms", "completed_at"}).
			AddRow("run-1", 1, "succeeded", 1, "", "", 2, 0, []byte(`{"lot_size":2}`), 250, done).
			AddRow("run-1", 2, "excluded", 1, "data_integrity", "account 2: incomplete_history", 0, 0, []byte(`{}`), 10, done))

	out, err := NewRunRepository(db).ListOutcomes(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(out) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(out))
	}
	if out[0].ViolationsByRule[models.RuleLotSize] != 2 {
		t.Errorf("unexpected by-rule counts %v", out[0].ViolationsByRule)
	}
	if out[0].Duration != 250*time.Millisecond {
		t.Errorf("unexpected duration %v", out[0].Duration)
	}
	if out[1].Status != models.OutcomeExcluded || out[1].ErrorClass != "data_integrity" {
		t.Errorf("unexpected outcome %+v", out[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// ============================================================
// CalendarRepository Tests
// ============================================================

func TestCalendarRepositoryListWindows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(7 * 24 * time.Hour)
	release := time.Date(2024, 3, 8, 13, 30, 0, 0, time.UTC)

	mock.ExpectQuery(`SELECT .+ FROM calendar_windows\s+WHERE ends_at >= \$1 AND starts_at <= \$2`).
		WithArgs(from, to).
		WillReturnRows(sqlmock.NewRows([]string{"id", "kind", "label", "starts_at", "ends_at"}).
			AddRow(1, models.WindowNews, "NFP", release, release))

	out, err := NewCalendarRepository(db).ListWindows(context.Background(), from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].Label != "NFP" || !out[0].Start.Equal(release) {
		t.Errorf("unexpected windows %+v", out)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	for range schema {
		mock.ExpectExec(`^(CREATE|ALTER) `).WillReturnResult(sqlmock.NewResult(0, 0))
	}

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
