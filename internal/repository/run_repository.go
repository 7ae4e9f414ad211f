package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"riskengine/internal/models"
)

// ErrRunNotFound - прогон не найден
var ErrRunNotFound = errors.New("batch run not found")

// RunRepository - чекпоинты пакетных прогонов
//
// batch_runs хранит курсор и состояние breaker, batch_run_outcomes -
// итог каждого обработанного счёта. Оба обновляются в одной транзакции
// после каждого завершённого счёта.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository создает новый экземпляр репозитория
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

const runColumns = `id, selector_key, selector, status, total_accounts, cursor, breaker, summary, started_at, updated_at, finished_at`

func scanRun(row rowScanner) (*models.BatchRun, error) {
	var (
		run               models.BatchRun
		selector, breaker []byte
		summary           []byte
		finishedAt        sql.NullTime
	)
	err := row.Scan(
		&run.ID,
		&run.SelectorKey,
		&selector,
		&run.Status,
		&run.TotalAccounts,
		&run.Cursor,
		&breaker,
		&summary,
		&run.StartedAt,
		&run.UpdatedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(selector, &run.Selector); err != nil {
		return nil, fmt.Errorf("decode selector of run %s: %w", run.ID, err)
	}
	if len(breaker) > 0 {
		if err := json.Unmarshal(breaker, &run.Breaker); err != nil {
			return nil, fmt.Errorf("decode breaker of run %s: %w", run.ID, err)
		}
	}
	run.Summary = summary
	if finishedAt.Valid {
		t := finishedAt.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// CreateRun сохраняет новый прогон
func (r *RunRepository) CreateRun(ctx context.Context, run *models.BatchRun) error {
	selector, err := json.Marshal(run.Selector)
	if err != nil {
		return err
	}
	breaker, err := json.Marshal(run.Breaker)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO batch_runs (id, selector_key, selector, status, total_accounts, cursor, breaker, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID,
		run.SelectorKey,
		string(selector),
		run.Status,
		run.TotalAccounts,
		run.Cursor,
		string(breaker),
		run.StartedAt,
		run.UpdatedAt,
	)
	return err
}

// GetRun возвращает прогон по ID
func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.BatchRun, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM batch_runs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// FindResumable возвращает последний незавершённый прогон выборки
//
// Незавершённым считается прогон в статусе running (процесс упал)
// или aborted (оператор прервал). Прогоны старше последнего
// завершённого не возобновляются.
func (r *RunRepository) FindResumable(ctx context.Context, selectorKey string) (*models.BatchRun, error) {
	query := `SELECT ` + runColumns + `
		FROM batch_runs
		WHERE selector_key = $1 AND status <> $2
		  AND started_at > COALESCE(
			(SELECT MAX(started_at) FROM batch_runs WHERE selector_key = $1 AND status = $2),
			'-infinity'::timestamptz)
		ORDER BY started_at DESC
		LIMIT 1`

	run, err := scanRun(r.db.QueryRowContext(ctx, query, selectorKey, models.RunStatusCompleted))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return run, nil
}

// ListRuns возвращает последние прогоны
func (r *RunRepository) ListRuns(ctx context.Context, limit int) ([]models.BatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+runColumns+` FROM batch_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.BatchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

// ReopenRun переводит прогон обратно в running перед возобновлением
func (r *RunRepository) ReopenRun(ctx context.Context, id string, total int) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE batch_runs
		SET status = $2, total_accounts = $3, finished_at = NULL, updated_at = $4
		WHERE id = $1`,
		id, models.RunStatusRunning, total, time.Now().UTC(),
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// SaveProgress атомарно записывает итог счёта и продвигает чекпоинт
func (r *RunRepository) SaveProgress(ctx context.Context, runID string, outcome *models.AccountOutcome, cursor int64, breaker models.BreakerSnapshot) error {
	byRule, err := json.Marshal(outcome.ViolationsByRule)
	if err != nil {
		return err
	}
	br, err := json.Marshal(breaker)
	if err != nil {
		return err
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_run_outcomes (run_id, account_id, status, attempts, error_class, error, new_violations, existing_violations, violations_by_rule, duration_ms, completed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (run_id, account_id) DO UPDATE SET
				status = EXCLUDED.status,
				attempts = EXCLUDED.attempts,
				error_class = EXCLUDED.error_class,
				error = EXCLUDED.error,
				new_violations = EXCLUDED.new_violations,
				existing_violations = EXCLUDED.existing_violations,
				violations_by_rule = EXCLUDED.violations_by_rule,
				duration_ms = EXCLUDED.duration_ms,
				completed_at = EXCLUDED.completed_at`,
			runID,
			outcome.AccountID,
			string(outcome.Status),
			outcome.Attempts,
			outcome.ErrorClass,
			outcome.Error,
			outcome.NewViolations,
			outcome.ExistingViolations,
			string(byRule),
			outcome.Duration.Milliseconds(),
			outcome.CompletedAt,
		)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE batch_runs SET cursor = $2, breaker = $3, updated_at = $4
			WHERE id = $1`,
			runID, cursor, string(br), time.Now().UTC(),
		)
		if err != nil {
			return err
		}
		return expectOneRow(res)
	})
}

// FinishRun записывает терминальный статус, чекпоинт и итоговый отчёт
func (r *RunRepository) FinishRun(ctx context.Context, runID, status string, cursor int64, breaker models.BreakerSnapshot, summary []byte) error {
	br, err := json.Marshal(breaker)
	if err != nil {
		return err
	}

	var sum interface{}
	if len(summary) > 0 {
		sum = string(summary)
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE batch_runs
		SET status = $2, cursor = $3, breaker = $4, summary = $5, updated_at = $6, finished_at = $6
		WHERE id = $1`,
		runID, status, cursor, string(br), sum, now,
	)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ListOutcomes возвращает итоги счетов прогона по возрастанию ID счёта
func (r *RunRepository) ListOutcomes(ctx context.Context, runID string) ([]models.AccountOutcome, error) {
	query := `
		SELECT run_id, account_id, status, attempts, error_class, error, new_violations, existing_violations, violations_by_rule, duration_ms, completed_at
		FROM batch_run_outcomes
		WHERE run_id = $1
		ORDER BY account_id`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.AccountOutcome
	for rows.Next() {
		var (
			o          models.AccountOutcome
			byRule     []byte
			durationMs int64
		)
		err := rows.Scan(
			&o.RunID,
			&o.AccountID,
			&o.Status,
			&o.Attempts,
			&o.ErrorClass,
			&o.Error,
			&o.NewViolations,
			&o.ExistingViolations,
			&byRule,
			&durationMs,
			&o.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		if len(byRule) > 0 {
			if err := json.Unmarshal(byRule, &o.ViolationsByRule); err != nil {
				return nil, fmt.Errorf("decode outcome of account %d: %w", o.AccountID, err)
			}
		}
		o.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, o)
	}

	return out, rows.Err()
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}
