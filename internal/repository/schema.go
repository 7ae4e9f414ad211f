package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// schema - DDL хранилища движка рисков
//
// Счета, сделки и календарь заполняются внешними системами;
// движок только читает их. Остальные таблицы принадлежат движку.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id BIGINT PRIMARY KEY,
		account_group VARCHAR(64) NOT NULL,
		initial_balance NUMERIC(20,2) NOT NULL,
		balance NUMERIC(20,2) NOT NULL DEFAULT 0,
		equity NUMERIC(20,2),
		start_of_day_equity NUMERIC(20,2) NOT NULL DEFAULT 0,
		start_of_day_date VARCHAR(10) NOT NULL DEFAULT '',
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	// NULL - equity не передана
	`ALTER TABLE accounts ALTER COLUMN equity DROP NOT NULL`,
	`ALTER TABLE accounts ALTER COLUMN equity DROP DEFAULT`,
	`CREATE INDEX IF NOT EXISTS idx_accounts_status_group ON accounts (status, account_group, id)`,

	`CREATE TABLE IF NOT EXISTS trades (
		account_id BIGINT NOT NULL REFERENCES accounts(id),
		ticket BIGINT NOT NULL,
		symbol VARCHAR(32) NOT NULL,
		direction VARCHAR(4) NOT NULL,
		trade_type VARCHAR(16) NOT NULL DEFAULT 'market',
		volume NUMERIC(12,2) NOT NULL,
		open_time TIMESTAMPTZ NOT NULL,
		close_time TIMESTAMPTZ,
		profit NUMERIC(20,2) NOT NULL DEFAULT 0,
		magic_number BIGINT NOT NULL DEFAULT 0,
		comment TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (account_id, ticket)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_close ON trades (account_id, close_time, ticket)`,

	`CREATE TABLE IF NOT EXISTS rule_sets (
		id BIGSERIAL PRIMARY KEY,
		account_group VARCHAR(64) NOT NULL,
		version INT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		config JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_group, version)
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_rule_sets_active ON rule_sets (account_group) WHERE active`,

	`CREATE TABLE IF NOT EXISTS violations (
		id BIGSERIAL PRIMARY KEY,
		account_id BIGINT NOT NULL,
		ref VARCHAR(64) NOT NULL,
		rule_type VARCHAR(32) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		evidence JSONB NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		fingerprint CHAR(64) NOT NULL,
		rule_set_id BIGINT NOT NULL,
		rule_set_version INT NOT NULL,
		run_id VARCHAR(26) NOT NULL DEFAULT '',
		evaluated_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (account_id, ref, rule_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_violations_rule ON violations (rule_type, created_at)`,

	`CREATE TABLE IF NOT EXISTS violation_removals (
		id UUID PRIMARY KEY,
		account_id BIGINT NOT NULL,
		ref VARCHAR(64) NOT NULL,
		rule_type VARCHAR(32) NOT NULL,
		fingerprint CHAR(64) NOT NULL,
		evidence JSONB NOT NULL,
		operator VARCHAR(128) NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		removed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_violation_removals_key ON violation_removals (account_id, ref, rule_type, fingerprint)`,

	`CREATE TABLE IF NOT EXISTS batch_runs (
		id VARCHAR(26) PRIMARY KEY,
		selector_key TEXT NOT NULL,
		selector JSONB NOT NULL,
		status VARCHAR(16) NOT NULL,
		total_accounts INT NOT NULL DEFAULT 0,
		cursor BIGINT NOT NULL DEFAULT 0,
		breaker JSONB NOT NULL DEFAULT '{}',
		summary JSONB,
		started_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_batch_runs_selector ON batch_runs (selector_key, started_at DESC)`,

	`CREATE TABLE IF NOT EXISTS batch_run_outcomes (
		run_id VARCHAR(26) NOT NULL REFERENCES batch_runs(id) ON DELETE CASCADE,
		account_id BIGINT NOT NULL,
		status VARCHAR(16) NOT NULL,
		attempts INT NOT NULL DEFAULT 0,
		error_class VARCHAR(32) NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		new_violations INT NOT NULL DEFAULT 0,
		existing_violations INT NOT NULL DEFAULT 0,
		violations_by_rule JSONB NOT NULL DEFAULT '{}',
		duration_ms BIGINT NOT NULL DEFAULT 0,
		completed_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, account_id)
	)`,

	`CREATE TABLE IF NOT EXISTS calendar_windows (
		id BIGSERIAL PRIMARY KEY,
		kind VARCHAR(16) NOT NULL,
		label TEXT NOT NULL DEFAULT '',
		starts_at TIMESTAMPTZ NOT NULL,
		ends_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_calendar_windows_range ON calendar_windows (starts_at, ends_at)`,
}

// Migrate создаёт таблицы и индексы, если их ещё нет
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	return nil
}
