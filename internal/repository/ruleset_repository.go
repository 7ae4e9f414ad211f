package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"riskengine/internal/models"
)

// ErrRuleSetNotFound - для группы нет набора правил (или нужной версии)
var ErrRuleSetNotFound = errors.New("rule set not found")

// RuleSetRepository - версии наборов правил в таблице rule_sets
//
// Версия после публикации не изменяется. Активной в группе может
// быть только одна версия (частичный уникальный индекс по active).
type RuleSetRepository struct {
	db *sql.DB
}

// NewRuleSetRepository создает новый экземпляр репозитория
func NewRuleSetRepository(db *sql.DB) *RuleSetRepository {
	return &RuleSetRepository{db: db}
}

const ruleSetColumns = `id, account_group, version, active, config, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRuleSet(row rowScanner) (*models.RuleSetConfig, error) {
	var (
		id        int64
		group     string
		version   int
		active    bool
		raw       []byte
		createdAt time.Time
	)
	if err := row.Scan(&id, &group, &version, &active, &raw, &createdAt); err != nil {
		return nil, err
	}

	cfg := &models.RuleSetConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("decode rule set %s@v%d: %w", group, version, err)
	}
	cfg.ID = id
	cfg.Group = group
	cfg.Version = version
	cfg.Active = active
	cfg.CreatedAt = createdAt
	return cfg, nil
}

// GetActiveRuleSet возвращает активную версию набора правил группы
func (r *RuleSetRepository) GetActiveRuleSet(ctx context.Context, group string) (*models.RuleSetConfig, error) {
	query := `SELECT ` + ruleSetColumns + ` FROM rule_sets WHERE account_group = $1 AND active`

	cfg, err := scanRuleSet(r.db.QueryRowContext(ctx, query, group))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleSetNotFound
		}
		return nil, err
	}
	return cfg, nil
}

// GetRuleSetVersion возвращает конкретную версию набора правил
func (r *RuleSetRepository) GetRuleSetVersion(ctx context.Context, group string, version int) (*models.RuleSetConfig, error) {
	query := `SELECT ` + ruleSetColumns + ` FROM rule_sets WHERE account_group = $1 AND version = $2`

	cfg, err := scanRuleSet(r.db.QueryRowContext(ctx, query, group, version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRuleSetNotFound
		}
		return nil, err
	}
	return cfg, nil
}

// PublishRuleSet сохраняет новую версию и делает её активной
//
// Предыдущая активная версия деактивируется в той же транзакции.
// Номер версии, ID и время создания записываются в cfg.
func (r *RuleSetRepository) PublishRuleSet(ctx context.Context, cfg *models.RuleSetConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode rule set: %w", err)
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		// сериализуем публикации в пределах группы
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, cfg.Group); err != nil {
			return err
		}

		var version int
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(version), 0) + 1 FROM rule_sets WHERE account_group = $1`,
			cfg.Group,
		).Scan(&version)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE rule_sets SET active = FALSE WHERE account_group = $1 AND active`,
			cfg.Group,
		); err != nil {
			return err
		}

		now := time.Now().UTC()
		err = tx.QueryRowContext(ctx, `
			INSERT INTO rule_sets (account_group, version, active, config, created_at)
			VALUES ($1, $2, TRUE, $3, $4)
			RETURNING id`,
			cfg.Group, version, string(raw), now,
		).Scan(&cfg.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("rule set %s@v%d already published: %w", cfg.Group, version, err)
			}
			return err
		}

		cfg.Version = version
		cfg.Active = true
		cfg.CreatedAt = now
		return nil
	})
}

// ListRuleSets возвращает все версии группы (новые первыми),
// либо активные версии всех групп, если group пустая
func (r *RuleSetRepository) ListRuleSets(ctx context.Context, group string) ([]models.RuleSetConfig, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if group == "" {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+ruleSetColumns+` FROM rule_sets WHERE active ORDER BY account_group`)
	} else {
		rows, err = r.db.QueryContext(ctx,
			`SELECT `+ruleSetColumns+` FROM rule_sets WHERE account_group = $1 ORDER BY version DESC`, group)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.RuleSetConfig
	for rows.Next() {
		cfg, err := scanRuleSet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cfg)
	}

	return out, rows.Err()
}
