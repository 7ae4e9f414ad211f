package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"riskengine/internal/models"
)

// ErrViolationNotFound - нарушения с таким ключом нет
var ErrViolationNotFound = errors.New("violation not found")

// ViolationRepository - работа с таблицами violations и violation_removals
type ViolationRepository struct {
	db *sql.DB
}

// NewViolationRepository создает новый экземпляр репозитория
func NewViolationRepository(db *sql.DB) *ViolationRepository {
	return &ViolationRepository{db: db}
}

// UpsertResult - результат записи кандидатов одного счёта
type UpsertResult struct {
	Inserted   []models.Violation // новые строки (с ID и CreatedAt)
	Existing   int                // ключ уже был записан
	Suppressed int                // снято оператором с теми же доказательствами
}

// UpsertViolations записывает нарушения одного счёта в одной транзакции
//
// Вставка идемпотентна: существующий ключ не перезаписывается
// (ON CONFLICT DO NOTHING). Кандидат, чей ключ и отпечаток совпадают
// со снятием, не записывается.
func (r *ViolationRepository) UpsertViolations(ctx context.Context, vs []models.Violation) (*UpsertResult, error) {
	res := &UpsertResult{}
	if len(vs) == 0 {
		return res, nil
	}

	insert := `
		INSERT INTO violations (account_id, ref, rule_type, severity, evidence, description, fingerprint, rule_set_id, rule_set_version, run_id, evaluated_at, created_at)
		SELECT $1::bigint, $2::text, $3::text, $4::text, $5::jsonb, $6::text, $7::text, $8::bigint, $9::int, $10::text, $11::timestamptz, $12::timestamptz
		WHERE NOT EXISTS (
			SELECT 1 FROM violation_removals
			WHERE account_id = $1::bigint AND ref = $2::text AND rule_type = $3::text AND fingerprint = $7::text
		)
		ON CONFLICT (account_id, ref, rule_type) DO NOTHING
		RETURNING id`

	removed := `
		SELECT EXISTS (
			SELECT 1 FROM violation_removals
			WHERE account_id = $1 AND ref = $2 AND rule_type = $3 AND fingerprint = $4
		)`

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		inserted := make([]models.Violation, 0, len(vs))
		existing, suppressed := 0, 0

		for i := range vs {
			v := vs[i]
			ev, err := models.MarshalEvidence(v.Evidence)
			if err != nil {
				return err
			}
			if v.CreatedAt.IsZero() {
				v.CreatedAt = time.Now().UTC()
			}

			err = tx.QueryRowContext(ctx, insert,
				v.AccountID,
				v.Ref,
				string(v.Rule),
				string(v.Severity),
				string(ev),
				v.Description,
				v.Fingerprint,
				v.RuleSetID,
				v.RuleSetVersion,
				v.RunID,
				v.EvaluatedAt,
				v.CreatedAt,
			).Scan(&v.ID)

			switch {
			case err == nil:
				inserted = append(inserted, v)
			case errors.Is(err, sql.ErrNoRows):
				var isRemoved bool
				if err := tx.QueryRowContext(ctx, removed, v.AccountID, v.Ref, string(v.Rule), v.Fingerprint).Scan(&isRemoved); err != nil {
					return err
				}
				if isRemoved {
					suppressed++
				} else {
					existing++
				}
			default:
				return fmt.Errorf("upsert violation %s: %w", v.Key(), err)
			}
		}

		res.Inserted, res.Existing, res.Suppressed = inserted, existing, suppressed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteViolation удаляет нарушение и записывает аудит снятия
//
// Удаление и запись аудита выполняются в одной транзакции.
func (r *ViolationRepository) DeleteViolation(ctx context.Context, key models.ViolationKey, operator, reason string) (*models.Removal, error) {
	removal := &models.Removal{
		ID:        uuid.New().String(),
		AccountID: key.AccountID,
		Ref:       key.Ref,
		Rule:      key.Rule,
		Operator:  operator,
		Reason:    reason,
		RemovedAt: time.Now().UTC(),
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		var raw []byte
		err := tx.QueryRowContext(ctx, `
			DELETE FROM violations
			WHERE account_id = $1 AND ref = $2 AND rule_type = $3
			RETURNING fingerprint, evidence`,
			key.AccountID, key.Ref, string(key.Rule),
		).Scan(&removal.Fingerprint, &raw)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrViolationNotFound
			}
			return err
		}

		if removal.Evidence, err = models.UnmarshalEvidence(raw); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO violation_removals (id, account_id, ref, rule_type, fingerprint, evidence, operator, reason, removed_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			removal.ID,
			removal.AccountID,
			removal.Ref,
			string(removal.Rule),
			removal.Fingerprint,
			string(raw),
			removal.Operator,
			removal.Reason,
			removal.RemovedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return removal, nil
}

// ViolationFilter - фильтр списка нарушений
type ViolationFilter struct {
	AccountID int64
	Rule      models.RuleType
	Severity  models.Severity
	RunID     string
	Limit     int
	Offset    int
}

// ListViolations возвращает нарушения по фильтру, новые первыми
func (r *ViolationRepository) ListViolations(ctx context.Context, f ViolationFilter) ([]models.Violation, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AccountID != 0 {
		add("account_id = $%d", f.AccountID)
	}
	if f.Rule != "" {
		add("rule_type = $%d", string(f.Rule))
	}
	if f.Severity != "" {
		add("severity = $%d", string(f.Severity))
	}
	if f.RunID != "" {
		add("run_id = $%d", f.RunID)
	}

	query := `
		SELECT id, account_id, ref, rule_type, severity, evidence, description, fingerprint, rule_set_id, rule_set_version, run_id, evaluated_at, created_at
		FROM violations`
	if len(conds) > 0 {
		query += "\n\t\tWHERE " + strings.Join(conds, " AND ")
	}
	query += "\n\t\tORDER BY created_at DESC, id DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit, f.Offset)
	query += fmt.Sprintf("\n\t\tLIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Violation
	for rows.Next() {
		var (
			v   models.Violation
			raw []byte
		)
		err := rows.Scan(
			&v.ID,
			&v.AccountID,
			&v.Ref,
			&v.Rule,
			&v.Severity,
			&raw,
			&v.Description,
			&v.Fingerprint,
			&v.RuleSetID,
			&v.RuleSetVersion,
			&v.RunID,
			&v.EvaluatedAt,
			&v.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if v.Evidence, err = models.UnmarshalEvidence(raw); err != nil {
			return nil, fmt.Errorf("violation %d: %w", v.ID, err)
		}
		out = append(out, v)
	}

	return out, rows.Err()
}

// ListRemovals возвращает аудит снятий по счёту (0 - по всем счетам)
func (r *ViolationRepository) ListRemovals(ctx context.Context, accountID int64) ([]models.Removal, error) {
	query := `
		SELECT id, account_id, ref, rule_type, fingerprint, evidence, operator, reason, removed_at
		FROM violation_removals
		WHERE ($1::bigint = 0 OR account_id = $1::bigint)
		ORDER BY removed_at DESC`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Removal
	for rows.Next() {
		var (
			rm  models.Removal
			raw []byte
		)
		err := rows.Scan(
			&rm.ID,
			&rm.AccountID,
			&rm.Ref,
			&rm.Rule,
			&rm.Fingerprint,
			&raw,
			&rm.Operator,
			&rm.Reason,
			&rm.RemovedAt,
		)
		if err != nil {
			return nil, err
		}
		if rm.Evidence, err = models.UnmarshalEvidence(raw); err != nil {
			return nil, fmt.Errorf("removal %s: %w", rm.ID, err)
		}
		out = append(out, rm)
	}

	return out, rows.Err()
}
