package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"riskengine/internal/models"
)

// ErrAccountNotFound - счёт не найден
var ErrAccountNotFound = errors.New("account not found")

// AccountRepository - чтение таблицы accounts
//
// Счета ведёт внешняя система, движок их только читает.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetAccount возвращает счёт по ID
func (r *AccountRepository) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	query := `
		SELECT id, account_group, initial_balance, balance, equity, start_of_day_equity, start_of_day_date, status, created_at
		FROM accounts
		WHERE id = $1`

	acc := &models.Account{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&acc.ID,
		&acc.Group,
		&acc.InitialBalance,
		&acc.Balance,
		&acc.Equity,
		&acc.StartOfDayEquity,
		&acc.StartOfDayDate,
		&acc.Status,
		&acc.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return acc, nil
}

// selectorArgs возвращает аргументы фильтра выборки: статус, группа, список ID
func selectorArgs(sel models.Selector) (string, string, interface{}) {
	n := sel.Normalize()
	ids := n.AccountIDs
	if ids == nil {
		ids = []int64{}
	}
	return n.Status, n.Group, pq.Array(ids)
}

// ListAccountIDs возвращает ID счетов выборки больше after по возрастанию
//
// Используется как keyset-пагинация: следующая страница запрашивается
// с after = последний ID предыдущей.
func (r *AccountRepository) ListAccountIDs(ctx context.Context, sel models.Selector, after int64, limit int) ([]int64, error) {
	query := `
		SELECT id
		FROM accounts
		WHERE status = $1
		  AND ($2 = '' OR account_group = $2)
		  AND (cardinality($3::bigint[]) = 0 OR id = ANY($3::bigint[]))
		  AND id > $4
		ORDER BY id
		LIMIT $5`

	status, group, ids := selectorArgs(sel)
	rows, err := r.db.QueryContext(ctx, query, status, group, ids, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}

	return out, rows.Err()
}

// CountAccounts возвращает размер выборки
func (r *AccountRepository) CountAccounts(ctx context.Context, sel models.Selector) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM accounts
		WHERE status = $1
		  AND ($2 = '' OR account_group = $2)
		  AND (cardinality($3::bigint[]) = 0 OR id = ANY($3::bigint[]))`

	status, group, ids := selectorArgs(sel)

	var count int
	if err := r.db.QueryRowContext(ctx, query, status, group, ids).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}
