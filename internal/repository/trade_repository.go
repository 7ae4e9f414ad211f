package repository

import (
	"context"
	"database/sql"
	"time"

	"riskengine/internal/models"
)

// TradeRepository - чтение истории сделок
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

// ListTrades возвращает сделки счёта, закрытые не раньше since, и все открытые
//
// Нулевой since означает полную историю. Порядок: время закрытия,
// затем тикет; открытые сделки идут последними.
func (r *TradeRepository) ListTrades(ctx context.Context, accountID int64, since time.Time) ([]models.Trade, error) {
	query := `
		SELECT ticket, account_id, symbol, direction, trade_type, volume, open_time, close_time, profit, magic_number, comment
		FROM trades
		WHERE account_id = $1
		  AND (close_time IS NULL OR close_time >= $2)
		ORDER BY close_time ASC NULLS LAST, ticket ASC`

	rows, err := r.db.QueryContext(ctx, query, accountID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var (
			t         models.Trade
			closeTime sql.NullTime
		)
		err := rows.Scan(
			&t.Ticket,
			&t.AccountID,
			&t.Symbol,
			&t.Direction,
			&t.Type,
			&t.Volume,
			&t.OpenTime,
			&closeTime,
			&t.Profit,
			&t.MagicNumber,
			&t.Comment,
		)
		if err != nil {
			return nil, err
		}
		if closeTime.Valid {
			t.CloseTime = closeTime.Time
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}
