package repository

import (
	"context"
	"database/sql"
	"time"

	"riskengine/internal/models"
)

// CalendarRepository - внешний календарь окон запрета торговли
//
// Новости и технические перерывы публикует внешняя система.
type CalendarRepository struct {
	db *sql.DB
}

// NewCalendarRepository создает новый экземпляр репозитория
func NewCalendarRepository(db *sql.DB) *CalendarRepository {
	return &CalendarRepository{db: db}
}

// ListWindows возвращает окна, пересекающие интервал [from, to]
func (r *CalendarRepository) ListWindows(ctx context.Context, from, to time.Time) ([]models.CalendarWindow, error) {
	query := `
		SELECT id, kind, label, starts_at, ends_at
		FROM calendar_windows
		WHERE ends_at >= $1 AND starts_at <= $2
		ORDER BY starts_at, id`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.CalendarWindow
	for rows.Next() {
		var w models.CalendarWindow
		if err := rows.Scan(&w.ID, &w.Kind, &w.Label, &w.Start, &w.End); err != nil {
			return nil, err
		}
		out = append(out, w)
	}

	return out, rows.Err()
}

// AddWindow добавляет окно в календарь
func (r *CalendarRepository) AddWindow(ctx context.Context, w *models.CalendarWindow) error {
	return r.db.QueryRowContext(ctx, `
		INSERT INTO calendar_windows (kind, label, starts_at, ends_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`,
		w.Kind, w.Label, w.Start, w.End,
	).Scan(&w.ID)
}
