package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"riskengine/internal/models"
	"riskengine/internal/repository"
	"riskengine/internal/risk"
	"riskengine/pkg/ratelimit"
)

// DataSource - счета, сделки и календарь для оценки
//
// Ошибки возвращаются уже классифицированными: временные - как
// risk.TransientIOError, отсутствующий счёт - как risk.DataIntegrityError.
type DataSource interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	ListTrades(ctx context.Context, accountID int64, since time.Time) ([]models.Trade, error)
	ListWindows(ctx context.Context, from, to time.Time) ([]models.CalendarWindow, error)
	ListAccountIDs(ctx context.Context, sel models.Selector, after int64, limit int) ([]int64, error)
	CountAccounts(ctx context.Context, sel models.Selector) (int, error)
}

// RepositorySource - DataSource поверх Postgres-репозиториев
//
// Все обращения проходят через общий token bucket, чтобы пул
// воркеров не превышал допустимую нагрузку на базу.
type RepositorySource struct {
	accounts *repository.AccountRepository
	trades   *repository.TradeRepository
	calendar *repository.CalendarRepository
	limiter  *ratelimit.RateLimiter
}

var _ DataSource = (*RepositorySource)(nil)

// NewRepositorySource создаёт источник; limiter может быть nil
func NewRepositorySource(accounts *repository.AccountRepository, trades *repository.TradeRepository,
	calendar *repository.CalendarRepository, limiter *ratelimit.RateLimiter) *RepositorySource {
	return &RepositorySource{accounts: accounts, trades: trades, calendar: calendar, limiter: limiter}
}

func (s *RepositorySource) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

// GetAccount загружает счёт
func (s *RepositorySource) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	acc, err := s.accounts.GetAccount(ctx, id)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return nil, &risk.DataIntegrityError{AccountID: id, Reason: risk.ReasonMissingAccount}
	}
	return acc, classify("get account", err)
}

// ListTrades загружает сделки счёта
func (s *RepositorySource) ListTrades(ctx context.Context, accountID int64, since time.Time) ([]models.Trade, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	trades, err := s.trades.ListTrades(ctx, accountID, since)
	return trades, classify("list trades", err)
}

// ListWindows загружает календарные окна
func (s *RepositorySource) ListWindows(ctx context.Context, from, to time.Time) ([]models.CalendarWindow, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	windows, err := s.calendar.ListWindows(ctx, from, to)
	return windows, classify("list calendar windows", err)
}

// ListAccountIDs возвращает страницу ID счетов выборки
func (s *RepositorySource) ListAccountIDs(ctx context.Context, sel models.Selector, after int64, limit int) ([]int64, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	ids, err := s.accounts.ListAccountIDs(ctx, sel, after, limit)
	return ids, classify("list account ids", err)
}

// CountAccounts возвращает размер выборки
func (s *RepositorySource) CountAccounts(ctx context.Context, sel models.Selector) (int, error) {
	n, err := s.accounts.CountAccounts(ctx, sel)
	return n, classify("count accounts", err)
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if repository.IsTransient(err) {
		return risk.Transient(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
