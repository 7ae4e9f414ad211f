package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config конфигурация для retry логики
//
// Экспоненциальный backoff с jitter:
// delay = min(BaseDelay * Multiplier^(attempt-1), MaxDelay) ± jitter
//
// Используется пакетным процессором для повторной обработки счёта
// при временных ошибках хранилища.
type Config struct {
	// MaxAttempts - максимальное количество попыток (включая первую)
	// 0 или отрицательное = одна попытка
	MaxAttempts int

	// BaseDelay - задержка перед второй попыткой
	// По умолчанию: 200ms
	BaseDelay time.Duration

	// MaxDelay - верхняя граница задержки
	// По умолчанию: 10s
	MaxDelay time.Duration

	// Multiplier - множитель экспоненциального роста
	// По умолчанию: 2.0 (удвоение)
	Multiplier float64

	// JitterFactor - фактор случайности (0.0 - 1.0)
	// 0.0 = детерминированные задержки
	JitterFactor float64

	// RetryIf - нужно ли повторять ошибку
	// По умолчанию: IsRetryable
	RetryIf func(error) bool

	// OnRetry - callback перед ожиданием следующей попытки
	OnRetry func(attempt int, err error, delay time.Duration)

	// Sleep - ожидание между попытками, подменяется в тестах
	// По умолчанию: таймер с отменой по контексту
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultConfig возвращает конфигурацию по умолчанию
//
// - 3 попытки
// - Задержки: 200ms, 400ms (+ 10% jitter)
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		BaseDelay:    200 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

// validate проверяет и устанавливает значения по умолчанию
func (c *Config) validate() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 200 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.MaxDelay < c.BaseDelay {
		c.MaxDelay = c.BaseDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.JitterFactor > 1 {
		c.JitterFactor = 1
	}
	if c.RetryIf == nil {
		c.RetryIf = IsRetryable
	}
	if c.Sleep == nil {
		c.Sleep = sleepContext
	}
}

// Backoff возвращает задержку после неудачной попытки attempt (с 1), без jitter
func (c Config) Backoff(attempt int) time.Duration {
	c.validate()
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	return time.Duration(delay)
}

// calculateDelay добавляет jitter к базовой задержке
func (c *Config) calculateDelay(attempt int) time.Duration {
	delay := float64(c.Backoff(attempt))

	if c.JitterFactor > 0 {
		delay += delay * c.JitterFactor * (rand.Float64()*2 - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do выполняет операцию с повторными попытками
//
// Возвращает число выполненных попыток и последнюю ошибку.
// Контекст прерывает только ожидание между попытками: начатая
// операция всегда доводится до конца.
//
// Пример:
//
//	attempts, err := retry.Do(ctx, func() error {
//	    return w.processAccount(opCtx, id)
//	}, cfg)
func Do(ctx context.Context, operation func() error, cfg Config) (int, error) {
	_, attempts, err := DoWithResult(ctx, func() (struct{}, error) {
		return struct{}{}, operation()
	}, cfg)
	return attempts, err
}

// DoWithResult выполняет операцию с результатом и retry
func DoWithResult[T any](ctx context.Context, operation func() (T, error), cfg Config) (T, int, error) {
	cfg.validate()

	var (
		zero    T
		lastErr error
	)

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return zero, attempt - 1, lastErr
			}
			return zero, attempt - 1, err
		}

		result, err := operation()
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err

		if !cfg.RetryIf(err) || attempt == cfg.MaxAttempts {
			return zero, attempt, err
		}

		delay := cfg.calculateDelay(attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}

		if err := cfg.Sleep(ctx, delay); err != nil {
			return zero, attempt, lastErr
		}
	}

	return zero, cfg.MaxAttempts, lastErr
}

// ============================================================
// Классификация ошибок
// ============================================================

// RetryableError интерфейс для ошибок которые сами сообщают о возможности retry
type RetryableError interface {
	error
	Retryable() bool
}

// IsRetryable проверяет можно ли retry'ить ошибку
//
// Возвращает true если:
// - Ошибка реализует RetryableError и Retryable() == true
// - Ошибка временная (Temporary() == true)
//
// Ошибки контекста и ошибки без классификации не повторяются.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryable RetryableError
	if errors.As(err, &retryable) {
		return retryable.Retryable()
	}

	type temporary interface {
		Temporary() bool
	}
	var temp temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}

	return false
}
