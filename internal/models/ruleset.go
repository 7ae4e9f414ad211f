package models

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // таймзоны брокеров без системной tzdata
)

// RuleSetConfig - версионированный набор правил риска для группы счетов
//
// Конфигурация неизменяема: любое изменение публикуется как новая версия,
// предыдущая версия деактивируется. Нарушения хранят ID и версию набора,
// по которому они были обнаружены.
//
// Проценты задаются в единицах процента (5 = 5%). Нулевое значение
// лимита означает что правило выключено, если не указано иное.
type RuleSetConfig struct {
	ID        int64     `json:"id" yaml:"-" db:"id"`
	Group     string    `json:"group" yaml:"group" db:"account_group"`
	Version   int       `json:"version" yaml:"-" db:"version"`
	Active    bool      `json:"active" yaml:"-" db:"active"`
	CreatedAt time.Time `json:"created_at" yaml:"-" db:"created_at"`

	// Просадка и дневной убыток
	MaxDrawdownPercent    float64 `json:"max_drawdown_percent" yaml:"max_drawdown_percent"`
	MaxDailyLossPercent   float64 `json:"max_daily_loss_percent" yaml:"max_daily_loss_percent"`
	DailyLossWarningRatio float64 `json:"daily_loss_warning_ratio" yaml:"daily_loss_warning_ratio"` // доля лимита для предупреждения, 0 = выкл
	MaxRiskPerTradePct    float64 `json:"max_risk_per_trade_percent" yaml:"max_risk_per_trade_percent"`

	// Граница торгового дня: таймзона брокера и час перехода
	DailyRolloverTimezone string `json:"daily_rollover_timezone" yaml:"daily_rollover_timezone"`
	DailyRolloverHour     int    `json:"daily_rollover_hour" yaml:"daily_rollover_hour"`

	// Поведение трейдера
	MinTradeDurationSeconds int     `json:"min_trade_duration_seconds" yaml:"min_trade_duration_seconds"`
	MaxLotSize              float64 `json:"max_lot_size" yaml:"max_lot_size"`
	MaxTradesPerDay         int     `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	ConsistencyMaxPercent   float64 `json:"consistency_max_percent" yaml:"consistency_max_percent"`

	// Торговые окна
	TradingHoursEnabled bool   `json:"trading_hours_enabled" yaml:"trading_hours_enabled"`
	TradingStart        string `json:"trading_start,omitempty" yaml:"trading_start"` // HH:MM
	TradingEnd          string `json:"trading_end,omitempty" yaml:"trading_end"`     // HH:MM
	AllowWeekend        bool   `json:"allow_weekend" yaml:"allow_weekend"`
	AllowNewsTrading    bool   `json:"allow_news_trading" yaml:"allow_news_trading"`
	NewsBufferMinutes   int    `json:"news_buffer_minutes" yaml:"news_buffer_minutes"`

	// Эвристики злоупотреблений
	RevengeWindowSeconds    int     `json:"revenge_window_seconds" yaml:"revenge_window_seconds"`
	RevengeVolumeMultiplier float64 `json:"revenge_volume_multiplier" yaml:"revenge_volume_multiplier"`
	AllowHedging            bool    `json:"allow_hedging" yaml:"allow_hedging"`
	HedgeMinOverlapSeconds  int     `json:"hedge_min_overlap_seconds" yaml:"hedge_min_overlap_seconds"`
	AllowMartingale         bool    `json:"allow_martingale" yaml:"allow_martingale"`
	MartingaleMultiplier    float64 `json:"martingale_multiplier" yaml:"martingale_multiplier"`
	AllowEA                 bool    `json:"allow_ea" yaml:"allow_ea"`
	EASensitivity           int     `json:"ea_sensitivity" yaml:"ea_sensitivity"` // число субсекундных повторных входов
}

// DefaultRuleSet возвращает набор правил по умолчанию для группы
//
// Значения соответствуют базовому тарифу: 10% общая просадка,
// 5% дневной убыток, предупреждение на 80% дневного лимита.
func DefaultRuleSet(group string) RuleSetConfig {
	return RuleSetConfig{
		Group:                   group,
		MaxDrawdownPercent:      10,
		MaxDailyLossPercent:     5,
		DailyLossWarningRatio:   0.8,
		DailyRolloverTimezone:   "UTC",
		MinTradeDurationSeconds: 180,
		ConsistencyMaxPercent:   50,
		AllowWeekend:            false,
		AllowNewsTrading:        true,
		NewsBufferMinutes:       5,
		RevengeWindowSeconds:    300,
		RevengeVolumeMultiplier: 1.5,
		AllowHedging:            true,
		HedgeMinOverlapSeconds:  2,
		AllowMartingale:         true,
		MartingaleMultiplier:    2,
		AllowEA:                 true,
		EASensitivity:           3,
	}
}

// ApplyDefaults заполняет параметры эвристик, не заданные явно
func (c *RuleSetConfig) ApplyDefaults() {
	if c.DailyRolloverTimezone == "" {
		c.DailyRolloverTimezone = "UTC"
	}
	if c.RevengeWindowSeconds == 0 {
		c.RevengeWindowSeconds = 300
	}
	if c.RevengeVolumeMultiplier == 0 {
		c.RevengeVolumeMultiplier = 1.5
	}
	if c.HedgeMinOverlapSeconds == 0 {
		c.HedgeMinOverlapSeconds = 2
	}
	if c.MartingaleMultiplier == 0 {
		c.MartingaleMultiplier = 2
	}
	if c.EASensitivity == 0 {
		c.EASensitivity = 3
	}
}

// Location возвращает таймзону границы торгового дня
func (c *RuleSetConfig) Location() (*time.Location, error) {
	if c.DailyRolloverTimezone == "" || strings.EqualFold(c.DailyRolloverTimezone, "UTC") {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.DailyRolloverTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid daily_rollover_timezone %q: %w", c.DailyRolloverTimezone, err)
	}
	return loc, nil
}

// Clone возвращает копию конфигурации
func (c *RuleSetConfig) Clone() *RuleSetConfig {
	cp := *c
	return &cp
}

// Ref возвращает строковый идентификатор версии для логов и событий
func (c *RuleSetConfig) Ref() string {
	return fmt.Sprintf("%s@v%d", c.Group, c.Version)
}
