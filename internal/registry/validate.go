package registry

import (
	"errors"

	"riskengine/internal/models"
	"riskengine/pkg/utils"
)

// Validate проверяет набор правил перед публикацией и использованием
func Validate(cfg *models.RuleSetConfig) error {
	var errs utils.ValidationErrors

	errs.Add("group", utils.ValidateGroup(cfg.Group))
	errs.Add("max_drawdown_percent", utils.ValidatePercentage(cfg.MaxDrawdownPercent))
	errs.Add("max_daily_loss_percent", utils.ValidatePercentage(cfg.MaxDailyLossPercent))
	errs.Add("daily_loss_warning_ratio", utils.ValidateRatio(cfg.DailyLossWarningRatio))
	errs.Add("max_risk_per_trade_percent", utils.ValidatePercentage(cfg.MaxRiskPerTradePct))
	errs.Add("consistency_max_percent", utils.ValidatePercentage(cfg.ConsistencyMaxPercent))
	errs.Add("max_lot_size", utils.ValidateNonNegative(cfg.MaxLotSize))
	errs.Add("revenge_volume_multiplier", utils.ValidateNonNegative(cfg.RevengeVolumeMultiplier))
	errs.Add("martingale_multiplier", utils.ValidateNonNegative(cfg.MartingaleMultiplier))

	counts := []struct {
		field string
		value int
	}{
		{"min_trade_duration_seconds", cfg.MinTradeDurationSeconds},
		{"max_trades_per_day", cfg.MaxTradesPerDay},
		{"news_buffer_minutes", cfg.NewsBufferMinutes},
		{"revenge_window_seconds", cfg.RevengeWindowSeconds},
		{"hedge_min_overlap_seconds", cfg.HedgeMinOverlapSeconds},
		{"ea_sensitivity", cfg.EASensitivity},
	}
	for _, c := range counts {
		errs.Add(c.field, utils.ValidateNonNegative(float64(c.value)))
	}

	if cfg.DailyRolloverHour < 0 || cfg.DailyRolloverHour > 23 {
		errs.Add("daily_rollover_hour", errors.New("must be between 0 and 23"))
	}
	if _, err := cfg.Location(); err != nil {
		errs.Add("daily_rollover_timezone", err)
	}

	if cfg.TradingHoursEnabled {
		errs.Add("trading_start", utils.ValidateClock(cfg.TradingStart))
		errs.Add("trading_end", utils.ValidateClock(cfg.TradingEnd))
	}

	return errs.Err()
}
