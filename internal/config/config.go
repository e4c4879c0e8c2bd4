// Package config holds the typed per-category configuration of the
// surveillance engine. Every threshold a rule uses is a named, documented,
// overridable option here; nonsensical values are rejected at load time,
// before any rule executes.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/finsentry/tradewatch/internal/scoring"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

// Common is the scoring/windowing block every category carries.
type Common struct {
	// MinOccurrences is the minimum occurrence count an entity needs
	// before an alert is emitted.
	MinOccurrences int `mapstructure:"min_occurrences"`
	// TimeWindowSeconds is the category's default grouping window.
	TimeWindowSeconds int `mapstructure:"time_window_seconds"`
	// SeverityHighOccurrences / SeverityMediumOccurrences are the
	// occurrence-count tiers; tiers are evaluated high to low.
	SeverityHighOccurrences   int `mapstructure:"severity_high_occurrences"`
	SeverityMediumOccurrences int `mapstructure:"severity_medium_occurrences"`
	// Confidence = min(0.95, ConfidenceBase + n*ConfidenceSlope).
	ConfidenceBase  float64 `mapstructure:"confidence_base"`
	ConfidenceSlope float64 `mapstructure:"confidence_slope"`
	// SaveIntermediates persists each rule's candidate table for audit.
	SaveIntermediates bool `mapstructure:"save_intermediates"`
}

// Scoring converts the common block into the scoring configuration.
func (c Common) Scoring() scoring.Config {
	return scoring.Config{
		MinOccurrences:            c.MinOccurrences,
		SeverityHighOccurrences:   c.SeverityHighOccurrences,
		SeverityMediumOccurrences: c.SeverityMediumOccurrences,
		ConfidenceBase:            c.ConfidenceBase,
		ConfidenceSlope:           c.ConfidenceSlope,
	}
}

func (c Common) validate(category string) error {
	if c.MinOccurrences < 1 {
		return apperrors.NewConfigError(category, "min_occurrences", "must be >= 1")
	}
	if c.TimeWindowSeconds < 0 {
		return apperrors.NewConfigError(category, "time_window_seconds", "must not be negative")
	}
	if c.SeverityHighOccurrences < c.SeverityMediumOccurrences {
		return apperrors.NewConfigError(category, "severity_high_occurrences", "must be >= severity_medium_occurrences")
	}
	if c.SeverityMediumOccurrences < 1 {
		return apperrors.NewConfigError(category, "severity_medium_occurrences", "must be >= 1")
	}
	if c.ConfidenceBase < 0 || c.ConfidenceBase > 1 {
		return apperrors.NewConfigError(category, "confidence_base", "must be in [0, 1]")
	}
	if c.ConfidenceSlope < 0 {
		return apperrors.NewConfigError(category, "confidence_slope", "must not be negative")
	}
	return nil
}

// WashTrade configures the wash-trading category.
type WashTrade struct {
	Common `mapstructure:",squash"`
	// PriceTolerancePct is the max price divergence (percent) for two
	// opposite-side trades to count as matched.
	PriceTolerancePct float64 `mapstructure:"price_tolerance_pct"`
	// RoundTripWindowSeconds is the asof-match tolerance between an
	// account's buy and sell legs.
	RoundTripWindowSeconds int `mapstructure:"round_trip_window_seconds"`
	// MaxPriceImpactPct flags trade volume as potentially inflated when
	// the surrounding price move stays under this percentage.
	MaxPriceImpactPct float64 `mapstructure:"max_price_impact_pct"`
	// MinInflatedShare is the minimum share of an account's daily volume
	// that must look inflated before the volume-inflation rule fires.
	MinInflatedShare float64 `mapstructure:"min_inflated_share"`
}

// Spoof configures the layering/spoofing category.
type Spoof struct {
	Common `mapstructure:",squash"`
	// MinPriceLevels is the minimum distinct price levels in a layering
	// cluster.
	MinPriceLevels int `mapstructure:"min_price_levels"`
	// MinClusterOrders is the minimum same-side orders forming a cluster.
	MinClusterOrders int `mapstructure:"min_cluster_orders"`
	// LayerWindowSeconds bounds the cluster placement window.
	LayerWindowSeconds int `mapstructure:"layer_window_seconds"`
	// CancelWindowSeconds bounds how quickly cluster orders must be
	// cancelled.
	CancelWindowSeconds int `mapstructure:"cancel_window_seconds"`
	// ExecutionWindowSeconds bounds the opposite-side execution following
	// the cancellations.
	ExecutionWindowSeconds int `mapstructure:"execution_window_seconds"`
	// MinCancelRate is the minimum cancelled share of the cluster.
	MinCancelRate float64 `mapstructure:"min_cancel_rate"`
	// RapidCancelSeconds is the time-to-cancel bound for the
	// rapid-cancellation rule.
	RapidCancelSeconds int `mapstructure:"rapid_cancel_seconds"`
	// BurstWindowSeconds / MinBurstOrders define a quote-stuffing burst.
	BurstWindowSeconds int `mapstructure:"burst_window_seconds"`
	MinBurstOrders     int `mapstructure:"min_burst_orders"`
	// MaxDisplayedRatio flags iceberg abuse when displayed/total quantity
	// stays below this ratio.
	MaxDisplayedRatio float64 `mapstructure:"max_displayed_ratio"`
}

// FrontRun configures the front-running category.
type FrontRun struct {
	Common `mapstructure:",squash"`
	// SizeMultiple defines a "large" order relative to the
	// account-instrument's typical (mean) size.
	SizeMultiple float64 `mapstructure:"size_multiple"`
	// LookbackSeconds is how far before the large order a preceding
	// same-side order may sit.
	LookbackSeconds int `mapstructure:"lookback_seconds"`
	// BaselineLookbackDays bounds the typical-size baseline.
	BaselineLookbackDays int `mapstructure:"baseline_lookback_days"`
	// MinBaselineOrders is the minimum history before an order can be
	// judged large.
	MinBaselineOrders int `mapstructure:"min_baseline_orders"`
	// MinInstrumentsForPattern gates the cross-instrument pattern rule.
	MinInstrumentsForPattern int `mapstructure:"min_instruments_for_pattern"`
	// ProfitWindowSeconds bounds the post-event profit attribution.
	ProfitWindowSeconds int `mapstructure:"profit_window_seconds"`
	// MinProfitPct is the minimum next-price profit (percent) for the
	// profit rule.
	MinProfitPct float64 `mapstructure:"min_profit_pct"`
}

// CloseMark configures the marking-the-close category.
type CloseMark struct {
	Common `mapstructure:",squash"`
	// CloseWindowMinutes is the width of the end-of-day window, measured
	// back from CloseMinuteOfDay.
	CloseWindowMinutes int `mapstructure:"close_window_minutes"`
	// CloseMinuteOfDay is the session close as minutes from UTC midnight.
	CloseMinuteOfDay int `mapstructure:"close_minute_of_day"`
	// MinConcentration is the minimum close-window share of daily volume.
	MinConcentration float64 `mapstructure:"min_concentration"`
	// MinPriceImpactPct is the minimum price move across the window.
	MinPriceImpactPct float64 `mapstructure:"min_price_impact_pct"`
}

// Insider configures the insider-trading category.
type Insider struct {
	Common `mapstructure:",squash"`
	// PreEventDays is the window before an announcement under test.
	PreEventDays int `mapstructure:"pre_event_days"`
	// BaselineLookbackDays bounds the clean (event-excluded) baseline.
	BaselineLookbackDays int `mapstructure:"baseline_lookback_days"`
	// MinVolumeZScore / MinPriceMovePct are the anomaly thresholds.
	MinVolumeZScore float64 `mapstructure:"min_volume_z_score"`
	MinPriceMovePct float64 `mapstructure:"min_price_move_pct"`
	// PostEventDays bounds the profitable-close window after the event.
	PostEventDays int `mapstructure:"post_event_days"`
	// MinProfitPct is the minimum realized gain for the profitable-close
	// rule.
	MinProfitPct float64 `mapstructure:"min_profit_pct"`
}

// Collusion configures the collusion category.
type Collusion struct {
	Common `mapstructure:",squash"`
	// BucketSeconds is the synchronized-trading bucket width.
	BucketSeconds int `mapstructure:"bucket_seconds"`
	// MinAccounts is the minimum distinct accounts in one bucket.
	MinAccounts int `mapstructure:"min_accounts"`
	// MinBuckets is the minimum repeated buckets for a group to alert.
	MinBuckets int `mapstructure:"min_buckets"`
	// PriceTolerancePct bounds coordinated price-support orders.
	PriceTolerancePct float64 `mapstructure:"price_tolerance_pct"`
	// QtyTolerancePct bounds quantity matching in circular chains.
	QtyTolerancePct float64 `mapstructure:"qty_tolerance_pct"`
	// CircleWindowSeconds bounds one circular-trading loop.
	CircleWindowSeconds int `mapstructure:"circle_window_seconds"`
}

// CrossVenue configures the cross-venue manipulation category.
type CrossVenue struct {
	Common `mapstructure:",squash"`
	// MinDivergencePct is the minimum simultaneous price divergence
	// between venues.
	MinDivergencePct float64 `mapstructure:"min_divergence_pct"`
	// BucketSeconds aligns trades across venues for comparison.
	BucketSeconds int `mapstructure:"bucket_seconds"`
	// MinShiftRatio is the minimum day-over-day venue volume shift.
	MinShiftRatio float64 `mapstructure:"min_shift_ratio"`
	// PriceTolerancePct bounds cross-venue wash matching.
	PriceTolerancePct float64 `mapstructure:"price_tolerance_pct"`
}

// Benchmark configures the benchmark/fixing manipulation category.
type Benchmark struct {
	Common `mapstructure:",squash"`
	// FixingStartMinute / FixingEndMinute bound the fixing window as
	// minutes from UTC midnight.
	FixingStartMinute int `mapstructure:"fixing_start_minute"`
	FixingEndMinute   int `mapstructure:"fixing_end_minute"`
	// MinConcentration is the minimum fixing-window share of daily volume.
	MinConcentration float64 `mapstructure:"min_concentration"`
	// MinPriceImpactPct is the minimum price move across the fixing
	// window.
	MinPriceImpactPct float64 `mapstructure:"min_price_impact_pct"`
	// MinVolumeZScore flags fixing-window volume spikes against the
	// instrument's daily baseline.
	MinVolumeZScore float64 `mapstructure:"min_volume_z_score"`
	// BaselineLookbackDays bounds the spike baseline.
	BaselineLookbackDays int `mapstructure:"baseline_lookback_days"`
}

// Structuring configures the structuring/AML category.
type Structuring struct {
	Common `mapstructure:",squash"`
	// ReportingThreshold is the monetary reporting threshold.
	ReportingThreshold float64 `mapstructure:"reporting_threshold"`
	// ThresholdMarginPct defines "just below": a trade counts when its
	// value sits within this percentage under the threshold.
	ThresholdMarginPct float64 `mapstructure:"threshold_margin_pct"`
	// ClusterWindowSeconds / MinTradesPerCluster define a structuring
	// cluster.
	ClusterWindowSeconds int `mapstructure:"cluster_window_seconds"`
	MinTradesPerCluster  int `mapstructure:"min_trades_per_cluster"`
	// RoundAmountModulus flags conspicuously round trade values.
	RoundAmountModulus float64 `mapstructure:"round_amount_modulus"`
	// MinRoundShare is the minimum round-value share of an account's
	// trades.
	MinRoundShare float64 `mapstructure:"min_round_share"`
	// VelocityWindowSeconds / MinVelocityTrades define a velocity burst.
	VelocityWindowSeconds int `mapstructure:"velocity_window_seconds"`
	MinVelocityTrades     int `mapstructure:"min_velocity_trades"`
}

// Derivative configures the derivatives manipulation category.
type Derivative struct {
	Common `mapstructure:",squash"`
	// ExpiryWindowMinutes bounds the pre-expiry pinning window.
	ExpiryWindowMinutes int `mapstructure:"expiry_window_minutes"`
	// StrikeTolerancePct bounds how close to the strike pinning trades
	// must print.
	StrikeTolerancePct float64 `mapstructure:"strike_tolerance_pct"`
	// MinConcentration is the minimum expiry-window share of daily
	// underlying volume.
	MinConcentration float64 `mapstructure:"min_concentration"`
	// LinkWindowSeconds pairs underlying and derivative activity by the
	// same account.
	LinkWindowSeconds int `mapstructure:"link_window_seconds"`
	// RampBucketSeconds / MinRampBuckets define a one-directional
	// position ramp.
	RampBucketSeconds int `mapstructure:"ramp_bucket_seconds"`
	MinRampBuckets    int `mapstructure:"min_ramp_buckets"`
}

// Config is the engine's full configuration: one block per category plus
// run-level settings.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	DataDir  string `mapstructure:"data_dir"`
	AuditDir string `mapstructure:"audit_dir"`
	// DatabaseDSN enables the gorm audit store. Empty disables it.
	// "sqlite:" and "postgres:" prefixes select the driver.
	DatabaseDSN string `mapstructure:"database_dsn"`

	WashTrade   WashTrade   `mapstructure:"wash_trading"`
	Spoof       Spoof       `mapstructure:"spoofing"`
	FrontRun    FrontRun    `mapstructure:"front_running"`
	CloseMark   CloseMark   `mapstructure:"marking_close"`
	Insider     Insider     `mapstructure:"insider_trading"`
	Collusion   Collusion   `mapstructure:"collusion"`
	CrossVenue  CrossVenue  `mapstructure:"cross_venue"`
	Benchmark   Benchmark   `mapstructure:"benchmark"`
	Structuring Structuring `mapstructure:"structuring"`
	Derivative  Derivative  `mapstructure:"derivatives"`
}

// Load reads the YAML file at path over the documented defaults. An empty
// path returns pure defaults. Validation runs before the config is handed
// to any rule.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		v := viper.New()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects nonsensical thresholds with descriptive failures.
func (c *Config) Validate() error {
	type block struct {
		name   string
		common Common
		extra  func() error
	}
	positive := func(cat, field string, v float64) error {
		if v <= 0 {
			return apperrors.NewConfigError(cat, field, "must be positive")
		}
		return nil
	}
	nonNegative := func(cat, field string, v float64) error {
		if v < 0 {
			return apperrors.NewConfigError(cat, field, "must not be negative")
		}
		return nil
	}
	ratio := func(cat, field string, v float64) error {
		if v < 0 || v > 1 {
			return apperrors.NewConfigError(cat, field, "must be in [0, 1]")
		}
		return nil
	}
	blocks := []block{
		{"wash_trading", c.WashTrade.Common, func() error {
			if err := nonNegative("wash_trading", "price_tolerance_pct", c.WashTrade.PriceTolerancePct); err != nil {
				return err
			}
			if err := positive("wash_trading", "round_trip_window_seconds", float64(c.WashTrade.RoundTripWindowSeconds)); err != nil {
				return err
			}
			return ratio("wash_trading", "min_inflated_share", c.WashTrade.MinInflatedShare)
		}},
		{"spoofing", c.Spoof.Common, func() error {
			if c.Spoof.MinPriceLevels < 2 {
				return apperrors.NewConfigError("spoofing", "min_price_levels", "must be >= 2")
			}
			if err := positive("spoofing", "layer_window_seconds", float64(c.Spoof.LayerWindowSeconds)); err != nil {
				return err
			}
			if err := positive("spoofing", "cancel_window_seconds", float64(c.Spoof.CancelWindowSeconds)); err != nil {
				return err
			}
			if err := positive("spoofing", "execution_window_seconds", float64(c.Spoof.ExecutionWindowSeconds)); err != nil {
				return err
			}
			return ratio("spoofing", "min_cancel_rate", c.Spoof.MinCancelRate)
		}},
		{"front_running", c.FrontRun.Common, func() error {
			if c.FrontRun.SizeMultiple <= 1 {
				return apperrors.NewConfigError("front_running", "size_multiple", "must be > 1")
			}
			if err := positive("front_running", "lookback_seconds", float64(c.FrontRun.LookbackSeconds)); err != nil {
				return err
			}
			if c.FrontRun.MinInstrumentsForPattern < 1 {
				return apperrors.NewConfigError("front_running", "min_instruments_for_pattern", "must be >= 1")
			}
			return nil
		}},
		{"marking_close", c.CloseMark.Common, func() error {
			if err := positive("marking_close", "close_window_minutes", float64(c.CloseMark.CloseWindowMinutes)); err != nil {
				return err
			}
			if c.CloseMark.CloseMinuteOfDay < 0 || c.CloseMark.CloseMinuteOfDay > 24*60 {
				return apperrors.NewConfigError("marking_close", "close_minute_of_day", "must be within one day")
			}
			return ratio("marking_close", "min_concentration", c.CloseMark.MinConcentration)
		}},
		{"insider_trading", c.Insider.Common, func() error {
			if err := positive("insider_trading", "pre_event_days", float64(c.Insider.PreEventDays)); err != nil {
				return err
			}
			if c.Insider.BaselineLookbackDays <= c.Insider.PreEventDays {
				return apperrors.NewConfigError("insider_trading", "baseline_lookback_days", "must exceed pre_event_days")
			}
			return nonNegative("insider_trading", "min_volume_z_score", c.Insider.MinVolumeZScore)
		}},
		{"collusion", c.Collusion.Common, func() error {
			if err := positive("collusion", "bucket_seconds", float64(c.Collusion.BucketSeconds)); err != nil {
				return err
			}
			if c.Collusion.MinAccounts < 2 {
				return apperrors.NewConfigError("collusion", "min_accounts", "must be >= 2")
			}
			return nil
		}},
		{"cross_venue", c.CrossVenue.Common, func() error {
			if err := positive("cross_venue", "bucket_seconds", float64(c.CrossVenue.BucketSeconds)); err != nil {
				return err
			}
			return nonNegative("cross_venue", "min_divergence_pct", c.CrossVenue.MinDivergencePct)
		}},
		{"benchmark", c.Benchmark.Common, func() error {
			if c.Benchmark.FixingEndMinute <= c.Benchmark.FixingStartMinute {
				return apperrors.NewConfigError("benchmark", "fixing_end_minute", "must be after fixing_start_minute")
			}
			return ratio("benchmark", "min_concentration", c.Benchmark.MinConcentration)
		}},
		{"structuring", c.Structuring.Common, func() error {
			if err := positive("structuring", "reporting_threshold", c.Structuring.ReportingThreshold); err != nil {
				return err
			}
			if c.Structuring.ThresholdMarginPct <= 0 || c.Structuring.ThresholdMarginPct > 100 {
				return apperrors.NewConfigError("structuring", "threshold_margin_pct", "must be in (0, 100]")
			}
			return positive("structuring", "cluster_window_seconds", float64(c.Structuring.ClusterWindowSeconds))
		}},
		{"derivatives", c.Derivative.Common, func() error {
			if err := positive("derivatives", "expiry_window_minutes", float64(c.Derivative.ExpiryWindowMinutes)); err != nil {
				return err
			}
			return nonNegative("derivatives", "strike_tolerance_pct", c.Derivative.StrikeTolerancePct)
		}},
	}
	for _, b := range blocks {
		if err := b.common.validate(b.name); err != nil {
			return err
		}
		if err := b.extra(); err != nil {
			return err
		}
	}
	return nil
}
