// Package scoring converts per-entity pattern aggregates into scored,
// materialized alerts. Severity tiers come from occurrence counts and are
// evaluated high-to-low; confidence grows linearly with occurrences and is
// capped below certainty.
package scoring

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/model"
)

// Config holds the scoring thresholds for one category. All values come
// from configuration, never from literals inside rules.
type Config struct {
	MinOccurrences            int
	SeverityHighOccurrences   int
	SeverityMediumOccurrences int
	ConfidenceBase            float64
	ConfidenceSlope           float64
}

// EntityAggregate is one row of a rule's aggregate-by-entity step: the
// alerting entity (account, account pair, or instrument) with its occurrence
// count and supporting facts.
type EntityAggregate struct {
	Entity          string
	OccurrenceCount int
	AccountIDs      []string
	InstrumentIDs   []string
	Evidence        map[string]interface{}
}

// Builder materializes alerts for one category.
type Builder struct {
	category string
	cfg      Config
	logger   *zap.SugaredLogger
}

// NewBuilder creates an alert builder for a category.
func NewBuilder(category string, cfg Config, logger *zap.SugaredLogger) *Builder {
	return &Builder{category: category, cfg: cfg, logger: logger}
}

// Severity assigns the severity tier for an occurrence count. Tiers are
// checked high to low so the highest qualifying tier wins.
func (b *Builder) Severity(occurrences int) model.Severity {
	switch {
	case occurrences >= b.cfg.SeverityHighOccurrences:
		return model.SeverityHigh
	case occurrences >= b.cfg.SeverityMediumOccurrences:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// Confidence computes min(MaxConfidence, base + occurrences*slope). A
// result outside [0, 1] before the designed cap is a programming error and
// panics rather than being silently clamped.
func (b *Builder) Confidence(occurrences int) float64 {
	c := b.cfg.ConfidenceBase + float64(occurrences)*b.cfg.ConfidenceSlope
	if c < 0 {
		panic(fmt.Sprintf("scoring: negative confidence %f for %s", c, b.category))
	}
	if c > model.MaxConfidence {
		c = model.MaxConfidence
	}
	return c
}

// BuildAlerts produces one alert per aggregate meeting the category's
// minimum-occurrence threshold. The describe callback renders the templated
// human description for one aggregate. Input aggregates must already be in
// deterministic (entity-sorted) order; output order follows input order.
func (b *Builder) BuildAlerts(ruleID string, aggs []EntityAggregate, describe func(EntityAggregate) string) []model.Alert {
	var alerts []model.Alert
	now := time.Now().UTC()
	for _, agg := range aggs {
		if agg.OccurrenceCount < b.cfg.MinOccurrences {
			continue
		}
		evidence := agg.Evidence
		if evidence == nil {
			evidence = map[string]interface{}{}
		}
		alert := model.Alert{
			AlertID:         model.NewAlertID(b.category, ruleID),
			Category:        b.category,
			RuleID:          ruleID,
			Severity:        b.Severity(agg.OccurrenceCount),
			Timestamp:       now,
			AccountIDs:      model.SortedCopy(agg.AccountIDs),
			InstrumentIDs:   model.SortedCopy(agg.InstrumentIDs),
			Description:     describe(agg),
			Evidence:        evidence,
			ConfidenceScore: b.Confidence(agg.OccurrenceCount),
		}
		alerts = append(alerts, alert)
	}
	if len(alerts) > 0 && b.logger != nil {
		b.logger.Infow("alerts built", "category", b.category, "rule", ruleID, "count", len(alerts))
	}
	return alerts
}
