// Package closemark implements the marking-the-close detection category:
// concentrating volume into the end-of-day window to push the closing
// price.
package closemark

import (
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/rules"
	"github.com/finsentry/tradewatch/internal/scoring"
	"github.com/finsentry/tradewatch/internal/window"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

// Category is the marking-the-close category identifier.
const Category = "marking_close"

// Rules returns the category's rule set.
func Rules(cfg config.CloseMark, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&CloseVolumeConcentration{cfg: cfg, builder: builder, logger: logger},
		&ClosePriceImpact{cfg: cfg, builder: builder, logger: logger},
		&MonthEndMarking{cfg: cfg, builder: builder, logger: logger},
	}
}

// dayStats collects one instrument-day's trades and per-account volume
// split between the close window and the full day.
type dayStats struct {
	instrument   string
	day          string
	totalVolume  decimal.Decimal
	windowVolume map[string]decimal.Decimal // account -> close-window volume
	firstInWin   model.Trade
	lastInWin    model.Trade
	haveWindow   bool
	lastSeen     time.Time
}

// inWindow reports whether a timestamp's minute-of-day falls inside
// [closeMinute-windowMinutes, closeMinute).
func inWindow(ts time.Time, closeMinute, windowMinutes int) bool {
	m := window.MinuteOfDay(ts)
	return m >= closeMinute-windowMinutes && m < closeMinute
}

// collectDayStats builds per instrument-day statistics over the close
// window defined by the config.
func collectDayStats(trades []model.Trade, closeMinute, windowMinutes int) map[string]*dayStats {
	stats := make(map[string]*dayStats)
	for _, t := range rules.SortTradesByTime(rules.TradesWithJoinKeys(trades)) {
		day := window.DayKey(t.Timestamp)
		key := t.InstrumentID + "|" + day
		ds, ok := stats[key]
		if !ok {
			ds = &dayStats{
				instrument:   t.InstrumentID,
				day:          day,
				windowVolume: make(map[string]decimal.Decimal),
			}
			stats[key] = ds
		}
		ds.totalVolume = ds.totalVolume.Add(t.TradeValue)
		ds.lastSeen = t.Timestamp
		if inWindow(t.Timestamp, closeMinute, windowMinutes) {
			if !ds.haveWindow {
				ds.firstInWin = t
				ds.haveWindow = true
			}
			ds.lastInWin = t
			for _, acct := range []string{t.BuyAccountID, t.SellAccountID} {
				ds.windowVolume[acct] = ds.windowVolume[acct].Add(t.TradeValue)
			}
		}
	}
	return stats
}

// windowImpactPct is the absolute price move across the close window.
func (ds *dayStats) windowImpactPct() float64 {
	if !ds.haveWindow {
		return 0
	}
	return rules.PctDiff(ds.lastInWin.Price, ds.firstInWin.Price)
}

// CloseVolumeConcentration flags accounts whose close-window volume is an
// outsized share of the instrument's daily volume.
type CloseVolumeConcentration struct {
	cfg     config.CloseMark
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *CloseVolumeConcentration) ID() string { return "close_volume_concentration" }

// Evaluate implements rules.Rule.
func (r *CloseVolumeConcentration) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	stats := collectDayStats(ts.Trades, r.cfg.CloseMinuteOfDay, r.cfg.CloseWindowMinutes)

	var cands []rules.Candidate
	for _, ds := range stats {
		for acct, winVol := range ds.windowVolume {
			ratio := window.ConcentrationRatio(winVol, ds.totalVolume)
			if ratio < r.cfg.MinConcentration {
				continue
			}
			cands = append(cands, rules.Candidate{
				Entity:        rules.EntityKey(acct, ds.instrument),
				Timestamp:     ds.lastSeen,
				AccountIDs:    []string{acct},
				InstrumentIDs: []string{ds.instrument},
				Fields: map[string]interface{}{
					"day":           ds.day,
					"concentration": ratio,
					"window_value":  rules.Float(winVol),
					"day_value":     rules.Float(ds.totalVolume),
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_days"] = aggs[i].OccurrenceCount
		aggs[i].Evidence["min_concentration"] = r.cfg.MinConcentration
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("close-window volume concentration on %d days for %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// ClosePriceImpact requires both a concentrated close-window presence and
// a material price move across the window.
type ClosePriceImpact struct {
	cfg     config.CloseMark
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *ClosePriceImpact) ID() string { return "close_price_impact" }

// Evaluate implements rules.Rule.
func (r *ClosePriceImpact) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	stats := collectDayStats(ts.Trades, r.cfg.CloseMinuteOfDay, r.cfg.CloseWindowMinutes)

	var cands []rules.Candidate
	for _, ds := range stats {
		impact := ds.windowImpactPct()
		if impact < r.cfg.MinPriceImpactPct {
			continue
		}
		for acct, winVol := range ds.windowVolume {
			ratio := window.ConcentrationRatio(winVol, ds.totalVolume)
			if ratio < r.cfg.MinConcentration {
				continue
			}
			cands = append(cands, rules.Candidate{
				Entity:        rules.EntityKey(acct, ds.instrument),
				Timestamp:     ds.lastSeen,
				AccountIDs:    []string{acct},
				InstrumentIDs: []string{ds.instrument},
				Fields: map[string]interface{}{
					"day":           ds.day,
					"concentration": ratio,
					"impact_pct":    impact,
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_days"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("close-window price impact with concentrated volume for %s", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// MonthEndMarking is close-window concentration restricted to the final
// trading day of each calendar month, when valuation marks are set.
type MonthEndMarking struct {
	cfg     config.CloseMark
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *MonthEndMarking) ID() string { return "month_end_marking" }

// Evaluate implements rules.Rule.
func (r *MonthEndMarking) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	stats := collectDayStats(ts.Trades, r.cfg.CloseMinuteOfDay, r.cfg.CloseWindowMinutes)

	// Last observed trading day per instrument-month.
	lastDay := make(map[string]string)
	for _, ds := range stats {
		mk := ds.instrument + "|" + ds.day[:7]
		if ds.day > lastDay[mk] {
			lastDay[mk] = ds.day
		}
	}

	var cands []rules.Candidate
	for _, ds := range stats {
		if lastDay[ds.instrument+"|"+ds.day[:7]] != ds.day {
			continue
		}
		impact := ds.windowImpactPct()
		for acct, winVol := range ds.windowVolume {
			ratio := window.ConcentrationRatio(winVol, ds.totalVolume)
			if ratio < r.cfg.MinConcentration || impact < r.cfg.MinPriceImpactPct {
				continue
			}
			cands = append(cands, rules.Candidate{
				Entity:        rules.EntityKey(acct, ds.instrument),
				Timestamp:     ds.lastSeen,
				AccountIDs:    []string{acct},
				InstrumentIDs: []string{ds.instrument},
				Fields: map[string]interface{}{
					"month":         ds.day[:7],
					"concentration": ratio,
					"impact_pct":    impact,
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_month_ends"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("month-end close marking across %d months by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
