// Package benchmark implements the benchmark/fixing manipulation category:
// pushing volume or price inside the window a reference rate is computed
// from.
package benchmark

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

// Category is the benchmark manipulation category identifier.
const Category = "benchmark"

// Rules returns the category's rule set.
func Rules(cfg config.Benchmark, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&FixingWindowConcentration{cfg: cfg, builder: builder, logger: logger},
		&FixingPriceImpact{cfg: cfg, builder: builder, logger: logger},
		&BenchmarkPeriodSpike{cfg: cfg, builder: builder, logger: logger},
	}
}

type fixingDay struct {
	instrument  string
	day         string
	totalVolume decimal.Decimal
	fixVolume   map[string]decimal.Decimal // per account
	fixTotal    decimal.Decimal
	firstInFix  model.Trade
	lastInFix   model.Trade
	haveFix     bool
	lastSeen    time.Time
}

func inFixing(ts time.Time, startMinute, endMinute int) bool {
	m := window.MinuteOfDay(ts)
	return m >= startMinute && m < endMinute
}

func collectFixingDays(trades []model.Trade, startMinute, endMinute int) map[string]*fixingDay {
	days := make(map[string]*fixingDay)
	for _, t := range rules.SortTradesByTime(rules.TradesWithJoinKeys(trades)) {
		key := t.InstrumentID + "|" + window.DayKey(t.Timestamp)
		fd, ok := days[key]
		if !ok {
			fd = &fixingDay{
				instrument: t.InstrumentID,
				day:        window.DayKey(t.Timestamp),
				fixVolume:  make(map[string]decimal.Decimal),
			}
			days[key] = fd
		}
		fd.totalVolume = fd.totalVolume.Add(t.TradeValue)
		fd.lastSeen = t.Timestamp
		if inFixing(t.Timestamp, startMinute, endMinute) {
			if !fd.haveFix {
				fd.firstInFix = t
				fd.haveFix = true
			}
			fd.lastInFix = t
			fd.fixTotal = fd.fixTotal.Add(t.TradeValue)
			for _, acct := range []string{t.BuyAccountID, t.SellAccountID} {
				fd.fixVolume[acct] = fd.fixVolume[acct].Add(t.TradeValue)
			}
		}
	}
	return days
}

// FixingWindowConcentration flags accounts dominating the fixing window
// relative to the instrument's full day.
type FixingWindowConcentration struct {
	cfg     config.Benchmark
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *FixingWindowConcentration) ID() string { return "fixing_window_concentration" }

// Evaluate implements rules.Rule.
func (r *FixingWindowConcentration) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	days := collectFixingDays(ts.Trades, r.cfg.FixingStartMinute, r.cfg.FixingEndMinute)

	var cands []rules.Candidate
	for _, fd := range days {
		for acct, vol := range fd.fixVolume {
			ratio := window.ConcentrationRatio(vol, fd.totalVolume)
			if ratio < r.cfg.MinConcentration {
				continue
			}
			cands = append(cands, rules.Candidate{
				Entity:        rules.EntityKey(acct, fd.instrument),
				Timestamp:     fd.lastSeen,
				AccountIDs:    []string{acct},
				InstrumentIDs: []string{fd.instrument},
				Fields: map[string]interface{}{
					"day":           fd.day,
					"concentration": ratio,
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_days"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("fixing-window volume concentration on %d days for %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// FixingPriceImpact flags fixing windows where the price was walked while
// an account held a concentrated share of the printed volume.
type FixingPriceImpact struct {
	cfg     config.Benchmark
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *FixingPriceImpact) ID() string { return "fixing_price_impact" }

// Evaluate implements rules.Rule.
func (r *FixingPriceImpact) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	days := collectFixingDays(ts.Trades, r.cfg.FixingStartMinute, r.cfg.FixingEndMinute)

	var cands []rules.Candidate
	for _, fd := range days {
		if !fd.haveFix {
			continue
		}
		impact := rules.PctDiff(fd.lastInFix.Price, fd.firstInFix.Price)
		if impact < r.cfg.MinPriceImpactPct {
			continue
		}
		for acct, vol := range fd.fixVolume {
			ratio := window.ConcentrationRatio(vol, fd.fixTotal)
			if ratio < r.cfg.MinConcentration {
				continue
			}
			cands = append(cands, rules.Candidate{
				Entity:        rules.EntityKey(acct, fd.instrument),
				Timestamp:     fd.lastSeen,
				AccountIDs:    []string{acct},
				InstrumentIDs: []string{fd.instrument},
				Fields: map[string]interface{}{
					"day":        fd.day,
					"impact_pct": impact,
					"fix_share":  ratio,
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_days"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("price pushed through the fixing window by %s", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// BenchmarkPeriodSpike flags instrument-days whose fixing-window volume is
// a statistical outlier against the instrument's trailing fixing volumes.
type BenchmarkPeriodSpike struct {
	cfg     config.Benchmark
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *BenchmarkPeriodSpike) ID() string { return "benchmark_period_spike" }

// Evaluate implements rules.Rule.
func (r *BenchmarkPeriodSpike) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	days := collectFixingDays(ts.Trades, r.cfg.FixingStartMinute, r.cfg.FixingEndMinute)

	// Daily fixing-volume series per instrument.
	series := make(map[string][]window.Sample)
	for _, fd := range days {
		if !fd.haveFix {
			continue
		}
		series[fd.instrument] = append(series[fd.instrument], window.Sample{
			Timestamp: fd.lastSeen,
			Value:     rules.Float(fd.fixTotal),
		})
	}

	lookback := time.Duration(r.cfg.BaselineLookbackDays) * 24 * time.Hour
	var cands []rules.Candidate
	for _, fd := range days {
		if !fd.haveFix {
			continue
		}
		stats := window.BaselineStats(series[fd.instrument], fd.lastSeen, lookback, nil)
		z := stats.ZScore(rules.Float(fd.fixTotal))
		if z < r.cfg.MinVolumeZScore {
			continue
		}
		// Attribute the spike to the account with the largest share.
		var topAcct string
		topVol := decimal.Zero
		for acct, vol := range fd.fixVolume {
			if vol.GreaterThan(topVol) || (vol.Equal(topVol) && acct < topAcct) {
				topAcct, topVol = acct, vol
			}
		}
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(fd.instrument),
			Timestamp:     fd.lastSeen,
			AccountIDs:    []string{topAcct},
			InstrumentIDs: []string{fd.instrument},
			Fields: map[string]interface{}{
				"day":            fd.day,
				"volume_z_score": z,
				"top_account":    topAcct,
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_spike_days"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("fixing-window volume spikes on %d days in %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
