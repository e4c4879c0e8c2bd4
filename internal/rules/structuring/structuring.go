// Package structuring implements the structuring/AML category: breaking
// activity into trades shaped to stay under reporting thresholds.
package structuring

import (
	"math"
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

// Category is the structuring category identifier.
const Category = "structuring"

// Rules returns the category's rule set.
func Rules(cfg config.Structuring, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&SubThresholdTrades{cfg: cfg, builder: builder, logger: logger},
		&VelocityBurst{cfg: cfg, builder: builder, logger: logger},
		&RoundAmountPattern{cfg: cfg, builder: builder, logger: logger},
	}
}

// thresholdFor resolves the effective reporting threshold for an
// instrument, preferring a per-instrument override from the reference
// table.
func thresholdFor(refs []model.InstrumentRef, instrument string, fallback float64) float64 {
	for _, ref := range refs {
		if ref.InstrumentID == instrument && ref.ReportingOverride.IsPositive() {
			return rules.Float(ref.ReportingOverride)
		}
	}
	return fallback
}

// justBelow reports whether a trade value sits inside the margin band
// directly under the threshold.
func justBelow(value decimal.Decimal, threshold, marginPct float64) bool {
	v := rules.Float(value)
	return v < threshold && v >= threshold*(1-marginPct/100)
}

// accountTrade is one account-side view of a trade.
type accountTrade struct {
	account string
	trade   model.Trade
}

// bySideAccounts expands trades into per-account rows, both sides.
func bySideAccounts(trades []model.Trade) []accountTrade {
	out := make([]accountTrade, 0, 2*len(trades))
	for _, t := range rules.SortTradesByTime(rules.TradesWithJoinKeys(trades)) {
		out = append(out, accountTrade{t.BuyAccountID, t}, accountTrade{t.SellAccountID, t})
	}
	return out
}

// SubThresholdTrades flags clusters of trades each shaped to land just
// under the reporting threshold.
type SubThresholdTrades struct {
	cfg     config.Structuring
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *SubThresholdTrades) ID() string { return "sub_threshold_trades" }

// Evaluate implements rules.Rule.
func (r *SubThresholdTrades) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	windowDur := time.Duration(r.cfg.ClusterWindowSeconds) * time.Second

	// Group just-below trades per account+instrument, then greedily split
	// each sequence into clusters.
	grouped := make(map[string][]accountTrade)
	for _, at := range bySideAccounts(ts.Trades) {
		threshold := thresholdFor(ts.InstrumentRefs, at.trade.InstrumentID, r.cfg.ReportingThreshold)
		if !justBelow(at.trade.TradeValue, threshold, r.cfg.ThresholdMarginPct) {
			continue
		}
		key := at.account + "|" + at.trade.InstrumentID
		grouped[key] = append(grouped[key], at)
	}

	var cands []rules.Candidate
	for key, seq := range grouped {
		start := 0
		for i := 1; i <= len(seq); i++ {
			if i < len(seq) && seq[i].trade.Timestamp.Sub(seq[start].trade.Timestamp) <= windowDur {
				continue
			}
			cluster := seq[start:i]
			start = i
			if len(cluster) < r.cfg.MinTradesPerCluster {
				continue
			}
			total := decimal.Zero
			for _, at := range cluster {
				total = total.Add(at.trade.TradeValue)
			}
			last := cluster[len(cluster)-1]
			cands = append(cands, rules.Candidate{
				Entity:        key,
				Timestamp:     last.trade.Timestamp,
				AccountIDs:    []string{last.account},
				InstrumentIDs: []string{last.trade.InstrumentID},
				Fields: map[string]interface{}{
					"cluster_trades": len(cluster),
					"cluster_value":  rules.Float(total),
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_clusters"] = aggs[i].OccurrenceCount
		aggs[i].Evidence["reporting_threshold"] = r.cfg.ReportingThreshold
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d clusters of just-below-threshold trades by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// VelocityBurst flags abnormal trade counts by one account inside a short
// rolling window.
type VelocityBurst struct {
	cfg     config.Structuring
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *VelocityBurst) ID() string { return "velocity_burst" }

// Evaluate implements rules.Rule.
func (r *VelocityBurst) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}

	// Count per account per fixed bucket.
	type burst struct {
		count int
		last  model.Trade
	}
	buckets := make(map[string]map[int64]*burst)
	for _, at := range bySideAccounts(ts.Trades) {
		b := window.Bucket(at.trade.Timestamp, int64(r.cfg.VelocityWindowSeconds))
		m, ok := buckets[at.account]
		if !ok {
			m = make(map[int64]*burst)
			buckets[at.account] = m
		}
		bu, ok := m[b]
		if !ok {
			bu = &burst{}
			m[b] = bu
		}
		bu.count++
		bu.last = at.trade
	}

	var cands []rules.Candidate
	for acct, m := range buckets {
		for b, bu := range m {
			if bu.count < r.cfg.MinVelocityTrades {
				continue
			}
			cands = append(cands, rules.Candidate{
				Entity:        acct,
				Timestamp:     bu.last.Timestamp,
				AccountIDs:    []string{acct},
				InstrumentIDs: []string{bu.last.InstrumentID},
				Fields: map[string]interface{}{
					"bucket":     b,
					"num_trades": bu.count,
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_bursts"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d trade-velocity bursts by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// RoundAmountPattern flags accounts whose trade values are conspicuously
// round far more often than chance would produce.
type RoundAmountPattern struct {
	cfg     config.Structuring
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *RoundAmountPattern) ID() string { return "round_amount_pattern" }

// Evaluate implements rules.Rule.
func (r *RoundAmountPattern) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}

	type tally struct {
		round int
		total int
		last  model.Trade
	}
	tallies := make(map[string]*tally)
	for _, at := range bySideAccounts(ts.Trades) {
		ta, ok := tallies[at.account]
		if !ok {
			ta = &tally{}
			tallies[at.account] = ta
		}
		ta.total++
		ta.last = at.trade
		if isRound(rules.Float(at.trade.TradeValue), r.cfg.RoundAmountModulus) {
			ta.round++
		}
	}

	var cands []rules.Candidate
	for acct, ta := range tallies {
		if ta.total == 0 {
			continue
		}
		share := float64(ta.round) / float64(ta.total)
		if share < r.cfg.MinRoundShare {
			continue
		}
		// One candidate per round trade so occurrence counts reflect scale.
		for i := 0; i < ta.round; i++ {
			cands = append(cands, rules.Candidate{
				Entity:        acct,
				Timestamp:     ta.last.Timestamp,
				AccountIDs:    []string{acct},
				InstrumentIDs: []string{ta.last.InstrumentID},
				Fields: map[string]interface{}{
					"round_share": share,
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_round_trades"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d conspicuously round trade values by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// isRound reports whether a value is an exact multiple of the modulus,
// within float tolerance.
func isRound(value, modulus float64) bool {
	if modulus <= 0 || value <= 0 {
		return false
	}
	rem := math.Mod(value, modulus)
	return rem < 1e-9 || modulus-rem < 1e-9
}
