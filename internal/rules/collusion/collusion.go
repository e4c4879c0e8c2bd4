// Package collusion implements the collusion detection category: groups of
// accounts trading in concert, whether by timing, price support, shared
// infrastructure, or circular flows.
package collusion

import (
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/rules"
	"github.com/finsentry/tradewatch/internal/scoring"
	"github.com/finsentry/tradewatch/internal/window"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

// Category is the collusion category identifier.
const Category = "collusion"

// Rules returns the category's rule set.
func Rules(cfg config.Collusion, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&SynchronizedTrading{cfg: cfg, builder: builder, logger: logger},
		&CoordinatedPriceSupport{cfg: cfg, builder: builder, logger: logger},
		&SharedInfrastructureTrading{cfg: cfg, builder: builder, logger: logger},
		&CircularTrading{cfg: cfg, builder: builder, logger: logger},
	}
}

// bucketTrades is one instrument-bucket's trades plus the accounts active
// in it on either side.
type bucketTrades struct {
	instrument string
	bucket     int64
	trades     []model.Trade
	accounts   map[string]struct{}
	buyers     map[string]struct{}
}

func collectBuckets(trades []model.Trade, bucketSeconds int) map[string]*bucketTrades {
	buckets := make(map[string]*bucketTrades)
	for _, t := range rules.SortTradesByTime(rules.TradesWithJoinKeys(trades)) {
		b := window.Bucket(t.Timestamp, int64(bucketSeconds))
		key := t.InstrumentID + "|" + window.DayKey(t.Timestamp) + "|" + itoa(b)
		bt, ok := buckets[key]
		if !ok {
			bt = &bucketTrades{
				instrument: t.InstrumentID,
				bucket:     b,
				accounts:   make(map[string]struct{}),
				buyers:     make(map[string]struct{}),
			}
			buckets[key] = bt
		}
		bt.trades = append(bt.trades, t)
		bt.accounts[t.BuyAccountID] = struct{}{}
		bt.accounts[t.SellAccountID] = struct{}{}
		bt.buyers[t.BuyAccountID] = struct{}{}
	}
	return buckets
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

// groupKey joins a sorted account set into a stable identifier.
func groupKey(set map[string]struct{}) (string, []string) {
	accounts := make([]string, 0, len(set))
	for a := range set {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return strings.Join(accounts, "+"), accounts
}

// priceSpreadWithin reports whether every trade's price sits within
// tolerancePct of the bucket's minimum price.
func priceSpreadWithin(trades []model.Trade, tolerancePct float64) bool {
	if len(trades) == 0 {
		return false
	}
	min := trades[0].Price
	for _, t := range trades[1:] {
		if t.Price.LessThan(min) {
			min = t.Price
		}
	}
	for _, t := range trades {
		if rules.PctDiff(t.Price, min) > tolerancePct {
			return false
		}
	}
	return true
}

// qtySpreadWithin is the same check against the minimum quantity.
func qtySpreadWithin(trades []model.Trade, tolerancePct float64) bool {
	if len(trades) == 0 {
		return false
	}
	min := trades[0].Quantity
	for _, t := range trades[1:] {
		if t.Quantity.LessThan(min) {
			min = t.Quantity
		}
	}
	for _, t := range trades {
		if rules.PctDiff(t.Quantity, min) > tolerancePct {
			return false
		}
	}
	return true
}

// SynchronizedTrading flags account groups that repeatedly trade the same
// instrument inside the same short bucket at near-identical price and size.
type SynchronizedTrading struct {
	cfg     config.Collusion
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *SynchronizedTrading) ID() string { return "synchronized_trading" }

// Evaluate implements rules.Rule.
func (r *SynchronizedTrading) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	buckets := collectBuckets(ts.Trades, r.cfg.BucketSeconds)

	var cands []rules.Candidate
	for _, bt := range buckets {
		if len(bt.accounts) < r.cfg.MinAccounts {
			continue
		}
		if !priceSpreadWithin(bt.trades, r.cfg.PriceTolerancePct) || !qtySpreadWithin(bt.trades, r.cfg.QtyTolerancePct) {
			continue
		}
		key, accounts := groupKey(bt.accounts)
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(key, bt.instrument),
			Timestamp:     bt.trades[len(bt.trades)-1].Timestamp,
			AccountIDs:    accounts,
			InstrumentIDs: []string{bt.instrument},
			Fields: map[string]interface{}{
				"bucket":       bt.bucket,
				"num_accounts": len(accounts),
				"num_trades":   len(bt.trades),
			},
		})
	}

	aggs := rules.Aggregate(cands)
	kept := aggs[:0]
	for _, agg := range aggs {
		if agg.OccurrenceCount < r.cfg.MinBuckets {
			continue
		}
		agg.Evidence["num_buckets"] = agg.OccurrenceCount
		agg.Evidence["num_accounts"] = len(agg.AccountIDs)
		kept = append(kept, agg)
	}
	alerts := r.builder.BuildAlerts(r.ID(), kept, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d accounts trading in lockstep across %d windows (%s)", len(a.AccountIDs), a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// CoordinatedPriceSupport flags groups of buyers repeatedly absorbing
// supply at a shared price level.
type CoordinatedPriceSupport struct {
	cfg     config.Collusion
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *CoordinatedPriceSupport) ID() string { return "coordinated_price_support" }

// Evaluate implements rules.Rule.
func (r *CoordinatedPriceSupport) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	buckets := collectBuckets(ts.Trades, r.cfg.BucketSeconds)

	var cands []rules.Candidate
	for _, bt := range buckets {
		if len(bt.buyers) < r.cfg.MinAccounts {
			continue
		}
		if !priceSpreadWithin(bt.trades, r.cfg.PriceTolerancePct) {
			continue
		}
		key, buyers := groupKey(bt.buyers)
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(key, bt.instrument),
			Timestamp:     bt.trades[len(bt.trades)-1].Timestamp,
			AccountIDs:    buyers,
			InstrumentIDs: []string{bt.instrument},
			Fields: map[string]interface{}{
				"bucket":      bt.bucket,
				"num_buyers":  len(buyers),
				"level_price": rules.Float(bt.trades[0].Price),
			},
		})
	}

	aggs := rules.Aggregate(cands)
	kept := aggs[:0]
	for _, agg := range aggs {
		if agg.OccurrenceCount < r.cfg.MinBuckets {
			continue
		}
		agg.Evidence["num_buckets"] = agg.OccurrenceCount
		kept = append(kept, agg)
	}
	alerts := r.builder.BuildAlerts(r.ID(), kept, func(a scoring.EntityAggregate) string {
		return rules.Describe("buyers holding a price level across %d windows (%s)", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
