// Package spoof implements the layering/spoofing detection category:
// orders placed without intent to execute, moving the perceived book, then
// cancelled ahead of an opposite-side execution.
package spoof

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/rules"
	"github.com/finsentry/tradewatch/internal/scoring"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

// Category is the layering/spoofing category identifier.
const Category = "spoofing"

// Rules returns the category's rule set.
func Rules(cfg config.Spoof, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&LayeringPattern{cfg: cfg, builder: builder, logger: logger},
		&RapidCancellation{cfg: cfg, builder: builder, logger: logger},
		&QuoteStuffing{cfg: cfg, builder: builder, logger: logger},
		&IcebergAbuse{cfg: cfg, builder: builder, logger: logger},
	}
}

// cancelTimes maps order_id to cancellation time.
func cancelTimes(cancels []model.Cancellation) map[string]time.Time {
	m := make(map[string]time.Time, len(cancels))
	for _, c := range rules.CancellationsWithJoinKeys(cancels) {
		// Keep the earliest cancellation per order.
		if existing, ok := m[c.OrderID]; !ok || c.Timestamp.Before(existing) {
			m[c.OrderID] = c.Timestamp
		}
	}
	return m
}

// LayeringPattern finds clusters of same-side limit orders across at least
// MinPriceLevels distinct price levels within the layer window, with a high
// cancel rate, followed by an opposite-side execution.
type LayeringPattern struct {
	cfg     config.Spoof
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *LayeringPattern) ID() string { return "layering_pattern" }

// Evaluate implements rules.Rule.
func (r *LayeringPattern) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasOrders() {
		return nil, apperrors.MissingTable("orders")
	}
	orders := rules.SortOrdersByTime(rules.OrdersWithJoinKeys(ts.Orders))
	cancels := cancelTimes(ts.Cancellations)
	trades := rules.TradesWithJoinKeys(ts.Trades)

	layerWindow := time.Duration(r.cfg.LayerWindowSeconds) * time.Second
	cancelWindow := time.Duration(r.cfg.CancelWindowSeconds) * time.Second
	execWindow := time.Duration(r.cfg.ExecutionWindowSeconds) * time.Second

	// Partition limit orders by account, instrument, and side.
	type partKey struct {
		account    string
		instrument string
		side       model.Side
	}
	parts := make(map[partKey][]model.Order)
	for _, o := range orders {
		if o.OrderType != model.OrderTypeLimit {
			continue
		}
		k := partKey{o.AccountID, o.InstrumentID, o.Side}
		parts[k] = append(parts[k], o)
	}

	keys := make([]partKey, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.account != b.account {
			return a.account < b.account
		}
		if a.instrument != b.instrument {
			return a.instrument < b.instrument
		}
		return a.side < b.side
	})

	var cands []rules.Candidate
	for _, k := range keys {
		part := parts[k]
		// Greedy clusters anchored at the first unconsumed order.
		for start := 0; start < len(part); {
			end := start
			for end < len(part) && part[end].Timestamp.Sub(part[start].Timestamp) <= layerWindow {
				end++
			}
			cluster := part[start:end]
			if c, ok := r.evalCluster(k.account, k.instrument, k.side, cluster, cancels, trades, cancelWindow, execWindow); ok {
				cands = append(cands, c)
			}
			start = end
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		maxRate := 0.0
		for _, c := range cands {
			if c.Entity != aggs[i].Entity {
				continue
			}
			if rate, ok := c.Fields["cancel_rate"].(float64); ok && rate > maxRate {
				maxRate = rate
			}
		}
		aggs[i].Evidence["num_clusters"] = aggs[i].OccurrenceCount
		aggs[i].Evidence["cancel_rate"] = maxRate
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("layering clusters with high cancel rate by %s", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

func (r *LayeringPattern) evalCluster(account, instrument string, side model.Side, cluster []model.Order, cancels map[string]time.Time, trades []model.Trade, cancelWindow, execWindow time.Duration) (rules.Candidate, bool) {
	if len(cluster) < r.cfg.MinClusterOrders {
		return rules.Candidate{}, false
	}
	levels := make(map[string]struct{})
	for _, o := range cluster {
		levels[o.Price.String()] = struct{}{}
	}
	if len(levels) < r.cfg.MinPriceLevels {
		return rules.Candidate{}, false
	}

	var cancelled int
	lastCancel := time.Time{}
	for _, o := range cluster {
		ct, ok := cancels[o.OrderID]
		if !ok || ct.Before(o.Timestamp) || ct.Sub(o.Timestamp) > cancelWindow {
			continue
		}
		cancelled++
		if ct.After(lastCancel) {
			lastCancel = ct
		}
	}
	cancelRate := float64(cancelled) / float64(len(cluster))
	if cancelRate < r.cfg.MinCancelRate {
		return rules.Candidate{}, false
	}

	// Opposite-side execution within the execution window after the last
	// cancellation.
	opposite := side.Opposite()
	executed := false
	var execTradeID string
	for _, t := range trades {
		if t.InstrumentID != instrument || t.AccountForSide(opposite) != account {
			continue
		}
		if t.Timestamp.Before(lastCancel) || t.Timestamp.Sub(lastCancel) > execWindow {
			continue
		}
		executed = true
		execTradeID = t.TradeID
		break
	}
	if !executed {
		return rules.Candidate{}, false
	}

	return rules.Candidate{
		Entity:        rules.EntityKey(account, instrument),
		Timestamp:     cluster[0].Timestamp,
		AccountIDs:    []string{account},
		InstrumentIDs: []string{instrument},
		Fields: map[string]interface{}{
			"cluster_orders": len(cluster),
			"price_levels":   len(levels),
			"cancel_rate":    cancelRate,
			"side":           string(side),
			"exec_trade_id":  execTradeID,
		},
	}, true
}
