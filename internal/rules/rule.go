// Package rules defines the detection-rule contract shared by every
// category: a rule is a pure function over read-only table views that
// returns a candidates table (for audit) and a list of alerts.
package rules

import (
	"sort"
	"time"

	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/scoring"
)

// Candidate is one matched pattern instance. One row per instance is kept
// so every alert can be traced back to the raw matches that produced it.
type Candidate struct {
	Entity        string
	Timestamp     time.Time
	AccountIDs    []string
	InstrumentIDs []string
	Fields        map[string]interface{}
}

// Row flattens a candidate for the audit writer.
func (c Candidate) Row() map[string]interface{} {
	row := map[string]interface{}{
		"entity":         c.Entity,
		"timestamp":      c.Timestamp.UTC().Format(time.RFC3339Nano),
		"account_ids":    model.SortedCopy(c.AccountIDs),
		"instrument_ids": model.SortedCopy(c.InstrumentIDs),
	}
	for k, v := range c.Fields {
		row[k] = v
	}
	return row
}

// Result is one rule's full output.
type Result struct {
	RuleID     string
	Candidates []Candidate
	Alerts     []model.Alert
}

// Rule is one independently executable detection rule. Evaluate must never
// mutate its inputs; zero qualifying rows yield an empty Result, and a
// missing required table yields a skippable error (pkg/errors.IsSkippable).
type Rule interface {
	ID() string
	Evaluate(ts *model.TableSet, rel *relation.Index) (*Result, error)
}

// Aggregate groups candidates by entity and builds the per-entity
// occurrence counts and account/instrument sets that scoring consumes.
// Output is sorted by entity key so repeated runs on identical input are
// deterministic.
func Aggregate(cands []Candidate) []scoring.EntityAggregate {
	byEntity := make(map[string]*scoring.EntityAggregate)
	for _, c := range cands {
		agg, ok := byEntity[c.Entity]
		if !ok {
			agg = &scoring.EntityAggregate{Entity: c.Entity, Evidence: map[string]interface{}{}}
			byEntity[c.Entity] = agg
		}
		agg.OccurrenceCount++
		agg.AccountIDs = mergeSet(agg.AccountIDs, c.AccountIDs)
		agg.InstrumentIDs = mergeSet(agg.InstrumentIDs, c.InstrumentIDs)
	}
	out := make([]scoring.EntityAggregate, 0, len(byEntity))
	for _, agg := range byEntity {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Entity < out[j].Entity })
	return out
}

func mergeSet(dst []string, add []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, s := range dst {
		seen[s] = struct{}{}
	}
	for _, s := range add {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			dst = append(dst, s)
		}
	}
	return dst
}

// TradesWithJoinKeys filters trades to those with all required join keys
// present and a usable timestamp. Data-quality filtering happens here, not
// as errors.
func TradesWithJoinKeys(trades []model.Trade) []model.Trade {
	out := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.InstrumentID == "" || t.BuyAccountID == "" || t.SellAccountID == "" || t.Timestamp.IsZero() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// OrdersWithJoinKeys filters orders to those with account, instrument, and
// timestamp present.
func OrdersWithJoinKeys(orders []model.Order) []model.Order {
	out := make([]model.Order, 0, len(orders))
	for _, o := range orders {
		if o.AccountID == "" || o.InstrumentID == "" || o.Timestamp.IsZero() {
			continue
		}
		out = append(out, o)
	}
	return out
}

// CancellationsWithJoinKeys filters cancellations to those with an order
// reference and timestamp present.
func CancellationsWithJoinKeys(cancels []model.Cancellation) []model.Cancellation {
	out := make([]model.Cancellation, 0, len(cancels))
	for _, c := range cancels {
		if c.OrderID == "" || c.Timestamp.IsZero() {
			continue
		}
		out = append(out, c)
	}
	return out
}

// SortTradesByTime returns a time-sorted copy of trades, ties broken by
// trade ID so ordering is stable across runs.
func SortTradesByTime(trades []model.Trade) []model.Trade {
	out := make([]model.Trade, len(trades))
	copy(out, trades)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].TradeID < out[j].TradeID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// SortOrdersByTime returns a time-sorted copy of orders, ties broken by
// order ID.
func SortOrdersByTime(orders []model.Order) []model.Order {
	out := make([]model.Order, len(orders))
	copy(out, orders)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].OrderID < out[j].OrderID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
