// Package frontrun implements the front-running detection category: one
// account positioning itself ahead of another account's unusually large
// order in the same instrument and direction.
package frontrun

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/rules"
	"github.com/finsentry/tradewatch/internal/scoring"
	"github.com/finsentry/tradewatch/internal/window"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

// Category is the front-running category identifier.
const Category = "front_running"

// Rules returns the category's rule set.
func Rules(cfg config.FrontRun, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&PrePositioning{cfg: cfg, builder: builder, logger: logger},
		&CrossAccountFrontRunning{cfg: cfg, builder: builder, logger: logger},
		&CrossInstrumentPattern{cfg: cfg, builder: builder, logger: logger},
		&PostEventProfit{cfg: cfg, builder: builder, logger: logger},
	}
}

// leadEvent is one large order preceded by another account's same-side
// order within the lookback window.
type leadEvent struct {
	leader      model.Order
	largeOrder  model.Order
	sizeRatio   float64
	leadSeconds float64
}

// findLeadEvents locates large orders (>= sizeMultiple x the placing
// account's trailing mean size in that instrument) and the same-side orders
// from other accounts that immediately preceded them. A large order needs
// at least minBaseline historical orders before its size can be judged.
func findLeadEvents(orders []model.Order, cfg config.FrontRun, related func(a, b string) bool) []leadEvent {
	sorted := rules.SortOrdersByTime(rules.OrdersWithJoinKeys(orders))
	lookback := time.Duration(cfg.LookbackSeconds) * time.Second
	baselineLookback := time.Duration(cfg.BaselineLookbackDays) * 24 * time.Hour

	// Per account+instrument order history for the size baseline.
	history := make(map[string][]window.Sample)
	for _, o := range sorted {
		key := o.AccountID + "|" + o.InstrumentID
		history[key] = append(history[key], window.Sample{Timestamp: o.Timestamp, Value: rules.Float(o.Quantity)})
	}

	// Per instrument+side index of orders for the lookback scan.
	type sideKey struct {
		instrument string
		side       model.Side
	}
	bySide := make(map[sideKey][]int)
	for i, o := range sorted {
		bySide[sideKey{o.InstrumentID, o.Side}] = append(bySide[sideKey{o.InstrumentID, o.Side}], i)
	}

	var events []leadEvent
	for i, o := range sorted {
		stats := window.BaselineStats(history[o.AccountID+"|"+o.InstrumentID], o.Timestamp, baselineLookback, nil)
		if stats.N < cfg.MinBaselineOrders || stats.Mean <= 0 {
			continue
		}
		qty := rules.Float(o.Quantity)
		if qty < cfg.SizeMultiple*stats.Mean {
			continue
		}
		// Scan same-side orders from other accounts inside the lookback.
		idxs := bySide[sideKey{o.InstrumentID, o.Side}]
		pos := sort.Search(len(idxs), func(k int) bool { return !sorted[idxs[k]].Timestamp.Before(o.Timestamp.Add(-lookback)) })
		for _, j := range idxs[pos:] {
			lead := sorted[j]
			if !lead.Timestamp.Before(o.Timestamp) {
				break
			}
			if lead.AccountID == o.AccountID || j == i {
				continue
			}
			if related != nil && !related(lead.AccountID, o.AccountID) {
				continue
			}
			events = append(events, leadEvent{
				leader:      lead,
				largeOrder:  o,
				sizeRatio:   qty / stats.Mean,
				leadSeconds: o.Timestamp.Sub(lead.Timestamp).Seconds(),
			})
		}
	}
	return events
}

func leadCandidates(events []leadEvent) []rules.Candidate {
	cands := make([]rules.Candidate, 0, len(events))
	for _, ev := range events {
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(rules.PairKey(ev.leader.AccountID, ev.largeOrder.AccountID), ev.largeOrder.InstrumentID),
			Timestamp:     ev.largeOrder.Timestamp,
			AccountIDs:    []string{ev.leader.AccountID, ev.largeOrder.AccountID},
			InstrumentIDs: []string{ev.largeOrder.InstrumentID},
			Fields: map[string]interface{}{
				"leader_order_id": ev.leader.OrderID,
				"large_order_id":  ev.largeOrder.OrderID,
				"size_ratio":      ev.sizeRatio,
				"lead_seconds":    ev.leadSeconds,
				"side":            string(ev.largeOrder.Side),
			},
		})
	}
	return cands
}

// PrePositioning is the single-instance rule: any account ordering ahead of
// another account's outsized order.
type PrePositioning struct {
	cfg     config.FrontRun
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *PrePositioning) ID() string { return "pre_positioning" }

// Evaluate implements rules.Rule.
func (r *PrePositioning) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasOrders() {
		return nil, apperrors.MissingTable("orders")
	}
	cands := leadCandidates(findLeadEvents(ts.Orders, r.cfg, nil))
	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_occurrences"] = aggs[i].OccurrenceCount
		aggs[i].Evidence["size_multiple"] = r.cfg.SizeMultiple
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("order placed ahead of an outsized same-side order (%s)", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// CrossAccountFrontRunning restricts pre-positioning to related account
// pairs, where advance knowledge is plausible.
type CrossAccountFrontRunning struct {
	cfg     config.FrontRun
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *CrossAccountFrontRunning) ID() string { return "cross_account_front_running" }

// Evaluate implements rules.Rule.
func (r *CrossAccountFrontRunning) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasOrders() {
		return nil, apperrors.MissingTable("orders")
	}
	if !ts.HasAccounts() {
		return nil, apperrors.MissingTable("accounts")
	}
	cands := leadCandidates(findLeadEvents(ts.Orders, r.cfg, rel.Related))
	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_occurrences"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("related accounts trading ahead of outsized orders (%s)", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// CrossInstrumentPattern alerts only when the same account pair repeats the
// pre-positioning pattern across enough distinct instruments.
type CrossInstrumentPattern struct {
	cfg     config.FrontRun
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *CrossInstrumentPattern) ID() string { return "cross_instrument_pattern" }

// Evaluate implements rules.Rule.
func (r *CrossInstrumentPattern) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasOrders() {
		return nil, apperrors.MissingTable("orders")
	}
	events := findLeadEvents(ts.Orders, r.cfg, nil)

	// Re-key by pair only, so the aggregate spans instruments.
	var cands []rules.Candidate
	for _, ev := range events {
		cands = append(cands, rules.Candidate{
			Entity:        rules.PairKey(ev.leader.AccountID, ev.largeOrder.AccountID),
			Timestamp:     ev.largeOrder.Timestamp,
			AccountIDs:    []string{ev.leader.AccountID, ev.largeOrder.AccountID},
			InstrumentIDs: []string{ev.largeOrder.InstrumentID},
			Fields: map[string]interface{}{
				"instrument_id": ev.largeOrder.InstrumentID,
				"size_ratio":    ev.sizeRatio,
			},
		})
	}

	aggs := rules.Aggregate(cands)
	kept := aggs[:0]
	for _, agg := range aggs {
		if len(agg.InstrumentIDs) < r.cfg.MinInstrumentsForPattern {
			continue
		}
		agg.Evidence["num_instruments"] = len(agg.InstrumentIDs)
		agg.Evidence["num_occurrences"] = agg.OccurrenceCount
		kept = append(kept, agg)
	}
	alerts := r.builder.BuildAlerts(r.ID(), kept, func(a scoring.EntityAggregate) string {
		return rules.Describe("front-running pattern across %d instruments by pair %s", len(a.InstrumentIDs), a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
