package spoof

import (
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

// RapidCancellation flags accounts repeatedly cancelling orders within
// seconds of placement.
type RapidCancellation struct {
	cfg     config.Spoof
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *RapidCancellation) ID() string { return "rapid_cancellation" }

// Evaluate implements rules.Rule.
func (r *RapidCancellation) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasOrders() {
		return nil, apperrors.MissingTable("orders")
	}
	if !ts.HasCancellations() {
		return nil, apperrors.MissingTable("cancellations")
	}
	placements := make(map[string]model.Order)
	for _, o := range rules.OrdersWithJoinKeys(ts.Orders) {
		placements[o.OrderID] = o
	}
	limit := time.Duration(r.cfg.RapidCancelSeconds) * time.Second

	var cands []rules.Candidate
	for _, c := range rules.CancellationsWithJoinKeys(ts.Cancellations) {
		o, ok := placements[c.OrderID]
		if !ok || c.Timestamp.Before(o.Timestamp) {
			continue
		}
		ttc := c.Timestamp.Sub(o.Timestamp)
		if ttc > limit {
			continue
		}
		cands = append(cands, rules.Candidate{
			Entity:        o.AccountID,
			Timestamp:     c.Timestamp,
			AccountIDs:    []string{o.AccountID},
			InstrumentIDs: []string{o.InstrumentID},
			Fields: map[string]interface{}{
				"order_id":               o.OrderID,
				"time_to_cancel_seconds": ttc.Seconds(),
				"remaining_quantity":     rules.Float(c.RemainingQuantity),
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_rapid_cancels"] = aggs[i].OccurrenceCount
		aggs[i].Evidence["rapid_cancel_seconds"] = r.cfg.RapidCancelSeconds
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d orders cancelled within %ds of placement by %s", a.OccurrenceCount, r.cfg.RapidCancelSeconds, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// QuoteStuffing flags bursts of order submissions dense enough to degrade
// other participants' view of the book.
type QuoteStuffing struct {
	cfg     config.Spoof
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *QuoteStuffing) ID() string { return "quote_stuffing" }

// Evaluate implements rules.Rule.
func (r *QuoteStuffing) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasOrders() {
		return nil, apperrors.MissingTable("orders")
	}
	type bucketKey struct {
		account    string
		instrument string
		bucket     int64
	}
	counts := make(map[bucketKey]int)
	firstSeen := make(map[bucketKey]time.Time)
	for _, o := range rules.OrdersWithJoinKeys(ts.Orders) {
		k := bucketKey{o.AccountID, o.InstrumentID, window.Bucket(o.Timestamp, int64(r.cfg.BurstWindowSeconds))}
		counts[k]++
		if cur, ok := firstSeen[k]; !ok || o.Timestamp.Before(cur) {
			firstSeen[k] = o.Timestamp
		}
	}

	var cands []rules.Candidate
	for k, n := range counts {
		if n < r.cfg.MinBurstOrders {
			continue
		}
		cands = append(cands, rules.Candidate{
			Entity:        k.account,
			Timestamp:     firstSeen[k],
			AccountIDs:    []string{k.account},
			InstrumentIDs: []string{k.instrument},
			Fields: map[string]interface{}{
				"orders_in_burst":      n,
				"burst_window_seconds": r.cfg.BurstWindowSeconds,
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_bursts"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d order-submission bursts by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// IcebergAbuse flags hidden-size orders whose displayed quantity is a
// sliver of the true size.
type IcebergAbuse struct {
	cfg     config.Spoof
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *IcebergAbuse) ID() string { return "iceberg_abuse" }

// Evaluate implements rules.Rule.
func (r *IcebergAbuse) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasOrders() {
		return nil, apperrors.MissingTable("orders")
	}
	var cands []rules.Candidate
	for _, o := range rules.OrdersWithJoinKeys(ts.Orders) {
		if o.OrderType != model.OrderTypeIceberg && o.OrderType != model.OrderTypeHidden {
			continue
		}
		if o.Quantity.IsZero() || o.DisplayedQuantity.IsZero() {
			continue
		}
		ratio, _ := o.DisplayedQuantity.Div(o.Quantity).Float64()
		if ratio > r.cfg.MaxDisplayedRatio {
			continue
		}
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(o.AccountID, o.InstrumentID),
			Timestamp:     o.Timestamp,
			AccountIDs:    []string{o.AccountID},
			InstrumentIDs: []string{o.InstrumentID},
			Fields: map[string]interface{}{
				"order_id":        o.OrderID,
				"displayed_ratio": ratio,
				"order_type":      string(o.OrderType),
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_hidden_orders"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("repeated low-display iceberg orders by %s", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
