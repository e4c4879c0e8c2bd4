// Package derivative implements the derivatives manipulation category:
// moving an underlying to benefit a linked derivative position.
package derivative

import (
	"sort"
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

// Category is the derivatives category identifier.
const Category = "derivatives"

// Rules returns the category's rule set.
func Rules(cfg config.Derivative, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&ExpiryPinning{cfg: cfg, builder: builder, logger: logger},
		&UnderlyingDerivativeLink{cfg: cfg, builder: builder, logger: logger},
		&DeltaPositionRamp{cfg: cfg, builder: builder, logger: logger},
	}
}

// derivativeRefs returns references with both a derivative flag and a
// resolvable underlying.
func derivativeRefs(refs []model.InstrumentRef) []model.InstrumentRef {
	var out []model.InstrumentRef
	for _, ref := range refs {
		if ref.IsDerivative && ref.UnderlyingID != "" {
			out = append(out, ref)
		}
	}
	return out
}

// ExpiryPinning flags accounts concentrating underlying volume near a
// derivative's strike in the window before its expiry.
type ExpiryPinning struct {
	cfg     config.Derivative
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *ExpiryPinning) ID() string { return "expiry_pinning" }

// Evaluate implements rules.Rule.
func (r *ExpiryPinning) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	refs := derivativeRefs(ts.InstrumentRefs)
	if len(refs) == 0 {
		return nil, apperrors.MissingTable("instrument_refs")
	}
	trades := rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades))

	var cands []rules.Candidate
	for _, ref := range refs {
		if ref.ExpiryDate.IsZero() || !ref.StrikePrice.IsPositive() {
			continue
		}
		win := window.Interval{
			Start: ref.ExpiryDate.Add(-time.Duration(r.cfg.ExpiryWindowMinutes) * time.Minute),
			End:   ref.ExpiryDate,
		}
		day := window.DayKey(ref.ExpiryDate)

		dayTotal := decimal.Zero
		pinned := make(map[string]decimal.Decimal)
		var last model.Trade
		var have bool
		for _, t := range trades {
			if t.InstrumentID != ref.UnderlyingID || window.DayKey(t.Timestamp) != day {
				continue
			}
			dayTotal = dayTotal.Add(t.TradeValue)
			if !win.Contains(t.Timestamp) {
				continue
			}
			if rules.PctDiff(t.Price, ref.StrikePrice) > r.cfg.StrikeTolerancePct {
				continue
			}
			last = t
			have = true
			for _, acct := range []string{t.BuyAccountID, t.SellAccountID} {
				pinned[acct] = pinned[acct].Add(t.TradeValue)
			}
		}
		if !have {
			continue
		}
		for acct, vol := range pinned {
			ratio := window.ConcentrationRatio(vol, dayTotal)
			if ratio < r.cfg.MinConcentration {
				continue
			}
			cands = append(cands, rules.Candidate{
				Entity:        rules.EntityKey(acct, ref.UnderlyingID),
				Timestamp:     last.Timestamp,
				AccountIDs:    []string{acct},
				InstrumentIDs: []string{ref.UnderlyingID, ref.InstrumentID},
				Fields: map[string]interface{}{
					"derivative_id": ref.InstrumentID,
					"strike_price":  rules.Float(ref.StrikePrice),
					"concentration": ratio,
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_expiries"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("underlying volume pinned to strike into %d expiries by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// UnderlyingDerivativeLink flags one account trading a derivative and its
// underlying within a short window, the footprint of moving one leg to
// benefit the other.
type UnderlyingDerivativeLink struct {
	cfg     config.Derivative
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *UnderlyingDerivativeLink) ID() string { return "underlying_derivative_link" }

// Evaluate implements rules.Rule.
func (r *UnderlyingDerivativeLink) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	refs := derivativeRefs(ts.InstrumentRefs)
	if len(refs) == 0 {
		return nil, apperrors.MissingTable("instrument_refs")
	}
	underlyingOf := make(map[string]string, len(refs))
	for _, ref := range refs {
		underlyingOf[ref.InstrumentID] = ref.UnderlyingID
	}
	trades := rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades))

	// Underlying trades lead, derivative trades follow. Every trade splits
	// into one leg per account side; events are keyed by account and the
	// shared underlying so the join only pairs linked legs, and each event
	// indexes its leg so the matched account survives the join.
	type leg struct {
		account string
		trade   model.Trade
	}
	var underLegs, derivLegs []leg
	var underlying, derivative []window.Event
	for _, t := range trades {
		if u, ok := underlyingOf[t.InstrumentID]; ok {
			for _, acct := range []string{t.BuyAccountID, t.SellAccountID} {
				derivative = append(derivative, window.Event{Key: acct + "|" + u, Timestamp: t.Timestamp, Index: len(derivLegs)})
				derivLegs = append(derivLegs, leg{account: acct, trade: t})
			}
			continue
		}
		for _, acct := range []string{t.BuyAccountID, t.SellAccountID} {
			underlying = append(underlying, window.Event{Key: acct + "|" + t.InstrumentID, Timestamp: t.Timestamp, Index: len(underLegs)})
			underLegs = append(underLegs, leg{account: acct, trade: t})
		}
	}
	pairs := window.AsofMatchForward(underlying, derivative, time.Duration(r.cfg.LinkWindowSeconds)*time.Second)

	var cands []rules.Candidate
	for _, p := range pairs {
		ut, dt := underLegs[p.A].trade, derivLegs[p.B].trade
		acct := underLegs[p.A].account
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(acct, ut.InstrumentID),
			Timestamp:     dt.Timestamp,
			AccountIDs:    []string{acct},
			InstrumentIDs: []string{ut.InstrumentID, dt.InstrumentID},
			Fields: map[string]interface{}{
				"underlying_trade_id": ut.TradeID,
				"derivative_trade_id": dt.TradeID,
				"lag_seconds":         dt.Timestamp.Sub(ut.Timestamp).Seconds(),
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_linked_pairs"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d linked underlying/derivative trade pairs by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// DeltaPositionRamp flags one-directional accumulation in an underlying
// across consecutive buckets, the signature of ramping ahead of a
// derivative payoff.
type DeltaPositionRamp struct {
	cfg     config.Derivative
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *DeltaPositionRamp) ID() string { return "delta_position_ramp" }

// Evaluate implements rules.Rule.
func (r *DeltaPositionRamp) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	refs := derivativeRefs(ts.InstrumentRefs)
	if len(refs) == 0 {
		return nil, apperrors.MissingTable("instrument_refs")
	}
	underlyings := make(map[string]struct{}, len(refs))
	for _, ref := range refs {
		underlyings[ref.UnderlyingID] = struct{}{}
	}

	// Net signed quantity per account+underlying per bucket.
	type rampKey struct {
		account    string
		instrument string
	}
	net := make(map[rampKey]map[int64]decimal.Decimal)
	lastTrade := make(map[rampKey]model.Trade)
	for _, t := range rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades)) {
		if _, ok := underlyings[t.InstrumentID]; !ok {
			continue
		}
		b := window.Bucket(t.Timestamp, int64(r.cfg.RampBucketSeconds))
		for _, leg := range []struct {
			acct string
			qty  decimal.Decimal
		}{
			{t.BuyAccountID, t.Quantity},
			{t.SellAccountID, t.Quantity.Neg()},
		} {
			k := rampKey{leg.acct, t.InstrumentID}
			m, ok := net[k]
			if !ok {
				m = make(map[int64]decimal.Decimal)
				net[k] = m
			}
			m[b] = m[b].Add(leg.qty)
			lastTrade[k] = t
		}
	}

	var cands []rules.Candidate
	for k, m := range net {
		buckets := make([]int64, 0, len(m))
		for b := range m {
			buckets = append(buckets, b)
		}
		sort.Slice(buckets, func(i, j int) bool { return buckets[i] < buckets[j] })

		// Longest run of consecutive buckets with the same net direction.
		run, sign := 0, 0
		emit := func() {
			if run < r.cfg.MinRampBuckets {
				return
			}
			direction := "accumulate"
			if sign < 0 {
				direction = "distribute"
			}
			cands = append(cands, rules.Candidate{
				Entity:        rules.EntityKey(k.account, k.instrument),
				Timestamp:     lastTrade[k].Timestamp,
				AccountIDs:    []string{k.account},
				InstrumentIDs: []string{k.instrument},
				Fields: map[string]interface{}{
					"run_buckets": run,
					"direction":   direction,
				},
			})
		}
		for i, b := range buckets {
			s := m[b].Sign()
			if s == 0 {
				emit()
				run, sign = 0, 0
				continue
			}
			if i > 0 && b == buckets[i-1]+1 && s == sign {
				run++
				continue
			}
			emit()
			run, sign = 1, s
		}
		emit()
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_ramps"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d one-directional position ramps in %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
