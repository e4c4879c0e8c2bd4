package washtrade

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

func dayOf(t model.Trade) string { return window.DayKey(t.Timestamp) }

// RoundTripTrades detects buy legs matched to a sell leg of the same
// account and instrument shortly after, at a nearly identical price: the
// position round-trips with no economic purpose.
type RoundTripTrades struct {
	cfg     config.WashTrade
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *RoundTripTrades) ID() string { return "round_trip_trades" }

// Evaluate implements rules.Rule.
func (r *RoundTripTrades) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	trades := rules.TradesWithJoinKeys(ts.Trades)

	// Buy legs are the A side, sell legs the B side; the asof match finds
	// for each buy the nearest sell at or after it, per account+instrument.
	var buys, sells []window.Event
	for i, t := range trades {
		buys = append(buys, window.Event{Key: t.BuyAccountID + "|" + t.InstrumentID, Timestamp: t.Timestamp, Index: i})
		sells = append(sells, window.Event{Key: t.SellAccountID + "|" + t.InstrumentID, Timestamp: t.Timestamp, Index: i})
	}
	pairs := window.AsofMatchForward(buys, sells, time.Duration(r.cfg.RoundTripWindowSeconds)*time.Second)

	var cands []rules.Candidate
	for _, p := range pairs {
		buy, sell := trades[p.A], trades[p.B]
		if buy.TradeID == sell.TradeID {
			continue // one trade cannot be its own counter-leg
		}
		if rules.PctDiff(sell.Price, buy.Price) > r.cfg.PriceTolerancePct {
			continue
		}
		account := buy.BuyAccountID
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(account, buy.InstrumentID),
			Timestamp:     buy.Timestamp,
			AccountIDs:    []string{account},
			InstrumentIDs: []string{buy.InstrumentID},
			Fields: map[string]interface{}{
				"buy_trade_id":     buy.TradeID,
				"sell_trade_id":    sell.TradeID,
				"buy_price":        rules.Float(buy.Price),
				"sell_price":       rules.Float(sell.Price),
				"hold_seconds":     sell.Timestamp.Sub(buy.Timestamp).Seconds(),
				"round_trip_value": rules.Float(buy.TradeValue),
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_round_trips"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d rapid round-trip trades by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// VolumeInflation flags accounts whose daily traded volume is dominated by
// trades with negligible price impact on the surrounding tape.
type VolumeInflation struct {
	cfg     config.WashTrade
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *VolumeInflation) ID() string { return "volume_inflation" }

// Evaluate implements rules.Rule.
func (r *VolumeInflation) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	trades := rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades))

	// Price impact of trade i within its instrument: move from the prior
	// print to the next print. Boundary rows have no impact measurement
	// and are never flagged.
	impact := make(map[int]float64)
	byInstrument := make(map[string][]int)
	for i, t := range trades {
		byInstrument[t.InstrumentID] = append(byInstrument[t.InstrumentID], i)
	}
	for _, idxs := range byInstrument {
		for k := 1; k < len(idxs)-1; k++ {
			prev := trades[idxs[k-1]].Price
			next := trades[idxs[k+1]].Price
			impact[idxs[k]] = rules.PctDiff(next, prev)
		}
	}

	type volumes struct {
		total     decimal.Decimal
		inflated  decimal.Decimal
		instSet   map[string]struct{}
		lastSeen  time.Time
		accountID string
	}
	byEntity := make(map[string]*volumes)
	record := func(account string, i int, t model.Trade) {
		entity := rules.EntityKey(account, dayOf(t))
		v, ok := byEntity[entity]
		if !ok {
			v = &volumes{instSet: make(map[string]struct{}), accountID: account}
			byEntity[entity] = v
		}
		v.total = v.total.Add(t.TradeValue)
		if imp, measured := impact[i]; measured && imp <= r.cfg.MaxPriceImpactPct {
			v.inflated = v.inflated.Add(t.TradeValue)
			v.instSet[t.InstrumentID] = struct{}{}
		}
		if t.Timestamp.After(v.lastSeen) {
			v.lastSeen = t.Timestamp
		}
	}
	for i, t := range trades {
		record(t.BuyAccountID, i, t)
		record(t.SellAccountID, i, t)
	}

	var cands []rules.Candidate
	for entity, v := range byEntity {
		share := window.ConcentrationRatio(v.inflated, v.total)
		if share < r.cfg.MinInflatedShare || v.inflated.IsZero() {
			continue
		}
		instruments := make([]string, 0, len(v.instSet))
		for inst := range v.instSet {
			instruments = append(instruments, inst)
		}
		cands = append(cands, rules.Candidate{
			Entity:        entity,
			Timestamp:     v.lastSeen,
			AccountIDs:    []string{v.accountID},
			InstrumentIDs: instruments,
			Fields: map[string]interface{}{
				"inflated_share":  share,
				"inflated_value":  rules.Float(v.inflated),
				"total_value":     rules.Float(v.total),
				"max_impact_pct":  r.cfg.MaxPriceImpactPct,
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_flagged_days"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("volume dominated by zero-impact trades for %s", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
