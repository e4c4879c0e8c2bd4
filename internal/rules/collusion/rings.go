package collusion

import (
	"time"

	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/rules"
	"github.com/finsentry/tradewatch/internal/scoring"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

// SharedInfrastructureTrading flags counterparty trades between accounts
// that log in from the same IP address or device.
type SharedInfrastructureTrading struct {
	cfg     config.Collusion
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *SharedInfrastructureTrading) ID() string { return "shared_infrastructure_trading" }

// Evaluate implements rules.Rule.
func (r *SharedInfrastructureTrading) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	if !ts.HasAccounts() {
		return nil, apperrors.MissingTable("accounts")
	}

	var cands []rules.Candidate
	for _, t := range rules.TradesWithJoinKeys(ts.Trades) {
		if t.BuyAccountID == t.SellAccountID {
			continue
		}
		if !rel.SharesInfrastructure(t.BuyAccountID, t.SellAccountID) {
			continue
		}
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(rules.PairKey(t.BuyAccountID, t.SellAccountID), t.InstrumentID),
			Timestamp:     t.Timestamp,
			AccountIDs:    []string{t.BuyAccountID, t.SellAccountID},
			InstrumentIDs: []string{t.InstrumentID},
			Fields: map[string]interface{}{
				"trade_id":    t.TradeID,
				"trade_value": rules.Float(t.TradeValue),
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_trades"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d counterparty trades between accounts sharing infrastructure (%s)", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// CircularTrading detects three-leg rings: A sells to B, B sells to C and C
// sells back to A in the same instrument inside a short window, leaving net
// positions unchanged while printing volume.
type CircularTrading struct {
	cfg     config.Collusion
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *CircularTrading) ID() string { return "circular_trading" }

// Evaluate implements rules.Rule.
func (r *CircularTrading) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	trades := rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades))
	windowDur := time.Duration(r.cfg.CircleWindowSeconds) * time.Second

	// Per instrument, outgoing trade indices keyed by seller.
	bySeller := make(map[string][]int)
	for i, t := range trades {
		key := t.InstrumentID + "|" + t.SellAccountID
		bySeller[key] = append(bySeller[key], i)
	}

	var cands []rules.Candidate
	for i, t1 := range trades {
		deadline := t1.Timestamp.Add(windowDur)
		for _, j := range bySeller[t1.InstrumentID+"|"+t1.BuyAccountID] {
			t2 := trades[j]
			if j == i || t2.Timestamp.Before(t1.Timestamp) || t2.Timestamp.After(deadline) {
				continue
			}
			if t2.BuyAccountID == t1.SellAccountID || t2.BuyAccountID == t1.BuyAccountID {
				continue
			}
			for _, k := range bySeller[t1.InstrumentID+"|"+t2.BuyAccountID] {
				t3 := trades[k]
				if k == i || k == j || t3.Timestamp.Before(t2.Timestamp) || t3.Timestamp.After(deadline) {
					continue
				}
				if t3.BuyAccountID != t1.SellAccountID {
					continue
				}
				ring := []string{t1.SellAccountID, t1.BuyAccountID, t2.BuyAccountID}
				key, accounts := groupKey(toSet(ring))
				cands = append(cands, rules.Candidate{
					Entity:        rules.EntityKey(key, t1.InstrumentID),
					Timestamp:     t3.Timestamp,
					AccountIDs:    accounts,
					InstrumentIDs: []string{t1.InstrumentID},
					Fields: map[string]interface{}{
						"trade_ids":    t1.TradeID + ";" + t2.TradeID + ";" + t3.TradeID,
						"ring_seconds": t3.Timestamp.Sub(t1.Timestamp).Seconds(),
					},
				})
			}
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_rings"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d circular trade rings among %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

func toSet(accounts []string) map[string]struct{} {
	set := make(map[string]struct{}, len(accounts))
	for _, a := range accounts {
		set[a] = struct{}{}
	}
	return set
}
