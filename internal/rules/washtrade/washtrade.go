// Package washtrade implements the wash-trading detection category:
// trading between accounts under common control to create artificial
// volume or price signals.
package washtrade

import (
	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/rules"
	"github.com/finsentry/tradewatch/internal/scoring"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

// Category is the wash-trading category identifier.
const Category = "wash_trading"

// Rules returns the category's rule set.
func Rules(cfg config.WashTrade, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&SameOwnerTrades{cfg: cfg, builder: builder, logger: logger},
		&RelatedAccountTrades{cfg: cfg, builder: builder, logger: logger},
		&RoundTripTrades{cfg: cfg, builder: builder, logger: logger},
		&VolumeInflation{cfg: cfg, builder: builder, logger: logger},
	}
}

// SameOwnerTrades flags opposite-side trades between accounts sharing a
// beneficial owner, grouped by owner, instrument, and day.
type SameOwnerTrades struct {
	cfg     config.WashTrade
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *SameOwnerTrades) ID() string { return "same_owner_trades" }

// Evaluate implements rules.Rule.
func (r *SameOwnerTrades) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	if !ts.HasAccounts() {
		return nil, apperrors.MissingTable("accounts")
	}
	cands := matchedPairTrades(ts.Trades, r.cfg.PriceTolerancePct, func(buy, sell string) (string, bool) {
		if !rel.SameOwner(buy, sell) {
			return "", false
		}
		owner, _ := rel.Owner(buy)
		return owner, true
	})
	return r.finish(cands)
}

func (r *SameOwnerTrades) finish(cands []rules.Candidate) (*rules.Result, error) {
	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_trades"] = aggs[i].OccurrenceCount
		aggs[i].Evidence["price_tolerance_pct"] = r.cfg.PriceTolerancePct
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d opposite-side trades between accounts under common ownership (%s)", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// RelatedAccountTrades is the same pattern over explicitly or implicitly
// related account pairs instead of shared ownership.
type RelatedAccountTrades struct {
	cfg     config.WashTrade
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *RelatedAccountTrades) ID() string { return "related_account_trades" }

// Evaluate implements rules.Rule.
func (r *RelatedAccountTrades) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	if !ts.HasAccounts() {
		return nil, apperrors.MissingTable("accounts")
	}
	cands := matchedPairTrades(ts.Trades, r.cfg.PriceTolerancePct, func(buy, sell string) (string, bool) {
		if !rel.Related(buy, sell) {
			return "", false
		}
		return rules.PairKey(buy, sell), true
	})
	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_trades"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d trades between related accounts (%s)", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// matchedPairTrades groups qualifying trades by groupKey|instrument|day and
// keeps trades whose price stays within tolerance of the group's minimum.
func matchedPairTrades(trades []model.Trade, tolerancePct float64, groupKey func(buy, sell string) (string, bool)) []rules.Candidate {
	type groupEntry struct {
		trades []model.Trade
	}
	groups := make(map[string]*groupEntry)
	for _, t := range rules.TradesWithJoinKeys(trades) {
		key, ok := groupKey(t.BuyAccountID, t.SellAccountID)
		if !ok {
			continue
		}
		entity := rules.EntityKey(key, t.InstrumentID, dayOf(t))
		g, ok := groups[entity]
		if !ok {
			g = &groupEntry{}
			groups[entity] = g
		}
		g.trades = append(g.trades, t)
	}

	var cands []rules.Candidate
	for entity, g := range groups {
		minPrice := g.trades[0].Price
		for _, t := range g.trades[1:] {
			if t.Price.LessThan(minPrice) {
				minPrice = t.Price
			}
		}
		for _, t := range g.trades {
			if rules.PctDiff(t.Price, minPrice) > tolerancePct {
				continue
			}
			cands = append(cands, rules.Candidate{
				Entity:        entity,
				Timestamp:     t.Timestamp,
				AccountIDs:    []string{t.BuyAccountID, t.SellAccountID},
				InstrumentIDs: []string{t.InstrumentID},
				Fields: map[string]interface{}{
					"trade_id":    t.TradeID,
					"price":       rules.Float(t.Price),
					"quantity":    rules.Float(t.Quantity),
					"trade_value": rules.Float(t.TradeValue),
				},
			})
		}
	}
	return cands
}
