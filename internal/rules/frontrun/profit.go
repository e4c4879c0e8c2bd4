package frontrun

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

// PostEventProfit measures whether an account's trades systematically
// precede favorable price moves, using the next print in the same
// instrument as the mark. The last trade of each instrument partition has
// no successor and is excluded from attribution entirely.
type PostEventProfit struct {
	cfg     config.FrontRun
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *PostEventProfit) ID() string { return "post_event_profit" }

// Evaluate implements rules.Rule.
func (r *PostEventProfit) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	trades := rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades))
	next := window.NextTradeIndexByInstrument(trades)
	profitWindow := time.Duration(r.cfg.ProfitWindowSeconds) * time.Second

	var cands []rules.Candidate
	for i, t := range trades {
		j, ok := next[i]
		if !ok {
			continue // terminal row: no successor, no profit attribution
		}
		succ := trades[j]
		if succ.Timestamp.Sub(t.Timestamp) > profitWindow {
			continue
		}
		// Profit from the aggressor's perspective: a buy profits when the
		// next print is higher, a sell when it is lower.
		move := rules.PctChange(succ.Price, t.Price)
		for _, side := range []model.Side{model.SideBuy, model.SideSell} {
			profit := move
			if side == model.SideSell {
				profit = -move
			}
			if profit < r.cfg.MinProfitPct {
				continue
			}
			account := t.AccountForSide(side)
			cands = append(cands, rules.Candidate{
				Entity:        rules.EntityKey(account, t.InstrumentID),
				Timestamp:     t.Timestamp,
				AccountIDs:    []string{account},
				InstrumentIDs: []string{t.InstrumentID},
				Fields: map[string]interface{}{
					"trade_id":   t.TradeID,
					"side":       string(side),
					"profit_pct": profit,
				},
			})
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_profitable_trades"] = aggs[i].OccurrenceCount
		aggs[i].Evidence["min_profit_pct"] = r.cfg.MinProfitPct
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d trades immediately preceding favorable price moves by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
