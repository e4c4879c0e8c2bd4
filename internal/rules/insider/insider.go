// Package insider implements the insider-trading detection category:
// anomalous positioning in the days before a corporate-event announcement,
// judged against a baseline scrubbed of other event windows.
package insider

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

// Category is the insider-trading category identifier.
const Category = "insider_trading"

// Rules returns the category's rule set.
func Rules(cfg config.Insider, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&PreEventVolume{cfg: cfg, builder: builder, logger: logger},
		&PreEventPriceMove{cfg: cfg, builder: builder, logger: logger},
		&ProfitableEventClose{cfg: cfg, builder: builder, logger: logger},
	}
}

// preWindow is the window under test before one event.
func preWindow(ev model.CorporateEvent, days int) window.Interval {
	return window.Interval{Start: ev.EventDate.Add(-time.Duration(days) * 24 * time.Hour), End: ev.EventDate}
}

// eventExclusions returns every event's pre-window for an instrument, used
// to keep baselines clean of the very effect under test.
func eventExclusions(events []model.CorporateEvent, instrument string, days int) []window.Interval {
	var out []window.Interval
	for _, ev := range events {
		if ev.InstrumentID == instrument {
			out = append(out, preWindow(ev, days))
		}
	}
	return out
}

// accountDailyVolumes builds per account+instrument daily traded-value
// samples (one sample per active day, stamped at the day's first trade).
func accountDailyVolumes(trades []model.Trade) map[string][]window.Sample {
	type dayAgg struct {
		first time.Time
		value decimal.Decimal
	}
	daily := make(map[string]map[string]*dayAgg) // acct|inst -> day -> agg
	for _, t := range rules.TradesWithJoinKeys(trades) {
		day := window.DayKey(t.Timestamp)
		for _, acct := range []string{t.BuyAccountID, t.SellAccountID} {
			key := acct + "|" + t.InstrumentID
			m, ok := daily[key]
			if !ok {
				m = make(map[string]*dayAgg)
				daily[key] = m
			}
			agg, ok := m[day]
			if !ok {
				agg = &dayAgg{first: t.Timestamp}
				m[day] = agg
			}
			if t.Timestamp.Before(agg.first) {
				agg.first = t.Timestamp
			}
			agg.value = agg.value.Add(t.TradeValue)
		}
	}
	samples := make(map[string][]window.Sample, len(daily))
	for key, m := range daily {
		for _, agg := range m {
			samples[key] = append(samples[key], window.Sample{Timestamp: agg.first, Value: rules.Float(agg.value)})
		}
	}
	return samples
}

// PreEventVolume flags accounts whose traded volume in the pre-event
// window is a z-score outlier against their clean trailing baseline.
type PreEventVolume struct {
	cfg     config.Insider
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *PreEventVolume) ID() string { return "pre_event_volume" }

// Evaluate implements rules.Rule.
func (r *PreEventVolume) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	if len(ts.CorporateEvents) == 0 {
		return nil, apperrors.MissingTable("corporate_events")
	}
	samples := accountDailyVolumes(ts.Trades)
	keys := make([]string, 0, len(samples))
	for key := range samples {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	lookback := time.Duration(r.cfg.BaselineLookbackDays) * 24 * time.Hour

	var cands []rules.Candidate
	for _, ev := range ts.CorporateEvents {
		pre := preWindow(ev, r.cfg.PreEventDays)
		exclusions := eventExclusions(ts.CorporateEvents, ev.InstrumentID, r.cfg.PreEventDays)
		for _, key := range keys {
			series := samples[key]
			acct, inst, ok := splitKey(key)
			if !ok || inst != ev.InstrumentID {
				continue
			}
			// Baseline over the lookback ending where the pre-event
			// window starts, scrubbed of every event window.
			stats := window.BaselineStats(series, pre.Start, lookback, exclusions)
			if stats.N == 0 {
				continue
			}
			for _, s := range series {
				if !pre.Contains(s.Timestamp) {
					continue
				}
				z := stats.ZScore(s.Value)
				if z < r.cfg.MinVolumeZScore {
					continue
				}
				cands = append(cands, rules.Candidate{
					Entity:        rules.EntityKey(acct, inst),
					Timestamp:     s.Timestamp,
					AccountIDs:    []string{acct},
					InstrumentIDs: []string{inst},
					Fields: map[string]interface{}{
						"event_id":       ev.EventID,
						"volume_z_score": z,
						"baseline_days":  stats.N,
					},
				})
			}
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_anomalous_days"] = aggs[i].OccurrenceCount
		aggs[i].Evidence["min_volume_z_score"] = r.cfg.MinVolumeZScore
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("anomalous pre-announcement volume by %s", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

func splitKey(key string) (acct, inst string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// PreEventPriceMove flags instruments drifting ahead of an announcement.
type PreEventPriceMove struct {
	cfg     config.Insider
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *PreEventPriceMove) ID() string { return "pre_event_price_move" }

// Evaluate implements rules.Rule.
func (r *PreEventPriceMove) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	if len(ts.CorporateEvents) == 0 {
		return nil, apperrors.MissingTable("corporate_events")
	}
	trades := rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades))

	var cands []rules.Candidate
	for _, ev := range ts.CorporateEvents {
		pre := preWindow(ev, r.cfg.PreEventDays)
		var first, last *model.Trade
		accounts := make(map[string]struct{})
		for i := range trades {
			t := &trades[i]
			if t.InstrumentID != ev.InstrumentID || !pre.Contains(t.Timestamp) {
				continue
			}
			if first == nil {
				first = t
			}
			last = t
			accounts[t.BuyAccountID] = struct{}{}
			accounts[t.SellAccountID] = struct{}{}
		}
		if first == nil || last == nil || first == last {
			continue
		}
		move := rules.PctDiff(last.Price, first.Price)
		if move < r.cfg.MinPriceMovePct {
			continue
		}
		acctList := make([]string, 0, len(accounts))
		for a := range accounts {
			acctList = append(acctList, a)
		}
		cands = append(cands, rules.Candidate{
			Entity:        ev.InstrumentID,
			Timestamp:     ev.EventDate,
			AccountIDs:    acctList,
			InstrumentIDs: []string{ev.InstrumentID},
			Fields: map[string]interface{}{
				"event_id":       ev.EventID,
				"price_move_pct": move,
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_events"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("pre-announcement price drift in %s across %d events", a.Entity, a.OccurrenceCount)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// ProfitableEventClose flags positions opened before an announcement and
// closed shortly after it at a material profit.
type ProfitableEventClose struct {
	cfg     config.Insider
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *ProfitableEventClose) ID() string { return "profitable_event_close" }

// Evaluate implements rules.Rule.
func (r *ProfitableEventClose) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	if len(ts.CorporateEvents) == 0 {
		return nil, apperrors.MissingTable("corporate_events")
	}
	trades := rules.TradesWithJoinKeys(ts.Trades)

	var cands []rules.Candidate
	for _, ev := range ts.CorporateEvents {
		pre := preWindow(ev, r.cfg.PreEventDays)
		post := window.Interval{Start: ev.EventDate, End: ev.EventDate.Add(time.Duration(r.cfg.PostEventDays) * 24 * time.Hour)}

		type position struct {
			preBuyValue   decimal.Decimal
			preBuyQty     decimal.Decimal
			preSellValue  decimal.Decimal
			preSellQty    decimal.Decimal
			postBuyValue  decimal.Decimal
			postBuyQty    decimal.Decimal
			postSellValue decimal.Decimal
			postSellQty   decimal.Decimal
		}
		positions := make(map[string]*position)
		track := func(acct string, side model.Side, t model.Trade) {
			p, ok := positions[acct]
			if !ok {
				p = &position{}
				positions[acct] = p
			}
			switch {
			case pre.Contains(t.Timestamp) && side == model.SideBuy:
				p.preBuyValue = p.preBuyValue.Add(t.TradeValue)
				p.preBuyQty = p.preBuyQty.Add(t.Quantity)
			case pre.Contains(t.Timestamp):
				p.preSellValue = p.preSellValue.Add(t.TradeValue)
				p.preSellQty = p.preSellQty.Add(t.Quantity)
			case post.Contains(t.Timestamp) && side == model.SideBuy:
				p.postBuyValue = p.postBuyValue.Add(t.TradeValue)
				p.postBuyQty = p.postBuyQty.Add(t.Quantity)
			case post.Contains(t.Timestamp):
				p.postSellValue = p.postSellValue.Add(t.TradeValue)
				p.postSellQty = p.postSellQty.Add(t.Quantity)
			}
		}
		for _, t := range trades {
			if t.InstrumentID != ev.InstrumentID {
				continue
			}
			track(t.BuyAccountID, model.SideBuy, t)
			track(t.SellAccountID, model.SideSell, t)
		}

		for acct, p := range positions {
			// Long side: bought pre, sold post.
			if profit, ok := vwapProfit(p.preBuyValue, p.preBuyQty, p.postSellValue, p.postSellQty); ok && profit >= r.cfg.MinProfitPct {
				cands = append(cands, eventCloseCandidate(acct, ev, "long", profit))
			}
			// Short side: sold pre, bought back post.
			if profit, ok := vwapProfit(p.postBuyValue, p.postBuyQty, p.preSellValue, p.preSellQty); ok && profit >= r.cfg.MinProfitPct {
				cands = append(cands, eventCloseCandidate(acct, ev, "short", profit))
			}
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_profitable_closes"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("position closed at a profit right after announcement by %s", a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// vwapProfit compares the exit VWAP against the entry VWAP as a signed
// percentage of the entry.
func vwapProfit(entryValue, entryQty, exitValue, exitQty decimal.Decimal) (float64, bool) {
	if entryQty.IsZero() || exitQty.IsZero() {
		return 0, false
	}
	entry := entryValue.Div(entryQty)
	exit := exitValue.Div(exitQty)
	return rules.PctChange(exit, entry), true
}

func eventCloseCandidate(acct string, ev model.CorporateEvent, direction string, profit float64) rules.Candidate {
	return rules.Candidate{
		Entity:        rules.EntityKey(acct, ev.InstrumentID),
		Timestamp:     ev.EventDate,
		AccountIDs:    []string{acct},
		InstrumentIDs: []string{ev.InstrumentID},
		Fields: map[string]interface{}{
			"event_id":   ev.EventID,
			"direction":  direction,
			"profit_pct": profit,
		},
	}
}
