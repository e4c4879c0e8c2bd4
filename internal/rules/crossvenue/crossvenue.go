// Package crossvenue implements the cross-venue manipulation category:
// exploiting or manufacturing differences between the venues an instrument
// trades on.
package crossvenue

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

// Category is the cross-venue category identifier.
const Category = "cross_venue"

// Rules returns the category's rule set.
func Rules(cfg config.CrossVenue, logger *zap.SugaredLogger) []rules.Rule {
	builder := scoring.NewBuilder(Category, cfg.Scoring(), logger)
	return []rules.Rule{
		&PriceDivergence{cfg: cfg, builder: builder, logger: logger},
		&VenueVolumeShift{cfg: cfg, builder: builder, logger: logger},
		&CrossVenueWash{cfg: cfg, builder: builder, logger: logger},
	}
}

// venueStat accumulates one venue's activity inside an instrument bucket.
type venueStat struct {
	value    decimal.Decimal
	qty      decimal.Decimal
	accounts map[string]struct{}
	last     model.Trade
}

// multiVenue filters trades to instruments that print on more than one
// venue; single-venue instruments cannot diverge.
func multiVenue(trades []model.Trade) []model.Trade {
	venues := make(map[string]map[string]struct{})
	for _, t := range trades {
		if t.VenueID == "" {
			continue
		}
		m, ok := venues[t.InstrumentID]
		if !ok {
			m = make(map[string]struct{})
			venues[t.InstrumentID] = m
		}
		m[t.VenueID] = struct{}{}
	}
	var out []model.Trade
	for _, t := range trades {
		if len(venues[t.InstrumentID]) > 1 && t.VenueID != "" {
			out = append(out, t)
		}
	}
	return out
}

// PriceDivergence flags instrument buckets where venue VWAPs drift apart
// beyond the configured threshold.
type PriceDivergence struct {
	cfg     config.CrossVenue
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *PriceDivergence) ID() string { return "cross_venue_price_divergence" }

// Evaluate implements rules.Rule.
func (r *PriceDivergence) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	trades := multiVenue(rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades)))

	type bucketKey struct {
		instrument string
		bucket     int64
	}
	buckets := make(map[bucketKey]map[string]*venueStat)
	for _, t := range trades {
		bk := bucketKey{t.InstrumentID, window.Bucket(t.Timestamp, int64(r.cfg.BucketSeconds))}
		m, ok := buckets[bk]
		if !ok {
			m = make(map[string]*venueStat)
			buckets[bk] = m
		}
		vs, ok := m[t.VenueID]
		if !ok {
			vs = &venueStat{accounts: make(map[string]struct{})}
			m[t.VenueID] = vs
		}
		vs.value = vs.value.Add(t.TradeValue)
		vs.qty = vs.qty.Add(t.Quantity)
		vs.accounts[t.BuyAccountID] = struct{}{}
		vs.accounts[t.SellAccountID] = struct{}{}
		vs.last = t
	}

	var cands []rules.Candidate
	for bk, m := range buckets {
		if len(m) < 2 {
			continue
		}
		// VWAP per venue, tracking the extremes.
		var loVenue, hiVenue string
		var lo, hi decimal.Decimal
		for venue, vs := range m {
			if vs.qty.IsZero() {
				continue
			}
			vwap := vs.value.Div(vs.qty)
			if loVenue == "" || vwap.LessThan(lo) || (vwap.Equal(lo) && venue < loVenue) {
				loVenue, lo = venue, vwap
			}
			if hiVenue == "" || vwap.GreaterThan(hi) || (vwap.Equal(hi) && venue < hiVenue) {
				hiVenue, hi = venue, vwap
			}
		}
		if loVenue == "" || hiVenue == "" || loVenue == hiVenue {
			continue
		}
		divergence := rules.PctDiff(hi, lo)
		if divergence < r.cfg.MinDivergencePct {
			continue
		}
		accounts := make(map[string]struct{})
		var last model.Trade
		for _, venue := range []string{loVenue, hiVenue} {
			vs := m[venue]
			for a := range vs.accounts {
				accounts[a] = struct{}{}
			}
			if vs.last.Timestamp.After(last.Timestamp) {
				last = vs.last
			}
		}
		acctList := make([]string, 0, len(accounts))
		for a := range accounts {
			acctList = append(acctList, a)
		}
		sort.Strings(acctList)
		cands = append(cands, rules.Candidate{
			Entity:        bk.instrument,
			Timestamp:     last.Timestamp,
			AccountIDs:    acctList,
			InstrumentIDs: []string{bk.instrument},
			Fields: map[string]interface{}{
				"bucket":         bk.bucket,
				"low_venue":      loVenue,
				"high_venue":     hiVenue,
				"divergence_pct": divergence,
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_buckets"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("venue price divergence in %s across %d windows", a.Entity, a.OccurrenceCount)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// VenueVolumeShift flags abrupt day-over-day migrations of an instrument's
// volume onto one venue.
type VenueVolumeShift struct {
	cfg     config.CrossVenue
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *VenueVolumeShift) ID() string { return "venue_volume_shift" }

// Evaluate implements rules.Rule.
func (r *VenueVolumeShift) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	trades := multiVenue(rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades)))

	type dayVenue struct {
		value    decimal.Decimal
		total    decimal.Decimal // instrument-day total, duplicated per venue row
		accounts map[string]decimal.Decimal
		last     model.Trade
	}
	days := make(map[string]map[string]*dayVenue)    // inst|day -> venue
	totals := make(map[string]decimal.Decimal)       // inst|day
	instDays := make(map[string]map[string]struct{}) // inst -> days
	for _, t := range trades {
		dk := t.InstrumentID + "|" + window.DayKey(t.Timestamp)
		totals[dk] = totals[dk].Add(t.TradeValue)
		m, ok := days[dk]
		if !ok {
			m = make(map[string]*dayVenue)
			days[dk] = m
		}
		dv, ok := m[t.VenueID]
		if !ok {
			dv = &dayVenue{accounts: make(map[string]decimal.Decimal)}
			m[t.VenueID] = dv
		}
		dv.value = dv.value.Add(t.TradeValue)
		for _, acct := range []string{t.BuyAccountID, t.SellAccountID} {
			dv.accounts[acct] = dv.accounts[acct].Add(t.TradeValue)
		}
		dv.last = t
		d, ok := instDays[t.InstrumentID]
		if !ok {
			d = make(map[string]struct{})
			instDays[t.InstrumentID] = d
		}
		d[window.DayKey(t.Timestamp)] = struct{}{}
	}

	var cands []rules.Candidate
	for inst, dset := range instDays {
		ordered := make([]string, 0, len(dset))
		for d := range dset {
			ordered = append(ordered, d)
		}
		sort.Strings(ordered)
		for i := 1; i < len(ordered); i++ {
			prevKey, curKey := inst+"|"+ordered[i-1], inst+"|"+ordered[i]
			for venue, dv := range days[curKey] {
				curShare := window.ConcentrationRatio(dv.value, totals[curKey])
				var prevShare float64
				if prev, ok := days[prevKey][venue]; ok {
					prevShare = window.ConcentrationRatio(prev.value, totals[prevKey])
				}
				if curShare-prevShare < r.cfg.MinShiftRatio {
					continue
				}
				// Attribute the shift to the venue's dominant account.
				var topAcct string
				topVol := decimal.Zero
				for acct, vol := range dv.accounts {
					if vol.GreaterThan(topVol) || (vol.Equal(topVol) && (topAcct == "" || acct < topAcct)) {
						topAcct, topVol = acct, vol
					}
				}
				cands = append(cands, rules.Candidate{
					Entity:        rules.EntityKey(inst, venue),
					Timestamp:     dv.last.Timestamp,
					AccountIDs:    []string{topAcct},
					InstrumentIDs: []string{inst},
					Fields: map[string]interface{}{
						"day":         ordered[i],
						"prev_share":  prevShare,
						"cur_share":   curShare,
						"top_account": topAcct,
					},
				})
			}
		}
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_shift_days"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("abrupt volume migration onto %s on %d days", a.Entity, a.OccurrenceCount)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}

// CrossVenueWash flags one account buying on one venue and selling on
// another at near-identical prices inside a short window, splitting a wash
// across venues to dodge single-venue checks.
type CrossVenueWash struct {
	cfg     config.CrossVenue
	builder *scoring.Builder
	logger  *zap.SugaredLogger
}

// ID implements rules.Rule.
func (r *CrossVenueWash) ID() string { return "cross_venue_wash" }

// Evaluate implements rules.Rule.
func (r *CrossVenueWash) Evaluate(ts *model.TableSet, rel *relation.Index) (*rules.Result, error) {
	if !ts.HasTrades() {
		return nil, apperrors.MissingTable("trades")
	}
	trades := rules.SortTradesByTime(rules.TradesWithJoinKeys(ts.Trades))

	var buys, sells []window.Event
	for i, t := range trades {
		if t.VenueID == "" {
			continue
		}
		buys = append(buys, window.Event{Key: t.BuyAccountID + "|" + t.InstrumentID, Timestamp: t.Timestamp, Index: i})
		sells = append(sells, window.Event{Key: t.SellAccountID + "|" + t.InstrumentID, Timestamp: t.Timestamp, Index: i})
	}
	pairs := window.AsofMatchForward(buys, sells, time.Duration(r.cfg.BucketSeconds)*time.Second)

	var cands []rules.Candidate
	for _, p := range pairs {
		buy, sell := trades[p.A], trades[p.B]
		if buy.TradeID == sell.TradeID || buy.VenueID == sell.VenueID {
			continue
		}
		if rules.PctDiff(sell.Price, buy.Price) > r.cfg.PriceTolerancePct {
			continue
		}
		acct := buy.BuyAccountID
		cands = append(cands, rules.Candidate{
			Entity:        rules.EntityKey(acct, buy.InstrumentID),
			Timestamp:     sell.Timestamp,
			AccountIDs:    []string{acct},
			InstrumentIDs: []string{buy.InstrumentID},
			Fields: map[string]interface{}{
				"buy_trade_id":  buy.TradeID,
				"sell_trade_id": sell.TradeID,
				"buy_venue":     buy.VenueID,
				"sell_venue":    sell.VenueID,
			},
		})
	}

	aggs := rules.Aggregate(cands)
	for i := range aggs {
		aggs[i].Evidence["num_pairs"] = aggs[i].OccurrenceCount
	}
	alerts := r.builder.BuildAlerts(r.ID(), aggs, func(a scoring.EntityAggregate) string {
		return rules.Describe("%d buy/sell pairs split across venues by %s", a.OccurrenceCount, a.Entity)
	})
	return &rules.Result{RuleID: r.ID(), Candidates: cands, Alerts: alerts}, nil
}
