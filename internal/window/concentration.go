package window

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finsentry/tradewatch/internal/model"
)

// ConcentrationRatio returns windowSum/totalSum, guarded against a zero
// denominator. When the window is a subset of the reference period the
// result is in [0, 1].
func ConcentrationRatio(windowSum, totalSum decimal.Decimal) float64 {
	if totalSum.IsZero() {
		return 0
	}
	r, _ := windowSum.Div(totalSum).Float64()
	return r
}

// NextTradeIndexByInstrument returns, for each trade's index in the input
// slice, the index of the next trade in the same instrument in time order.
// The last trade of each instrument partition has no successor and is
// absent from the map; callers must exclude it from profit attribution
// rather than defaulting it to zero profit.
func NextTradeIndexByInstrument(trades []model.Trade) map[int]int {
	parts := make(map[string][]int)
	for i, t := range trades {
		parts[t.InstrumentID] = append(parts[t.InstrumentID], i)
	}
	next := make(map[int]int)
	for _, idxs := range parts {
		sort.Slice(idxs, func(a, b int) bool {
			ti, tj := trades[idxs[a]], trades[idxs[b]]
			if ti.Timestamp.Equal(tj.Timestamp) {
				return idxs[a] < idxs[b]
			}
			return ti.Timestamp.Before(tj.Timestamp)
		})
		for k := 0; k < len(idxs)-1; k++ {
			next[idxs[k]] = idxs[k+1]
		}
	}
	return next
}

// NextPriceByInstrument is NextTradeIndexByInstrument projected to the
// successor's price.
func NextPriceByInstrument(trades []model.Trade) map[int]decimal.Decimal {
	next := NextTradeIndexByInstrument(trades)
	prices := make(map[int]decimal.Decimal, len(next))
	for i, j := range next {
		prices[i] = trades[j].Price
	}
	return prices
}

// SumInWindow sums a decimal metric over the rows whose timestamp falls in
// [start, end).
func SumInWindow(timestamps []time.Time, values []decimal.Decimal, iv Interval) decimal.Decimal {
	sum := decimal.Zero
	for i, ts := range timestamps {
		if iv.Contains(ts) {
			sum = sum.Add(values[i])
		}
	}
	return sum
}
