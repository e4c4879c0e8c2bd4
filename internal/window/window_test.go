package window

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsentry/tradewatch/internal/model"
)

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestBucketFloors(t *testing.T) {
	base := at("2024-03-15T10:00:00Z")
	b0 := Bucket(base, 60)
	assert.Equal(t, b0, Bucket(base.Add(59*time.Second), 60), "same minute, same bucket")
	assert.Equal(t, b0+1, Bucket(base.Add(60*time.Second), 60), "next minute, next bucket")
	assert.Equal(t, b0-1, Bucket(base.Add(-time.Second), 60))
}

func TestBucketNegativeEpoch(t *testing.T) {
	// Pre-1970 timestamps still floor toward minus infinity.
	ts := time.Unix(-61, 0)
	assert.Equal(t, int64(-2), Bucket(ts, 60))
}

func TestBucketPanicsOnNonPositiveWidth(t *testing.T) {
	assert.Panics(t, func() { Bucket(time.Now(), 0) })
}

func TestBaselineStatsExcludesIntervals(t *testing.T) {
	asOf := at("2024-03-15T00:00:00Z")
	var samples []Sample
	for d := 1; d <= 10; d++ {
		samples = append(samples, Sample{Timestamp: asOf.AddDate(0, 0, -d), Value: 10})
	}
	// One poisoned sample inside the excluded window.
	poison := Sample{Timestamp: asOf.AddDate(0, 0, -3), Value: 1000}
	samples = append(samples, poison)

	exclude := []Interval{{Start: asOf.AddDate(0, 0, -4), End: asOf.AddDate(0, 0, -2)}}
	stats := BaselineStats(samples, asOf, 30*24*time.Hour, exclude)

	// Days 2 and 3 are excluded entirely, including the poisoned sample.
	require.Equal(t, 8, stats.N)
	assert.InDelta(t, 10.0, stats.Mean, 1e-9)
	assert.InDelta(t, 0.0, stats.Std, 1e-9)
}

func TestBaselineStatsWindowIsHalfOpen(t *testing.T) {
	asOf := at("2024-03-15T00:00:00Z")
	samples := []Sample{
		{Timestamp: asOf, Value: 1},                      // at asOf: excluded
		{Timestamp: asOf.Add(-time.Hour), Value: 2},      // inside
		{Timestamp: asOf.Add(-24 * time.Hour), Value: 3}, // at start: included
		{Timestamp: asOf.Add(-25 * time.Hour), Value: 4}, // before start: excluded
	}
	stats := BaselineStats(samples, asOf, 24*time.Hour, nil)
	assert.Equal(t, 2, stats.N)
	assert.InDelta(t, 2.5, stats.Mean, 1e-9)
}

func TestZScoreDegenerateBaseline(t *testing.T) {
	assert.Zero(t, Stats{}.ZScore(5))
	assert.Zero(t, Stats{Mean: 5, Std: 0, N: 3}.ZScore(100))
}

func TestAsofMatchForwardBasics(t *testing.T) {
	base := at("2024-03-15T10:00:00Z")
	a := []Event{
		{Key: "k", Timestamp: base, Index: 0},
		{Key: "k", Timestamp: base.Add(10 * time.Second), Index: 1},
	}
	b := []Event{
		{Key: "k", Timestamp: base.Add(5 * time.Second), Index: 100},
		{Key: "k", Timestamp: base.Add(12 * time.Second), Index: 101},
	}
	pairs := AsofMatchForward(a, b, 30*time.Second)
	require.Len(t, pairs, 2)
	assert.Equal(t, MatchPair{A: 0, B: 100}, pairs[0])
	assert.Equal(t, MatchPair{A: 1, B: 101}, pairs[1])
}

func TestAsofMatchForwardIsInjectiveOnB(t *testing.T) {
	base := at("2024-03-15T10:00:00Z")
	a := []Event{
		{Key: "k", Timestamp: base, Index: 0},
		{Key: "k", Timestamp: base.Add(time.Second), Index: 1},
		{Key: "k", Timestamp: base.Add(2 * time.Second), Index: 2},
	}
	b := []Event{
		{Key: "k", Timestamp: base.Add(3 * time.Second), Index: 50},
	}
	pairs := AsofMatchForward(a, b, time.Minute)
	require.Len(t, pairs, 1, "one b event can be consumed once")
	assert.Equal(t, 0, pairs[0].A, "earliest a event wins")

	seen := make(map[int]int)
	for _, p := range pairs {
		seen[p.B]++
	}
	for bIdx, n := range seen {
		assert.Equal(t, 1, n, "b index %d matched more than once", bIdx)
	}
}

func TestAsofMatchForwardEqualTimestampEligible(t *testing.T) {
	base := at("2024-03-15T10:00:00Z")
	a := []Event{{Key: "k", Timestamp: base, Index: 0}}
	b := []Event{{Key: "k", Timestamp: base, Index: 9}}
	pairs := AsofMatchForward(a, b, 0)
	require.Len(t, pairs, 1)
	assert.Equal(t, MatchPair{A: 0, B: 9}, pairs[0])
}

func TestAsofMatchForwardRespectsToleranceAndKey(t *testing.T) {
	base := at("2024-03-15T10:00:00Z")
	a := []Event{
		{Key: "k1", Timestamp: base, Index: 0},
		{Key: "k2", Timestamp: base, Index: 1},
	}
	b := []Event{
		{Key: "k1", Timestamp: base.Add(2 * time.Minute), Index: 10}, // outside tolerance
		{Key: "k3", Timestamp: base.Add(time.Second), Index: 11},     // wrong key
	}
	assert.Empty(t, AsofMatchForward(a, b, time.Minute))
}

func TestConcentrationRatioBounds(t *testing.T) {
	assert.Zero(t, ConcentrationRatio(decimal.NewFromInt(5), decimal.Zero), "zero denominator guarded")
	r := ConcentrationRatio(decimal.NewFromInt(3), decimal.NewFromInt(4))
	assert.InDelta(t, 0.75, r, 1e-9)
	full := ConcentrationRatio(decimal.NewFromInt(4), decimal.NewFromInt(4))
	assert.InDelta(t, 1.0, full, 1e-9)
}

func TestNextTradeIndexByInstrumentSkipsTerminalRows(t *testing.T) {
	base := at("2024-03-15T10:00:00Z")
	trades := []model.Trade{
		{TradeID: "t1", InstrumentID: "AAA", Timestamp: base},
		{TradeID: "t2", InstrumentID: "AAA", Timestamp: base.Add(time.Second)},
		{TradeID: "t3", InstrumentID: "BBB", Timestamp: base},
	}
	next := NextTradeIndexByInstrument(trades)
	require.Len(t, next, 1)
	assert.Equal(t, 1, next[0])
	_, ok := next[1]
	assert.False(t, ok, "last AAA trade has no successor")
	_, ok = next[2]
	assert.False(t, ok, "sole BBB trade has no successor")
}

func TestMinuteOfDay(t *testing.T) {
	assert.Equal(t, 15*60+55, MinuteOfDay(at("2024-03-15T15:55:30Z")))
	assert.Equal(t, 0, MinuteOfDay(at("2024-03-15T00:00:59Z")))
}
