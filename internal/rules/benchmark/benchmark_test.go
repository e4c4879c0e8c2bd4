package benchmark

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/scoring"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func benchConfig() config.Benchmark {
	cfg := config.Default()
	return cfg.Benchmark
}

func builder() *scoring.Builder {
	return scoring.NewBuilder(Category, benchConfig().Scoring(), zap.NewNop().Sugar())
}

func mkTrade(id string, ts time.Time, buyer, seller, qty, price string) model.Trade {
	q, p := dec(qty), dec(price)
	return model.Trade{
		TradeID:       id,
		Timestamp:     ts,
		InstrumentID:  "XYZ",
		BuyAccountID:  buyer,
		SellAccountID: seller,
		Quantity:      q,
		Price:         p,
		TradeValue:    q.Mul(p),
	}
}

// fixingAt returns a timestamp inside the default 15:55-16:00 fixing window.
func fixingAt(day time.Time, second int) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 15, 56, second, 0, time.UTC)
}

func TestFixingWindowConcentration(t *testing.T) {
	var trades []model.Trade
	for i := 0; i < 2; i++ {
		day := time.Date(2024, 3, 14+i, 0, 0, 0, 0, time.UTC)
		counterparty := fmt.Sprintf("C%d", i+1)
		trades = append(trades,
			// Background volume of 10000 outside the window.
			mkTrade(fmt.Sprintf("m%d", i), day.Add(10*time.Hour), "B1", "B2", "200", "50.00"),
			// FIX prints 15000 inside the window, 60% of the day.
			mkTrade(fmt.Sprintf("f%d", i), fixingAt(day, 10), "FIX", counterparty, "300", "50.00"),
		)
	}
	rule := &FixingWindowConcentration{cfg: benchConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)

	// The rotating counterparties only appear once each and fall below the
	// minimum occurrence count; FIX appears on both days.
	require.Len(t, res.Alerts, 1)
	a := res.Alerts[0]
	assert.Equal(t, "fixing_window_concentration", a.RuleID)
	assert.Equal(t, []string{"FIX"}, a.AccountIDs)
	assert.Equal(t, 2, a.Evidence["num_days"])
}

func TestFixingPriceImpactRequiresPriceWalk(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	flat := []model.Trade{
		mkTrade("f1", fixingAt(day, 10), "FIX", "C1", "100", "50.00"),
		mkTrade("f2", fixingAt(day, 50), "FIX", "C2", "100", "50.05"),
	}
	rule := &FixingPriceImpact{cfg: benchConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	// A 0.1% drift through the window is below the impact floor.
	res, err := rule.Evaluate(&model.TableSet{Trades: flat}, relation.Build(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)

	walked := []model.Trade{
		mkTrade("f1", fixingAt(day, 10), "FIX", "C1", "100", "50.00"),
		mkTrade("f2", fixingAt(day, 50), "FIX", "C2", "100", "50.25"),
	}
	res, err = rule.Evaluate(&model.TableSet{Trades: walked}, relation.Build(nil))
	require.NoError(t, err)
	require.NotEmpty(t, res.Candidates)
	var found bool
	for _, c := range res.Candidates {
		if c.Entity == "FIX|XYZ" {
			found = true
			assert.InDelta(t, 0.5, c.Fields["impact_pct"].(float64), 1e-9)
			assert.InDelta(t, 1.0, c.Fields["fix_share"].(float64), 1e-9)
		}
	}
	assert.True(t, found, "FIX participated in every fixing print")
}

func TestBenchmarkPeriodSpike(t *testing.T) {
	var trades []model.Trade
	base := time.Date(2024, 3, 25, 0, 0, 0, 0, time.UTC)
	// Ten quiet days with mild variation so the baseline has spread.
	for d := 1; d <= 10; d++ {
		qty := "18"
		if d%2 == 0 {
			qty = "22"
		}
		day := base.AddDate(0, 0, -d)
		trades = append(trades, mkTrade(
			fmt.Sprintf("q%d", d), fixingAt(day, 10), "A1", "A2", qty, "50.00"))
	}
	// Spike day: SPK prints ten times the usual fixing volume.
	trades = append(trades,
		mkTrade("s1", fixingAt(base, 10), "SPK", "C8", "100", "50.00"),
		mkTrade("s2", fixingAt(base, 40), "SPK", "C9", "100", "50.00"),
	)
	rule := &BenchmarkPeriodSpike{cfg: benchConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1, "only the spike day is an outlier")
	c := res.Candidates[0]
	assert.Equal(t, "XYZ", c.Entity)
	assert.Equal(t, "SPK", c.Fields["top_account"])
	assert.GreaterOrEqual(t, c.Fields["volume_z_score"].(float64), 2.5)
}

func TestBenchmarkRulesSkipWithoutTrades(t *testing.T) {
	for _, rule := range Rules(benchConfig(), zap.NewNop().Sugar()) {
		_, err := rule.Evaluate(&model.TableSet{}, relation.Build(nil))
		require.Error(t, err, "rule %s", rule.ID())
		assert.True(t, apperrors.IsSkippable(err), "rule %s", rule.ID())
	}
}
