package structuring

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
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func strConfig() config.Structuring {
	cfg := config.Default()
	return cfg.Structuring
}

func builder() *scoring.Builder {
	return scoring.NewBuilder(Category, strConfig().Scoring(), zap.NewNop().Sugar())
}

func mkTrade(id string, ts time.Time, buyer, seller, value string) model.Trade {
	v := dec(value)
	return model.Trade{
		TradeID:       id,
		Timestamp:     ts,
		InstrumentID:  "XYZ",
		BuyAccountID:  buyer,
		SellAccountID: seller,
		Quantity:      dec("1"),
		Price:         v,
		TradeValue:    v,
	}
}

func TestSubThresholdCluster(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		// Three trades shaped just under the 10000 reporting threshold
		// inside one hour.
		mkTrade("t1", base, "STR", "C1", "9500"),
		mkTrade("t2", base.Add(10*time.Minute), "STR", "C2", "9200"),
		mkTrade("t3", base.Add(20*time.Minute), "STR", "C3", "9800"),
		// Below the margin band and above the threshold: neither counts.
		mkTrade("t4", base.Add(30*time.Minute), "STR", "C4", "8000"),
		mkTrade("t5", base.Add(40*time.Minute), "STR", "C5", "10500"),
	}
	rule := &SubThresholdTrades{cfg: strConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.Equal(t, "STR|XYZ", c.Entity)
	assert.Equal(t, 3, c.Fields["cluster_trades"])
	assert.InDelta(t, 28500.0, c.Fields["cluster_value"].(float64), 1e-9)
}

func TestSubThresholdHonorsInstrumentOverride(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		mkTrade("t1", base, "STR", "C1", "4800"),
		mkTrade("t2", base.Add(10*time.Minute), "STR", "C2", "4700"),
		mkTrade("t3", base.Add(20*time.Minute), "STR", "C3", "4900"),
	}
	rule := &SubThresholdTrades{cfg: strConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	// Under the default 10000 threshold these amounts are unremarkable.
	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)

	// A per-instrument reporting override of 5000 puts them in the band.
	refs := []model.InstrumentRef{{InstrumentID: "XYZ", ReportingOverride: dec("5000")}}
	res, err = rule.Evaluate(&model.TableSet{Trades: trades, InstrumentRefs: refs}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "STR|XYZ", res.Candidates[0].Entity)
}

func TestVelocityBurst(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	var trades []model.Trade
	// Ten trades by FAST inside a single ten-minute bucket.
	for i := 0; i < 10; i++ {
		trades = append(trades, mkTrade(
			fmt.Sprintf("t%d", i), base.Add(time.Duration(i)*30*time.Second),
			"FAST", fmt.Sprintf("C%d", i), "5001"))
	}
	rule := &VelocityBurst{cfg: strConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.Equal(t, "FAST", c.Entity)
	assert.Equal(t, 10, c.Fields["num_trades"])
}

func TestRoundAmountPattern(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		// Four of RND's five trades are exact multiples of 1000.
		mkTrade("t1", base, "RND", "M", "5000"),
		mkTrade("t2", base.Add(time.Minute), "RND", "M", "7000"),
		mkTrade("t3", base.Add(2*time.Minute), "RND", "M", "3000"),
		mkTrade("t4", base.Add(3*time.Minute), "RND", "M", "12000"),
		mkTrade("t5", base.Add(4*time.Minute), "RND", "M", "5050"),
		// Extra odd-value flow keeps the counterparty below the share floor.
		mkTrade("t6", base.Add(5*time.Minute), "M", "N", "5051"),
		mkTrade("t7", base.Add(6*time.Minute), "M", "N", "5052"),
	}
	rule := &RoundAmountPattern{cfg: strConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 4, "one candidate per round trade")
	for _, c := range res.Candidates {
		assert.Equal(t, "RND", c.Entity)
		assert.InDelta(t, 0.8, c.Fields["round_share"].(float64), 1e-9)
	}
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 4, res.Alerts[0].Evidence["num_round_trades"])
	assert.Equal(t, model.SeverityMedium, res.Alerts[0].Severity)
}

func TestIsRound(t *testing.T) {
	assert.True(t, isRound(5000, 1000))
	assert.True(t, isRound(999.9999999995, 1000), "float noise near a multiple still counts")
	assert.False(t, isRound(5050, 1000))
	assert.False(t, isRound(0, 1000))
	assert.False(t, isRound(5000, 0))
}
