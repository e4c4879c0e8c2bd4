package spoof

import (
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

func spoofConfig() config.Spoof {
	cfg := config.Default()
	return cfg.Spoof
}

func builder() *scoring.Builder {
	return scoring.NewBuilder(Category, spoofConfig().Scoring(), zap.NewNop().Sugar())
}

func limitOrder(id string, ts time.Time, acct, inst string, side model.Side, price string) model.Order {
	return model.Order{
		OrderID:      id,
		Timestamp:    ts,
		AccountID:    acct,
		InstrumentID: inst,
		OrderType:    model.OrderTypeLimit,
		Side:         side,
		Quantity:     dec("100"),
		Price:        dec(price),
	}
}

func cancel(orderID string, ts time.Time) model.Cancellation {
	return model.Cancellation{
		CancellationID:    "c-" + orderID,
		Timestamp:         ts,
		OrderID:           orderID,
		AccountID:         "S1",
		InstrumentID:      "XYZ",
		RemainingQuantity: dec("100"),
	}
}

// The canonical layering sequence: a ladder of sell orders across several
// price levels, all cancelled quickly, followed by a buy execution on the
// other side.
func TestLayeringPatternScenario(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	ts := &model.TableSet{
		Orders: []model.Order{
			limitOrder("o1", base, "S1", "XYZ", model.SideSell, "50.10"),
			limitOrder("o2", base.Add(5*time.Second), "S1", "XYZ", model.SideSell, "50.12"),
			limitOrder("o3", base.Add(10*time.Second), "S1", "XYZ", model.SideSell, "50.14"),
			limitOrder("o4", base.Add(15*time.Second), "S1", "XYZ", model.SideSell, "50.16"),
		},
		Cancellations: []model.Cancellation{
			cancel("o1", base.Add(40*time.Second)),
			cancel("o2", base.Add(41*time.Second)),
			cancel("o3", base.Add(42*time.Second)),
			cancel("o4", base.Add(43*time.Second)),
		},
		Trades: []model.Trade{
			// S1 buys right after tearing the ladder down.
			{
				TradeID:       "t1",
				Timestamp:     base.Add(60 * time.Second),
				InstrumentID:  "XYZ",
				BuyAccountID:  "S1",
				SellAccountID: "M1",
				Quantity:      dec("400"),
				Price:         dec("50.05"),
				TradeValue:    dec("20020"),
			},
		},
	}
	rule := &LayeringPattern{cfg: spoofConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(ts, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)

	a := res.Alerts[0]
	assert.Equal(t, "layering_pattern", a.RuleID)
	assert.Equal(t, []string{"S1"}, a.AccountIDs)
	assert.Equal(t, []string{"XYZ"}, a.InstrumentIDs)
	assert.Equal(t, 1, a.Evidence["num_clusters"])
	assert.InDelta(t, 1.0, a.Evidence["cancel_rate"].(float64), 1e-9)
}

// Without the opposite-side execution the ladder is suspicious but the
// layering rule stays quiet.
func TestLayeringPatternNeedsExecution(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	ts := &model.TableSet{
		Orders: []model.Order{
			limitOrder("o1", base, "S1", "XYZ", model.SideSell, "50.10"),
			limitOrder("o2", base.Add(5*time.Second), "S1", "XYZ", model.SideSell, "50.12"),
			limitOrder("o3", base.Add(10*time.Second), "S1", "XYZ", model.SideSell, "50.14"),
			limitOrder("o4", base.Add(15*time.Second), "S1", "XYZ", model.SideSell, "50.16"),
		},
		Cancellations: []model.Cancellation{
			cancel("o1", base.Add(40*time.Second)),
			cancel("o2", base.Add(41*time.Second)),
			cancel("o3", base.Add(42*time.Second)),
			cancel("o4", base.Add(43*time.Second)),
		},
	}
	rule := &LayeringPattern{cfg: spoofConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(ts, relation.Build(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Alerts)
}

func TestRapidCancellation(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	ts := &model.TableSet{
		Orders: []model.Order{
			limitOrder("o1", base, "S1", "XYZ", model.SideSell, "50.10"),
			limitOrder("o2", base.Add(time.Minute), "S1", "XYZ", model.SideSell, "50.10"),
		},
		Cancellations: []model.Cancellation{
			cancel("o1", base.Add(5*time.Second)),           // rapid
			cancel("o2", base.Add(time.Minute+time.Minute)), // slow, ignored
		},
	}
	rule := &RapidCancellation{cfg: spoofConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(ts, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 1, res.Alerts[0].Evidence["num_rapid_cancels"])
}

func TestQuoteStuffingBurstThreshold(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	var orders []model.Order
	for i := 0; i < 25; i++ {
		orders = append(orders, limitOrder(
			"o"+string(rune('a'+i)), base.Add(time.Duration(i)*100*time.Millisecond),
			"S1", "XYZ", model.SideBuy, "50.00"))
	}
	rule := &QuoteStuffing{cfg: spoofConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Orders: orders}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "quote_stuffing", res.Alerts[0].RuleID)
}

func TestIcebergAbuseDisplayedRatio(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	hidden := limitOrder("o1", base, "S1", "XYZ", model.SideBuy, "50.00")
	hidden.OrderType = model.OrderTypeIceberg
	hidden.Quantity = dec("1000")
	hidden.DisplayedQuantity = dec("50") // 5% displayed

	visible := limitOrder("o2", base, "S1", "XYZ", model.SideBuy, "50.00")
	visible.OrderType = model.OrderTypeIceberg
	visible.Quantity = dec("1000")
	visible.DisplayedQuantity = dec("500") // 50% displayed, fine

	rule := &IcebergAbuse{cfg: spoofConfig(), builder: builder(), logger: zap.NewNop().Sugar()}
	res, err := rule.Evaluate(&model.TableSet{Orders: []model.Order{hidden, visible}}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "o1", res.Candidates[0].Fields["order_id"])
}

func TestSpoofRulesSkipWithoutOrders(t *testing.T) {
	for _, rule := range Rules(spoofConfig(), zap.NewNop().Sugar()) {
		_, err := rule.Evaluate(&model.TableSet{}, relation.Build(nil))
		require.Error(t, err, "rule %s", rule.ID())
		assert.True(t, apperrors.IsSkippable(err), "rule %s", rule.ID())
	}
}
