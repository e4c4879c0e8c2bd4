package collusion

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

func collusionConfig() config.Collusion {
	cfg := config.Default()
	return cfg.Collusion
}

func builder() *scoring.Builder {
	return scoring.NewBuilder(Category, collusionConfig().Scoring(), zap.NewNop().Sugar())
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

func TestSynchronizedTradingAcrossBuckets(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	var trades []model.Trade
	// The same trio hits the tape in three separate minutes at matching
	// price and size.
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		trades = append(trades,
			mkTrade(fmt.Sprintf("a%d", i), at, "A1", "A3", "100", "50.00"),
			mkTrade(fmt.Sprintf("b%d", i), at.Add(10*time.Second), "A2", "A3", "100", "50.00"),
		)
	}
	rule := &SynchronizedTrading{cfg: collusionConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	a := res.Alerts[0]
	assert.Equal(t, "synchronized_trading", a.RuleID)
	assert.Equal(t, []string{"A1", "A2", "A3"}, a.AccountIDs)
	assert.Equal(t, 3, a.Evidence["num_buckets"])
}

func TestSynchronizedTradingPriceOutlierBreaksBucket(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	var trades []model.Trade
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		price := "50.00"
		if i == 2 {
			price = "51.00" // 2% off, far outside the 0.2% tolerance
		}
		trades = append(trades,
			mkTrade(fmt.Sprintf("a%d", i), at, "A1", "A3", "100", "50.00"),
			mkTrade(fmt.Sprintf("b%d", i), at.Add(10*time.Second), "A2", "A3", "100", price),
		)
	}
	rule := &SynchronizedTrading{cfg: collusionConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 2, "the mispriced bucket drops out")
	assert.Empty(t, res.Alerts, "two synchronized buckets are below the minimum")
}

func TestCoordinatedPriceSupportIgnoresQuantity(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	var trades []model.Trade
	// Three buyers absorb supply at the same level in three buckets; their
	// sizes differ, which this rule does not care about.
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		trades = append(trades,
			mkTrade(fmt.Sprintf("a%d", i), at, "A1", "S1", "100", "50.00"),
			mkTrade(fmt.Sprintf("b%d", i), at.Add(5*time.Second), "A2", "S2", "200", "50.00"),
			mkTrade(fmt.Sprintf("c%d", i), at.Add(10*time.Second), "A3", "S3", "400", "50.00"),
		)
	}
	rule := &CoordinatedPriceSupport{cfg: collusionConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	a := res.Alerts[0]
	assert.Equal(t, "coordinated_price_support", a.RuleID)
	assert.Equal(t, []string{"A1", "A2", "A3"}, a.AccountIDs)
}

func TestSharedInfrastructureTrading(t *testing.T) {
	accounts := []model.Account{
		{AccountID: "A1", IPAddresses: []string{"10.0.0.1"}},
		{AccountID: "A2", IPAddresses: []string{"10.0.0.1"}},
		{AccountID: "B1", IPAddresses: []string{"10.0.0.9"}},
	}
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		mkTrade("t1", base, "A1", "A2", "100", "50.00"),
		mkTrade("t2", base.Add(time.Hour), "A1", "A2", "100", "50.10"),
		mkTrade("t3", base.Add(2*time.Hour), "A2", "A1", "100", "50.05"),
		// Counterparties without shared infrastructure.
		mkTrade("t4", base.Add(3*time.Hour), "A1", "B1", "100", "50.00"),
	}
	rule := &SharedInfrastructureTrading{cfg: collusionConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades, Accounts: accounts}, relation.Build(accounts))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 3)
	for _, c := range res.Candidates {
		assert.Equal(t, "A1|A2|XYZ", c.Entity)
	}
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, 3, res.Alerts[0].Evidence["num_trades"])
}

func TestSharedInfrastructureTradingNeedsAccounts(t *testing.T) {
	set := &model.TableSet{Trades: []model.Trade{mkTrade("t1", time.Now(), "A", "B", "1", "1")}}
	rule := &SharedInfrastructureTrading{cfg: collusionConfig(), builder: builder(), logger: zap.NewNop().Sugar()}
	_, err := rule.Evaluate(set, relation.Build(nil))
	require.Error(t, err)
	assert.True(t, apperrors.IsSkippable(err))
}

func TestCircularTradingThreeLegRing(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		// A sells to B, B sells to C, C sells back to A.
		mkTrade("t1", base, "B", "A", "100", "50.00"),
		mkTrade("t2", base.Add(time.Minute), "C", "B", "100", "50.00"),
		mkTrade("t3", base.Add(2*time.Minute), "A", "C", "100", "50.00"),
		// Noise that closes no ring.
		mkTrade("t4", base.Add(3*time.Minute), "D", "A", "100", "50.00"),
	}
	rule := &CircularTrading{cfg: collusionConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	c := res.Candidates[0]
	assert.Equal(t, "A+B+C|XYZ", c.Entity)
	assert.Equal(t, []string{"A", "B", "C"}, c.AccountIDs)
	assert.InDelta(t, 120.0, c.Fields["ring_seconds"].(float64), 1e-9)
}

func TestCircularTradingRespectsWindow(t *testing.T) {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	trades := []model.Trade{
		mkTrade("t1", base, "B", "A", "100", "50.00"),
		mkTrade("t2", base.Add(time.Minute), "C", "B", "100", "50.00"),
		// The closing leg lands outside the one-hour ring window.
		mkTrade("t3", base.Add(2*time.Hour), "A", "C", "100", "50.00"),
	}
	rule := &CircularTrading{cfg: collusionConfig(), builder: builder(), logger: zap.NewNop().Sugar()}

	res, err := rule.Evaluate(&model.TableSet{Trades: trades}, relation.Build(nil))
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
}
