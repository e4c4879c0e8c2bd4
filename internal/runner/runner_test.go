package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/rules"
	"github.com/finsentry/tradewatch/internal/tables"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func washScenario() model.TableSet {
	base := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	mk := func(id string, ts time.Time, buyer, seller string) model.Trade {
		return model.Trade{
			TradeID:       id,
			Timestamp:     ts,
			InstrumentID:  "XYZ",
			BuyAccountID:  buyer,
			SellAccountID: seller,
			Quantity:      dec("100"),
			Price:         dec("50.00"),
			TradeValue:    dec("5000"),
		}
	}
	return model.TableSet{
		Trades: []model.Trade{
			mk("t1", base, "A1", "A2"),
			mk("t2", base.Add(5*time.Minute), "A2", "A1"),
			mk("t3", base.Add(10*time.Minute), "A1", "A2"),
			mk("t4", base.Add(15*time.Minute), "A2", "A1"),
		},
		Accounts: []model.Account{
			{AccountID: "A1", BeneficialOwnerID: "O1"},
			{AccountID: "A2", BeneficialOwnerID: "O1"},
		},
	}
}

func newTestRunner(t *testing.T, set model.TableSet) *Runner {
	t.Helper()
	cfg := config.Default()
	log := zap.NewNop().Sugar()
	return New(&tables.MemProvider{Set: set}, nil, nil, Categories(&cfg, log), log)
}

func TestRunEmptyInputYieldsNoAlertsAndNoError(t *testing.T) {
	r := newTestRunner(t, model.TableSet{})
	out, err := r.Run(context.Background(), nil)
	require.NoError(t, err, "absent tables are skips, never failures")
	assert.Empty(t, out.Alerts)
	require.Len(t, out.Summaries, 10, "every category reports a summary")
	for _, s := range out.Summaries {
		assert.Zero(t, s.TotalAlerts)
	}
}

func TestRunCategoryFilter(t *testing.T) {
	r := newTestRunner(t, washScenario())
	out, err := r.Run(context.Background(), []string{"wash_trading"})
	require.NoError(t, err)
	require.Len(t, out.Summaries, 1)
	assert.Equal(t, "wash_trading", out.Summaries[0].Category)
	require.NotEmpty(t, out.Alerts)
	for _, a := range out.Alerts {
		assert.Equal(t, "wash_trading", a.Category)
	}
}

func TestRunRejectsUnknownCategory(t *testing.T) {
	r := newTestRunner(t, model.TableSet{})
	_, err := r.Run(context.Background(), []string{"no_such_category"})
	require.Error(t, err)
}

// alertKey drops the random suffix and run-time stamp so two runs over
// identical input can be compared.
type alertKey struct {
	Category    string
	RuleID      string
	Severity    model.Severity
	Description string
	Confidence  float64
}

func normalize(alerts []model.Alert) []alertKey {
	keys := make([]alertKey, 0, len(alerts))
	for _, a := range alerts {
		keys = append(keys, alertKey{a.Category, a.RuleID, a.Severity, a.Description, a.ConfidenceScore})
	}
	return keys
}

func TestRunDeterministicAcrossRuns(t *testing.T) {
	set := washScenario()
	first, err := newTestRunner(t, set).Run(context.Background(), nil)
	require.NoError(t, err)
	second, err := newTestRunner(t, set).Run(context.Background(), nil)
	require.NoError(t, err)

	require.NotEmpty(t, first.Alerts)
	assert.Equal(t, normalize(first.Alerts), normalize(second.Alerts))
	assert.Equal(t, first.Summaries, second.Summaries)

	for i := range first.Alerts {
		assert.Equal(t, first.Alerts[i].AccountIDs, second.Alerts[i].AccountIDs)
		assert.Equal(t, first.Alerts[i].InstrumentIDs, second.Alerts[i].InstrumentIDs)
		assert.NotEqual(t, first.Alerts[i].AlertID, second.Alerts[i].AlertID, "alert IDs are unique per run")
	}
}

type failingRule struct{}

func (failingRule) ID() string { return "always_fails" }
func (failingRule) Evaluate(*model.TableSet, *relation.Index) (*rules.Result, error) {
	return nil, errors.New("boom")
}

type staticRule struct{ alert model.Alert }

func (staticRule) ID() string { return "always_alerts" }
func (r staticRule) Evaluate(*model.TableSet, *relation.Index) (*rules.Result, error) {
	return &rules.Result{RuleID: r.ID(), Alerts: []model.Alert{r.alert}}, nil
}

func TestRunContinuesPastFailingRule(t *testing.T) {
	log := zap.NewNop().Sugar()
	alert := model.Alert{AlertID: "stub:always_alerts:1", Category: "stub", RuleID: "always_alerts"}
	catalog := []Category{{
		Name:  "stub",
		Rules: []rules.Rule{failingRule{}, staticRule{alert: alert}},
	}}
	r := New(&tables.MemProvider{Set: model.TableSet{}}, nil, nil, catalog, log)

	out, err := r.Run(context.Background(), nil)
	require.NoError(t, err, "one broken rule never fails the run")
	require.Len(t, out.Alerts, 1)
	assert.Equal(t, "always_alerts", out.Alerts[0].RuleID)
}

func TestRunHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestRunner(t, model.TableSet{}).Run(ctx, nil)
	require.Error(t, err)
}
