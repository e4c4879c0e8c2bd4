package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/model"
)

func TestRecordRoundTrip(t *testing.T) {
	in := model.Alert{
		AlertID:       "wash_trading:same_owner_trades:abc123",
		Category:      "wash_trading",
		RuleID:        "same_owner_trades",
		Severity:      model.SeverityHigh,
		Timestamp:     time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC),
		AccountIDs:    []string{"A1", "A2"},
		InstrumentIDs: []string{"XYZ"},
		Description:   "4 same-owner trades in O1|XYZ|2024-03-15",
		Evidence: map[string]interface{}{
			"num_trades": float64(4),
			"owner":      "O1",
		},
		ConfidenceScore: 0.71,
	}

	rec, err := toRecord(in)
	require.NoError(t, err)
	assert.Equal(t, "surveillance_alerts", rec.TableName())
	assert.Equal(t, in.AlertID, rec.AlertID)
	assert.Equal(t, "high", rec.Severity)
	assert.JSONEq(t, `["A1","A2"]`, rec.AccountIDs)

	out, err := fromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestRecordRoundTripEmptySets(t *testing.T) {
	in := model.Alert{
		AlertID:   "benchmark:fixing_price_impact:def456",
		Category:  "benchmark",
		RuleID:    "fixing_price_impact",
		Severity:  model.SeverityLow,
		Timestamp: time.Date(2024, 3, 15, 16, 0, 0, 0, time.UTC),
	}
	rec, err := toRecord(in)
	require.NoError(t, err)

	out, err := fromRecord(rec)
	require.NoError(t, err)
	assert.Empty(t, out.AccountIDs)
	assert.Empty(t, out.InstrumentIDs)
	assert.Empty(t, out.Evidence)
	assert.Equal(t, in.AlertID, out.AlertID)
}

func TestOpenRejectsUnknownScheme(t *testing.T) {
	_, err := Open("mysql:whatever", zap.NewNop().Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported dsn")
}
