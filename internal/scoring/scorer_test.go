package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/model"
)

func testBuilder() *Builder {
	return NewBuilder("test_category", Config{
		MinOccurrences:            2,
		SeverityHighOccurrences:   10,
		SeverityMediumOccurrences: 5,
		ConfidenceBase:            0.5,
		ConfidenceSlope:           0.05,
	}, zap.NewNop().Sugar())
}

func TestSeverityTiersHighToLow(t *testing.T) {
	b := testBuilder()
	assert.Equal(t, model.SeverityLow, b.Severity(1))
	assert.Equal(t, model.SeverityLow, b.Severity(4))
	assert.Equal(t, model.SeverityMedium, b.Severity(5))
	assert.Equal(t, model.SeverityMedium, b.Severity(9))
	assert.Equal(t, model.SeverityHigh, b.Severity(10))
	assert.Equal(t, model.SeverityHigh, b.Severity(1000))
}

func TestConfidenceGrowsAndCaps(t *testing.T) {
	b := testBuilder()
	assert.InDelta(t, 0.55, b.Confidence(1), 1e-9)
	assert.InDelta(t, 0.75, b.Confidence(5), 1e-9)
	assert.InDelta(t, model.MaxConfidence, b.Confidence(9), 1e-9)
	assert.InDelta(t, model.MaxConfidence, b.Confidence(10000), 1e-9, "never exceeds the cap")
}

func TestConfidenceMonotonic(t *testing.T) {
	b := testBuilder()
	prev := 0.0
	for n := 1; n <= 20; n++ {
		c := b.Confidence(n)
		assert.GreaterOrEqual(t, c, prev)
		prev = c
	}
}

func TestConfidencePanicsWhenNegative(t *testing.T) {
	b := NewBuilder("test_category", Config{ConfidenceBase: -1}, zap.NewNop().Sugar())
	assert.Panics(t, func() { b.Confidence(1) })
}

func TestBuildAlertsFiltersBelowMinOccurrences(t *testing.T) {
	b := testBuilder()
	aggs := []EntityAggregate{
		{Entity: "a", OccurrenceCount: 1, AccountIDs: []string{"A1"}},
		{Entity: "b", OccurrenceCount: 3, AccountIDs: []string{"A2"}, InstrumentIDs: []string{"AAA"}},
	}
	alerts := b.BuildAlerts("some_rule", aggs, func(a EntityAggregate) string { return a.Entity })
	require.Len(t, alerts, 1)
	a := alerts[0]
	assert.Equal(t, "test_category", a.Category)
	assert.Equal(t, "some_rule", a.RuleID)
	assert.Equal(t, "b", a.Description)
	assert.Equal(t, []string{"A2"}, a.AccountIDs)
	assert.Contains(t, a.AlertID, "test_category:some_rule:")
	assert.NotNil(t, a.Evidence, "nil evidence map is materialized")
}

func TestBuildAlertsEntitySetsSorted(t *testing.T) {
	b := testBuilder()
	aggs := []EntityAggregate{
		{Entity: "a", OccurrenceCount: 5, AccountIDs: []string{"Z", "A", "M"}, InstrumentIDs: []string{"BBB", "AAA"}},
	}
	alerts := b.BuildAlerts("some_rule", aggs, func(EntityAggregate) string { return "" })
	require.Len(t, alerts, 1)
	assert.Equal(t, []string{"A", "M", "Z"}, alerts[0].AccountIDs)
	assert.Equal(t, []string{"AAA", "BBB"}, alerts[0].InstrumentIDs)
}
