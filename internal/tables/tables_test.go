package tables

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadTableSetFromCSV(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trades.csv",
		"trade_id,timestamp,instrument_id,buy_account_id,sell_account_id,quantity,price,trade_value\n"+
			"t1,2024-03-15T10:00:00Z,XYZ,A1,A2,100,50.00,9999\n"+
			"t2,not-a-timestamp,XYZ,A1,A2,100,50.00,5000\n")
	writeFile(t, dir, "accounts.csv",
		"account_id,beneficial_owner_id,ip_addresses\n"+
			"A1,O1,10.0.0.1;10.0.0.2\n"+
			",O2,\n")

	p := NewDirProvider(dir, zap.NewNop().Sugar())
	set, err := p.LoadTableSet(context.Background())
	require.NoError(t, err)

	require.Len(t, set.Trades, 1, "unparseable-timestamp row dropped, not fatal")
	tr := set.Trades[0]
	assert.Equal(t, "t1", tr.TradeID)
	assert.True(t, tr.TradeValue.Equal(tr.Quantity.Mul(tr.Price)), "trade value renormalized from quantity*price")

	require.Len(t, set.Accounts, 1, "row without account_id dropped")
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, set.Accounts[0].IPAddresses)

	assert.Empty(t, set.Orders, "absent table loads empty")
}

func TestLoadTableSetPrefersJSON(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "trades.json",
		`[{"trade_id":"j1","timestamp":"2024-03-15T10:00:00Z","instrument_id":"XYZ",
		   "buy_account_id":"A1","sell_account_id":"A2","quantity":100,"price":50}]`)
	writeFile(t, dir, "trades.csv",
		"trade_id,timestamp,instrument_id,buy_account_id,sell_account_id,quantity,price\n"+
			"c1,2024-03-15T10:00:00Z,XYZ,A1,A2,100,50\n")

	set, err := NewDirProvider(dir, zap.NewNop().Sugar()).LoadTableSet(context.Background())
	require.NoError(t, err)
	require.Len(t, set.Trades, 1)
	assert.Equal(t, "j1", set.Trades[0].TradeID)
}

func TestLoadTableSetDateOnlyTimestamps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "corporate_events.csv",
		"event_id,instrument_id,event_type,event_date\n"+
			"e1,XYZ,earnings,2024-03-20\n")
	set, err := NewDirProvider(dir, zap.NewNop().Sugar()).LoadTableSet(context.Background())
	require.NoError(t, err)
	require.Len(t, set.CorporateEvents, 1)
	assert.Equal(t, 2024, set.CorporateEvents[0].EventDate.Year())
}

func TestDirWriterWritesSortedColumnUnion(t *testing.T) {
	dir := t.TempDir()
	w := NewDirWriter(dir, zap.NewNop().Sugar())
	rows := []map[string]interface{}{
		{"b_col": 1, "a_col": "x"},
		{"c_col": 2.5, "a_col": "y"},
	}
	require.NoError(t, w.WriteTable("wash_trading", StageIntermediate, "candidates", rows))

	f, err := os.Open(filepath.Join(dir, "wash_trading", StageIntermediate, "candidates.csv"))
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"a_col", "b_col", "c_col"}, recs[0])
	assert.Equal(t, []string{"x", "1", ""}, recs[1])
	assert.Equal(t, []string{"y", "", "2.5"}, recs[2])
}

func TestDirWriterRejectsUnknownStage(t *testing.T) {
	w := NewDirWriter(t.TempDir(), zap.NewNop().Sugar())
	require.Error(t, w.WriteTable("cat", "bogus", "name", nil))
}
