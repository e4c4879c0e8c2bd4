package tables

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/model"
)

// DirProvider reads tables from a directory, preferring <name>.json and
// falling back to <name>.csv. Missing files yield empty tables.
type DirProvider struct {
	Dir    string
	Logger *zap.SugaredLogger
}

// NewDirProvider creates a provider over the given directory.
func NewDirProvider(dir string, logger *zap.SugaredLogger) *DirProvider {
	return &DirProvider{Dir: dir, Logger: logger}
}

// LoadTableSet materializes every table the engine knows about.
func (p *DirProvider) LoadTableSet(ctx context.Context) (*model.TableSet, error) {
	set := &model.TableSet{}
	if err := loadRows(p, TableOrders, &set.Orders, decodeOrder); err != nil {
		return nil, err
	}
	if err := loadRows(p, TableTrades, &set.Trades, decodeTrade); err != nil {
		return nil, err
	}
	if err := loadRows(p, TableCancellations, &set.Cancellations, decodeCancellation); err != nil {
		return nil, err
	}
	if err := loadRows(p, TableAccounts, &set.Accounts, decodeAccount); err != nil {
		return nil, err
	}
	if err := loadRows(p, TableCorporateEvents, &set.CorporateEvents, decodeCorporateEvent); err != nil {
		return nil, err
	}
	if err := loadRows(p, TableInstrumentRefs, &set.InstrumentRefs, decodeInstrumentRef); err != nil {
		return nil, err
	}
	return set, nil
}

type decodeFunc[T any] func(row map[string]string) (T, bool)

func loadRows[T any](p *DirProvider, name string, dst *[]T, decode decodeFunc[T]) error {
	jsonPath := filepath.Join(p.Dir, name+".json")
	csvPath := filepath.Join(p.Dir, name+".csv")

	var rows []map[string]string
	var err error
	switch {
	case fileExists(jsonPath):
		rows, err = readJSONRows(jsonPath)
	case fileExists(csvPath):
		rows, err = readCSVRows(csvPath)
	default:
		return nil // absent table: empty, not an error
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}

	var dropped int
	for _, row := range rows {
		rec, ok := decode(row)
		if !ok {
			dropped++
			continue
		}
		*dst = append(*dst, rec)
	}
	if dropped > 0 && p.Logger != nil {
		p.Logger.Warnw("dropped unparseable rows", "table", name, "dropped", dropped, "kept", len(*dst))
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func readCSVRows(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows []map[string]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(rec) {
				row[col] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readJSONRows(path string) ([]map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	rows := make([]map[string]string, 0, len(raw))
	for _, r := range raw {
		row := make(map[string]string, len(r))
		for k, v := range r {
			switch vv := v.(type) {
			case string:
				row[k] = vv
			case float64:
				row[k] = decimal.NewFromFloat(vv).String()
			case bool:
				if vv {
					row[k] = "true"
				} else {
					row[k] = "false"
				}
			case []interface{}:
				parts := make([]string, 0, len(vv))
				for _, item := range vv {
					if s, ok := item.(string); ok {
						parts = append(parts, s)
					}
				}
				row[k] = strings.Join(parts, ";")
			case nil:
				// leave absent
			default:
				row[k] = fmt.Sprintf("%v", vv)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// timestampLayouts are tried in order; rows matching none are dropped.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseSet(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decodeOrder(row map[string]string) (model.Order, bool) {
	ts, ok := parseTimestamp(row["timestamp"])
	if !ok {
		return model.Order{}, false
	}
	return model.Order{
		OrderID:           row["order_id"],
		Timestamp:         ts,
		AccountID:         row["account_id"],
		TraderID:          row["trader_id"],
		FirmID:            row["firm_id"],
		InstrumentID:      row["instrument_id"],
		OrderType:         model.OrderType(row["order_type"]),
		Side:              model.Side(row["side"]),
		Quantity:          parseDecimal(row["quantity"]),
		DisplayedQuantity: parseDecimal(row["displayed_quantity"]),
		Price:             parseDecimal(row["price"]),
		StopPrice:         parseDecimal(row["stop_price"]),
		TimeInForce:       row["time_in_force"],
		OrderState:        model.OrderState(row["order_state"]),
		VenueID:           row["venue_id"],
		AlgoIndicator:     row["algo_indicator"] == "true",
		ParentOrderID:     row["parent_order_id"],
	}, true
}

func decodeTrade(row map[string]string) (model.Trade, bool) {
	ts, ok := parseTimestamp(row["timestamp"])
	if !ok {
		return model.Trade{}, false
	}
	qty := parseDecimal(row["quantity"])
	price := parseDecimal(row["price"])
	// Normalize trade_value so quantity*price holds exactly regardless of
	// how the source rounded it.
	return model.Trade{
		TradeID:       row["trade_id"],
		Timestamp:     ts,
		InstrumentID:  row["instrument_id"],
		BuyOrderID:    row["buy_order_id"],
		SellOrderID:   row["sell_order_id"],
		BuyAccountID:  row["buy_account_id"],
		SellAccountID: row["sell_account_id"],
		Quantity:      qty,
		Price:         price,
		TradeValue:    qty.Mul(price),
		VenueID:       row["venue_id"],
		AggressorSide: model.Side(row["aggressor_side"]),
	}, true
}

func decodeCancellation(row map[string]string) (model.Cancellation, bool) {
	ts, ok := parseTimestamp(row["timestamp"])
	if !ok {
		return model.Cancellation{}, false
	}
	return model.Cancellation{
		CancellationID:    row["cancellation_id"],
		Timestamp:         ts,
		OrderID:           row["order_id"],
		AccountID:         row["account_id"],
		InstrumentID:      row["instrument_id"],
		RemainingQuantity: parseDecimal(row["remaining_quantity"]),
		Reason:            row["reason"],
	}, true
}

func decodeAccount(row map[string]string) (model.Account, bool) {
	if row["account_id"] == "" {
		return model.Account{}, false
	}
	return model.Account{
		AccountID:          row["account_id"],
		BeneficialOwnerID:  row["beneficial_owner_id"],
		FirmID:             row["firm_id"],
		IPAddresses:        parseSet(row["ip_addresses"]),
		DeviceFingerprints: parseSet(row["device_fingerprints"]),
		RelatedAccounts:    parseSet(row["related_accounts"]),
	}, true
}

func decodeCorporateEvent(row map[string]string) (model.CorporateEvent, bool) {
	ts, ok := parseTimestamp(row["event_date"])
	if !ok {
		return model.CorporateEvent{}, false
	}
	return model.CorporateEvent{
		EventID:      row["event_id"],
		InstrumentID: row["instrument_id"],
		EventType:    row["event_type"],
		EventDate:    ts,
	}, true
}

func decodeInstrumentRef(row map[string]string) (model.InstrumentRef, bool) {
	if row["instrument_id"] == "" {
		return model.InstrumentRef{}, false
	}
	ref := model.InstrumentRef{
		InstrumentID:      row["instrument_id"],
		UnderlyingID:      row["underlying_id"],
		IsDerivative:      row["is_derivative"] == "true",
		StrikePrice:       parseDecimal(row["strike_price"]),
		ReportingOverride: parseDecimal(row["reporting_override"]),
	}
	if ts, ok := parseTimestamp(row["expiry_date"]); ok {
		ref.ExpiryDate = ts
	}
	return ref, true
}
