// Package model holds the immutable record types the surveillance engine
// operates on. Input records are read-only snapshots for the duration of one
// engine run; the Alert is the engine's only output.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderType enumerates supported order types
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
	OrderTypeIceberg   OrderType = "iceberg"
	OrderTypeHidden    OrderType = "hidden"
)

// Side is the order/trade side
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderState enumerates the lifecycle states an order can be observed in
type OrderState string

const (
	OrderStateNew         OrderState = "new"
	OrderStatePartialFill OrderState = "partial_fill"
	OrderStateFilled      OrderState = "filled"
	OrderStateCancelled   OrderState = "cancelled"
	OrderStateRejected    OrderState = "rejected"
	OrderStateExpired     OrderState = "expired"
)

// Order is a single historical order record.
type Order struct {
	OrderID           string          `json:"order_id"`
	Timestamp         time.Time       `json:"timestamp"`
	AccountID         string          `json:"account_id"`
	TraderID          string          `json:"trader_id"`
	FirmID            string          `json:"firm_id"`
	InstrumentID      string          `json:"instrument_id"`
	OrderType         OrderType       `json:"order_type"`
	Side              Side            `json:"side"`
	Quantity          decimal.Decimal `json:"quantity"`
	DisplayedQuantity decimal.Decimal `json:"displayed_quantity"`
	Price             decimal.Decimal `json:"price"`
	StopPrice         decimal.Decimal `json:"stop_price"`
	TimeInForce       string          `json:"time_in_force"`
	OrderState        OrderState      `json:"order_state"`
	VenueID           string          `json:"venue_id"`
	AlgoIndicator     bool            `json:"algo_indicator"`
	// ParentOrderID is a weak back reference; empty when the order has no parent.
	ParentOrderID string `json:"parent_order_id"`
}

// Trade is a single historical execution record. TradeValue must equal
// Quantity*Price exactly; the table provider enforces this on load.
type Trade struct {
	TradeID       string          `json:"trade_id"`
	Timestamp     time.Time       `json:"timestamp"`
	InstrumentID  string          `json:"instrument_id"`
	BuyOrderID    string          `json:"buy_order_id"`
	SellOrderID   string          `json:"sell_order_id"`
	BuyAccountID  string          `json:"buy_account_id"`
	SellAccountID string          `json:"sell_account_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TradeValue    decimal.Decimal `json:"trade_value"`
	VenueID       string          `json:"venue_id"`
	AggressorSide Side            `json:"aggressor_side"`
}

// AccountForSide returns the account on the given side of the trade.
func (t Trade) AccountForSide(s Side) string {
	if s == SideBuy {
		return t.BuyAccountID
	}
	return t.SellAccountID
}

// Cancellation is a single order-cancellation record.
type Cancellation struct {
	CancellationID    string          `json:"cancellation_id"`
	Timestamp         time.Time       `json:"timestamp"`
	OrderID           string          `json:"order_id"`
	AccountID         string          `json:"account_id"`
	InstrumentID      string          `json:"instrument_id"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	Reason            string          `json:"reason"`
}

// Account is the reference entity linking accounts to owners, firms, and
// shared infrastructure attributes.
type Account struct {
	AccountID          string   `json:"account_id"`
	BeneficialOwnerID  string   `json:"beneficial_owner_id"`
	FirmID             string   `json:"firm_id"`
	IPAddresses        []string `json:"ip_addresses"`
	DeviceFingerprints []string `json:"device_fingerprints"`
	RelatedAccounts    []string `json:"related_accounts"`
}

// CorporateEvent is a reference record for announcement-driven rules
// (insider trading). EventDate is the public announcement time.
type CorporateEvent struct {
	EventID      string    `json:"event_id"`
	InstrumentID string    `json:"instrument_id"`
	EventType    string    `json:"event_type"`
	EventDate    time.Time `json:"event_date"`
}

// InstrumentRef carries per-instrument reference data: derivative links for
// the derivatives category and the reporting threshold for structuring.
type InstrumentRef struct {
	InstrumentID      string          `json:"instrument_id"`
	UnderlyingID      string          `json:"underlying_id"`
	IsDerivative      bool            `json:"is_derivative"`
	ExpiryDate        time.Time       `json:"expiry_date"`
	StrikePrice       decimal.Decimal `json:"strike_price"`
	ReportingOverride decimal.Decimal `json:"reporting_override"`
}

// TableSet is the fully materialized, immutable snapshot one engine run
// computes over. Rules never mutate it.
type TableSet struct {
	Orders          []Order
	Trades          []Trade
	Cancellations   []Cancellation
	Accounts        []Account
	CorporateEvents []CorporateEvent
	InstrumentRefs  []InstrumentRef
}

// HasOrders reports whether the order table is present and non-empty.
func (ts *TableSet) HasOrders() bool { return ts != nil && len(ts.Orders) > 0 }

// HasTrades reports whether the trade table is present and non-empty.
func (ts *TableSet) HasTrades() bool { return ts != nil && len(ts.Trades) > 0 }

// HasCancellations reports whether the cancellation table is present and non-empty.
func (ts *TableSet) HasCancellations() bool { return ts != nil && len(ts.Cancellations) > 0 }

// HasAccounts reports whether the account table is present and non-empty.
func (ts *TableSet) HasAccounts() bool { return ts != nil && len(ts.Accounts) > 0 }
