// Package tables implements the Table Provider contract: it materializes
// column-pruned, type-normalized, timestamp-parsed views of the input
// tables before the engine computes on them. The engine never learns the
// storage format; rows with unparseable timestamps are dropped, never fatal.
package tables

import (
	"context"

	"github.com/finsentry/tradewatch/internal/model"
)

// Table names the provider understands.
const (
	TableOrders          = "orders"
	TableTrades          = "trades"
	TableCancellations   = "cancellations"
	TableAccounts        = "accounts"
	TableCorporateEvents = "corporate_events"
	TableInstrumentRefs  = "instrument_refs"
)

// Provider materializes the full table set for one engine run. Tables are
// loaded completely before any rule computes; absent tables come back as
// empty slices, not errors.
type Provider interface {
	LoadTableSet(ctx context.Context) (*model.TableSet, error)
}

// Writer persists intermediate candidate tables and result tables for
// audit. Stage is either StageIntermediate or StageResults.
type Writer interface {
	WriteTable(category, stage, name string, rows []map[string]interface{}) error
}

// Audit stages.
const (
	StageIntermediate = "intermediate"
	StageResults      = "results"
)

// MemProvider wraps an already-materialized table set. Used by tests and by
// embedding callers that load tables themselves.
type MemProvider struct {
	Set model.TableSet
}

// LoadTableSet returns the wrapped set.
func (p *MemProvider) LoadTableSet(ctx context.Context) (*model.TableSet, error) {
	return &p.Set, nil
}
