// Package errors defines the engine's error taxonomy.
//
// Input errors (missing table/column) make the dependent rule skippable.
// Configuration errors are fatal and surface before any rule executes.
// Data-quality problems (null join keys, bad timestamps, zero denominators)
// are never errors: rows are filtered before computation.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingTable indicates a rule's required input table is absent or
	// empty. The category runner skips the rule and continues.
	ErrMissingTable = errors.New("required input table missing or empty")

	// ErrMissingColumn indicates a required column was not supplied by the
	// table provider.
	ErrMissingColumn = errors.New("required column missing")
)

// ConfigError reports a nonsensical configuration value. It is raised at
// configuration-load time, before any rule executes.
type ConfigError struct {
	Category string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s.%s: %s", e.Category, e.Field, e.Reason)
}

// NewConfigError builds a ConfigError for the given category and field.
func NewConfigError(category, field, reason string) *ConfigError {
	return &ConfigError{Category: category, Field: field, Reason: reason}
}

// MissingTable wraps ErrMissingTable with the table name.
func MissingTable(name string) error {
	return fmt.Errorf("%w: %s", ErrMissingTable, name)
}

// IsSkippable reports whether err means the rule should be skipped rather
// than fail the category run.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrMissingTable) || errors.Is(err, ErrMissingColumn)
}
