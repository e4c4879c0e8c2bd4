package model

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Severity represents alert severity levels
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// MaxConfidence is the hard cap on alert confidence. The engine never
// asserts certainty.
const MaxConfidence = 0.95

// Alert is the engine's only output record. Alerts are created once and
// never mutated.
type Alert struct {
	AlertID         string                 `json:"alert_id"`
	Category        string                 `json:"category"`
	RuleID          string                 `json:"rule_id"`
	Severity        Severity               `json:"severity"`
	Timestamp       time.Time              `json:"timestamp"`
	AccountIDs      []string               `json:"account_ids"`
	InstrumentIDs   []string               `json:"instrument_ids"`
	Description     string                 `json:"description"`
	Evidence        map[string]interface{} `json:"evidence"`
	ConfidenceScore float64                `json:"confidence_score"`
}

// NewAlertID builds a stable, globally unique alert identifier:
// category + rule + random suffix.
func NewAlertID(category, ruleID string) string {
	return fmt.Sprintf("%s:%s:%s", category, ruleID, uuid.NewString())
}

// SortedCopy returns a sorted copy of the given string set. Alert entity
// sets are sorted so repeated runs produce byte-identical alerts apart from
// the random ID suffix.
func SortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}

// RunSummary aggregates one category run's alert output.
type RunSummary struct {
	Category       string           `json:"category"`
	TotalAlerts    int              `json:"total_alerts"`
	BySeverity     map[Severity]int `json:"by_severity"`
	ByRule         map[string]int   `json:"by_rule"`
	AvgConfidence  float64          `json:"avg_confidence"`
	UniqueAccounts int              `json:"unique_accounts"`
}

// Summarize builds a RunSummary over a category's alerts. A category with
// zero alerts still gets a summary with empty maps.
func Summarize(category string, alerts []Alert) RunSummary {
	s := RunSummary{
		Category:   category,
		BySeverity: make(map[Severity]int),
		ByRule:     make(map[string]int),
	}
	accounts := make(map[string]struct{})
	var confSum float64
	for _, a := range alerts {
		s.TotalAlerts++
		s.BySeverity[a.Severity]++
		s.ByRule[a.RuleID]++
		confSum += a.ConfidenceScore
		for _, acct := range a.AccountIDs {
			accounts[acct] = struct{}{}
		}
	}
	if s.TotalAlerts > 0 {
		s.AvgConfidence = confSum / float64(s.TotalAlerts)
	}
	s.UniqueAccounts = len(accounts)
	return s
}
