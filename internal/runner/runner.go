// Package runner orchestrates one surveillance run: load the table set
// once, build the account-relation index, evaluate every enabled category's
// rules concurrently and collect scored alerts plus per-category summaries.
package runner

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/relation"
	"github.com/finsentry/tradewatch/internal/rules"
	"github.com/finsentry/tradewatch/internal/rules/benchmark"
	"github.com/finsentry/tradewatch/internal/rules/closemark"
	"github.com/finsentry/tradewatch/internal/rules/collusion"
	"github.com/finsentry/tradewatch/internal/rules/crossvenue"
	"github.com/finsentry/tradewatch/internal/rules/derivative"
	"github.com/finsentry/tradewatch/internal/rules/frontrun"
	"github.com/finsentry/tradewatch/internal/rules/insider"
	"github.com/finsentry/tradewatch/internal/rules/spoof"
	"github.com/finsentry/tradewatch/internal/rules/structuring"
	"github.com/finsentry/tradewatch/internal/rules/washtrade"
	"github.com/finsentry/tradewatch/internal/tables"
	apperrors "github.com/finsentry/tradewatch/pkg/errors"
)

// AlertSink receives the final alert batch. The gorm store implements it;
// a nil sink disables persistence.
type AlertSink interface {
	SaveAlerts(ctx context.Context, alerts []model.Alert) error
}

// CandidateSink is optionally implemented by sinks that also persist
// intermediate candidate rows for categories with save_intermediates set.
type CandidateSink interface {
	SaveCandidates(ctx context.Context, category, ruleID string, cands []rules.Candidate) error
}

// Category is one named rule set with its audit flag.
type Category struct {
	Name              string
	Rules             []rules.Rule
	SaveIntermediates bool
}

// Categories builds the full rule catalog from configuration.
func Categories(cfg *config.Config, logger *zap.SugaredLogger) []Category {
	return []Category{
		{washtrade.Category, washtrade.Rules(cfg.WashTrade, logger), cfg.WashTrade.SaveIntermediates},
		{spoof.Category, spoof.Rules(cfg.Spoof, logger), cfg.Spoof.SaveIntermediates},
		{frontrun.Category, frontrun.Rules(cfg.FrontRun, logger), cfg.FrontRun.SaveIntermediates},
		{closemark.Category, closemark.Rules(cfg.CloseMark, logger), cfg.CloseMark.SaveIntermediates},
		{insider.Category, insider.Rules(cfg.Insider, logger), cfg.Insider.SaveIntermediates},
		{collusion.Category, collusion.Rules(cfg.Collusion, logger), cfg.Collusion.SaveIntermediates},
		{crossvenue.Category, crossvenue.Rules(cfg.CrossVenue, logger), cfg.CrossVenue.SaveIntermediates},
		{benchmark.Category, benchmark.Rules(cfg.Benchmark, logger), cfg.Benchmark.SaveIntermediates},
		{structuring.Category, structuring.Rules(cfg.Structuring, logger), cfg.Structuring.SaveIntermediates},
		{derivative.Category, derivative.Rules(cfg.Derivative, logger), cfg.Derivative.SaveIntermediates},
	}
}

// Runner executes the catalog over one table snapshot.
type Runner struct {
	provider tables.Provider
	writer   tables.Writer
	sink     AlertSink
	catalog  []Category
	logger   *zap.SugaredLogger
}

// New creates a runner. writer and sink may be nil to disable audit output
// and persistence respectively.
func New(provider tables.Provider, writer tables.Writer, sink AlertSink, catalog []Category, logger *zap.SugaredLogger) *Runner {
	return &Runner{provider: provider, writer: writer, sink: sink, catalog: catalog, logger: logger}
}

// Output is the complete result of one run.
type Output struct {
	Alerts    []model.Alert
	Summaries []model.RunSummary
}

// Run loads tables, evaluates every selected category and returns the
// combined, deterministically ordered output. An empty filter selects every
// category; an unknown name in the filter is an error.
func (r *Runner) Run(ctx context.Context, only []string) (*Output, error) {
	selected, err := r.selectCategories(only)
	if err != nil {
		return nil, err
	}

	ts, err := r.provider.LoadTableSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tables: %w", err)
	}
	rel := relation.Build(ts.Accounts)
	r.logger.Infow("tables loaded",
		"orders", len(ts.Orders),
		"trades", len(ts.Trades),
		"cancellations", len(ts.Cancellations),
		"accounts", len(ts.Accounts))

	// Categories run in parallel; indexed slices keep catalog order in the
	// output regardless of completion order.
	catAlerts := make([][]model.Alert, len(selected))
	catErrs := make([]error, len(selected))
	var wg sync.WaitGroup
	for i, cat := range selected {
		wg.Add(1)
		go func(i int, cat Category) {
			defer wg.Done()
			if err := ctx.Err(); err != nil {
				catErrs[i] = err
				return
			}
			catAlerts[i], catErrs[i] = r.runCategory(ctx, cat, ts, rel)
		}(i, cat)
	}
	wg.Wait()

	out := &Output{}
	for i, cat := range selected {
		if catErrs[i] != nil {
			return nil, fmt.Errorf("category %s: %w", cat.Name, catErrs[i])
		}
		summary := model.Summarize(cat.Name, catAlerts[i])
		out.Alerts = append(out.Alerts, catAlerts[i]...)
		out.Summaries = append(out.Summaries, summary)
		r.logger.Infow("category complete",
			"category", cat.Name,
			"alerts", summary.TotalAlerts,
			"unique_accounts", summary.UniqueAccounts)
	}

	sortAlerts(out.Alerts)
	if r.writer != nil {
		if err := r.writeResults(out); err != nil {
			return nil, err
		}
	}
	if r.sink != nil && len(out.Alerts) > 0 {
		if err := r.sink.SaveAlerts(ctx, out.Alerts); err != nil {
			return nil, fmt.Errorf("persist alerts: %w", err)
		}
	}
	return out, nil
}

func (r *Runner) selectCategories(only []string) ([]Category, error) {
	if len(only) == 0 {
		return r.catalog, nil
	}
	byName := make(map[string]Category, len(r.catalog))
	for _, cat := range r.catalog {
		byName[cat.Name] = cat
	}
	var selected []Category
	for _, name := range only {
		cat, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown category %q", name)
		}
		selected = append(selected, cat)
	}
	return selected, nil
}

// runCategory fans the category's rules out over the shared snapshot. The
// snapshot is read-only so rules evaluate concurrently without locks; only
// the collected output is guarded. A failing rule is logged and dropped so
// it never suppresses the other rules' alerts.
func (r *Runner) runCategory(ctx context.Context, cat Category, ts *model.TableSet, rel *relation.Index) ([]model.Alert, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		alerts  []model.Alert
		results []*rules.Result
	)
	for _, rule := range cat.Rules {
		wg.Add(1)
		go func(rule rules.Rule) {
			defer wg.Done()
			rulesEvaluated.WithLabelValues(cat.Name, rule.ID()).Inc()
			res, err := rule.Evaluate(ts, rel)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil && apperrors.IsSkippable(err):
				rulesSkipped.WithLabelValues(cat.Name, rule.ID()).Inc()
				r.logger.Infow("rule skipped", "category", cat.Name, "rule", rule.ID(), "reason", err.Error())
			case err != nil:
				ruleFailures.WithLabelValues(cat.Name, rule.ID()).Inc()
				r.logger.Warnw("rule failed", "category", cat.Name, "rule", rule.ID(), "error", err)
			default:
				alerts = append(alerts, res.Alerts...)
				results = append(results, res)
			}
		}(rule)
	}
	wg.Wait()

	for _, a := range alerts {
		alertsEmitted.WithLabelValues(cat.Name, string(a.Severity)).Inc()
	}
	if cat.SaveIntermediates {
		// Deterministic audit output: one candidate table per rule.
		csink, _ := r.sink.(CandidateSink)
		sort.Slice(results, func(i, j int) bool { return results[i].RuleID < results[j].RuleID })
		for _, res := range results {
			cands := make([]rules.Candidate, len(res.Candidates))
			copy(cands, res.Candidates)
			sort.Slice(cands, func(i, j int) bool {
				if cands[i].Entity != cands[j].Entity {
					return cands[i].Entity < cands[j].Entity
				}
				return cands[i].Timestamp.Before(cands[j].Timestamp)
			})
			if r.writer != nil {
				rows := make([]map[string]interface{}, 0, len(cands))
				for _, c := range cands {
					rows = append(rows, c.Row())
				}
				if err := r.writer.WriteTable(cat.Name, tables.StageIntermediate, res.RuleID+"_candidates", rows); err != nil {
					return nil, fmt.Errorf("write candidates %s/%s: %w", cat.Name, res.RuleID, err)
				}
			}
			if csink != nil {
				if err := csink.SaveCandidates(ctx, cat.Name, res.RuleID, cands); err != nil {
					return nil, fmt.Errorf("persist candidates %s/%s: %w", cat.Name, res.RuleID, err)
				}
			}
		}
	}
	return alerts, nil
}

func (r *Runner) writeResults(out *Output) error {
	rows := make([]map[string]interface{}, 0, len(out.Alerts))
	for _, a := range out.Alerts {
		rows = append(rows, map[string]interface{}{
			"alert_id":         a.AlertID,
			"category":         a.Category,
			"rule_id":          a.RuleID,
			"severity":         string(a.Severity),
			"timestamp":        a.Timestamp,
			"account_ids":      a.AccountIDs,
			"instrument_ids":   a.InstrumentIDs,
			"description":      a.Description,
			"confidence_score": a.ConfidenceScore,
		})
	}
	if err := r.writer.WriteTable("run", tables.StageResults, "alerts", rows); err != nil {
		return fmt.Errorf("write alerts: %w", err)
	}
	srows := make([]map[string]interface{}, 0, len(out.Summaries))
	for _, s := range out.Summaries {
		srows = append(srows, map[string]interface{}{
			"category":        s.Category,
			"total_alerts":    s.TotalAlerts,
			"high":            s.BySeverity[model.SeverityHigh],
			"medium":          s.BySeverity[model.SeverityMedium],
			"low":             s.BySeverity[model.SeverityLow],
			"avg_confidence":  s.AvgConfidence,
			"unique_accounts": s.UniqueAccounts,
		})
	}
	if err := r.writer.WriteTable("run", tables.StageResults, "summary", srows); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// sortAlerts orders alerts so repeated runs over identical input produce
// identical output apart from the random alert ID suffix.
func sortAlerts(alerts []model.Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.Category != b.Category {
			return a.Category < b.Category
		}
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		return a.Description < b.Description
	})
}
