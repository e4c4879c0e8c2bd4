// Command tradewatch runs one batch surveillance pass over a directory of
// historical trading tables and reports the alerts it finds.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/finsentry/tradewatch/internal/config"
	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/runner"
	"github.com/finsentry/tradewatch/internal/store"
	"github.com/finsentry/tradewatch/internal/tables"
	"github.com/finsentry/tradewatch/pkg/logger"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to YAML config (defaults apply when empty)")
		dataDir    = flag.String("data", "", "input table directory (overrides config)")
		auditDir   = flag.String("audit", "", "audit output directory (overrides config)")
		dbDSN      = flag.String("db", "", "alert store DSN, sqlite: or postgres: prefixed (overrides config)")
		categories = flag.String("categories", "", "comma-separated category filter, empty runs all")
	)
	flag.Parse()

	if err := run(*configPath, *dataDir, *auditDir, *dbDSN, *categories); err != nil {
		fmt.Fprintln(os.Stderr, "tradewatch:", err)
		os.Exit(1)
	}
}

func run(configPath, dataDir, auditDir, dbDSN, categories string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if auditDir != "" {
		cfg.AuditDir = auditDir
	}
	if dbDSN != "" {
		cfg.DatabaseDSN = dbDSN
	}
	if cfg.DataDir == "" {
		return fmt.Errorf("no data directory: set -data or data_dir in config")
	}

	base, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer base.Sync() //nolint:errcheck
	log := logger.NewComponentLogger(base, "tradewatch")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := tables.NewDirProvider(cfg.DataDir, logger.NewComponentLogger(base, "tables"))
	var writer tables.Writer
	if cfg.AuditDir != "" {
		writer = tables.NewDirWriter(cfg.AuditDir, logger.NewComponentLogger(base, "audit"))
	}
	var sink runner.AlertSink
	if cfg.DatabaseDSN != "" {
		st, err := store.Open(cfg.DatabaseDSN, logger.NewComponentLogger(base, "store"))
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		sink = st
	}

	catalog := runner.Categories(cfg, logger.NewComponentLogger(base, "rules"))
	r := runner.New(provider, writer, sink, catalog, logger.NewComponentLogger(base, "runner"))

	var only []string
	if categories != "" {
		only = strings.Split(categories, ",")
	}
	out, err := r.Run(ctx, only)
	if err != nil {
		return err
	}

	for _, s := range out.Summaries {
		log.Infow("summary",
			"category", s.Category,
			"alerts", s.TotalAlerts,
			"high", s.BySeverity[model.SeverityHigh],
			"medium", s.BySeverity[model.SeverityMedium],
			"low", s.BySeverity[model.SeverityLow],
			"avg_confidence", s.AvgConfidence)
	}
	log.Infow("run complete", "total_alerts", len(out.Alerts))
	return nil
}
