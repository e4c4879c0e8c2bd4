// Package store persists run output to a relational database for case
// management. SQLite serves local runs, Postgres shared deployments; the
// DSN prefix selects the driver.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/finsentry/tradewatch/internal/model"
	"github.com/finsentry/tradewatch/internal/rules"
)

// AlertRecord is the persisted form of one alert. Entity sets and evidence
// are stored as JSON text so the schema stays portable across drivers.
type AlertRecord struct {
	ID              uint      `gorm:"primaryKey"`
	AlertID         string    `gorm:"uniqueIndex;size:128;not null"`
	Category        string    `gorm:"index;size:64;not null"`
	RuleID          string    `gorm:"index;size:64;not null"`
	Severity        string    `gorm:"size:16;not null"`
	AlertTime       time.Time `gorm:"index;not null"`
	AccountIDs      string    `gorm:"type:text"`
	InstrumentIDs   string    `gorm:"type:text"`
	Description     string    `gorm:"type:text"`
	Evidence        string    `gorm:"type:text"`
	ConfidenceScore float64   `gorm:"not null"`
	CreatedAt       time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (AlertRecord) TableName() string { return "surveillance_alerts" }

// CandidateRecord is one persisted intermediate candidate row, keyed by the
// rule that produced it for audit provenance.
type CandidateRecord struct {
	ID            uint      `gorm:"primaryKey"`
	Category      string    `gorm:"index;size:64;not null"`
	RuleID        string    `gorm:"index;size:64;not null"`
	Entity        string    `gorm:"index;size:256;not null"`
	CandidateTime time.Time `gorm:"index"`
	AccountIDs    string    `gorm:"type:text"`
	InstrumentIDs string    `gorm:"type:text"`
	Fields        string    `gorm:"type:text"`
	CreatedAt     time.Time
}

// TableName keeps the table name stable across gorm naming strategies.
func (CandidateRecord) TableName() string { return "surveillance_candidates" }

// Store wraps the gorm handle.
type Store struct {
	db     *gorm.DB
	logger *zap.SugaredLogger
}

// Open connects using the DSN prefix to pick the driver: "sqlite:<path>" or
// "postgres:<dsn>". The schema is migrated on open.
func Open(dsn string, logger *zap.SugaredLogger) (*Store, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(dsn, "sqlite:"):
		dialector = sqlite.Open(strings.TrimPrefix(dsn, "sqlite:"))
	case strings.HasPrefix(dsn, "postgres:"):
		dialector = postgres.Open(strings.TrimPrefix(dsn, "postgres:"))
	default:
		return nil, fmt.Errorf("store: unsupported dsn %q, expected sqlite: or postgres: prefix", dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	if err := db.AutoMigrate(&AlertRecord{}, &CandidateRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// SaveAlerts writes the batch in one transaction.
func (s *Store) SaveAlerts(ctx context.Context, alerts []model.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	records := make([]AlertRecord, 0, len(alerts))
	for _, a := range alerts {
		rec, err := toRecord(a)
		if err != nil {
			return err
		}
		records = append(records, rec)
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("store: save alerts: %w", err)
	}
	s.logger.Infow("alerts persisted", "count", len(records))
	return nil
}

// SaveCandidates writes one rule's intermediate candidate rows.
func (s *Store) SaveCandidates(ctx context.Context, category, ruleID string, cands []rules.Candidate) error {
	if len(cands) == 0 {
		return nil
	}
	records := make([]CandidateRecord, 0, len(cands))
	for _, c := range cands {
		accounts, err := json.Marshal(c.AccountIDs)
		if err != nil {
			return fmt.Errorf("store: encode candidate accounts: %w", err)
		}
		instruments, err := json.Marshal(c.InstrumentIDs)
		if err != nil {
			return fmt.Errorf("store: encode candidate instruments: %w", err)
		}
		fields, err := json.Marshal(c.Fields)
		if err != nil {
			return fmt.Errorf("store: encode candidate fields: %w", err)
		}
		records = append(records, CandidateRecord{
			Category:      category,
			RuleID:        ruleID,
			Entity:        c.Entity,
			CandidateTime: c.Timestamp,
			AccountIDs:    string(accounts),
			InstrumentIDs: string(instruments),
			Fields:        string(fields),
		})
	}
	if err := s.db.WithContext(ctx).Create(&records).Error; err != nil {
		return fmt.Errorf("store: save candidates: %w", err)
	}
	return nil
}

// AlertsByCategory loads persisted alerts for one category, newest first.
func (s *Store) AlertsByCategory(ctx context.Context, category string, limit int) ([]model.Alert, error) {
	var records []AlertRecord
	q := s.db.WithContext(ctx).Where("category = ?", category).Order("alert_time desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("store: load alerts: %w", err)
	}
	alerts := make([]model.Alert, 0, len(records))
	for _, rec := range records {
		a, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(a model.Alert) (AlertRecord, error) {
	accounts, err := json.Marshal(a.AccountIDs)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("store: encode accounts: %w", err)
	}
	instruments, err := json.Marshal(a.InstrumentIDs)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("store: encode instruments: %w", err)
	}
	evidence, err := json.Marshal(a.Evidence)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("store: encode evidence: %w", err)
	}
	return AlertRecord{
		AlertID:         a.AlertID,
		Category:        a.Category,
		RuleID:          a.RuleID,
		Severity:        string(a.Severity),
		AlertTime:       a.Timestamp,
		AccountIDs:      string(accounts),
		InstrumentIDs:   string(instruments),
		Description:     a.Description,
		Evidence:        string(evidence),
		ConfidenceScore: a.ConfidenceScore,
	}, nil
}

func fromRecord(rec AlertRecord) (model.Alert, error) {
	a := model.Alert{
		AlertID:         rec.AlertID,
		Category:        rec.Category,
		RuleID:          rec.RuleID,
		Severity:        model.Severity(rec.Severity),
		Timestamp:       rec.AlertTime,
		Description:     rec.Description,
		ConfidenceScore: rec.ConfidenceScore,
	}
	if rec.AccountIDs != "" {
		if err := json.Unmarshal([]byte(rec.AccountIDs), &a.AccountIDs); err != nil {
			return model.Alert{}, fmt.Errorf("store: decode accounts: %w", err)
		}
	}
	if rec.InstrumentIDs != "" {
		if err := json.Unmarshal([]byte(rec.InstrumentIDs), &a.InstrumentIDs); err != nil {
			return model.Alert{}, fmt.Errorf("store: decode instruments: %w", err)
		}
	}
	if rec.Evidence != "" {
		if err := json.Unmarshal([]byte(rec.Evidence), &a.Evidence); err != nil {
			return model.Alert{}, fmt.Errorf("store: decode evidence: %w", err)
		}
	}
	return a, nil
}
