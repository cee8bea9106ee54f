// Package audit implements the append-only terminal-job ledger (SPEC_FULL.md
// §4 item 3): every terminal transition is recorded independent of the
// in-memory registry, so operators can inspect job history after Reap
// evicts the in-memory record. Not exposed over HTTP.
package audit

import (
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cardpipe/cardpipe/internal/jobs/registry"
	"github.com/cardpipe/cardpipe/internal/platform/logger"
)

// Entry is one terminal-job row.
type Entry struct {
	ID             uint   `gorm:"primarykey"`
	JobID          string `gorm:"index"`
	SourceFilename string
	State          string
	ErrorKind      string
	ErrorMessage   string
	SubmittedAt    time.Time
	CompletedAt    time.Time
}

// Ledger wraps a *gorm.DB scoped to the Entry table.
type Ledger struct {
	db  *gorm.DB
	log *logger.Logger
}

// Open connects to (and migrates) a local sqlite database at path.
func Open(path string, log *logger.Logger) (*Ledger, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Ledger{db: db, log: log.With("component", "audit_ledger")}, nil
}

// Append writes one terminal-state row, best-effort: ledger failures never
// affect job outcomes, only operational forensics.
func (l *Ledger) Append(rec *registry.Record) {
	if l == nil {
		return
	}
	view, err := l.viewOf(rec)
	if err != nil {
		l.log.Warn("failed to snapshot job record for audit", "error", err)
		return
	}
	entry := Entry{
		JobID:          view.ID,
		SourceFilename: view.SourceFilename,
		State:          string(view.State),
		SubmittedAt:    view.SubmittedAt,
	}
	if view.CompletedAt != nil {
		entry.CompletedAt = *view.CompletedAt
	}
	if view.Error != nil {
		entry.ErrorKind = view.Error.Kind
		entry.ErrorMessage = view.Error.Message
	}
	if err := l.db.Create(&entry).Error; err != nil {
		l.log.Warn("failed to append audit entry", "error", err, "job_id", view.ID)
	}
}

func (l *Ledger) viewOf(rec *registry.Record) (registry.View, error) {
	return rec.Snapshot(), nil
}
