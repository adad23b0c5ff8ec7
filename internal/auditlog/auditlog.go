// Package auditlog implements the registry reload audit log (SPEC_FULL.md
// supplement 4): an append-only gorm-backed table recording every
// config.Registry reload (initial load or SIGHUP-triggered). Grounded on
// the teacher's internal/scheduler/repository/server_repository.go
// gorm-with-context pattern. Gracefully disabled when no Postgres DSN is
// configured, so a registry reload never fails because the audit sink is
// unavailable.
package auditlog

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ReloadEvent is one row of the registry_reload_events table.
type ReloadEvent struct {
	ID           uint      `gorm:"primaryKey"`
	ReloadedAt   time.Time `gorm:"index"`
	CheckCount   int
	HandlerCount int
	MutatorCount int
	FilterCount  int
	Error        string
}

func (ReloadEvent) TableName() string { return "registry_reload_events" }

// Logger is the narrow logging surface the audit log needs.
type Logger interface {
	Infow(msg string, keysAndValues ...any)
	Errorw(msg string, keysAndValues ...any)
}

// Log appends registry reload events to Postgres. A nil *gorm.DB disables
// logging entirely — Record becomes a no-op rather than an error, since an
// unreachable audit sink must never block a registry reload.
type Log struct {
	db  *gorm.DB
	log Logger
}

func New(db *gorm.DB, log Logger) *Log {
	return &Log{db: db, log: log}
}

// Migrate creates the audit table. Safe to call on every startup; a nil db
// is a no-op.
func (l *Log) Migrate() error {
	if l.db == nil {
		return nil
	}
	if err := l.db.AutoMigrate(&ReloadEvent{}); err != nil {
		return fmt.Errorf("auditlog.Migrate: %w", err)
	}
	return nil
}

// Record appends one reload event. Failures are logged, not returned —
// the registry reload that triggered this call has already succeeded (or
// failed) on its own terms by the time Record runs.
func (l *Log) Record(ctx context.Context, checkCount, handlerCount, mutatorCount, filterCount int, reloadErr error) {
	if l.db == nil {
		return
	}
	event := ReloadEvent{
		ReloadedAt:   time.Now(),
		CheckCount:   checkCount,
		HandlerCount: handlerCount,
		MutatorCount: mutatorCount,
		FilterCount:  filterCount,
	}
	if reloadErr != nil {
		event.Error = reloadErr.Error()
	}
	if result := l.db.WithContext(ctx).Create(&event); result.Error != nil {
		l.log.Errorw("auditlog failed to record registry reload", "error", result.Error)
		return
	}
	l.log.Infow("recorded registry reload", "checks", checkCount, "handlers", handlerCount, "mutators", mutatorCount, "filters", filterCount)
}
