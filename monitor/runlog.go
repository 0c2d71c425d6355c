package monitor

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

// MonitorRun is the durable record of one full monitoring run.
type MonitorRun struct {
	ID           uint      `gorm:"primaryKey"`
	StartedAt    time.Time `gorm:"index"`
	FinishedAt   *time.Time
	TargetCount  int
	TrialCount   int
	ChangedCount int
	ErrorCount   int
	LastError    string `gorm:"type:text"`
}

// FetchEntry is the durable record of one fetch attempt within a run.
type FetchEntry struct {
	ID           uint      `gorm:"primaryKey"`
	RunID        uint      `gorm:"index"`
	TrialID      string    `gorm:"index;size:32"`
	Target       string    `gorm:"index;size:128"`
	FetchedAt    time.Time `gorm:"index"`
	OK           bool      `gorm:"index"`
	UsedSnapshot bool
	Changed      bool   `gorm:"index"`
	Error        string `gorm:"type:text"`
	DurationMs   int64
}

// RunLog records run and fetch outcomes in SQLite. A nil *RunLog is a
// valid no-op logger so the runner works without one configured.
type RunLog struct {
	db *gorm.DB
}

func OpenRunLog(path string) (*RunLog, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&MonitorRun{}, &FetchEntry{}); err != nil {
		return nil, err
	}
	return &RunLog{db: db}, nil
}

func (rl *RunLog) Close() error {
	if rl == nil || rl.db == nil {
		return nil
	}
	sqlDB, err := rl.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// BeginRun inserts the run row and returns its id. Zero when disabled.
func (rl *RunLog) BeginRun(startedAt time.Time) uint {
	if rl == nil || rl.db == nil {
		return 0
	}
	run := MonitorRun{StartedAt: startedAt}
	if err := rl.db.Create(&run).Error; err != nil {
		return 0
	}
	return run.ID
}

// RecordFetch archives one fetch attempt. Best-effort.
func (rl *RunLog) RecordFetch(e FetchEntry) {
	if rl == nil || rl.db == nil {
		return
	}
	_ = rl.db.Create(&e).Error
}

// FinishRun closes out the run row with aggregate counters.
func (rl *RunLog) FinishRun(runID uint, summary RunSummary, runErr error) {
	if rl == nil || rl.db == nil || runID == 0 {
		return
	}
	now := time.Now()
	updates := map[string]any{
		"finished_at":   &now,
		"target_count":  summary.Targets,
		"trial_count":   summary.Trials,
		"changed_count": summary.Changed,
		"error_count":   summary.Errors,
	}
	if runErr != nil {
		updates["last_error"] = runErr.Error()
	}
	_ = rl.db.Model(&MonitorRun{}).Where("id = ?", runID).Updates(updates).Error
}

// RecentRuns returns the most recent runs, newest first.
func (rl *RunLog) RecentRuns(limit int) ([]MonitorRun, error) {
	if rl == nil || rl.db == nil {
		return nil, nil
	}
	var runs []MonitorRun
	err := rl.db.Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// FetchHistory returns fetch attempts for one trial, newest first.
func (rl *RunLog) FetchHistory(trialID string, limit int) ([]FetchEntry, error) {
	if rl == nil || rl.db == nil {
		return nil, nil
	}
	var entries []FetchEntry
	err := rl.db.Where("trial_id = ?", trialID).Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}
