package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Ledger is the append-only change history: one JSON array per trial and
// one per target. Appends rewrite the whole array; unreadable prior
// content is discarded and a fresh sequence is started, so a single
// corrupt file can never wedge future runs.
type Ledger struct {
	dir    string
	logger *logrus.Logger
	now    func() time.Time
}

func NewLedger(dir string, logger *logrus.Logger) *Ledger {
	return &Ledger{dir: dir, logger: logger, now: time.Now}
}

func (l *Ledger) recordPath(id string) string {
	return filepath.Join(l.dir, id+"_history.json")
}

func (l *Ledger) groupPath(name string) string {
	return filepath.Join(l.dir, "target_"+strings.ToLower(name)+".json")
}

// ReadRecordEvents returns the event sequence for a trial, oldest first.
// Missing or unreadable storage reads as an empty sequence.
func (l *Ledger) ReadRecordEvents(id string) []ChangeEvent {
	return readTolerant[ChangeEvent](l.logger, l.recordPath(id))
}

// ReadGroupEvents returns the event sequence for a target, oldest first.
func (l *Ledger) ReadGroupEvents(name string) []GroupEvent {
	return readTolerant[GroupEvent](l.logger, l.groupPath(name))
}

// readTolerant discards the whole file on any decode failure. Partially
// decoded elements from a shape-mismatched array must never survive.
func readTolerant[T any](logger *logrus.Logger, path string) []T {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var events []T
	if err := json.Unmarshal(b, &events); err != nil {
		logger.WithField("path", path).Warnf("discarding unreadable history: %v", err)
		return nil
	}
	return events
}

// AppendRecordEvent appends a timestamped entry to a trial's ledger,
// creating it on first call.
func (l *Ledger) AppendRecordEvent(id, description string) error {
	events := l.ReadRecordEvents(id)
	events = append(events, ChangeEvent{
		Timestamp: l.now().Format(timeLayout),
		Diff:      description,
	})
	return l.writeEvents(l.recordPath(id), events)
}

// AppendGroupEvent records a target-level milestone. An empty ledger gets
// the initial-collection entry; afterwards an entry is added only when
// some report changed in this run. Anything else is a strict no-op.
func (l *Ledger) AppendGroupEvent(name string, reports []Report) error {
	events := l.ReadGroupEvents(name)

	var message string
	if len(events) == 0 {
		message = fmt.Sprintf("Initial data collection: %d trials found.", len(reports))
	} else {
		var changed []string
		for _, r := range reports {
			if r.ChangedThisRun {
				changed = append(changed, r.ID)
			}
		}
		if len(changed) == 0 {
			return nil
		}
		message = fmt.Sprintf("Changes detected in %d trials: %s", len(changed), strings.Join(changed, ", "))
	}

	events = append(events, GroupEvent{
		Timestamp: l.now().Format(timeLayout),
		Event:     message,
	})
	return l.writeEvents(l.groupPath(name), events)
}

func (l *Ledger) writeEvents(path string, events any) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b)
}
