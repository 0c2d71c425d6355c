package monitor

import "time"

// timeLayout is the wire format for ledger timestamps.
const timeLayout = "2006-01-02 15:04:05"

// initialCollectionEvent is the literal first entry of every record ledger.
const initialCollectionEvent = "Initial data collection"

// changedWindow is the trailing lookback used for the Changed monitor status.
const changedWindow = 30 * 24 * time.Hour

// Record is one fetched study document: an opaque nested JSON structure.
// The detector only privileges the protocolSection sub-structure.
type Record map[string]any

// ProtocolSection returns the substantive sub-structure of the record.
// A missing or malformed section is an empty map, never an error.
func (r Record) ProtocolSection() map[string]any {
	if m, ok := r["protocolSection"].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// ChangeEvent is one immutable entry of a per-trial ledger.
type ChangeEvent struct {
	Timestamp string `json:"timestamp"`
	Diff      string `json:"diff"`
}

// IsInitial reports whether the event is the initial-collection marker.
func (e ChangeEvent) IsInitial() bool {
	return e.Diff == initialCollectionEvent
}

// Time parses the event timestamp. Zero time when unparseable.
func (e ChangeEvent) Time() time.Time {
	t, err := time.ParseInLocation(timeLayout, e.Timestamp, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GroupEvent is one immutable entry of a per-target ledger.
type GroupEvent struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
}

// Report is the per-trial, per-run processing outcome.
// ChangedThisRun and ChangedRecently are kept separate; MonitorStatus is
// their collapsed presentation value.
type Report struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Target         string `json:"target"`
	Sponsor        string `json:"sponsor"`
	Status         string `json:"status"`
	Conditions     string `json:"conditions"`
	Phases         string `json:"phases"`
	LastUpdated    string `json:"last_updated"`
	StudyStart     string `json:"study_start"`
	StudyEnd       string `json:"study_end"`
	Enrollment     any    `json:"enrollment"`
	PrimaryOutcome string `json:"primary_outcome"`
	MonitorStatus  string `json:"monitor_status"`
	LastChange     string `json:"last_monitored_change"`
	Details        string `json:"details"`

	ChangedThisRun  bool `json:"changed_today"`
	ChangedRecently bool `json:"-"`
}

// TargetSummary is one row of the global targets_summary.json.
type TargetSummary struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	TrialCount   int    `json:"trial_count"`
	ChangedCount int    `json:"changed_count"`
}
