package monitor

import (
	"fmt"
	"strings"
	"time"
)

const notAvailable = "N/A"

// dig walks nested maps by key path. Nil when any step is missing or not
// a map.
func dig(m map[string]any, keys ...string) any {
	var cur any = m
	for _, k := range keys {
		mm, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = mm[k]
	}
	return cur
}

func digString(m map[string]any, keys ...string) string {
	v := dig(m, keys...)
	if v == nil {
		return notAvailable
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return notAvailable
		}
		return s
	}
	return fmt.Sprint(v)
}

// joinStringList renders a list of scalar values as "a, b, c".
func joinStringList(v any) string {
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return notAvailable
	}
	parts := make([]string, len(list))
	for i, item := range list {
		parts[i] = fmt.Sprint(item)
	}
	return strings.Join(parts, ", ")
}

// BuildReport assembles the per-trial processing report from the fetched
// record, the detector outcome and the trial's ledger.
//
// The status collapse: MonitorStatus is "Changed" when a difference was
// found in this run or when any non-initial ledger event falls inside the
// trailing 30-day window from now. The two conditions stay available
// separately as ChangedThisRun and ChangedRecently.
func BuildReport(ref TrialRef, targetName string, rec Record, changed bool, diffText string, events []ChangeEvent, now time.Time) Report {
	proto := rec.ProtocolSection()

	detail := digString(proto, "descriptionModule", "detailedDescription")
	if detail == notAvailable {
		detail = digString(proto, "descriptionModule", "briefSummary")
	}

	enrollment := dig(proto, "designModule", "enrollmentInfo", "count")
	if enrollment == nil {
		enrollment = notAvailable
	}

	primaryOutcome := notAvailable
	if outcomes, ok := dig(proto, "outcomesModule", "primaryOutcomes").([]any); ok && len(outcomes) > 0 {
		if first, ok := outcomes[0].(map[string]any); ok {
			primaryOutcome = digString(first, "measure")
		}
	}

	rep := Report{
		ID:             ref.ID,
		Name:           ref.Name,
		Target:         targetName,
		Sponsor:        digString(proto, "sponsorCollaboratorsModule", "leadSponsor", "name"),
		Status:         digString(proto, "statusModule", "overallStatus"),
		Conditions:     joinStringList(dig(proto, "conditionsModule", "conditions")),
		Phases:         joinStringList(dig(proto, "designModule", "phases")),
		LastUpdated:    digString(proto, "statusModule", "lastUpdateSubmitDate"),
		StudyStart:     digString(proto, "statusModule", "startDateStruct", "date"),
		StudyEnd:       digString(proto, "statusModule", "completionDateStruct", "date"),
		Enrollment:     enrollment,
		PrimaryOutcome: primaryOutcome,
		MonitorStatus:  "No Change",
		LastChange:     "No changes yet",
		Details:        detail,
		ChangedThisRun: changed,
	}

	rep.ChangedRecently = changedWithin(events, now, changedWindow)

	if changed {
		rep.LastChange = now.Format("2006-01-02")
		rep.Details = fmt.Sprintf("**[CHANGES FOUND]**\n%s\n\n---\n%s", diffText, detail)
	} else if len(events) > 0 {
		last := events[len(events)-1]
		if fields := strings.Fields(last.Timestamp); len(fields) > 0 {
			rep.LastChange = fields[0]
		}
	}

	if rep.ChangedThisRun || rep.ChangedRecently {
		rep.MonitorStatus = "Changed"
	}
	return rep
}

// changedWithin reports whether any non-initial event falls inside the
// trailing window ending at now.
func changedWithin(events []ChangeEvent, now time.Time, window time.Duration) bool {
	cutoff := now.Add(-window)
	for _, e := range events {
		if e.IsInitial() {
			continue
		}
		t := e.Time()
		if t.IsZero() {
			continue
		}
		if t.After(cutoff) && !t.After(now) {
			return true
		}
	}
	return false
}
