package monitor

import (
	"strings"
	"testing"
	"time"
)

func sampleRecord() Record {
	return Record{
		"protocolSection": map[string]any{
			"identificationModule": map[string]any{
				"nctId":      "NCT12345678",
				"briefTitle": "Test Trial for Advanced Melanoma",
			},
			"statusModule": map[string]any{
				"overallStatus":        "RECRUITING",
				"lastUpdateSubmitDate": "2026-07-15",
				"startDateStruct":      map[string]any{"date": "2026-01-10"},
				"completionDateStruct": map[string]any{"date": "2027-12-31"},
			},
			"sponsorCollaboratorsModule": map[string]any{
				"leadSponsor": map[string]any{"name": "Test University"},
			},
			"conditionsModule": map[string]any{
				"conditions": []any{"Cancer", "Melanoma"},
			},
			"designModule": map[string]any{
				"phases":         []any{"PHASE2"},
				"enrollmentInfo": map[string]any{"count": float64(100)},
			},
			"outcomesModule": map[string]any{
				"primaryOutcomes": []any{
					map[string]any{"measure": "Overall Survival"},
				},
			},
			"descriptionModule": map[string]any{
				"briefSummary":        "A short summary.",
				"detailedDescription": "A study of a novel agent in melanoma.",
			},
		},
	}
}

func TestBuildReport_ExtractsFields(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	ref := TrialRef{ID: "NCT12345678", Name: "Test Trial"}

	rep := BuildReport(ref, "CCR8", sampleRecord(), false, "", nil, now)

	if rep.ID != "NCT12345678" || rep.Name != "Test Trial" || rep.Target != "CCR8" {
		t.Fatalf("identity fields wrong: %+v", rep)
	}
	if rep.Sponsor != "Test University" {
		t.Fatalf("sponsor: %q", rep.Sponsor)
	}
	if rep.Status != "RECRUITING" {
		t.Fatalf("status: %q", rep.Status)
	}
	if rep.Conditions != "Cancer, Melanoma" {
		t.Fatalf("conditions: %q", rep.Conditions)
	}
	if rep.Phases != "PHASE2" {
		t.Fatalf("phases: %q", rep.Phases)
	}
	if rep.Enrollment != float64(100) {
		t.Fatalf("enrollment: %v", rep.Enrollment)
	}
	if rep.PrimaryOutcome != "Overall Survival" {
		t.Fatalf("primary outcome: %q", rep.PrimaryOutcome)
	}
	if rep.StudyStart != "2026-01-10" || rep.StudyEnd != "2027-12-31" {
		t.Fatalf("study dates: %q / %q", rep.StudyStart, rep.StudyEnd)
	}
	if rep.Details != "A study of a novel agent in melanoma." {
		t.Fatalf("details: %q", rep.Details)
	}
	if rep.MonitorStatus != "No Change" || rep.LastChange != "No changes yet" {
		t.Fatalf("status fields: %q / %q", rep.MonitorStatus, rep.LastChange)
	}
}

func TestBuildReport_MissingFieldsDefaultToNA(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	rep := BuildReport(TrialRef{ID: "NCT0"}, "T", Record{}, false, "", nil, now)

	for name, got := range map[string]string{
		"sponsor":    rep.Sponsor,
		"status":     rep.Status,
		"conditions": rep.Conditions,
		"phases":     rep.Phases,
		"outcome":    rep.PrimaryOutcome,
		"details":    rep.Details,
	} {
		if got != notAvailable {
			t.Errorf("%s: expected %q, got %q", name, notAvailable, got)
		}
	}
	if rep.Enrollment != notAvailable {
		t.Errorf("enrollment: expected %q, got %v", notAvailable, rep.Enrollment)
	}
}

func TestBuildReport_FallsBackToBriefSummary(t *testing.T) {
	rec := sampleRecord()
	proto := rec.ProtocolSection()
	desc := proto["descriptionModule"].(map[string]any)
	delete(desc, "detailedDescription")

	rep := BuildReport(TrialRef{ID: "NCT1"}, "T", rec, false, "", nil, time.Now())
	if rep.Details != "A short summary." {
		t.Fatalf("expected brief summary fallback, got %q", rep.Details)
	}
}

func TestBuildReport_ChangeAnnotatesDetails(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	diffText := "Field `statusModule_overallStatus` changed from `RECRUITING` to `COMPLETED`"

	rep := BuildReport(TrialRef{ID: "NCT2"}, "T", sampleRecord(), true, diffText, nil, now)

	if rep.MonitorStatus != "Changed" || !rep.ChangedThisRun {
		t.Fatalf("expected Changed status: %+v", rep)
	}
	if rep.LastChange != "2026-08-01" {
		t.Fatalf("last change: %q", rep.LastChange)
	}
	if !strings.HasPrefix(rep.Details, "**[CHANGES FOUND]**\n") {
		t.Fatalf("details missing change banner: %q", rep.Details)
	}
	if !strings.Contains(rep.Details, diffText) {
		t.Fatalf("details missing diff text: %q", rep.Details)
	}
	if !strings.Contains(rep.Details, "\n\n---\nA study of a novel agent in melanoma.") {
		t.Fatalf("details missing original description: %q", rep.Details)
	}
}

func TestBuildReport_RecentEventKeepsStatusChanged(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	events := []ChangeEvent{
		{Timestamp: "2026-06-01 00:00:00", Diff: initialCollectionEvent},
		{Timestamp: now.Add(-10 * 24 * time.Hour).Format(timeLayout), Diff: "Field `x` changed from `a` to `b`"},
	}

	rep := BuildReport(TrialRef{ID: "NCT3"}, "T", sampleRecord(), false, "", events, now)

	if rep.MonitorStatus != "Changed" {
		t.Fatalf("expected Changed from 10-day-old event, got %q", rep.MonitorStatus)
	}
	if rep.ChangedThisRun {
		t.Fatal("no change was found in this run")
	}
	if !strings.HasPrefix(rep.Details, "A study") {
		t.Fatalf("details must stay unannotated: %q", rep.Details)
	}
	if rep.LastChange != now.Add(-10*24*time.Hour).Format("2006-01-02") {
		t.Fatalf("last change should be the event date, got %q", rep.LastChange)
	}
}

func TestBuildReport_OldEventFallsOutOfWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	events := []ChangeEvent{
		{Timestamp: "2026-01-01 00:00:00", Diff: initialCollectionEvent},
		{Timestamp: now.Add(-40 * 24 * time.Hour).Format(timeLayout), Diff: "Field `x` changed from `a` to `b`"},
	}

	rep := BuildReport(TrialRef{ID: "NCT4"}, "T", sampleRecord(), false, "", events, now)

	if rep.MonitorStatus != "No Change" {
		t.Fatalf("40-day-old event must not count, got %q", rep.MonitorStatus)
	}
	if rep.LastChange != now.Add(-40*24*time.Hour).Format("2006-01-02") {
		t.Fatalf("last change should still show the old date, got %q", rep.LastChange)
	}
}

func TestBuildReport_InitialEventNeverCountsAsChange(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	events := []ChangeEvent{
		{Timestamp: now.Add(-time.Hour).Format(timeLayout), Diff: initialCollectionEvent},
	}

	rep := BuildReport(TrialRef{ID: "NCT5"}, "T", sampleRecord(), false, "", events, now)

	if rep.MonitorStatus != "No Change" {
		t.Fatalf("initial collection must not flip status, got %q", rep.MonitorStatus)
	}
}

func TestBuildReport_MalformedTimestampSkipped(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.Local)
	events := []ChangeEvent{
		{Timestamp: "yesterday-ish", Diff: "Field `x` changed from `a` to `b`"},
	}

	rep := BuildReport(TrialRef{ID: "NCT6"}, "T", sampleRecord(), false, "", events, now)
	if rep.MonitorStatus != "No Change" {
		t.Fatalf("unparseable timestamp must be ignored, got %q", rep.MonitorStatus)
	}
}
