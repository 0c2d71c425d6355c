package monitor

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// ReadTrialsCSV reads a ClinicalTrials.gov studies export and returns the
// trial descriptors. Rows without an NCT number or title are skipped.
// A leading UTF-8 BOM is tolerated.
func ReadTrialsCSV(path string) ([]TrialRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}
	idCol, titleCol := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "NCT Number":
			idCol = i
		case "Study Title":
			titleCol = i
		}
	}
	if idCol < 0 || titleCol < 0 {
		return nil, fmt.Errorf("CSV is missing the NCT Number / Study Title columns")
	}

	var trials []TrialRef
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		if idCol >= len(row) || titleCol >= len(row) {
			continue
		}
		id := strings.TrimSpace(row[idCol])
		name := strings.TrimSpace(row[titleCol])
		if id == "" || name == "" {
			continue
		}
		trials = append(trials, TrialRef{ID: id, Name: name})
	}
	return trials, nil
}

// MergeTrials adds trials to the named target, creating the target when
// absent (case-insensitive match). Existing ids are kept; duplicates in
// the input are dropped. Returns the number of trials actually added.
func MergeTrials(tf *TargetsFile, targetName, description string, trials []TrialRef, replace bool) int {
	target := tf.FindTarget(targetName)
	if target == nil {
		if description == "" {
			description = targetName + " target monitoring"
		}
		tf.Targets = append(tf.Targets, Target{Name: targetName, Description: description})
		target = &tf.Targets[len(tf.Targets)-1]
	}
	if replace {
		target.Trials = nil
	}

	existing := make(map[string]struct{}, len(target.Trials))
	for _, t := range target.Trials {
		existing[t.ID] = struct{}{}
	}

	added := 0
	for _, t := range trials {
		if _, ok := existing[t.ID]; ok {
			continue
		}
		existing[t.ID] = struct{}{}
		target.Trials = append(target.Trials, t)
		added++
	}
	return added
}
