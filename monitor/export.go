package monitor

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// utf8BOM is prepended to CSV files so spreadsheet tools pick up the
// encoding.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteTargetData writes the per-target artifacts: status_summary.json,
// status_summary.csv and all_trials_raw.csv under <dir>/<lower(name)>/.
// CSV files are skipped when there are no rows.
func WriteTargetData(dir, targetName string, reports []Report, raw []map[string]any) error {
	targetDir := filepath.Join(dir, strings.ToLower(targetName))
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return err
	}

	if reports == nil {
		reports = []Report{}
	}
	b, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(targetDir, "status_summary.json"), b); err != nil {
		return err
	}

	if len(reports) > 0 {
		rows := make([]map[string]any, len(reports))
		for i, r := range reports {
			row, err := reportAsRow(r)
			if err != nil {
				return err
			}
			rows[i] = row
		}
		if err := writeCSV(filepath.Join(targetDir, "status_summary.csv"), rows); err != nil {
			return err
		}
	}

	if len(raw) > 0 {
		if err := writeCSV(filepath.Join(targetDir, "all_trials_raw.csv"), raw); err != nil {
			return err
		}
	}
	return nil
}

// WriteTargetsSummary writes the global per-target summary consumed by the
// index page.
func WriteTargetsSummary(dataDir string, summaries []TargetSummary) error {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dataDir, "targets_summary.json"), b)
}

// reportAsRow converts a report to a key→value map through its JSON form
// so the CSV columns match the JSON summary.
func reportAsRow(r Report) (map[string]any, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var row map[string]any
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// writeCSV writes rows with the sorted union of all keys as the header.
// Cells missing from a row are left empty.
func writeCSV(path string, rows []map[string]any) error {
	keySet := make(map[string]struct{})
	for _, row := range rows {
		for k := range row {
			keySet[k] = struct{}{}
		}
	}
	headers := make([]string, 0, len(keySet))
	for k := range keySet {
		headers = append(headers, k)
	}
	sort.Strings(headers)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(utf8BOM); err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if err := w.Write(headers); err != nil {
		return err
	}
	record := make([]string, len(headers))
	for _, row := range rows {
		for i, h := range headers {
			record[i] = csvCell(row[h])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func csvCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
