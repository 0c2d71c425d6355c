package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Top-level section names are shortened before joining, and the resulting
// prefix is stripped again so the columns stay readable in a spreadsheet.
var sectionShort = map[string]string{
	"protocolSection":   "Prot",
	"derivedSection":    "Deriv",
	"annotationSection": "Annot",
	"resultsSection":    "Res",
}

var sectionPrefixes = []string{"Prot_", "Deriv_", "Annot_", "Res_"}

// FlattenRecord turns a nested record into a single-level map with
// `_`-joined key paths suitable for CSV export. Lists of scalars are
// joined with ", "; lists of structures are JSON-encoded.
func FlattenRecord(rec Record) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", map[string]any(rec))
	return out
}

func flattenInto(out map[string]any, parent string, m map[string]any) {
	for k, v := range m {
		clean := k
		if parent == "" {
			if short, ok := sectionShort[k]; ok {
				clean = short
			}
		}
		clean = strings.TrimSuffix(clean, "Module")
		clean = strings.TrimSuffix(clean, "Struct")

		key := clean
		if parent != "" {
			key = parent + "_" + clean
		}
		for _, prefix := range sectionPrefixes {
			if strings.HasPrefix(key, prefix) {
				key = key[len(prefix):]
			}
		}

		switch child := v.(type) {
		case map[string]any:
			flattenInto(out, key, child)
		case []any:
			if allScalars(child) {
				parts := make([]string, len(child))
				for i, item := range child {
					parts[i] = fmt.Sprint(item)
				}
				out[key] = strings.Join(parts, ", ")
			} else {
				b, _ := json.Marshal(child)
				out[key] = string(b)
			}
		default:
			out[key] = v
		}
	}
}

func allScalars(list []any) bool {
	for _, item := range list {
		switch item.(type) {
		case string, float64, int, int64, bool, json.Number:
		default:
			return false
		}
	}
	return true
}
