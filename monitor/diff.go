package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// FieldChange records one value that differs between two snapshots.
type FieldChange struct {
	Path string
	Old  any
	New  any
}

// Diff is a structured description of what changed in the substantive
// sub-structure between two versions of a record.
type Diff struct {
	Changed []FieldChange
	Added   []string
	Removed []string
}

// Empty reports whether the diff carries no entries.
func (d *Diff) Empty() bool {
	return d == nil || (len(d.Changed) == 0 && len(d.Added) == 0 && len(d.Removed) == 0)
}

// FormatDiff renders a diff as one line per change. Nil or empty diffs
// render as the empty string.
func FormatDiff(d *Diff) string {
	if d.Empty() {
		return ""
	}
	var lines []string
	for _, c := range d.Changed {
		lines = append(lines, fmt.Sprintf("Field `%s` changed from `%v` to `%v`", c.Path, c.Old, c.New))
	}
	for _, p := range d.Added {
		lines = append(lines, fmt.Sprintf("New field added: `%s`", p))
	}
	for _, p := range d.Removed {
		lines = append(lines, fmt.Sprintf("Field removed: `%s`", p))
	}
	return strings.Join(lines, "\n")
}

// DiffStrategy computes the difference between two protocol sections.
type DiffStrategy interface {
	Name() string
	Compare(oldProto, newProto map[string]any) *Diff
}

// StructuralDiff is the full-capability strategy: a generic recursive
// structural comparison that ignores list ordering.
type StructuralDiff struct{}

func (StructuralDiff) Name() string { return "structural" }

func (StructuralDiff) Compare(oldProto, newProto map[string]any) *Diff {
	d := &Diff{}
	diffMaps("", oldProto, newProto, d)
	return d
}

func diffMaps(prefix string, oldM, newM map[string]any, d *Diff) {
	keys := make([]string, 0, len(oldM)+len(newM))
	seen := make(map[string]struct{}, len(oldM)+len(newM))
	for k := range oldM {
		keys = append(keys, k)
		seen[k] = struct{}{}
	}
	for k := range newM {
		if _, ok := seen[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		oldV, inOld := oldM[k]
		newV, inNew := newM[k]
		switch {
		case !inOld:
			d.Added = append(d.Added, path)
		case !inNew:
			d.Removed = append(d.Removed, path)
		default:
			diffValues(path, oldV, newV, d)
		}
	}
}

func diffValues(path string, oldV, newV any, d *Diff) {
	switch ov := oldV.(type) {
	case map[string]any:
		if nv, ok := newV.(map[string]any); ok {
			diffMaps(path, ov, nv, d)
			return
		}
	case []any:
		if nv, ok := newV.([]any); ok {
			if !listsEqualUnordered(ov, nv) {
				d.Changed = append(d.Changed, FieldChange{Path: path, Old: oldV, New: newV})
			}
			return
		}
	}
	if !jsonEqual(oldV, newV) {
		d.Changed = append(d.Changed, FieldChange{Path: path, Old: oldV, New: newV})
	}
}

// listsEqualUnordered compares two lists as multisets of their canonical
// JSON encodings.
func listsEqualUnordered(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	ae := make([]string, len(a))
	be := make([]string, len(b))
	for i := range a {
		ae[i] = canonicalJSON(a[i])
		be[i] = canonicalJSON(b[i])
	}
	sort.Strings(ae)
	sort.Strings(be)
	for i := range ae {
		if ae[i] != be[i] {
			return false
		}
	}
	return true
}

func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

func jsonEqual(a, b any) bool {
	return canonicalJSON(a) == canonicalJSON(b)
}

// WatchlistDiff is the degraded strategy: only a fixed set of field paths
// is compared.
type WatchlistDiff struct{}

func (WatchlistDiff) Name() string { return "watchlist" }

// watchedFields maps a display label to a path inside protocolSection.
var watchedFields = []struct {
	Label string
	Path  []string
}{
	{"Status", []string{"statusModule", "overallStatus"}},
	{"Phase", []string{"designModule", "phases"}},
	{"Completion Date", []string{"statusModule", "completionDateStruct", "date"}},
	{"Sponsor", []string{"sponsorCollaboratorsModule", "leadSponsor", "name"}},
	{"Start Date", []string{"statusModule", "startDateStruct", "date"}},
	{"Enrollment", []string{"designModule", "enrollmentInfo", "count"}},
}

func (WatchlistDiff) Compare(oldProto, newProto map[string]any) *Diff {
	d := &Diff{}
	for _, w := range watchedFields {
		oldV := dig(oldProto, w.Path...)
		newV := dig(newProto, w.Path...)
		if !jsonEqual(oldV, newV) {
			d.Changed = append(d.Changed, FieldChange{Path: w.Label, Old: oldV, New: newV})
		}
	}
	return d
}

// CompareOutcome classifies a detector run.
type CompareOutcome int

const (
	// NoDifference: a prior snapshot existed (or was unreadable) and no
	// meaningful difference was found.
	NoDifference CompareOutcome = iota
	// NoPriorSnapshot: first ever successful fetch for this id.
	NoPriorSnapshot
	// DifferenceFound: the returned Diff is non-empty.
	DifferenceFound
)

// Detector compares a freshly fetched record against the stored snapshot.
type Detector struct {
	snapshots *SnapshotStore
	strategy  DiffStrategy
	logger    *logrus.Logger
}

func NewDetector(snapshots *SnapshotStore, strategy DiffStrategy, logger *logrus.Logger) *Detector {
	return &Detector{snapshots: snapshots, strategy: strategy, logger: logger}
}

// Compare classifies the new record against the prior snapshot.
// An unreadable prior snapshot is reported as NoDifference: the snapshot
// is overwritten by the caller anyway, and a corrupt baseline must not
// produce phantom change events.
func (d *Detector) Compare(id string, rec Record) (CompareOutcome, *Diff) {
	prev, err := d.snapshots.Read(id)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			return NoPriorSnapshot, nil
		}
		d.logger.WithField("trial_id", id).Warnf("unreadable previous snapshot: %v", err)
		return NoDifference, nil
	}

	diff := d.strategy.Compare(prev.ProtocolSection(), rec.ProtocolSection())
	if diff.Empty() {
		return NoDifference, nil
	}
	return DifferenceFound, diff
}
