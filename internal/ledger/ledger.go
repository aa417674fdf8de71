// Package ledger applies human corrections to extraction records and keeps
// the audit trail of original and latest values.
package ledger

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Edits maps a field name to its corrected value. An empty or blank value
// clears the field.
type Edits map[string]string

// Apply returns a copy of rec with edits applied. The input is never mutated.
//
// The first edit of a field records the value it replaced as Original; later
// edits only move LatestNew. An edit equal to the current value is a no-op,
// so applying the same edits twice is the same as applying them once.
//
// A record carries one edit time: every event is restamped with now whenever
// any field changes.
func Apply(rec entity.ExtractionRecord, edits Edits, now time.Time) (entity.ExtractionRecord, error) {
	out := rec.Clone()
	if len(edits) == 0 {
		return out, nil
	}
	if err := checkEditable(rec); err != nil {
		return rec, err
	}

	var unknown []string
	for name := range edits {
		if _, ok := rec.Fields[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return rec, common.ValidationErrorf("%s page %d: unknown fields %s", rec.DocumentID, rec.Page1(), strings.Join(unknown, ", "))
	}

	now = now.UTC().Truncate(time.Second)
	changed := false
	for _, f := range out.OrderedFields() {
		raw, ok := edits[f.Name]
		if !ok {
			continue
		}
		next := normalize(raw)
		if entity.SameValue(f.Value, next) {
			continue
		}
		if out.Edits == nil {
			out.Edits = map[string]entity.EditEvent{}
		}
		ev, seen := out.Edits[f.Name]
		if !seen {
			ev = entity.EditEvent{Field: f.Name, Original: f.Value}
			out.EditedFields = append(out.EditedFields, f.Name)
		}
		ev.LatestNew = next
		out.Edits[f.Name] = ev

		f.Value = next
		f.ManuallyEdited = true
		out.Fields[f.Name] = f
		changed = true
	}
	if !changed {
		return out, nil
	}
	for name, ev := range out.Edits {
		ev.EditedAt = now
		out.Edits[name] = ev
	}
	out.EditTimestamp = &now
	out.State = constants.StateManuallyEdited
	return out, nil
}

// ApplyDocument applies page-keyed edits (0-based page index) to a document's
// records. Either every page applies or none does.
func ApplyDocument(records []entity.ExtractionRecord, edits map[int]Edits, now time.Time) ([]entity.ExtractionRecord, error) {
	byPage := make(map[int]int, len(records))
	for i, r := range records {
		byPage[r.PageIndex] = i
	}
	pages := make([]int, 0, len(edits))
	for p := range edits {
		if _, ok := byPage[p]; !ok {
			return nil, common.ValidationErrorf("page %d does not exist", p+1)
		}
		pages = append(pages, p)
	}
	slices.Sort(pages)

	out := make([]entity.ExtractionRecord, len(records))
	for i, r := range records {
		out[i] = r.Clone()
	}
	for _, p := range pages {
		i := byPage[p]
		next, err := Apply(out[i], edits[p], now)
		if err != nil {
			return nil, err
		}
		out[i] = next
	}
	return out, nil
}

// Reset returns an ERRORED record to UNPROCESSED ahead of an explicit re-extraction.
func Reset(rec entity.ExtractionRecord) (entity.ExtractionRecord, error) {
	if !constants.CanTransition(rec.State, constants.StateUnprocessed) {
		return rec, common.InvalidStatef("%s page %d: cannot reset from %s", rec.DocumentID, rec.Page1(), rec.State)
	}
	out := rec.Clone()
	out.State = constants.StateUnprocessed
	out.Error = ""
	out.ErrorCode = ""
	return out, nil
}

func checkEditable(rec entity.ExtractionRecord) error {
	if constants.CanTransition(rec.State, constants.StateManuallyEdited) {
		return nil
	}
	return common.InvalidStatef("%s page %d: cannot edit a record in state %s", rec.DocumentID, rec.Page1(), rec.State)
}

func normalize(v string) *string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return &v
}

// ValidationIssue flags a required field that is still empty.
type ValidationIssue struct {
	DocumentID entity.DocumentID `json:"document_id"`
	Page       int               `json:"page"` // 1-based
	Field      string            `json:"field"`
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s page %d: %s is required", v.DocumentID, v.Page, v.Field)
}

// Validate lists required fields that are absent on any page, in page then
// field order.
func Validate(records []entity.ExtractionRecord, required []string) []ValidationIssue {
	recs := slices.Clone(records)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].PageIndex < recs[j].PageIndex })

	issues := []ValidationIssue{}
	for _, r := range recs {
		for _, name := range required {
			f, ok := r.Fields[name]
			if ok && f.Value != nil && strings.TrimSpace(*f.Value) != "" {
				continue
			}
			issues = append(issues, ValidationIssue{DocumentID: r.DocumentID, Page: r.Page1(), Field: name})
		}
	}
	return issues
}
