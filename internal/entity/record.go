package entity

import (
	"math"
	"slices"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
)

// Usage holds the raw token counts reported by the model provider.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{InputTokens: u.InputTokens + o.InputTokens, OutputTokens: u.OutputTokens + o.OutputTokens}
}

// FieldExtraction is one named value with its model confidence.
// A nil Value means the field was not found on the page.
type FieldExtraction struct {
	Name           string  `json:"name"`
	Value          *string `json:"value"`
	Confidence     float64 `json:"confidence"`
	ManuallyEdited bool    `json:"manually_edited"`
}

// EditEvent is the audit entry for a manually corrected field. Original is
// captured on the first edit and never rewritten.
type EditEvent struct {
	Field     string    `json:"field"`
	Original  *string   `json:"original"`
	LatestNew *string   `json:"latest_new"`
	EditedAt  time.Time `json:"edited_at"`
}

// ExtractionRecord is the per-page result of one model call plus its edit history.
type ExtractionRecord struct {
	DocumentID DocumentID                 `json:"document_id"`
	PageIndex  int                        `json:"page_index"`
	Fields     map[string]FieldExtraction `json:"fields"`
	FieldOrder []string                   `json:"field_order"`
	CreatedAt  time.Time                  `json:"created_at"`
	Tier       constants.Tier             `json:"tier,omitempty"`
	State      constants.RecordState      `json:"state"`
	Category   string                     `json:"category,omitempty"`
	Error      string                     `json:"error,omitempty"`
	ErrorCode  string                     `json:"error_code,omitempty"`
	Usage      Usage                      `json:"usage"`

	Edits         map[string]EditEvent `json:"edits,omitempty"`
	EditedFields  []string             `json:"edited_fields,omitempty"`
	EditTimestamp *time.Time           `json:"edit_timestamp,omitempty"`
}

// NewRecord builds an unprocessed record with every requested field absent.
func NewRecord(id DocumentID, page int, fields []string, now time.Time) ExtractionRecord {
	r := ExtractionRecord{
		DocumentID: id,
		PageIndex:  page,
		Fields:     make(map[string]FieldExtraction, len(fields)),
		FieldOrder: slices.Clone(fields),
		CreatedAt:  now.UTC().Truncate(time.Second),
		State:      constants.StateUnprocessed,
	}
	for _, f := range fields {
		r.Fields[f] = FieldExtraction{Name: f}
	}
	return r
}

// Clone deep-copies the record so callers can mutate the result freely.
func (r ExtractionRecord) Clone() ExtractionRecord {
	out := r
	out.FieldOrder = slices.Clone(r.FieldOrder)
	out.EditedFields = slices.Clone(r.EditedFields)
	out.Fields = make(map[string]FieldExtraction, len(r.Fields))
	for k, v := range r.Fields {
		v.Value = clonePtr(v.Value)
		out.Fields[k] = v
	}
	if r.Edits != nil {
		out.Edits = make(map[string]EditEvent, len(r.Edits))
		for k, v := range r.Edits {
			v.Original = clonePtr(v.Original)
			v.LatestNew = clonePtr(v.LatestNew)
			out.Edits[k] = v
		}
	}
	if r.EditTimestamp != nil {
		t := *r.EditTimestamp
		out.EditTimestamp = &t
	}
	return out
}

// OrderedFields returns the fields in FieldOrder, followed by any stragglers
// sorted by name.
func (r ExtractionRecord) OrderedFields() []FieldExtraction {
	out := make([]FieldExtraction, 0, len(r.Fields))
	seen := make(map[string]struct{}, len(r.FieldOrder))
	for _, name := range r.FieldOrder {
		if f, ok := r.Fields[name]; ok {
			out = append(out, f)
			seen[name] = struct{}{}
		}
	}
	var rest []string
	for name := range r.Fields {
		if _, ok := seen[name]; !ok {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	for _, name := range rest {
		out = append(out, r.Fields[name])
	}
	return out
}

// Confidences lists field confidences in field order.
func (r ExtractionRecord) Confidences() []float64 {
	fs := r.OrderedFields()
	out := make([]float64, len(fs))
	for i, f := range fs {
		out[i] = f.Confidence
	}
	return out
}

func (r ExtractionRecord) ManuallyEdited() bool { return len(r.EditedFields) > 0 }

// Page1 is the 1-based page number used in artifacts.
func (r ExtractionRecord) Page1() int { return r.PageIndex + 1 }

// QuantizeConfidence rounds to 4 decimal places so that the two-decimal
// percent representation is lossless.
func QuantizeConfidence(c float64) float64 {
	return math.Round(c*1e4) / 1e4
}

func StrPtr(s string) *string { return &s }

// ValueOf dereferences p, returning "" for nil.
func ValueOf(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// SameValue compares two optional values; nil and nil are equal.
func SameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
