// Package artifact encodes extraction records as the tabular result file
// reviewers download and edit.
package artifact

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// Fixed columns. Field columns sit between the lead and audit groups as
// "<Field>" and "<Field> Confidence" pairs.
const (
	ColFilename     = "Filename"
	ColPage         = "Page"
	ColTimestamp    = "Extraction_Timestamp"
	ColStatus       = "Status"
	ColCategory     = "Category"
	ColErrorCode    = "Error_Code"
	ColError        = "Error"
	ColInputTokens  = "Input_Tokens"
	ColOutputTokens = "Output_Tokens"

	ColManualEdit   = "Manual_Edit"
	ColEditTime     = "Edit_Timestamp"
	ColEditedFields = "Manually_Edited_Fields"
	ColOriginal     = "Original_Values"
	ColNew          = "New_Values"

	ConfidenceSuffix = " Confidence"
)

var (
	leadColumns  = []string{ColFilename, ColPage, ColTimestamp, ColStatus, ColCategory, ColErrorCode, ColError, ColInputTokens, ColOutputTokens}
	auditColumns = []string{ColManualEdit, ColEditTime, ColEditedFields, ColOriginal, ColNew}

	// legacy artifacts wrote these for absent values
	absentMarkers = []string{"", "N/A"}

	legacyTimeLayout = "2006-01-02 15:04:05"
)

// ConfidenceColumn names the confidence column of a field.
func ConfidenceColumn(field string) string { return field + ConfidenceSuffix }

// Artifact is the decoded form of one document's result file.
type Artifact struct {
	Fields  []string
	Records []entity.ExtractionRecord

	// Extra lists unrecognized columns in file order; their cells are kept
	// so that a decode/encode cycle does not drop them.
	Extra      []string
	extraCells map[int]map[string]string
}

// New wraps records for encoding. The field order is taken from the first
// record.
func New(records []entity.ExtractionRecord) *Artifact {
	a := &Artifact{Records: records}
	if len(records) > 0 {
		a.Fields = slices.Clone(records[0].FieldOrder)
	}
	return a
}

// ExtraValue returns the preserved cell of an unrecognized column.
func (a *Artifact) ExtraValue(page int, column string) string {
	return a.extraCells[page][column]
}

// Header returns the column list written by Encode.
func (a *Artifact) Header() []string {
	h := slices.Clone(leadColumns)
	for _, f := range a.Fields {
		h = append(h, f, ConfidenceColumn(f))
	}
	h = append(h, auditColumns...)
	return append(h, a.Extra...)
}

// Marshal encodes the artifact as CSV bytes.
func (a *Artifact) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if err := a.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Encode writes one row per record, ordered by page.
func (a *Artifact) Encode(w io.Writer) error {
	recs := slices.Clone(a.Records)
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].PageIndex < recs[j].PageIndex })

	cw := csv.NewWriter(w)
	if err := cw.Write(a.Header()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, r := range recs {
		if err := cw.Write(a.row(r)); err != nil {
			return fmt.Errorf("write page %d: %w", r.Page1(), err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func (a *Artifact) row(r entity.ExtractionRecord) []string {
	row := []string{
		r.DocumentID.String(),
		strconv.Itoa(r.Page1()),
		formatTime(r.CreatedAt),
		string(r.State),
		r.Category,
		r.ErrorCode,
		r.Error,
		strconv.FormatInt(r.Usage.InputTokens, 10),
		strconv.FormatInt(r.Usage.OutputTokens, 10),
	}
	for _, name := range a.Fields {
		f := r.Fields[name]
		row = append(row, entity.ValueOf(f.Value), FormatPercent(f.Confidence))
	}

	manual := "N"
	if r.ManuallyEdited() {
		manual = "Y"
	}
	var editTime string
	if r.EditTimestamp != nil {
		editTime = formatTime(*r.EditTimestamp)
	}
	var orig, next []string
	for _, name := range r.EditedFields {
		ev := r.Edits[name]
		orig = append(orig, name+":"+escape(entity.ValueOf(ev.Original)))
		next = append(next, name+":"+escape(entity.ValueOf(ev.LatestNew)))
	}
	row = append(row, manual, editTime, strings.Join(r.EditedFields, "; "), strings.Join(orig, "; "), strings.Join(next, "; "))

	for _, col := range a.Extra {
		row = append(row, a.extraCells[r.PageIndex][col])
	}
	return row
}

// Unmarshal decodes CSV bytes.
func Unmarshal(data []byte) (*Artifact, error) {
	return Decode(bytes.NewReader(data))
}

// Decode reads an artifact. Missing audit columns (older files) read as an
// unedited record.
func Decode(r io.Reader) (*Artifact, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, common.ParseError(err, "empty artifact")
	}
	if err != nil {
		return nil, common.ParseError(err, "read header")
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[h] = i
	}
	for _, req := range []string{ColFilename, ColPage} {
		if _, ok := idx[req]; !ok {
			return nil, common.ParseError(nil, "missing column "+req)
		}
	}

	a := &Artifact{extraCells: map[int]map[string]string{}}
	known := map[string]bool{}
	for _, c := range leadColumns {
		known[c] = true
	}
	for _, c := range auditColumns {
		known[c] = true
	}
	for _, h := range header {
		if known[h] || strings.HasSuffix(h, ConfidenceSuffix) {
			continue
		}
		if _, ok := idx[ConfidenceColumn(h)]; ok {
			a.Fields = append(a.Fields, h)
			known[h] = true
			known[ConfidenceColumn(h)] = true
		}
	}
	for _, h := range header {
		if !known[h] {
			a.Extra = append(a.Extra, h)
		}
	}

	line := 1
	for {
		cells, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, common.ParseError(err, fmt.Sprintf("read line %d", line))
		}
		get := func(col string) string {
			if i, ok := idx[col]; ok && i < len(cells) {
				return cells[i]
			}
			return ""
		}
		rec, err := a.parseRow(get)
		if err != nil {
			return nil, common.ParseError(err, fmt.Sprintf("line %d", line))
		}
		if len(a.Extra) > 0 {
			m := make(map[string]string, len(a.Extra))
			for _, col := range a.Extra {
				m[col] = get(col)
			}
			a.extraCells[rec.PageIndex] = m
		}
		a.Records = append(a.Records, rec)
	}
	return a, nil
}

func (a *Artifact) parseRow(get func(string) string) (entity.ExtractionRecord, error) {
	page, err := strconv.Atoi(strings.TrimSpace(get(ColPage)))
	if err != nil || page < 1 {
		return entity.ExtractionRecord{}, fmt.Errorf("invalid page %q", get(ColPage))
	}
	created, err := parseTime(get(ColTimestamp))
	if err != nil {
		return entity.ExtractionRecord{}, err
	}
	rec := entity.NewRecord(entity.ParseDocumentID(get(ColFilename)), page-1, a.Fields, created)

	state, ok := constants.ParseRecordState(get(ColStatus))
	if !ok {
		return rec, fmt.Errorf("invalid status %q", get(ColStatus))
	}
	rec.State = state
	rec.Category = get(ColCategory)
	rec.ErrorCode = get(ColErrorCode)
	rec.Error = get(ColError)
	rec.Usage.InputTokens, _ = strconv.ParseInt(get(ColInputTokens), 10, 64)
	rec.Usage.OutputTokens, _ = strconv.ParseInt(get(ColOutputTokens), 10, 64)

	for _, name := range a.Fields {
		c, err := ParsePercent(get(ConfidenceColumn(name)))
		if err != nil {
			return rec, fmt.Errorf("field %s: %w", name, err)
		}
		f := entity.FieldExtraction{Name: name, Confidence: c}
		if v := get(name); !slices.Contains(absentMarkers, strings.TrimSpace(v)) {
			f.Value = &v
		}
		rec.Fields[name] = f
	}

	if err := parseAudit(&rec, get); err != nil {
		return rec, err
	}
	return rec, nil
}

func parseAudit(rec *entity.ExtractionRecord, get func(string) string) error {
	editTime, err := parseTime(get(ColEditTime))
	if err != nil {
		return err
	}
	for _, name := range strings.Split(get(ColEditedFields), ";") {
		name = strings.TrimSpace(name)
		if name != "" && !slices.Contains(rec.EditedFields, name) {
			rec.EditedFields = append(rec.EditedFields, name)
		}
	}
	if len(rec.EditedFields) == 0 {
		return nil
	}

	orig, err := splitPairs(get(ColOriginal))
	if err != nil {
		return fmt.Errorf("%s: %w", ColOriginal, err)
	}
	next, err := splitPairs(get(ColNew))
	if err != nil {
		return fmt.Errorf("%s: %w", ColNew, err)
	}
	rec.Edits = make(map[string]entity.EditEvent, len(rec.EditedFields))
	for _, name := range rec.EditedFields {
		rec.Edits[name] = entity.EditEvent{
			Field:     name,
			Original:  optional(orig[name]),
			LatestNew: optional(next[name]),
			EditedAt:  editTime,
		}
		if f, ok := rec.Fields[name]; ok {
			f.ManuallyEdited = true
			rec.Fields[name] = f
		}
	}
	if !editTime.IsZero() {
		rec.EditTimestamp = &editTime
	}
	if rec.State == constants.StateExtracted {
		rec.State = constants.StateManuallyEdited
	}
	return nil
}

// FormatPercent renders a [0,1] confidence as a 0-100 value with two decimals.
func FormatPercent(c float64) string {
	return strconv.FormatFloat(c*100, 'f', 2, 64)
}

// ParsePercent is the inverse of FormatPercent. Blank cells read as 0.
func ParsePercent(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" || s == "N/A" {
		return 0, nil
	}
	p, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid confidence %q", s)
	}
	if p < 0 || p > 100 {
		return 0, fmt.Errorf("confidence %q outside 0-100", s)
	}
	return entity.QuantizeConfidence(p / 100), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(legacyTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return t, nil
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func escape(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, ";", `\;`)
}

// splitPairs parses "field:value; field:value" with backslash escapes in values.
func splitPairs(s string) (map[string]string, error) {
	out := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return out, nil
	}
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
			}
		case ';':
			parts = append(parts, cur.String())
			cur.Reset()
			if i+1 < len(s) && s[i+1] == ' ' {
				i++
			}
		default:
			cur.WriteByte(c)
		}
	}
	parts = append(parts, cur.String())

	for _, p := range parts {
		if p == "" {
			continue
		}
		name, value, ok := strings.Cut(p, ":")
		if !ok {
			return nil, fmt.Errorf("malformed pair %q", p)
		}
		out[strings.TrimSpace(name)] = value
	}
	return out, nil
}
