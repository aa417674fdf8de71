package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docextract/constants"
)

func TestParseDocumentID(t *testing.T) {
	cases := map[string]DocumentID{
		"invoices/a.pdf":          {Stem: "a", Ext: ".pdf"},
		"x/high_confidence/b.csv": {Stem: "b", Ext: ".csv"},
		"inv.2024.01.png":         {Stem: "inv.2024.01", Ext: ".png"},
		"noext":                   {Stem: "noext"},
		".hidden":                 {Stem: ".hidden"},
		`c:\scans\z.JPG`:          {Stem: "z", Ext: ".JPG"},
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseDocumentID(in), in)
	}
	assert.Equal(t, "a.pdf", DocumentID{Stem: "a", Ext: ".pdf"}.String())
}

func TestRecordClone(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)
	r := NewRecord(DocumentID{Stem: "a", Ext: ".pdf"}, 0, []string{"A", "B"}, now)
	assert.Equal(t, constants.StateUnprocessed, r.State)
	assert.Equal(t, now.Truncate(time.Second), r.CreatedAt)

	f := r.Fields["A"]
	f.Value = StrPtr("one")
	r.Fields["A"] = f
	r.Edits = map[string]EditEvent{"A": {Field: "A", Original: StrPtr("zero")}}

	c := r.Clone()
	*c.Fields["A"].Value = "changed"
	*c.Edits["A"].Original = "changed"
	c.FieldOrder[0] = "Z"

	assert.Equal(t, "one", *r.Fields["A"].Value)
	assert.Equal(t, "zero", *r.Edits["A"].Original)
	assert.Equal(t, "A", r.FieldOrder[0])
}

func TestOrderedFields(t *testing.T) {
	r := NewRecord(DocumentID{Stem: "a"}, 1, []string{"B", "A"}, time.Now())
	r.Fields["C"] = FieldExtraction{Name: "C"}
	r.Fields["0"] = FieldExtraction{Name: "0"}

	var names []string
	for _, f := range r.OrderedFields() {
		names = append(names, f.Name)
	}
	require.Equal(t, []string{"B", "A", "0", "C"}, names)
	assert.Equal(t, 2, r.Page1())
}

func TestQuantizeConfidence(t *testing.T) {
	assert.Equal(t, 0.9723, QuantizeConfidence(0.97234))
	assert.Equal(t, 0.9724, QuantizeConfidence(0.97236))
	assert.Equal(t, 1.0, QuantizeConfidence(1))
}

func TestSameValue(t *testing.T) {
	assert.True(t, SameValue(nil, nil))
	assert.False(t, SameValue(nil, StrPtr("")))
	assert.True(t, SameValue(StrPtr("x"), StrPtr("x")))
	assert.Equal(t, "", ValueOf(nil))
}
