// Package confidence derives routing tiers and review statistics from field confidences.
package confidence

import (
	"math"

	"github.com/joseph-ayodele/docextract/constants"
	"github.com/joseph-ayodele/docextract/internal/common"
	"github.com/joseph-ayodele/docextract/internal/entity"
)

// CheckThreshold rejects thresholds outside (0, 1].
func CheckThreshold(threshold float64) error {
	if !(threshold > 0 && threshold <= 1) || math.IsNaN(threshold) {
		return common.ConfigErrorf("confidence threshold %v must be in (0, 1]", threshold)
	}
	return nil
}

// CheckConfidence rejects values outside [0, 1]. Confidences are never clamped.
func CheckConfidence(field string, c float64) error {
	if math.IsNaN(c) || c < 0 || c > 1 {
		return common.ValidationErrorf("confidence %v for field %q is outside [0, 1]", c, field)
	}
	return nil
}

// Tier is HIGH iff fields is non-empty and every confidence is at least threshold.
func Tier(fields []entity.FieldExtraction, threshold float64) (constants.Tier, error) {
	if err := CheckThreshold(threshold); err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return constants.TierLow, nil
	}
	low := false
	for _, f := range fields {
		if err := CheckConfidence(f.Name, f.Confidence); err != nil {
			return "", err
		}
		if f.Confidence < threshold {
			low = true
		}
	}
	if low {
		return constants.TierLow, nil
	}
	return constants.TierHigh, nil
}

// RecordTier applies Tier to one page record.
func RecordTier(r entity.ExtractionRecord, threshold float64) (constants.Tier, error) {
	return Tier(r.OrderedFields(), threshold)
}

// DocumentTier is HIGH iff every field of every record clears the threshold.
// A document with no records is LOW.
func DocumentTier(records []entity.ExtractionRecord, threshold float64) (constants.Tier, error) {
	var all []entity.FieldExtraction
	for _, r := range records {
		all = append(all, r.OrderedFields()...)
	}
	return Tier(all, threshold)
}

// Stats is an advisory summary shown to reviewers. It never affects routing.
type Stats struct {
	Fields      int     `json:"fields"`
	Mean        float64 `json:"mean"`
	Min         float64 `json:"min"`
	BelowReview int     `json:"below_review"` // fields under the 80% floor
	BelowWarn   int     `json:"below_warn"`   // fields under the warn level
	PagesBelow  int     `json:"pages_below_warn"`
}

// Summarize computes Stats over all fields of the records.
func Summarize(records []entity.ExtractionRecord, warn float64) Stats {
	var s Stats
	var sum float64
	s.Min = 1
	for _, r := range records {
		pageLow := false
		for _, f := range r.OrderedFields() {
			s.Fields++
			sum += f.Confidence
			s.Min = math.Min(s.Min, f.Confidence)
			if f.Confidence < constants.ReviewConfidenceFloor {
				s.BelowReview++
			}
			if f.Confidence < warn {
				s.BelowWarn++
				pageLow = true
			}
		}
		if pageLow {
			s.PagesBelow++
		}
	}
	if s.Fields == 0 {
		s.Min = 0
		return s
	}
	s.Mean = entity.QuantizeConfidence(sum / float64(s.Fields))
	return s
}
