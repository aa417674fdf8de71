package constants

import "strings"

// Tier is the routing bucket derived from confidence scores.
type Tier string

const (
	TierHigh Tier = "high"
	TierLow  Tier = "low"
)

var AllTiers = []Tier{TierHigh, TierLow}

// ParseTier accepts "high"/"low" in any case.
func ParseTier(s string) (Tier, bool) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierHigh:
		return TierHigh, true
	case TierLow:
		return TierLow, true
	}
	return "", false
}

const (
	DefaultConfidenceThreshold = 0.95
	DefaultConfidenceWarn      = 0.90
	ReviewConfidenceFloor      = 0.80
)
