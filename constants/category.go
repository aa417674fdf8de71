package constants

import (
	"strings"
)

// Category is the document section class used by the optional category gate.
type Category string

const (
	TermsAndConditions        Category = "Terms & Conditions"
	GeneralTermsAndConditions Category = "General Terms and Conditions"
	SaleOrder                 Category = "Sale Order"
	Delivery                  Category = "Delivery"
	PriceAndPayment           Category = "Price and Payment"
	Warranty                  Category = "Warranty"
	Other                     Category = "Other"
)

var allCategories = []Category{
	TermsAndConditions,
	GeneralTermsAndConditions,
	SaleOrder,
	Delivery,
	PriceAndPayment,
	Warranty,
	Other,
}

// DefaultExtractable are the categories whose pages carry invoice fields.
var DefaultExtractable = []string{string(Other)}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

// Canonicalize matches a model-supplied label against the known set,
// ignoring case and surrounding space.
func Canonicalize(input string, known []string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return "", false
	}
	for _, k := range known {
		if normalized == strings.ToLower(k) {
			return k, true
		}
	}
	synonyms := map[string]Category{
		"t&c":           TermsAndConditions,
		"terms":         TermsAndConditions,
		"general terms": GeneralTermsAndConditions,
		"sales order":   SaleOrder,
		"invoice":       Other,
		"payment":       PriceAndPayment,
		"warranty":      Warranty,
		"delivery":      Delivery,
		"shipping":      Delivery,
	}
	if cat, ok := synonyms[normalized]; ok {
		for _, k := range known {
			if strings.EqualFold(k, string(cat)) {
				return k, true
			}
		}
	}
	return strings.TrimSpace(input), false
}
