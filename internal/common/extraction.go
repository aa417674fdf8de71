package common

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/joseph-ayodele/docextract/constants"
)

// ExtractionConfig describes which fields to extract and how to prompt for them.
type ExtractionConfig struct {
	Fields                 []string        `yaml:"fields"`
	Required               []string        `yaml:"required"`
	Categories             []string        `yaml:"categories"`
	Extractable            []string        `yaml:"extractable"`
	CategoryGate           bool            `yaml:"category_gate"`
	MaxExamplesPerCategory int             `yaml:"max_examples_per_category"`
	Examples               []ExampleConfig `yaml:"examples"`

	// Dir is the directory example paths are resolved against.
	Dir string `yaml:"-"`
}

// ExampleConfig is one few-shot reference: an image and its expected label.
type ExampleConfig struct {
	Category string `yaml:"category"`
	Image    string `yaml:"image"`
	Label    string `yaml:"label"` // path to a JSON file
	Caption  string `yaml:"caption"`
}

var DefaultFields = []string{
	"VendorName",
	"InvoiceNumber",
	"InvoiceDate",
	"CustomerName",
	"PurchaseOrderNumber",
	"StockCode",
	"UnitPrice",
	"InvoiceAmount",
	"FreightCost",
	"SalesTax",
	"Total",
}

func DefaultExtractionConfig() *ExtractionConfig {
	return &ExtractionConfig{
		Fields:                 slices.Clone(DefaultFields),
		Required:               []string{"VendorName", "InvoiceNumber", "InvoiceDate", "Total"},
		Categories:             constants.AsStringSlice(),
		Extractable:            slices.Clone(constants.DefaultExtractable),
		MaxExamplesPerCategory: 2,
	}
}

// LoadExtractionConfig reads the YAML file at path. An empty path yields the defaults.
func LoadExtractionConfig(path string) (*ExtractionConfig, error) {
	cfg := DefaultExtractionConfig()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, NewAppError(CodeConfig, "read extraction config", err)
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, NewAppError(CodeConfig, "decode extraction config", err)
	}
	cfg.Dir = filepath.Dir(path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ExtractionConfig) Validate() error {
	v := NewValidator()
	v.Field("fields", c.Fields, Required)
	v.Check(c.MaxExamplesPerCategory >= 0, "max_examples_per_category", c.MaxExamplesPerCategory, "must not be negative")
	seen := make(map[string]struct{}, len(c.Fields))
	for _, f := range c.Fields {
		_, dup := seen[f]
		v.Check(!dup, "fields", f, "is duplicated")
		seen[f] = struct{}{}
	}
	for _, r := range c.Required {
		_, ok := seen[r]
		v.Check(ok, "required", r, "is not an extracted field")
	}
	for i, ex := range c.Examples {
		v.Check(ex.Image != "" && ex.Label != "", fmt.Sprintf("examples[%d]", i), ex.Category, "needs image and label")
	}
	return ValidateAndReturnError(v)
}

// Resolve returns p relative to the config file directory unless it is absolute.
func (c *ExtractionConfig) Resolve(p string) string {
	if filepath.IsAbs(p) || c.Dir == "" {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// IsExtractable reports whether pages of the given category carry fields.
func (c *ExtractionConfig) IsExtractable(category string) bool {
	for _, e := range c.Extractable {
		if e == category {
			return true
		}
	}
	return false
}
