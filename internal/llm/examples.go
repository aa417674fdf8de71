package llm

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joseph-ayodele/docextract/internal/common"
)

// LoadExamples reads every configured reference image and label, grouped by category.
func LoadExamples(cfg *common.ExtractionConfig) (map[string][]Example, error) {
	out := make(map[string][]Example)
	for i, ec := range cfg.Examples {
		img, err := ReadImage(cfg.Resolve(ec.Image))
		if err != nil {
			return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("example %d image", i), err)
		}
		label, err := os.ReadFile(cfg.Resolve(ec.Label))
		if err != nil {
			return nil, common.NewAppError(common.CodeConfig, fmt.Sprintf("example %d label", i), err)
		}
		if !json.Valid(label) {
			return nil, common.ConfigErrorf("example %d label %s is not valid JSON", i, ec.Label)
		}
		cat := ec.Category
		if cat == "" {
			cat = "Other"
		}
		out[cat] = append(out[cat], Example{Category: cat, Image: img, Label: label, Caption: ec.Caption})
	}
	return out, nil
}

// NewPromptBuilderFromConfig loads examples and applies the category gate when enabled.
func NewPromptBuilderFromConfig(cfg *common.ExtractionConfig) (*PromptBuilder, error) {
	examples, err := LoadExamples(cfg)
	if err != nil {
		return nil, err
	}
	var opts []PromptBuilderOption
	if cfg.CategoryGate {
		opts = append(opts, WithCategoryGate(cfg.Categories, cfg.Extractable))
	}
	return NewPromptBuilder(cfg.Fields, examples, cfg.MaxExamplesPerCategory, opts...), nil
}
