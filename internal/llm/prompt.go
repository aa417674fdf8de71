package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

// DefaultMaxExamplesPerCategory caps few-shot exchanges per category when the
// builder is given a non-positive maximum.
const DefaultMaxExamplesPerCategory = 2

// Example is a reference image paired with the label the model should produce for it.
type Example struct {
	Category string
	Image    entity.Image
	Label    json.RawMessage
	Caption  string
}

// PromptOptions carries per-page context for the final request.
type PromptOptions struct {
	DocumentName string
	Page         int // 0-based
	PageCount    int
}

// Prompt is the full model input minus the page image.
type Prompt struct {
	System     string
	Exchanges  []Message
	Request    string
	Fields     []string
	Categories []string // set only when the category gate is enabled
}

// Messages returns the few-shot exchanges followed by the request for img.
func (p Prompt) Messages(img entity.Image) []Message {
	out := make([]Message, 0, len(p.Exchanges)+1)
	out = append(out, p.Exchanges...)
	return append(out, NewMessage(RoleUser, TextPart(p.Request), ImagePart(img)))
}

// ExampleCount is the number of reference images in the prompt.
func (p Prompt) ExampleCount() int {
	return len(p.Exchanges) / 2
}

type PromptBuilder struct {
	fields      []string
	exchanges   []Message
	categories  []string
	extractable []string
}

type PromptBuilderOption func(*PromptBuilder)

// WithCategoryGate asks the model to classify each page into one of categories
// and to extract fields only for the extractable ones.
func WithCategoryGate(categories, extractable []string) PromptBuilderOption {
	return func(b *PromptBuilder) {
		b.categories = slices.Clone(categories)
		b.extractable = slices.Clone(extractable)
	}
}

// NewPromptBuilder fixes the field list and the few-shot exchanges. Categories are
// emitted in sorted order and each is truncated to maxPerCategory examples.
func NewPromptBuilder(fields []string, examples map[string][]Example, maxPerCategory int, opts ...PromptBuilderOption) *PromptBuilder {
	if maxPerCategory <= 0 {
		maxPerCategory = DefaultMaxExamplesPerCategory
	}
	b := &PromptBuilder{fields: slices.Clone(fields)}
	for _, opt := range opts {
		opt(b)
	}

	cats := make([]string, 0, len(examples))
	for c := range examples {
		cats = append(cats, c)
	}
	sort.Strings(cats)
	for _, c := range cats {
		list := examples[c]
		if len(list) > maxPerCategory {
			list = list[:maxPerCategory]
		}
		for i, ex := range list {
			caption := ex.Caption
			if caption == "" {
				caption = fmt.Sprintf("Reference example %d for category %q.", i+1, c)
			}
			b.exchanges = append(b.exchanges,
				NewMessage(RoleUser, TextPart(caption), ImagePart(ex.Image)),
				NewMessage(RoleAssistant, TextPart(compactJSON(ex.Label))),
			)
		}
	}
	return b
}

// Build assembles the prompt for one page. It cannot fail.
func (b *PromptBuilder) Build(opts PromptOptions) Prompt {
	return Prompt{
		System:     b.system(),
		Exchanges:  slices.Clone(b.exchanges),
		Request:    b.request(opts),
		Fields:     slices.Clone(b.fields),
		Categories: slices.Clone(b.categories),
	}
}

func (b *PromptBuilder) system() string {
	var sb strings.Builder
	sb.WriteString("You extract structured data from scanned business documents.\n")
	sb.WriteString("Return ONLY a JSON object of the form:\n")
	if len(b.categories) > 0 {
		sb.WriteString(`{"category": "<one of the categories>", "fields": {"<Field>": {"value": "<text or null>", "confidence": <0.0-1.0>}}}`)
	} else {
		sb.WriteString(`{"fields": {"<Field>": {"value": "<text or null>", "confidence": <0.0-1.0>}}}`)
	}
	sb.WriteString("\n\nFields, in order:\n")
	for _, f := range b.fields {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteByte('\n')
	}
	sb.WriteString("\nRules:\n")
	sb.WriteString("- Include every field. Use null when the value is not on the page.\n")
	sb.WriteString("- Copy values as printed. Do not compute or infer missing values.\n")
	sb.WriteString("- confidence is your certainty that the value is correct, between 0 and 1.\n")
	if len(b.categories) > 0 {
		sb.WriteString("- Classify the page as exactly one of: ")
		sb.WriteString(strings.Join(b.categories, ", "))
		sb.WriteString(".\n")
		if len(b.extractable) > 0 {
			sb.WriteString("- Only pages classified as ")
			sb.WriteString(strings.Join(b.extractable, ", "))
			sb.WriteString(" carry field values; for other categories set every value to null.\n")
		}
	}
	if len(b.exchanges) > 0 {
		sb.WriteString("- Follow the format of the reference examples exactly.\n")
	}
	return sb.String()
}

func (b *PromptBuilder) request(opts PromptOptions) string {
	var sb strings.Builder
	sb.WriteString("Extract the fields from this page")
	if opts.DocumentName != "" {
		fmt.Fprintf(&sb, " of %s", opts.DocumentName)
	}
	if opts.PageCount > 0 {
		fmt.Fprintf(&sb, " (page %d of %d)", opts.Page+1, opts.PageCount)
	}
	sb.WriteString(".")
	return sb.String()
}

func compactJSON(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
