package llm

import (
	"context"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Part is either text or an image.
type Part struct {
	Text  string
	Image *entity.Image
}

func TextPart(s string) Part          { return Part{Text: s} }
func ImagePart(img entity.Image) Part { return Part{Image: &img} }
func (p Part) IsImage() bool          { return p.Image != nil }

func NewMessage(role Role, parts ...Part) Message { return Message{Role: role, Parts: parts} }

type Message struct {
	Role  Role
	Parts []Part
}

// CompletionRequest is a provider-neutral multimodal chat request.
type CompletionRequest struct {
	System   string
	Messages []Message
	JSONMode bool // ask the provider for a JSON object response
}

// Completion is the raw model output and its token usage.
type Completion struct {
	Content string
	Usage   entity.Usage
	Model   string
}

// VisionModel is the one external call the extractor makes per page.
// Implementations must not retry.
type VisionModel interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
	Name() string
}
