// Package analyzer sends capture batches to a vision LLM and parses the
// structured decision list it returns. One request is made per batch; a
// response that fails schema validation voids the whole batch.
package analyzer

import (
	"context"
	"time"

	"github.com/pensieved/pensieve/pkg/entity"
)

// Decision says whether an analyzed item opens a new record or merges
// into an open one.
type Decision string

const (
	DecisionNew   Decision = "NEW"
	DecisionMerge Decision = "MERGE"
)

// AnalysisFields are the semantic fields the LLM produced for one item.
type AnalysisFields struct {
	Title       string           `json:"title"`
	Summary     string           `json:"summary"`
	Keywords    []string         `json:"keywords"`
	Entities    []entity.Mention `json:"entities"`
	ContextKind string           `json:"context_type"`
	Importance  float64          `json:"importance"`
	Confidence  float64          `json:"confidence"`
	EventTime   time.Time        `json:"-"`
}

// AnalyzedItem is one decision from a parsed batch response. The
// Decision/HistoryID pair forms a tagged union: HistoryID is set exactly
// when Decision is DecisionMerge.
type AnalyzedItem struct {
	Decision  Decision
	HistoryID string
	ScreenIDs []int // 1-based indices into the batch
	Analysis  AnalysisFields
}

// ImageAttachment is one screenshot in a batch request. Index is the
// 1-based screen id the prompt labels the image with.
type ImageAttachment struct {
	Index     int
	MediaType string
	Data      []byte
}

// Request is a single LLM call.
type Request struct {
	Model        string
	SystemPrompt string
	UserPrompt   string
	Images       []ImageAttachment
	MaxTokens    int
	Temperature  float64
}

// Response is the raw completion.
type Response struct {
	Content string
	Usage   *TokenUsage
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Provider is the LLM collaborator port.
type Provider interface {
	Provider() string
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleteText runs a text-only completion through a provider. The entity
// reconciler uses this for adjudication and field merging.
func CompleteText(ctx context.Context, p Provider, model, systemPrompt, userPrompt string) (string, error) {
	resp, err := p.Complete(ctx, Request{
		Model:        model,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		MaxTokens:    1024,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
