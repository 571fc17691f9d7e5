package analyzer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/internal/tracing"
	"github.com/pensieved/pensieve/pkg/capture"
	"github.com/pensieved/pensieve/pkg/store"
)

// Config holds analyzer configuration.
type Config struct {
	Provider    Provider
	Model       string
	MaxTokens   int
	Temperature float64
	Logger      zerolog.Logger
}

// Analyzer turns a capture batch plus the open-set digest into a decision
// list with a single LLM call.
type Analyzer struct {
	provider    Provider
	model       string
	maxTokens   int
	temperature float64
	logger      zerolog.Logger
}

// New creates an analyzer.
func New(cfg Config) *Analyzer {
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Analyzer{
		provider:    cfg.Provider,
		model:       cfg.Model,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
		logger:      cfg.Logger.With().Str("component", "analyzer").Logger(),
	}
}

// Analyze sends one batch to the LLM and parses the decision list. Any
// failure voids the entire batch; the pipeline continues with the next.
func (a *Analyzer) Analyze(ctx context.Context, batch []capture.RawCapture, open []*store.Record) ([]AnalyzedItem, error) {
	ctx, span := tracing.StartSpan(
		ctx,
		"pensieve.analyzer",
		"analyzer.analyze_batch",
		attribute.Int("batch_size", len(batch)),
		attribute.Int("open_records", len(open)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, a.logger)
	start := time.Now()

	images, err := a.loadImages(logger, batch)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := a.provider.Complete(ctx, Request{
		Model:        a.model,
		SystemPrompt: systemPrompt,
		UserPrompt:   buildUserPrompt(len(batch), open),
		Images:       images,
		MaxTokens:    a.maxTokens,
		Temperature:  a.temperature,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordBatchAnalysis(a.provider.Provider(), time.Since(start), false)
		return nil, fmt.Errorf("%w: provider call failed: %v", ErrBatchResponse, err)
	}

	if strings.TrimSpace(resp.Content) == "" {
		observability.RecordBatchAnalysis(a.provider.Provider(), time.Since(start), false)
		return nil, fmt.Errorf("%w: empty response", ErrBatchResponse)
	}

	items, err := ParseDecisions(resp.Content, logger)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		observability.RecordBatchAnalysis(a.provider.Provider(), time.Since(start), false)
		return nil, err
	}

	observability.RecordBatchAnalysis(a.provider.Provider(), time.Since(start), true)

	logger.Debug().
		Int("batch_size", len(batch)).
		Int("items", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Batch analyzed")

	if resp.Usage != nil {
		logger.Debug().
			Int("input_tokens", resp.Usage.InputTokens).
			Int("output_tokens", resp.Usage.OutputTokens).
			Msg("Batch token usage")
	}

	return items, nil
}

// loadImages reads batch files into attachments labeled with their
// 1-based screen ids. A capture whose file vanished between admission and
// flush is excluded; its label stays reserved so the surviving numbering
// still maps onto the batch. The batch fails only when nothing is
// readable.
func (a *Analyzer) loadImages(logger zerolog.Logger, batch []capture.RawCapture) ([]ImageAttachment, error) {
	images := make([]ImageAttachment, 0, len(batch))
	for i, c := range batch {
		data, err := os.ReadFile(c.ContentPath)
		if err != nil {
			logger.Warn().Err(err).Str("object_id", c.ObjectID).Msg("Capture unreadable, excluded from batch")
			continue
		}
		images = append(images, ImageAttachment{
			Index:     i + 1,
			MediaType: mediaType(c.ContentPath),
			Data:      data,
		})
	}
	if len(images) == 0 {
		return nil, fmt.Errorf("%w: no readable captures in batch", ErrBatchResponse)
	}
	return images, nil
}

func mediaType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
