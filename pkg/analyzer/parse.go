package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pensieved/pensieve/pkg/entity"
)

// ErrBatchResponse indicates the batch response was empty or did not
// match the decision schema. The caller discards the whole batch.
var ErrBatchResponse = errors.New("invalid batch response")

// decisionSchema is the strict shape of the decision list. Validation
// happens before decoding so missing keys are rejected up front instead
// of surfacing as zero values downstream.
const decisionSchema = `{
	"type": "object",
	"required": ["items"],
	"properties": {
		"items": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["decision", "screen_ids", "analysis"],
				"properties": {
					"decision": {"type": "string", "enum": ["NEW", "MERGE"]},
					"history_id": {"type": "string"},
					"screen_ids": {"type": "array", "minItems": 1, "items": {"type": "integer"}},
					"analysis": {
						"type": "object",
						"required": ["title", "summary"],
						"properties": {
							"title": {"type": "string"},
							"summary": {"type": "string"},
							"keywords": {"type": "array", "items": {"type": "string"}},
							"entities": {
								"type": "array",
								"items": {
									"type": "object",
									"required": ["name"],
									"properties": {
										"name": {"type": "string", "minLength": 1},
										"type": {"type": "string"},
										"description": {"type": "string"},
										"metadata": {"type": "object"},
										"aliases": {"type": "array", "items": {"type": "string"}}
									}
								}
							},
							"context_type": {"type": "string"},
							"importance": {"type": "number"},
							"confidence": {"type": "number"},
							"event_time": {"type": "string"}
						}
					}
				}
			}
		}
	}
}`

var schemaLoader = gojsonschema.NewStringLoader(decisionSchema)

type wireMention struct {
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	Aliases     []string       `json:"aliases"`
}

type wireAnalysis struct {
	Title       string        `json:"title"`
	Summary     string        `json:"summary"`
	Keywords    []string      `json:"keywords"`
	Entities    []wireMention `json:"entities"`
	ContextType string        `json:"context_type"`
	Importance  float64       `json:"importance"`
	Confidence  float64       `json:"confidence"`
	EventTime   string        `json:"event_time"`
}

type wireItem struct {
	Decision  string       `json:"decision"`
	HistoryID string       `json:"history_id"`
	ScreenIDs []int        `json:"screen_ids"`
	Analysis  wireAnalysis `json:"analysis"`
}

type wireEnvelope struct {
	Items []wireItem `json:"items"`
}

// ParseDecisions extracts and validates the decision list from a raw
// completion. The completion may wrap the JSON in prose; everything
// between the first '{' and the last '}' is taken as the payload.
func ParseDecisions(raw string, logger zerolog.Logger) ([]AnalyzedItem, error) {
	payload := extractJSON(raw)
	if payload == "" {
		return nil, fmt.Errorf("%w: no JSON object in response", ErrBatchResponse)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewStringLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchResponse, err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrBatchResponse, strings.Join(details, "; "))
	}

	var envelope wireEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBatchResponse, err)
	}

	items := make([]AnalyzedItem, 0, len(envelope.Items))
	for i, w := range envelope.Items {
		// MERGE without a target is a malformed union member; drop the
		// item rather than voiding the batch around it.
		if w.Decision == string(DecisionMerge) && w.HistoryID == "" {
			logger.Warn().Int("item", i).Msg("MERGE decision without history_id, item dropped")
			continue
		}

		items = append(items, AnalyzedItem{
			Decision:  Decision(w.Decision),
			HistoryID: w.HistoryID,
			ScreenIDs: w.ScreenIDs,
			Analysis: AnalysisFields{
				Title:       w.Analysis.Title,
				Summary:     w.Analysis.Summary,
				Keywords:    w.Analysis.Keywords,
				Entities:    convertMentions(w.Analysis.Entities),
				ContextKind: w.Analysis.ContextType,
				Importance:  w.Analysis.Importance,
				Confidence:  w.Analysis.Confidence,
				EventTime:   parseEventTime(w.Analysis.EventTime),
			},
		})
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no usable items", ErrBatchResponse)
	}

	return items, nil
}

func convertMentions(wire []wireMention) []entity.Mention {
	mentions := make([]entity.Mention, 0, len(wire))
	for _, m := range wire {
		mentions = append(mentions, entity.Mention{
			Name:        m.Name,
			Type:        m.Type,
			Description: m.Description,
			Metadata:    m.Metadata,
			Aliases:     m.Aliases,
		})
	}
	return mentions
}

func parseEventTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// extractJSON returns the span between the first '{' and last '}'.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
