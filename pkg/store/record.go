// Package store persists memory records in sqlite. It is the durable sink
// at the end of the capture pipeline: whole batches are upserted in one
// transaction and merged-away records are deleted by id.
package store

import (
	"time"

	"github.com/pensieved/pensieve/pkg/capture"
)

// Record is the persisted unit summarizing one or more raw captures.
type Record struct {
	ID            string               `json:"id"`
	RawCaptures   []capture.RawCapture `json:"raw_captures"`
	Title         string               `json:"title"`
	Summary       string               `json:"summary"`
	Keywords      []string             `json:"keywords"`
	EntityIDs     []string             `json:"entity_ids"`
	ContextKind   string               `json:"context_kind"`
	Importance    float64              `json:"importance"`
	Confidence    float64              `json:"confidence"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
	EventTime     time.Time            `json:"event_time"`
	MergeCount    int                  `json:"merge_count"`
	DurationCount int                  `json:"duration_count"`
}
