package analyzer

import (
	"fmt"
	"strings"
	"time"

	"github.com/pensieved/pensieve/pkg/store"
)

const systemPrompt = `You are the analysis stage of a screen-memory system.
You receive a numbered batch of screenshots plus a digest of currently open
memory records. Group the screenshots into coherent activities and reply
with ONLY a JSON object of this exact shape:

{
  "items": [
    {
      "decision": "NEW" | "MERGE",
      "history_id": "<open record id, required for MERGE>",
      "screen_ids": [<1-based screenshot numbers>],
      "analysis": {
        "title": "...",
        "summary": "...",
        "keywords": ["..."],
        "entities": [
          {"name": "...", "type": "...", "description": "...",
           "metadata": {}, "aliases": ["..."]}
        ],
        "context_type": "...",
        "importance": 0.0,
        "confidence": 0.0,
        "event_time": "RFC3339 timestamp"
      }
    }
  ]
}

Use MERGE only when the screenshots continue the activity of an open
record listed in the digest, and set history_id to that record's id.
Every screenshot number must appear in exactly one item.`

// renderDigest summarizes the open-set cache for the prompt. Only the
// analysis fields are included, never image data.
func renderDigest(open []*store.Record) string {
	if len(open) == 0 {
		return "No open records. Every item must use decision NEW."
	}

	var b strings.Builder
	b.WriteString("Open records eligible as merge targets:\n")
	for _, rec := range open {
		fmt.Fprintf(&b, "- id=%s title=%q kind=%s keywords=%s merges=%d updated=%s\n  summary: %s\n",
			rec.ID, rec.Title, rec.ContextKind,
			strings.Join(rec.Keywords, ","), rec.MergeCount,
			rec.UpdatedAt.Format(time.RFC3339), rec.Summary)
	}
	return b.String()
}

// buildUserPrompt assembles the per-batch instruction text.
func buildUserPrompt(batchSize int, open []*store.Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "This batch contains %d screenshots, numbered 1 to %d in order.\n\n", batchSize, batchSize)
	b.WriteString(renderDigest(open))
	b.WriteString("\nAnalyze the batch and reply with the JSON object only.")
	return b.String()
}
