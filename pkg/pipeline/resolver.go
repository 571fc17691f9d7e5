package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/pkg/analyzer"
	"github.com/pensieved/pensieve/pkg/capture"
	"github.com/pensieved/pensieve/pkg/entity"
	"github.com/pensieved/pensieve/pkg/store"
	"github.com/rs/zerolog"
)

// EntityResolver reconciles entity mentions into canonical entity IDs.
type EntityResolver interface {
	Reconcile(ctx context.Context, mentions []entity.Mention) ([]string, error)
}

// resolver turns analyzed items into persistent records, applying merge
// semantics against the open set.
type resolver struct {
	entities    EntityResolver
	maxCaptures int
}

// Resolve converts the batch's analyzed items into records to persist and
// prior record IDs to delete. MERGE items consume their target from the
// open set; a MERGE whose history_id is no longer open falls back to NEW.
// Entity reconciliation failures leave the record without new entity links
// but never drop it.
func (r *resolver) Resolve(ctx context.Context, logger zerolog.Logger, batch []capture.RawCapture, items []analyzer.AnalyzedItem, open *openSet) ([]*store.Record, []string) {
	var records []*store.Record
	var deletions []string

	for _, item := range items {
		captures := r.itemCaptures(logger, batch, item)
		if len(captures) == 0 {
			logger.Warn().Ints("screen_ids", item.ScreenIDs).Msg("Item references invalid screenshots, dropping item")
			observability.RecordItemDropped("invalid_screen_ids")
			continue
		}

		var prior *store.Record
		if item.Decision == analyzer.DecisionMerge {
			var ok bool
			prior, ok = open.Take(item.HistoryID)
			if !ok {
				logger.Debug().Str("history_id", item.HistoryID).Msg("Merge target no longer open, creating new record")
				observability.RecordItemDropped("stale_history")
			}
		}

		rec := r.buildRecord(prior, captures, item)
		if prior != nil {
			deletions = append(deletions, prior.ID)
			observability.RecordPersisted("merge", 1)
		} else {
			observability.RecordPersisted("new", 1)
		}

		if r.entities != nil && len(item.Analysis.Entities) > 0 {
			ids, err := r.entities.Reconcile(ctx, item.Analysis.Entities)
			if err != nil {
				logger.Warn().Err(err).Str("record_id", rec.ID).Msg("Entity reconciliation failed")
			} else {
				rec.EntityIDs = unionStrings(rec.EntityIDs, ids)
			}
		}

		records = append(records, rec)
	}

	return records, deletions
}

// itemCaptures maps the item's 1-based screen IDs onto batch captures.
// A single out-of-range ID invalidates the whole item: the decision was
// made against screenshots that do not exist, so none of it is trusted.
func (r *resolver) itemCaptures(logger zerolog.Logger, batch []capture.RawCapture, item analyzer.AnalyzedItem) []capture.RawCapture {
	captures := make([]capture.RawCapture, 0, len(item.ScreenIDs))
	seen := make(map[int]bool)
	for _, id := range item.ScreenIDs {
		if id < 1 || id > len(batch) {
			logger.Warn().Int("screen_id", id).Int("batch_size", len(batch)).Msg("Screen ID out of range")
			return nil
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		captures = append(captures, batch[id-1])
	}
	return captures
}

// buildRecord creates the persisted record for one item. When prior is
// non-nil its identity is retired: captures are unioned, duration counts
// sum, and the earliest creation time wins, while the fresh analysis
// replaces the descriptive fields.
func (r *resolver) buildRecord(prior *store.Record, captures []capture.RawCapture, item analyzer.AnalyzedItem) *store.Record {
	now := time.Now()
	rec := &store.Record{
		ID:            uuid.NewString(),
		Title:         item.Analysis.Title,
		Summary:       item.Analysis.Summary,
		Keywords:      item.Analysis.Keywords,
		ContextKind:   item.Analysis.ContextKind,
		Importance:    item.Analysis.Importance,
		Confidence:    item.Analysis.Confidence,
		EventTime:     item.Analysis.EventTime,
		CreatedAt:     now,
		UpdatedAt:     now,
		DurationCount: 1,
	}

	if prior == nil {
		rec.RawCaptures = selectRepresentatives(captures, r.maxCaptures)
		return rec
	}

	rec.RawCaptures = selectRepresentatives(unionCaptures(prior.RawCaptures, captures), r.maxCaptures)
	rec.EntityIDs = append(rec.EntityIDs, prior.EntityIDs...)
	rec.MergeCount = prior.MergeCount + 1
	rec.DurationCount = prior.DurationCount + 1
	if prior.CreatedAt.Before(rec.CreatedAt) {
		rec.CreatedAt = prior.CreatedAt
	}
	if rec.EventTime.IsZero() {
		rec.EventTime = prior.EventTime
	}
	return rec
}

func unionCaptures(a, b []capture.RawCapture) []capture.RawCapture {
	out := make([]capture.RawCapture, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, rc := range append(append([]capture.RawCapture{}, a...), b...) {
		if seen[rc.ObjectID] {
			continue
		}
		seen[rc.ObjectID] = true
		out = append(out, rc)
	}
	return out
}

func unionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
