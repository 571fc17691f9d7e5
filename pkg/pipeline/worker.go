package pipeline

import (
	"context"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/internal/tracing"
	"github.com/pensieved/pensieve/pkg/capture"
	"github.com/pensieved/pensieve/pkg/store"
	"github.com/rs/zerolog"
)

// run is the single batch worker. It accumulates admitted captures and
// flushes when the batch is full or when twice the batch timeout has
// passed since the last flush. The flush clock is only reset by a flush,
// so a lone capture arriving after a long idle period flushes immediately.
func (p *Pipeline) run() {
	defer p.wg.Done()

	var batch []capture.RawCapture
	lastFlush := time.Now()

	for {
		rc, ok := p.queue.Pop(p.batchTimeout)
		if ok {
			batch = append(batch, rc)
		} else if p.queue.Closed() && p.queue.Len() == 0 {
			if len(batch) > 0 {
				p.flush(batch)
			}
			return
		}

		if len(batch) >= p.batchSize || (len(batch) > 0 && time.Since(lastFlush) > 2*p.batchTimeout) {
			p.flush(batch)
			batch = nil
			lastFlush = time.Now()
		}
	}
}

// flush analyzes one batch and persists the outcome. An analysis failure
// voids the whole batch: its captures are dropped and the open set stays
// as it was. A completed batch replaces the open set with the records it
// produced.
func (p *Pipeline) flush(batch []capture.RawCapture) {
	batchID := newBatchID()
	ctx := tracing.NewBatchContext(context.Background(), batchID)
	logger := tracing.LoggerFromContext(ctx, p.logger)

	open := p.open.Snapshot()
	logger.Info().Int("captures", len(batch)).Int("open_records", len(open)).Msg("Flushing batch")

	items, err := p.analyzer.Analyze(ctx, batch, open)
	if err != nil {
		logger.Error().Err(err).Msg("Batch analysis failed, batch voided")
		return
	}

	records, deletions := p.resolver.Resolve(ctx, logger, batch, items, p.open)
	p.persist(ctx, logger, records, deletions)
	p.open.Replace(records)
}

// persist writes the batch's records and retires merged-away ones.
// Failures are logged; the in-memory open set still advances so later
// merges stay consistent.
func (p *Pipeline) persist(ctx context.Context, logger zerolog.Logger, records []*store.Record, deletions []string) {
	if len(records) > 0 {
		start := time.Now()
		if _, err := p.sink.BatchUpsert(ctx, records); err != nil {
			logger.Error().Err(err).Int("records", len(records)).Msg("Failed to persist records")
		} else {
			observability.RecordPersistDuration(time.Since(start))
			logger.Info().Int("records", len(records)).Msg("Batch persisted")
		}
	}

	if len(deletions) > 0 {
		if err := p.sink.Delete(ctx, deletions); err != nil {
			logger.Error().Err(err).Strs("record_ids", deletions).Msg("Failed to delete merged records")
		}
	}
}

func newBatchID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "bat_" + time.Now().UTC().Format("20060102T150405.000000000")
	}
	return "bat_" + id
}
