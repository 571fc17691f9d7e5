package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/pkg/analyzer"
	"github.com/pensieved/pensieve/pkg/capture"
	"github.com/pensieved/pensieve/pkg/dedup"
	"github.com/pensieved/pensieve/pkg/phash"
	"github.com/pensieved/pensieve/pkg/store"
	"github.com/rs/zerolog"
)

// BatchAnalyzer analyzes one batch of captures against the open records.
type BatchAnalyzer interface {
	Analyze(ctx context.Context, batch []capture.RawCapture, open []*store.Record) ([]analyzer.AnalyzedItem, error)
}

// Sink persists and deletes records.
type Sink interface {
	BatchUpsert(ctx context.Context, records []*store.Record) ([]string, error)
	Delete(ctx context.Context, ids []string) error
}

// Config holds pipeline configuration
type Config struct {
	Analyzer BatchAnalyzer
	Entities EntityResolver // Optional
	Sink     Sink
	Dedup    *dedup.Deduplicator

	BatchSize      int
	BatchTimeout   time.Duration
	MaxRawCaptures int
	Logger         zerolog.Logger
}

// Pipeline connects capture admission to batch analysis and persistence.
// Captures flow through the deduplicator into a bounded queue; a single
// worker accumulates them into batches, analyzes each batch once, resolves
// the decisions against the open set, and persists the results. No single
// capture, item, or batch failure stops the worker.
type Pipeline struct {
	analyzer BatchAnalyzer
	sink     Sink
	dedup    *dedup.Deduplicator
	resolver *resolver

	batchSize    int
	batchTimeout time.Duration

	queue  *Queue
	open   *openSet
	logger zerolog.Logger

	startOnce sync.Once
	wg        sync.WaitGroup
}

// New creates a pipeline. Analyzer, Sink and Dedup are required.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Analyzer == nil {
		return nil, errors.New("analyzer is required")
	}
	if cfg.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if cfg.Dedup == nil {
		return nil, errors.New("deduplicator is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 10
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 20 * time.Second
	}
	maxRawCaptures := cfg.MaxRawCaptures
	if maxRawCaptures <= 0 {
		maxRawCaptures = 5
	}

	logger := cfg.Logger.With().Str("component", "pipeline").Logger()

	return &Pipeline{
		analyzer: cfg.Analyzer,
		sink:     cfg.Sink,
		dedup:    cfg.Dedup,
		resolver: &resolver{
			entities:    cfg.Entities,
			maxCaptures: maxRawCaptures,
		},
		batchSize:    batchSize,
		batchTimeout: batchTimeout,
		queue:        NewQueue(2 * batchSize),
		open:         newOpenSet(),
		logger:       logger,
	}, nil
}

// Start launches the batch worker.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		observability.EnsureRegistered()
		p.wg.Add(1)
		go p.run()
		p.logger.Info().Int("batch_size", p.batchSize).Dur("batch_timeout", p.batchTimeout).Msg("Pipeline started")
	})
}

// Submit fingerprints and deduplicates one captured screenshot. Admitted
// captures are enqueued for analysis; Submit blocks while the queue is
// full. A capture whose image cannot be fingerprinted is rejected; the
// failure is scoped to that capture alone and the pipeline continues.
func (p *Pipeline) Submit(contentPath string) (dedup.Verdict, error) {
	rc := capture.New(contentPath)

	fp, err := phash.HashFile(contentPath)
	if err != nil {
		observability.RecordCapture("rejected")
		p.logger.Warn().Err(err).Str("path", contentPath).Msg("Capture rejected, image unreadable")
		return "", err
	}

	rc.Fingerprint = fp.String()
	if verdict := p.dedup.Admit(fp, rc.ObjectID, contentPath); verdict == dedup.VerdictDuplicate {
		observability.RecordCapture(string(verdict))
		observability.SetDedupSize(p.dedup.Size())
		return verdict, nil
	}
	observability.SetDedupSize(p.dedup.Size())

	if err := p.queue.Put(rc); err != nil {
		return dedup.VerdictAdmit, err
	}
	observability.RecordCapture(string(dedup.VerdictAdmit))

	p.logger.Debug().Str("object_id", rc.ObjectID).Str("fingerprint", rc.Fingerprint).Msg("Capture admitted")
	return dedup.VerdictAdmit, nil
}

// QueueDepth returns the number of captures waiting for analysis.
func (p *Pipeline) QueueDepth() int {
	return p.queue.Len()
}

// OpenRecords returns the size of the open set.
func (p *Pipeline) OpenRecords() int {
	return p.open.Len()
}

// Stop closes the ingest queue and waits for the worker to drain it and
// finish any in-flight batch. If ctx expires first, the worker is left
// running and its completion is abandoned.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.queue.Close()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info().Msg("Pipeline stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("Pipeline worker did not stop in time")
		return ctx.Err()
	}
}
