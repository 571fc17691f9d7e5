package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pensieved/pensieve/internal/config"
	"github.com/pensieved/pensieve/internal/logger"
	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/internal/tracing"
	"github.com/pensieved/pensieve/pkg/analyzer"
	"github.com/pensieved/pensieve/pkg/capture"
	"github.com/pensieved/pensieve/pkg/dedup"
	"github.com/pensieved/pensieve/pkg/entity"
	"github.com/pensieved/pensieve/pkg/pipeline"
	"github.com/pensieved/pensieve/pkg/store"
)

// Daemon represents the Pensieve daemon service
type Daemon struct {
	config *config.Config
	logger *logger.Logger

	// Core modules
	records     *store.Records
	entityStore *entity.Store
	reconciler  *entity.Reconciler
	provider    analyzer.Provider
	pipeline    *pipeline.Pipeline
	watcher     *capture.Watcher

	// Services
	retention     *Retention
	metricsServer *http.Server

	// Internal
	lifecycle *LifecycleManager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	running   bool
	mu        sync.RWMutex

	tracingEnabled bool
}

// New creates a new daemon instance
func New(cfg *config.Config, log *logger.Logger) (*Daemon, error) {
	ctx, cancel := context.WithCancel(context.Background())

	observability.EnsureRegistered()
	if err := tracing.InitOpenTelemetry("pensieve-daemon"); err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracing, continuing without distributed tracing")
	} else {
		log.Info().Msg("Tracing initialized successfully")
	}

	d := &Daemon{
		config:         cfg,
		logger:         log,
		ctx:            ctx,
		cancel:         cancel,
		tracingEnabled: true,
	}

	if err := d.initializeCoreModules(); err != nil {
		cancel()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize core modules: %w", err)
	}

	if err := d.initializeServices(); err != nil {
		cancel()
		d.closeStores()
		if d.tracingEnabled {
			_ = tracing.ShutdownOpenTelemetry(context.Background())
			d.tracingEnabled = false
		}
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	d.lifecycle = NewLifecycleManager(d)

	return d, nil
}

// initializeCoreModules initializes the stores, providers and the pipeline
func (d *Daemon) initializeCoreModules() error {
	if err := os.MkdirAll(d.config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.MkdirAll(d.config.WatchDir, 0755); err != nil {
		return fmt.Errorf("failed to create watch directory: %w", err)
	}

	records, err := store.NewRecords(store.Config{
		DBPath: d.config.RecordsDBPath(),
		Logger: d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	d.records = records
	d.logger.Info().Str("path", d.config.RecordsDBPath()).Msg("Record store initialized")

	profile, err := d.config.PrimaryProfile()
	if err != nil {
		return err
	}
	switch profile.Provider {
	case "openai":
		d.provider = analyzer.NewOpenAIProvider(profile.APIKey)
	default:
		d.provider = analyzer.NewAnthropicProvider(profile.APIKey)
	}
	d.logger.Info().Str("provider", d.provider.Provider()).Str("model", d.config.Analysis.Model).Msg("Analysis provider initialized")

	var entityResolver pipeline.EntityResolver
	if d.config.Entities.Enabled {
		var embedder entity.EmbeddingProvider
		if key := d.config.OpenAIKey(); key != "" {
			embedder = entity.NewOpenAIEmbedder(key, d.config.Entities.EmbeddingModel)
		} else {
			d.logger.Warn().Msg("No openai profile configured; entity similarity search disabled")
		}

		entityStore, err := entity.NewStore(entity.StoreConfig{
			DBPath:   d.config.EntitiesDBPath(),
			Logger:   d.logger.GetZerolog(),
			Embedder: embedder,
		})
		if err != nil {
			return fmt.Errorf("failed to open entity store: %w", err)
		}
		d.entityStore = entityStore

		d.reconciler = entity.NewReconciler(entity.ReconcilerConfig{
			Store:          entityStore,
			Adjudicator:    &providerAdjudicator{provider: d.provider, model: d.config.Analysis.Model},
			Logger:         d.logger.GetZerolog(),
			SimilarityMin:  d.config.Entities.SimilarityMin,
			CandidateLimit: d.config.Entities.CandidateLimit,
		})
		entityResolver = d.reconciler
		d.logger.Info().Str("path", d.config.EntitiesDBPath()).Msg("Entity store initialized")
	}

	deduper := dedup.New(dedup.Config{
		Capacity:          d.config.Capture.WindowSize,
		Threshold:         d.config.Capture.Threshold,
		DeleteOnDuplicate: d.config.Capture.DeleteDuplicates,
		Logger:            d.logger.GetZerolog(),
	})

	batchAnalyzer := analyzer.New(analyzer.Config{
		Provider:    d.provider,
		Model:       d.config.Analysis.Model,
		MaxTokens:   d.config.Analysis.MaxTokens,
		Temperature: d.config.Analysis.Temperature,
		Logger:      d.logger.GetZerolog(),
	})

	pipe, err := pipeline.New(pipeline.Config{
		Analyzer:       batchAnalyzer,
		Entities:       entityResolver,
		Sink:           records,
		Dedup:          deduper,
		BatchSize:      d.config.Batch.Size,
		BatchTimeout:   d.config.Batch.Timeout(),
		MaxRawCaptures: d.config.Batch.MaxRawCaptures,
		Logger:         d.logger.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	d.pipeline = pipe
	d.logger.Info().Msg("Pipeline initialized")

	watcher, err := capture.NewWatcher(d.logger.GetZerolog(), 0, func(path string) {
		if _, err := d.pipeline.Submit(path); err != nil {
			d.logger.Warn().Err(err).Str("path", path).Msg("Failed to submit capture")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create capture watcher: %w", err)
	}
	d.watcher = watcher
	d.logger.Info().Str("dir", d.config.WatchDir).Msg("Capture watcher initialized")

	return nil
}

// initializeServices initializes the retention sweep and metrics endpoint
func (d *Daemon) initializeServices() error {
	if d.config.Retention.Enabled {
		retention, err := NewRetention(RetentionConfig{
			Records:  d.records,
			MaxAge:   time.Duration(d.config.Retention.MaxAge) * 24 * time.Hour,
			Schedule: d.config.Retention.Schedule,
			Logger:   d.logger.GetZerolog(),
		})
		if err != nil {
			return fmt.Errorf("failed to create retention sweep: %w", err)
		}
		d.retention = retention
		d.logger.Info().Str("schedule", d.config.Retention.Schedule).Msg("Retention sweep initialized")
	}

	if d.config.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.MetricsHandler())
		d.metricsServer = &http.Server{
			Addr:    fmt.Sprintf("%s:%d", d.config.Metrics.Host, d.config.Metrics.Port),
			Handler: mux,
		}
		d.logger.Info().Str("addr", d.metricsServer.Addr).Msg("Metrics endpoint initialized")
	}

	return nil
}

// Start starts the daemon service
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	traceID := tracing.NewTraceID()
	log := d.logger.GetZerolog().With().Str("trace_id", traceID).Logger()
	log.Info().Msg("Starting Pensieve daemon")

	if err := d.lifecycle.Start(); err != nil {
		return fmt.Errorf("failed to start lifecycle manager: %w", err)
	}

	d.pipeline.Start()
	log.Info().Msg("Pipeline started")

	if err := d.watcher.Watch(d.config.WatchDir); err != nil {
		return fmt.Errorf("failed to watch capture directory: %w", err)
	}
	log.Info().Str("dir", d.config.WatchDir).Msg("Capture watcher started")

	if d.retention != nil {
		d.retention.Start()
		log.Info().Msg("Retention sweep started")
	}

	if d.metricsServer != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
		log.Info().Str("addr", d.metricsServer.Addr).Msg("Metrics server started")
	}

	log.Info().Msg("Daemon started successfully - all core modules active")

	return nil
}

// Stop stops the daemon service gracefully
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon is not running")
	}
	d.running = false
	d.mu.Unlock()

	log := d.logger.GetZerolog()
	log.Info().Msg("Stopping Pensieve daemon")

	if err := d.watcher.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop capture watcher")
	}

	if d.retention != nil {
		d.retention.Stop()
	}

	// Let the pipeline drain its queue and finish any in-flight batch.
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := d.pipeline.Stop(stopCtx); err != nil {
		log.Warn().Err(err).Msg("Pipeline did not stop cleanly")
	}
	cancel()

	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown metrics server")
		}
		cancel()
	}

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("All goroutines stopped")
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timeout waiting for goroutines to stop")
	}

	d.closeStores()

	if d.tracingEnabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tracing.ShutdownOpenTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown tracing")
		}
		cancel()
		d.tracingEnabled = false
	}

	if err := d.lifecycle.Stop(); err != nil {
		log.Error().Err(err).Msg("Failed to stop lifecycle manager")
	}

	log.Info().Msg("Daemon stopped successfully")

	return nil
}

func (d *Daemon) closeStores() {
	if d.records != nil {
		if err := d.records.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close record store")
		}
	}
	if d.entityStore != nil {
		if err := d.entityStore.Close(); err != nil {
			d.logger.Error().Err(err).Msg("Failed to close entity store")
		}
	}
}

// Status returns the daemon status
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	status := Status{
		Running: d.running,
	}

	if d.running {
		status.Uptime = time.Since(d.startTime)
		status.StartTime = d.startTime
		status.QueueDepth = d.pipeline.QueueDepth()
		status.OpenRecords = d.pipeline.OpenRecords()
	}

	return status
}

// Wait waits for the daemon to stop
func (d *Daemon) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	d.logger.Info().Str("signal", sig.String()).Msg("Received signal")

	if err := d.Stop(); err != nil {
		d.logger.Error().Err(err).Msg("Failed to stop daemon")
	}
}

// GetConfig returns the daemon configuration
func (d *Daemon) GetConfig() *config.Config {
	return d.config
}

// GetLogger returns the daemon logger
func (d *Daemon) GetLogger() *logger.Logger {
	return d.logger
}

// GetPipeline returns the capture pipeline
func (d *Daemon) GetPipeline() *pipeline.Pipeline {
	return d.pipeline
}

// GetRecords returns the record store
func (d *Daemon) GetRecords() *store.Records {
	return d.records
}

// GetEntityStore returns the entity store, or nil when entities are disabled
func (d *Daemon) GetEntityStore() *entity.Store {
	return d.entityStore
}

// Status represents daemon status
type Status struct {
	Running     bool
	Uptime      time.Duration
	StartTime   time.Time
	QueueDepth  int
	OpenRecords int
}

// providerAdjudicator adapts the analysis provider to the entity
// reconciler's adjudication port.
type providerAdjudicator struct {
	provider analyzer.Provider
	model    string
}

func (a *providerAdjudicator) CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return analyzer.CompleteText(ctx, a.provider, a.model, systemPrompt, userPrompt)
}
