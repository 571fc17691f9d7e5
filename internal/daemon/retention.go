package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/pkg/store"
)

// Retention periodically deletes records older than the configured
// maximum age and reaps their capture files from disk.
type Retention struct {
	records  *store.Records
	maxAge   time.Duration
	schedule string
	cron     *cron.Cron
	logger   zerolog.Logger
}

// RetentionConfig holds the retention sweep settings
type RetentionConfig struct {
	Records  *store.Records
	MaxAge   time.Duration
	Schedule string
	Logger   zerolog.Logger
}

// NewRetention creates a retention sweep for the given schedule
func NewRetention(cfg RetentionConfig) (*Retention, error) {
	r := &Retention{
		records:  cfg.Records,
		maxAge:   cfg.MaxAge,
		schedule: cfg.Schedule,
		cron:     cron.New(),
		logger:   cfg.Logger.With().Str("component", "retention").Logger(),
	}

	if _, err := r.cron.AddFunc(cfg.Schedule, r.sweep); err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", cfg.Schedule, err)
	}

	return r, nil
}

// Start starts the sweep scheduler
func (r *Retention) Start() {
	r.cron.Start()
}

// Stop stops the scheduler and waits for a running sweep to finish
func (r *Retention) Stop() {
	ctx := r.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(10 * time.Second):
		r.logger.Warn().Msg("Timeout waiting for retention sweep to finish")
	}
}

// Sweep runs a single retention pass immediately.
func (r *Retention) Sweep() {
	r.sweep()
}

func (r *Retention) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cutoff := time.Now().UTC().Add(-r.maxAge)
	r.logger.Info().Time("cutoff", cutoff).Msg("Starting retention sweep")

	paths, err := r.records.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("Retention sweep failed")
		return
	}

	reaped := 0
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !os.IsNotExist(err) {
				r.logger.Warn().Err(err).Str("path", path).Msg("Failed to remove capture file")
			}
			continue
		}
		reaped++
	}

	observability.RecordRetentionDeleted(len(paths))

	r.logger.Info().
		Int("deleted_captures", len(paths)).
		Int("reaped_files", reaped).
		Msg("Retention sweep completed")
}
