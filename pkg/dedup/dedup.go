// Package dedup rejects near-duplicate captures before they enter the
// pipeline. It keeps a bounded, recency-ordered set of perceptual
// fingerprints and compares every incoming capture against it by Hamming
// distance.
package dedup

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pensieved/pensieve/pkg/phash"
)

// Verdict is the outcome of an admission check.
type Verdict string

const (
	// VerdictAdmit means the capture is novel and entered the recency set.
	VerdictAdmit Verdict = "admit"
	// VerdictDuplicate means the capture matched a recent fingerprint.
	VerdictDuplicate Verdict = "duplicate"
)

type entry struct {
	fingerprint phash.Fingerprint
	objectID    string
}

// Config holds deduplicator settings.
type Config struct {
	// Capacity bounds the recency set; conventionally 2x the batch size.
	Capacity int
	// Threshold is the maximum Hamming distance treated as a duplicate.
	Threshold int
	// DeleteOnDuplicate removes the duplicate capture's file from disk.
	DeleteOnDuplicate bool
	Logger            zerolog.Logger
}

// Deduplicator maintains the recency-ordered fingerprint set. Admission
// check and mutation form a single critical section, so producers may call
// Admit from any goroutine.
type Deduplicator struct {
	mu      sync.Mutex
	entries []entry // oldest first, most recently used last

	capacity          int
	threshold         int
	deleteOnDuplicate bool
	logger            zerolog.Logger
}

// New creates a deduplicator.
func New(cfg Config) *Deduplicator {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 20
	}
	return &Deduplicator{
		entries:           make([]entry, 0, capacity),
		capacity:          capacity,
		threshold:         cfg.Threshold,
		deleteOnDuplicate: cfg.DeleteOnDuplicate,
		logger:            cfg.Logger.With().Str("component", "dedup").Logger(),
	}
}

// Admit checks a capture's fingerprint against the recency set. A match
// within the threshold refreshes the matched entry to the most recently
// used position and reports a duplicate; otherwise the fingerprint is
// appended, evicting the oldest entry at capacity.
func (d *Deduplicator) Admit(fp phash.Fingerprint, objectID, contentPath string) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, e := range d.entries {
		dist := e.fingerprint.Distance(fp)
		if dist <= d.threshold {
			// Recency refresh: move the matched entry to the MRU slot.
			matched := d.entries[i]
			d.entries = append(d.entries[:i], d.entries[i+1:]...)
			d.entries = append(d.entries, matched)

			d.logger.Debug().
				Str("object_id", objectID).
				Str("matched", matched.objectID).
				Int("distance", dist).
				Msg("Duplicate capture rejected")

			if d.deleteOnDuplicate && contentPath != "" {
				if err := os.Remove(contentPath); err != nil && !os.IsNotExist(err) {
					d.logger.Warn().Err(err).Str("path", contentPath).Msg("Failed to delete duplicate capture file")
				}
			}
			return VerdictDuplicate
		}
	}

	if len(d.entries) >= d.capacity {
		d.entries = d.entries[1:]
	}
	d.entries = append(d.entries, entry{fingerprint: fp, objectID: objectID})

	return VerdictAdmit
}

// Size returns the number of fingerprints currently held.
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
