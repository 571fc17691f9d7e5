package pipeline

import (
	"sync"

	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/pkg/store"
)

// openSet holds the records the analyzer may merge into: the records
// produced by the most recently completed batch. The whole set is replaced
// after each completed batch; a voided batch leaves it untouched.
type openSet struct {
	mu      sync.Mutex
	byID    map[string]*store.Record
	ordered []string
}

func newOpenSet() *openSet {
	return &openSet{byID: make(map[string]*store.Record)}
}

// Snapshot returns the open records in insertion order.
func (o *openSet) Snapshot() []*store.Record {
	o.mu.Lock()
	defer o.mu.Unlock()

	records := make([]*store.Record, 0, len(o.ordered))
	for _, id := range o.ordered {
		records = append(records, o.byID[id])
	}
	return records
}

// Take removes and returns the record with the given id, if present.
func (o *openSet) Take(id string) (*store.Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	rec, ok := o.byID[id]
	if !ok {
		return nil, false
	}
	delete(o.byID, id)
	for i, existing := range o.ordered {
		if existing == id {
			o.ordered = append(o.ordered[:i], o.ordered[i+1:]...)
			break
		}
	}
	return rec, true
}

// Replace swaps the entire open set for the given records.
func (o *openSet) Replace(records []*store.Record) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.byID = make(map[string]*store.Record, len(records))
	o.ordered = o.ordered[:0]
	for _, rec := range records {
		if _, ok := o.byID[rec.ID]; ok {
			continue
		}
		o.byID[rec.ID] = rec
		o.ordered = append(o.ordered, rec.ID)
	}
	observability.SetOpenRecords(len(o.ordered))
}

// Len returns the number of open records.
func (o *openSet) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.ordered)
}
