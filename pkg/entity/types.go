package entity

import "time"

// Mention is an entity reference extracted from a batch analysis,
// before reconciliation against the entity store.
type Mention struct {
	Name        string         `json:"name"`
	Type        string         `json:"type,omitempty"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Aliases     []string       `json:"aliases,omitempty"`
}

// RelationshipRef points at a related entity within a relationship group.
type RelationshipRef struct {
	EntityID   string `json:"entity_id"`
	EntityName string `json:"entity_name"`
}

// Record is a canonical entity persisted in the entity store.
type Record struct {
	ID            string                       `json:"id"`
	CanonicalName string                       `json:"canonical_name"`
	Aliases       []string                     `json:"aliases,omitempty"`
	Type          string                       `json:"type,omitempty"`
	Description   string                       `json:"description,omitempty"`
	Metadata      map[string]any               `json:"metadata,omitempty"`
	Relationships map[string][]RelationshipRef `json:"relationships,omitempty"`
	CreatedAt     time.Time                    `json:"created_at"`
	UpdatedAt     time.Time                    `json:"updated_at"`
}

// HasAlias reports whether name matches the canonical name or any alias,
// compared case-insensitively by the caller's normalization.
func (r *Record) HasAlias(name string) bool {
	if r.CanonicalName == name {
		return true
	}
	for _, a := range r.Aliases {
		if a == name {
			return true
		}
	}
	return false
}

// AddAlias records name as an alias if it is not already the canonical
// name or a known alias.
func (r *Record) AddAlias(name string) {
	if name == "" || r.HasAlias(name) {
		return
	}
	r.Aliases = append(r.Aliases, name)
}
