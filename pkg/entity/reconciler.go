package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/pensieved/pensieve/internal/observability"
	"github.com/pensieved/pensieve/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

// Adjudicator answers borderline match questions with a short completion.
type Adjudicator interface {
	CompleteText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ReconcilerConfig holds reconciler configuration
type ReconcilerConfig struct {
	Store          *Store
	Adjudicator    Adjudicator // Optional, if nil borderline candidates are treated as new entities
	Logger         zerolog.Logger
	SimilarityMin  float64 // Candidates below this are never considered a match
	CandidateLimit int
}

// Reconciler resolves entity mentions to canonical entities in three tiers:
// exact name match, vector similarity, then adjudication for borderline hits.
type Reconciler struct {
	store          *Store
	adjudicator    Adjudicator
	logger         zerolog.Logger
	similarityMin  float64
	candidateLimit int
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	similarityMin := cfg.SimilarityMin
	if similarityMin <= 0 {
		similarityMin = 0.80
	}
	candidateLimit := cfg.CandidateLimit
	if candidateLimit <= 0 {
		candidateLimit = 3
	}
	return &Reconciler{
		store:          cfg.Store,
		adjudicator:    cfg.Adjudicator,
		logger:         cfg.Logger.With().Str("component", "reconciler").Logger(),
		similarityMin:  similarityMin,
		candidateLimit: candidateLimit,
	}
}

// NewEntityID generates a new entity identifier.
func NewEntityID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("ent_%d", time.Now().UnixNano())
	}
	return "ent_" + id
}

// Reconcile resolves each mention to an entity ID, creating entities as
// needed, and records co-occurrence relationships between all entities
// mentioned together. Store failures never fail the call: the mention is
// assigned a fresh unlinked ID and processing continues.
func (r *Reconciler) Reconcile(ctx context.Context, mentions []Mention) ([]string, error) {
	if len(mentions) == 0 {
		return nil, nil
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"pensieve.entity",
		"entity.reconcile",
		attribute.Int("mentions", len(mentions)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, r.logger)

	resolved := make([]*Record, 0, len(mentions))
	ids := make([]string, 0, len(mentions))
	seen := make(map[string]bool)

	for _, mention := range mentions {
		if strings.TrimSpace(mention.Name) == "" {
			continue
		}

		rec, tier := r.resolve(ctx, logger, mention)
		observability.RecordReconciliation(tier)

		if seen[rec.ID] {
			continue
		}
		seen[rec.ID] = true
		ids = append(ids, rec.ID)

		// A degraded resolution stays unlinked: granting other entities
		// edges to an entity the store may never have seen would leave
		// dangling references.
		if tier != "error" {
			resolved = append(resolved, rec)
		}
	}

	r.linkCoOccurrences(ctx, logger, resolved)

	return ids, nil
}

// resolve runs the three matching tiers for one mention and upserts the
// merged or new entity. The returned tier is the resolution path taken.
func (r *Reconciler) resolve(ctx context.Context, logger zerolog.Logger, mention Mention) (*Record, string) {
	existing, err := r.store.FindExact(ctx, mention.Name, mention.Type)
	if err != nil {
		logger.Warn().Err(err).Str("name", mention.Name).Msg("Exact lookup failed, creating unlinked entity")
		rec := r.newRecord(mention)
		// The write may still land even though the lookup failed.
		if err := r.store.Upsert(ctx, rec); err != nil {
			logger.Warn().Err(err).Str("name", mention.Name).Msg("Failed to persist unlinked entity")
		}
		return rec, "error"
	}
	if existing != nil {
		r.mergeMention(ctx, logger, existing, mention)
		return existing, "exact"
	}

	candidates, err := r.store.FindSimilar(ctx, mention, mention.Type, r.candidateLimit)
	if err != nil {
		logger.Warn().Err(err).Str("name", mention.Name).Msg("Similarity search failed")
		candidates = nil
	}

	var borderline []Candidate
	for _, c := range candidates {
		if c.Similarity >= r.similarityMin {
			borderline = append(borderline, c)
		}
	}

	if len(borderline) > 0 && r.adjudicator != nil {
		if match := r.adjudicate(ctx, logger, mention, borderline); match != nil {
			r.mergeMention(ctx, logger, match, mention)
			return match, "adjudicated"
		}
	}

	rec := r.newRecord(mention)
	if err := r.store.Upsert(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("name", mention.Name).Msg("Failed to persist new entity")
	}
	return rec, "new"
}

func (r *Reconciler) newRecord(mention Mention) *Record {
	now := time.Now()
	rec := &Record{
		ID:            NewEntityID(),
		CanonicalName: mention.Name,
		Type:          mention.Type,
		Description:   mention.Description,
		Metadata:      mention.Metadata,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, a := range mention.Aliases {
		rec.AddAlias(a)
	}
	return rec
}

// mergeMention folds mention details into an existing entity and persists
// it. Aliases and a missing type merge deterministically; conflicting
// descriptions or metadata go through the adjudicator, falling back to
// the prefer-existing merge when no adjudicator is wired or the call
// fails.
func (r *Reconciler) mergeMention(ctx context.Context, logger zerolog.Logger, rec *Record, mention Mention) {
	changed := false

	if mention.Name != rec.CanonicalName && !rec.HasAlias(mention.Name) {
		rec.AddAlias(mention.Name)
		changed = true
	}
	for _, a := range mention.Aliases {
		if !rec.HasAlias(a) {
			rec.AddAlias(a)
			changed = true
		}
	}
	if rec.Type == "" && mention.Type != "" {
		rec.Type = mention.Type
		changed = true
	}

	merged := false
	if r.adjudicator != nil && fieldsConflict(rec, mention) {
		var ok bool
		merged, ok = r.mergeFieldsLLM(ctx, logger, rec, mention)
		if !ok {
			merged = mergeFieldsDeterministic(rec, mention)
		}
	} else {
		merged = mergeFieldsDeterministic(rec, mention)
	}
	if merged {
		changed = true
	}

	if !changed {
		return
	}

	rec.UpdatedAt = time.Now()
	if err := r.store.Upsert(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("entity_id", rec.ID).Msg("Failed to persist merged entity")
	}
}

// fieldsConflict reports whether the mention carries a description or
// metadata value that disagrees with what the entity already stores.
func fieldsConflict(rec *Record, mention Mention) bool {
	if mention.Description != "" && rec.Description != "" && mention.Description != rec.Description {
		return true
	}
	for k, v := range mention.Metadata {
		if cur, ok := rec.Metadata[k]; ok && !reflect.DeepEqual(cur, v) {
			return true
		}
	}
	return false
}

// mergeFieldsDeterministic fills empty fields from the mention without
// overwriting anything already stored.
func mergeFieldsDeterministic(rec *Record, mention Mention) bool {
	changed := false
	if rec.Description == "" && mention.Description != "" {
		rec.Description = mention.Description
		changed = true
	}
	for k, v := range mention.Metadata {
		if rec.Metadata == nil {
			rec.Metadata = make(map[string]any)
		}
		if _, ok := rec.Metadata[k]; !ok {
			rec.Metadata[k] = v
			changed = true
		}
	}
	return changed
}

const fieldMergeSystemPrompt = `You merge two profiles of the same entity.
Given the stored entity and a new mention of it, reply with ONLY a JSON object:
{"description": "<merged description>", "metadata": {<merged metadata>}}
Write one description covering both sources. Union the metadata keys, preferring the newer value on conflict.`

// mergeFieldsLLM asks the adjudicator to merge conflicting description and
// metadata. The second return value is false when the answer was unusable
// and the caller should fall back to the deterministic merge.
func (r *Reconciler) mergeFieldsLLM(ctx context.Context, logger zerolog.Logger, rec *Record, mention Mention) (bool, bool) {
	stored, _ := json.Marshal(map[string]any{"description": rec.Description, "metadata": rec.Metadata})
	incoming, _ := json.Marshal(map[string]any{"description": mention.Description, "metadata": mention.Metadata})
	prompt := fmt.Sprintf("Stored entity %q:\n%s\n\nNew mention:\n%s", rec.CanonicalName, stored, incoming)

	answer, err := r.adjudicator.CompleteText(ctx, fieldMergeSystemPrompt, prompt)
	if err != nil {
		logger.Warn().Err(err).Str("entity_id", rec.ID).Msg("Field merge failed, falling back to stored fields")
		return false, false
	}

	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		logger.Warn().Str("entity_id", rec.ID).Msg("Field merge answer had no JSON object")
		return false, false
	}

	var merged struct {
		Description string         `json:"description"`
		Metadata    map[string]any `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(answer[start:end+1]), &merged); err != nil {
		logger.Warn().Err(err).Str("entity_id", rec.ID).Msg("Field merge answer unparsable")
		return false, false
	}

	changed := false
	if merged.Description != "" && merged.Description != rec.Description {
		rec.Description = merged.Description
		changed = true
	}
	if len(merged.Metadata) > 0 && !reflect.DeepEqual(rec.Metadata, merged.Metadata) {
		rec.Metadata = merged.Metadata
		changed = true
	}
	return changed, true
}

const adjudicationSystemPrompt = `You decide whether an entity mention refers to one of the known candidate entities.
Respond with exactly one line: the candidate id if the mention refers to that entity, or NONE if it refers to none of them.
Respond with NONE when unsure.`

// adjudicate asks the LLM whether the mention matches one of the candidates.
func (r *Reconciler) adjudicate(ctx context.Context, logger zerolog.Logger, mention Mention, candidates []Candidate) *Record {
	var b strings.Builder
	b.WriteString("Mention:\n")
	fmt.Fprintf(&b, "  name: %s\n", mention.Name)
	if mention.Type != "" {
		fmt.Fprintf(&b, "  type: %s\n", mention.Type)
	}
	if mention.Description != "" {
		fmt.Fprintf(&b, "  description: %s\n", mention.Description)
	}
	b.WriteString("\nCandidates:\n")
	for _, c := range candidates {
		fmt.Fprintf(&b, "  id: %s\n    name: %s\n", c.Record.ID, c.Record.CanonicalName)
		if c.Record.Type != "" {
			fmt.Fprintf(&b, "    type: %s\n", c.Record.Type)
		}
		if c.Record.Description != "" {
			fmt.Fprintf(&b, "    description: %s\n", c.Record.Description)
		}
		if len(c.Record.Aliases) > 0 {
			fmt.Fprintf(&b, "    aliases: %s\n", strings.Join(c.Record.Aliases, ", "))
		}
	}

	answer, err := r.adjudicator.CompleteText(ctx, adjudicationSystemPrompt, b.String())
	if err != nil {
		logger.Warn().Err(err).Str("name", mention.Name).Msg("Adjudication failed, treating as new entity")
		return nil
	}

	answer = strings.TrimSpace(answer)
	if answer == "" || strings.EqualFold(answer, "NONE") {
		return nil
	}
	for _, c := range candidates {
		if strings.Contains(answer, c.Record.ID) {
			return c.Record
		}
	}

	logger.Debug().Str("answer", answer).Msg("Adjudication answer matched no candidate")
	return nil
}

// linkCoOccurrences records a relationship edge between every pair of
// entities resolved from the same analysis item. Edges are grouped by the
// related entity's type and deduplicated by entity ID.
func (r *Reconciler) linkCoOccurrences(ctx context.Context, logger zerolog.Logger, resolved []*Record) {
	if len(resolved) < 2 {
		return
	}

	for _, rec := range resolved {
		changed := false
		for _, other := range resolved {
			if other.ID == rec.ID {
				continue
			}
			group := other.Type
			if group == "" {
				group = "related"
			}
			if rec.Relationships == nil {
				rec.Relationships = make(map[string][]RelationshipRef)
			}
			if hasRelationship(rec.Relationships[group], other.ID) {
				continue
			}
			rec.Relationships[group] = append(rec.Relationships[group], RelationshipRef{
				EntityID:   other.ID,
				EntityName: other.CanonicalName,
			})
			changed = true
		}
		if !changed {
			continue
		}
		rec.UpdatedAt = time.Now()
		if err := r.store.Upsert(ctx, rec); err != nil {
			logger.Warn().Err(err).Str("entity_id", rec.ID).Msg("Failed to persist relationships")
		}
	}
}

func hasRelationship(refs []RelationshipRef, entityID string) bool {
	for _, ref := range refs {
		if ref.EntityID == entityID {
			return true
		}
	}
	return false
}
