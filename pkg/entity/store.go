package entity

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pensieved/pensieve/internal/observability"
	"github.com/rs/zerolog"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// ErrNotFound is returned when an entity does not exist in the store.
var ErrNotFound = errors.New("entity not found")

// Candidate is a similarity search hit.
type Candidate struct {
	Record     *Record
	Similarity float64
}

// StoreConfig holds entity store configuration
type StoreConfig struct {
	DBPath   string
	Logger   zerolog.Logger
	Embedder EmbeddingProvider // Optional, if nil similarity search is disabled
}

// Store persists canonical entities and their embeddings in SQLite.
type Store struct {
	db       *sql.DB
	logger   zerolog.Logger
	embedder EmbeddingProvider
}

// NewStore opens the entity database and initializes the schema.
func NewStore(cfg StoreConfig) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:       db,
		logger:   cfg.Logger.With().Str("component", "entity_store").Logger(),
		embedder: cfg.Embedder,
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entities (
			id TEXT PRIMARY KEY,
			canonical_name TEXT NOT NULL,
			name_key TEXT NOT NULL,
			type TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			aliases TEXT NOT NULL DEFAULT '[]',
			alias_keys TEXT NOT NULL DEFAULT '[]',
			metadata TEXT NOT NULL DEFAULT '{}',
			relationships TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_entities_name_key ON entities(name_key);
		CREATE INDEX IF NOT EXISTS idx_entities_type ON entities(type);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if s.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS entity_embeddings USING vec0(
				entity_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, s.embedder.Dimension())

		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// NormalizeName lowercases and collapses whitespace for name matching.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Upsert writes the entity and refreshes its embedding.
func (s *Store) Upsert(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return errors.New("entity id is required")
	}

	aliases, err := json.Marshal(orEmpty(rec.Aliases))
	if err != nil {
		return fmt.Errorf("failed to marshal aliases: %w", err)
	}
	aliasKeys := make([]string, 0, len(rec.Aliases))
	for _, a := range rec.Aliases {
		aliasKeys = append(aliasKeys, NormalizeName(a))
	}
	aliasKeysJSON, err := json.Marshal(aliasKeys)
	if err != nil {
		return fmt.Errorf("failed to marshal alias keys: %w", err)
	}
	metadata, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	relationships, err := json.Marshal(rec.Relationships)
	if err != nil {
		return fmt.Errorf("failed to marshal relationships: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO entities
			(id, canonical_name, name_key, type, description, aliases, alias_keys, metadata, relationships, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.CanonicalName, NormalizeName(rec.CanonicalName), rec.Type, rec.Description,
		string(aliases), string(aliasKeysJSON), string(metadata), string(relationships),
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}

	if s.embedder != nil {
		if err := s.storeEmbedding(ctx, rec); err != nil {
			s.logger.Warn().Err(err).Str("entity_id", rec.ID).Msg("Failed to store embedding")
		}
	}

	if count, err := s.Count(ctx); err == nil {
		observability.SetEntitiesTotal(count)
	}

	return nil
}

// storeEmbedding embeds the entity's canonical text, with a content-hash cache.
func (s *Store) storeEmbedding(ctx context.Context, rec *Record) error {
	text := embeddingText(rec.CanonicalName, rec.Type, rec.Description)
	hashBytes := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(hashBytes[:])

	var cached []byte
	err := s.db.QueryRowContext(ctx,
		"SELECT embedding FROM embedding_cache WHERE content_hash = ?", contentHash,
	).Scan(&cached)

	var embedding []float32
	if err == nil {
		if err := json.Unmarshal(cached, &embedding); err != nil {
			return fmt.Errorf("failed to unmarshal cached embedding: %w", err)
		}
	} else {
		start := time.Now()
		embedding, err = s.embedder.GenerateEmbedding(ctx, text)
		if err != nil {
			return fmt.Errorf("failed to generate embedding: %w", err)
		}
		observability.RecordEmbedding(time.Since(start))

		embeddingJSON, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		_, err = s.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at) VALUES (?, ?, ?, ?)",
			contentHash, embeddingJSON, len(embedding), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to cache embedding: %w", err)
		}
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding for storage: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO entity_embeddings (entity_id, embedding) VALUES (?, ?)",
		rec.ID, string(embeddingJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding in vector table: %w", err)
	}

	return nil
}

// FindExact looks up an entity whose canonical name or alias matches name.
// A non-empty entityType restricts matches to that type. Returns (nil, nil)
// when nothing matches.
func (s *Store) FindExact(ctx context.Context, name, entityType string) (*Record, error) {
	key := NormalizeName(name)
	if key == "" {
		return nil, nil
	}

	query := `
		SELECT ` + entityColumns + `
		FROM entities
		WHERE (name_key = ? OR EXISTS (
			SELECT 1 FROM json_each(entities.alias_keys) WHERE json_each.value = ?
		))`
	args := []any{key, key}
	if entityType != "" {
		query += " AND type = ?"
		args = append(args, entityType)
	}
	query += " ORDER BY created_at ASC LIMIT 1"

	rec, err := scanEntity(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity: %w", err)
	}
	return rec, nil
}

// FindSimilar returns the nearest entities to the mention text by cosine
// similarity, best first. A non-empty entityType filters the hits.
func (s *Store) FindSimilar(ctx context.Context, mention Mention, entityType string, limit int) ([]Candidate, error) {
	if s.embedder == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}

	text := embeddingText(mention.Name, mention.Type, mention.Description)
	embedding, err := s.embedder.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, vec_distance_cosine(embedding, ?) as distance
		FROM entity_embeddings
		ORDER BY distance ASC
		LIMIT ?`,
		string(embeddingJSON), limit*4,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type hit struct {
		id         string
		similarity float64
	}
	var hits []hit
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, hit{id: id, similarity: 1.0 - distance})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, h := range hits {
		rec, err := s.Get(ctx, h.id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if entityType != "" && rec.Type != "" && rec.Type != entityType {
			continue
		}
		candidates = append(candidates, Candidate{Record: rec, Similarity: h.similarity})
		if len(candidates) >= limit {
			break
		}
	}

	return candidates, nil
}

// Get fetches one entity by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := scanEntity(s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return rec, nil
}

// Count returns the number of stored entities.
func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entities").Scan(&count)
	return count, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

const entityColumns = "id, canonical_name, type, description, aliases, metadata, relationships, created_at, updated_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*Record, error) {
	var rec Record
	var aliases, metadata, relationships string
	var createdAt, updatedAt int64

	err := row.Scan(&rec.ID, &rec.CanonicalName, &rec.Type, &rec.Description,
		&aliases, &metadata, &relationships, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(aliases), &rec.Aliases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aliases: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	if err := json.Unmarshal([]byte(relationships), &rec.Relationships); err != nil {
		return nil, fmt.Errorf("failed to unmarshal relationships: %w", err)
	}

	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
