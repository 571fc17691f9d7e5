package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/pensieved/pensieve/pkg/capture"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("record not found")

// Config holds records store configuration.
type Config struct {
	DBPath string
	Logger zerolog.Logger
}

// Records is the sqlite-backed persistence sink for memory records.
type Records struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewRecords opens (and migrates) the records database.
func NewRecords(cfg Config) (*Records, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	r := &Records{
		db:     db,
		logger: cfg.Logger.With().Str("component", "records").Logger(),
	}

	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return r, nil
}

func (r *Records) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS records (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			keywords TEXT NOT NULL DEFAULT '[]',
			entity_ids TEXT NOT NULL DEFAULT '[]',
			context_kind TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0,
			confidence REAL NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			event_time INTEGER NOT NULL DEFAULT 0,
			merge_count INTEGER NOT NULL DEFAULT 0,
			duration_count INTEGER NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_records_created ON records(created_at);

		CREATE TABLE IF NOT EXISTS record_captures (
			record_id TEXT NOT NULL,
			object_id TEXT NOT NULL,
			content_path TEXT NOT NULL,
			fingerprint TEXT NOT NULL DEFAULT '',
			captured_at INTEGER NOT NULL,
			position INTEGER NOT NULL,
			PRIMARY KEY (record_id, object_id),
			FOREIGN KEY (record_id) REFERENCES records(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_record_captures_record ON record_captures(record_id);
	`

	_, err := r.db.Exec(schema)
	return err
}

// BatchUpsert writes a closed batch's records in one transaction,
// preserving item order, and returns the persisted ids.
func (r *Records) BatchUpsert(ctx context.Context, records []*Record) ([]string, error) {
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if err := r.upsertOne(ctx, tx, rec); err != nil {
			return nil, fmt.Errorf("failed to upsert record %s: %w", rec.ID, err)
		}
		ids = append(ids, rec.ID)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch: %w", err)
	}

	r.logger.Debug().Int("records", len(ids)).Msg("Batch persisted")
	return ids, nil
}

func (r *Records) upsertOne(ctx context.Context, tx *sql.Tx, rec *Record) error {
	keywords, err := json.Marshal(rec.Keywords)
	if err != nil {
		return err
	}
	entityIDs, err := json.Marshal(rec.EntityIDs)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO records
			(id, title, summary, keywords, entity_ids, context_kind,
			 importance, confidence, created_at, updated_at, event_time,
			 merge_count, duration_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.Summary, string(keywords), string(entityIDs),
		rec.ContextKind, rec.Importance, rec.Confidence,
		rec.CreatedAt.Unix(), rec.UpdatedAt.Unix(), rec.EventTime.Unix(),
		rec.MergeCount, rec.DurationCount,
	)
	if err != nil {
		return err
	}

	// Captures are replaced wholesale; the record owns them.
	if _, err := tx.ExecContext(ctx, "DELETE FROM record_captures WHERE record_id = ?", rec.ID); err != nil {
		return err
	}
	for i, c := range rec.RawCaptures {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO record_captures
				(record_id, object_id, content_path, fingerprint, captured_at, position)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.ID, c.ObjectID, c.ContentPath, c.Fingerprint, c.CapturedAt.Unix(), i,
		)
		if err != nil {
			return err
		}
	}

	return nil
}

// Delete removes records by id; capture rows cascade.
func (r *Records) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete record %s: %w", id, err)
		}
	}

	return tx.Commit()
}

// Get fetches a single record with its captures.
func (r *Records) Get(ctx context.Context, id string) (*Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, summary, keywords, entity_ids, context_kind,
		       importance, confidence, created_at, updated_at, event_time,
		       merge_count, duration_count
		FROM records WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if err := r.loadCaptures(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns the most recent records, newest first.
func (r *Records) List(ctx context.Context, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, summary, keywords, entity_ids, context_kind,
		       importance, confidence, created_at, updated_at, event_time,
		       merge_count, duration_count
		FROM records ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rec := range records {
		if err := r.loadCaptures(ctx, rec); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Count returns the total number of persisted records.
func (r *Records) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n)
	return n, err
}

// DeleteOlderThan removes records created before the cutoff and returns
// the content paths of their captures so the caller can reap the files.
func (r *Records) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT rc.content_path
		FROM record_captures rc
		JOIN records rec ON rec.id = rc.record_id
		WHERE rec.created_at < ?`, cutoff.Unix())
	if err != nil {
		return nil, err
	}

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			rows.Close()
			return nil, err
		}
		paths = append(paths, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx, "DELETE FROM records WHERE created_at < ?", cutoff.Unix()); err != nil {
		return nil, err
	}

	return paths, nil
}

// Close closes the underlying database.
func (r *Records) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var keywords, entityIDs string
	var createdAt, updatedAt, eventTime int64

	err := row.Scan(
		&rec.ID, &rec.Title, &rec.Summary, &keywords, &entityIDs,
		&rec.ContextKind, &rec.Importance, &rec.Confidence,
		&createdAt, &updatedAt, &eventTime, &rec.MergeCount, &rec.DurationCount,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(keywords), &rec.Keywords); err != nil {
		return nil, fmt.Errorf("corrupt keywords for record %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(entityIDs), &rec.EntityIDs); err != nil {
		return nil, fmt.Errorf("corrupt entity ids for record %s: %w", rec.ID, err)
	}

	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	rec.EventTime = time.Unix(eventTime, 0).UTC()

	return &rec, nil
}

func (r *Records) loadCaptures(ctx context.Context, rec *Record) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT object_id, content_path, fingerprint, captured_at
		FROM record_captures WHERE record_id = ? ORDER BY position`, rec.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var objectID, contentPath, fingerprint string
		var capturedAt int64
		if err := rows.Scan(&objectID, &contentPath, &fingerprint, &capturedAt); err != nil {
			return err
		}
		rec.RawCaptures = append(rec.RawCaptures, capture.RawCapture{
			ObjectID:    objectID,
			ContentPath: contentPath,
			Fingerprint: fingerprint,
			CapturedAt:  time.Unix(capturedAt, 0).UTC(),
		})
	}
	return rows.Err()
}
