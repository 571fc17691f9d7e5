package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pensieved/pensieve/pkg/capture"
)

func createTestRecords(t *testing.T) *Records {
	t.Helper()

	dir := t.TempDir()
	r, err := NewRecords(Config{
		DBPath: filepath.Join(dir, "records.db"),
		Logger: zerolog.New(os.Stdout).Level(zerolog.Disabled),
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	return r
}

func testRecord(id string, createdAt time.Time) *Record {
	return &Record{
		ID:    id,
		Title: "Reviewing quarterly numbers",
		Summary: "Spreadsheet with Q3 revenue open next to an email " +
			"thread about the board deck.",
		Keywords:      []string{"finance", "q3"},
		EntityIDs:     []string{"ent-1"},
		ContextKind:   "work",
		Importance:    0.8,
		Confidence:    0.9,
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
		EventTime:     createdAt,
		MergeCount:    0,
		DurationCount: 1,
		RawCaptures: []capture.RawCapture{
			{ObjectID: id + "-c1", ContentPath: "/tmp/" + id + ".png", Fingerprint: "00000000000000ff", CapturedAt: createdAt},
		},
	}
}

func TestBatchUpsertAndGet(t *testing.T) {
	r := createTestRecords(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := testRecord("rec-1", now)

	ids, err := r.BatchUpsert(ctx, []*Record{rec})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-1"}, ids)

	got, err := r.Get(ctx, "rec-1")
	require.NoError(t, err)
	assert.Equal(t, rec.Title, got.Title)
	assert.Equal(t, rec.Keywords, got.Keywords)
	assert.Equal(t, rec.EntityIDs, got.EntityIDs)
	assert.Equal(t, now, got.CreatedAt)
	require.Len(t, got.RawCaptures, 1)
	assert.Equal(t, "rec-1-c1", got.RawCaptures[0].ObjectID)
	assert.Equal(t, "00000000000000ff", got.RawCaptures[0].Fingerprint)
}

func TestBatchUpsertReplacesCaptures(t *testing.T) {
	r := createTestRecords(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	rec := testRecord("rec-1", now)
	_, err := r.BatchUpsert(ctx, []*Record{rec})
	require.NoError(t, err)

	rec.RawCaptures = []capture.RawCapture{
		{ObjectID: "other", ContentPath: "/tmp/other.png", CapturedAt: now},
	}
	rec.MergeCount = 1
	_, err = r.BatchUpsert(ctx, []*Record{rec})
	require.NoError(t, err)

	got, err := r.Get(ctx, "rec-1")
	require.NoError(t, err)
	require.Len(t, got.RawCaptures, 1)
	assert.Equal(t, "other", got.RawCaptures[0].ObjectID)
	assert.Equal(t, 1, got.MergeCount)
}

func TestGetMissing(t *testing.T) {
	r := createTestRecords(t)

	_, err := r.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete(t *testing.T) {
	r := createTestRecords(t)
	ctx := context.Background()

	now := time.Now().UTC()
	_, err := r.BatchUpsert(ctx, []*Record{testRecord("rec-1", now), testRecord("rec-2", now)})
	require.NoError(t, err)

	require.NoError(t, r.Delete(ctx, []string{"rec-1"}))

	_, err = r.Get(ctx, "rec-1")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListNewestFirst(t *testing.T) {
	r := createTestRecords(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	recent := time.Now().UTC().Truncate(time.Second)
	_, err := r.BatchUpsert(ctx, []*Record{testRecord("rec-old", old), testRecord("rec-new", recent)})
	require.NoError(t, err)

	records, err := r.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "rec-new", records[0].ID)
	assert.Equal(t, "rec-old", records[1].ID)
}

func TestDeleteOlderThan(t *testing.T) {
	r := createTestRecords(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-48 * time.Hour)
	recent := time.Now().UTC()
	_, err := r.BatchUpsert(ctx, []*Record{testRecord("rec-old", old), testRecord("rec-new", recent)})
	require.NoError(t, err)

	paths, err := r.DeleteOlderThan(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"/tmp/rec-old.png"}, paths)

	n, err := r.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
