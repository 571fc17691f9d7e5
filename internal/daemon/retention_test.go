package daemon

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
	"github.com/pensieved/pensieve/pkg/store"
)

func createTestRecords(t *testing.T) *store.Records {
	t.Helper()

	r, err := store.NewRecords(store.Config{
		DBPath: filepath.Join(t.TempDir(), "records.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	return r
}

func retentionRecord(id string, createdAt time.Time, contentPath string) *store.Record {
	return &store.Record{
		ID:      id,
		Title:   "title " + id,
		Summary: "summary " + id,
		RawCaptures: []capture.RawCapture{
			{ObjectID: "cap-" + id, ContentPath: contentPath, CapturedAt: createdAt},
		},
		CreatedAt:     createdAt,
		UpdatedAt:     createdAt,
		DurationCount: 1,
	}
}

func TestRetentionSweep(t *testing.T) {
	records := createTestRecords(t)
	ctx := context.Background()

	dir := t.TempDir()
	oldFile := filepath.Join(dir, "old.png")
	newFile := filepath.Join(dir, "new.png")
	require.NoError(t, os.WriteFile(oldFile, []byte("old"), 0644))
	require.NoError(t, os.WriteFile(newFile, []byte("new"), 0644))

	old := time.Now().UTC().Add(-72 * time.Hour)
	recent := time.Now().UTC()
	_, err := records.BatchUpsert(ctx, []*store.Record{
		retentionRecord("rec-old", old, oldFile),
		retentionRecord("rec-new", recent, newFile),
	})
	require.NoError(t, err)

	retention, err := NewRetention(RetentionConfig{
		Records:  records,
		MaxAge:   24 * time.Hour,
		Schedule: "0 3 * * *",
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	retention.Sweep()

	n, err := records.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(oldFile)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newFile)
	assert.NoError(t, err)
}

func TestRetentionInvalidSchedule(t *testing.T) {
	records := createTestRecords(t)

	_, err := NewRetention(RetentionConfig{
		Records:  records,
		MaxAge:   24 * time.Hour,
		Schedule: "not a schedule",
		Logger:   zerolog.Nop(),
	})
	assert.Error(t, err)
}

func TestRetentionMissingFileIsIgnored(t *testing.T) {
	records := createTestRecords(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-72 * time.Hour)
	_, err := records.BatchUpsert(ctx, []*store.Record{
		retentionRecord("rec-old", old, filepath.Join(t.TempDir(), "gone.png")),
	})
	require.NoError(t, err)

	retention, err := NewRetention(RetentionConfig{
		Records:  records,
		MaxAge:   24 * time.Hour,
		Schedule: "0 3 * * *",
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	retention.Sweep()

	n, err := records.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
