package entity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(StoreConfig{
		DBPath: filepath.Join(t.TempDir(), "entities.db"),
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func testEntity(id, name, entityType string) *Record {
	now := time.Now()
	return &Record{
		ID:            id,
		CanonicalName: name,
		Type:          entityType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStoreUpsertAndGet(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	rec := testEntity("ent_1", "Visual Studio Code", "application")
	rec.Aliases = []string{"VS Code", "vscode"}
	rec.Description = "Code editor"
	rec.Metadata = map[string]any{"vendor": "Microsoft"}

	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "ent_1")
	require.NoError(t, err)
	assert.Equal(t, "Visual Studio Code", got.CanonicalName)
	assert.Equal(t, "application", got.Type)
	assert.Equal(t, []string{"VS Code", "vscode"}, got.Aliases)
	assert.Equal(t, "Code editor", got.Description)
	assert.Equal(t, "Microsoft", got.Metadata["vendor"])
}

func TestStoreGetMissing(t *testing.T) {
	store := createTestStore(t)

	_, err := store.Get(context.Background(), "ent_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreFindExact(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	rec := testEntity("ent_1", "Visual Studio Code", "application")
	rec.Aliases = []string{"VS Code"}
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.FindExact(ctx, "visual studio   code", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ent_1", got.ID)

	got, err = store.FindExact(ctx, "vs code", "")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ent_1", got.ID)

	got, err = store.FindExact(ctx, "VS Code", "person")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.FindExact(ctx, "Emacs", "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestStoreFindExactPrefersOldest(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	older := testEntity("ent_a", "Alice", "person")
	older.CreatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Upsert(ctx, older))
	require.NoError(t, store.Upsert(ctx, testEntity("ent_b", "Alice", "person")))

	got, err := store.FindExact(ctx, "Alice", "person")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ent_a", got.ID)
}

func TestStoreCount(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	require.NoError(t, store.Upsert(ctx, testEntity("ent_1", "Alice", "person")))
	require.NoError(t, store.Upsert(ctx, testEntity("ent_2", "Bob", "person")))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNeighborhood(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	a := testEntity("ent_a", "Alice", "person")
	a.Relationships = map[string][]RelationshipRef{
		"person": {{EntityID: "ent_b", EntityName: "Bob"}},
	}
	b := testEntity("ent_b", "Bob", "person")
	b.Relationships = map[string][]RelationshipRef{
		"person":      {{EntityID: "ent_a", EntityName: "Alice"}},
		"application": {{EntityID: "ent_c", EntityName: "Slack"}},
	}
	c := testEntity("ent_c", "Slack", "application")

	require.NoError(t, store.Upsert(ctx, a))
	require.NoError(t, store.Upsert(ctx, b))
	require.NoError(t, store.Upsert(ctx, c))

	neighbors, err := store.Neighborhood(ctx, "ent_a", 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "ent_b", neighbors[0].Record.ID)
	assert.Equal(t, 1, neighbors[0].Hops)

	neighbors, err = store.Neighborhood(ctx, "ent_a", 3)
	require.NoError(t, err)
	require.Len(t, neighbors, 2)
	assert.Equal(t, "ent_b", neighbors[0].Record.ID)
	assert.Equal(t, "ent_c", neighbors[1].Record.ID)
	assert.Equal(t, 2, neighbors[1].Hops)
}

func TestNeighborhoodSkipsDanglingRefs(t *testing.T) {
	store := createTestStore(t)
	ctx := context.Background()

	a := testEntity("ent_a", "Alice", "person")
	a.Relationships = map[string][]RelationshipRef{
		"person": {{EntityID: "ent_gone", EntityName: "Ghost"}},
	}
	require.NoError(t, store.Upsert(ctx, a))

	neighbors, err := store.Neighborhood(ctx, "ent_a", 2)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}
