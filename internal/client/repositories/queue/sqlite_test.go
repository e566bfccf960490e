package queue

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/migrations"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	goose.SetBaseFS(migrations.Migrations)
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.Up(db, "."))
	return db
}

func update(t *testing.T, user, id, content string, ts time.Time) *models.QueueItem {
	t.Helper()
	item, err := models.NewQueueItem(user, "dev", models.NoteUpdate(&models.NotePayload{
		ID: id, Title: id, Content: content, BaseVersion: 1,
	}), ts)
	require.NoError(t, err)
	return item
}

func TestEnqueue_AssignsIncreasingIDs(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now()

	a := update(t, "u1", "n1", "A", now)
	b := update(t, "u1", "n1", "B", now)

	idA, err := r.Enqueue(ctx, a)
	require.NoError(t, err)
	idB, err := r.Enqueue(ctx, b)
	require.NoError(t, err)

	assert.Greater(t, idB, idA)
	assert.Equal(t, idA, a.ID)
}

func TestDequeueBatch_FIFOByTimestampThenID(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	_, err := r.Enqueue(ctx, update(t, "u1", "n1", "second", base.Add(time.Second)))
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, update(t, "u1", "n1", "first", base))
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, update(t, "u1", "n1", "third", base.Add(time.Second)))
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, update(t, "u2", "n9", "other user", base))
	require.NoError(t, err)

	items, err := r.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 3)

	var contents []string
	for _, it := range items {
		m, err := it.Mutation()
		require.NoError(t, err)
		contents = append(contents, m.Note.Content)
	}
	assert.Equal(t, []string{"first", "second", "third"}, contents)
}

func TestAttempts(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	id, err := r.Enqueue(ctx, update(t, "u1", "n1", "x", time.Now()))
	require.NoError(t, err)

	n, err := r.IncrementAttempts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = r.IncrementAttempts(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, r.ResetAttempts(ctx, "u1"))
	items, err := r.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, items[0].Attempts)

	_, err = r.IncrementAttempts(ctx, 9999)
	require.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRemoveAndCount(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	id1, err := r.Enqueue(ctx, update(t, "u1", "n1", "a", time.Now()))
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, update(t, "u1", "n2", "b", time.Now()))
	require.NoError(t, err)
	_, err = r.Enqueue(ctx, update(t, "u1", "n2", "c", time.Now()))
	require.NoError(t, err)

	n, err := r.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.NoError(t, r.Remove(ctx, id1))
	removed, err := r.RemoveByResource(ctx, "u1", models.ResourceNote, "n2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	n, err = r.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClear(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()

	_, err := r.Enqueue(ctx, update(t, "u1", "n1", "a", time.Now()))
	require.NoError(t, err)
	require.NoError(t, r.Clear(ctx))

	items, err := r.DequeueBatch(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestEnqueue_DBErrorWrapped(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	require.NoError(t, db.Close())

	_, err := r.Enqueue(context.Background(), update(t, "u1", "n1", "a", time.Now()))
	require.ErrorContains(t, err, "failed to enqueue update note n1")
}

func TestListByResourceAndUpdatePayload(t *testing.T) {
	r := NewSQLiteRepository(setupDB(t))
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"n1", "n2", "n1"} {
		_, err := r.Enqueue(ctx, update(t, "u1", id, "v", now.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	items, err := r.ListByResource(ctx, "u1", models.ResourceNote, "n1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Less(t, items[0].ID, items[1].ID)

	m, err := items[1].Mutation()
	require.NoError(t, err)
	m.Note.BaseVersion = 7
	require.NoError(t, items[1].Rewrite(m))
	require.NoError(t, r.UpdatePayload(ctx, items[1].ID, items[1].Payload))

	items, err = r.ListByResource(ctx, "u1", models.ResourceNote, "n1")
	require.NoError(t, err)
	got, err := items[1].Mutation()
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Note.BaseVersion)

	require.ErrorIs(t, r.UpdatePayload(ctx, 999, []byte(`{}`)), common.ErrorNotFound)
}
