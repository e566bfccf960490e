package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the subset of *pgxpool.Pool the client uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

const resolveFunction = "resolve_note_conflict"

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var noteColumns = []string{
	"id::text", "user_id::text", "title", "COALESCE(content, '')", "path", "parent_id::text",
	"is_folder", "is_favorite", "version", "COALESCE(device_id, '')",
	"created_at", "updated_at", "deleted_at", "last_accessed_at",
}

var returningNote = "RETURNING " + strings.Join(noteColumns, ", ")

// PostgresClient implements Remote over a pgx connection pool.
type PostgresClient struct {
	db   Querier
	pool *pgxpool.Pool
}

var _ Remote = (*PostgresClient)(nil)

// NewPostgresClient creates a pool for dsn. Connections are opened lazily so
// the client can start while the server is unreachable.
func NewPostgresClient(ctx context.Context, dsn string) (*PostgresClient, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	return &PostgresClient{db: pool, pool: pool}, nil
}

// NewPostgresClientWithQuerier wraps an existing querier.
func NewPostgresClientWithQuerier(q Querier) *PostgresClient {
	return &PostgresClient{db: q}
}

func (c *PostgresClient) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func (c *PostgresClient) Ping(ctx context.Context) error {
	return mapError(c.db.Ping(ctx))
}

func scanNote(row pgx.Row) (*models.Note, error) {
	var n models.Note
	err := row.Scan(&n.ID, &n.UserID, &n.Title, &n.Content, &n.Path, &n.ParentID,
		&n.IsFolder, &n.IsFavorite, &n.Version, &n.DeviceID,
		&n.CreatedAt, &n.UpdatedAt, &n.DeletedAt, &n.LastAccessedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNotes returns the user's live notes, most recently updated first.
func (c *PostgresClient) ListNotes(ctx context.Context, userID string) ([]models.Note, error) {
	return c.selectNotes(ctx, psql.Select(noteColumns...).From("notes").
		Where(sq.Eq{"user_id": userID, "deleted_at": nil}).
		OrderBy("updated_at DESC", "id"))
}

// RecentNotes returns up to limit opened notes, most recently opened first.
func (c *PostgresClient) RecentNotes(ctx context.Context, userID string, limit int) ([]models.Note, error) {
	return c.selectNotes(ctx, psql.Select(noteColumns...).From("notes").
		Where(sq.Eq{"user_id": userID, "deleted_at": nil}).
		Where(sq.NotEq{"last_accessed_at": nil}).
		OrderBy("last_accessed_at DESC", "id").
		Limit(uint64(max(limit, 0))))
}

func (c *PostgresClient) FavoriteNotes(ctx context.Context, userID string) ([]models.Note, error) {
	return c.selectNotes(ctx, psql.Select(noteColumns...).From("notes").
		Where(sq.Eq{"user_id": userID, "deleted_at": nil, "is_favorite": true}).
		OrderBy("updated_at DESC", "id"))
}

func (c *PostgresClient) selectNotes(ctx context.Context, b sq.SelectBuilder) ([]models.Note, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	notes, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Note, error) {
		n, err := scanNote(row)
		if err != nil {
			return models.Note{}, err
		}
		return *n, nil
	})
	if err != nil {
		return nil, mapError(err)
	}
	return notes, nil
}

// TouchNote records that the note was opened at at. The version is left
// alone so concurrent edits are not reported as conflicts.
func (c *PostgresClient) TouchNote(ctx context.Context, userID, id string, at time.Time) error {
	query, args, err := psql.Update("notes").
		Set("last_accessed_at", at.UTC()).
		Where(sq.Eq{"id": id, "user_id": userID, "deleted_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	tag, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (c *PostgresClient) GetNote(ctx context.Context, userID, id string) (*models.Note, error) {
	query, args, err := psql.Select(noteColumns...).From("notes").
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	n, err := scanNote(c.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return n, nil
}

func (c *PostgresClient) InsertNote(ctx context.Context, note *models.Note) (*models.Note, error) {
	query, args, err := psql.Insert("notes").
		Columns("id", "user_id", "title", "content", "path", "parent_id", "is_folder",
			"is_favorite", "version", "device_id", "created_at", "updated_at").
		Values(note.ID, note.UserID, note.Title, note.Content, note.Path, note.ParentID, note.IsFolder,
			note.IsFavorite, note.Version, note.DeviceID, note.CreatedAt, note.UpdatedAt).
		Suffix("ON CONFLICT (id) DO NOTHING " + returningNote).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	n, err := scanNote(c.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		// already inserted by an earlier attempt
		return c.GetNote(ctx, note.UserID, note.ID)
	}
	if err != nil {
		return nil, mapError(err)
	}
	return n, nil
}

func (c *PostgresClient) ConditionalUpdate(ctx context.Context, w NoteWrite) (*UpdateResult, error) {
	query := `SELECT success, conflict, current_version
		FROM ` + resolveFunction + `($1::uuid, $2, $3, $4, $5, $6, $7)`

	var success, conflict bool
	var current int64
	err := c.db.QueryRow(ctx, query,
		w.NoteID, w.BaseVersion, w.Content, w.Title, w.DeviceID, w.IsFavorite, w.Path,
	).Scan(&success, &conflict, &current)
	if err != nil {
		return nil, mapError(err)
	}

	switch {
	case conflict:
		return &UpdateResult{Conflict: true, CurrentVersion: current}, nil
	case !success:
		return nil, common.ErrorNotFound
	}

	n, err := c.GetNote(ctx, w.UserID, w.NoteID)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Note: n, CurrentVersion: current}, nil
}

func (c *PostgresClient) UnconditionalUpdate(ctx context.Context, w NoteWrite) (*models.Note, error) {
	query, args, err := psql.Update("notes").
		SetMap(map[string]any{
			"title":       w.Title,
			"content":     w.Content,
			"path":        w.Path,
			"is_favorite": w.IsFavorite,
			"device_id":   w.DeviceID,
			"version":     w.BaseVersion + 1,
			"updated_at":  sq.Expr("now()"),
		}).
		Where(sq.Eq{"id": w.NoteID, "user_id": w.UserID}).
		Suffix(returningNote).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	n, err := scanNote(c.db.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, mapError(err)
	}
	return n, nil
}

func (c *PostgresClient) SoftDelete(ctx context.Context, userID, id, deviceID string) error {
	query := `UPDATE notes
		SET deleted_at = now(), updated_at = now(), version = version + 1, device_id = $3
		WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`
	if _, err := c.db.Exec(ctx, query, id, userID, deviceID); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *PostgresClient) SupportsConditionalUpdate(ctx context.Context) (bool, error) {
	var ok bool
	err := c.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_proc WHERE proname = $1)`, resolveFunction,
	).Scan(&ok)
	if err != nil {
		return false, mapError(err)
	}
	return ok, nil
}

func (c *PostgresClient) UpsertTag(ctx context.Context, tag *models.Tag) error {
	query := `INSERT INTO tags (id, user_id, name, color)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, color = EXCLUDED.color
		WHERE tags.user_id = EXCLUDED.user_id`
	if _, err := c.db.Exec(ctx, query, tag.ID, tag.UserID, tag.Name, tag.Color); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *PostgresClient) DeleteTag(ctx context.Context, userID, id string) error {
	if _, err := c.db.Exec(ctx, `DELETE FROM tags WHERE id = $1 AND user_id = $2`, id, userID); err != nil {
		return mapError(err)
	}
	return nil
}

// Notify sends payload on channel via pg_notify.
func (c *PostgresClient) Notify(ctx context.Context, channel, payload string) error {
	if _, err := c.db.Exec(ctx, `SELECT pg_notify($1, $2)`, channel, payload); err != nil {
		return mapError(err)
	}
	return nil
}
