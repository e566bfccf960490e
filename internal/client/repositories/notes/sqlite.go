package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
)

const columns = `id, user_id, title, content, path, parent_id, is_folder, is_favorite, version,
	device_id, created_at, updated_at, deleted_at, last_accessed_at, sync_status`

// SQLiteRepository implements Repository using a DBTX (either *sql.DB or *sql.Tx).
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Upsert(ctx context.Context, n *models.Note) error {
	query := `INSERT INTO notes (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			title = excluded.title,
			content = excluded.content,
			path = excluded.path,
			parent_id = excluded.parent_id,
			is_folder = excluded.is_folder,
			is_favorite = excluded.is_favorite,
			version = excluded.version,
			device_id = excluded.device_id,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			last_accessed_at = excluded.last_accessed_at,
			sync_status = excluded.sync_status`

	_, err := r.db.ExecContext(ctx, query,
		n.ID, n.UserID, n.Title, n.Content, n.Path, n.ParentID, n.IsFolder, n.IsFavorite, n.Version,
		n.DeviceID, n.CreatedAt.UTC(), n.UpdatedAt.UTC(), utc(n.DeletedAt), utc(n.LastAccessedAt), n.SyncStatus)
	if err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", n.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Note, error) {
	n, err := dbx.ScanOne[models.Note](ctx, r.db, `SELECT `+columns+` FROM notes WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	return n, nil
}

func (r *SQLiteRepository) ListByUser(ctx context.Context, userID string) ([]models.Note, error) {
	query := `SELECT ` + columns + ` FROM notes
		WHERE user_id = ? AND deleted_at IS NULL
		ORDER BY updated_at DESC, id`

	items, err := dbx.ScanAll[models.Note](ctx, r.db, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return items, nil
}

func (r *SQLiteRepository) ListByStatus(ctx context.Context, userID string, status models.SyncStatus) ([]models.Note, error) {
	query := `SELECT ` + columns + ` FROM notes
		WHERE user_id = ? AND sync_status = ?
		ORDER BY updated_at DESC, id`

	items, err := dbx.ScanAll[models.Note](ctx, r.db, query, userID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s notes: %w", status, err)
	}
	return items, nil
}

// ListRecent returns up to limit live notes that were opened, most recent first.
func (r *SQLiteRepository) ListRecent(ctx context.Context, userID string, limit int) ([]models.Note, error) {
	query := `SELECT ` + columns + ` FROM notes
		WHERE user_id = ? AND deleted_at IS NULL AND last_accessed_at IS NOT NULL
		ORDER BY last_accessed_at DESC, id
		LIMIT ?`

	items, err := dbx.ScanAll[models.Note](ctx, r.db, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent notes: %w", err)
	}
	return items, nil
}

func (r *SQLiteRepository) ListFavorites(ctx context.Context, userID string) ([]models.Note, error) {
	query := `SELECT ` + columns + ` FROM notes
		WHERE user_id = ? AND deleted_at IS NULL AND is_favorite = 1
		ORDER BY updated_at DESC, id`

	items, err := dbx.ScanAll[models.Note](ctx, r.db, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list favorite notes: %w", err)
	}
	return items, nil
}

func (r *SQLiteRepository) SetStatus(ctx context.Context, id string, status models.SyncStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notes SET sync_status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("failed to set status of note %s: %w", id, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) SetVersion(ctx context.Context, id string, version int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notes SET version = ? WHERE id = ?`, version, id)
	if err != nil {
		return fmt.Errorf("failed to set version of note %s: %w", id, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// SetAccessed stamps last_accessed_at. It leaves version and status alone.
func (r *SQLiteRepository) SetAccessed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE notes SET last_accessed_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark note %s accessed: %w", id, err)
	}
	ra, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if ra == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) CountByStatus(ctx context.Context, userID string) (map[models.SyncStatus]int, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT sync_status, COUNT(*) FROM notes WHERE user_id = ? GROUP BY sync_status`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count notes: %w", err)
	}
	defer rows.Close()

	result := make(map[models.SyncStatus]int)
	for rows.Next() {
		var status models.SyncStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan note count: %w", err)
		}
		result[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate note counts: %w", err)
	}
	return result, nil
}

// DeleteByID removes the cached row. Deleting an absent note is not an error.
func (r *SQLiteRepository) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete note %s: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM notes`)
	if err != nil {
		return fmt.Errorf("failed to clear notes: %w", err)
	}
	return nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
