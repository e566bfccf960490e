package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
)

type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) Enqueue(ctx context.Context, item *models.QueueItem) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_queue (user_id, device_id, action, resource_type, resource_id, payload, timestamp, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.UserID, item.DeviceID, item.Action, item.ResourceType, item.ResourceID,
		item.Payload, item.Timestamp.UTC(), item.Attempts)
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue %s %s %s: %w", item.Action, item.ResourceType, item.ResourceID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get queue item id: %w", err)
	}
	item.ID = id
	return id, nil
}

func (r *SQLiteRepository) DequeueBatch(ctx context.Context, userID string) ([]models.QueueItem, error) {
	items, err := dbx.ScanAll[models.QueueItem](ctx, r.db, `
		SELECT id, user_id, device_id, action, resource_type, resource_id, payload, timestamp, attempts
		FROM sync_queue
		WHERE user_id = ?
		ORDER BY timestamp ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sync queue: %w", err)
	}
	return items, nil
}

func (r *SQLiteRepository) ListByResource(ctx context.Context, userID string, resourceType models.ResourceType, resourceID string) ([]models.QueueItem, error) {
	items, err := dbx.ScanAll[models.QueueItem](ctx, r.db, `
		SELECT id, user_id, device_id, action, resource_type, resource_id, payload, timestamp, attempts
		FROM sync_queue
		WHERE user_id = ? AND resource_type = ? AND resource_id = ?
		ORDER BY timestamp ASC, id ASC`, userID, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue items of %s %s: %w", resourceType, resourceID, err)
	}
	return items, nil
}

func (r *SQLiteRepository) UpdatePayload(ctx context.Context, id int64, payload []byte) error {
	res, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET payload = ? WHERE id = ?`, payload, id)
	if err != nil {
		return fmt.Errorf("failed to update queue item %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *SQLiteRepository) Remove(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to remove queue item %d: %w", id, err)
	}
	return nil
}

func (r *SQLiteRepository) RemoveByResource(ctx context.Context, userID string, resourceType models.ResourceType, resourceID string) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE user_id = ? AND resource_type = ? AND resource_id = ?`,
		userID, resourceType, resourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to remove queue items of %s %s: %w", resourceType, resourceID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	var attempts int
	err := r.db.QueryRowContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1 WHERE id = ? RETURNING attempts`, id).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, common.ErrorNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to increment attempts of queue item %d: %w", id, err)
	}
	return attempts, nil
}

func (r *SQLiteRepository) ResetAttempts(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sync_queue SET attempts = 0 WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to reset queue attempts: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return n, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_queue`)
	if err != nil {
		return fmt.Errorf("failed to clear sync queue: %w", err)
	}
	return nil
}
