package remote

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/jackc/pgx/v5"
)

// UpsertSession registers the device or reactivates it.
func (c *PostgresClient) UpsertSession(ctx context.Context, s *models.DeviceSession) error {
	query := `INSERT INTO user_sessions (user_id, device_id, device_name, is_active, last_seen_at)
		VALUES ($1, $2, $3, true, $4)
		ON CONFLICT (user_id, device_id)
		DO UPDATE SET device_name = EXCLUDED.device_name, is_active = true, last_seen_at = EXCLUDED.last_seen_at`
	if _, err := c.db.Exec(ctx, query, s.UserID, s.DeviceID, s.DeviceName, s.LastSeenAt); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *PostgresClient) ListActiveSessions(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	query, args, err := psql.
		Select("id::text", "device_id", "COALESCE(device_name, '')", "user_id::text",
			"is_active", "last_seen_at", "created_at").
		From("user_sessions").
		Where(sq.Eq{"user_id": userID, "is_active": true}).
		OrderBy("last_seen_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := c.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	sessions, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.DeviceSession, error) {
		var s models.DeviceSession
		err := row.Scan(&s.ID, &s.DeviceID, &s.DeviceName, &s.UserID, &s.IsActive, &s.LastSeenAt, &s.CreatedAt)
		return s, err
	})
	if err != nil {
		return nil, mapError(err)
	}
	return sessions, nil
}

func (c *PostgresClient) TouchSession(ctx context.Context, userID, deviceID string, at time.Time) error {
	query := `UPDATE user_sessions SET last_seen_at = $3, is_active = true
		WHERE user_id = $1 AND device_id = $2`
	if _, err := c.db.Exec(ctx, query, userID, deviceID, at); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *PostgresClient) DeactivateSession(ctx context.Context, userID, deviceID string) error {
	query := `UPDATE user_sessions SET is_active = false WHERE user_id = $1 AND device_id = $2`
	if _, err := c.db.Exec(ctx, query, userID, deviceID); err != nil {
		return mapError(err)
	}
	return nil
}

func (c *PostgresClient) DeleteSession(ctx context.Context, userID, deviceID string) error {
	query := `DELETE FROM user_sessions WHERE user_id = $1 AND device_id = $2`
	if _, err := c.db.Exec(ctx, query, userID, deviceID); err != nil {
		return mapError(err)
	}
	return nil
}

// DeleteInactiveSessions removes sessions last seen before the cutoff and
// returns how many were removed.
func (c *PostgresClient) DeleteInactiveSessions(ctx context.Context, userID string, before time.Time) (int64, error) {
	query, args, err := psql.Delete("user_sessions").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.Lt{"last_seen_at": before}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}
	tag, err := c.db.Exec(ctx, query, args...)
	if err != nil {
		return 0, mapError(err)
	}
	return tag.RowsAffected(), nil
}
