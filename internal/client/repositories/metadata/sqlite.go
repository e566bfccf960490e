package metadata

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dmitrijs2005/notesync/internal/dbx"
)

// SQLiteRepository keeps metadata as key/value rows in the local database.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

type entry struct {
	Key   string `db:"key"`
	Value []byte `db:"value"`
}

// Get returns nil, nil for an absent key.
func (r *SQLiteRepository) Get(ctx context.Context, key string) ([]byte, error) {
	q, args, err := sq.Select("key", "value").From("metadata").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return nil, err
	}
	e, err := dbx.ScanOne[entry](ctx, r.db, q, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return e.Value, nil
}

func (r *SQLiteRepository) Set(ctx context.Context, key string, value []byte) error {
	q, args, err := sq.Insert("metadata").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
		ToSql()
	if err == nil {
		_, err = r.db.ExecContext(ctx, q, args...)
	}
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, key string) error {
	if err := r.exec(ctx, sq.Delete("metadata").Where(sq.Eq{"key": key})); err != nil {
		return fmt.Errorf("failed to delete metadata[%s]: %w", key, err)
	}
	return nil
}

func (r *SQLiteRepository) Clear(ctx context.Context) error {
	return r.ClearExcept(ctx)
}

// ClearExcept deletes every key but keep.
func (r *SQLiteRepository) ClearExcept(ctx context.Context, keep ...string) error {
	del := sq.Delete("metadata")
	if len(keep) > 0 {
		del = del.Where(sq.NotEq{"key": keep})
	}
	if err := r.exec(ctx, del); err != nil {
		return fmt.Errorf("failed to clear metadata: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) exec(ctx context.Context, b sq.DeleteBuilder) error {
	q, args, err := b.ToSql()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

func (r *SQLiteRepository) List(ctx context.Context) (map[string][]byte, error) {
	entries, err := dbx.ScanAll[entry](ctx, r.db, `SELECT key, value FROM metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		out[e.Key] = e.Value
	}
	return out, nil
}

// GetTime returns the zero time when the key is absent.
func (r *SQLiteRepository) GetTime(ctx context.Context, key string) (time.Time, error) {
	v, err := r.Get(ctx, key)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, string(v))
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse metadata[%s]: %w", key, err)
	}
	return t, nil
}

func (r *SQLiteRepository) SetTime(ctx context.Context, key string, t time.Time) error {
	return r.Set(ctx, key, []byte(t.UTC().Format(time.RFC3339Nano)))
}

// GetJSON decodes the stored value into dst and reports whether the key existed.
func (r *SQLiteRepository) GetJSON(ctx context.Context, key string, dst any) (bool, error) {
	v, err := r.Get(ctx, key)
	if err != nil || v == nil {
		return false, err
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return true, fmt.Errorf("failed to decode metadata[%s]: %w", key, err)
	}
	return true, nil
}

func (r *SQLiteRepository) SetJSON(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode metadata[%s]: %w", key, err)
	}
	return r.Set(ctx, key, b)
}
