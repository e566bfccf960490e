// Package metadata stores small local bookkeeping values (device identity,
// session token, last sync time, failed changes) in a key/value table.
package metadata

import (
	"context"
	"time"
)

type Repository interface {
	// Get returns (nil, nil) when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error

	// ClearExcept removes every key but the listed ones.
	ClearExcept(ctx context.Context, keep ...string) error

	GetTime(ctx context.Context, key string) (time.Time, error)
	SetTime(ctx context.Context, key string, t time.Time) error
	GetJSON(ctx context.Context, key string, dst any) (bool, error)
	SetJSON(ctx context.Context, key string, v any) error
}
