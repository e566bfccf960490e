// Package queue persists the mutation queue: an ordered, durable log of
// pending create/update/delete operations with retry-attempt counters.
package queue

import (
	"context"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

type Repository interface {
	// Enqueue appends item durably and returns its assigned id.
	Enqueue(ctx context.Context, item *models.QueueItem) (int64, error)

	// DequeueBatch returns every pending item of the user in FIFO order
	// (timestamp ascending, then id). Items are not removed.
	DequeueBatch(ctx context.Context, userID string) ([]models.QueueItem, error)

	// ListByResource returns the queued items of one resource in FIFO order.
	ListByResource(ctx context.Context, userID string, resourceType models.ResourceType, resourceID string) ([]models.QueueItem, error)
	UpdatePayload(ctx context.Context, id int64, payload []byte) error

	Remove(ctx context.Context, id int64) error
	RemoveByResource(ctx context.Context, userID string, resourceType models.ResourceType, resourceID string) (int64, error)

	// IncrementAttempts bumps the counter and returns the new value.
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	ResetAttempts(ctx context.Context, userID string) error

	Count(ctx context.Context, userID string) (int, error)
	Clear(ctx context.Context) error
}
