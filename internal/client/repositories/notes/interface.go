package notes

import (
	"context"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// Repository describes local storage of cached notes.
type Repository interface {
	// Upsert inserts or replaces a note by ID.
	Upsert(ctx context.Context, note *models.Note) error

	// GetByID returns common.ErrorNotFound when the note is not cached.
	GetByID(ctx context.Context, id string) (*models.Note, error)

	// ListByUser returns the user's live notes, newest-updated first.
	ListByUser(ctx context.Context, userID string) ([]models.Note, error)

	ListByStatus(ctx context.Context, userID string, status models.SyncStatus) ([]models.Note, error)
	// ListRecent orders opened notes by last access, newest first.
	ListRecent(ctx context.Context, userID string, limit int) ([]models.Note, error)
	ListFavorites(ctx context.Context, userID string) ([]models.Note, error)
	SetStatus(ctx context.Context, id string, status models.SyncStatus) error
	// SetVersion records the last remote version observed for a cached note
	// without touching its content or status.
	SetVersion(ctx context.Context, id string, version int64) error
	SetAccessed(ctx context.Context, id string, at time.Time) error
	CountByStatus(ctx context.Context, userID string) (map[models.SyncStatus]int, error)

	DeleteByID(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}
