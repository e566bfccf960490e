// Package store is the client's local durable store: cached notes, the
// mutation queue and a metadata table, backed by SQLite.
//
// The store may be unavailable (unwritable path, corrupt file). In that case
// Init reports the failure once and every operation returns
// common.ErrLocalDataNotAvailable, so callers can fall back to remote-only
// operation instead of crashing.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/notes"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/queue"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/dbx"
)

// Stats summarizes local storage for one user.
type Stats struct {
	Notes     int `json:"notes"`
	Pending   int `json:"pending"`
	Conflicts int `json:"conflicts"`
	Queued    int `json:"queued"`
}

type LocalStore struct {
	dsn string
	now func() time.Time

	mu    sync.RWMutex
	db    *sql.DB
	notes notes.Repository
	queue queue.Repository
	meta  metadata.Repository
}

func New(dsn string) *LocalStore {
	return &LocalStore{dsn: dsn, now: time.Now}
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sql.DB) *LocalStore {
	s := New("")
	s.bind(db)
	return s
}

func (s *LocalStore) bind(db *sql.DB) {
	s.db = db
	s.notes = notes.NewSQLiteRepository(db)
	s.queue = queue.NewSQLiteRepository(db)
	s.meta = metadata.NewSQLiteRepository(db)
}

// Init opens and migrates the database. Calling it again after success is a no-op.
func (s *LocalStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := OpenDatabase(ctx, s.dsn)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrLocalDataNotAvailable, err)
	}
	s.bind(db)
	return nil
}

func (s *LocalStore) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db != nil
}

func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *LocalStore) ready() error {
	if !s.Available() {
		return common.ErrLocalDataNotAvailable
	}
	return nil
}

// Metadata exposes the bookkeeping table. It returns nil when the store is unavailable.
func (s *LocalStore) Metadata() metadata.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// SaveNote upserts note by id, stamping updated_at and the given sync status.
func (s *LocalStore) SaveNote(ctx context.Context, note *models.Note, status models.SyncStatus) error {
	if err := s.ready(); err != nil {
		return err
	}
	s.stamp(note, status)
	return s.notes.Upsert(ctx, note)
}

// CacheRemote stores an authoritative remote row as synced, keeping its timestamps.
func (s *LocalStore) CacheRemote(ctx context.Context, note *models.Note) error {
	if err := s.ready(); err != nil {
		return err
	}
	note.SyncStatus = models.SyncStatusSynced
	return s.notes.Upsert(ctx, note)
}

// RefreshNote caches a row from a remote listing unless local state is newer:
// a queued write of the note, a cached row that is not synced, or a cached
// version above the remote one. It reports whether the row was written.
func (s *LocalStore) RefreshNote(ctx context.Context, userID string, remote *models.Note) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	written := false
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		written = false
		items, err := queue.NewSQLiteRepository(tx).ListByResource(ctx, userID, models.ResourceNote, remote.ID)
		if err != nil || len(items) > 0 {
			return err
		}
		repo := notes.NewSQLiteRepository(tx)
		cur, err := repo.GetByID(ctx, remote.ID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
		case err != nil:
			return err
		case cur.SyncStatus != models.SyncStatusSynced, cur.Version > remote.Version:
			return nil
		}
		n := *remote
		n.SyncStatus = models.SyncStatusSynced
		if cur != nil {
			n.LastAccessedAt = laterOf(cur.LastAccessedAt, n.LastAccessedAt)
		}
		if err := repo.Upsert(ctx, &n); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to refresh note %s: %w", remote.ID, err)
	}
	return written, nil
}

// DropSyncedNote deletes the cached note only while it is still synced at
// version, so a local edit made since the caller looked is kept.
func (s *LocalStore) DropSyncedNote(ctx context.Context, id string, version int64) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	dropped := false
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		dropped = false
		repo := notes.NewSQLiteRepository(tx)
		cur, err := repo.GetByID(ctx, id)
		if errors.Is(err, common.ErrorNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if cur.SyncStatus != models.SyncStatusSynced || cur.Version != version {
			return nil
		}
		if err := repo.DeleteByID(ctx, id); err != nil {
			return err
		}
		dropped = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to drop note %s: %w", id, err)
	}
	return dropped, nil
}

func (s *LocalStore) stamp(note *models.Note, status models.SyncStatus) {
	now := s.now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now
	note.SyncStatus = status
}

func (s *LocalStore) GetNote(ctx context.Context, id string) (*models.Note, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.notes.GetByID(ctx, id)
}

// GetAllNotes returns the user's live notes, newest-updated first.
func (s *LocalStore) GetAllNotes(ctx context.Context, userID string) ([]models.Note, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.notes.ListByUser(ctx, userID)
}

func (s *LocalStore) NotesByStatus(ctx context.Context, userID string, status models.SyncStatus) ([]models.Note, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.notes.ListByStatus(ctx, userID, status)
}

func (s *LocalStore) SetStatus(ctx context.Context, id string, status models.SyncStatus) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.notes.SetStatus(ctx, id, status)
}

// RecentNotes returns up to limit opened notes, most recently opened first.
func (s *LocalStore) RecentNotes(ctx context.Context, userID string, limit int) ([]models.Note, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.notes.ListRecent(ctx, userID, limit)
}

func (s *LocalStore) FavoriteNotes(ctx context.Context, userID string) ([]models.Note, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.notes.ListFavorites(ctx, userID)
}

// MarkAccessed stamps the note as opened now and returns the stored row.
// Access times are not queued; they never change the note's version.
func (s *LocalStore) MarkAccessed(ctx context.Context, id string) (*models.Note, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := s.notes.SetAccessed(ctx, id, s.now()); err != nil {
		return nil, err
	}
	return s.notes.GetByID(ctx, id)
}

// DeleteNote is a hard local delete.
func (s *LocalStore) DeleteNote(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.notes.DeleteByID(ctx, id)
}

// Enqueue validates m and appends it to the queue.
func (s *LocalStore) Enqueue(ctx context.Context, userID, deviceID string, m models.Mutation) (*models.QueueItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	item, err := models.NewQueueItem(userID, deviceID, m, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.queue.Enqueue(ctx, item); err != nil {
		return nil, err
	}
	return item, nil
}

// SaveAndEnqueue writes the optimistic local state and its queued mutation in
// one transaction, so a crash cannot leave a pending note without a replay.
func (s *LocalStore) SaveAndEnqueue(ctx context.Context, note *models.Note, userID, deviceID string, m models.Mutation) (*models.QueueItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	item, err := models.NewQueueItem(userID, deviceID, m, s.now())
	if err != nil {
		return nil, err
	}
	s.stamp(note, models.SyncStatusPending)

	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := notes.NewSQLiteRepository(tx).Upsert(ctx, note); err != nil {
			return err
		}
		_, err := queue.NewSQLiteRepository(tx).Enqueue(ctx, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// DeleteAndEnqueue hard-deletes the cached note and queues the remote delete atomically.
func (s *LocalStore) DeleteAndEnqueue(ctx context.Context, id, userID, deviceID string) (*models.QueueItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	item, err := models.NewQueueItem(userID, deviceID, models.NoteDelete(id), s.now())
	if err != nil {
		return nil, err
	}

	err = dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := notes.NewSQLiteRepository(tx).DeleteByID(ctx, id); err != nil {
			return err
		}
		_, err := queue.NewSQLiteRepository(tx).Enqueue(ctx, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// QueuedFor returns the pending mutations of one resource in FIFO order.
func (s *LocalStore) QueuedFor(ctx context.Context, userID string, rt models.ResourceType, resourceID string) ([]models.QueueItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.queue.ListByResource(ctx, userID, rt, resourceID)
}

// RebaseQueuedNote moves queued note writes that were made against version
// from onto version to. It runs after an earlier write of the same note
// landed remotely, so later edits from the same offline session do not
// conflict with their own predecessor.
func (s *LocalStore) RebaseQueuedNote(ctx context.Context, userID, noteID string, from, to int64) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}

	rebased := 0
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		rebased = 0
		q := queue.NewSQLiteRepository(tx)
		items, err := q.ListByResource(ctx, userID, models.ResourceNote, noteID)
		if err != nil {
			return err
		}
		for i := range items {
			m, err := items[i].Mutation()
			if err != nil || m.Note == nil || m.Note.BaseVersion != from {
				continue
			}
			m.Note.BaseVersion = to
			if err := items[i].Rewrite(m); err != nil {
				return err
			}
			if err := q.UpdatePayload(ctx, items[i].ID, items[i].Payload); err != nil {
				return err
			}
			rebased++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to rebase queued writes of note %s: %w", noteID, err)
	}
	return rebased, nil
}

// SettleNote records a landed remote write of a note. While more writes of
// the note are still queued only the cached version moves forward, keeping
// the local edits; otherwise the remote row replaces the cache as synced.
// It reports whether the note ended up synced.
func (s *LocalStore) SettleNote(ctx context.Context, userID string, remote *models.Note) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}

	synced := false
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		synced = false
		items, err := queue.NewSQLiteRepository(tx).ListByResource(ctx, userID, models.ResourceNote, remote.ID)
		if err != nil {
			return err
		}
		repo := notes.NewSQLiteRepository(tx)
		if len(items) > 0 {
			err := repo.SetVersion(ctx, remote.ID, remote.Version)
			if errors.Is(err, common.ErrorNotFound) {
				return nil
			}
			return err
		}
		if remote.Deleted() {
			return repo.DeleteByID(ctx, remote.ID)
		}
		n := *remote
		n.SyncStatus = models.SyncStatusSynced
		cur, err := repo.GetByID(ctx, remote.ID)
		switch {
		case errors.Is(err, common.ErrorNotFound):
		case err != nil:
			return err
		default:
			n.LastAccessedAt = laterOf(cur.LastAccessedAt, n.LastAccessedAt)
		}
		if err := repo.Upsert(ctx, &n); err != nil {
			return err
		}
		synced = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to settle note %s: %w", remote.ID, err)
	}
	return synced, nil
}

func (s *LocalStore) DequeueBatch(ctx context.Context, userID string) ([]models.QueueItem, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.queue.DequeueBatch(ctx, userID)
}

func (s *LocalStore) RemoveQueued(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.queue.Remove(ctx, id)
}

// RemoveQueuedFor drops every queued mutation of one resource.
func (s *LocalStore) RemoveQueuedFor(ctx context.Context, userID string, rt models.ResourceType, resourceID string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.queue.RemoveByResource(ctx, userID, rt, resourceID)
}

func (s *LocalStore) IncrementAttempts(ctx context.Context, id int64) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.queue.IncrementAttempts(ctx, id)
}

func (s *LocalStore) ResetAttempts(ctx context.Context, userID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.queue.ResetAttempts(ctx, userID)
}

func (s *LocalStore) PendingCount(ctx context.Context, userID string) (int, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	return s.queue.Count(ctx, userID)
}

func (s *LocalStore) Stats(ctx context.Context, userID string) (Stats, error) {
	if err := s.ready(); err != nil {
		return Stats{}, err
	}

	live, err := s.notes.ListByUser(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	counts, err := s.notes.CountByStatus(ctx, userID)
	if err != nil {
		return Stats{}, err
	}
	queued, err := s.queue.Count(ctx, userID)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		Notes:     len(live),
		Pending:   counts[models.SyncStatusPending],
		Conflicts: counts[models.SyncStatusConflict],
		Queued:    queued,
	}, nil
}

// ClearAllData wipes notes, the queue and metadata. The device id survives so
// the client keeps its identity across logins.
func (s *LocalStore) ClearAllData(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}

	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := notes.NewSQLiteRepository(tx).Clear(ctx); err != nil {
			return err
		}
		if err := queue.NewSQLiteRepository(tx).Clear(ctx); err != nil {
			return err
		}
		return metadata.NewSQLiteRepository(tx).ClearExcept(ctx, common.MetaDeviceID)
	})
	if err != nil {
		return fmt.Errorf("failed to clear local data: %w", err)
	}
	return nil
}

// IsUnavailable reports whether err means the local store cannot be used.
func IsUnavailable(err error) bool {
	return errors.Is(err, common.ErrLocalDataNotAvailable)
}

func laterOf(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil || a.After(*b):
		return a
	}
	return b
}
