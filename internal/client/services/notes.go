package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/google/uuid"
)

// NoteService is what the UI layers call. Writes land in the local store
// first and reach the remote through the sync engine; a write that could not
// reach the remote is still a success for the caller, reported as Queued.
type NoteService interface {
	FetchNotes(ctx context.Context) ([]models.Note, error)
	GetNote(ctx context.Context, id string) (*models.Note, error)
	CreateNote(ctx context.Context, in models.NoteInput) (*models.SyncResult, error)
	UpdateNote(ctx context.Context, id string, patch models.NotePatch) (*models.SyncResult, error)
	DeleteNote(ctx context.Context, id string) (*models.SyncResult, error)
	ToggleFavorite(ctx context.Context, id string) (*models.SyncResult, error)
	// MarkAccessed records that the note was opened. It is not a versioned
	// write and never conflicts.
	MarkAccessed(ctx context.Context, id string) (*models.Note, error)
	RecentNotes(ctx context.Context, limit int) ([]models.Note, error)
	FavoriteNotes(ctx context.Context) ([]models.Note, error)
	// RefreshFromRemote merges the remote listing into the cache, leaving
	// notes with unsynced local state alone.
	RefreshFromRemote(ctx context.Context) error
}

// DefaultRecentLimit caps RecentNotes when no limit is given.
const DefaultRecentLimit = 10

type noteService struct {
	store    LocalStore
	remote   remote.NoteStore
	engine   SyncEngine
	ident    Identity
	net      Connectivity
	deviceID string
	logger   logging.Logger
}

func NewNoteService(st LocalStore, rem remote.NoteStore, engine SyncEngine, ident Identity,
	net Connectivity, deviceID string, logger logging.Logger) NoteService {
	return &noteService{
		store:    st,
		remote:   rem,
		engine:   engine,
		ident:    ident,
		net:      net,
		deviceID: deviceID,
		logger:   logger.With("component", "sync"),
	}
}

func (s *noteService) online() bool {
	return s.net == nil || s.net.Online()
}

func (s *noteService) FetchNotes(ctx context.Context) ([]models.Note, error) {
	userID, err := s.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}

	if !s.store.Available() {
		notes, err := s.remote.ListNotes(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list remote notes: %w", err)
		}
		return notes, nil
	}

	if s.online() {
		if err := s.RefreshFromRemote(ctx); err != nil {
			s.logger.Warn(ctx, "serving cached notes, remote refresh failed", "error", err)
		}
	}
	return s.store.GetAllNotes(ctx, userID)
}

func (s *noteService) GetNote(ctx context.Context, id string) (*models.Note, error) {
	n, err := s.store.GetNote(ctx, id)
	if !store.IsUnavailable(err) {
		return n, err
	}

	userID, err := s.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}
	return s.remote.GetNote(ctx, userID, id)
}

// RefreshFromRemote reads the cache before the remote listing, so a note
// that lands remotely in between is seen as unsynced and skipped. The store
// checks again when writing, which keeps rows a drain or an edit moved past
// the listing.
func (s *noteService) RefreshFromRemote(ctx context.Context) error {
	userID, err := s.ident.UserID(ctx)
	if err != nil {
		return err
	}
	local, err := s.store.GetAllNotes(ctx, userID)
	if err != nil {
		return err
	}
	remoteNotes, err := s.remote.ListNotes(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list remote notes: %w", err)
	}

	seen := make(map[string]bool, len(remoteNotes))
	for i := range remoteNotes {
		seen[remoteNotes[i].ID] = true
		if _, err := s.store.RefreshNote(ctx, userID, &remoteNotes[i]); err != nil {
			return err
		}
	}

	// synced rows missing remotely were deleted on another device
	for _, n := range local {
		if seen[n.ID] || n.SyncStatus != models.SyncStatusSynced {
			continue
		}
		if _, err := s.store.DropSyncedNote(ctx, n.ID, n.Version); err != nil {
			return err
		}
	}
	return nil
}

func (s *noteService) CreateNote(ctx context.Context, in models.NoteInput) (*models.SyncResult, error) {
	userID, err := s.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}

	n := &models.Note{
		ID:       uuid.NewString(),
		UserID:   userID,
		Title:    in.Title,
		Content:  in.Content,
		Path:     in.Path,
		ParentID: in.ParentID,
		IsFolder: in.IsFolder,
		// the version the remote insert establishes
		Version:  1,
		DeviceID: s.deviceID,
	}
	return s.save(ctx, n, models.NoteCreate(models.NotePayloadFrom(n)))
}

func (s *noteService) UpdateNote(ctx context.Context, id string, patch models.NotePatch) (*models.SyncResult, error) {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Deleted() {
		return nil, common.ErrorNotFound
	}
	patch.Apply(n)
	n.DeviceID = s.deviceID
	return s.save(ctx, n, models.NoteUpdate(models.NotePayloadFrom(n)))
}

func (s *noteService) DeleteNote(ctx context.Context, id string) (*models.SyncResult, error) {
	if _, err := s.GetNote(ctx, id); err != nil {
		return nil, err
	}
	return s.save(ctx, nil, models.NoteDelete(id))
}

func (s *noteService) ToggleFavorite(ctx context.Context, id string) (*models.SyncResult, error) {
	n, err := s.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	fav := !n.IsFavorite
	return s.UpdateNote(ctx, id, models.NotePatch{IsFavorite: &fav})
}

func (s *noteService) MarkAccessed(ctx context.Context, id string) (*models.Note, error) {
	userID, err := s.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}

	n, err := s.store.MarkAccessed(ctx, id)
	if store.IsUnavailable(err) {
		if err := s.remote.TouchNote(ctx, userID, id, time.Now()); err != nil {
			return nil, fmt.Errorf("failed to mark note accessed: %w", err)
		}
		return s.remote.GetNote(ctx, userID, id)
	}
	if err != nil {
		return nil, err
	}

	if s.online() && n.SyncStatus == models.SyncStatusSynced {
		if err := s.remote.TouchNote(ctx, userID, id, *n.LastAccessedAt); err != nil {
			s.logger.Warn(ctx, "failed to record access remotely", "note_id", id, "error", err)
		}
	}
	return n, nil
}

// RecentNotes serves the cache; limit <= 0 means DefaultRecentLimit.
func (s *noteService) RecentNotes(ctx context.Context, limit int) ([]models.Note, error) {
	userID, err := s.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if !s.store.Available() {
		notes, err := s.remote.RecentNotes(ctx, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent notes: %w", err)
		}
		return notes, nil
	}
	return s.store.RecentNotes(ctx, userID, limit)
}

func (s *noteService) FavoriteNotes(ctx context.Context) ([]models.Note, error) {
	userID, err := s.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}
	if !s.store.Available() {
		notes, err := s.remote.FavoriteNotes(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to list favorite notes: %w", err)
		}
		return notes, nil
	}
	return s.store.FavoriteNotes(ctx, userID)
}

func (s *noteService) save(ctx context.Context, n *models.Note, m models.Mutation) (*models.SyncResult, error) {
	res, err := s.engine.SaveNote(ctx, n, m)
	if errors.Is(err, common.ErrUnavailable) && res != nil && res.Queued {
		s.logger.Info(ctx, "remote unreachable, change queued", "resource_id", m.ResourceID, "action", m.Action)
		return res, nil
	}
	return res, err
}

// TagService manages tags. Tags are not cached locally; their writes go
// through the mutation queue like notes.
type TagService interface {
	CreateTag(ctx context.Context, name string, color *string) (*models.Tag, error)
	UpdateTag(ctx context.Context, id, name string, color *string) (*models.Tag, error)
	DeleteTag(ctx context.Context, id string) error
}

type tagService struct {
	engine SyncEngine
	ident  Identity
}

func NewTagService(engine SyncEngine, ident Identity) TagService {
	return &tagService{engine: engine, ident: ident}
}

func (s *tagService) CreateTag(ctx context.Context, name string, color *string) (*models.Tag, error) {
	return s.upsert(ctx, models.ActionCreate, uuid.NewString(), name, color)
}

func (s *tagService) UpdateTag(ctx context.Context, id, name string, color *string) (*models.Tag, error) {
	return s.upsert(ctx, models.ActionUpdate, id, name, color)
}

func (s *tagService) upsert(ctx context.Context, action models.Action, id, name string, color *string) (*models.Tag, error) {
	userID, err := s.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}
	p := &models.TagPayload{ID: id, Name: name, Color: color}
	if _, err := s.engine.SaveNote(ctx, nil, models.TagUpsert(action, p)); err != nil && !errors.Is(err, common.ErrUnavailable) {
		return nil, err
	}
	return &models.Tag{ID: id, UserID: userID, Name: name, Color: color}, nil
}

func (s *tagService) DeleteTag(ctx context.Context, id string) error {
	_, err := s.engine.SaveNote(ctx, nil, models.TagDelete(id))
	if errors.Is(err, common.ErrUnavailable) {
		return nil
	}
	return err
}
