package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// MergeSeparator sits between the local and the remote text of a merge.
const MergeSeparator = "\n\n--- Merged from other device ---\n"

type ConflictResolver interface {
	// Resolve applies strategy to c and returns the note as it now stands.
	// When another write raced in, it returns a *models.ConflictError with
	// the new conflict and the caller may try again.
	Resolve(ctx context.Context, c models.SyncConflict, strategy models.Strategy) (*models.Note, error)
}

// MergeContent keeps both texts: identical texts stay as they are, an empty
// side yields the other one, otherwise remote is appended to local.
func MergeContent(local, remote string) string {
	switch {
	case local == remote:
		return local
	case strings.TrimSpace(local) == "":
		return remote
	case strings.TrimSpace(remote) == "":
		return local
	}
	return local + MergeSeparator + remote
}

func (e *syncEngine) Resolve(ctx context.Context, c models.SyncConflict, strategy models.Strategy) (*models.Note, error) {
	if _, err := models.ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}
	if !e.busy.CompareAndSwap(false, true) {
		return nil, common.ErrSyncInProgress
	}
	defer e.busy.Store(false)

	return e.resolve(ctx, c, strategy)
}

func (e *syncEngine) resolve(ctx context.Context, c models.SyncConflict, strategy models.Strategy) (*models.Note, error) {
	userID, err := e.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}

	cur, err := e.remote.GetNote(ctx, userID, c.NoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load remote note: %w", err)
	}

	var result *models.Note
	switch strategy {
	case models.StrategyRemote:
		result = cur

	case models.StrategyLocal, models.StrategyMerge:
		local := e.localSide(ctx, c, cur)
		if strategy == models.StrategyMerge {
			local.Content = MergeContent(local.Content, cur.Content)
		}

		w := remote.NoteWrite{
			NoteID:      c.NoteID,
			UserID:      userID,
			DeviceID:    e.opts.DeviceID,
			Title:       local.Title,
			Content:     local.Content,
			Path:        local.Path,
			IsFavorite:  local.IsFavorite,
			BaseVersion: cur.Version,
		}
		p := models.NotePayloadFrom(local)
		p.BaseVersion = cur.Version
		res, err := e.update(ctx, w, p)
		if err != nil {
			return nil, fmt.Errorf("failed to write resolution: %w", err)
		}
		if res.Conflict != nil {
			e.addConflict(ctx, *res.Conflict)
			return nil, &models.ConflictError{Conflict: *res.Conflict}
		}
		result = res.Note

	default:
		return nil, fmt.Errorf("%w: %q", common.ErrUnknownStrategy, strategy)
	}

	if _, err := e.store.RemoveQueuedFor(ctx, userID, models.ResourceNote, c.NoteID); err != nil && !store.IsUnavailable(err) {
		return nil, fmt.Errorf("failed to drop superseded writes: %w", err)
	}
	if err := e.cacheResolved(ctx, result); err != nil {
		e.logger.Warn(ctx, "failed to cache resolved note", "note_id", c.NoteID, "error", err)
	}
	e.clearConflict(ctx, c.NoteID)
	e.publishPending(ctx, userID)

	e.logger.Info(ctx, "conflict resolved", "note_id", c.NoteID, "strategy", strategy, "version", result.Version)
	return result, nil
}

// localSide is the local state to write back: the cached note when there is
// one, otherwise what the conflict recorded.
func (e *syncEngine) localSide(ctx context.Context, c models.SyncConflict, cur *models.Note) *models.Note {
	n, err := e.store.GetNote(ctx, c.NoteID)
	if err == nil {
		local := *n
		return &local
	}
	local := *cur
	local.Title = c.LocalTitle
	local.Content = c.LocalContent
	return &local
}

func (e *syncEngine) cacheResolved(ctx context.Context, n *models.Note) error {
	var err error
	if n.Deleted() {
		err = e.store.DeleteNote(ctx, n.ID)
	} else {
		err = e.store.CacheRemote(ctx, n)
	}
	if store.IsUnavailable(err) {
		return nil
	}
	return err
}

