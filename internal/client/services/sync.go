package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/client/status"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

// LocalStore is the part of the local durable store the services use.
type LocalStore interface {
	Available() bool
	Metadata() metadata.Repository

	GetNote(ctx context.Context, id string) (*models.Note, error)
	GetAllNotes(ctx context.Context, userID string) ([]models.Note, error)
	SaveNote(ctx context.Context, note *models.Note, status models.SyncStatus) error
	CacheRemote(ctx context.Context, note *models.Note) error
	RefreshNote(ctx context.Context, userID string, remote *models.Note) (bool, error)
	DropSyncedNote(ctx context.Context, id string, version int64) (bool, error)
	SetStatus(ctx context.Context, id string, status models.SyncStatus) error
	DeleteNote(ctx context.Context, id string) error
	RecentNotes(ctx context.Context, userID string, limit int) ([]models.Note, error)
	FavoriteNotes(ctx context.Context, userID string) ([]models.Note, error)
	MarkAccessed(ctx context.Context, id string) (*models.Note, error)

	Enqueue(ctx context.Context, userID, deviceID string, m models.Mutation) (*models.QueueItem, error)
	SaveAndEnqueue(ctx context.Context, note *models.Note, userID, deviceID string, m models.Mutation) (*models.QueueItem, error)
	DeleteAndEnqueue(ctx context.Context, id, userID, deviceID string) (*models.QueueItem, error)
	QueuedFor(ctx context.Context, userID string, rt models.ResourceType, resourceID string) ([]models.QueueItem, error)
	RebaseQueuedNote(ctx context.Context, userID, noteID string, from, to int64) (int, error)
	SettleNote(ctx context.Context, userID string, remote *models.Note) (bool, error)
	DequeueBatch(ctx context.Context, userID string) ([]models.QueueItem, error)
	RemoveQueued(ctx context.Context, id int64) error
	RemoveQueuedFor(ctx context.Context, userID string, rt models.ResourceType, resourceID string) (int64, error)
	IncrementAttempts(ctx context.Context, id int64) (int, error)
	ResetAttempts(ctx context.Context, userID string) error
	PendingCount(ctx context.Context, userID string) (int, error)
}

// SyncRemote is the part of the remote store the sync engine writes to.
type SyncRemote interface {
	remote.NoteStore
	remote.TagStore
}

// Identity resolves the signed-in user.
type Identity interface {
	UserID(ctx context.Context) (string, error)
}

// Connectivity tells whether the remote is currently reachable.
type Connectivity interface {
	Online() bool
}

type SyncEngine interface {
	// SaveNote records m locally (note is the optimistic local state, nil for
	// deletes and tags) and tries to write it remotely right away. A result
	// with Queued set means the write waits in the queue; a transport
	// failure queues the write and returns an error wrapping
	// common.ErrUnavailable.
	SaveNote(ctx context.Context, note *models.Note, m models.Mutation) (*models.SyncResult, error)
	// Apply performs the remote write of one queued item without touching
	// local state.
	Apply(ctx context.Context, item *models.QueueItem) (*models.SyncResult, error)
	Drain(ctx context.Context) (*models.SyncStats, error)
	ForceSyncAll(ctx context.Context) (*models.SyncStats, error)
	RetryFailedSyncs(ctx context.Context) (*models.SyncStats, error)
	Probe(ctx context.Context) (status.Consistency, error)
	Run(ctx context.Context) error

	Conflicts(ctx context.Context) ([]models.SyncConflict, error)
	FailedChanges(ctx context.Context) ([]models.FailedChange, error)

	ConflictResolver
}

type SyncOptions struct {
	DeviceID        string
	DrainInterval   time.Duration
	MaxAttempts     int
	DefaultStrategy models.Strategy
}

type syncEngine struct {
	store   LocalStore
	remote  SyncRemote
	ident   Identity
	net     Connectivity
	tracker *status.Tracker
	logger  logging.Logger
	opts    SyncOptions
	now     func() time.Time

	busy     atomic.Bool
	degraded atomic.Bool
	passes   atomic.Uint64

	// used while the local store is unavailable
	mu        sync.Mutex
	conflicts map[string]models.SyncConflict
	failed    []models.FailedChange
}

func NewSyncEngine(st LocalStore, rem SyncRemote, ident Identity, net Connectivity,
	tracker *status.Tracker, opts SyncOptions, logger logging.Logger) SyncEngine {
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if tracker == nil {
		tracker = status.NewTracker()
	}
	return &syncEngine{
		store:     st,
		remote:    rem,
		ident:     ident,
		net:       net,
		tracker:   tracker,
		logger:    logger.With("component", "sync"),
		opts:      opts,
		now:       time.Now,
		conflicts: make(map[string]models.SyncConflict),
	}
}

func (e *syncEngine) online() bool {
	return e.net == nil || e.net.Online()
}

func (e *syncEngine) SaveNote(ctx context.Context, note *models.Note, m models.Mutation) (*models.SyncResult, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	userID, err := e.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}

	var item *models.QueueItem
	switch {
	case m.ResourceType == models.ResourceNote && m.Action == models.ActionDelete:
		item, err = e.store.DeleteAndEnqueue(ctx, m.ResourceID, userID, e.opts.DeviceID)
	case note != nil:
		item, err = e.store.SaveAndEnqueue(ctx, note, userID, e.opts.DeviceID, m)
	default:
		item, err = e.store.Enqueue(ctx, userID, e.opts.DeviceID, m)
	}
	if store.IsUnavailable(err) {
		return e.saveRemoteOnly(ctx, userID, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save locally: %w", err)
	}
	queued := &models.SyncResult{Note: note, Queued: true}
	e.publishPending(ctx, userID)

	// an unresolved conflict holds back every later write of the note
	if _, blocked := e.conflictFor(ctx, m); blocked {
		if err := e.store.SetStatus(ctx, m.ResourceID, models.SyncStatusConflict); err != nil {
			e.logger.Warn(ctx, "failed to flag conflicting note", "note_id", m.ResourceID, "error", err)
		}
		return queued, nil
	}
	if !e.online() {
		return queued, nil
	}

	// earlier writes of the same resource go first
	items, err := e.store.QueuedFor(ctx, userID, m.ResourceType, m.ResourceID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 || items[0].ID != item.ID {
		return queued, nil
	}
	if !e.busy.CompareAndSwap(false, true) {
		return queued, nil
	}
	defer e.busy.Store(false)

	res, err := e.replay(ctx, item)
	if err != nil {
		e.recordFailure(ctx, item, err)
		e.publishPending(ctx, userID)
		if errors.Is(err, common.ErrUnavailable) {
			return queued, fmt.Errorf("remote write deferred: %w", err)
		}
		return nil, err
	}
	e.publishPending(ctx, userID)
	return res, nil
}

// saveRemoteOnly writes straight to the remote store when there is no local
// store to queue in.
func (e *syncEngine) saveRemoteOnly(ctx context.Context, userID string, m models.Mutation) (*models.SyncResult, error) {
	e.logger.Warn(ctx, "local store unavailable, writing remotely only", "resource", m.ResourceID)
	item, err := models.NewQueueItem(userID, e.opts.DeviceID, m, e.now())
	if err != nil {
		return nil, err
	}
	res, err := e.Apply(ctx, item)
	if err != nil {
		return nil, err
	}
	if res.Conflict != nil {
		e.addConflict(ctx, *res.Conflict)
	}
	return res, nil
}

func (e *syncEngine) Apply(ctx context.Context, item *models.QueueItem) (*models.SyncResult, error) {
	m, err := item.Mutation()
	if err != nil {
		return nil, err
	}

	switch m.ResourceType {
	case models.ResourceTag:
		if m.Action == models.ActionDelete {
			err = e.remote.DeleteTag(ctx, item.UserID, m.ResourceID)
		} else {
			err = e.remote.UpsertTag(ctx, &models.Tag{
				ID:        m.Tag.ID,
				UserID:    item.UserID,
				Name:      m.Tag.Name,
				Color:     m.Tag.Color,
				CreatedAt: item.Timestamp,
			})
		}
		if err != nil {
			return nil, err
		}
		return &models.SyncResult{}, nil
	}

	switch m.Action {
	case models.ActionCreate:
		n := noteFromPayload(item, m.Note)
		stored, err := e.remote.InsertNote(ctx, n)
		if err != nil {
			return nil, err
		}
		return &models.SyncResult{Note: stored}, nil

	case models.ActionDelete:
		if err := e.remote.SoftDelete(ctx, item.UserID, m.ResourceID, item.DeviceID); err != nil {
			return nil, err
		}
		return &models.SyncResult{}, nil
	}

	w := remote.WriteFromPayload(item.UserID, item.DeviceID, m.Note)
	return e.update(ctx, w, m.Note)
}

// update writes w, conditionally unless the server lacks the compare-and-set
// routine.
func (e *syncEngine) update(ctx context.Context, w remote.NoteWrite, p *models.NotePayload) (*models.SyncResult, error) {
	if !e.degraded.Load() {
		res, err := e.remote.ConditionalUpdate(ctx, w)
		switch {
		case errors.Is(err, remote.ErrConditionalUnsupported):
			e.degrade(ctx)
		case err != nil:
			return nil, err
		case res.Conflict:
			return e.conflictResult(ctx, w, p)
		default:
			return &models.SyncResult{Note: res.Note}, nil
		}
	}

	n, err := e.remote.UnconditionalUpdate(ctx, w)
	if err != nil {
		return nil, err
	}
	return &models.SyncResult{Note: n}, nil
}

func (e *syncEngine) conflictResult(ctx context.Context, w remote.NoteWrite, p *models.NotePayload) (*models.SyncResult, error) {
	cur, err := e.remote.GetNote(ctx, w.UserID, w.NoteID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conflicting note: %w", err)
	}

	// A replay of a write that already landed: the server holds exactly
	// this edit, one version past its base.
	if cur.DeviceID == w.DeviceID && cur.Version == w.BaseVersion+1 &&
		cur.Title == w.Title && cur.Content == w.Content && !cur.Deleted() {
		return &models.SyncResult{Note: cur}, nil
	}

	c := models.SyncConflict{
		NoteID:        w.NoteID,
		LocalVersion:  p.BaseVersion,
		RemoteVersion: cur.Version,
		LocalContent:  p.Content,
		RemoteContent: cur.Content,
		LocalTitle:    p.Title,
		RemoteTitle:   cur.Title,
		LastModified:  cur.UpdatedAt,
	}
	return &models.SyncResult{Conflict: &c}, nil
}

func (e *syncEngine) degrade(ctx context.Context) {
	if e.degraded.CompareAndSwap(false, true) {
		e.logger.Warn(ctx, "conditional update unavailable, writes are no longer version checked")
		e.tracker.SetConsistency(status.ConsistencyDegraded)
	}
}

func noteFromPayload(item *models.QueueItem, p *models.NotePayload) *models.Note {
	return &models.Note{
		ID:         p.ID,
		UserID:     item.UserID,
		Title:      p.Title,
		Content:    p.Content,
		Path:       p.Path,
		ParentID:   p.ParentID,
		IsFolder:   p.IsFolder,
		IsFavorite: p.IsFavorite,
		Version:    1,
		DeviceID:   item.DeviceID,
		CreatedAt:  item.Timestamp,
		UpdatedAt:  item.Timestamp,
	}
}

// replay applies a queued item and does the local bookkeeping of its
// outcome. A conflict leaves the item queued.
func (e *syncEngine) replay(ctx context.Context, item *models.QueueItem) (*models.SyncResult, error) {
	res, err := e.Apply(ctx, item)
	if err != nil {
		return nil, err
	}
	if res.Conflict != nil {
		e.addConflict(ctx, *res.Conflict)
		return res, nil
	}

	if err := e.store.RemoveQueued(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("failed to dequeue %d: %w", item.ID, err)
	}

	if item.ResourceType == models.ResourceNote && res.Note != nil {
		if err := e.settle(ctx, item, res.Note); err != nil {
			e.logger.Warn(ctx, "failed to update cached note", "note_id", item.ResourceID, "error", err)
		}
	}
	return res, nil
}

func (e *syncEngine) settle(ctx context.Context, item *models.QueueItem, n *models.Note) error {
	if item.Action == models.ActionUpdate {
		m, err := item.Mutation()
		if err != nil {
			return err
		}
		if _, err := e.store.RebaseQueuedNote(ctx, item.UserID, n.ID, m.Note.BaseVersion, n.Version); err != nil {
			return err
		}
	}
	_, err := e.store.SettleNote(ctx, item.UserID, n)
	return err
}

// recordFailure counts a failed attempt and abandons the item at the ceiling.
// It reports whether the item was dropped.
func (e *syncEngine) recordFailure(ctx context.Context, item *models.QueueItem, cause error) bool {
	attempts := e.opts.MaxAttempts
	if !errors.Is(cause, common.ErrInvalidMutation) {
		n, err := e.store.IncrementAttempts(ctx, item.ID)
		if err != nil {
			e.logger.Warn(ctx, "failed to count sync attempt", "item", item.ID, "error", err)
			return false
		}
		attempts = n
	}
	if attempts < e.opts.MaxAttempts {
		e.logger.Info(ctx, "sync attempt failed", "item", item.ID, "attempts", attempts, "error", cause)
		return false
	}

	if err := e.store.RemoveQueued(ctx, item.ID); err != nil {
		e.logger.Warn(ctx, "failed to drop queue item", "item", item.ID, "error", err)
		return false
	}
	item.Attempts = attempts
	fc := models.FailedChange{Item: *item, Error: cause.Error(), FailedAt: e.now().UTC()}
	failed, _ := e.FailedChanges(ctx)
	failed = append(failed, fc)
	e.saveFailed(ctx, failed)

	e.logger.Error(ctx, "change abandoned after repeated failures",
		"item", item.ID, "action", item.Action, "resource_type", item.ResourceType,
		"resource_id", item.ResourceID, "attempts", attempts, "error", cause)
	return true
}

func (e *syncEngine) Drain(ctx context.Context) (*models.SyncStats, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, common.ErrSyncInProgress
	}
	defer e.busy.Store(false)

	e.tracker.SetSyncing(true)
	defer e.tracker.SetSyncing(false)

	return e.drain(logging.ContextWith(ctx, "pass", e.passes.Add(1)))
}

func resourceKey(rt models.ResourceType, id string) string {
	return string(rt) + ":" + id
}

func (e *syncEngine) drain(ctx context.Context) (*models.SyncStats, error) {
	userID, err := e.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}
	items, err := e.store.DequeueBatch(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	conflicts, err := e.Conflicts(ctx)
	if err != nil {
		return nil, err
	}
	blocked := make(map[string]bool, len(conflicts))
	for _, c := range conflicts {
		blocked[resourceKey(models.ResourceNote, c.NoteID)] = true
	}

	stats := &models.SyncStats{TotalNotes: len(items)}
	failed := make(map[string]bool)
	for i := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		item := &items[i]
		key := resourceKey(item.ResourceType, item.ResourceID)

		switch {
		case blocked[key]:
			stats.Conflicts++
			continue
		case failed[key]:
			stats.Deferred++
			continue
		}

		res, err := e.replay(ctx, item)
		switch {
		case err != nil:
			stats.Errors++
			failed[key] = true
			if e.recordFailure(ctx, item, err) {
				stats.Dropped++
			}
		case res.Conflict != nil:
			stats.Conflicts++
			blocked[key] = true
		default:
			stats.Synced++
			if res.Note != nil {
				if err := rebaseBatch(items[i+1:], item, res.Note.Version); err != nil {
					e.logger.Warn(ctx, "failed to rebase queued writes", "note_id", item.ResourceID, "error", err)
				}
			}
		}
	}

	if e.opts.DefaultStrategy != "" && stats.Conflicts > 0 {
		e.autoResolve(ctx)
	}

	e.publishPending(ctx, userID)
	if stats.Errors == 0 {
		at := e.now().UTC()
		if meta := e.store.Metadata(); meta != nil {
			if err := meta.SetTime(ctx, common.MetaLastSyncAt, at); err != nil {
				e.logger.Warn(ctx, "failed to record last sync time", "error", err)
			}
		}
		e.tracker.SetLastSync(at)
	}

	if stats.TotalNotes > 0 {
		e.logger.Info(ctx, "sync pass finished", "total", stats.TotalNotes, "synced", stats.Synced,
			"conflicts", stats.Conflicts, "errors", stats.Errors, "dropped", stats.Dropped)
	}
	return stats, nil
}

// rebaseBatch mirrors RebaseQueuedNote on the in-memory rest of a batch.
// An item that cannot be rewritten keeps its payload and is reported.
func rebaseBatch(rest []models.QueueItem, landed *models.QueueItem, version int64) error {
	if landed.ResourceType != models.ResourceNote || landed.Action != models.ActionUpdate {
		return nil
	}
	m, err := landed.Mutation()
	if err != nil {
		return nil
	}
	from := m.Note.BaseVersion
	var errs []error
	for i := range rest {
		it := &rest[i]
		if it.ResourceType != models.ResourceNote || it.ResourceID != landed.ResourceID {
			continue
		}
		next, err := it.Mutation()
		if err != nil || next.Note == nil || next.Note.BaseVersion != from {
			continue
		}
		next.Note.BaseVersion = version
		if err := it.Rewrite(next); err != nil {
			errs = append(errs, fmt.Errorf("queue item %d: %w", it.ID, err))
		}
	}
	return errors.Join(errs...)
}

func (e *syncEngine) autoResolve(ctx context.Context) {
	conflicts, err := e.Conflicts(ctx)
	if err != nil {
		return
	}
	for _, c := range conflicts {
		if _, err := e.resolve(ctx, c, e.opts.DefaultStrategy); err != nil {
			e.logger.Warn(ctx, "automatic conflict resolution failed",
				"note_id", c.NoteID, "strategy", e.opts.DefaultStrategy, "error", err)
			continue
		}
		e.logger.Info(ctx, "conflict resolved automatically", "note_id", c.NoteID, "strategy", e.opts.DefaultStrategy)
	}
}

func (e *syncEngine) ForceSyncAll(ctx context.Context) (*models.SyncStats, error) {
	e.logger.Info(ctx, "manual sync requested")
	return e.Drain(ctx)
}

// RetryFailedSyncs puts abandoned changes back on the queue with a fresh
// attempt budget and drains.
func (e *syncEngine) RetryFailedSyncs(ctx context.Context) (*models.SyncStats, error) {
	userID, err := e.ident.UserID(ctx)
	if err != nil {
		return nil, err
	}
	failed, err := e.FailedChanges(ctx)
	if err != nil {
		return nil, err
	}

	var keep []models.FailedChange
	for _, fc := range failed {
		if fc.Item.UserID != userID {
			keep = append(keep, fc)
			continue
		}
		m, err := fc.Item.Mutation()
		if err != nil {
			e.logger.Warn(ctx, "discarding undecodable failed change", "item", fc.Item.ID, "error", err)
			continue
		}
		if _, err := e.store.Enqueue(ctx, userID, fc.Item.DeviceID, m); err != nil {
			return nil, fmt.Errorf("failed to requeue change: %w", err)
		}
	}
	e.saveFailed(ctx, keep)

	if err := e.store.ResetAttempts(ctx, userID); err != nil {
		return nil, err
	}
	return e.Drain(ctx)
}

// Probe checks once whether the server offers the conditional update and
// picks the consistency mode accordingly.
func (e *syncEngine) Probe(ctx context.Context) (status.Consistency, error) {
	ok, err := e.remote.SupportsConditionalUpdate(ctx)
	if err != nil {
		return status.ConsistencyUnknown, fmt.Errorf("failed to probe conditional update: %w", err)
	}
	if !ok {
		e.degrade(ctx)
		return status.ConsistencyDegraded, nil
	}
	e.degraded.Store(false)
	e.tracker.SetConsistency(status.ConsistencyStrict)
	return status.ConsistencyStrict, nil
}

// Run drains the queue every DrainInterval while online until ctx is done.
func (e *syncEngine) Run(ctx context.Context) error {
	t := time.NewTicker(e.opts.DrainInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.tick(ctx)
		}
	}
}

func (e *syncEngine) tick(ctx context.Context) {
	if !e.online() {
		return
	}
	userID, err := e.ident.UserID(ctx)
	if err != nil {
		return
	}
	n, err := e.store.PendingCount(ctx, userID)
	if err != nil || n == 0 {
		return
	}

	_, err = e.Drain(ctx)
	switch {
	case errors.Is(err, common.ErrSyncInProgress):
		e.logger.Debug(ctx, "drain skipped, another pass is running")
	case err != nil && ctx.Err() == nil:
		e.logger.Warn(ctx, "background drain failed", "error", err)
	}
}

func (e *syncEngine) publishPending(ctx context.Context, userID string) {
	n, err := e.store.PendingCount(ctx, userID)
	if err != nil {
		return
	}
	e.tracker.SetPending(n)
}

func (e *syncEngine) Conflicts(ctx context.Context) ([]models.SyncConflict, error) {
	set, err := e.loadConflicts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.SyncConflict, 0, len(set))
	for _, c := range set {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b models.SyncConflict) int { return strings.Compare(a.NoteID, b.NoteID) })
	return out, nil
}

func (e *syncEngine) conflictFor(ctx context.Context, m models.Mutation) (models.SyncConflict, bool) {
	if m.ResourceType != models.ResourceNote {
		return models.SyncConflict{}, false
	}
	set, err := e.loadConflicts(ctx)
	if err != nil {
		return models.SyncConflict{}, false
	}
	c, ok := set[m.ResourceID]
	return c, ok
}

func (e *syncEngine) loadConflicts(ctx context.Context) (map[string]models.SyncConflict, error) {
	meta := e.store.Metadata()
	if meta == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		set := make(map[string]models.SyncConflict, len(e.conflicts))
		for k, v := range e.conflicts {
			set[k] = v
		}
		return set, nil
	}

	var set map[string]models.SyncConflict
	if _, err := meta.GetJSON(ctx, common.MetaConflicts, &set); err != nil {
		return nil, fmt.Errorf("failed to load conflicts: %w", err)
	}
	if set == nil {
		set = make(map[string]models.SyncConflict)
	}
	return set, nil
}

func (e *syncEngine) storeConflicts(ctx context.Context, set map[string]models.SyncConflict) {
	if meta := e.store.Metadata(); meta != nil {
		if err := meta.SetJSON(ctx, common.MetaConflicts, set); err != nil {
			e.logger.Warn(ctx, "failed to persist conflicts", "error", err)
		}
	} else {
		e.mu.Lock()
		e.conflicts = set
		e.mu.Unlock()
	}

	list := make([]models.SyncConflict, 0, len(set))
	for _, c := range set {
		list = append(list, c)
	}
	slices.SortFunc(list, func(a, b models.SyncConflict) int { return strings.Compare(a.NoteID, b.NoteID) })
	e.tracker.SetConflicts(list)
}

// addConflict flags the note and surfaces the conflict.
func (e *syncEngine) addConflict(ctx context.Context, c models.SyncConflict) {
	if err := e.store.SetStatus(ctx, c.NoteID, models.SyncStatusConflict); err != nil &&
		!errors.Is(err, common.ErrorNotFound) && !store.IsUnavailable(err) {
		e.logger.Warn(ctx, "failed to flag conflicting note", "note_id", c.NoteID, "error", err)
	}

	set, err := e.loadConflicts(ctx)
	if err != nil {
		set = make(map[string]models.SyncConflict)
	}
	set[c.NoteID] = c
	e.storeConflicts(ctx, set)

	e.logger.Warn(ctx, "sync conflict", "note_id", c.NoteID,
		"local_version", c.LocalVersion, "remote_version", c.RemoteVersion)
}

func (e *syncEngine) clearConflict(ctx context.Context, noteID string) {
	set, err := e.loadConflicts(ctx)
	if err != nil {
		return
	}
	if _, ok := set[noteID]; !ok {
		return
	}
	delete(set, noteID)
	e.storeConflicts(ctx, set)
}

func (e *syncEngine) FailedChanges(ctx context.Context) ([]models.FailedChange, error) {
	meta := e.store.Metadata()
	if meta == nil {
		e.mu.Lock()
		defer e.mu.Unlock()
		return slices.Clone(e.failed), nil
	}
	var failed []models.FailedChange
	if _, err := meta.GetJSON(ctx, common.MetaFailedSyncs, &failed); err != nil {
		return nil, fmt.Errorf("failed to load failed changes: %w", err)
	}
	return failed, nil
}

func (e *syncEngine) saveFailed(ctx context.Context, failed []models.FailedChange) {
	if meta := e.store.Metadata(); meta != nil {
		if err := meta.SetJSON(ctx, common.MetaFailedSyncs, failed); err != nil {
			e.logger.Warn(ctx, "failed to persist failed changes", "error", err)
		}
	} else {
		e.mu.Lock()
		e.failed = slices.Clone(failed)
		e.mu.Unlock()
	}
	e.tracker.SetFailedChanges(failed)
}
