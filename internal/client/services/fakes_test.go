package services

import (
	"context"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/client/status"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/stretchr/testify/require"
)

const testUser = "user-1"

// fakeRemote is an in-memory versioned note store.
type fakeRemote struct {
	SyncRemote

	mu            sync.Mutex
	notes         map[string]models.Note
	tags          map[string]models.Tag
	down          bool
	failFor       map[string]error
	noConditional bool
	calls         map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		notes:   make(map[string]models.Note),
		tags:    make(map[string]models.Tag),
		failFor: make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (f *fakeRemote) check(id string) error {
	f.calls[id]++
	if f.down {
		return common.ErrUnavailable
	}
	return f.failFor[id]
}

func (f *fakeRemote) seed(n models.Note) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n.UserID == "" {
		n.UserID = testUser
	}
	f.notes[n.ID] = n
}

func (f *fakeRemote) note(id string) models.Note {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notes[id]
}

func (f *fakeRemote) callsFor(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeRemote) setDown(v bool) {
	f.mu.Lock()
	f.down = v
	f.mu.Unlock()
}

func (f *fakeRemote) setFail(id string, err error) {
	f.mu.Lock()
	if err == nil {
		delete(f.failFor, id)
	} else {
		f.failFor[id] = err
	}
	f.mu.Unlock()
}

// edit simulates a write by another device.
func (f *fakeRemote) edit(id, content, deviceID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.notes[id]
	n.Content = content
	n.DeviceID = deviceID
	n.Version++
	n.UpdatedAt = time.Now().UTC()
	f.notes[id] = n
}

func (f *fakeRemote) ListNotes(_ context.Context, userID string) ([]models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, common.ErrUnavailable
	}
	var out []models.Note
	for _, n := range f.notes {
		if n.UserID == userID && n.DeletedAt == nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeRemote) RecentNotes(_ context.Context, userID string, limit int) ([]models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, common.ErrUnavailable
	}
	var out []models.Note
	for _, n := range f.notes {
		if n.UserID == userID && n.DeletedAt == nil && n.LastAccessedAt != nil {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(a, b models.Note) int { return b.LastAccessedAt.Compare(*a.LastAccessedAt) })
	return out[:min(limit, len(out))], nil
}

func (f *fakeRemote) FavoriteNotes(_ context.Context, userID string) ([]models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, common.ErrUnavailable
	}
	var out []models.Note
	for _, n := range f.notes {
		if n.UserID == userID && n.DeletedAt == nil && n.IsFavorite {
			out = append(out, n)
		}
	}
	return out, nil
}

func (f *fakeRemote) TouchNote(_ context.Context, userID, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return common.ErrUnavailable
	}
	n, ok := f.notes[id]
	if !ok || n.UserID != userID || n.DeletedAt != nil {
		return common.ErrorNotFound
	}
	at = at.UTC()
	n.LastAccessedAt = &at
	f.notes[id] = n
	return nil
}

func (f *fakeRemote) GetNote(_ context.Context, userID, id string) (*models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, common.ErrUnavailable
	}
	n, ok := f.notes[id]
	if !ok || n.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return &n, nil
}

func (f *fakeRemote) InsertNote(_ context.Context, note *models.Note) (*models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(note.ID); err != nil {
		return nil, err
	}
	if n, ok := f.notes[note.ID]; ok {
		return &n, nil
	}
	n := *note
	n.SyncStatus = ""
	f.notes[n.ID] = n
	return &n, nil
}

func (f *fakeRemote) ConditionalUpdate(_ context.Context, w remote.NoteWrite) (*remote.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(w.NoteID); err != nil {
		return nil, err
	}
	if f.noConditional {
		return nil, remote.ErrConditionalUnsupported
	}
	n, ok := f.notes[w.NoteID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	if n.Version != w.BaseVersion {
		return &remote.UpdateResult{Conflict: true, CurrentVersion: n.Version}, nil
	}
	n = f.write(n, w)
	return &remote.UpdateResult{Note: &n, CurrentVersion: n.Version}, nil
}

func (f *fakeRemote) UnconditionalUpdate(_ context.Context, w remote.NoteWrite) (*models.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(w.NoteID); err != nil {
		return nil, err
	}
	n, ok := f.notes[w.NoteID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	n.Version = w.BaseVersion
	n = f.write(n, w)
	return &n, nil
}

func (f *fakeRemote) write(n models.Note, w remote.NoteWrite) models.Note {
	n.Title = w.Title
	n.Content = w.Content
	n.Path = w.Path
	n.IsFavorite = w.IsFavorite
	n.DeviceID = w.DeviceID
	n.Version++
	n.UpdatedAt = time.Now().UTC()
	f.notes[n.ID] = n
	return n
}

func (f *fakeRemote) SoftDelete(_ context.Context, _, id, deviceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(id); err != nil {
		return err
	}
	n, ok := f.notes[id]
	if !ok || n.DeletedAt != nil {
		return nil
	}
	now := time.Now().UTC()
	n.DeletedAt = &now
	n.DeviceID = deviceID
	n.Version++
	f.notes[id] = n
	return nil
}

func (f *fakeRemote) SupportsConditionalUpdate(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return false, common.ErrUnavailable
	}
	return !f.noConditional, nil
}

func (f *fakeRemote) UpsertTag(_ context.Context, tag *models.Tag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(tag.ID); err != nil {
		return err
	}
	f.tags[tag.ID] = *tag
	return nil
}

func (f *fakeRemote) DeleteTag(_ context.Context, _, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.check(id); err != nil {
		return err
	}
	delete(f.tags, id)
	return nil
}

type fakeIdentity struct {
	userID string
	err    error
}

func (f fakeIdentity) UserID(context.Context) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.userID, nil
}

type fakeNet struct {
	online atomic.Bool
}

func newFakeNet(online bool) *fakeNet {
	n := &fakeNet{}
	n.online.Store(online)
	return n
}

func (n *fakeNet) Online() bool { return n.online.Load() }

// device bundles one client: its local store, engine and note service.
type device struct {
	id      string
	store   *store.LocalStore
	net     *fakeNet
	tracker *status.Tracker
	engine  SyncEngine
	notes   NoteService
}

func newDevice(t *testing.T, rem *fakeRemote, deviceID string, opts SyncOptions) *device {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return newDeviceWithStore(t, rem, st, deviceID, opts)
}

func newDeviceWithStore(t *testing.T, rem *fakeRemote, st *store.LocalStore, deviceID string, opts SyncOptions) *device {
	t.Helper()
	opts.DeviceID = deviceID
	ident := fakeIdentity{userID: testUser}
	net := newFakeNet(true)
	tracker := status.NewTracker()
	engine := NewSyncEngine(st, rem, ident, net, tracker, opts, logging.Discard())
	return &device{
		id:      deviceID,
		store:   st,
		net:     net,
		tracker: tracker,
		engine:  engine,
		notes:   NewNoteService(st, rem, engine, ident, net, deviceID, logging.Discard()),
	}
}

// cache puts a synced copy of a remote note into the device's store.
func (d *device) cache(t *testing.T, n models.Note) {
	t.Helper()
	if n.UserID == "" {
		n.UserID = testUser
	}
	require.NoError(t, d.store.CacheRemote(context.Background(), &n))
}

func (d *device) queued(t *testing.T) int {
	t.Helper()
	n, err := d.store.PendingCount(context.Background(), testUser)
	require.NoError(t, err)
	return n
}

func (d *device) local(t *testing.T, id string) *models.Note {
	t.Helper()
	n, err := d.store.GetNote(context.Background(), id)
	require.NoError(t, err)
	return n
}

func strptr(s string) *string { return &s }
