package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/auth"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/realtime"
	"github.com/dmitrijs2005/notesync/internal/client/scheduler"
	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/status"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	current  *auth.Session
	loginErr error
	loggedIn string
	out      bool
}

func (f *fakeSessions) Login(ctx context.Context, email, password string) (*auth.Session, error) {
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	f.loggedIn = email + ":" + password
	f.current = &auth.Session{UserID: "u-" + email, Email: email}
	return f.current, nil
}

func (f *fakeSessions) Register(ctx context.Context, email, password string) (*auth.Session, error) {
	return f.Login(ctx, email, password)
}

func (f *fakeSessions) Current(ctx context.Context) (*auth.Session, error) {
	if f.current == nil {
		return nil, common.ErrorUnauthorized
	}
	return f.current, nil
}

func (f *fakeSessions) Logout(ctx context.Context) error {
	f.current = nil
	f.out = true
	return nil
}

type fakeBridge struct {
	mu           sync.Mutex
	connected    []string
	disconnected bool
}

func (f *fakeBridge) Connect(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = append(f.connected, userID)
	return nil
}
func (f *fakeBridge) Retry(ctx context.Context) error { return nil }
func (f *fakeBridge) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = true
}
func (f *fakeBridge) Close()                { f.Disconnect() }
func (f *fakeBridge) State() realtime.State { return realtime.StateDisconnected }

type fakeLocal struct {
	stats   store.Stats
	cleared bool
}

func (f *fakeLocal) Stats(ctx context.Context, userID string) (store.Stats, error) {
	return f.stats, nil
}
func (f *fakeLocal) ClearAllData(ctx context.Context) error {
	f.cleared = true
	return nil
}

type fakeNotes struct {
	services.NoteService
	list    []models.Note
	opened  []string
	limit   int
	created []models.NoteInput
	patches map[string]models.NotePatch
	result  *models.SyncResult
	err     error
}

func (f *fakeNotes) FetchNotes(ctx context.Context) ([]models.Note, error) { return f.list, f.err }

func (f *fakeNotes) GetNote(ctx context.Context, id string) (*models.Note, error) {
	for i := range f.list {
		if f.list[i].ID == id {
			return &f.list[i], nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeNotes) MarkAccessed(ctx context.Context, id string) (*models.Note, error) {
	f.opened = append(f.opened, id)
	return f.GetNote(ctx, id)
}

func (f *fakeNotes) RecentNotes(ctx context.Context, limit int) ([]models.Note, error) {
	f.limit = limit
	return f.list, f.err
}

func (f *fakeNotes) FavoriteNotes(ctx context.Context) ([]models.Note, error) {
	var out []models.Note
	for _, n := range f.list {
		if n.IsFavorite {
			out = append(out, n)
		}
	}
	return out, f.err
}

func (f *fakeNotes) CreateNote(ctx context.Context, in models.NoteInput) (*models.SyncResult, error) {
	f.created = append(f.created, in)
	return f.result, f.err
}

func (f *fakeNotes) UpdateNote(ctx context.Context, id string, p models.NotePatch) (*models.SyncResult, error) {
	if f.patches == nil {
		f.patches = map[string]models.NotePatch{}
	}
	f.patches[id] = p
	return f.result, f.err
}

func (f *fakeNotes) DeleteNote(ctx context.Context, id string) (*models.SyncResult, error) {
	return f.result, f.err
}

type fakeEngine struct {
	services.SyncEngine
	stats     *models.SyncStats
	conflicts []models.SyncConflict
	resolved  []models.Strategy
	resolve   func(c models.SyncConflict) (*models.Note, error)
}

func (f *fakeEngine) ForceSyncAll(ctx context.Context) (*models.SyncStats, error) {
	return f.stats, nil
}

func (f *fakeEngine) Conflicts(ctx context.Context) ([]models.SyncConflict, error) {
	return f.conflicts, nil
}

func (f *fakeEngine) Resolve(ctx context.Context, c models.SyncConflict, s models.Strategy) (*models.Note, error) {
	f.resolved = append(f.resolved, s)
	return f.resolve(c)
}

type fakeDevices struct {
	services.DeviceRegistry
	registered  []string
	deactivated []string
	list        []models.DeviceSession
	present     []models.Presence
}

func (f *fakeDevices) CurrentDeviceID(ctx context.Context) (string, error) { return "dev-1", nil }
func (f *fakeDevices) RegisterDevice(ctx context.Context, userID string) error {
	f.registered = append(f.registered, userID)
	return nil
}
func (f *fakeDevices) CleanupInactive(ctx context.Context, userID string) (int64, error) {
	return 0, nil
}
func (f *fakeDevices) DeactivateDevice(ctx context.Context, userID string) error {
	f.deactivated = append(f.deactivated, userID)
	return nil
}
func (f *fakeDevices) ListActiveDevices(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	return f.list, nil
}
func (f *fakeDevices) ActiveNow() []models.Presence { return f.present }

type fakeExporter struct{ key string }

func (f *fakeExporter) Export(ctx context.Context, userID string) (string, error) {
	return f.key + userID, nil
}

type appFixture struct {
	*App
	out      *bytes.Buffer
	sessions *fakeSessions
	bridge   *fakeBridge
	local    *fakeLocal
	notes    *fakeNotes
	engine   *fakeEngine
	devices  *fakeDevices
}

func newTestApp(t *testing.T, input string) *appFixture {
	t.Helper()
	f := &appFixture{
		out:      &bytes.Buffer{},
		sessions: &fakeSessions{},
		bridge:   &fakeBridge{},
		local:    &fakeLocal{},
		notes:    &fakeNotes{},
		engine:   &fakeEngine{},
		devices:  &fakeDevices{},
	}
	sched := scheduler.New()
	t.Cleanup(sched.Close)

	f.App = &App{
		logger:  logging.Discard(),
		out:     f.out,
		reader:  bufio.NewReader(strings.NewReader(input)),
		store:   f.local,
		tracker: status.NewTracker(),
		sched:   sched,
		session: f.sessions,
		notes:   f.notes,
		engine:  f.engine,
		devices: f.devices,
		bridge:  f.bridge,
	}
	return f
}

func stubPassword(t *testing.T, pw string) {
	t.Helper()
	orig := askPassword
	askPassword = func(w io.Writer) ([]byte, error) { return []byte(pw), nil }
	t.Cleanup(func() { askPassword = orig })
}

func TestLogin_StartsSession(t *testing.T) {
	stubPassword(t, "pw")
	f := newTestApp(t, "ann@example.com\n")

	require.NoError(t, f.Login(context.Background()))

	assert.True(t, f.isLoggedIn())
	assert.Equal(t, "ann@example.com:pw", f.sessions.loggedIn)
	assert.Equal(t, []string{"u-ann@example.com"}, f.devices.registered)
	assert.Eventually(t, func() bool {
		f.bridge.mu.Lock()
		defer f.bridge.mu.Unlock()
		return len(f.bridge.connected) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, f.statusLine(), "ann@example.com")
}

func TestLogin_OfflineFallsBackToStoredSession(t *testing.T) {
	stubPassword(t, "pw")
	f := newTestApp(t, "ann@example.com\n")
	f.sessions.current = &auth.Session{UserID: "u-1", Email: "ann@example.com"}
	f.sessions.loginErr = common.ErrUnavailable

	require.NoError(t, f.Login(context.Background()))
	assert.True(t, f.isLoggedIn())
	assert.Contains(t, f.out.String(), "Signed in offline")
}

func TestLogin_OfflineRejectsOtherAccount(t *testing.T) {
	stubPassword(t, "pw")
	f := newTestApp(t, "bob@example.com\n")
	f.sessions.current = &auth.Session{UserID: "u-1", Email: "ann@example.com"}
	f.sessions.loginErr = common.ErrUnavailable

	err := f.Login(context.Background())
	assert.ErrorIs(t, err, common.ErrUnavailable)
	assert.False(t, f.isLoggedIn())
}

func TestLogin_WrongPassword(t *testing.T) {
	stubPassword(t, "pw")
	f := newTestApp(t, "ann@example.com\n")
	f.sessions.loginErr = common.ErrorUnauthorized

	err := f.Login(context.Background())
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Empty(t, f.devices.registered)
}

func TestLogout_ClearsLocalState(t *testing.T) {
	f := newTestApp(t, "")
	f.sessions.current = &auth.Session{UserID: "u-1", Email: "ann@example.com"}
	f.setEmail("ann@example.com")
	f.local.stats = store.Stats{Queued: 2}

	require.NoError(t, f.Logout(context.Background()))

	assert.False(t, f.isLoggedIn())
	assert.True(t, f.local.cleared)
	assert.True(t, f.sessions.out)
	assert.True(t, f.bridge.disconnected)
	assert.Equal(t, []string{"u-1"}, f.devices.deactivated)
	assert.Contains(t, f.out.String(), "Discarding 2 unsynced changes")
}

func TestAdd_ReportsQueuedWrite(t *testing.T) {
	f := newTestApp(t, "Groceries\nmilk\n\neggs\n.\n")
	f.notes.result = &models.SyncResult{Queued: true}
	f.notes.err = common.ErrUnavailable

	require.NoError(t, f.Add(context.Background()))

	require.Len(t, f.notes.created, 1)
	assert.Equal(t, models.NoteInput{Title: "Groceries", Content: "milk\n\neggs"}, f.notes.created[0])
	assert.Contains(t, f.out.String(), "Saved locally, will sync when online")
}

func TestAdd_RequiresTitle(t *testing.T) {
	f := newTestApp(t, "\n")
	err := f.Add(context.Background())
	assert.ErrorIs(t, err, common.ErrInvalidMutation)
	assert.Empty(t, f.notes.created)
}

func TestEdit_KeepsUnansweredFields(t *testing.T) {
	f := newTestApp(t, "\nnew body\n.\n")
	f.notes.list = []models.Note{{ID: "n1", Title: "old", Content: "old body", Version: 2}}
	f.notes.result = &models.SyncResult{Conflict: &models.SyncConflict{NoteID: "n1", LocalVersion: 2, RemoteVersion: 3}}

	require.NoError(t, f.Edit(context.Background(), "n1"))

	p := f.notes.patches["n1"]
	assert.Nil(t, p.Title)
	require.NotNil(t, p.Content)
	assert.Equal(t, "new body", *p.Content)
	assert.Contains(t, f.out.String(), "Conflict on n1: local v2, remote v3")
}

func TestList(t *testing.T) {
	f := newTestApp(t, "")
	require.NoError(t, f.List(context.Background()))
	assert.Equal(t, "No notes\n", f.out.String())

	f.out.Reset()
	f.notes.list = []models.Note{
		{ID: "n1", Title: "first", Version: 1, SyncStatus: models.SyncStatusSynced, IsFavorite: true},
		{ID: "n2", Title: "second", Version: 4, SyncStatus: models.SyncStatusPending},
	}
	require.NoError(t, f.List(context.Background()))
	out := f.out.String()
	assert.Contains(t, out, "* first")
	assert.Contains(t, out, "pending")
}

func TestShow_RecordsAccess(t *testing.T) {
	f := newTestApp(t, "")
	f.notes.list = []models.Note{{ID: "n1", Title: "first", Content: "body", Version: 2, SyncStatus: models.SyncStatusSynced}}

	require.NoError(t, f.Show(context.Background(), "n1"))
	assert.Equal(t, []string{"n1"}, f.notes.opened)
	assert.Contains(t, f.out.String(), "body")

	require.ErrorIs(t, f.Show(context.Background(), "absent"), common.ErrorNotFound)
}

func TestRecentAndFavorites(t *testing.T) {
	ctx := context.Background()
	f := newTestApp(t, "")
	require.NoError(t, f.Recent(ctx, ""))
	assert.Equal(t, "No recently opened notes\n", f.out.String())
	assert.Zero(t, f.notes.limit)

	f.notes.list = []models.Note{
		{ID: "n1", Title: "first", Version: 1, IsFavorite: true},
		{ID: "n2", Title: "second", Version: 1},
	}
	f.out.Reset()
	require.NoError(t, f.Recent(ctx, "5"))
	assert.Equal(t, 5, f.notes.limit)
	assert.Contains(t, f.out.String(), "second")

	require.Error(t, f.Recent(ctx, "zero"))
	require.Error(t, f.Recent(ctx, "-1"))

	f.out.Reset()
	require.NoError(t, f.Favorites(ctx))
	assert.Contains(t, f.out.String(), "* first")
	assert.NotContains(t, f.out.String(), "second")
}

func TestSync_PrintsStats(t *testing.T) {
	f := newTestApp(t, "")
	f.engine.stats = &models.SyncStats{TotalNotes: 5, Synced: 3, Conflicts: 1, Errors: 1, Deferred: 1}

	require.NoError(t, f.Sync(context.Background()))
	assert.Equal(t, "Processed 5: 3 synced, 1 conflicts, 1 errors, 1 deferred\n", f.out.String())
}

func TestResolve(t *testing.T) {
	f := newTestApp(t, "")
	f.engine.conflicts = []models.SyncConflict{{NoteID: "n1", LocalVersion: 1, RemoteVersion: 2}}
	f.engine.resolve = func(c models.SyncConflict) (*models.Note, error) {
		return &models.Note{ID: c.NoteID, Version: 3}, nil
	}

	require.NoError(t, f.Resolve(context.Background(), "n1", "merge"))
	assert.Equal(t, []models.Strategy{models.StrategyMerge}, f.engine.resolved)
	assert.Contains(t, f.out.String(), "Resolved n1 (v3)")

	assert.ErrorIs(t, f.Resolve(context.Background(), "n1", "newest"), common.ErrUnknownStrategy)
	assert.ErrorIs(t, f.Resolve(context.Background(), "n9", "local"), common.ErrorNotFound)
}

func TestResolve_RacedAgain(t *testing.T) {
	f := newTestApp(t, "")
	f.engine.conflicts = []models.SyncConflict{{NoteID: "n1"}}
	f.engine.resolve = func(c models.SyncConflict) (*models.Note, error) {
		return nil, &models.ConflictError{Conflict: models.SyncConflict{NoteID: "n1", RemoteVersion: 5}}
	}

	require.NoError(t, f.Resolve(context.Background(), "n1", "local"))
	assert.Contains(t, f.out.String(), "Note changed again remotely (v5)")
}

func TestDevices_MarksCurrentAndOnline(t *testing.T) {
	f := newTestApp(t, "")
	f.sessions.current = &auth.Session{UserID: "u-1"}
	f.devices.list = []models.DeviceSession{
		{DeviceID: "dev-1", DeviceName: "laptop"},
		{DeviceID: "dev-2", DeviceName: "phone"},
	}
	f.devices.present = []models.Presence{{DeviceID: "dev-2"}}

	require.NoError(t, f.Devices(context.Background()))
	lines := strings.Split(strings.TrimSpace(f.out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "this device")
	assert.Contains(t, lines[2], "online")
}

func TestExport(t *testing.T) {
	f := newTestApp(t, "")
	f.sessions.current = &auth.Session{UserID: "u-1"}

	assert.True(t, errors.Is(f.Export(context.Background()), errExportDisabled))

	f.exporter = &fakeExporter{key: "snapshots/"}
	require.NoError(t, f.Export(context.Background()))
	assert.Contains(t, f.out.String(), "snapshots/u-1")
}

func TestStatusLine(t *testing.T) {
	f := newTestApp(t, "")
	f.tracker.SetMode(status.ModeOffline)
	f.tracker.SetPending(3)
	assert.Equal(t, "(offline 3 pending)", f.statusLine())

	f.setEmail("ann@example.com")
	f.tracker.SetConflicts([]models.SyncConflict{{NoteID: "n1"}})
	assert.Equal(t, "(ann@example.com offline 3 pending 1 conflicts)", f.statusLine())
}
