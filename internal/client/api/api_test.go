package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/status"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotes struct {
	services.NoteService
	notes   []models.Note
	result  *models.SyncResult
	err     error
	lastIn  models.NoteInput
	patched string
	opened  string
	limit   int
}

func (f *fakeNotes) FetchNotes(context.Context) ([]models.Note, error) { return f.notes, f.err }

func (f *fakeNotes) GetNote(_ context.Context, id string) (*models.Note, error) {
	for i := range f.notes {
		if f.notes[i].ID == id {
			return &f.notes[i], nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f *fakeNotes) CreateNote(_ context.Context, in models.NoteInput) (*models.SyncResult, error) {
	f.lastIn = in
	return f.result, f.err
}

func (f *fakeNotes) UpdateNote(_ context.Context, id string, _ models.NotePatch) (*models.SyncResult, error) {
	f.patched = id
	return f.result, f.err
}

func (f *fakeNotes) DeleteNote(context.Context, string) (*models.SyncResult, error) {
	return f.result, f.err
}

func (f *fakeNotes) ToggleFavorite(context.Context, string) (*models.SyncResult, error) {
	return f.result, f.err
}

func (f *fakeNotes) MarkAccessed(ctx context.Context, id string) (*models.Note, error) {
	f.opened = id
	return f.GetNote(ctx, id)
}

func (f *fakeNotes) RecentNotes(_ context.Context, limit int) ([]models.Note, error) {
	f.limit = limit
	return f.notes, f.err
}

func (f *fakeNotes) FavoriteNotes(context.Context) ([]models.Note, error) {
	var out []models.Note
	for _, n := range f.notes {
		if n.IsFavorite {
			out = append(out, n)
		}
	}
	return out, f.err
}

type fakeSync struct {
	services.SyncEngine
	stats     *models.SyncStats
	err       error
	conflicts []models.SyncConflict
	resolved  models.Strategy
	resolveFn func(models.SyncConflict) (*models.Note, error)
}

func (f *fakeSync) ForceSyncAll(context.Context) (*models.SyncStats, error) { return f.stats, f.err }

func (f *fakeSync) RetryFailedSyncs(context.Context) (*models.SyncStats, error) {
	return f.stats, f.err
}

func (f *fakeSync) Conflicts(context.Context) ([]models.SyncConflict, error) {
	return f.conflicts, nil
}

func (f *fakeSync) Resolve(_ context.Context, c models.SyncConflict, s models.Strategy) (*models.Note, error) {
	f.resolved = s
	return f.resolveFn(c)
}

type fakeDevices struct {
	services.DeviceRegistry
	removed string
}

func (f *fakeDevices) CurrentDeviceID(context.Context) (string, error) { return "dev-1", nil }

func (f *fakeDevices) ListActiveDevices(context.Context, string) ([]models.DeviceSession, error) {
	return []models.DeviceSession{{DeviceID: "dev-1", IsActive: true}, {DeviceID: "dev-2", IsActive: true}}, nil
}

func (f *fakeDevices) ActiveNow() []models.Presence {
	return []models.Presence{{DeviceID: "dev-2"}}
}

func (f *fakeDevices) RemoveDevice(_ context.Context, _, id string) error {
	if id == "dev-1" {
		return common.ErrCannotRemoveCurrentDevice
	}
	f.removed = id
	return nil
}

type fakeIdentity struct{}

func (fakeIdentity) UserID(context.Context) (string, error) { return "user-1", nil }

type fakeExporter struct{ user string }

func (f *fakeExporter) Export(_ context.Context, userID string) (string, error) {
	f.user = userID
	return "snapshots/" + userID + "/x.json", nil
}

type fixture struct {
	notes   *fakeNotes
	sync    *fakeSync
	devices *fakeDevices
	tracker *status.Tracker
	h       http.Handler
}

func newFixture(exp Exporter) *fixture {
	f := &fixture{
		notes:   &fakeNotes{},
		sync:    &fakeSync{},
		devices: &fakeDevices{},
		tracker: status.NewTracker(),
	}
	f.h = NewHandler(Deps{
		Notes:    f.notes,
		Sync:     f.sync,
		Devices:  f.devices,
		Identity: fakeIdentity{},
		Status:   f.tracker,
		Exporter: exp,
		Logger:   logging.Discard(),
	})
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	f.h.ServeHTTP(w, r)
	return w
}

func TestListNotes(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/notes", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	f.notes.notes = []models.Note{{ID: "n1", Title: "t"}}
	w = f.do(http.MethodGet, "/notes", "")
	var got []models.Note
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].ID)

	w = f.do(http.MethodGet, "/notes/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateNote_StatusReflectsOutcome(t *testing.T) {
	tests := []struct {
		name   string
		result *models.SyncResult
		err    error
		want   int
	}{
		{"synced", &models.SyncResult{Note: &models.Note{ID: "n1"}}, nil, http.StatusCreated},
		{"queued", &models.SyncResult{Note: &models.Note{ID: "n1"}, Queued: true}, nil, http.StatusAccepted},
		{"conflict", &models.SyncResult{Conflict: &models.SyncConflict{NoteID: "n1"}}, nil, http.StatusConflict},
		{"invalid", nil, fmt.Errorf("wrap: %w", common.ErrInvalidMutation), http.StatusBadRequest},
		{"signed out", nil, common.ErrorUnauthorized, http.StatusUnauthorized},
		{"internal", nil, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			f.notes.result, f.notes.err = tt.result, tt.err
			w := f.do(http.MethodPost, "/notes", `{"title":"t","content":"c"}`)
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "t", f.notes.lastIn.Title)
		})
	}
}

func TestCreateNote_BadBody(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodPost, "/notes", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNoteRoutesPassID(t *testing.T) {
	f := newFixture(nil)
	f.notes.result = &models.SyncResult{Note: &models.Note{ID: "abc"}}

	w := f.do(http.MethodPatch, "/notes/abc", `{"content":"x"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "abc", f.notes.patched)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/notes/abc/favorite", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodDelete, "/notes/abc", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodPut, "/notes/abc", "").Code)
}

func TestRecentAndFavoriteRoutes(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/notes/favorites", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	f.notes.notes = []models.Note{{ID: "n1", IsFavorite: true}, {ID: "n2"}}

	w = f.do(http.MethodGet, "/notes/recent?limit=3", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, f.notes.limit)
	var got []models.Note
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	w = f.do(http.MethodGet, "/notes/recent", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, f.notes.limit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/notes/recent?limit=x", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/notes/recent?limit=0", "").Code)

	w = f.do(http.MethodGet, "/notes/favorites", "")
	got = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "n1", got[0].ID)
}

func TestMarkAccessedRoute(t *testing.T) {
	f := newFixture(nil)
	f.notes.notes = []models.Note{{ID: "n1"}}

	w := f.do(http.MethodPost, "/notes/n1/access", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "n1", f.notes.opened)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/notes/gone/access", "").Code)
}

func TestSyncRoutes(t *testing.T) {
	f := newFixture(nil)
	f.sync.stats = &models.SyncStats{TotalNotes: 5, Synced: 3, Conflicts: 1, Errors: 1}

	w := f.do(http.MethodPost, "/sync", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stats models.SyncStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, *f.sync.stats, stats)

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/sync/retry", "").Code)

	f.sync.err = common.ErrSyncInProgress
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/sync", "").Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(nil)
	f.tracker.SetPending(4)
	w := f.do(http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var snap status.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 4, snap.PendingSyncCount)
}

func TestResolveConflict(t *testing.T) {
	f := newFixture(nil)
	f.sync.conflicts = []models.SyncConflict{{NoteID: "n1", RemoteVersion: 3}}
	f.sync.resolveFn = func(c models.SyncConflict) (*models.Note, error) {
		return &models.Note{ID: c.NoteID, Version: 4}, nil
	}

	w := f.do(http.MethodPost, "/conflicts/n1/resolve", `{"strategy":"merge"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.StrategyMerge, f.sync.resolved)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/conflicts/n2/resolve", `{"strategy":"local"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/conflicts/n1/resolve", `{"strategy":"newest"}`).Code)

	f.sync.resolveFn = func(c models.SyncConflict) (*models.Note, error) {
		c.RemoteVersion = 5
		return nil, &models.ConflictError{Conflict: c}
	}
	w = f.do(http.MethodPost, "/conflicts/n1/resolve", `{"strategy":"local"}`)
	require.Equal(t, http.StatusConflict, w.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Conflict)
	assert.Equal(t, int64(5), body.Conflict.RemoteVersion)
}

func TestDevices(t *testing.T) {
	f := newFixture(nil)
	w := f.do(http.MethodGet, "/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got devicesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "dev-1", got.CurrentDeviceID)
	assert.Len(t, got.Devices, 2)
	assert.Len(t, got.ActiveNow, 1)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodDelete, "/devices/dev-1", "").Code)
	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/devices/dev-2", "").Code)
	assert.Equal(t, "dev-2", f.devices.removed)
}

func TestExport(t *testing.T) {
	assert.Equal(t, http.StatusNotImplemented, newFixture(nil).do(http.MethodPost, "/export", "").Code)

	exp := &fakeExporter{}
	w := newFixture(exp).do(http.MethodPost, "/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"key":"snapshots/user-1/x.json"}`, w.Body.String())
	assert.Equal(t, "user-1", exp.user)
}

func TestServeStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler(), logging.Discard()) }()
	cancel()
	assert.NoError(t, <-done)
}
