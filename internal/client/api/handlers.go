package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/gorilla/mux"
)

func (s *server) listNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.Notes.FetchNotes(r.Context())
	s.writeNotes(w, r, notes, err)
}

// recentNotes takes an optional ?limit=N.
func (s *server) recentNotes(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			s.fail(w, r, fmt.Errorf("%w: invalid limit %q", common.ErrInvalidMutation, v))
			return
		}
		limit = n
	}
	notes, err := s.Notes.RecentNotes(r.Context(), limit)
	s.writeNotes(w, r, notes, err)
}

func (s *server) favoriteNotes(w http.ResponseWriter, r *http.Request) {
	notes, err := s.Notes.FavoriteNotes(r.Context())
	s.writeNotes(w, r, notes, err)
}

func (s *server) writeNotes(w http.ResponseWriter, r *http.Request, notes []models.Note, err error) {
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if notes == nil {
		notes = []models.Note{}
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *server) markAccessed(w http.ResponseWriter, r *http.Request) {
	n, err := s.Notes.MarkAccessed(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *server) getNote(w http.ResponseWriter, r *http.Request) {
	n, err := s.Notes.GetNote(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *server) createNote(w http.ResponseWriter, r *http.Request) {
	var in models.NoteInput
	if err := decode(r, &in); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.Notes.CreateNote(r.Context(), in)
	s.writeResult(w, r, res, err, http.StatusCreated)
}

func (s *server) updateNote(w http.ResponseWriter, r *http.Request) {
	var patch models.NotePatch
	if err := decode(r, &patch); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.Notes.UpdateNote(r.Context(), mux.Vars(r)["id"], patch)
	s.writeResult(w, r, res, err, http.StatusOK)
}

func (s *server) deleteNote(w http.ResponseWriter, r *http.Request) {
	res, err := s.Notes.DeleteNote(r.Context(), mux.Vars(r)["id"])
	s.writeResult(w, r, res, err, http.StatusOK)
}

func (s *server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	res, err := s.Notes.ToggleFavorite(r.Context(), mux.Vars(r)["id"])
	s.writeResult(w, r, res, err, http.StatusOK)
}

// writeResult maps a save outcome: a conflict is 409, a queued change 202.
func (s *server) writeResult(w http.ResponseWriter, r *http.Request, res *models.SyncResult, err error, ok int) {
	switch {
	case err != nil:
		s.fail(w, r, err)
	case res.Conflict != nil:
		writeJSON(w, http.StatusConflict, res)
	case res.Queued:
		writeJSON(w, http.StatusAccepted, res)
	default:
		writeJSON(w, ok, res)
	}
}

func (s *server) getStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status.Snapshot())
}

func (s *server) forceSync(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Sync.ForceSyncAll(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) retryFailed(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Sync.RetryFailedSyncs(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) listConflicts(w http.ResponseWriter, r *http.Request) {
	list, err := s.Sync.Conflicts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

type resolveRequest struct {
	Strategy string `json:"strategy"`
}

func (s *server) resolveConflict(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	strategy, err := models.ParseStrategy(req.Strategy)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	id := mux.Vars(r)["id"]
	list, err := s.Sync.Conflicts(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	for _, c := range list {
		if c.NoteID != id {
			continue
		}
		n, err := s.Sync.Resolve(r.Context(), c, strategy)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, n)
		return
	}
	s.fail(w, r, common.ErrorNotFound)
}

type devicesResponse struct {
	CurrentDeviceID string                 `json:"current_device_id"`
	Devices         []models.DeviceSession `json:"devices"`
	ActiveNow       []models.Presence      `json:"active_now"`
}

func (s *server) listDevices(w http.ResponseWriter, r *http.Request) {
	userID, err := s.Identity.UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	current, err := s.Devices.CurrentDeviceID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	list, err := s.Devices.ListActiveDevices(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []models.DeviceSession{}
	}
	writeJSON(w, http.StatusOK, devicesResponse{
		CurrentDeviceID: current,
		Devices:         list,
		ActiveNow:       s.Devices.ActiveNow(),
	})
}

func (s *server) removeDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := s.Identity.UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.Devices.RemoveDevice(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportResponse struct {
	Key string `json:"key"`
}

var errExportDisabled = errors.New("snapshot export is not configured")

func (s *server) export(w http.ResponseWriter, r *http.Request) {
	if s.Exporter == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: errExportDisabled.Error()})
		return
	}
	userID, err := s.Identity.UserID(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	key, err := s.Exporter.Export(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Key: key})
}
