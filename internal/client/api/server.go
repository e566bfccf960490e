// Package api exposes the client's note operations over a local HTTP API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/status"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Exporter uploads a snapshot of the user's notes and returns its key.
type Exporter interface {
	Export(ctx context.Context, userID string) (string, error)
}

type Deps struct {
	Notes    services.NoteService
	Sync     services.SyncEngine
	Devices  services.DeviceRegistry
	Identity services.Identity
	Status   *status.Tracker
	// Exporter is optional; without it POST /export answers 501.
	Exporter Exporter
	Logger   logging.Logger
}

type server struct {
	Deps
}

// NewHandler builds the API router.
func NewHandler(d Deps) http.Handler {
	s := &server{Deps: d}
	s.Logger = d.Logger.With("component", "api")

	r := mux.NewRouter()
	r.Use(s.accessLog)

	r.Methods(http.MethodGet).Path("/notes").HandlerFunc(s.listNotes)
	r.Methods(http.MethodPost).Path("/notes").HandlerFunc(s.createNote)
	r.Methods(http.MethodGet).Path("/notes/recent").HandlerFunc(s.recentNotes)
	r.Methods(http.MethodGet).Path("/notes/favorites").HandlerFunc(s.favoriteNotes)
	r.Methods(http.MethodGet).Path("/notes/{id}").HandlerFunc(s.getNote)
	r.Methods(http.MethodPatch).Path("/notes/{id}").HandlerFunc(s.updateNote)
	r.Methods(http.MethodDelete).Path("/notes/{id}").HandlerFunc(s.deleteNote)
	r.Methods(http.MethodPost).Path("/notes/{id}/favorite").HandlerFunc(s.toggleFavorite)
	r.Methods(http.MethodPost).Path("/notes/{id}/access").HandlerFunc(s.markAccessed)

	r.Methods(http.MethodGet).Path("/status").HandlerFunc(s.getStatus)
	r.Methods(http.MethodPost).Path("/sync").HandlerFunc(s.forceSync)
	r.Methods(http.MethodPost).Path("/sync/retry").HandlerFunc(s.retryFailed)

	r.Methods(http.MethodGet).Path("/conflicts").HandlerFunc(s.listConflicts)
	r.Methods(http.MethodPost).Path("/conflicts/{id}/resolve").HandlerFunc(s.resolveConflict)

	r.Methods(http.MethodGet).Path("/devices").HandlerFunc(s.listDevices)
	r.Methods(http.MethodDelete).Path("/devices/{id}").HandlerFunc(s.removeDevice)

	r.Methods(http.MethodPost).Path("/export").HandlerFunc(s.export)
	return r
}

func (s *server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = r.WithContext(logging.ContextWith(r.Context(), "request_id", uuid.NewString()))
		m := httpsnoop.CaptureMetrics(next, w, r)
		s.Logger.Info(r.Context(), "handled",
			"method", r.Method, "url", r.URL.String(), "duration", m.Duration, "status", m.Code, "bytes", m.Written)
	})
}

// Serve runs the API on addr until ctx is done.
func Serve(ctx context.Context, addr string, h http.Handler, logger logging.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info(ctx, "http api listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

type errorBody struct {
	Error    string               `json:"error"`
	Conflict *models.SyncConflict `json:"conflict,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrorNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrorUnauthorized),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrTokenExpired):
		return http.StatusUnauthorized
	case errors.Is(err, common.ErrInvalidMutation),
		errors.Is(err, common.ErrUnknownStrategy),
		errors.Is(err, common.ErrCannotRemoveCurrentDevice):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrSyncInProgress),
		errors.Is(err, common.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.Logger.Error(r.Context(), "request failed", "url", r.URL.String(), "error", err)
	}
	body := errorBody{Error: err.Error()}
	var ce *models.ConflictError
	if errors.As(err, &ce) {
		body.Conflict = &ce.Conflict
	}
	writeJSON(w, code, body)
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.Join(common.ErrInvalidMutation, err)
	}
	return nil
}
