package remote

import (
	"context"
	"strings"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// NoteWrite is an update of an existing note made against BaseVersion.
type NoteWrite struct {
	NoteID      string
	UserID      string
	DeviceID    string
	Title       string
	Content     string
	Path        string
	IsFavorite  bool
	BaseVersion int64
}

// WriteFromPayload builds a NoteWrite from a queued note payload.
func WriteFromPayload(userID, deviceID string, p *models.NotePayload) NoteWrite {
	return NoteWrite{
		NoteID:      p.ID,
		UserID:      userID,
		DeviceID:    deviceID,
		Title:       p.Title,
		Content:     p.Content,
		Path:        p.Path,
		IsFavorite:  p.IsFavorite,
		BaseVersion: p.BaseVersion,
	}
}

// UpdateResult is the outcome of a conditional update. When Conflict is set,
// Note is nil and CurrentVersion holds the server's version.
type UpdateResult struct {
	Note           *models.Note
	Conflict       bool
	CurrentVersion int64
}

type NoteStore interface {
	ListNotes(ctx context.Context, userID string) ([]models.Note, error)
	// RecentNotes lists opened notes by last access, newest first.
	RecentNotes(ctx context.Context, userID string, limit int) ([]models.Note, error)
	FavoriteNotes(ctx context.Context, userID string) ([]models.Note, error)
	// TouchNote sets last_accessed_at without bumping the version.
	TouchNote(ctx context.Context, userID, id string, at time.Time) error
	GetNote(ctx context.Context, userID, id string) (*models.Note, error)
	// InsertNote is idempotent on the note id: replaying an insert that
	// already landed returns the stored row.
	InsertNote(ctx context.Context, note *models.Note) (*models.Note, error)
	// ConditionalUpdate applies w atomically only if the stored version still
	// equals w.BaseVersion, bumping it by one.
	ConditionalUpdate(ctx context.Context, w NoteWrite) (*UpdateResult, error)
	// UnconditionalUpdate writes w and sets the version to BaseVersion+1 without
	// a server-side check. Used only when ConditionalUpdate is unsupported.
	UnconditionalUpdate(ctx context.Context, w NoteWrite) (*models.Note, error)
	// SoftDelete marks the note deleted. Deleting an already deleted or
	// missing note is not an error.
	SoftDelete(ctx context.Context, userID, id, deviceID string) error
	// SupportsConditionalUpdate reports whether the atomic compare-and-set
	// routine is installed on the server.
	SupportsConditionalUpdate(ctx context.Context) (bool, error)
}

type TagStore interface {
	UpsertTag(ctx context.Context, tag *models.Tag) error
	DeleteTag(ctx context.Context, userID, id string) error
}

type SessionStore interface {
	UpsertSession(ctx context.Context, s *models.DeviceSession) error
	ListActiveSessions(ctx context.Context, userID string) ([]models.DeviceSession, error)
	TouchSession(ctx context.Context, userID, deviceID string, at time.Time) error
	DeactivateSession(ctx context.Context, userID, deviceID string) error
	DeleteSession(ctx context.Context, userID, deviceID string) error
	DeleteInactiveSessions(ctx context.Context, userID string, before time.Time) (int64, error)
}

type Authenticator interface {
	// Authenticate returns the user id for valid credentials or
	// common.ErrorUnauthorized.
	Authenticate(ctx context.Context, email, password string) (string, error)
	Register(ctx context.Context, email, password string) (string, error)
}

// Notifier publishes a payload on a named server channel.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// Remote is the full contract the client consumes.
type Remote interface {
	NoteStore
	TagStore
	SessionStore
	Authenticator
	Ping(ctx context.Context) error
}

func channelKey(userID string) string {
	return strings.ReplaceAll(userID, "-", "")
}

// NotesChannel is the change-feed channel for a user's notes.
func NotesChannel(userID string) string {
	return "notes_" + channelKey(userID)
}

// PresenceChannel is the channel devices of one user announce themselves on.
func PresenceChannel(userID string) string {
	return "presence_" + channelKey(userID)
}
