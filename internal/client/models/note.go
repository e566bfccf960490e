// Package models defines client-side data models used by the notesync client.
package models

import "time"

// SyncStatus is the local-only coordination flag of a cached note.
type SyncStatus string

const (
	SyncStatusPending  SyncStatus = "pending"
	SyncStatusSynced   SyncStatus = "synced"
	SyncStatusConflict SyncStatus = "conflict"
)

// Note is a note or folder as cached locally and stored remotely.
type Note struct {
	// ID is a globally unique identifier, immutable once created.
	ID     string `db:"id" json:"id"`
	UserID string `db:"user_id" json:"user_id"`

	Title   string `db:"title" json:"title"`
	Content string `db:"content" json:"content"`

	// Path is the hierarchical location string; ParentID references the
	// containing folder note, if any.
	Path     string  `db:"path" json:"path"`
	ParentID *string `db:"parent_id" json:"parent_id,omitempty"`
	IsFolder bool    `db:"is_folder" json:"is_folder"`

	IsFavorite bool `db:"is_favorite" json:"is_favorite"`

	// Version is the optimistic-concurrency token. The remote value is
	// authoritative; locally it holds the last version observed remotely.
	Version int64 `db:"version" json:"version"`

	// DeviceID identifies the client that produced the last write.
	DeviceID string `db:"device_id" json:"device_id"`

	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt      *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
	LastAccessedAt *time.Time `db:"last_accessed_at" json:"last_accessed_at,omitempty"`

	// SyncStatus is never persisted remotely.
	SyncStatus SyncStatus `db:"sync_status" json:"sync_status"`
}

// Deleted reports whether the note is soft-deleted.
func (n *Note) Deleted() bool {
	return n.DeletedAt != nil
}

// NoteInput carries the fields a caller supplies when creating a note.
type NoteInput struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	Path     string  `json:"path"`
	ParentID *string `json:"parent_id,omitempty"`
	IsFolder bool    `json:"is_folder"`
}

// NotePatch is a partial update; nil fields are left unchanged.
type NotePatch struct {
	Title      *string `json:"title,omitempty"`
	Content    *string `json:"content,omitempty"`
	Path       *string `json:"path,omitempty"`
	ParentID   *string `json:"parent_id,omitempty"`
	IsFavorite *bool   `json:"is_favorite,omitempty"`
}

// Apply copies the set fields of p onto n.
func (p NotePatch) Apply(n *Note) {
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.Content != nil {
		n.Content = *p.Content
	}
	if p.Path != nil {
		n.Path = *p.Path
	}
	if p.ParentID != nil {
		n.ParentID = p.ParentID
	}
	if p.IsFavorite != nil {
		n.IsFavorite = *p.IsFavorite
	}
}

// Tag is a user label that can be attached to notes.
type Tag struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Name      string    `json:"name"`
	Color     *string   `json:"color,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
