package models

import (
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
)

// Strategy selects how a SyncConflict is resolved.
type Strategy string

const (
	StrategyLocal  Strategy = "local"
	StrategyRemote Strategy = "remote"
	StrategyMerge  Strategy = "merge"
)

func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyLocal, StrategyRemote, StrategyMerge:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: %q", common.ErrUnknownStrategy, s)
}

// SyncConflict describes both sides of a rejected optimistic write.
type SyncConflict struct {
	NoteID        string    `json:"note_id"`
	LocalVersion  int64     `json:"local_version"`
	RemoteVersion int64     `json:"remote_version"`
	LocalContent  string    `json:"local_content"`
	RemoteContent string    `json:"remote_content"`
	LocalTitle    string    `json:"local_title"`
	RemoteTitle   string    `json:"remote_title"`
	LastModified  time.Time `json:"last_modified"`
}

// ConflictError carries a SyncConflict through error returns.
type ConflictError struct {
	Conflict SyncConflict
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on note %s: local %d, remote %d",
		e.Conflict.NoteID, e.Conflict.LocalVersion, e.Conflict.RemoteVersion)
}

func (e *ConflictError) Unwrap() error {
	return common.ErrVersionConflict
}

// SyncResult is the outcome of a save: the authoritative note, a conflict,
// or Queued when the change was parked behind earlier queued changes.
type SyncResult struct {
	Note     *Note         `json:"note,omitempty"`
	Conflict *SyncConflict `json:"conflict,omitempty"`
	Queued   bool          `json:"queued,omitempty"`
}

// SyncStats aggregates a drain pass.
type SyncStats struct {
	TotalNotes int `json:"total_notes"`
	Synced     int `json:"synced"`
	Conflicts  int `json:"conflicts"`
	Errors     int `json:"errors"`
	// Dropped counts items abandoned at the retry ceiling during the pass.
	Dropped int `json:"dropped"`
	// Deferred counts items held back behind a failed write of the same resource.
	Deferred int `json:"deferred"`
}
