// Package notes provides the client-side persistence layer for cached notes.
//
// Rows mirror models.Note plus the local-only sync_status column, which is the
// coordination flag between the UI write path and the sync engine: a note is
// pending until the engine confirms remote acceptance, synced afterwards, and
// conflict while a version mismatch awaits resolution.
//
// Listings exclude soft-deleted rows and are ordered newest-updated first.
// Delete is a hard local delete; remote soft deletes arrive as rows with
// deleted_at set.
package notes
