package models

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMutation_Validate(t *testing.T) {
	note := &NotePayload{ID: "n1", Title: "t", BaseVersion: 2}
	tag := &TagPayload{ID: "t1", Name: "work"}

	tests := []struct {
		name    string
		m       Mutation
		wantErr bool
	}{
		{name: "note create", m: NoteCreate(&NotePayload{ID: "n1"})},
		{name: "note update", m: NoteUpdate(note)},
		{name: "note delete", m: NoteDelete("n1")},
		{name: "tag create", m: TagUpsert(ActionCreate, tag)},
		{name: "tag update", m: TagUpsert(ActionUpdate, tag)},
		{name: "tag delete", m: TagDelete("t1")},

		{name: "empty resource id", m: Mutation{Action: ActionDelete, ResourceType: ResourceNote}, wantErr: true},
		{name: "note update without payload", m: Mutation{Action: ActionUpdate, ResourceType: ResourceNote, ResourceID: "n1"}, wantErr: true},
		{name: "note update without base version", m: NoteUpdate(&NotePayload{ID: "n1"}), wantErr: true},
		{name: "payload id mismatch", m: Mutation{Action: ActionCreate, ResourceType: ResourceNote, ResourceID: "x", Note: note}, wantErr: true},
		{name: "note delete with payload", m: Mutation{Action: ActionDelete, ResourceType: ResourceNote, ResourceID: "n1", Note: note}, wantErr: true},
		{name: "tag payload on note", m: Mutation{Action: ActionDelete, ResourceType: ResourceNote, ResourceID: "n1", Tag: tag}, wantErr: true},
		{name: "tag without name", m: TagUpsert(ActionCreate, &TagPayload{ID: "t1"}), wantErr: true},
		{name: "unknown action", m: Mutation{Action: "move", ResourceType: ResourceNote, ResourceID: "n1"}, wantErr: true},
		{name: "unknown resource", m: Mutation{Action: ActionDelete, ResourceType: "folder", ResourceID: "n1"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.wantErr {
				require.ErrorIs(t, err, common.ErrInvalidMutation)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestQueueItem_EncodesAndDecodesMutation(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	m := NoteUpdate(&NotePayload{ID: "n1", Title: "T", Content: "C", BaseVersion: 4, IsFavorite: true})

	item, err := NewQueueItem("u1", "d1", m, ts)
	require.NoError(t, err)
	assert.Equal(t, ActionUpdate, item.Action)
	assert.Equal(t, ResourceNote, item.ResourceType)
	assert.Equal(t, "n1", item.ResourceID)
	assert.Equal(t, time.UTC, item.Timestamp.Location())

	got, err := item.Mutation()
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestNewQueueItem_RejectsInvalid(t *testing.T) {
	_, err := NewQueueItem("u1", "d1", Mutation{Action: ActionUpdate, ResourceType: ResourceNote, ResourceID: "n1"}, time.Now())
	require.ErrorIs(t, err, common.ErrInvalidMutation)
}

func TestQueueItem_CorruptPayload(t *testing.T) {
	item := &QueueItem{Action: ActionUpdate, ResourceType: ResourceNote, ResourceID: "n1", Payload: []byte("{")}
	_, err := item.Mutation()
	require.ErrorIs(t, err, common.ErrInvalidMutation)
}

func TestNotePatch_Apply(t *testing.T) {
	title, fav := "new", true
	n := &Note{Title: "old", Content: "keep"}

	NotePatch{Title: &title, IsFavorite: &fav}.Apply(n)

	assert.Equal(t, "new", n.Title)
	assert.Equal(t, "keep", n.Content)
	assert.True(t, n.IsFavorite)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("merge")
	require.NoError(t, err)
	assert.Equal(t, StrategyMerge, s)

	_, err = ParseStrategy("theirs")
	require.ErrorIs(t, err, common.ErrUnknownStrategy)
}

func TestConflictError_UnwrapsToVersionConflict(t *testing.T) {
	var err error = &ConflictError{Conflict: SyncConflict{NoteID: "n1", LocalVersion: 2, RemoteVersion: 3}}
	require.ErrorIs(t, err, common.ErrVersionConflict)
	assert.Contains(t, err.Error(), "remote 3")
}
