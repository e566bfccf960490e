package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/notesync/internal/common"
)

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

type ResourceType string

const (
	ResourceNote ResourceType = "note"
	ResourceTag  ResourceType = "tag"
)

// NotePayload is the full note state a note mutation replays.
// BaseVersion is the remote version the edit was made against.
type NotePayload struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Path        string  `json:"path"`
	ParentID    *string `json:"parent_id,omitempty"`
	IsFolder    bool    `json:"is_folder"`
	IsFavorite  bool    `json:"is_favorite"`
	BaseVersion int64   `json:"base_version"`
}

// NotePayloadFrom snapshots n into a payload.
func NotePayloadFrom(n *Note) *NotePayload {
	return &NotePayload{
		ID:          n.ID,
		Title:       n.Title,
		Content:     n.Content,
		Path:        n.Path,
		ParentID:    n.ParentID,
		IsFolder:    n.IsFolder,
		IsFavorite:  n.IsFavorite,
		BaseVersion: n.Version,
	}
}

type TagPayload struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Color *string `json:"color,omitempty"`
}

// Mutation is a tagged union over (Action, ResourceType). Exactly one of the
// payload pointers is set, depending on the combination; see Validate.
type Mutation struct {
	Action       Action       `json:"-"`
	ResourceType ResourceType `json:"-"`
	ResourceID   string       `json:"-"`

	Note *NotePayload `json:"note,omitempty"`
	Tag  *TagPayload  `json:"tag,omitempty"`
}

func NoteCreate(p *NotePayload) Mutation {
	return Mutation{Action: ActionCreate, ResourceType: ResourceNote, ResourceID: p.ID, Note: p}
}

func NoteUpdate(p *NotePayload) Mutation {
	return Mutation{Action: ActionUpdate, ResourceType: ResourceNote, ResourceID: p.ID, Note: p}
}

func NoteDelete(id string) Mutation {
	return Mutation{Action: ActionDelete, ResourceType: ResourceNote, ResourceID: id}
}

func TagUpsert(action Action, p *TagPayload) Mutation {
	return Mutation{Action: action, ResourceType: ResourceTag, ResourceID: p.ID, Tag: p}
}

func TagDelete(id string) Mutation {
	return Mutation{Action: ActionDelete, ResourceType: ResourceTag, ResourceID: id}
}

// Validate checks the payload schema of the (Action, ResourceType) pair.
func (m Mutation) Validate() error {
	if m.ResourceID == "" {
		return fmt.Errorf("%w: empty resource id", common.ErrInvalidMutation)
	}

	switch m.ResourceType {
	case ResourceNote:
		if m.Tag != nil {
			return fmt.Errorf("%w: tag payload on note mutation", common.ErrInvalidMutation)
		}
		switch m.Action {
		case ActionCreate, ActionUpdate:
			if m.Note == nil {
				return fmt.Errorf("%w: note %s requires a payload", common.ErrInvalidMutation, m.Action)
			}
			if m.Note.ID != m.ResourceID {
				return fmt.Errorf("%w: payload id %q does not match resource %q", common.ErrInvalidMutation, m.Note.ID, m.ResourceID)
			}
			if m.Action == ActionUpdate && m.Note.BaseVersion < 1 {
				return fmt.Errorf("%w: note update requires a base version", common.ErrInvalidMutation)
			}
		case ActionDelete:
			if m.Note != nil {
				return fmt.Errorf("%w: note delete carries no payload", common.ErrInvalidMutation)
			}
		default:
			return fmt.Errorf("%w: unknown action %q", common.ErrInvalidMutation, m.Action)
		}

	case ResourceTag:
		if m.Note != nil {
			return fmt.Errorf("%w: note payload on tag mutation", common.ErrInvalidMutation)
		}
		switch m.Action {
		case ActionCreate, ActionUpdate:
			if m.Tag == nil || m.Tag.Name == "" {
				return fmt.Errorf("%w: tag %s requires a named payload", common.ErrInvalidMutation, m.Action)
			}
			if m.Tag.ID != m.ResourceID {
				return fmt.Errorf("%w: payload id %q does not match resource %q", common.ErrInvalidMutation, m.Tag.ID, m.ResourceID)
			}
		case ActionDelete:
			if m.Tag != nil {
				return fmt.Errorf("%w: tag delete carries no payload", common.ErrInvalidMutation)
			}
		default:
			return fmt.Errorf("%w: unknown action %q", common.ErrInvalidMutation, m.Action)
		}

	default:
		return fmt.Errorf("%w: unknown resource type %q", common.ErrInvalidMutation, m.ResourceType)
	}

	return nil
}

// QueueItem is a durable, pending mutation.
type QueueItem struct {
	ID           int64        `db:"id" json:"id"`
	UserID       string       `db:"user_id" json:"user_id"`
	DeviceID     string       `db:"device_id" json:"device_id"`
	Action       Action       `db:"action" json:"action"`
	ResourceType ResourceType `db:"resource_type" json:"resource_type"`
	ResourceID   string       `db:"resource_id" json:"resource_id"`
	Payload      []byte       `db:"payload" json:"payload"`
	Timestamp    time.Time    `db:"timestamp" json:"timestamp"`
	Attempts     int          `db:"attempts" json:"attempts"`
}

// NewQueueItem validates m and encodes it into a queue item.
func NewQueueItem(userID, deviceID string, m Mutation, ts time.Time) (*QueueItem, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mutation payload: %w", err)
	}

	return &QueueItem{
		UserID:       userID,
		DeviceID:     deviceID,
		Action:       m.Action,
		ResourceType: m.ResourceType,
		ResourceID:   m.ResourceID,
		Payload:      payload,
		Timestamp:    ts.UTC(),
	}, nil
}

// Mutation decodes and re-validates the item's payload.
func (q *QueueItem) Mutation() (Mutation, error) {
	var m Mutation
	if len(q.Payload) > 0 {
		if err := json.Unmarshal(q.Payload, &m); err != nil {
			return Mutation{}, fmt.Errorf("%w: %v", common.ErrInvalidMutation, err)
		}
	}
	m.Action = q.Action
	m.ResourceType = q.ResourceType
	m.ResourceID = q.ResourceID

	if err := m.Validate(); err != nil {
		return Mutation{}, err
	}
	return m, nil
}

// Rewrite replaces the item's payload with m, which must address the same resource.
func (q *QueueItem) Rewrite(m Mutation) error {
	if m.Action != q.Action || m.ResourceType != q.ResourceType || m.ResourceID != q.ResourceID {
		return fmt.Errorf("%w: rewrite changes the addressed resource", common.ErrInvalidMutation)
	}
	if err := m.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mutation payload: %w", err)
	}
	q.Payload = payload
	return nil
}

// FailedChange is a queue item abandoned after the retry ceiling.
type FailedChange struct {
	Item     QueueItem `json:"item"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}
