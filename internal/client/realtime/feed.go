// Package realtime keeps a live subscription to the remote change feed for
// the signed-in user. The Bridge owns the connection state machine; Feed
// implementations carry the actual transport.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

// Message is one item delivered by a subscription: a row change or a
// presence announcement from another device.
type Message struct {
	Change   *models.ChangeEvent
	Presence *models.Presence
}

// Feed opens subscriptions. Subscribe returns once the server has confirmed
// the subscription or ctx expires.
type Feed interface {
	Subscribe(ctx context.Context, userID string) (Subscription, error)
}

type Subscription interface {
	// Messages is closed when the subscription ends for any reason.
	Messages() <-chan Message
	// Err reports why Messages was closed; nil after Close.
	Err() error
	// Track announces presence on the user's presence channel.
	Track(ctx context.Context, p models.Presence) error
	Close() error
}

func decodeChange(data []byte) (*models.ChangeEvent, error) {
	var ev models.ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode change event: %w", err)
	}
	switch ev.EventType {
	case models.EventInsert, models.EventUpdate, models.EventDelete:
	default:
		return nil, fmt.Errorf("unknown event type %q", ev.EventType)
	}
	return &ev, nil
}

func decodePresence(data []byte) (*models.Presence, error) {
	var p models.Presence
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode presence: %w", err)
	}
	if p.DeviceID == "" {
		return nil, fmt.Errorf("presence without device id")
	}
	return &p, nil
}
