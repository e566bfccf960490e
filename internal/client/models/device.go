package models

import "time"

// DeviceSession is a client registered for an account.
type DeviceSession struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	UserID     string    `json:"user_id"`
	IsActive   bool      `json:"is_active"`
	LastSeenAt time.Time `json:"last_seen_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Presence is the liveness announcement exchanged over the realtime channel.
type Presence struct {
	UserID     string    `json:"user_id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	OnlineAt   time.Time `json:"online_at"`
}

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is a row change delivered by the remote change feed.
type ChangeEvent struct {
	EventType EventType `json:"eventType"`
	New       *Note     `json:"new,omitempty"`
	Old       *Note     `json:"old,omitempty"`
}

// Origin returns the device that produced the change, if known.
func (e ChangeEvent) Origin() string {
	if e.New != nil {
		return e.New.DeviceID
	}
	return ""
}
