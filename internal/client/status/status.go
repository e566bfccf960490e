// Package status publishes the client's connection and sync state to
// observers as immutable snapshots.
package status

import (
	"slices"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

// Consistency tells whether remote writes are guarded by the server-side
// version check.
type Consistency string

const (
	ConsistencyUnknown  Consistency = "unknown"
	ConsistencyStrict   Consistency = "conditional"
	ConsistencyDegraded Consistency = "unconditional"
)

// Snapshot is a copy of the observable state. Observers may keep it.
type Snapshot struct {
	Mode                Mode                  `json:"mode"`
	IsConnected         bool                  `json:"is_connected"`
	IsSyncing           bool                  `json:"is_syncing"`
	PendingSyncCount    int                   `json:"pending_sync_count"`
	Conflicts           []models.SyncConflict `json:"conflicts"`
	FailedChanges       []models.FailedChange `json:"failed_changes"`
	RealtimeState       string                `json:"realtime_state"`
	RealtimeDegraded    bool                  `json:"realtime_degraded"`
	Consistency         Consistency           `json:"consistency"`
	LocalStoreAvailable bool                  `json:"local_store_available"`
	LastSyncAt          *time.Time            `json:"last_sync_at,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	s.Conflicts = slices.Clone(s.Conflicts)
	s.FailedChanges = slices.Clone(s.FailedChanges)
	if s.LastSyncAt != nil {
		t := *s.LastSyncAt
		s.LastSyncAt = &t
	}
	return s
}

// Tracker holds the current Snapshot and fans changes out to subscribers.
// Slow subscribers only ever see the latest snapshot.
type Tracker struct {
	mu     sync.Mutex
	snap   Snapshot
	subs   map[int]chan Snapshot
	nextID int
}

func NewTracker() *Tracker {
	return &Tracker{
		snap: Snapshot{Mode: ModeOffline, RealtimeState: "disconnected", Consistency: ConsistencyUnknown},
		subs: make(map[int]chan Snapshot),
	}
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap.clone()
}

// Update applies fn to the state and notifies subscribers.
func (t *Tracker) Update(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	fn(&t.snap)
	for _, ch := range t.subs {
		publish(ch, t.snap.clone())
	}
}

func publish(ch chan Snapshot, s Snapshot) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- s:
	default:
	}
}

// Subscribe returns a channel receiving the current snapshot and every
// later change, and a function that ends the subscription.
func (t *Tracker) Subscribe() (<-chan Snapshot, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch := make(chan Snapshot, 1)
	id := t.nextID
	t.nextID++
	t.subs[id] = ch
	ch <- t.snap.clone()

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if _, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
}

func (t *Tracker) SetMode(m Mode) {
	t.Update(func(s *Snapshot) {
		s.Mode = m
		s.IsConnected = m == ModeOnline
	})
}

func (t *Tracker) SetSyncing(v bool) {
	t.Update(func(s *Snapshot) { s.IsSyncing = v })
}

func (t *Tracker) SetPending(n int) {
	t.Update(func(s *Snapshot) { s.PendingSyncCount = n })
}

func (t *Tracker) SetConflicts(c []models.SyncConflict) {
	t.Update(func(s *Snapshot) { s.Conflicts = slices.Clone(c) })
}

func (t *Tracker) SetFailedChanges(f []models.FailedChange) {
	t.Update(func(s *Snapshot) { s.FailedChanges = slices.Clone(f) })
}

func (t *Tracker) SetRealtime(state string, degraded bool) {
	t.Update(func(s *Snapshot) {
		s.RealtimeState = state
		s.RealtimeDegraded = degraded
	})
}

func (t *Tracker) SetConsistency(c Consistency) {
	t.Update(func(s *Snapshot) { s.Consistency = c })
}

func (t *Tracker) SetLocalStore(available bool) {
	t.Update(func(s *Snapshot) { s.LocalStoreAvailable = available })
}

func (t *Tracker) SetLastSync(at time.Time) {
	t.Update(func(s *Snapshot) { s.LastSyncAt = &at })
}
