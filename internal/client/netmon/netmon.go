// Package netmon tracks whether the remote store is reachable and notifies
// observers on online/offline transitions.
package netmon

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/status"
	"github.com/dmitrijs2005/notesync/internal/logging"
)

const pingTimeout = 3 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// Monitor pings the remote on a fixed interval.
type Monitor struct {
	pinger   Pinger
	interval time.Duration
	logger   logging.Logger

	mu        sync.RWMutex
	mode      status.Mode
	observers []func(status.Mode)
}

func New(p Pinger, interval time.Duration, logger logging.Logger) *Monitor {
	return &Monitor{
		pinger:   p,
		interval: interval,
		logger:   logger.With("component", "netmon"),
		mode:     status.ModeOffline,
	}
}

func (m *Monitor) Mode() status.Mode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mode
}

func (m *Monitor) Online() bool {
	return m.Mode() == status.ModeOnline
}

// OnChange registers fn to be called after every transition. Observers run
// on the monitor's goroutine and should not block.
func (m *Monitor) OnChange(fn func(status.Mode)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, fn)
}

// Check pings once and applies the result.
func (m *Monitor) Check(ctx context.Context) status.Mode {
	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	err := m.pinger.Ping(pctx)
	cancel()

	if err != nil {
		m.setMode(ctx, status.ModeOffline, err)
	} else {
		m.setMode(ctx, status.ModeOnline, nil)
	}
	return m.Mode()
}

func (m *Monitor) setMode(ctx context.Context, mode status.Mode, cause error) {
	m.mu.Lock()
	if m.mode == mode {
		m.mu.Unlock()
		return
	}
	m.mode = mode
	observers := append([]func(status.Mode){}, m.observers...)
	m.mu.Unlock()

	if cause != nil {
		m.logger.Warn(ctx, "switched mode", "mode", mode, "error", cause)
	} else {
		m.logger.Info(ctx, "switched mode", "mode", mode)
	}
	for _, fn := range observers {
		fn(mode)
	}
}

// Run checks immediately and then on every tick until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	m.Check(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Check(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}
