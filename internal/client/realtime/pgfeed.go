package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/lib/pq"
)

var errConnectionLost = errors.New("change feed connection lost")

// PostgresFeed listens on the notes and presence channels that the server
// schema's triggers notify.
type PostgresFeed struct {
	dsn      string
	notifier remote.Notifier
	logger   logging.Logger
}

func NewPostgresFeed(dsn string, notifier remote.Notifier, logger logging.Logger) *PostgresFeed {
	return &PostgresFeed{dsn: dsn, notifier: notifier, logger: logger.With("component", "realtime")}
}

func (f *PostgresFeed) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	s := &pgSubscription{
		userID:   userID,
		notifier: f.notifier,
		logger:   f.logger,
		messages: make(chan Message, 64),
		lost:     make(chan struct{}),
	}

	// The bridge owns reconnection, so the listener must not silently
	// reconnect behind it: any disconnect ends the subscription.
	s.listener = pq.NewListener(f.dsn, time.Second, time.Second, func(ev pq.ListenerEventType, err error) {
		if ev == pq.ListenerEventDisconnected && s.armed.Load() {
			s.fail(err)
		}
	})

	done := make(chan error, 1)
	go func() {
		if err := s.listener.Listen(remote.NotesChannel(userID)); err != nil {
			done <- err
			return
		}
		done <- s.listener.Listen(remote.PresenceChannel(userID))
	}()

	select {
	case err := <-done:
		if err != nil {
			_ = s.listener.Close()
			return nil, fmt.Errorf("failed to listen: %w", err)
		}
	case <-ctx.Done():
		_ = s.listener.Close()
		return nil, fmt.Errorf("subscribe: %w", ctx.Err())
	}

	s.armed.Store(true)
	go s.pump()
	return s, nil
}

type pgSubscription struct {
	userID   string
	notifier remote.Notifier
	logger   logging.Logger
	listener *pq.Listener
	messages chan Message

	armed    atomic.Bool
	lost     chan struct{}
	lostOnce sync.Once
	closed   bool

	mu  sync.Mutex
	err error
}

func (s *pgSubscription) fail(err error) {
	s.lostOnce.Do(func() {
		s.mu.Lock()
		if !s.closed {
			if err == nil {
				err = errConnectionLost
			}
			s.err = fmt.Errorf("%w: %v", errConnectionLost, err)
		}
		s.mu.Unlock()
		close(s.lost)
	})
}

func (s *pgSubscription) pump() {
	defer close(s.messages)
	for {
		select {
		case n, ok := <-s.listener.Notify:
			if !ok {
				s.fail(nil)
				return
			}
			if n == nil {
				continue
			}
			msg, err := decodeNotification(n.Channel, []byte(n.Extra))
			if err != nil {
				s.logger.Warn(context.Background(), "dropping notification", "channel", n.Channel, "error", err)
				continue
			}
			select {
			case s.messages <- msg:
			case <-s.lost:
				return
			}
		case <-s.lost:
			return
		}
	}
}

func decodeNotification(channel string, payload []byte) (Message, error) {
	switch {
	case strings.HasPrefix(channel, "notes_"):
		ev, err := decodeChange(payload)
		if err != nil {
			return Message{}, err
		}
		return Message{Change: ev}, nil
	case strings.HasPrefix(channel, "presence_"):
		p, err := decodePresence(payload)
		if err != nil {
			return Message{}, err
		}
		return Message{Presence: p}, nil
	}
	return Message{}, fmt.Errorf("unexpected channel %q", channel)
}

func (s *pgSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *pgSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *pgSubscription) Track(ctx context.Context, p models.Presence) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode presence: %w", err)
	}
	return s.notifier.Notify(ctx, remote.PresenceChannel(s.userID), string(b))
}

func (s *pgSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.fail(nil)
	return s.listener.Close()
}
