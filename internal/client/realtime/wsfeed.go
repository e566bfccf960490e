package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/gorilla/websocket"
)

// Frame types exchanged with a websocket change feed.
const (
	frameSubscribe  = "subscribe"
	frameSubscribed = "subscribed"
	frameChange     = "change"
	framePresence   = "presence"
	frameError      = "error"
)

type frame struct {
	Type     string           `json:"type"`
	UserID   string           `json:"user_id,omitempty"`
	Change   json.RawMessage  `json:"change,omitempty"`
	Presence *models.Presence `json:"presence,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// WebSocketFeed subscribes through a JSON-over-websocket relay.
type WebSocketFeed struct {
	url    string
	dialer *websocket.Dialer
	logger logging.Logger
}

func NewWebSocketFeed(url string, logger logging.Logger) *WebSocketFeed {
	return &WebSocketFeed{url: url, dialer: websocket.DefaultDialer, logger: logger.With("component", "realtime")}
}

func (f *WebSocketFeed) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	conn, _, err := f.dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", f.url, err)
	}

	s := &wsSubscription{conn: conn, logger: f.logger, messages: make(chan Message, 64), done: make(chan struct{})}
	if err := s.write(frame{Type: frameSubscribe, UserID: userID}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	var ack frame
	if err := conn.ReadJSON(&ack); err != nil {
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("subscribe: %w", ctx.Err())
		}
		return nil, fmt.Errorf("failed to read subscribe ack: %w", err)
	}
	switch ack.Type {
	case frameSubscribed:
	case frameError:
		_ = conn.Close()
		return nil, fmt.Errorf("subscribe rejected: %s", ack.Error)
	default:
		_ = conn.Close()
		return nil, fmt.Errorf("unexpected frame %q before subscribe ack", ack.Type)
	}
	_ = conn.SetReadDeadline(time.Time{})

	go s.pump()
	return s, nil
}

type wsSubscription struct {
	conn     *websocket.Conn
	logger   logging.Logger
	messages chan Message
	done     chan struct{}

	wmu sync.Mutex

	mu     sync.Mutex
	err    error
	closed bool
}

func (s *wsSubscription) write(f frame) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteJSON(f); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", f.Type, err)
	}
	return nil
}

func (s *wsSubscription) pump() {
	defer close(s.messages)
	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			s.mu.Lock()
			if !s.closed {
				s.err = fmt.Errorf("%w: %v", errConnectionLost, err)
			}
			s.mu.Unlock()
			return
		}

		msg, err := decodeFrame(f)
		if err != nil {
			s.logger.Warn(context.Background(), "dropping frame", "type", f.Type, "error", err)
			continue
		}
		select {
		case s.messages <- msg:
		case <-s.done:
			return
		}
	}
}

func decodeFrame(f frame) (Message, error) {
	switch f.Type {
	case frameChange:
		ev, err := decodeChange(f.Change)
		if err != nil {
			return Message{}, err
		}
		return Message{Change: ev}, nil
	case framePresence:
		if f.Presence == nil || f.Presence.DeviceID == "" {
			return Message{}, errors.New("presence without device id")
		}
		return Message{Presence: f.Presence}, nil
	case frameError:
		return Message{}, fmt.Errorf("server error: %s", f.Error)
	}
	return Message{}, fmt.Errorf("unexpected frame type %q", f.Type)
}

func (s *wsSubscription) Messages() <-chan Message {
	return s.messages
}

func (s *wsSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsSubscription) Track(ctx context.Context, p models.Presence) error {
	if deadline, ok := ctx.Deadline(); ok {
		s.wmu.Lock()
		_ = s.conn.SetWriteDeadline(deadline)
		s.wmu.Unlock()
		defer func() {
			s.wmu.Lock()
			_ = s.conn.SetWriteDeadline(time.Time{})
			s.wmu.Unlock()
		}()
	}
	return s.write(frame{Type: framePresence, Presence: &p})
}

func (s *wsSubscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.wmu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.wmu.Unlock()
	return s.conn.Close()
}
