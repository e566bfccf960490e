package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/scheduler"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/singleflight"
)

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
	StateReconnecting State = "reconnecting"
)

var (
	ErrNoUser = errors.New("realtime: no user to subscribe for")
	ErrClosed = errors.New("realtime: bridge closed")
)

type Options struct {
	DeviceID   string
	DeviceName string

	SubscribeTimeout time.Duration
	PresenceInterval time.Duration

	ReconnectBase        time.Duration
	ReconnectCap         time.Duration
	ReconnectMaxAttempts int
}

func (o *Options) setDefaults() {
	if o.SubscribeTimeout <= 0 {
		o.SubscribeTimeout = 10 * time.Second
	}
	if o.PresenceInterval <= 0 {
		o.PresenceInterval = 30 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectCap <= 0 {
		o.ReconnectCap = 30 * time.Second
	}
	if o.ReconnectMaxAttempts <= 0 {
		o.ReconnectMaxAttempts = 5
	}
}

// Bridge keeps one subscription to the change feed for the signed-in user.
//
// disconnected -> connecting -> subscribed; a lost or failed subscription
// moves to reconnecting with bounded exponential backoff. Once the backoff is
// exhausted the bridge is disconnected and degraded until Retry is called.
type Bridge struct {
	feed   Feed
	sched  *scheduler.Scheduler
	opts   Options
	logger logging.Logger

	group singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	state         State
	degraded      bool
	closed        bool
	userID        string
	sub           Subscription
	backoff       retry.Backoff
	reconnectTask *scheduler.Task
	stopPresence  context.CancelFunc

	onChange   []func(context.Context, models.ChangeEvent)
	onPresence []func(models.Presence)
	onState    []func(State, bool)
}

func NewBridge(feed Feed, sched *scheduler.Scheduler, opts Options, logger logging.Logger) *Bridge {
	opts.setDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Bridge{
		feed:   feed,
		sched:  sched,
		opts:   opts,
		logger: logger.With("component", "realtime"),
		ctx:    ctx,
		cancel: cancel,
		state:  StateDisconnected,
	}
}

// OnChange registers a handler for changes made by other devices.
func (b *Bridge) OnChange(fn func(context.Context, models.ChangeEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onChange = append(b.onChange, fn)
}

// OnPresence registers a handler for presence announced by other devices.
func (b *Bridge) OnPresence(fn func(models.Presence)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPresence = append(b.onPresence, fn)
}

// OnState registers a handler called on every state transition.
func (b *Bridge) OnState(fn func(State, bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onState = append(b.onState, fn)
}

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Degraded reports whether reconnecting was abandoned.
func (b *Bridge) Degraded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.degraded
}

// Connect subscribes for userID. Concurrent calls share one attempt and all
// observe its outcome. Connecting while already subscribed is a no-op.
func (b *Bridge) Connect(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrNoUser
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.state == StateSubscribed && b.userID == userID {
		b.mu.Unlock()
		return nil
	}
	b.userID = userID
	b.mu.Unlock()

	ch := b.group.DoChan("connect:"+userID, func() (any, error) {
		return nil, b.connect(userID)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Bridge) connect(userID string) error {
	b.mu.Lock()
	if b.state == StateSubscribed && b.userID == userID {
		b.mu.Unlock()
		return nil
	}
	b.reconnectTask.Cancel()
	b.reconnectTask = nil
	old := b.sub
	b.sub = nil
	b.haltPresence()
	b.setState(StateConnecting)
	b.mu.Unlock()
	b.notifyState()

	if old != nil {
		_ = old.Close()
	}

	ctx, cancel := context.WithTimeout(b.ctx, b.opts.SubscribeTimeout)
	sub, err := b.feed.Subscribe(ctx, userID)
	cancel()
	if err != nil {
		b.logger.Warn(b.ctx, "subscribe failed", "error", err)
		b.scheduleReconnect(userID)
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.mu.Lock()
	if b.closed || b.userID != userID || b.state != StateConnecting {
		b.mu.Unlock()
		_ = sub.Close()
		return nil
	}
	b.sub = sub
	b.backoff = nil
	b.degraded = false
	b.setState(StateSubscribed)
	pctx, stop := context.WithCancel(b.ctx)
	b.stopPresence = stop
	b.mu.Unlock()
	b.notifyState()

	b.logger.Info(b.ctx, "subscribed to change feed", "user_id", userID)

	go b.pump(sub)
	go b.announce(pctx, sub, userID)
	return nil
}

// scheduleReconnect moves to reconnecting, or gives up once the backoff is
// spent.
func (b *Bridge) scheduleReconnect(userID string) {
	b.mu.Lock()
	if b.closed || b.userID != userID {
		b.mu.Unlock()
		return
	}
	if b.backoff == nil {
		b.backoff = retry.WithMaxRetries(uint64(b.opts.ReconnectMaxAttempts),
			retry.WithCappedDuration(b.opts.ReconnectCap, retry.NewExponential(b.opts.ReconnectBase)))
	}

	d, stop := b.backoff.Next()
	if stop {
		b.backoff = nil
		b.degraded = true
		b.setState(StateDisconnected)
		b.mu.Unlock()
		b.notifyState()
		b.logger.Warn(b.ctx, "giving up on change feed", "attempts", b.opts.ReconnectMaxAttempts)
		return
	}

	b.setState(StateReconnecting)
	b.reconnectTask.Cancel()
	b.reconnectTask = b.sched.After(d, func(ctx context.Context) {
		_ = b.Connect(ctx, userID)
	})
	b.mu.Unlock()
	b.notifyState()
	b.logger.Info(b.ctx, "reconnect scheduled", "in", d)
}

func (b *Bridge) pump(sub Subscription) {
	for msg := range sub.Messages() {
		b.dispatch(msg)
	}

	b.mu.Lock()
	current := b.sub == sub
	if current {
		b.sub = nil
		b.haltPresence()
	}
	userID := b.userID
	b.mu.Unlock()

	if !current {
		return
	}
	b.logger.Warn(b.ctx, "change feed lost", "error", sub.Err())
	_ = sub.Close()
	b.scheduleReconnect(userID)
}

func (b *Bridge) dispatch(msg Message) {
	switch {
	case msg.Change != nil:
		if msg.Change.Origin() == b.opts.DeviceID {
			b.logger.Debug(b.ctx, "suppressed self-originated change")
			return
		}
		b.mu.Lock()
		handlers := append([]func(context.Context, models.ChangeEvent){}, b.onChange...)
		b.mu.Unlock()
		for _, fn := range handlers {
			fn(b.ctx, *msg.Change)
		}
	case msg.Presence != nil:
		if msg.Presence.DeviceID == b.opts.DeviceID {
			return
		}
		b.mu.Lock()
		handlers := append([]func(models.Presence){}, b.onPresence...)
		b.mu.Unlock()
		for _, fn := range handlers {
			fn(*msg.Presence)
		}
	}
}

func (b *Bridge) announce(ctx context.Context, sub Subscription, userID string) {
	track := func() {
		tctx, cancel := context.WithTimeout(ctx, b.opts.SubscribeTimeout)
		defer cancel()
		p := models.Presence{
			UserID:     userID,
			DeviceID:   b.opts.DeviceID,
			DeviceName: b.opts.DeviceName,
			OnlineAt:   time.Now().UTC(),
		}
		if err := sub.Track(tctx, p); err != nil && ctx.Err() == nil {
			b.logger.Warn(ctx, "presence announce failed", "error", err)
		}
	}

	track()
	t := time.NewTicker(b.opts.PresenceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			track()
		}
	}
}

// Retry clears the backoff and degraded flag and connects again for the
// last user.
func (b *Bridge) Retry(ctx context.Context) error {
	b.mu.Lock()
	userID := b.userID
	b.backoff = nil
	b.degraded = false
	b.mu.Unlock()

	if userID == "" {
		return ErrNoUser
	}
	return b.Connect(ctx, userID)
}

// Disconnect drops the subscription and any pending reconnect.
func (b *Bridge) Disconnect() {
	b.mu.Lock()
	b.userID = ""
	b.reconnectTask.Cancel()
	b.reconnectTask = nil
	b.backoff = nil
	b.degraded = false
	sub := b.sub
	b.sub = nil
	b.haltPresence()
	changed := b.setState(StateDisconnected)
	b.mu.Unlock()

	if changed {
		b.notifyState()
	}
	if sub != nil {
		_ = sub.Close()
	}
}

// Close disconnects and stops the bridge for good.
func (b *Bridge) Close() {
	b.Disconnect()
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cancel()
}

func (b *Bridge) haltPresence() {
	if b.stopPresence != nil {
		b.stopPresence()
		b.stopPresence = nil
	}
}

// setState must be called with mu held.
func (b *Bridge) setState(s State) bool {
	if b.state == s {
		return false
	}
	b.state = s
	return true
}

func (b *Bridge) notifyState() {
	b.mu.Lock()
	s, degraded := b.state, b.degraded
	handlers := append([]func(State, bool){}, b.onState...)
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(s, degraded)
	}
}
