package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/api"
	"github.com/dmitrijs2005/notesync/internal/client/auth"
	"github.com/dmitrijs2005/notesync/internal/client/config"
	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/netmon"
	"github.com/dmitrijs2005/notesync/internal/client/realtime"
	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/client/scheduler"
	"github.com/dmitrijs2005/notesync/internal/client/services"
	"github.com/dmitrijs2005/notesync/internal/client/snapshot"
	"github.com/dmitrijs2005/notesync/internal/client/status"
	"github.com/dmitrijs2005/notesync/internal/client/store"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// sessions is the part of auth.Manager the App drives.
type sessions interface {
	Login(ctx context.Context, email, password string) (*auth.Session, error)
	Register(ctx context.Context, email, password string) (*auth.Session, error)
	Current(ctx context.Context) (*auth.Session, error)
	Logout(ctx context.Context) error
}

type bridge interface {
	Connect(ctx context.Context, userID string) error
	Retry(ctx context.Context) error
	Disconnect()
	Close()
	State() realtime.State
}

type localData interface {
	Stats(ctx context.Context, userID string) (store.Stats, error)
	ClearAllData(ctx context.Context) error
}

type App struct {
	config *config.Config
	logger logging.Logger
	out    io.Writer
	reader *bufio.Reader

	store    localData
	tracker  *status.Tracker
	sched    *scheduler.Scheduler
	session  sessions
	notes    services.NoteService
	tags     services.TagService
	engine   services.SyncEngine
	devices  services.DeviceRegistry
	bridge   bridge
	exporter api.Exporter

	// closers run on shutdown in reverse order
	closers []func()
	// background loops started by Run
	loops []func(ctx context.Context) error

	mu    sync.Mutex
	email string
}

// NewApp builds the client. A local store that cannot be opened is not fatal:
// the client then works remote-only.
func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	a := &App{
		config:  c,
		logger:  logger,
		out:     os.Stdout,
		reader:  bufio.NewReader(os.Stdin),
		tracker: status.NewTracker(),
		sched:   scheduler.New(),
	}
	a.closers = append(a.closers, a.sched.Close)

	st := store.New(c.LocalDBPath)
	if err := st.Init(ctx); err != nil {
		logger.Warn(ctx, "local store unavailable, notes will not be cached", "path", c.LocalDBPath, "error", err)
	} else {
		a.closers = append(a.closers, func() { _ = st.Close() })
	}
	a.store = st
	a.tracker.SetLocalStore(st.Available())

	rem, err := remote.NewPostgresClient(ctx, c.RemoteDSN)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}
	a.closers = append(a.closers, rem.Close)

	session := auth.NewManager(st, rem, []byte(c.SessionSecret), c.SessionTTL)
	a.session = session

	devices := services.NewDeviceRegistry(st, rem, session, services.DeviceOptions{
		DeviceName:        c.DeviceName,
		HeartbeatInterval: c.HeartbeatInterval,
		InactiveAge:       c.InactiveDeviceAge,
	}, logger)
	deviceID, err := devices.CurrentDeviceID(ctx)
	if err != nil {
		a.close()
		return nil, err
	}
	a.devices = devices
	logger = logger.With("device_id", deviceID)
	a.logger = logger

	monitor := netmon.New(rem, c.OnlineCheckInterval, logger)
	engine := services.NewSyncEngine(st, rem, session, monitor, a.tracker, services.SyncOptions{
		DeviceID:        deviceID,
		DrainInterval:   c.DrainInterval,
		MaxAttempts:     c.MaxSyncAttempts,
		DefaultStrategy: models.Strategy(c.ConflictStrategy),
	}, logger)
	a.engine = engine
	a.notes = services.NewNoteService(st, rem, engine, session, monitor, deviceID, logger)
	a.tags = services.NewTagService(engine, session)

	var feed realtime.Feed
	switch c.RealtimeTransport {
	case "websocket":
		feed = realtime.NewWebSocketFeed(c.RealtimeURL, logger)
	default:
		feed = realtime.NewPostgresFeed(c.RemoteDSN, rem, logger)
	}
	br := realtime.NewBridge(feed, a.sched, realtime.Options{
		DeviceID:             deviceID,
		DeviceName:           c.DeviceName,
		SubscribeTimeout:     c.SubscribeTimeout,
		PresenceInterval:     c.PresenceInterval,
		ReconnectBase:        c.ReconnectBase,
		ReconnectCap:         c.ReconnectCap,
		ReconnectMaxAttempts: c.ReconnectMaxAttempts,
	}, logger)
	a.bridge = br
	a.closers = append(a.closers, br.Close)

	if c.S3AccessKey != "" {
		client, err := snapshot.NewS3Client(ctx, snapshot.S3Options{
			Endpoint:  c.S3Endpoint,
			Region:    c.S3Region,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		a.exporter = snapshot.NewExporter(st, client, c.S3Bucket, deviceID, logger).WithPassphrase(c.SnapshotPassphrase)
	}

	a.wire(monitor, br)

	a.loops = append(a.loops, monitor.Run, engine.Run, devices.RunHeartbeat)
	if c.HTTPAddr != "" {
		h := api.NewHandler(api.Deps{
			Notes:    a.notes,
			Sync:     engine,
			Devices:  devices,
			Identity: session,
			Status:   a.tracker,
			Exporter: a.exporter,
			Logger:   logger,
		})
		a.loops = append(a.loops, func(ctx context.Context) error {
			return api.Serve(ctx, c.HTTPAddr, h, logger)
		})
	}
	return a, nil
}

// wire connects observers: connectivity drives draining and realtime
// reconnects, realtime changes refresh the cache.
func (a *App) wire(monitor *netmon.Monitor, br *realtime.Bridge) {
	monitor.OnChange(func(m status.Mode) {
		a.tracker.SetMode(m)
		if m != status.ModeOnline {
			return
		}
		a.sched.After(0, func(ctx context.Context) {
			a.probe(ctx)
			if _, err := a.engine.Drain(ctx); err != nil {
				a.logger.Debug(ctx, "drain after reconnect skipped", "error", err)
			}
			if err := a.bridge.Retry(ctx); err != nil {
				a.logger.Debug(ctx, "realtime retry skipped", "error", err)
			}
		})
	})

	br.OnState(func(s realtime.State, degraded bool) {
		a.tracker.SetRealtime(string(s), degraded)
	})
	br.OnChange(func(ctx context.Context, ev models.ChangeEvent) {
		a.logger.Debug(ctx, "remote change", "event", ev.EventType, "origin", ev.Origin())
		if err := a.notes.RefreshFromRemote(ctx); err != nil {
			a.logger.Warn(ctx, "refresh after remote change failed", "error", err)
		}
	})
	br.OnPresence(a.devices.MarkPresent)
}

func (a *App) probe(ctx context.Context) {
	mode, err := a.engine.Probe(ctx)
	if err != nil {
		a.logger.Warn(ctx, "consistency probe failed", "error", err)
		return
	}
	a.logger.Info(ctx, "consistency mode", "mode", mode)
}

// Run resumes a stored session, starts the background loops and blocks in
// the REPL until the user exits or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)

	for _, loop := range a.loops {
		g.Go(func() error { return loop(ctx) })
	}

	if s, err := a.session.Current(ctx); err == nil {
		a.setEmail(s.Email)
		a.startSession(ctx, s.UserID)
	}

	// the REPL blocks on stdin, so it is not part of the group: a signal
	// must be able to end Run while a read is pending
	replDone := make(chan struct{})
	go func() {
		defer close(replDone)
		fmt.Fprintln(a.out, "notesync (type 'help' for commands)")
		runREPL(ctx, a, a.statusLine, bufio.NewScanner(a.reader))
	}()

	select {
	case <-replDone:
	case <-ctx.Done():
	}
	cancel()
	err := g.Wait()

	sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer scancel()
	if userID, uerr := a.userID(sctx); uerr == nil {
		_ = a.devices.DeactivateDevice(sctx, userID)
	}
	return err
}

// startSession does the per-login bookkeeping and subscribes to changes in
// the background.
func (a *App) startSession(ctx context.Context, userID string) {
	_ = a.devices.RegisterDevice(ctx, userID)
	if _, err := a.devices.CleanupInactive(ctx, userID); err != nil {
		a.logger.Warn(ctx, "device cleanup failed", "error", err)
	}
	a.sched.After(0, func(sctx context.Context) {
		if err := a.bridge.Connect(sctx, userID); err != nil {
			a.logger.Warn(sctx, "realtime subscription failed", "error", err)
		}
	})
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) userID(ctx context.Context) (string, error) {
	s, err := a.session.Current(ctx)
	if err != nil {
		return "", err
	}
	return s.UserID, nil
}

func (a *App) setEmail(email string) {
	a.mu.Lock()
	a.email = email
	a.mu.Unlock()
}

func (a *App) isLoggedIn() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.email != ""
}

// statusLine renders the prompt: account, connectivity and unsynced work.
func (a *App) statusLine() string {
	a.mu.Lock()
	email := a.email
	a.mu.Unlock()

	snap := a.tracker.Snapshot()
	parts := []string{}
	if email != "" {
		parts = append(parts, email)
	}
	parts = append(parts, string(snap.Mode))
	if snap.PendingSyncCount > 0 {
		parts = append(parts, fmt.Sprintf("%d pending", snap.PendingSyncCount))
	}
	if n := len(snap.Conflicts); n > 0 {
		parts = append(parts, fmt.Sprintf("%d conflicts", n))
	}
	return "(" + strings.Join(parts, " ") + ")"
}
