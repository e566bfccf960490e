package services

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/common"
	"github.com/dmitrijs2005/notesync/internal/logging"
	"github.com/google/uuid"
)

// DeviceRegistry knows this client's identity and the other clients of the
// same account. Bookkeeping failures are logged and absorbed: they only
// degrade multi-device visibility.
type DeviceRegistry interface {
	CurrentDeviceID(ctx context.Context) (string, error)
	RegisterDevice(ctx context.Context, userID string) error
	ListActiveDevices(ctx context.Context, userID string) ([]models.DeviceSession, error)
	RemoveDevice(ctx context.Context, userID, deviceID string) error
	CleanupInactive(ctx context.Context, userID string) (int64, error)
	Heartbeat(ctx context.Context, userID string) error
	RunHeartbeat(ctx context.Context) error
	DeactivateDevice(ctx context.Context, userID string) error

	// MarkPresent records a presence announcement of another device.
	MarkPresent(p models.Presence)
	// ActiveNow lists devices heard from within the presence window.
	ActiveNow() []models.Presence
}

type MetadataSource interface {
	Metadata() metadata.Repository
}

type DeviceOptions struct {
	DeviceName        string
	HeartbeatInterval time.Duration
	InactiveAge       time.Duration
	// PresenceWindow is how long a presence announcement counts as "active now".
	PresenceWindow time.Duration
}

type deviceRegistry struct {
	meta     MetadataSource
	sessions remote.SessionStore
	ident    Identity
	logger   logging.Logger
	opts     DeviceOptions
	now      func() time.Time

	mu       sync.Mutex
	deviceID string
	present  map[string]presenceEntry
}

type presenceEntry struct {
	p      models.Presence
	seenAt time.Time
}

func NewDeviceRegistry(meta MetadataSource, sessions remote.SessionStore, ident Identity,
	opts DeviceOptions, logger logging.Logger) DeviceRegistry {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.InactiveAge <= 0 {
		opts.InactiveAge = 30 * 24 * time.Hour
	}
	if opts.PresenceWindow <= 0 {
		opts.PresenceWindow = 2 * opts.HeartbeatInterval
	}
	return &deviceRegistry{
		meta:     meta,
		sessions: sessions,
		ident:    ident,
		logger:   logger.With("component", "devices"),
		opts:     opts,
		now:      time.Now,
		present:  make(map[string]presenceEntry),
	}
}

// CurrentDeviceID returns the persisted device id, generating it on first
// use. Without a local store the id lives only as long as the process.
func (r *deviceRegistry) CurrentDeviceID(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.deviceID != "" {
		return r.deviceID, nil
	}

	repo := r.meta.Metadata()
	if repo == nil {
		r.deviceID = "temp_" + uuid.NewString()
		r.logger.Warn(ctx, "local store unavailable, using a temporary device id", "device_id", r.deviceID)
		return r.deviceID, nil
	}

	v, err := repo.Get(ctx, common.MetaDeviceID)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if len(v) > 0 {
		r.deviceID = string(v)
		return r.deviceID, nil
	}

	id := uuid.NewString()
	if err := repo.Set(ctx, common.MetaDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to store device id: %w", err)
	}
	r.deviceID = id
	return id, nil
}

func (r *deviceRegistry) RegisterDevice(ctx context.Context, userID string) error {
	deviceID, err := r.CurrentDeviceID(ctx)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	s := &models.DeviceSession{
		DeviceID:   deviceID,
		DeviceName: r.opts.DeviceName,
		UserID:     userID,
		IsActive:   true,
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := r.sessions.UpsertSession(ctx, s); err != nil {
		r.logger.Warn(ctx, "device registration failed", "device_id", deviceID, "error", err)
		return nil
	}
	r.logger.Info(ctx, "device registered", "device_id", deviceID, "device_name", r.opts.DeviceName)
	return nil
}

func (r *deviceRegistry) ListActiveDevices(ctx context.Context, userID string) ([]models.DeviceSession, error) {
	list, err := r.sessions.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return list, nil
}

func (r *deviceRegistry) RemoveDevice(ctx context.Context, userID, deviceID string) error {
	current, err := r.CurrentDeviceID(ctx)
	if err != nil {
		return err
	}
	if deviceID == current {
		return common.ErrCannotRemoveCurrentDevice
	}
	if err := r.sessions.DeleteSession(ctx, userID, deviceID); err != nil {
		return fmt.Errorf("failed to remove device %s: %w", deviceID, err)
	}

	r.mu.Lock()
	delete(r.present, deviceID)
	r.mu.Unlock()
	return nil
}

// CleanupInactive removes devices unseen for longer than the inactivity age.
func (r *deviceRegistry) CleanupInactive(ctx context.Context, userID string) (int64, error) {
	before := r.now().Add(-r.opts.InactiveAge).UTC()
	n, err := r.sessions.DeleteInactiveSessions(ctx, userID, before)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up devices: %w", err)
	}
	if n > 0 {
		r.logger.Info(ctx, "removed inactive devices", "count", n)
	}
	return n, nil
}

// Heartbeat refreshes the activity timestamp locally and remotely.
func (r *deviceRegistry) Heartbeat(ctx context.Context, userID string) error {
	deviceID, err := r.CurrentDeviceID(ctx)
	if err != nil {
		return err
	}
	now := r.now().UTC()

	if repo := r.meta.Metadata(); repo != nil {
		if err := repo.SetTime(ctx, common.MetaDeviceLastSeen, now); err != nil {
			r.logger.Warn(ctx, "failed to record last seen", "error", err)
		}
	}
	if err := r.sessions.TouchSession(ctx, userID, deviceID, now); err != nil {
		r.logger.Warn(ctx, "heartbeat failed", "device_id", deviceID, "error", err)
	}
	return nil
}

// RunHeartbeat beats every HeartbeatInterval while a user is signed in.
func (r *deviceRegistry) RunHeartbeat(ctx context.Context) error {
	t := time.NewTicker(r.opts.HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			userID, err := r.ident.UserID(ctx)
			if err != nil {
				continue
			}
			_ = r.Heartbeat(ctx, userID)
		}
	}
}

func (r *deviceRegistry) DeactivateDevice(ctx context.Context, userID string) error {
	deviceID, err := r.CurrentDeviceID(ctx)
	if err != nil {
		return err
	}
	if err := r.sessions.DeactivateSession(ctx, userID, deviceID); err != nil {
		r.logger.Warn(ctx, "failed to deactivate device", "device_id", deviceID, "error", err)
	}
	return nil
}

func (r *deviceRegistry) MarkPresent(p models.Presence) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.present[p.DeviceID] = presenceEntry{p: p, seenAt: r.now()}
}

func (r *deviceRegistry) ActiveNow() []models.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.opts.PresenceWindow)
	out := make([]models.Presence, 0, len(r.present))
	for id, e := range r.present {
		if e.seenAt.Before(cutoff) {
			delete(r.present, id)
			continue
		}
		out = append(out, e.p)
	}
	slices.SortFunc(out, func(a, b models.Presence) int { return strings.Compare(a.DeviceID, b.DeviceID) })
	return out
}
