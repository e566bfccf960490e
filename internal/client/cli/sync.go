package cli

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/models"
	"github.com/dmitrijs2005/notesync/internal/common"
)

var errExportDisabled = errors.New("snapshot export is not configured")

func (a *App) printStats(s *models.SyncStats) {
	fmt.Fprintf(a.out, "Processed %d: %d synced, %d conflicts, %d errors",
		s.TotalNotes, s.Synced, s.Conflicts, s.Errors)
	if s.Deferred > 0 {
		fmt.Fprintf(a.out, ", %d deferred", s.Deferred)
	}
	if s.Dropped > 0 {
		fmt.Fprintf(a.out, ", %d dropped", s.Dropped)
	}
	fmt.Fprintln(a.out)
}

// Sync replays the whole queue now.
func (a *App) Sync(ctx context.Context) error {
	stats, err := a.engine.ForceSyncAll(ctx)
	if err != nil {
		return err
	}
	a.printStats(stats)
	return nil
}

// Retry moves abandoned changes back into the queue and drains it.
func (a *App) Retry(ctx context.Context) error {
	stats, err := a.engine.RetryFailedSyncs(ctx)
	if err != nil {
		return err
	}
	a.printStats(stats)
	return nil
}

func (a *App) Conflicts(ctx context.Context) error {
	list, err := a.engine.Conflicts(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No conflicts")
		return nil
	}
	for _, c := range list {
		fmt.Fprintf(a.out, "%s: local v%d %q, remote v%d %q\n",
			c.NoteID, c.LocalVersion, c.LocalTitle, c.RemoteVersion, c.RemoteTitle)
	}
	return nil
}

func (a *App) Resolve(ctx context.Context, id, strategy string) error {
	s, err := models.ParseStrategy(strategy)
	if err != nil {
		return err
	}
	list, err := a.engine.Conflicts(ctx)
	if err != nil {
		return err
	}

	for _, c := range list {
		if c.NoteID != id {
			continue
		}
		n, err := a.engine.Resolve(ctx, c, s)
		var ce *models.ConflictError
		if errors.As(err, &ce) {
			fmt.Fprintf(a.out, "Note changed again remotely (v%d), resolve once more\n", ce.Conflict.RemoteVersion)
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Resolved %s (v%d)\n", n.ID, n.Version)
		return nil
	}
	return fmt.Errorf("conflict for %s: %w", id, common.ErrorNotFound)
}

func (a *App) Status(ctx context.Context) error {
	snap := a.tracker.Snapshot()
	fmt.Fprintf(a.out, "Mode: %s\n", snap.Mode)
	fmt.Fprintf(a.out, "Realtime: %s", snap.RealtimeState)
	if snap.RealtimeDegraded {
		fmt.Fprint(a.out, " (degraded)")
	}
	fmt.Fprintln(a.out)
	if snap.Consistency != "" {
		fmt.Fprintf(a.out, "Consistency: %s\n", snap.Consistency)
	}
	fmt.Fprintf(a.out, "Pending: %d\n", snap.PendingSyncCount)
	fmt.Fprintf(a.out, "Conflicts: %d\n", len(snap.Conflicts))
	fmt.Fprintf(a.out, "Failed: %d\n", len(snap.FailedChanges))
	if snap.LastSyncAt != nil {
		fmt.Fprintf(a.out, "Last sync: %s\n", snap.LastSyncAt.Local().Format(time.DateTime))
	}
	if !snap.LocalStoreAvailable {
		fmt.Fprintln(a.out, "Local cache: unavailable")
		return nil
	}

	userID, err := a.userID(ctx)
	if err != nil {
		return err
	}
	st, err := a.store.Stats(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Cached notes: %d (%d unsynced)\n", st.Notes, st.Pending)
	return nil
}

func (a *App) Devices(ctx context.Context) error {
	userID, err := a.userID(ctx)
	if err != nil {
		return err
	}
	current, err := a.devices.CurrentDeviceID(ctx)
	if err != nil {
		return err
	}
	list, err := a.devices.ListActiveDevices(ctx, userID)
	if err != nil {
		return err
	}

	online := map[string]bool{}
	for _, p := range a.devices.ActiveNow() {
		online[p.DeviceID] = true
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tNAME\tLAST SEEN\t")
	for _, d := range list {
		mark := ""
		switch {
		case d.DeviceID == current:
			mark = "this device"
		case online[d.DeviceID]:
			mark = "online"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.DeviceID, d.DeviceName,
			d.LastSeenAt.Local().Format(time.DateTime), mark)
	}
	return tw.Flush()
}

func (a *App) RemoveDevice(ctx context.Context, id string) error {
	userID, err := a.userID(ctx)
	if err != nil {
		return err
	}
	if err := a.devices.RemoveDevice(ctx, userID, id); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Device removed")
	return nil
}

// Export uploads a JSON snapshot of the cache to object storage.
func (a *App) Export(ctx context.Context) error {
	if a.exporter == nil {
		return errExportDisabled
	}
	userID, err := a.userID(ctx)
	if err != nil {
		return err
	}
	key, err := a.exporter.Export(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Snapshot uploaded:", key)
	return nil
}
