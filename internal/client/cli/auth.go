package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/notesync/internal/client/auth"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// Terminal prompts; tests replace askPassword since there is no tty.
var (
	askLine     = ReadLine
	askPassword = ReadPassword
	askBody     = ReadBody
)

func (a *App) credentials() (string, string, error) {
	email, err := askLine(a.reader, "Enter email", a.out)
	if err != nil {
		return "", "", err
	}
	password, err := askPassword(a.out)
	if err != nil {
		return "", "", err
	}
	defer wipe(password)
	return email, string(password), nil
}

// Register creates an account remotely and signs in.
func (a *App) Register(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}
	s, err := a.session.Register(ctx, email, password)
	if err != nil {
		return err
	}
	a.signedIn(ctx, s)
	fmt.Fprintln(a.out, "Success!")
	return nil
}

// Login verifies the credentials against the remote account table. When the
// remote is unreachable, a stored session of the same account still signs
// the user in so cached notes stay usable offline.
func (a *App) Login(ctx context.Context) error {
	email, password, err := a.credentials()
	if err != nil {
		return err
	}

	s, err := a.session.Login(ctx, email, password)
	if errors.Is(err, common.ErrUnavailable) {
		a.logger.Info(ctx, "remote unavailable, trying stored session")
		stored, serr := a.session.Current(ctx)
		if serr != nil || stored.Email != email {
			return fmt.Errorf("offline login unsuccessful: %w", err)
		}
		s, err = stored, nil
		fmt.Fprintln(a.out, "Signed in offline")
	}
	if err != nil {
		return fmt.Errorf("login unsuccessful: %w", err)
	}

	a.signedIn(ctx, s)
	a.logger.Info(ctx, "signed in", "user_id", s.UserID)
	return nil
}

func (a *App) signedIn(ctx context.Context, s *auth.Session) {
	a.setEmail(s.Email)
	a.startSession(ctx, s.UserID)
}

// Logout deactivates this device, disconnects realtime, wipes the local
// cache (keeping the device id) and forgets the session. Changes still
// queued are lost; the user is told how many.
func (a *App) Logout(ctx context.Context) error {
	userID, err := a.userID(ctx)
	if err != nil {
		return err
	}

	if st, err := a.store.Stats(ctx, userID); err == nil && st.Queued > 0 {
		fmt.Fprintf(a.out, "Discarding %d unsynced changes\n", st.Queued)
	}

	_ = a.devices.DeactivateDevice(ctx, userID)
	a.bridge.Disconnect()

	if err := a.store.ClearAllData(ctx); err != nil && !errors.Is(err, common.ErrLocalDataNotAvailable) {
		return err
	}
	if err := a.session.Logout(ctx); err != nil {
		return err
	}
	a.setEmail("")
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
