package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/notesync/internal/client/remote"
	"github.com/dmitrijs2005/notesync/internal/client/repositories/metadata"
	"github.com/dmitrijs2005/notesync/internal/common"
)

// Session is the signed-in account.
type Session struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expires_at"`
}

// MetadataSource yields the metadata table, or nil when local storage is
// unavailable.
type MetadataSource interface {
	Metadata() metadata.Repository
}

// Manager signs users in against the remote account table and keeps the
// session token. The token lives in memory and, when local storage works,
// in the metadata table so it survives restarts.
type Manager struct {
	store  MetadataSource
	auth   remote.Authenticator
	tokens tokenSigner

	mu    sync.RWMutex
	token string
}

func NewManager(store MetadataSource, auth remote.Authenticator, secret []byte, ttl time.Duration) *Manager {
	return &Manager{store: store, auth: auth, tokens: tokenSigner{secret: secret, ttl: ttl, now: time.Now}}
}

func (m *Manager) Login(ctx context.Context, email, password string) (*Session, error) {
	userID, err := m.auth.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return m.start(ctx, userID, email)
}

// Register creates the account remotely and signs in.
func (m *Manager) Register(ctx context.Context, email, password string) (*Session, error) {
	userID, err := m.auth.Register(ctx, email, password)
	if err != nil {
		return nil, fmt.Errorf("failed to register: %w", err)
	}
	return m.start(ctx, userID, email)
}

func (m *Manager) start(ctx context.Context, userID, email string) (*Session, error) {
	token, err := m.tokens.sign(userID, email)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()

	if meta := m.store.Metadata(); meta != nil {
		if err := meta.Set(ctx, common.MetaSessionToken, []byte(token)); err != nil {
			return nil, fmt.Errorf("failed to persist session: %w", err)
		}
	}
	return m.parse(token)
}

// Current returns the active session or common.ErrorUnauthorized.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()

	if token == "" {
		if meta := m.store.Metadata(); meta != nil {
			b, err := meta.Get(ctx, common.MetaSessionToken)
			if err != nil {
				return nil, fmt.Errorf("failed to read session: %w", err)
			}
			token = string(b)
		}
	}
	if token == "" {
		return nil, common.ErrorUnauthorized
	}

	s, err := m.parse(token)
	if err != nil {
		if errors.Is(err, common.ErrTokenExpired) || errors.Is(err, common.ErrInvalidToken) {
			return nil, fmt.Errorf("%w: %v", common.ErrorUnauthorized, err)
		}
		return nil, err
	}

	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return s, nil
}

// UserID is the identity lookup used by the sync services.
func (m *Manager) UserID(ctx context.Context) (string, error) {
	s, err := m.Current(ctx)
	if err != nil {
		return "", err
	}
	return s.UserID, nil
}

// Logout forgets the session token.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()

	if meta := m.store.Metadata(); meta != nil {
		if err := meta.Delete(ctx, common.MetaSessionToken); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
	}
	return nil
}

func (m *Manager) parse(token string) (*Session, error) {
	claims, err := m.tokens.verify(token)
	if err != nil {
		return nil, err
	}
	s := &Session{UserID: claims.Subject, Email: claims.Email}
	if claims.ExpiresAt != nil {
		s.ExpiresAt = claims.ExpiresAt.Time
	}
	return s, nil
}
