// Package session manages the credential lifecycle of each deployment:
// obtaining tokens, persisting them, and refreshing them on expiry.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// Token is the result of an OAuth grant.
type Token struct {
	AccessToken  string
	RefreshToken string
}

// Authenticator performs the OAuth grants against a deployment.
type Authenticator interface {
	PasswordGrant(ctx context.Context, d *schema.Deployment, username, password string) (*Token, error)
	ClientGrant(ctx context.Context, d *schema.Deployment) (*Token, error)
	RefreshGrant(ctx context.Context, d *schema.Deployment, refreshToken string) (*Token, error)
}

// UserResolver is optionally implemented by an Authenticator to look up the
// user a password login belongs to.
type UserResolver interface {
	CurrentUser(ctx context.Context, d *schema.Deployment, accessToken string) (*schema.User, error)
}

// Manager obtains, persists and refreshes logins.
type Manager struct {
	auth   Authenticator
	creds  CredentialStore
	logger *slog.Logger
	now    func() time.Time

	// mu serializes grants so concurrent requests that all hit an expired
	// token do not race each other's refresh.
	mu sync.Mutex
}

// NewManager creates a Manager. A nil logger discards output.
func NewManager(auth Authenticator, creds CredentialStore, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Manager{auth: auth, creds: creds, logger: logger, now: time.Now}
}

// Login obtains fresh tokens for d: a password grant when a username and
// password are stored, otherwise a client credentials grant. A rejected
// password grant falls back to the client credentials grant.
//
// The login is persisted and its tokens are copied onto d.
func (m *Manager) Login(ctx context.Context, d *schema.Deployment) (*Login, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	login, err := m.load(d)
	if err != nil {
		return nil, err
	}

	var tok *Token
	passwordGrant := login.HasPassword()
	if passwordGrant {
		tok, err = m.auth.PasswordGrant(ctx, d, login.Username, login.Password)
		if err != nil {
			if !errors.Is(err, errs.ErrAuth) {
				return nil, fmt.Errorf("password login to %s failed: %w", d.API, err)
			}
			m.logger.Warn("password login rejected, using client login", "deployment", d.ID, "username", login.Username, "error", err)
			passwordGrant = false
		}
	}
	if !passwordGrant {
		tok, err = m.auth.ClientGrant(ctx, d)
		if err != nil {
			return nil, fmt.Errorf("client login to %s failed: %w", d.API, err)
		}
		login.UserID = 0
		login.Role = ""
	}

	login.AccessToken = tok.AccessToken
	login.RefreshToken = tok.RefreshToken

	if passwordGrant {
		m.resolveUser(ctx, d, login)
	}

	if err := m.store(d, login); err != nil {
		return nil, err
	}

	m.logger.Info("logged in", "deployment", d.ID, "password", passwordGrant)
	return login, nil
}

// GetLogin returns the stored login of d, or errs.ErrNotFound when no
// tokens have been obtained yet.
func (m *Manager) GetLogin(ctx context.Context, d *schema.Deployment) (*Login, error) {
	login, err := m.creds.Load(d.LoginKey())
	if err != nil {
		return nil, err
	}
	if login.AccessToken == "" {
		return nil, fmt.Errorf("login for %s has no token: %w", d.LoginKey(), errs.ErrNotFound)
	}
	return login, nil
}

// Refresh exchanges refreshToken for new tokens and persists them. There is
// no retry; callers fall back to Login.
func (m *Manager) Refresh(ctx context.Context, d *schema.Deployment, refreshToken string) (*Login, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token for %s: %w", d.LoginKey(), errs.ErrAuth)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tok, err := m.auth.RefreshGrant(ctx, d, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("token refresh for %s failed: %w", d.API, err)
	}

	login, err := m.load(d)
	if err != nil {
		return nil, err
	}
	login.AccessToken = tok.AccessToken
	login.RefreshToken = tok.RefreshToken
	if login.RefreshToken == "" {
		login.RefreshToken = refreshToken
	}

	if err := m.store(d, login); err != nil {
		return nil, err
	}

	m.logger.Debug("refreshed token", "deployment", d.ID)
	return login, nil
}

// SetCredentials stores a username and password for the next Login.
func (m *Manager) SetCredentials(ctx context.Context, d *schema.Deployment, username, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	login, err := m.load(d)
	if err != nil {
		return err
	}
	login.Username = username
	login.Password = password
	login.Updated = m.now().UTC()
	return m.creds.Save(login)
}

// Logout forgets every credential of d.
func (m *Manager) Logout(ctx context.Context, d *schema.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.creds.Delete(d.LoginKey()); err != nil {
		return err
	}
	d.AccessToken = ""
	d.RefreshToken = ""
	m.logger.Info("logged out", "deployment", d.ID)
	return nil
}

// load returns the stored login or a fresh one when nothing is stored.
func (m *Manager) load(d *schema.Deployment) (*Login, error) {
	login, err := m.creds.Load(d.LoginKey())
	if errors.Is(err, errs.ErrNotFound) {
		return &Login{Key: d.LoginKey()}, nil
	}
	if err != nil {
		return nil, err
	}
	return login, nil
}

func (m *Manager) store(d *schema.Deployment, login *Login) error {
	login.Key = d.LoginKey()
	login.Updated = m.now().UTC()
	if err := m.creds.Save(login); err != nil {
		return err
	}
	d.AccessToken = login.AccessToken
	d.RefreshToken = login.RefreshToken
	return nil
}

func (m *Manager) resolveUser(ctx context.Context, d *schema.Deployment, login *Login) {
	resolver, ok := m.auth.(UserResolver)
	if !ok {
		return
	}
	user, err := resolver.CurrentUser(ctx, d, login.AccessToken)
	if err != nil {
		m.logger.Warn("could not resolve logged in user", "deployment", d.ID, "error", err)
		return
	}
	login.UserID = user.ID
	login.Role = user.Role
}
