package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/zalando/go-keyring"

	"github.com/crowdmap/crowdsync/internal/errs"
	"github.com/crowdmap/crowdsync/internal/schema"
)

// fakeAuth records grants and hands out numbered tokens.
type fakeAuth struct {
	mu          sync.Mutex
	calls       []string
	rejectPass  bool
	failRefresh bool
	user        *schema.User
	issued      int
}

func (f *fakeAuth) token(kind string) *Token {
	f.issued++
	return &Token{
		AccessToken:  fmt.Sprintf("%s-access-%d", kind, f.issued),
		RefreshToken: fmt.Sprintf("%s-refresh-%d", kind, f.issued),
	}
}

func (f *fakeAuth) PasswordGrant(ctx context.Context, d *schema.Deployment, username, password string) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "password:"+username)
	if f.rejectPass {
		return nil, fmt.Errorf("invalid_grant: %w", errs.ErrAuth)
	}
	return f.token("password"), nil
}

func (f *fakeAuth) ClientGrant(ctx context.Context, d *schema.Deployment) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "client")
	return f.token("client"), nil
}

func (f *fakeAuth) RefreshGrant(ctx context.Context, d *schema.Deployment, refreshToken string) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "refresh:"+refreshToken)
	if f.failRefresh {
		return nil, fmt.Errorf("expired: %w", errs.ErrAuth)
	}
	return &Token{AccessToken: "refreshed-access"}, nil
}

func (f *fakeAuth) CurrentUser(ctx context.Context, d *schema.Deployment, accessToken string) (*schema.User, error) {
	if f.user == nil {
		return nil, errs.ErrNotFound
	}
	return f.user, nil
}

func testDeployment() *schema.Deployment {
	return &schema.Deployment{ID: 1, Name: "alpha", Website: "https://alpha.example", API: "https://alpha.api.example"}
}

func TestLogin_ClientGrantWithoutCredentials(t *testing.T) {
	auth := &fakeAuth{}
	m := NewManager(auth, NewMemoryStore(), nil)
	d := testDeployment()

	login, err := m.Login(context.Background(), d)
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if len(auth.calls) != 1 || auth.calls[0] != "client" {
		t.Errorf("grants = %v, want [client]", auth.calls)
	}
	if d.AccessToken != login.AccessToken || d.RefreshToken != login.RefreshToken {
		t.Errorf("tokens not copied onto deployment: %+v", d)
	}
	if login.Key != "https://alpha.example" {
		t.Errorf("login key = %q, want website", login.Key)
	}
}

func TestLogin_PasswordGrantResolvesUser(t *testing.T) {
	auth := &fakeAuth{user: &schema.User{ID: 7, Role: "admin"}}
	m := NewManager(auth, NewMemoryStore(), nil)
	d := testDeployment()
	ctx := context.Background()

	if err := m.SetCredentials(ctx, d, "ann", "secret"); err != nil {
		t.Fatalf("SetCredentials() failed: %v", err)
	}
	if _, err := m.GetLogin(ctx, d); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("GetLogin() before login error = %v, want ErrNotFound", err)
	}

	login, err := m.Login(ctx, d)
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if auth.calls[0] != "password:ann" {
		t.Errorf("grants = %v, want password first", auth.calls)
	}
	if login.UserID != 7 || login.Role != "admin" {
		t.Errorf("login user = (%d, %q), want (7, admin)", login.UserID, login.Role)
	}

	got, err := m.GetLogin(ctx, d)
	if err != nil {
		t.Fatalf("GetLogin() failed: %v", err)
	}
	if got.AccessToken != "password-access-1" || got.Username != "ann" {
		t.Errorf("GetLogin() = %+v", got)
	}
}

func TestLogin_RejectedPasswordFallsBackToClient(t *testing.T) {
	auth := &fakeAuth{rejectPass: true}
	m := NewManager(auth, NewMemoryStore(), nil)
	d := testDeployment()
	ctx := context.Background()

	if err := m.SetCredentials(ctx, d, "ann", "wrong"); err != nil {
		t.Fatal(err)
	}
	login, err := m.Login(ctx, d)
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	if len(auth.calls) != 2 || auth.calls[1] != "client" {
		t.Errorf("grants = %v, want password then client", auth.calls)
	}
	if login.AccessToken != "client-access-1" {
		t.Errorf("access token = %q", login.AccessToken)
	}
	if login.Username != "ann" {
		t.Error("stored username dropped after fallback")
	}
}

func TestRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("persists new token", func(t *testing.T) {
		auth := &fakeAuth{}
		m := NewManager(auth, NewMemoryStore(), nil)
		d := testDeployment()
		if _, err := m.Login(ctx, d); err != nil {
			t.Fatal(err)
		}

		login, err := m.Refresh(ctx, d, d.RefreshToken)
		if err != nil {
			t.Fatalf("Refresh() failed: %v", err)
		}
		if login.AccessToken != "refreshed-access" {
			t.Errorf("access token = %q", login.AccessToken)
		}
		if login.RefreshToken != "client-refresh-1" {
			t.Errorf("refresh token = %q, want previous one kept", login.RefreshToken)
		}
		stored, err := m.GetLogin(ctx, d)
		if err != nil {
			t.Fatal(err)
		}
		if stored.AccessToken != "refreshed-access" || d.AccessToken != "refreshed-access" {
			t.Errorf("refreshed token not persisted: stored %q, deployment %q", stored.AccessToken, d.AccessToken)
		}
	})

	t.Run("failure is returned without retry", func(t *testing.T) {
		auth := &fakeAuth{failRefresh: true}
		m := NewManager(auth, NewMemoryStore(), nil)
		_, err := m.Refresh(ctx, testDeployment(), "stale")
		if !errors.Is(err, errs.ErrAuth) {
			t.Errorf("Refresh() error = %v, want ErrAuth", err)
		}
		if len(auth.calls) != 1 {
			t.Errorf("grants = %v, want a single refresh", auth.calls)
		}
	})

	t.Run("empty refresh token", func(t *testing.T) {
		auth := &fakeAuth{}
		m := NewManager(auth, NewMemoryStore(), nil)
		if _, err := m.Refresh(ctx, testDeployment(), ""); !errors.Is(err, errs.ErrAuth) {
			t.Errorf("Refresh() error = %v, want ErrAuth", err)
		}
		if len(auth.calls) != 0 {
			t.Errorf("grants = %v, want none", auth.calls)
		}
	})
}

func TestLogout(t *testing.T) {
	m := NewManager(&fakeAuth{}, NewMemoryStore(), nil)
	d := testDeployment()
	ctx := context.Background()

	if _, err := m.Login(ctx, d); err != nil {
		t.Fatal(err)
	}
	if err := m.Logout(ctx, d); err != nil {
		t.Fatalf("Logout() failed: %v", err)
	}
	if d.AccessToken != "" {
		t.Error("deployment still carries a token")
	}
	if _, err := m.GetLogin(ctx, d); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("GetLogin() error = %v, want ErrNotFound", err)
	}
	if err := m.Logout(ctx, d); err != nil {
		t.Errorf("second Logout() failed: %v", err)
	}
}

func TestKeyringStore(t *testing.T) {
	keyring.MockInit()
	store := NewKeyringStore("")

	if _, err := store.Load("https://alpha.example"); !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("Load() error = %v, want ErrNotFound", err)
	}

	login := &Login{Key: "https://alpha.example", Username: "ann", AccessToken: "tok"}
	if err := store.Save(login); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	got, err := store.Load(login.Key)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.Username != "ann" || got.AccessToken != "tok" {
		t.Errorf("Load() = %+v", got)
	}

	if err := store.Delete(login.Key); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := store.Delete(login.Key); err != nil {
		t.Errorf("Delete() of missing key failed: %v", err)
	}
	if _, err := store.Load(login.Key); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Load() after delete error = %v, want ErrNotFound", err)
	}
}
