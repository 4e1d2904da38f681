package apiclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var ErrNotLoggedIn = errors.New("not logged in")

// TokenStore persists the bearer token between runs.
type TokenStore interface {
	Load() (string, error)
	Save(token string) error
	Clear() error
}

// FileTokenStore keeps the token in a file readable only by its owner.
type FileTokenStore struct {
	Path string
}

func (s FileTokenStore) Load() (string, error) {
	raw, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}

func (s FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.Path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return os.Chmod(s.Path, 0o600)
}

func (s FileTokenStore) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove token: %w", err)
	}
	return nil
}

// Session holds the token and the current user of one operator.
type Session struct {
	client *Client
	store  TokenStore

	mu   sync.RWMutex
	user *User
}

func NewSession(client *Client, store TokenStore) *Session {
	return &Session{client: client, store: store}
}

func (s *Session) Client() *Client { return s.client }

// Init restores a persisted token and validates it against the API. An
// invalid token is cleared and Init returns nil with no current user.
func (s *Session) Init(ctx context.Context) error {
	token, err := s.store.Load()
	if err != nil {
		return err
	}
	if token == "" {
		s.reset()
		return nil
	}

	s.client.SetToken(token)
	user, err := s.client.Me(ctx)
	if err != nil {
		if IsUnauthorized(err) {
			s.reset()
			return s.store.Clear()
		}
		return err
	}
	s.setUser(user)
	return nil
}

func (s *Session) Login(ctx context.Context, username, password string) (*User, error) {
	tok, err := s.client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	s.client.SetToken(tok.AccessToken)
	user, err := s.client.Me(ctx)
	if err != nil {
		s.client.SetToken("")
		return nil, err
	}
	if err := s.store.Save(tok.AccessToken); err != nil {
		s.client.SetToken("")
		return nil, err
	}
	s.setUser(user)
	return user, nil
}

// Logout revokes the token server side and clears local state. Local state is
// cleared even when the server call fails.
func (s *Session) Logout(ctx context.Context) error {
	var remote error
	if s.client.Token() != "" {
		if err := s.client.Logout(ctx); err != nil && !IsUnauthorized(err) {
			remote = err
		}
	}
	s.reset()
	if err := s.store.Clear(); err != nil {
		return err
	}
	return remote
}

func (s *Session) CurrentUser() (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil, ErrNotLoggedIn
	}
	u := *s.user
	return &u, nil
}

// CanSee reports whether the current user's menu includes section.
func (s *Session) CanSee(section string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return false
	}
	for _, sec := range s.user.Sections {
		if sec == section {
			return true
		}
	}
	return false
}

func (s *Session) setUser(u *User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Session) reset() {
	s.client.SetToken("")
	s.setUser(nil)
}
