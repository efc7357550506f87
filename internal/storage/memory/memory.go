// Package memory provides in-process stores used for tests and for running
// the server without a database.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/gamehub/internal/account"
	"github.com/Tyrowin/gamehub/internal/auth"
)

// RefreshTokenStore keeps refresh tokens in a map keyed by hash.
type RefreshTokenStore struct {
	mu     sync.Mutex
	tokens map[string]auth.RefreshToken
}

// NewRefreshTokenStore returns an empty RefreshTokenStore.
func NewRefreshTokenStore() *RefreshTokenStore {
	return &RefreshTokenStore{tokens: make(map[string]auth.RefreshToken)}
}

func (s *RefreshTokenStore) Create(_ context.Context, t *auth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tokens[t.TokenHash]; ok {
		return account.ErrDuplicate
	}
	s.tokens[t.TokenHash] = *t
	return nil
}

func (s *RefreshTokenStore) GetByHash(_ context.Context, hash string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (s *RefreshTokenStore) TakeByHash(_ context.Context, hash string) (*auth.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[hash]
	if !ok {
		return nil, nil
	}
	delete(s.tokens, hash)
	return &t, nil
}

func (s *RefreshTokenStore) DeleteByHash(_ context.Context, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, hash)
	return nil
}

func (s *RefreshTokenStore) DeleteByUser(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, t := range s.tokens {
		if t.UserID == userID {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

func (s *RefreshTokenStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for hash, t := range s.tokens {
		if t.ExpiresAt.Before(before) {
			delete(s.tokens, hash)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (s *RefreshTokenStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

// UserStore keeps users in memory with case-insensitive unique usernames and emails.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]account.User
}

// NewUserStore returns an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[string]account.User)}
}

func (s *UserStore) GetByID(_ context.Context, id string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (s *UserStore) GetByUsername(_ context.Context, username string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *UserStore) GetByEmail(_ context.Context, email string) (*account.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *UserStore) Create(_ context.Context, u *account.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.ID == u.ID ||
			strings.EqualFold(existing.Username, u.Username) ||
			strings.EqualFold(existing.Email, u.Email) {
			return account.ErrDuplicate
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *UserStore) List(_ context.Context, limit, offset int) ([]*account.User, error) {
	s.mu.RLock()
	all := make([]*account.User, 0, len(s.users))
	for _, u := range s.users {
		u := u
		all = append(all, &u)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return page(all, limit, offset), nil
}

func (s *UserStore) UpdateRole(_ context.Context, id string, role account.Role, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return account.ErrNotFound
	}
	u.Role = role
	u.UpdatedAt = at
	s.users[id] = u
	return nil
}

func (s *UserStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return account.ErrNotFound
	}
	delete(s.users, id)
	return nil
}

// CharacterStore keeps characters in memory; names are unique per owner.
type CharacterStore struct {
	mu    sync.RWMutex
	chars map[string]account.Character
}

// NewCharacterStore returns an empty CharacterStore.
func NewCharacterStore() *CharacterStore {
	return &CharacterStore{chars: make(map[string]account.Character)}
}

func (s *CharacterStore) nameTaken(c *account.Character) bool {
	for _, existing := range s.chars {
		if existing.ID != c.ID && existing.UserID == c.UserID && strings.EqualFold(existing.Name, c.Name) {
			return true
		}
	}
	return false
}

func (s *CharacterStore) Create(_ context.Context, c *account.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chars[c.ID]; ok || s.nameTaken(c) {
		return account.ErrDuplicate
	}
	s.chars[c.ID] = *c
	return nil
}

func (s *CharacterStore) GetByID(_ context.Context, id string) (*account.Character, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.chars[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *CharacterStore) ListByUser(_ context.Context, userID string) ([]*account.Character, error) {
	s.mu.RLock()
	out := make([]*account.Character, 0)
	for _, c := range s.chars {
		if c.UserID == userID {
			c := c
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()
	sortCharacters(out)
	return out, nil
}

func (s *CharacterStore) List(_ context.Context, limit, offset int) ([]*account.Character, error) {
	s.mu.RLock()
	all := make([]*account.Character, 0, len(s.chars))
	for _, c := range s.chars {
		c := c
		all = append(all, &c)
	}
	s.mu.RUnlock()
	sortCharacters(all)
	return page(all, limit, offset), nil
}

func (s *CharacterStore) CountByUser(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.chars {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (s *CharacterStore) Update(_ context.Context, c *account.Character) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chars[c.ID]; !ok {
		return account.ErrNotFound
	}
	if s.nameTaken(c) {
		return account.ErrDuplicate
	}
	s.chars[c.ID] = *c
	return nil
}

func (s *CharacterStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chars[id]; !ok {
		return account.ErrNotFound
	}
	delete(s.chars, id)
	return nil
}

func sortCharacters(list []*account.Character) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
}

func page[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return []T{}
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return all[offset:end]
}

var (
	_ auth.RefreshStore           = (*RefreshTokenStore)(nil)
	_ account.UserRepository      = (*UserStore)(nil)
	_ account.CharacterRepository = (*CharacterStore)(nil)
)
