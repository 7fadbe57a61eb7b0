// Package memory is an in-process authcore.UserStore for tests, local
// development and single-instance deployments.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/MrEthical07/authcore"
)

type providerKey struct {
	provider   authcore.ProviderID
	externalID string
}

// Store keeps users in maps guarded by a single RWMutex. Records are copied
// on the way in and out, so callers never share memory with the store.
type Store struct {
	mu         sync.RWMutex
	byID       map[string]*authcore.User
	byEmail    map[string]string
	byProvider map[providerKey]string
	byReset    map[string]string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		byID:       make(map[string]*authcore.User),
		byEmail:    make(map[string]string),
		byProvider: make(map[providerKey]string),
		byReset:    make(map[string]string),
	}
}

var _ authcore.UserStore = (*Store)(nil)

func (s *Store) GetByID(_ context.Context, id string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return u.Clone(), nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lookup(s.byEmail[strings.ToLower(strings.TrimSpace(email))])
}

func (s *Store) GetByProvider(_ context.Context, provider authcore.ProviderID, externalID string) (*authcore.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lookup(s.byProvider[providerKey{provider, externalID}])
}

func (s *Store) GetByResetTokenHash(_ context.Context, hash string) (*authcore.User, error) {
	if hash == "" {
		return nil, authcore.ErrUserNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lookup(s.byReset[hash])
}

// Create inserts u with Version 1.
func (s *Store) Create(_ context.Context, u *authcore.User) error {
	if u == nil || u.ID == "" {
		return authcore.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[u.ID]; exists {
		return authcore.ErrDuplicateIdentity
	}
	if err := s.checkUnique(u); err != nil {
		return err
	}

	u.Email = strings.ToLower(u.Email)
	u.Version = 1
	s.put(u.Clone())
	return nil
}

// Save writes u when its Version matches the stored one.
func (s *Store) Save(_ context.Context, u *authcore.User) error {
	if u == nil {
		return authcore.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.byID[u.ID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	if cur.Version != u.Version {
		return authcore.ErrVersionConflict
	}
	if err := s.checkUnique(u); err != nil {
		return err
	}

	s.drop(cur)
	u.Email = strings.ToLower(u.Email)
	u.Version++
	s.put(u.Clone())
	return nil
}

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) lookup(id string) (*authcore.User, error) {
	if id == "" {
		return nil, authcore.ErrUserNotFound
	}
	u, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return u.Clone(), nil
}

// checkUnique rejects email or provider identities owned by another user.
func (s *Store) checkUnique(u *authcore.User) error {
	if owner, ok := s.byEmail[strings.ToLower(u.Email)]; ok && owner != u.ID {
		return authcore.ErrDuplicateIdentity
	}
	for provider := range u.Identities {
		id := u.Identity(provider)
		if id == nil {
			continue
		}
		if owner, ok := s.byProvider[providerKey{provider, id.ExternalID}]; ok && owner != u.ID {
			return authcore.ErrDuplicateIdentity
		}
	}
	return nil
}

func (s *Store) put(u *authcore.User) {
	s.byID[u.ID] = u
	if u.Email != "" {
		s.byEmail[u.Email] = u.ID
	}
	for provider := range u.Identities {
		if id := u.Identity(provider); id != nil {
			s.byProvider[providerKey{provider, id.ExternalID}] = u.ID
		}
	}
	if u.ResetTokenHash != "" {
		s.byReset[u.ResetTokenHash] = u.ID
	}
}

func (s *Store) drop(u *authcore.User) {
	delete(s.byID, u.ID)
	if s.byEmail[u.Email] == u.ID {
		delete(s.byEmail, u.Email)
	}
	for provider := range u.Identities {
		if id := u.Identity(provider); id != nil {
			delete(s.byProvider, providerKey{provider, id.ExternalID})
		}
	}
	if u.ResetTokenHash != "" {
		delete(s.byReset, u.ResetTokenHash)
	}
}
