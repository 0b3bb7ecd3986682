// Package memory is an in-process AccountRepository. Nothing survives a
// restart; it backs tests and STORE_DRIVER=memory.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/discord-lookup/internal/apperror"
	"github.com/sakif/discord-lookup/internal/model"
	"github.com/sakif/discord-lookup/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store keeps accounts in maps guarded by one mutex. Values are cloned on the
// way in and out so callers never share memory with the store.
type Store struct {
	mu         sync.RWMutex
	nextID     int64
	byID       map[int64]*model.Account
	byExternal map[string]int64
}

func New() *Store {
	return &Store{
		nextID:     1,
		byID:       make(map[int64]*model.Account),
		byExternal: make(map[string]int64),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) Create(ctx context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byExternal[acct.ExternalID]; taken {
		return apperror.Conflict("account", acct.ExternalID)
	}

	now := time.Now().UTC()
	acct.ID = s.nextID
	s.nextID++
	acct.Version = 1
	acct.CreatedAt = now
	acct.UpdatedAt = now
	for _, k := range model.HistoryKinds {
		if acct.History(k) == nil {
			acct.SetHistory(k, []string{})
		}
	}

	s.byID[acct.ID] = acct.Clone()
	s.byExternal[acct.ExternalID] = acct.ID
	return nil
}

func (s *Store) GetByID(ctx context.Context, id int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.byID[id]
	if !ok {
		return nil, apperror.NotFound("account", strconv.FormatInt(id, 10))
	}
	return acct.Clone(), nil
}

func (s *Store) GetByExternalID(ctx context.Context, externalID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, apperror.NotFound("account", externalID)
	}
	return s.byID[id].Clone(), nil
}

// Update writes profile and balance fields. History lists are owned by
// AddHistory and are not overwritten here.
func (s *Store) Update(ctx context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.byID[acct.ID]
	if !ok {
		return apperror.NotFound("account", strconv.FormatInt(acct.ID, 10))
	}
	if stored.Version != acct.Version {
		return apperror.Conflict("account", strconv.FormatInt(acct.ID, 10))
	}

	next := acct.Clone()
	next.ExternalID = stored.ExternalID
	next.CreatedAt = stored.CreatedAt
	next.LookupHistory = stored.LookupHistory
	next.RouletteHistory = stored.RouletteHistory
	next.FriendHistory = stored.FriendHistory
	next.Version = stored.Version + 1
	next.UpdatedAt = time.Now().UTC()

	s.byID[acct.ID] = next
	acct.Version = next.Version
	acct.UpdatedAt = next.UpdatedAt
	return nil
}

// AddHistory prepends discordID; repeats are kept.
func (s *Store) AddHistory(ctx context.Context, accountID int64, kind model.HistoryKind, discordID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[accountID]
	if !ok {
		return apperror.NotFound("account", strconv.FormatInt(accountID, 10))
	}
	list := acct.History(kind)
	next := make([]string, 0, len(list)+1)
	next = append(next, discordID)
	next = append(next, list...)
	acct.SetHistory(kind, next)
	return nil
}

func (s *Store) History(ctx context.Context, accountID int64, kind model.HistoryKind) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.byID[accountID]
	if !ok {
		return nil, apperror.NotFound("account", strconv.FormatInt(accountID, 10))
	}
	return append([]string{}, acct.History(kind)...), nil
}
