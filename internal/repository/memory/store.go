// Package memory is an in-process vault store for tests, the simulator and
// single-node deployments without a database.
package memory

import (
	"context"
	"sync"

	"tokenvault/internal/domain"
	"tokenvault/internal/vault"
	"tokenvault/pkg/errors"
)

type Store struct {
	mu     sync.RWMutex
	vaults map[domain.Address]*domain.VaultState
	events map[domain.Address][]domain.Event
}

func NewStore() *Store {
	return &Store{
		vaults: make(map[domain.Address]*domain.VaultState),
		events: make(map[domain.Address][]domain.Event),
	}
}

func (s *Store) Load(ctx context.Context, address domain.Address) (*domain.VaultState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.vaults[address]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotInitialized, "no vault stored at %s", address)
	}
	return state.Clone(), nil
}

func (s *Store) Begin(ctx context.Context) (vault.StoreTx, error) {
	return &tx{store: s}, nil
}

// Events lists the journal of one vault, oldest first.
func (s *Store) Events(ctx context.Context, address domain.Address) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Event, len(s.events[address]))
	copy(out, s.events[address])
	return out, nil
}

// ListEvents returns up to limit events after the first afterSeq, oldest
// first. Sequence numbers start at 1.
func (s *Store) ListEvents(ctx context.Context, address domain.Address, afterSeq int64, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[address]
	if afterSeq < 0 {
		afterSeq = 0
	}
	if afterSeq >= int64(len(all)) {
		return nil, nil
	}
	rest := all[afterSeq:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]domain.Event, len(rest))
	copy(out, rest)
	return out, nil
}

type tx struct {
	store  *Store
	staged []*domain.Snapshot
	done   bool
}

func (t *tx) Save(ctx context.Context, snap *domain.Snapshot) error {
	if t.done {
		return errors.New("memory store: transaction already finished")
	}
	t.staged = append(t.staged, snap)
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return errors.New("memory store: transaction already finished")
	}
	t.done = true

	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range t.staged {
		addr := snap.Header.Address
		state, ok := s.vaults[addr]
		if !ok {
			state = domain.NewVaultState(addr)
			s.vaults[addr] = state
		}
		state.Apply(snap)
		s.events[addr] = append(s.events[addr], snap.Events...)
	}
	return nil
}

// Rollback discards staged snapshots. It is a no-op after Commit.
func (t *tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	return nil
}
