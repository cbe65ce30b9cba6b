// ==============================================================================
// VAULT - internal/vault/vault.go
// ==============================================================================

// Package vault implements the versioned custodial vault: a fee-deducting
// deposit ledger (V1) extended in place with lazy yield accrual (V2) and a
// timelocked withdrawal queue (V3).
//
// Every state-mutating operation runs through the same pipeline: the
// reentrancy guard admits it, role and version checks run, effects are
// applied to a journaled view of the state, the touched records are
// persisted together with the incoming transfers, outgoing transfers are
// made, and events are published. A failure at any step reverts every effect
// of the operation; an outgoing transfer that fails after the store commit
// is compensated with a reversal record.
package vault

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tokenvault/internal/asset"
	"tokenvault/internal/domain"
	"tokenvault/internal/guard"
	"tokenvault/pkg/errors"
	"tokenvault/pkg/logger"
)

// Store persists vault state. Save receives only the records an operation
// changed.
type Store interface {
	Load(ctx context.Context, address domain.Address) (*domain.VaultState, error)
	Begin(ctx context.Context) (StoreTx, error)
}

type StoreTx interface {
	Save(ctx context.Context, snap *domain.Snapshot) error
	Commit() error
	Rollback() error
}

// Publisher fans committed events out to observers.
type Publisher interface {
	Publish(ctx context.Context, events []domain.Event) error
}

// Recorder receives operation metrics.
type Recorder interface {
	ObserveOperation(op, result string, elapsed time.Duration)
	SetTotalDeposits(vault domain.Address, total decimal.Decimal)
	ReentrancyRejected(op string)
}

type Config struct {
	Address   domain.Address
	Store     Store
	Resolver  asset.Resolver
	Clock     Clock
	Logger    logger.Logger
	Publisher Publisher
	Metrics   Recorder

	// ReentryWait bounds how long an operation queues behind one that is
	// inside an asset call. Zero uses guard.DefaultCallOutWait.
	ReentryWait time.Duration
}

type Vault struct {
	address    domain.Address
	standalone bool

	guard *guard.Guard

	mu    sync.RWMutex
	state *domain.VaultState

	store     Store
	resolver  asset.Resolver
	clock     Clock
	logger    logger.Logger
	publisher Publisher
	metrics   Recorder
}

// NewProxy returns an empty, uninitialized vault at cfg.Address. It becomes
// usable once a Migrator deploys V1 into it.
func NewProxy(cfg Config) *Vault {
	return newVault(cfg, domain.NewVaultState(cfg.Address))
}

// Open loads the vault at cfg.Address from cfg.Store, or returns an empty
// proxy when nothing has been persisted yet.
func Open(ctx context.Context, cfg Config) (*Vault, error) {
	if cfg.Store == nil {
		return NewProxy(cfg), nil
	}
	state, err := cfg.Store.Load(ctx, cfg.Address)
	if errors.Is(err, errors.ErrNotInitialized) {
		return NewProxy(cfg), nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load vault %s", cfg.Address)
	}
	if state.Accounts == nil {
		state.Accounts = make(map[domain.Address]*domain.Account)
	}
	if state.Roles == nil {
		state.Roles = make(domain.RoleGrants)
	}
	return newVault(cfg, state), nil
}

// NewImplementation returns a bare implementation of the given version, the
// way it exists before any proxy points at it. Its initializers are locked:
// every Initialize call fails with ErrStandaloneImplementation.
func NewImplementation(version domain.Version, cfg Config) *Vault {
	state := domain.NewVaultState(cfg.Address)
	state.Version = version
	for _, v := range []domain.Version{domain.V1, domain.V2, domain.V3} {
		state.Initialized = state.Initialized.With(v)
	}
	v := newVault(cfg, state)
	v.standalone = true
	return v
}

func newVault(cfg Config, state *domain.VaultState) *Vault {
	v := &Vault{
		address:   cfg.Address,
		guard:     guard.NewWithWait(cfg.ReentryWait),
		state:     state,
		store:     cfg.Store,
		resolver:  cfg.Resolver,
		clock:     cfg.Clock,
		logger:    cfg.Logger,
		publisher: cfg.Publisher,
		metrics:   cfg.Metrics,
	}
	if v.store == nil {
		v.store = nopStore{}
	}
	if v.clock == nil {
		v.clock = SystemClock{}
	}
	if v.logger == nil {
		v.logger = logger.NewNop()
	}
	if v.publisher == nil {
		v.publisher = nopPublisher{}
	}
	if v.metrics == nil {
		v.metrics = nopRecorder{}
	}
	v.logger = v.logger.With(map[string]interface{}{"vault": cfg.Address.String()})
	return v
}

func (v *Vault) Address() domain.Address {
	return v.address
}

// Snapshot returns a deep copy of the whole state record.
func (v *Vault) Snapshot() *domain.VaultState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state.Clone()
}

// Payout is what an outgoing operation sent to the caller.
type Payout struct {
	Principal decimal.Decimal `json:"principal"`
	Yield     decimal.Decimal `json:"yield"`
}

func (p Payout) Total() decimal.Decimal {
	return p.Principal.Add(p.Yield)
}

type nopStore struct{}

func (nopStore) Load(ctx context.Context, address domain.Address) (*domain.VaultState, error) {
	return nil, errors.ErrNotInitialized
}

func (nopStore) Begin(ctx context.Context) (StoreTx, error) { return nopStore{}, nil }

func (nopStore) Save(ctx context.Context, snap *domain.Snapshot) error { return nil }

func (nopStore) Commit() error { return nil }

func (nopStore) Rollback() error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(ctx context.Context, events []domain.Event) error { return nil }

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(op, result string, elapsed time.Duration) {}

func (nopRecorder) SetTotalDeposits(vault domain.Address, total decimal.Decimal) {}

func (nopRecorder) ReentrancyRejected(op string) {}
