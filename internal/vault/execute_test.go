package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tokenvault/internal/asset"
	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
	"tokenvault/pkg/logger"
)

// --- Mocks ---

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Load(ctx context.Context, address domain.Address) (*domain.VaultState, error) {
	args := m.Called(ctx, address)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.VaultState), args.Error(1)
}

func (m *MockStore) Begin(ctx context.Context) (StoreTx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(StoreTx), args.Error(1)
}

type MockStoreTx struct {
	mock.Mock
}

func (m *MockStoreTx) Save(ctx context.Context, snap *domain.Snapshot) error {
	args := m.Called(ctx, snap)
	return args.Error(0)
}

func (m *MockStoreTx) Commit() error {
	return m.Called().Error(0)
}

func (m *MockStoreTx) Rollback() error {
	return m.Called().Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, events []domain.Event) error {
	args := m.Called(ctx, events)
	return args.Error(0)
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) ObserveOperation(op, result string, elapsed time.Duration) {
	m.Called(op, result, elapsed)
}

func (m *MockRecorder) SetTotalDeposits(vault domain.Address, total decimal.Decimal) {
	m.Called(vault, total)
}

func (m *MockRecorder) ReentrancyRejected(op string) {
	m.Called(op)
}

// --- Tests ---

func newMockedVault(t *testing.T, store Store, pub Publisher, rec Recorder) (*Vault, *asset.MemoryToken) {
	t.Helper()
	token := asset.NewMemoryToken(tokenAddr, "MOCK")
	require.NoError(t, token.Mint(user, ether(1000)))
	_, err := token.Approve(context.Background(), user, vaultAddr, ether(1000))
	require.NoError(t, err)

	cfg := newVaultConfig(token, NewManualClock(testEpoch))
	cfg.Store = store
	cfg.Publisher = pub
	cfg.Metrics = rec
	return NewProxy(cfg), token
}

func TestCommitPersistsTouchedRecordsAndPublishes(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	stx := new(MockStoreTx)
	pub := new(MockPublisher)

	store.On("Begin", mock.Anything).Return(stx, nil)
	stx.On("Save", mock.Anything, mock.AnythingOfType("*domain.Snapshot")).Return(nil)
	stx.On("Commit").Return(nil)
	stx.On("Rollback").Return(nil)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil)

	v, _ := newMockedVault(t, store, pub, nil)
	require.NoError(t, NewMigrator(v).Deploy(ctx, admin, InitParams{Asset: tokenAddr, Admin: admin, DepositFeeBps: feeBps}))
	_, err := v.Deposit(ctx, user, ether(100))
	require.NoError(t, err)

	require.Len(t, stx.Calls, 6, "two operations: save, commit, rollback each")

	deploySnap := stx.Calls[0].Arguments.Get(1).(*domain.Snapshot)
	assert.Equal(t, domain.V1, deploySnap.Header.Version)
	assert.Empty(t, deploySnap.Accounts)
	assert.NotNil(t, deploySnap.Roles, "deploy changes the role table")

	depositSnap := stx.Calls[3].Arguments.Get(1).(*domain.Snapshot)
	assert.Nil(t, depositSnap.Roles)
	require.Contains(t, depositSnap.Accounts, user)
	assertDecimal(t, ether(95), depositSnap.Accounts[user].Balance)
	assertDecimal(t, ether(95), depositSnap.Header.TotalDeposits)
	require.Len(t, depositSnap.Events, 1)
	assert.Equal(t, domain.EventDeposited, depositSnap.Events[0].Kind)
	assert.Equal(t, "5000000000000000000", depositSnap.Events[0].Attributes["fee"])

	published := pub.Calls[1].Arguments.Get(1).([]domain.Event)
	assert.Equal(t, depositSnap.Events, published)
	store.AssertExpectations(t)
}

func TestSaveFailureRevertsWithoutMovingAssets(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	okTx := new(MockStoreTx)
	badTx := new(MockStoreTx)
	pub := new(MockPublisher)

	okTx.On("Save", mock.Anything, mock.Anything).Return(nil)
	okTx.On("Commit").Return(nil)
	okTx.On("Rollback").Return(nil)
	badTx.On("Save", mock.Anything, mock.Anything).Return(fmt.Errorf("connection reset"))
	badTx.On("Rollback").Return(nil)
	store.On("Begin", mock.Anything).Return(okTx, nil).Once()
	store.On("Begin", mock.Anything).Return(badTx, nil).Once()
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Once()

	v, token := newMockedVault(t, store, pub, nil)
	require.NoError(t, NewMigrator(v).Deploy(ctx, admin, InitParams{Asset: tokenAddr, Admin: admin, DepositFeeBps: feeBps}))

	_, err := v.Deposit(ctx, user, ether(100))
	assert.Error(t, err)
	assert.Equal(t, errors.CodeInternal, errors.Code(err))

	assert.True(t, v.TotalDeposits().IsZero())
	bal, _ := token.BalanceOf(ctx, user)
	assertDecimal(t, ether(1000), bal)
	badTx.AssertNotCalled(t, "Commit")
	pub.AssertNumberOfCalls(t, "Publish", 1)
}

func TestTransferFailureRollsBackStoreTx(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	stx := new(MockStoreTx)

	stx.On("Save", mock.Anything, mock.Anything).Return(nil)
	stx.On("Commit").Return(nil)
	stx.On("Rollback").Return(nil)
	store.On("Begin", mock.Anything).Return(stx, nil)

	v, _ := newMockedVault(t, store, nil, nil)
	require.NoError(t, NewMigrator(v).Deploy(ctx, admin, InitParams{Asset: tokenAddr, Admin: admin, DepositFeeBps: feeBps}))

	_, err := v.Deposit(ctx, user, ether(5000))
	assert.ErrorIs(t, err, errors.ErrTransferFailed)
	stx.AssertNumberOfCalls(t, "Commit", 1)
	stx.AssertNumberOfCalls(t, "Rollback", 2)
}

func TestCommitFailureRevertsWithoutPaying(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	okTx := new(MockStoreTx)
	badTx := new(MockStoreTx)

	okTx.On("Save", mock.Anything, mock.Anything).Return(nil)
	okTx.On("Commit").Return(nil)
	okTx.On("Rollback").Return(nil)
	badTx.On("Save", mock.Anything, mock.Anything).Return(nil)
	badTx.On("Commit").Return(fmt.Errorf("db down"))
	badTx.On("Rollback").Return(nil)
	store.On("Begin", mock.Anything).Return(okTx, nil).Twice()
	store.On("Begin", mock.Anything).Return(badTx, nil).Once()

	v, token := newMockedVault(t, store, nil, nil)
	require.NoError(t, NewMigrator(v).Deploy(ctx, admin, InitParams{Asset: tokenAddr, Admin: admin, DepositFeeBps: feeBps}))
	_, err := v.Deposit(ctx, user, ether(100))
	require.NoError(t, err)

	_, err = v.Withdraw(ctx, user, ether(50))
	require.Error(t, err)
	assert.Equal(t, errors.CodeInternal, errors.Code(err))

	assertDecimal(t, ether(95), v.BalanceOf(user))
	assertDecimal(t, ether(95), v.TotalDeposits())
	bal, _ := token.BalanceOf(ctx, user)
	assertDecimal(t, ether(900), bal, "nothing leaves custody before the store commits")
	store.AssertExpectations(t)
}

func TestFailedPayoutPersistsReversal(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	stx := new(MockStoreTx)

	stx.On("Save", mock.Anything, mock.Anything).Return(nil)
	stx.On("Commit").Return(nil)
	stx.On("Rollback").Return(nil)
	store.On("Begin", mock.Anything).Return(stx, nil)

	v, token := newMockedVault(t, store, nil, nil)
	require.NoError(t, NewMigrator(v).Deploy(ctx, admin, InitParams{Asset: tokenAddr, Admin: admin, DepositFeeBps: feeBps}))
	_, err := v.Deposit(ctx, user, ether(100))
	require.NoError(t, err)

	token.OnTransfer(func(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error {
		if from == vaultAddr {
			return fmt.Errorf("recipient rejected transfer")
		}
		return nil
	})
	_, err = v.Withdraw(ctx, user, ether(50))
	assert.ErrorIs(t, err, errors.ErrTransferFailed)
	assertDecimal(t, ether(95), v.BalanceOf(user))

	stx.AssertNumberOfCalls(t, "Commit", 4)
	saves := 0
	var last *domain.Snapshot
	for _, call := range stx.Calls {
		if call.Method == "Save" {
			saves++
			last = call.Arguments.Get(1).(*domain.Snapshot)
		}
	}
	require.Equal(t, 4, saves, "deploy, deposit, withdraw, reversal")
	require.Len(t, last.Events, 1)
	assert.Equal(t, domain.EventReverted, last.Events[0].Kind)
	assert.Equal(t, errors.CodeTransferFailed, last.Events[0].Attributes["code"])
	assertDecimal(t, ether(95), last.Accounts[user].Balance)
	assertDecimal(t, ether(95), last.Header.TotalDeposits)
}

func TestMetricsRecorded(t *testing.T) {
	ctx := context.Background()
	rec := new(MockRecorder)
	rec.On("ObserveOperation", mock.Anything, mock.Anything, mock.Anything).Return()
	rec.On("SetTotalDeposits", vaultAddr, mock.Anything).Return()
	rec.On("ReentrancyRejected", "withdraw").Return()

	v, token := newMockedVault(t, nil, nil, rec)
	require.NoError(t, NewMigrator(v).Deploy(ctx, admin, InitParams{Asset: tokenAddr, Admin: admin, DepositFeeBps: feeBps}))
	_, err := v.Deposit(ctx, user, ether(100))
	require.NoError(t, err)

	token.OnTransfer(func(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error {
		if from == vaultAddr {
			_, err := v.Withdraw(ctx, user, ether(1))
			assert.ErrorIs(t, err, errors.ErrReentrantCall)
		}
		return nil
	})
	_, err = v.Withdraw(ctx, user, ether(200))
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)
	_, err = v.Withdraw(ctx, user, ether(5))
	require.NoError(t, err)

	rec.AssertCalled(t, "ObserveOperation", "deposit", "ok", mock.Anything)
	rec.AssertCalled(t, "ObserveOperation", "withdraw", errors.CodeInsufficientBalance, mock.Anything)
	rec.AssertCalled(t, "ObserveOperation", "withdraw", errors.CodeReentrantCall, mock.Anything)
	rec.AssertNumberOfCalls(t, "ReentrancyRejected", 1)
}

func TestOpenRestoresPersistedState(t *testing.T) {
	ctx := context.Background()
	state := domain.NewVaultState(vaultAddr)
	state.Asset = tokenAddr
	state.Version = domain.V2
	state.Initialized = state.Initialized.With(domain.V1).With(domain.V2)
	state.DepositFeeBps = feeBps
	state.YieldRateBps = yieldBps
	state.TotalDeposits = ether(95)
	state.Accounts[user] = &domain.Account{Balance: ether(95)}
	state.Roles = nil

	store := new(MockStore)
	store.On("Load", mock.Anything, vaultAddr).Return(state, nil)

	v, err := Open(ctx, Config{Address: vaultAddr, Store: store, Logger: logger.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, "V2", v.ImplementationVersion())
	assertDecimal(t, ether(95), v.BalanceOf(user))
	assert.False(t, v.HasRole(domain.RoleAdmin, admin))

	missing := new(MockStore)
	missing.On("Load", mock.Anything, vaultAddr).Return(nil, errors.Wrap(errors.ErrNotInitialized, "no row"))
	fresh, err := Open(ctx, Config{Address: vaultAddr, Store: missing})
	require.NoError(t, err)
	assert.Equal(t, domain.VersionNone, fresh.Version())

	broken := new(MockStore)
	broken.On("Load", mock.Anything, vaultAddr).Return(nil, fmt.Errorf("dial tcp: refused"))
	_, err = Open(ctx, Config{Address: vaultAddr, Store: broken})
	assert.Error(t, err)
}

func TestOperationLogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	token := asset.NewMemoryToken(tokenAddr, "MOCK")
	require.NoError(t, token.Mint(user, ether(1000)))
	_, err := token.Approve(context.Background(), user, vaultAddr, ether(1000))
	require.NoError(t, err)

	cfg := newVaultConfig(token, NewManualClock(testEpoch))
	cfg.Logger = logger.NewWriter(&buf, "vaultd", "debug")
	v := NewProxy(cfg)
	require.NoError(t, NewMigrator(v).Deploy(context.Background(), admin, InitParams{Asset: tokenAddr, Admin: admin, DepositFeeBps: feeBps}))

	buf.Reset()
	ctx := logger.WithRequestID(context.Background(), "req-7")
	_, err = v.Deposit(ctx, user, ether(100))
	require.NoError(t, err)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry), buf.String())
	assert.Equal(t, "Vault operation committed", entry["message"])
	assert.Equal(t, "deposit", entry["op"])
	assert.Equal(t, "req-7", entry["request_id"])
}
