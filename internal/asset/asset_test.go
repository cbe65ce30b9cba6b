package asset

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

var (
	tokenAddr = domain.MustAddress("0x7000000000000000000000000000000000000001")
	vaultAddr = domain.MustAddress("0x7000000000000000000000000000000000000002")
	alice     = domain.MustAddress("0x7000000000000000000000000000000000000003")
)

type MockToken struct {
	mock.Mock
}

func (m *MockToken) Transfer(ctx context.Context, from, to domain.Address, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, from, to, amount)
	return args.Bool(0), args.Error(1)
}

func (m *MockToken) TransferFrom(ctx context.Context, spender, from, to domain.Address, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, spender, from, to, amount)
	return args.Bool(0), args.Error(1)
}

func (m *MockToken) Approve(ctx context.Context, owner, spender domain.Address, amount decimal.Decimal) (bool, error) {
	args := m.Called(ctx, owner, spender, amount)
	return args.Bool(0), args.Error(1)
}

func (m *MockToken) BalanceOf(ctx context.Context, account domain.Address) (decimal.Decimal, error) {
	args := m.Called(ctx, account)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func TestPortTreatsFalseAsTransferFailure(t *testing.T) {
	ctx := context.Background()
	token := new(MockToken)
	amount := decimal.NewFromInt(10)
	token.On("Transfer", ctx, vaultAddr, alice, amount).Return(false, nil)

	err := NewPort(token, vaultAddr).TransferOut(ctx, alice, amount)
	assert.ErrorIs(t, err, errors.ErrTransferFailed)
	token.AssertExpectations(t)
}

func TestPortWrapsTokenErrors(t *testing.T) {
	ctx := context.Background()
	token := new(MockToken)
	amount := decimal.NewFromInt(10)
	cause := fmt.Errorf("execution reverted")
	token.On("TransferFrom", ctx, vaultAddr, alice, vaultAddr, amount).Return(false, cause)

	err := NewPort(token, vaultAddr).TransferIn(ctx, alice, amount)
	assert.ErrorIs(t, err, errors.ErrTransferFailed)
	assert.ErrorIs(t, err, cause)
}

func TestPortBalanceOfVault(t *testing.T) {
	ctx := context.Background()
	token := new(MockToken)
	token.On("BalanceOf", ctx, vaultAddr).Return(decimal.NewFromInt(42), nil)

	bal, err := NewPort(token, vaultAddr).BalanceOfVault(ctx)
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(42)))
}

func TestMemoryTokenTransferFromNeedsAllowance(t *testing.T) {
	ctx := context.Background()
	token := NewMemoryToken(tokenAddr, "TKN")
	require.NoError(t, token.Mint(alice, decimal.NewFromInt(100)))

	port := NewPort(token, vaultAddr)
	assert.ErrorIs(t, port.TransferIn(ctx, alice, decimal.NewFromInt(10)), errors.ErrTransferFailed)

	ok, err := token.Approve(ctx, alice, vaultAddr, decimal.NewFromInt(60))
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, port.TransferIn(ctx, alice, decimal.NewFromInt(50)))
	assert.True(t, token.Allowance(alice, vaultAddr).Equal(decimal.NewFromInt(10)))

	vaultBal, err := port.BalanceOfVault(ctx)
	require.NoError(t, err)
	assert.True(t, vaultBal.Equal(decimal.NewFromInt(50)))
	assert.True(t, token.TotalSupply().Equal(decimal.NewFromInt(100)))
}

func TestMemoryTokenHookFailureReverts(t *testing.T) {
	ctx := context.Background()
	token := NewMemoryToken(tokenAddr, "TKN")
	require.NoError(t, token.Mint(vaultAddr, decimal.NewFromInt(100)))

	hookErr := fmt.Errorf("callback reverted")
	token.OnTransfer(func(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error {
		return hookErr
	})

	err := NewPort(token, vaultAddr).TransferOut(ctx, alice, decimal.NewFromInt(30))
	assert.ErrorIs(t, err, hookErr)

	bal, _ := token.BalanceOf(ctx, vaultAddr)
	assert.True(t, bal.Equal(decimal.NewFromInt(100)))
	bal, _ = token.BalanceOf(ctx, alice)
	assert.True(t, bal.IsZero())
}

func TestStaticResolver(t *testing.T) {
	token := NewMemoryToken(tokenAddr, "TKN")
	r := StaticResolver{tokenAddr: token}

	got, err := r.Resolve(context.Background(), tokenAddr)
	require.NoError(t, err)
	assert.Same(t, token, got)

	_, err = r.Resolve(context.Background(), alice)
	assert.Error(t, err)
}
