package asset

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

// Hook runs after a MemoryToken transfer has been applied. Returning an
// error reverts the transfer, like a reverting callback in the asset
// contract.
type Hook func(ctx context.Context, from, to domain.Address, amount decimal.Decimal) error

// MemoryToken is an in-process fungible asset ledger. Insufficient balance
// or allowance yields a false return, not an error.
type MemoryToken struct {
	address domain.Address
	symbol  string

	mu         sync.Mutex
	supply     decimal.Decimal
	balances   map[domain.Address]decimal.Decimal
	allowances map[domain.Address]map[domain.Address]decimal.Decimal
	hooks      []Hook
}

func NewMemoryToken(address domain.Address, symbol string) *MemoryToken {
	return &MemoryToken{
		address:    address,
		symbol:     symbol,
		supply:     decimal.Zero,
		balances:   make(map[domain.Address]decimal.Decimal),
		allowances: make(map[domain.Address]map[domain.Address]decimal.Decimal),
	}
}

func (t *MemoryToken) Address() domain.Address { return t.address }

func (t *MemoryToken) Symbol() string { return t.symbol }

// OnTransfer registers a hook invoked after every successful transfer.
func (t *MemoryToken) OnTransfer(h Hook) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, h)
}

// Mint creates amount out of thin air for to.
func (t *MemoryToken) Mint(to domain.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return errors.Wrap(errors.ErrInvalidParameter, "mint amount must not be negative")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.balances[to] = t.balanceLocked(to).Add(amount)
	t.supply = t.supply.Add(amount)
	return nil
}

func (t *MemoryToken) TotalSupply() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.supply
}

func (t *MemoryToken) BalanceOf(ctx context.Context, account domain.Address) (decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balanceLocked(account), nil
}

func (t *MemoryToken) Allowance(owner, spender domain.Address) decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowanceLocked(owner, spender)
}

func (t *MemoryToken) Approve(ctx context.Context, owner, spender domain.Address, amount decimal.Decimal) (bool, error) {
	if amount.IsNegative() {
		return false, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setAllowanceLocked(owner, spender, amount)
	return true, nil
}

func (t *MemoryToken) Transfer(ctx context.Context, from, to domain.Address, amount decimal.Decimal) (bool, error) {
	t.mu.Lock()
	if !t.moveLocked(from, to, amount) {
		t.mu.Unlock()
		return false, nil
	}
	hooks := append([]Hook(nil), t.hooks...)
	t.mu.Unlock()

	if err := t.runHooks(ctx, hooks, from, to, amount); err != nil {
		t.mu.Lock()
		t.moveLocked(to, from, amount)
		t.mu.Unlock()
		return false, err
	}
	return true, nil
}

func (t *MemoryToken) TransferFrom(ctx context.Context, spender, from, to domain.Address, amount decimal.Decimal) (bool, error) {
	t.mu.Lock()
	allowed := t.allowanceLocked(from, spender)
	if allowed.LessThan(amount) || !t.moveLocked(from, to, amount) {
		t.mu.Unlock()
		return false, nil
	}
	t.setAllowanceLocked(from, spender, allowed.Sub(amount))
	hooks := append([]Hook(nil), t.hooks...)
	t.mu.Unlock()

	if err := t.runHooks(ctx, hooks, from, to, amount); err != nil {
		t.mu.Lock()
		t.moveLocked(to, from, amount)
		t.setAllowanceLocked(from, spender, t.allowanceLocked(from, spender).Add(amount))
		t.mu.Unlock()
		return false, err
	}
	return true, nil
}

func (t *MemoryToken) runHooks(ctx context.Context, hooks []Hook, from, to domain.Address, amount decimal.Decimal) error {
	for _, h := range hooks {
		if err := h(ctx, from, to, amount); err != nil {
			return err
		}
	}
	return nil
}

func (t *MemoryToken) moveLocked(from, to domain.Address, amount decimal.Decimal) bool {
	if amount.IsNegative() {
		return false
	}
	bal := t.balanceLocked(from)
	if bal.LessThan(amount) {
		return false
	}
	t.balances[from] = bal.Sub(amount)
	t.balances[to] = t.balanceLocked(to).Add(amount)
	return true
}

func (t *MemoryToken) balanceLocked(account domain.Address) decimal.Decimal {
	if bal, ok := t.balances[account]; ok {
		return bal
	}
	return decimal.Zero
}

func (t *MemoryToken) setAllowanceLocked(owner, spender domain.Address, amount decimal.Decimal) {
	if t.allowances[owner] == nil {
		t.allowances[owner] = make(map[domain.Address]decimal.Decimal)
	}
	t.allowances[owner][spender] = amount
}

func (t *MemoryToken) allowanceLocked(owner, spender domain.Address) decimal.Decimal {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return decimal.Zero
}
