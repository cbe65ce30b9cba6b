// Package asset adapts the external fungible-asset contract to the vault.
package asset

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

// Token is the standard fungible-asset surface the vault consumes. The
// first address argument of each mutating call is the account the asset
// contract treats as the sender of the call. A false return and an error
// are both transfer failures.
type Token interface {
	Transfer(ctx context.Context, from, to domain.Address, amount decimal.Decimal) (bool, error)
	TransferFrom(ctx context.Context, spender, from, to domain.Address, amount decimal.Decimal) (bool, error)
	Approve(ctx context.Context, owner, spender domain.Address, amount decimal.Decimal) (bool, error)
	BalanceOf(ctx context.Context, account domain.Address) (decimal.Decimal, error)
}

// Resolver maps the asset address stored in vault state to a live Token.
type Resolver interface {
	Resolve(ctx context.Context, asset domain.Address) (Token, error)
}

// StaticResolver serves a fixed set of tokens.
type StaticResolver map[domain.Address]Token

func (r StaticResolver) Resolve(ctx context.Context, asset domain.Address) (Token, error) {
	token, ok := r[asset]
	if !ok {
		return nil, fmt.Errorf("no token registered for asset %s", asset)
	}
	return token, nil
}

// Port is the vault's view of one token: value moves in from depositors
// and out to recipients, always with the vault as the counterparty.
type Port struct {
	token Token
	vault domain.Address
}

func NewPort(token Token, vault domain.Address) *Port {
	return &Port{token: token, vault: vault}
}

// TransferIn pulls amount from an account that approved the vault.
func (p *Port) TransferIn(ctx context.Context, from domain.Address, amount decimal.Decimal) error {
	ok, err := p.token.TransferFrom(ctx, p.vault, from, p.vault, amount)
	return transferResult(ok, err, "transferFrom %s of %s", from, amount)
}

// TransferOut pushes amount from vault custody to an account.
func (p *Port) TransferOut(ctx context.Context, to domain.Address, amount decimal.Decimal) error {
	ok, err := p.token.Transfer(ctx, p.vault, to, amount)
	return transferResult(ok, err, "transfer to %s of %s", to, amount)
}

// BalanceOfVault is the vault's total custody, fees and top-ups included.
func (p *Port) BalanceOfVault(ctx context.Context) (decimal.Decimal, error) {
	bal, err := p.token.BalanceOf(ctx, p.vault)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to read vault custody balance")
	}
	return bal, nil
}

func transferResult(ok bool, err error, format string, args ...interface{}) error {
	what := fmt.Sprintf(format, args...)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", what, errors.ErrTransferFailed, err)
	}
	if !ok {
		return errors.Wrapf(errors.ErrTransferFailed, "%s returned false", what)
	}
	return nil
}
