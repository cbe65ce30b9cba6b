package vault

import (
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tokenvault/internal/access"
	"tokenvault/internal/domain"
	"tokenvault/pkg/errors"
)

type transferKind int

const (
	transferIn transferKind = iota
	transferOut
)

type transfer struct {
	kind    transferKind
	account domain.Address
	amount  decimal.Decimal
}

// stateTx is one operation's journaled view of the vault state. Effects go
// straight to the live record; the journal keeps the pre-images so rollback
// can restore them.
type stateTx struct {
	state  *domain.VaultState
	caller domain.Address
	now    time.Time

	header    domain.VaultHeader
	accounts  map[domain.Address]*domain.Account
	roles     domain.RoleGrants
	rolesSeen bool

	// surplus is custody above TotalDeposits when the operation began, less
	// the yield it has already committed to pay.
	surplus decimal.Decimal

	transfers []transfer
	events    []domain.Event
}

func begin(state *domain.VaultState, caller domain.Address, now time.Time, surplus decimal.Decimal) *stateTx {
	return &stateTx{
		state:    state,
		caller:   caller,
		now:      now,
		surplus:  surplus,
		header:   state.VaultHeader,
		accounts: make(map[domain.Address]*domain.Account),
	}
}

func (tx *stateTx) unix() int64 {
	return tx.now.Unix()
}

// account returns the live account for addr, creating it if needed.
func (tx *stateTx) account(addr domain.Address) *domain.Account {
	live, ok := tx.state.Accounts[addr]
	if _, seen := tx.accounts[addr]; !seen {
		if ok {
			pre := *live
			tx.accounts[addr] = &pre
		} else {
			tx.accounts[addr] = nil
		}
	}
	if !ok {
		live = &domain.Account{Balance: decimal.Zero}
		tx.state.Accounts[addr] = live
	}
	return live
}

// registry returns an access registry over the live role table, journaling
// the table first.
func (tx *stateTx) registry() *access.Registry {
	if !tx.rolesSeen {
		tx.roles = tx.state.Roles.Clone()
		tx.rolesSeen = true
	}
	if tx.state.Roles == nil {
		tx.state.Roles = make(domain.RoleGrants)
	}
	return access.NewRegistry(tx.state.Roles)
}

func (tx *stateTx) require(role domain.Role) error {
	return access.NewRegistry(tx.state.Roles).Require(role, tx.caller)
}

// credit and debit keep sum(balances) == TotalDeposits.
func (tx *stateTx) credit(addr domain.Address, amount decimal.Decimal) *domain.Account {
	acc := tx.account(addr)
	acc.Balance = acc.Balance.Add(amount)
	tx.state.TotalDeposits = tx.state.TotalDeposits.Add(amount)
	return acc
}

func (tx *stateTx) debit(addr domain.Address, amount decimal.Decimal) (*domain.Account, error) {
	acc := tx.account(addr)
	if acc.Balance.LessThan(amount) {
		return nil, errors.Wrapf(errors.ErrInsufficientBalance, "Insufficient balance: have %s, need %s", acc.Balance, amount)
	}
	acc.Balance = acc.Balance.Sub(amount)
	tx.state.TotalDeposits = tx.state.TotalDeposits.Sub(amount)
	return acc, nil
}

func (tx *stateTx) pull(from domain.Address, amount decimal.Decimal) {
	tx.transfers = append(tx.transfers, transfer{kind: transferIn, account: from, amount: amount})
}

func (tx *stateTx) push(to domain.Address, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	tx.transfers = append(tx.transfers, transfer{kind: transferOut, account: to, amount: amount})
}

func (tx *stateTx) emit(kind domain.EventKind, account domain.Address, amount, balance decimal.Decimal, attrs map[string]string) {
	tx.events = append(tx.events, domain.Event{
		ID:         uuid.New(),
		Vault:      tx.state.Address,
		Kind:       kind,
		Account:    account,
		Amount:     amount,
		Balance:    balance,
		Attributes: attrs,
		Version:    tx.state.Version,
		Timestamp:  tx.now.UTC(),
	})
}

// rollback restores every pre-image the journal recorded.
func (tx *stateTx) rollback() {
	tx.state.VaultHeader = tx.header
	for addr, pre := range tx.accounts {
		if pre == nil {
			delete(tx.state.Accounts, addr)
			continue
		}
		tx.state.Accounts[addr] = pre
	}
	if tx.rolesSeen {
		tx.state.Roles = tx.roles
	}
	tx.transfers = nil
	tx.events = nil
}

// snapshot collects the records this operation changed. After a rollback
// an account the operation created is written back as empty.
func (tx *stateTx) snapshot() *domain.Snapshot {
	tx.state.UpdatedAt = tx.now.UTC()
	snap := &domain.Snapshot{
		Header:   tx.state.VaultHeader,
		Accounts: make(map[domain.Address]domain.Account, len(tx.accounts)),
		Events:   tx.events,
	}
	for addr := range tx.accounts {
		if live, ok := tx.state.Accounts[addr]; ok {
			snap.Accounts[addr] = *live
		} else {
			snap.Accounts[addr] = domain.Account{Balance: decimal.Zero}
		}
	}
	if tx.rolesSeen {
		snap.Roles = tx.state.Roles.Clone()
	}
	return snap
}

func bps(v int64) string {
	return strconv.FormatInt(v, 10)
}
