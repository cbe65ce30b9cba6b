// Package domain holds the vault's persisted records and events.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// BpsDenominator is 100% in basis points.
	BpsDenominator = 10000

	// SecondsPerYear is the accrual period for yield rates.
	SecondsPerYear = 365 * 24 * 60 * 60
)

// VaultHeader is the scalar part of the flat vault record. Fields are only
// ever appended; the trailing groups belong to the version that added them.
type VaultHeader struct {
	Address       Address         `json:"address" db:"address"`
	Asset         Address         `json:"asset" db:"asset"`
	DepositFeeBps int64           `json:"deposit_fee_bps" db:"deposit_fee_bps"`
	TotalDeposits decimal.Decimal `json:"total_deposits" db:"total_deposits"`
	Version       Version         `json:"version" db:"version"`
	Initialized   VersionSet      `json:"initialized" db:"initialized"`

	// V2
	YieldRateBps   int64 `json:"yield_rate_bps" db:"yield_rate_bps"`
	DepositsPaused bool  `json:"deposits_paused" db:"deposits_paused"`

	// V3
	WithdrawalDelaySeconds int64 `json:"withdrawal_delay_seconds" db:"withdrawal_delay_seconds"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WithdrawalRequest is a queued V3 withdrawal. A zero Amount means none.
type WithdrawalRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	RequestedAt int64           `json:"requested_at"`
}

func (r WithdrawalRequest) Pending() bool {
	return r.Amount.IsPositive()
}

// UnlocksAt is the first unix second at which the request may execute.
func (r WithdrawalRequest) UnlocksAt(delaySeconds int64) int64 {
	return r.RequestedAt + delaySeconds
}

// Account is a depositor's slice of the vault record.
type Account struct {
	Balance decimal.Decimal `json:"balance"`

	// V2: unix seconds of the last yield settlement; 0 until the first
	// yield-affecting interaction starts the clock.
	LastClaimTime int64 `json:"last_claim_time"`

	// V3
	Request WithdrawalRequest `json:"withdrawal_request"`
}

// VaultState is the whole persisted vault.
type VaultState struct {
	VaultHeader
	Accounts map[Address]*Account `json:"accounts"`
	Roles    RoleGrants           `json:"roles"`
}

func NewVaultState(address Address) *VaultState {
	return &VaultState{
		VaultHeader: VaultHeader{
			Address:       address,
			TotalDeposits: decimal.Zero,
		},
		Accounts: make(map[Address]*Account),
		Roles:    make(RoleGrants),
	}
}

// Account returns a copy of the account, or a zero account.
func (s *VaultState) Account(addr Address) Account {
	if acc, ok := s.Accounts[addr]; ok && acc != nil {
		return *acc
	}
	return Account{Balance: decimal.Zero}
}

// SumBalances adds every account balance. It must always equal TotalDeposits.
func (s *VaultState) SumBalances() decimal.Decimal {
	sum := decimal.Zero
	for _, acc := range s.Accounts {
		sum = sum.Add(acc.Balance)
	}
	return sum
}

func (s *VaultState) Clone() *VaultState {
	out := &VaultState{
		VaultHeader: s.VaultHeader,
		Accounts:    make(map[Address]*Account, len(s.Accounts)),
		Roles:       s.Roles.Clone(),
	}
	for addr, acc := range s.Accounts {
		cp := *acc
		out.Accounts[addr] = &cp
	}
	return out
}

// Snapshot is the set of records one committed operation changed.
type Snapshot struct {
	Header   VaultHeader
	Accounts map[Address]Account
	// Roles is nil unless the operation changed role membership.
	Roles  RoleGrants
	Events []Event
}

// Apply writes a committed snapshot into s.
func (s *VaultState) Apply(snap *Snapshot) {
	s.VaultHeader = snap.Header
	if s.Accounts == nil {
		s.Accounts = make(map[Address]*Account, len(snap.Accounts))
	}
	for addr, acc := range snap.Accounts {
		cp := acc
		s.Accounts[addr] = &cp
	}
	if snap.Roles != nil {
		s.Roles = snap.Roles.Clone()
	}
}
