package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventKind string

const (
	EventInitialized            EventKind = "Initialized"
	EventUpgraded               EventKind = "Upgraded"
	EventDeposited              EventKind = "Deposited"
	EventWithdrawn              EventKind = "Withdrawn"
	EventYieldClaimed           EventKind = "YieldClaimed"
	EventYieldRateUpdated       EventKind = "YieldRateUpdated"
	EventDepositsPaused         EventKind = "DepositsPaused"
	EventDepositsUnpaused       EventKind = "DepositsUnpaused"
	EventWithdrawalRequested    EventKind = "WithdrawalRequested"
	EventWithdrawalExecuted     EventKind = "WithdrawalExecuted"
	EventEmergencyWithdrawn     EventKind = "EmergencyWithdrawn"
	EventWithdrawalDelayUpdated EventKind = "WithdrawalDelayUpdated"
	EventRoleGranted            EventKind = "RoleGranted"
	EventRoleRevoked            EventKind = "RoleRevoked"
	EventReverted               EventKind = "Reverted"
)

// Event is the observable record of a committed state change.
type Event struct {
	ID         uuid.UUID         `json:"id" db:"id"`
	Vault      Address           `json:"vault" db:"vault_address"`
	Kind       EventKind         `json:"kind" db:"kind"`
	Account    Address           `json:"account,omitempty" db:"account"`
	Amount     decimal.Decimal   `json:"amount" db:"amount"`
	Balance    decimal.Decimal   `json:"balance" db:"balance_after"`
	Attributes map[string]string `json:"attributes,omitempty" db:"-"`
	Version    Version           `json:"version" db:"version"`
	Timestamp  time.Time         `json:"timestamp" db:"occurred_at"`
}
