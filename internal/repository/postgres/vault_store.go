package postgres

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"tokenvault/internal/domain"
	"tokenvault/internal/vault"
	pkgerrors "tokenvault/pkg/errors"
)

// VaultStore persists vault state as one header row plus per-account and
// per-role rows. Columns added by later versions carry defaults, so a V1
// row reads back as a valid V3 record.
type VaultStore struct {
	db      *sqlx.DB
	journal *EventJournal
}

func NewVaultStore(db *sqlx.DB) *VaultStore {
	return &VaultStore{db: db, journal: NewEventJournal(db)}
}

func (s *VaultStore) Journal() *EventJournal {
	return s.journal
}

// ListEvents reads the vault's journal in commit order.
func (s *VaultStore) ListEvents(ctx context.Context, address domain.Address, afterSeq int64, limit int) ([]domain.Event, error) {
	return s.journal.ListEvents(ctx, address, afterSeq, limit)
}

type accountRow struct {
	VaultAddress  domain.Address  `db:"vault_address"`
	Account       domain.Address  `db:"account"`
	Balance       decimal.Decimal `db:"balance"`
	LastClaimTime int64           `db:"last_claim_time"`
	RequestAmount decimal.Decimal `db:"request_amount"`
	RequestedAt   int64           `db:"request_requested_at"`
}

type roleRow struct {
	VaultAddress domain.Address `db:"vault_address"`
	Role         domain.Role    `db:"role"`
	Account      domain.Address `db:"account"`
	GrantedAt    time.Time      `db:"granted_at"`
}

const selectHeader = `
	SELECT address, asset, deposit_fee_bps, total_deposits, version, initialized,
		yield_rate_bps, deposits_paused, withdrawal_delay_seconds, updated_at
	FROM vault_state
	WHERE address = $1
`

const upsertHeader = `
	INSERT INTO vault_state (
		address, asset, deposit_fee_bps, total_deposits, version, initialized,
		yield_rate_bps, deposits_paused, withdrawal_delay_seconds, updated_at
	) VALUES (
		:address, :asset, :deposit_fee_bps, :total_deposits, :version, :initialized,
		:yield_rate_bps, :deposits_paused, :withdrawal_delay_seconds, :updated_at
	)
	ON CONFLICT (address) DO UPDATE SET
		asset = EXCLUDED.asset,
		deposit_fee_bps = EXCLUDED.deposit_fee_bps,
		total_deposits = EXCLUDED.total_deposits,
		version = EXCLUDED.version,
		initialized = EXCLUDED.initialized,
		yield_rate_bps = EXCLUDED.yield_rate_bps,
		deposits_paused = EXCLUDED.deposits_paused,
		withdrawal_delay_seconds = EXCLUDED.withdrawal_delay_seconds,
		updated_at = EXCLUDED.updated_at
`

const upsertAccount = `
	INSERT INTO vault_accounts (
		vault_address, account, balance, last_claim_time, request_amount, request_requested_at
	) VALUES (
		:vault_address, :account, :balance, :last_claim_time, :request_amount, :request_requested_at
	)
	ON CONFLICT (vault_address, account) DO UPDATE SET
		balance = EXCLUDED.balance,
		last_claim_time = EXCLUDED.last_claim_time,
		request_amount = EXCLUDED.request_amount,
		request_requested_at = EXCLUDED.request_requested_at
`

// Load reads the full record for address, or ErrNotInitialized.
func (s *VaultStore) Load(ctx context.Context, address domain.Address) (*domain.VaultState, error) {
	state := domain.NewVaultState(address)
	if err := s.db.GetContext(ctx, &state.VaultHeader, selectHeader, address); err != nil {
		if err == sql.ErrNoRows {
			return nil, pkgerrors.Wrapf(pkgerrors.ErrNotInitialized, "no vault stored at %s", address)
		}
		return nil, pkgerrors.Wrap(err, "failed to load vault header")
	}

	var accounts []accountRow
	err := s.db.SelectContext(ctx, &accounts, `
		SELECT vault_address, account, balance, last_claim_time, request_amount, request_requested_at
		FROM vault_accounts
		WHERE vault_address = $1
	`, address)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load vault accounts")
	}
	for _, row := range accounts {
		state.Accounts[row.Account] = &domain.Account{
			Balance:       row.Balance,
			LastClaimTime: row.LastClaimTime,
			Request: domain.WithdrawalRequest{
				Amount:      row.RequestAmount,
				RequestedAt: row.RequestedAt,
			},
		}
	}

	var roles []roleRow
	err = s.db.SelectContext(ctx, &roles, `
		SELECT vault_address, role, account, granted_at
		FROM vault_roles
		WHERE vault_address = $1
	`, address)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to load vault roles")
	}
	for _, row := range roles {
		if state.Roles[row.Role] == nil {
			state.Roles[row.Role] = make(map[domain.Address]struct{})
		}
		state.Roles[row.Role][row.Account] = struct{}{}
	}

	return state, nil
}

// Begin opens a serializable transaction for one vault operation.
func (s *VaultStore) Begin(ctx context.Context) (vault.StoreTx, error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to begin transaction")
	}
	return &storeTx{tx: tx, journal: s.journal}, nil
}

type storeTx struct {
	tx      *sqlx.Tx
	journal *EventJournal
}

func (t *storeTx) Save(ctx context.Context, snap *domain.Snapshot) error {
	header := snap.Header
	if _, err := t.tx.NamedExecContext(ctx, upsertHeader, &header); err != nil {
		return pkgerrors.Wrap(err, "failed to upsert vault header")
	}

	addrs := make([]domain.Address, 0, len(snap.Accounts))
	for addr := range snap.Accounts {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	for _, addr := range addrs {
		acc := snap.Accounts[addr]
		row := accountRow{
			VaultAddress:  header.Address,
			Account:       addr,
			Balance:       acc.Balance,
			LastClaimTime: acc.LastClaimTime,
			RequestAmount: acc.Request.Amount,
			RequestedAt:   acc.Request.RequestedAt,
		}
		if _, err := t.tx.NamedExecContext(ctx, upsertAccount, &row); err != nil {
			return pkgerrors.Wrapf(err, "failed to upsert account %s", addr)
		}
	}

	if snap.Roles != nil {
		if err := t.replaceRoles(ctx, header.Address, snap.Roles, header.UpdatedAt); err != nil {
			return err
		}
	}

	if len(snap.Events) > 0 {
		if err := t.journal.AppendTx(ctx, t.tx, header.Address, snap.Events); err != nil {
			return err
		}
	}
	return nil
}

func (t *storeTx) replaceRoles(ctx context.Context, address domain.Address, grants domain.RoleGrants, at time.Time) error {
	if _, err := t.tx.ExecContext(ctx, `DELETE FROM vault_roles WHERE vault_address = $1`, address); err != nil {
		return pkgerrors.Wrap(err, "failed to clear vault roles")
	}
	for _, role := range domain.Roles {
		for _, member := range grants.Members(role) {
			row := roleRow{VaultAddress: address, Role: role, Account: member, GrantedAt: at}
			_, err := t.tx.NamedExecContext(ctx, `
				INSERT INTO vault_roles (vault_address, role, account, granted_at)
				VALUES (:vault_address, :role, :account, :granted_at)
			`, &row)
			if err != nil {
				return pkgerrors.Wrapf(err, "failed to grant %s to %s", role, member)
			}
		}
	}
	return nil
}

func (t *storeTx) Commit() error {
	return t.tx.Commit()
}

func (t *storeTx) Rollback() error {
	err := t.tx.Rollback()
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
