package postgres

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/sha3"

	"tokenvault/internal/domain"
	pkgerrors "tokenvault/pkg/errors"
)

// GenesisHash is the previous_hash of the first event of every vault.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// EventJournal is the append-only, hash-chained log of vault events. Each
// row commits to its predecessor with a Keccak-256 digest, so any edit or
// deletion breaks the chain.
type EventJournal struct {
	db *sqlx.DB
}

func NewEventJournal(db *sqlx.DB) *EventJournal {
	return &EventJournal{db: db}
}

// JournalEntry is a stored event with its chain position.
type JournalEntry struct {
	Seq          int64            `db:"seq" json:"seq"`
	ID           uuid.UUID        `db:"id" json:"id"`
	Vault        domain.Address   `db:"vault_address" json:"vault"`
	Kind         domain.EventKind `db:"kind" json:"kind"`
	Account      domain.Address   `db:"account" json:"account"`
	Amount       decimal.Decimal  `db:"amount" json:"amount"`
	Balance      decimal.Decimal  `db:"balance_after" json:"balance"`
	Attributes   string           `db:"attributes" json:"-"`
	Version      domain.Version   `db:"version" json:"version"`
	OccurredAt   time.Time        `db:"occurred_at" json:"occurred_at"`
	PreviousHash string           `db:"previous_hash" json:"previous_hash"`
	Hash         string           `db:"hash" json:"hash"`
}

// Event decodes the entry back into a domain event.
func (e *JournalEntry) Event() (domain.Event, error) {
	attrs, err := decodeAttributes(e.Attributes)
	if err != nil {
		return domain.Event{}, err
	}
	return domain.Event{
		ID:         e.ID,
		Vault:      e.Vault,
		Kind:       e.Kind,
		Account:    e.Account,
		Amount:     e.Amount,
		Balance:    e.Balance,
		Attributes: attrs,
		Version:    e.Version,
		Timestamp:  e.OccurredAt,
	}, nil
}

// AppendTx chains events onto the vault's journal inside tx. The head row is
// locked so concurrent writers cannot fork the chain.
func (j *EventJournal) AppendTx(ctx context.Context, tx *sqlx.Tx, address domain.Address, events []domain.Event) error {
	previous := GenesisHash
	err := tx.GetContext(ctx, &previous, `
		SELECT hash FROM vault_events
		WHERE vault_address = $1
		ORDER BY seq DESC
		LIMIT 1
		FOR UPDATE
	`, address)
	switch {
	case err == sql.ErrNoRows:
		previous = GenesisHash
	case err != nil:
		return pkgerrors.Wrap(err, "failed to read journal head")
	}

	for _, event := range events {
		attrs := "{}"
		if len(event.Attributes) > 0 {
			raw, err := json.Marshal(event.Attributes)
			if err != nil {
				return pkgerrors.Wrap(err, "failed to encode event attributes")
			}
			attrs = string(raw)
		}

		entry := JournalEntry{
			ID:           event.ID,
			Vault:        address,
			Kind:         event.Kind,
			Account:      event.Account,
			Amount:       event.Amount,
			Balance:      event.Balance,
			Attributes:   attrs,
			Version:      event.Version,
			OccurredAt:   event.Timestamp.UTC().Truncate(time.Microsecond),
			PreviousHash: previous,
		}
		entry.Hash = hashEntry(&entry, event.Attributes)

		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO vault_events (
				id, vault_address, kind, account, amount, balance_after, attributes,
				version, occurred_at, previous_hash, hash
			) VALUES (
				:id, :vault_address, :kind, :account, :amount, :balance_after, :attributes,
				:version, :occurred_at, :previous_hash, :hash
			)
		`, &entry)
		if err != nil {
			return pkgerrors.Wrapf(err, "failed to append %s event", event.Kind)
		}
		previous = entry.Hash
	}
	return nil
}

// List returns up to limit entries after seq, oldest first.
func (j *EventJournal) List(ctx context.Context, address domain.Address, afterSeq int64, limit int) ([]JournalEntry, error) {
	var entries []JournalEntry
	err := j.db.SelectContext(ctx, &entries, `
		SELECT seq, id, vault_address, kind, account, amount, balance_after, attributes,
			version, occurred_at, previous_hash, hash
		FROM vault_events
		WHERE vault_address = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3
	`, address, afterSeq, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to read journal")
	}
	return entries, nil
}

// ListEvents is List decoded into domain events.
func (j *EventJournal) ListEvents(ctx context.Context, address domain.Address, afterSeq int64, limit int) ([]domain.Event, error) {
	entries, err := j.List(ctx, address, afterSeq, limit)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(entries))
	for i := range entries {
		e, err := entries[i].Event()
		if err != nil {
			return nil, pkgerrors.Wrapf(err, "unreadable event at seq %d", entries[i].Seq)
		}
		out = append(out, e)
	}
	return out, nil
}

// VerifyChain recomputes every digest of the vault's journal.
// Returns true if valid, false and error details if invalid.
func (j *EventJournal) VerifyChain(ctx context.Context, address domain.Address) (bool, error) {
	var entries []JournalEntry
	err := j.db.SelectContext(ctx, &entries, `
		SELECT seq, id, vault_address, kind, account, amount, balance_after, attributes,
			version, occurred_at, previous_hash, hash
		FROM vault_events
		WHERE vault_address = $1
		ORDER BY seq ASC
	`, address)
	if err != nil {
		return false, pkgerrors.Wrap(err, "failed to read journal")
	}
	return verifyEntries(entries)
}

func verifyEntries(entries []JournalEntry) (bool, error) {
	prev := GenesisHash
	for i := range entries {
		entry := &entries[i]
		if entry.PreviousHash != prev {
			return false, fmt.Errorf("chain broken at seq %d: expected prev_hash %s, got %s", entry.Seq, prev, entry.PreviousHash)
		}
		attrs, err := decodeAttributes(entry.Attributes)
		if err != nil {
			return false, fmt.Errorf("unreadable attributes at seq %d: %w", entry.Seq, err)
		}
		if calc := hashEntry(entry, attrs); entry.Hash != calc {
			return false, fmt.Errorf("hash mismatch at seq %d: expected %s, got %s", entry.Seq, calc, entry.Hash)
		}
		prev = entry.Hash
	}
	return true, nil
}

// hashEntry digests the entry's content and its predecessor. Attributes
// are folded in key order because JSONB does not keep the encoded form.
func hashEntry(e *JournalEntry, attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+attrs[k])
	}

	data := fmt.Sprintf("%s:%s:%s:%s:%s:%s:%s:%d:%d:%s",
		e.ID, e.Vault, e.Kind, e.Account, e.Amount.String(), e.Balance.String(),
		strings.Join(pairs, ","), e.Version, e.OccurredAt.UnixNano(), e.PreviousHash)

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func decodeAttributes(raw string) (map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
		return nil, err
	}
	if len(attrs) == 0 {
		return nil, nil
	}
	return attrs, nil
}
