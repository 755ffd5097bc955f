package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/congo-pay/mobile_ledger/internal/chain"
	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// chainLockKey is the advisory lock taken by every append so the chain head has a
// single writer across all instances.
const chainLockKey int64 = 0x6c65646765720001

const pgUniqueViolation = "23505"

// PostgresStore persists journals in PostgreSQL. Balances are summed from lines.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a Postgres-backed store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureAccount opens the account if needed.
func (s *PostgresStore) EnsureAccount(ctx context.Context, acct Account) (Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	ref := acct.Ref
	_, err := s.db.Exec(ctx, `INSERT INTO accounts (id, code, owner_type, owner_id, category, currency, overdraft_limit, unlimited, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        ON CONFLICT (code) DO NOTHING`,
		acct.ID, ref.Code(), ref.OwnerType, ref.OwnerID, ref.Category, ref.Currency, acct.OverdraftLimit, acct.Unlimited, acct.CreatedAt)
	if err != nil {
		return Account{}, err
	}
	return s.Account(ctx, ref)
}

// Account loads an account by reference.
func (s *PostgresStore) Account(ctx context.Context, ref journal.AccountRef) (Account, error) {
	return scanAccount(s.db.QueryRow(ctx, accountSelect+` WHERE code = $1`, ref.Code()), ref)
}

// Balance returns credits minus debits for the account.
func (s *PostgresStore) Balance(ctx context.Context, ref journal.AccountRef) (int64, error) {
	acct, err := s.Account(ctx, ref)
	if err != nil {
		return 0, err
	}
	return balanceForAccount(ctx, s.db, acct.ID)
}

// Journal loads one journal with its lines.
func (s *PostgresStore) Journal(ctx context.Context, id string) (journal.Journal, error) {
	rows, err := s.db.Query(ctx, journalSelect+` WHERE j.id = $1 ORDER BY l.position`, id)
	if err != nil {
		return journal.Journal{}, err
	}
	js, err := collectJournals(rows)
	if err != nil {
		return journal.Journal{}, err
	}
	if len(js) == 0 {
		return journal.Journal{}, fmt.Errorf("%w: %s", ErrJournalNotFound, id)
	}
	return js[0], nil
}

// JournalsInRange returns journals created in [from, to] in sequence order. A zero to
// means no upper bound.
func (s *PostgresStore) JournalsInRange(ctx context.Context, from, to time.Time) ([]journal.Journal, error) {
	upper := to
	if upper.IsZero() {
		upper = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	}
	rows, err := s.db.Query(ctx, journalSelect+` WHERE j.created_at >= $1 AND j.created_at <= $2 ORDER BY j.sequence, l.position`, from.UTC(), upper.UTC())
	if err != nil {
		return nil, err
	}
	return collectJournals(rows)
}

// ReversalOf returns the id of the journal reversing id.
func (s *PostgresStore) ReversalOf(ctx context.Context, id string) (string, error) {
	var rev string
	err := s.db.QueryRow(ctx, `SELECT id FROM journals WHERE reversal_of = $1`, id).Scan(&rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: no reversal of %s", ErrJournalNotFound, id)
	}
	return rev, err
}

// FindIdempotency returns the live record for scopeFP, or nil.
func (s *PostgresStore) FindIdempotency(ctx context.Context, scopeFP string) (*idempotency.Record, error) {
	const query = `SELECT scope_fp, payload_fp, journal_id, result, created_at, expires_at
        FROM idempotency_records
        WHERE scope_fp = $1 AND (expires_at IS NULL OR expires_at > now())`
	var rec idempotency.Record
	var expires *time.Time
	err := s.db.QueryRow(ctx, query, scopeFP).Scan(&rec.ScopeFP, &rec.PayloadFP, &rec.JournalID, &rec.Result, &rec.CreatedAt, &expires)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if expires != nil {
		rec.ExpiresAt = *expires
	}
	return &rec, nil
}

// Append writes the journal, its lines and the idempotency record in one transaction.
func (s *PostgresStore) Append(ctx context.Context, j journal.Journal, rec idempotency.Record) (journal.Journal, error) {
	if err := journal.AssertBalanced(j.Lines); err != nil {
		return journal.Journal{}, err
	}

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return journal.Journal{}, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return journal.Journal{}, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM idempotency_records WHERE scope_fp = $1 AND expires_at <= now()`, rec.ScopeFP); err != nil {
		return journal.Journal{}, err
	}
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM idempotency_records WHERE scope_fp = $1)`, rec.ScopeFP).Scan(&exists); err != nil {
		return journal.Journal{}, err
	}
	if exists {
		return journal.Journal{}, ErrDuplicateIdempotency
	}

	if j.ReversalOf != "" {
		var reversed bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journals WHERE reversal_of = $1)`, j.ReversalOf).Scan(&reversed)
		if err != nil {
			return journal.Journal{}, err
		}
		if reversed {
			return journal.Journal{}, fmt.Errorf("%w: journal %s already reversed", journal.ErrInvalidTransition, j.ReversalOf)
		}
	}

	positions := make(map[string]Position)
	accountIDs := make(map[string]string)
	for _, ref := range accountsTouched(j.Lines) {
		acct, err := scanAccount(tx.QueryRow(ctx, accountSelect+` WHERE code = $1 FOR UPDATE`, ref.Code()), ref)
		if err != nil {
			return journal.Journal{}, err
		}
		balance, err := balanceForAccount(ctx, tx, acct.ID)
		if err != nil {
			return journal.Journal{}, err
		}
		positions[ref.Code()] = Position{Account: acct, Balance: balance}
		accountIDs[ref.Code()] = acct.ID
	}
	if err := CheckFunds(j.Lines, positions); err != nil {
		return journal.Journal{}, err
	}

	var last int64
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM journals`).Scan(&last); err != nil {
		return journal.Journal{}, err
	}
	prev := chain.GenesisHash
	err = tx.QueryRow(ctx, `SELECT hash FROM journals WHERE hash <> '' ORDER BY sequence DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return journal.Journal{}, err
	}
	j.Sequence = last + 1
	chain.Seal(&j, prev)

	var reversalOf *string
	if j.ReversalOf != "" {
		reversalOf = &j.ReversalOf
	}
	if _, err := tx.Exec(ctx, `INSERT INTO journals (id, sequence, type, actor_id, currency, correlation_id, idempotency_key, state, description, reversal_of, created_at, prev_hash, hash)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		j.ID, j.Sequence, j.Type, j.ActorID, j.Currency, j.CorrelationID, j.IdempotencyKey, j.State, j.Description, reversalOf, j.CreatedAt, j.PrevHash, j.Hash); err != nil {
		return journal.Journal{}, translatePgError(err)
	}

	batch := &pgx.Batch{}
	for i, l := range j.Lines {
		batch.Queue(`INSERT INTO journal_lines (id, journal_id, position, account_id, direction, amount, description) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), j.ID, i, accountIDs[l.Account.Code()], l.Direction, l.Amount, l.Description)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return journal.Journal{}, err
	}

	rec.JournalID = j.ID
	var expires *time.Time
	if !rec.ExpiresAt.IsZero() {
		expires = &rec.ExpiresAt
	}
	if _, err := tx.Exec(ctx, `INSERT INTO idempotency_records (scope_fp, payload_fp, journal_id, result, created_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ScopeFP, rec.PayloadFP, rec.JournalID, rec.Result, rec.CreatedAt, expires); err != nil {
		return journal.Journal{}, translatePgError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return journal.Journal{}, translatePgError(err)
	}
	return j, nil
}

// ExpireIdempotency deletes records past their expiry.
func (s *PostgresStore) ExpireIdempotency(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM idempotency_records WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op: the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const accountSelect = `SELECT id, overdraft_limit, unlimited, created_at FROM accounts`

func scanAccount(row pgx.Row, ref journal.AccountRef) (Account, error) {
	acct := Account{Ref: ref}
	var id uuid.UUID
	if err := row.Scan(&id, &acct.OverdraftLimit, &acct.Unlimited, &acct.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, ref.Code())
		}
		return Account{}, err
	}
	acct.ID = id.String()
	return acct, nil
}

func balanceForAccount(ctx context.Context, q queryRower, accountID string) (int64, error) {
	const query = `SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)::BIGINT
        FROM journal_lines WHERE account_id = $1`
	var balance int64
	if err := q.QueryRow(ctx, query, accountID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

const journalSelect = `SELECT j.id, j.sequence, j.type, j.actor_id, j.currency, j.correlation_id, j.idempotency_key,
        j.state, j.description, COALESCE(j.reversal_of, ''), j.created_at, j.prev_hash, j.hash,
        a.owner_type, a.owner_id, a.category, a.currency, l.direction, l.amount, l.description
    FROM journals j
    JOIN journal_lines l ON l.journal_id = j.id
    JOIN accounts a ON a.id = l.account_id`

func collectJournals(rows pgx.Rows) ([]journal.Journal, error) {
	defer rows.Close()
	var out []journal.Journal
	for rows.Next() {
		var j journal.Journal
		var l journal.Line
		if err := rows.Scan(&j.ID, &j.Sequence, &j.Type, &j.ActorID, &j.Currency, &j.CorrelationID, &j.IdempotencyKey,
			&j.State, &j.Description, &j.ReversalOf, &j.CreatedAt, &j.PrevHash, &j.Hash,
			&l.Account.OwnerType, &l.Account.OwnerID, &l.Account.Category, &l.Account.Currency, &l.Direction, &l.Amount, &l.Description); err != nil {
			return nil, err
		}
		if n := len(out); n > 0 && out[n-1].ID == j.ID {
			out[n-1].Lines = append(out[n-1].Lines, l)
			continue
		}
		j.CreatedAt = j.CreatedAt.UTC()
		j.Lines = []journal.Line{l}
		out = append(out, j)
	}
	return out, rows.Err()
}

func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case "idempotency_records_pkey":
			return ErrDuplicateIdempotency
		case "journals_reversal_of_key":
			return fmt.Errorf("%w: journal already reversed", journal.ErrInvalidTransition)
		}
	}
	return err
}
