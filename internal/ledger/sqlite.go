package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/congo-pay/mobile_ledger/internal/chain"
	"github.com/congo-pay/mobile_ledger/internal/idempotency"
	"github.com/congo-pay/mobile_ledger/internal/journal"
)

// sqliteTime is fixed-width so text comparison orders timestamps.
const sqliteTime = "2006-01-02T15:04:05.000000Z"

// SQLiteStore is the embedded single-node backend. Appends are serialized by a mutex;
// readers run concurrently under WAL.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore opens the database at path and migrates it. Use ":memory:" for a
// throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("can not connect with database: %w", err)
	}
	if err := MigrateSQLite(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureAccount(ctx context.Context, acct Account) (Account, error) {
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	ref := acct.Ref
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (id, code, owner_type, owner_id, category, currency, overdraft_limit, unlimited, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (code) DO NOTHING`,
		acct.ID, ref.Code(), string(ref.OwnerType), ref.OwnerID, string(ref.Category), ref.Currency,
		acct.OverdraftLimit, acct.Unlimited, formatTime(acct.CreatedAt))
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return s.Account(ctx, ref)
}

func (s *SQLiteStore) Account(ctx context.Context, ref journal.AccountRef) (Account, error) {
	return scanSQLiteAccount(s.db.QueryRowContext(ctx, `SELECT id, overdraft_limit, unlimited, created_at FROM accounts WHERE code = ?`, ref.Code()), ref)
}

func (s *SQLiteStore) Balance(ctx context.Context, ref journal.AccountRef) (int64, error) {
	acct, err := s.Account(ctx, ref)
	if err != nil {
		return 0, err
	}
	return sqliteBalance(ctx, s.db, acct.ID)
}

func (s *SQLiteStore) Journal(ctx context.Context, id string) (journal.Journal, error) {
	rows, err := s.db.QueryContext(ctx, journalSelectSQLite+` WHERE j.id = ? ORDER BY l.position`, id)
	if err != nil {
		return journal.Journal{}, err
	}
	js, err := collectSQLiteJournals(rows)
	if err != nil {
		return journal.Journal{}, err
	}
	if len(js) == 0 {
		return journal.Journal{}, fmt.Errorf("%w: %s", ErrJournalNotFound, id)
	}
	return js[0], nil
}

func (s *SQLiteStore) JournalsInRange(ctx context.Context, from, to time.Time) ([]journal.Journal, error) {
	upper := "9999"
	if !to.IsZero() {
		upper = formatTime(to)
	}
	rows, err := s.db.QueryContext(ctx, journalSelectSQLite+` WHERE j.created_at >= ? AND j.created_at <= ? ORDER BY j.sequence, l.position`, formatTime(from), upper)
	if err != nil {
		return nil, err
	}
	return collectSQLiteJournals(rows)
}

func (s *SQLiteStore) ReversalOf(ctx context.Context, id string) (string, error) {
	var rev string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM journals WHERE reversal_of = ?`, id).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: no reversal of %s", ErrJournalNotFound, id)
	}
	return rev, err
}

func (s *SQLiteStore) FindIdempotency(ctx context.Context, scopeFP string) (*idempotency.Record, error) {
	var rec idempotency.Record
	var created string
	var expires sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT scope_fp, payload_fp, journal_id, result, created_at, expires_at
		FROM idempotency_records
		WHERE scope_fp = ? AND (expires_at IS NULL OR expires_at > ?)`, scopeFP, formatTime(time.Now())).
		Scan(&rec.ScopeFP, &rec.PayloadFP, &rec.JournalID, &rec.Result, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if expires.Valid {
		if rec.ExpiresAt, err = parseTime(expires.String); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func (s *SQLiteStore) Append(ctx context.Context, j journal.Journal, rec idempotency.Record) (journal.Journal, error) {
	if err := journal.AssertBalanced(j.Lines); err != nil {
		return journal.Journal{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return journal.Journal{}, err
	}
	defer tx.Rollback() // nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM idempotency_records WHERE scope_fp = ? AND expires_at <= ?`, rec.ScopeFP, formatTime(time.Now())); err != nil {
		return journal.Journal{}, err
	}
	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM idempotency_records WHERE scope_fp = ?`, rec.ScopeFP).Scan(&exists); err != nil {
		return journal.Journal{}, err
	}
	if exists > 0 {
		return journal.Journal{}, ErrDuplicateIdempotency
	}

	if j.ReversalOf != "" {
		var reversed int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM journals WHERE reversal_of = ?`, j.ReversalOf).Scan(&reversed); err != nil {
			return journal.Journal{}, err
		}
		if reversed > 0 {
			return journal.Journal{}, fmt.Errorf("%w: journal %s already reversed", journal.ErrInvalidTransition, j.ReversalOf)
		}
	}

	positions := make(map[string]Position)
	accountIDs := make(map[string]string)
	for _, ref := range accountsTouched(j.Lines) {
		acct, err := scanSQLiteAccount(tx.QueryRowContext(ctx, `SELECT id, overdraft_limit, unlimited, created_at FROM accounts WHERE code = ?`, ref.Code()), ref)
		if err != nil {
			return journal.Journal{}, err
		}
		balance, err := sqliteBalance(ctx, tx, acct.ID)
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
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM journals`).Scan(&last); err != nil {
		return journal.Journal{}, err
	}
	prev := chain.GenesisHash
	err = tx.QueryRowContext(ctx, `SELECT hash FROM journals WHERE hash <> '' ORDER BY sequence DESC LIMIT 1`).Scan(&prev)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return journal.Journal{}, err
	}
	j.Sequence = last + 1
	chain.Seal(&j, prev)

	var reversalOf sql.NullString
	if j.ReversalOf != "" {
		reversalOf = sql.NullString{String: j.ReversalOf, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO journals (id, sequence, type, actor_id, currency, correlation_id, idempotency_key, state, description, reversal_of, created_at, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Sequence, string(j.Type), j.ActorID, j.Currency, j.CorrelationID, j.IdempotencyKey, string(j.State),
		j.Description, reversalOf, formatTime(j.CreatedAt), j.PrevHash, j.Hash); err != nil {
		return journal.Journal{}, fmt.Errorf("insert journal: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO journal_lines (id, journal_id, position, account_id, direction, amount, description) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return journal.Journal{}, fmt.Errorf("failed to prepare SQL: %w", err)
	}
	defer stmt.Close()
	for i, l := range j.Lines {
		if _, err := stmt.ExecContext(ctx, uuid.NewString(), j.ID, i, accountIDs[l.Account.Code()], string(l.Direction), l.Amount, l.Description); err != nil {
			return journal.Journal{}, fmt.Errorf("insert line: %w", err)
		}
	}

	rec.JournalID = j.ID
	var expires sql.NullString
	if !rec.ExpiresAt.IsZero() {
		expires = sql.NullString{String: formatTime(rec.ExpiresAt), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO idempotency_records (scope_fp, payload_fp, journal_id, result, created_at, expires_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ScopeFP, rec.PayloadFP, rec.JournalID, rec.Result, formatTime(rec.CreatedAt), expires); err != nil {
		return journal.Journal{}, fmt.Errorf("insert idempotency record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return journal.Journal{}, err
	}
	return j, nil
}

func (s *SQLiteStore) ExpireIdempotency(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_records WHERE expires_at <= ?`, formatTime(now))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type sqlQueryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteBalance(ctx context.Context, q sqlQueryRower, accountID string) (int64, error) {
	var balance int64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(CASE WHEN direction = 'credit' THEN amount ELSE -amount END), 0)
		FROM journal_lines WHERE account_id = ?`, accountID).Scan(&balance)
	return balance, err
}

func scanSQLiteAccount(row *sql.Row, ref journal.AccountRef) (Account, error) {
	acct := Account{Ref: ref}
	var created string
	if err := row.Scan(&acct.ID, &acct.OverdraftLimit, &acct.Unlimited, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, ref.Code())
		}
		return Account{}, err
	}
	var err error
	if acct.CreatedAt, err = parseTime(created); err != nil {
		return Account{}, err
	}
	return acct, nil
}

const journalSelectSQLite = `SELECT j.id, j.sequence, j.type, j.actor_id, j.currency, j.correlation_id, j.idempotency_key,
		j.state, j.description, COALESCE(j.reversal_of, ''), j.created_at, j.prev_hash, j.hash,
		a.owner_type, a.owner_id, a.category, a.currency, l.direction, l.amount, l.description
	FROM journals j
	JOIN journal_lines l ON l.journal_id = j.id
	JOIN accounts a ON a.id = l.account_id`

func collectSQLiteJournals(rows *sql.Rows) ([]journal.Journal, error) {
	defer rows.Close()
	var out []journal.Journal
	for rows.Next() {
		var (
			j                              journal.Journal
			l                              journal.Line
			txnType, state, created        string
			ownerType, category, direction string
		)
		if err := rows.Scan(&j.ID, &j.Sequence, &txnType, &j.ActorID, &j.Currency, &j.CorrelationID, &j.IdempotencyKey,
			&state, &j.Description, &j.ReversalOf, &created, &j.PrevHash, &j.Hash,
			&ownerType, &l.Account.OwnerID, &category, &l.Account.Currency, &direction, &l.Amount, &l.Description); err != nil {
			return nil, err
		}
		l.Account.OwnerType = journal.OwnerType(ownerType)
		l.Account.Category = journal.Category(category)
		l.Direction = journal.Direction(direction)
		if n := len(out); n > 0 && out[n-1].ID == j.ID {
			out[n-1].Lines = append(out[n-1].Lines, l)
			continue
		}
		j.Type = journal.TxnType(txnType)
		j.State = journal.State(state)
		ts, err := parseTime(created)
		if err != nil {
			return nil, err
		}
		j.CreatedAt = ts
		j.Lines = []journal.Line{l}
		out = append(out, j)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string { return t.UTC().Format(sqliteTime) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTime, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
