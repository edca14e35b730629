package journal

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
)

const entryColumns = `id, entry_date, description, debit_account, credit_account, currency, amount, created_by, created_at, coalesce(idempotency_key,''), sequence`

// PGStore keeps journal entries in PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type scanner interface{ Scan(...any) error }

func scanEntry(row scanner) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Date, &e.Description, &e.DebitAccount, &e.CreditAccount,
		&e.Currency, &e.Amount, &e.CreatedBy, &e.CreatedAt, &e.IdempotencyKey, &e.Sequence)
	return e, err
}

func (s *PGStore) Append(ctx context.Context, e Entry) (Entry, bool, error) {
	stored, replayed, err := s.append(ctx, e)
	if err != nil && e.IdempotencyKey != "" && lostKeyRace(err) {
		// A concurrent post with the same key committed first.
		prev, ferr := scanEntry(s.db.QueryRowContext(ctx,
			`select `+entryColumns+` from journal_entries where created_by=$1 and idempotency_key=$2`,
			e.CreatedBy, e.IdempotencyKey))
		if ferr != nil {
			return Entry{}, false, err
		}
		return prev, true, nil
	}
	return stored, replayed, err
}

func lostKeyRace(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == uniqueViolation || pgErr.Code == serializationFailure)
}

func (s *PGStore) append(ctx context.Context, e Entry) (Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return Entry{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	// Idempotency: return the poster's existing entry for this key.
	if e.IdempotencyKey != "" {
		prev, err := scanEntry(tx.QueryRowContext(ctx,
			`select `+entryColumns+` from journal_entries where created_by=$1 and idempotency_key=$2`,
			e.CreatedBy, e.IdempotencyKey))
		if err == nil {
			return prev, true, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return Entry{}, false, err
		}
	}

	if err := tx.QueryRowContext(ctx, `
		insert into journal_entries(id, entry_date, description, debit_account, credit_account, currency, amount, created_by, created_at, idempotency_key)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,nullif($10,'')) returning sequence
	`, e.ID, e.Date, e.Description, e.DebitAccount, e.CreditAccount, e.Currency, e.Amount,
		e.CreatedBy, e.CreatedAt, e.IdempotencyKey).Scan(&e.Sequence); err != nil {
		return Entry{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Entry{}, false, err
	}
	return e, false, nil
}

func (s *PGStore) List(ctx context.Context, limit int, afterSeq uint64) ([]Entry, uint64, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+entryColumns+`
		from journal_entries
		where sequence > $1
		order by sequence asc
		limit $2
	`, afterSeq, clampLimit(limit))
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var (
		res  []Entry
		last uint64
	)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		res = append(res, e)
		last = e.Sequence
	}
	return res, last, rows.Err()
}
