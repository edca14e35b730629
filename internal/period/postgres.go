package period

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"fingate.org/internal/ids"
)

var _ Store = (*PGStore)(nil)

const (
	uniqueViolation      = "23505"
	serializationFailure = "40001"
)

const periodColumns = `id, name, start_date, end_date, is_open, created_at, closed_at`

// PGStore keeps financial years in PostgreSQL. The partial unique index
// financial_years_single_open backs the single-open invariant.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

type scanner interface{ Scan(...any) error }

func scanPeriod(row scanner) (Period, error) {
	var (
		p      Period
		closed sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.Name, &p.StartDate, &p.EndDate, &p.IsOpen, &p.CreatedAt, &closed); err != nil {
		return Period{}, err
	}
	p.StartDate, p.EndDate = Day(p.StartDate), Day(p.EndDate)
	if closed.Valid {
		t := closed.Time
		p.ClosedAt = &t
	}
	return p, nil
}

func (s *PGStore) FindOpen(ctx context.Context) (*Period, error) {
	p, err := scanPeriod(s.db.QueryRowContext(ctx,
		`select `+periodColumns+` from financial_years where is_open limit 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *PGStore) Insert(ctx context.Context, p *Period) error {
	if p.ID == "" {
		p.ID = ids.New()
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var open int
	err = tx.QueryRowContext(ctx, `select count(*) from financial_years where is_open`).Scan(&open)
	if err != nil {
		return mapInsertError(err)
	}
	if open > 0 {
		return ErrAlreadyOpen
	}
	if _, err := tx.ExecContext(ctx, `
		insert into financial_years(id, name, start_date, end_date, is_open, created_at)
		values ($1,$2,$3,$4,true,$5)
	`, p.ID, p.Name, p.StartDate, p.EndDate, p.CreatedAt); err != nil {
		return mapInsertError(err)
	}
	if err := tx.Commit(); err != nil {
		return mapInsertError(err)
	}
	p.IsOpen = true
	return nil
}

// mapInsertError folds a lost race on the open slot into ErrAlreadyOpen.
func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == uniqueViolation || pgErr.Code == serializationFailure) {
		return ErrAlreadyOpen
	}
	return err
}

func (s *PGStore) Close(ctx context.Context, id string, at time.Time) (Period, error) {
	p, err := scanPeriod(s.db.QueryRowContext(ctx, `
		update financial_years set is_open=false, closed_at=$2
		where id=$1 and is_open
		returning `+periodColumns, id, at))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Period{}, err
	}
	var isOpen bool
	err = s.db.QueryRowContext(ctx, `select is_open from financial_years where id=$1`, id).Scan(&isOpen)
	if errors.Is(err, sql.ErrNoRows) {
		return Period{}, ErrNotFound
	}
	if err != nil {
		return Period{}, err
	}
	return Period{}, ErrAlreadyClosed
}

func (s *PGStore) List(ctx context.Context) ([]Period, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+periodColumns+` from financial_years order by start_date desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
