package lending

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresRepository stores loans in PostgreSQL. The loans_one_active_idx
// partial index enforces a single active loan per borrower.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository builds a repository backed by PostgreSQL.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const loanColumns = `loan_id, borrower, amount, interest_rate, status, created_at, due_date, repaid_at`

// Insert records a new loan.
func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	loanID, err := uuid.Parse(rec.LoanID)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx, `INSERT INTO loans (`+loanColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		loanID, rec.Borrower, rec.Amount, rec.InterestRate, string(rec.Status),
		rec.CreatedAt.UTC(), rec.DueDate.UTC(), rec.RepaidAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrActiveLoanExists
	}
	return err
}

// Active returns the borrower's active loan.
func (r *PostgresRepository) Active(ctx context.Context, borrower string) (Record, error) {
	row := r.db.QueryRow(ctx, `SELECT `+loanColumns+` FROM loans
        WHERE borrower = $1 AND status = 'active'`, borrower)
	rec, err := scanLoan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNoActiveLoan
	}
	return rec, err
}

// UpdateStatus closes an active loan.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, loanID string, status Status, repaidAt *time.Time) error {
	id, err := uuid.Parse(loanID)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	var current string
	if err := tx.QueryRow(ctx, `SELECT status FROM loans WHERE loan_id = $1 FOR UPDATE`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoActiveLoan
		}
		return err
	}
	if Status(current) != StatusActive {
		return ErrNoActiveLoan
	}
	if _, err := tx.Exec(ctx, `UPDATE loans SET status = $2, repaid_at = $3 WHERE loan_id = $1`, id, string(status), repaidAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// History lists every loan of a borrower, oldest first.
func (r *PostgresRepository) History(ctx context.Context, borrower string) ([]Record, error) {
	rows, err := r.db.Query(ctx, `SELECT `+loanColumns+` FROM loans
        WHERE borrower = $1 ORDER BY created_at`, borrower)
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

// Overdue lists active loans whose due date is before now.
func (r *PostgresRepository) Overdue(ctx context.Context, now time.Time) ([]Record, error) {
	rows, err := r.db.Query(ctx, `SELECT `+loanColumns+` FROM loans
        WHERE status = 'active' AND due_date < $1 ORDER BY due_date`, now.UTC())
	if err != nil {
		return nil, err
	}
	return collectLoans(rows)
}

// SetTxCount stores the owner-maintained transaction count for a borrower.
func (r *PostgresRepository) SetTxCount(ctx context.Context, borrower string, count int) error {
	_, err := r.db.Exec(ctx, `INSERT INTO borrower_tx_counts (borrower, tx_count, updated_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (borrower) DO UPDATE SET tx_count = EXCLUDED.tx_count, updated_at = EXCLUDED.updated_at`,
		borrower, count)
	return err
}

// TxCount returns the stored count and whether one was ever set.
func (r *PostgresRepository) TxCount(ctx context.Context, borrower string) (int, bool, error) {
	var count int
	err := r.db.QueryRow(ctx, `SELECT tx_count FROM borrower_tx_counts WHERE borrower = $1`, borrower).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return count, true, nil
}

func scanLoan(row pgx.Row) (Record, error) {
	var rec Record
	var id uuid.UUID
	var status string
	var repaidAt *time.Time
	if err := row.Scan(&id, &rec.Borrower, &rec.Amount, &rec.InterestRate, &status, &rec.CreatedAt, &rec.DueDate, &repaidAt); err != nil {
		return Record{}, err
	}
	rec.LoanID = id.String()
	rec.Status = Status(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.DueDate = rec.DueDate.UTC()
	if repaidAt != nil {
		t := repaidAt.UTC()
		rec.RepaidAt = &t
	}
	return rec, nil
}

func collectLoans(rows pgx.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanLoan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
