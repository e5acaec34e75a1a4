package lending

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoActiveLoan is returned by repositories when a borrower has no active loan.
	ErrNoActiveLoan = errors.New("no active loan")
	// ErrActiveLoanExists is returned by Insert when the borrower already has an active loan.
	ErrActiveLoanExists = errors.New("active loan exists")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusRepaid    Status = "repaid"
	StatusDefaulted Status = "defaulted"
)

// Record is one loan. At most one active record exists per borrower.
type Record struct {
	LoanID       string          `json:"loanId"`
	Borrower     string          `json:"borrower"`
	Amount       decimal.Decimal `json:"amount"`
	InterestRate decimal.Decimal `json:"interestRate"`
	Status       Status          `json:"status"`
	CreatedAt    time.Time       `json:"createdAt"`
	DueDate      time.Time       `json:"dueDate"`
	RepaidAt     *time.Time      `json:"repaidAt,omitempty"`
}

// AmountDue returns what the borrower must pay back.
func (r Record) AmountDue() decimal.Decimal {
	return AmountDue(r.Amount)
}

// Repository persists loans and the owner-maintained transaction counts.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Active(ctx context.Context, borrower string) (Record, error)
	UpdateStatus(ctx context.Context, loanID string, status Status, repaidAt *time.Time) error
	History(ctx context.Context, borrower string) ([]Record, error)
	Overdue(ctx context.Context, now time.Time) ([]Record, error)
	SetTxCount(ctx context.Context, borrower string, count int) error
	TxCount(ctx context.Context, borrower string) (int, bool, error)
}

type EventKind string

const (
	EventLoanApproved  EventKind = "LoanApproved"
	EventLoanRepaid    EventKind = "LoanRepaid"
	EventLoanDefaulted EventKind = "LoanDefaulted"
)

// Event is emitted after a loan changes state.
type Event struct {
	Kind   EventKind
	Record Record
}

// EventSink receives loan events. It must not block for long.
type EventSink interface {
	LoanEvent(ctx context.Context, e Event)
}

// Sinks fans an event out to every sink in order.
type Sinks []EventSink

func (s Sinks) LoanEvent(ctx context.Context, e Event) {
	for _, sink := range s {
		sink.LoanEvent(ctx, e)
	}
}
