package lending

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credora/credora/internal/signals"
)

// SignalLookup supplies wallet signals when no override or explicit value is given.
type SignalLookup interface {
	Fetch(ctx context.Context, address string) (signals.Signals, error)
}

// Service mirrors the loan contract: eligibility, single active loan per
// borrower, repayment with fixed interest and owner-only administration.
// Addresses are expected in normalized lowercase form.
type Service struct {
	repo    Repository
	signals SignalLookup
	owner   string
	logger  *slog.Logger
	now     func() time.Time

	mu   sync.RWMutex
	sink EventSink
}

// NewService builds a loan book. owner is the address allowed to set
// borrower transaction counts; an empty owner disables administration.
func NewService(repo Repository, lookup SignalLookup, owner string, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		signals: lookup,
		owner:   owner,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetSink installs the receiver of loan events.
func (s *Service) SetSink(sink EventSink) {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Owner returns the administrator address.
func (s *Service) Owner() string { return s.owner }

// LoanRequest carries a loan application. Value is the balance presented with
// the request; when nil the borrower's current signal balance is used.
type LoanRequest struct {
	Borrower string
	Amount   decimal.Decimal
	Value    *decimal.Decimal
}

// RequestLoan evaluates eligibility and opens a loan on approval.
func (s *Service) RequestLoan(ctx context.Context, req LoanRequest) (Record, error) {
	if !req.Amount.IsPositive() {
		return Record{}, revert(ReasonInvalidAmount)
	}

	if _, err := s.repo.Active(ctx, req.Borrower); err == nil {
		return Record{}, revert(ReasonActiveLoanExists)
	} else if !errors.Is(err, ErrNoActiveLoan) {
		return Record{}, fmt.Errorf("load active loan: %w", err)
	}

	app, err := s.application(ctx, req)
	if err != nil {
		return Record{}, err
	}
	decision := Evaluate(app)
	if !decision.Approved {
		s.logger.Info("loan denied", slog.String("borrower", req.Borrower), slog.String("reason", decision.Reason))
		return Record{}, revert(decision.Reason)
	}

	now := s.now()
	rec := Record{
		LoanID:       uuid.NewString(),
		Borrower:     req.Borrower,
		Amount:       req.Amount,
		InterestRate: InterestRate,
		Status:       StatusActive,
		CreatedAt:    now,
		DueDate:      now.Add(LoanDuration),
	}
	if err := s.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrActiveLoanExists) {
			return Record{}, revert(ReasonActiveLoanExists)
		}
		return Record{}, fmt.Errorf("insert loan: %w", err)
	}

	s.logger.Info("loan approved", slog.String("borrower", rec.Borrower), slog.String("loan_id", rec.LoanID), slog.String("amount", rec.Amount.String()))
	s.emit(ctx, Event{Kind: EventLoanApproved, Record: rec})
	return rec, nil
}

func (s *Service) application(ctx context.Context, req LoanRequest) (Application, error) {
	app := Application{Amount: req.Amount}

	count, overridden, err := s.repo.TxCount(ctx, req.Borrower)
	if err != nil {
		return Application{}, fmt.Errorf("load tx count: %w", err)
	}
	app.TransactionCount = count

	if req.Value != nil && overridden {
		app.Balance = *req.Value
		return app, nil
	}

	sig, err := s.signals.Fetch(ctx, req.Borrower)
	if err != nil {
		return Application{}, err
	}
	if !overridden {
		app.TransactionCount = sig.TransactionCount
	}
	if req.Value != nil {
		app.Balance = *req.Value
	} else {
		app.Balance = sig.Balance
	}
	return app, nil
}

// RepayLoan closes the caller's active loan when value covers principal plus interest.
func (s *Service) RepayLoan(ctx context.Context, caller string, value decimal.Decimal) (Record, error) {
	rec, err := s.repo.Active(ctx, caller)
	if errors.Is(err, ErrNoActiveLoan) {
		return Record{}, revert(ReasonNoActiveLoan)
	}
	if err != nil {
		return Record{}, fmt.Errorf("load active loan: %w", err)
	}
	if value.LessThan(rec.AmountDue()) {
		return Record{}, revert(ReasonInsufficientPayment)
	}

	repaidAt := s.now()
	if err := s.repo.UpdateStatus(ctx, rec.LoanID, StatusRepaid, &repaidAt); err != nil {
		if errors.Is(err, ErrNoActiveLoan) {
			return Record{}, revert(ReasonNoActiveLoan)
		}
		return Record{}, fmt.Errorf("close loan: %w", err)
	}
	rec.Status = StatusRepaid
	rec.RepaidAt = &repaidAt

	s.emit(ctx, Event{Kind: EventLoanRepaid, Record: rec})
	return rec, nil
}

// SetBorrowerTxCount records a transaction count used for eligibility. Only
// the owner may call it.
func (s *Service) SetBorrowerTxCount(ctx context.Context, caller, borrower string, count int) error {
	if s.owner == "" || caller != s.owner {
		return revert(ReasonNotOwner)
	}
	if count < 0 {
		return revert(ReasonInvalidTxCount)
	}
	if err := s.repo.SetTxCount(ctx, borrower, count); err != nil {
		return fmt.Errorf("store tx count: %w", err)
	}
	return nil
}

// BorrowerTxCount returns the owner-set count, zero when never set.
func (s *Service) BorrowerTxCount(ctx context.Context, borrower string) (int, error) {
	count, _, err := s.repo.TxCount(ctx, borrower)
	return count, err
}

// LoanInfo describes a borrower's active loan.
type LoanInfo struct {
	Exists    bool            `json:"exists"`
	Loan      *Record         `json:"loan,omitempty"`
	AmountDue decimal.Decimal `json:"amountDue"`
}

// LoanInfo returns the active loan of borrower, if any.
func (s *Service) LoanInfo(ctx context.Context, borrower string) (LoanInfo, error) {
	rec, err := s.repo.Active(ctx, borrower)
	if errors.Is(err, ErrNoActiveLoan) {
		return LoanInfo{}, nil
	}
	if err != nil {
		return LoanInfo{}, err
	}
	return LoanInfo{Exists: true, Loan: &rec, AmountDue: rec.AmountDue()}, nil
}

// History lists every loan the borrower ever held.
func (s *Service) History(ctx context.Context, borrower string) ([]Record, error) {
	return s.repo.History(ctx, borrower)
}

// SweepOverdue marks active loans past due as defaulted and returns how many changed.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	overdue, err := s.repo.Overdue(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list overdue loans: %w", err)
	}
	swept := 0
	for _, rec := range overdue {
		if err := s.repo.UpdateStatus(ctx, rec.LoanID, StatusDefaulted, nil); err != nil {
			if errors.Is(err, ErrNoActiveLoan) {
				continue
			}
			return swept, fmt.Errorf("default loan %s: %w", rec.LoanID, err)
		}
		rec.Status = StatusDefaulted
		swept++
		s.logger.Warn("loan defaulted", slog.String("borrower", rec.Borrower), slog.String("loan_id", rec.LoanID))
		s.emit(ctx, Event{Kind: EventLoanDefaulted, Record: rec})
	}
	return swept, nil
}

func (s *Service) emit(ctx context.Context, e Event) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if sink != nil {
		sink.LoanEvent(ctx, e)
	}
}
