package lending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credora/credora/internal/logging"
	"github.com/credora/credora/internal/signals"
)

const (
	owner    = "0x00000000000000000000000000000000000000aa"
	borrower = "0x1234567890123456789012345678901234567890"
	stranger = "0x0987654321098765432109876543210987654321"
)

type staticLookup map[string]signals.Signals

func (l staticLookup) Fetch(_ context.Context, address string) (signals.Signals, error) {
	sig, ok := l[address]
	if !ok {
		return signals.Signals{}, signals.ErrUpstreamUnavailable
	}
	return sig, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) LoanEvent(_ context.Context, e Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decp(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func newService(t *testing.T, lookup staticLookup) (*Service, *eventLog) {
	t.Helper()
	svc := NewService(NewMemoryRepository(), lookup, owner, logging.Discard())
	events := &eventLog{}
	svc.SetSink(events)
	return svc, events
}

func assertRevert(t *testing.T, err error, reason string) {
	t.Helper()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrContractRevert)
	var rev *RevertError
	require.True(t, errors.As(err, &rev))
	assert.Equal(t, reason, rev.Reason)
}

func TestEvaluate(t *testing.T) {
	cases := []struct {
		name    string
		balance string
		txCount int
		reason  string
	}{
		{"low balance", "0.1", 20, ReasonInsufficientBalance},
		{"balance at minimum", "0.5", 20, ReasonInsufficientBalance},
		{"too few transactions", "1", 9, ReasonCriteriaNotMet},
		{"balance checked first", "0.2", 0, ReasonInsufficientBalance},
		{"eligible", "0.51", 10, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Evaluate(Application{Balance: dec(tc.balance), TransactionCount: tc.txCount, Amount: dec("1")})
			assert.Equal(t, tc.reason == "", d.Approved)
			assert.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestAmountDue(t *testing.T) {
	assert.True(t, AmountDue(dec("1")).Equal(dec("1.05")))
	assert.True(t, AmountDue(dec("0.2")).Equal(dec("0.21")))
}

func TestRequestLoanUsesOverrideCount(t *testing.T) {
	svc, events := newService(t, staticLookup{
		borrower: {Address: borrower, Balance: dec("2"), TransactionCount: 3},
	})
	ctx := context.Background()

	_, err := svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("1"), Value: decp("1")})
	assertRevert(t, err, ReasonCriteriaNotMet)

	require.NoError(t, svc.SetBorrowerTxCount(ctx, owner, borrower, 15))
	rec, err := svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("1"), Value: decp("1")})
	require.NoError(t, err)
	assert.Equal(t, StatusActive, rec.Status)
	assert.Equal(t, LoanDuration, rec.DueDate.Sub(rec.CreatedAt))
	assert.True(t, rec.InterestRate.Equal(dec("0.05")))
	assert.Equal(t, []EventKind{EventLoanApproved}, events.kinds())
}

func TestRequestLoanFallsBackToSignals(t *testing.T) {
	svc, _ := newService(t, staticLookup{
		borrower: {Address: borrower, Balance: dec("0.8"), TransactionCount: 12},
		stranger: {Address: stranger, Balance: dec("0.1"), TransactionCount: 50},
	})
	ctx := context.Background()

	_, err := svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("0.3")})
	require.NoError(t, err)

	_, err = svc.RequestLoan(ctx, LoanRequest{Borrower: stranger, Amount: dec("0.3")})
	assertRevert(t, err, ReasonInsufficientBalance)
}

func TestRequestLoanRejectsSecondActiveLoan(t *testing.T) {
	svc, _ := newService(t, staticLookup{})
	ctx := context.Background()
	require.NoError(t, svc.SetBorrowerTxCount(ctx, owner, borrower, 10))

	_, err := svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("1"), Value: decp("1")})
	require.NoError(t, err)
	_, err = svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("1"), Value: decp("1")})
	assertRevert(t, err, ReasonActiveLoanExists)
}

func TestRequestLoanRejectsNonPositiveAmount(t *testing.T) {
	svc, _ := newService(t, staticLookup{})
	_, err := svc.RequestLoan(context.Background(), LoanRequest{Borrower: borrower, Amount: decimal.Zero})
	assertRevert(t, err, ReasonInvalidAmount)
}

func TestRequestLoanSurfacesLookupFailure(t *testing.T) {
	svc, _ := newService(t, staticLookup{})
	_, err := svc.RequestLoan(context.Background(), LoanRequest{Borrower: borrower, Amount: dec("1")})
	assert.ErrorIs(t, err, signals.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, ErrContractRevert)
}

func TestRepayLoan(t *testing.T) {
	svc, events := newService(t, staticLookup{})
	ctx := context.Background()

	_, err := svc.RepayLoan(ctx, borrower, dec("10"))
	assertRevert(t, err, ReasonNoActiveLoan)

	require.NoError(t, svc.SetBorrowerTxCount(ctx, owner, borrower, 10))
	_, err = svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("1"), Value: decp("1")})
	require.NoError(t, err)

	_, err = svc.RepayLoan(ctx, stranger, dec("1.05"))
	assertRevert(t, err, ReasonNoActiveLoan)

	_, err = svc.RepayLoan(ctx, borrower, dec("1.04"))
	assertRevert(t, err, ReasonInsufficientPayment)

	rec, err := svc.RepayLoan(ctx, borrower, dec("1.05"))
	require.NoError(t, err)
	assert.Equal(t, StatusRepaid, rec.Status)
	require.NotNil(t, rec.RepaidAt)

	info, err := svc.LoanInfo(ctx, borrower)
	require.NoError(t, err)
	assert.False(t, info.Exists)

	history, err := svc.History(ctx, borrower)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusRepaid, history[0].Status)

	assert.Equal(t, []EventKind{EventLoanApproved, EventLoanRepaid}, events.kinds())
}

func TestSetBorrowerTxCountIsOwnerOnly(t *testing.T) {
	svc, _ := newService(t, staticLookup{})
	ctx := context.Background()

	assertRevert(t, svc.SetBorrowerTxCount(ctx, stranger, borrower, 12), ReasonNotOwner)
	assertRevert(t, svc.SetBorrowerTxCount(ctx, owner, borrower, -1), ReasonInvalidTxCount)

	require.NoError(t, svc.SetBorrowerTxCount(ctx, owner, borrower, 12))
	count, err := svc.BorrowerTxCount(ctx, borrower)
	require.NoError(t, err)
	assert.Equal(t, 12, count)
}

func TestLoanInfo(t *testing.T) {
	svc, _ := newService(t, staticLookup{})
	ctx := context.Background()
	require.NoError(t, svc.SetBorrowerTxCount(ctx, owner, borrower, 11))
	rec, err := svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("2"), Value: decp("3")})
	require.NoError(t, err)

	info, err := svc.LoanInfo(ctx, borrower)
	require.NoError(t, err)
	require.True(t, info.Exists)
	assert.Equal(t, rec.LoanID, info.Loan.LoanID)
	assert.True(t, info.AmountDue.Equal(dec("2.1")))
}

func TestSweepOverdue(t *testing.T) {
	svc, events := newService(t, staticLookup{})
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := start
	svc.SetClock(func() time.Time { return now })

	require.NoError(t, svc.SetBorrowerTxCount(ctx, owner, borrower, 10))
	_, err := svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("1"), Value: decp("1")})
	require.NoError(t, err)

	swept, err := svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)

	now = start.Add(LoanDuration + time.Minute)
	swept, err = svc.SweepOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	_, err = svc.RepayLoan(ctx, borrower, dec("2"))
	assertRevert(t, err, ReasonNoActiveLoan)

	history, err := svc.History(ctx, borrower)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, StatusDefaulted, history[0].Status)
	assert.Equal(t, []EventKind{EventLoanApproved, EventLoanDefaulted}, events.kinds())

	// a defaulted borrower may borrow again
	_, err = svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("1"), Value: decp("1")})
	assert.NoError(t, err)
}

func TestConcurrentRequestsOpenOneLoan(t *testing.T) {
	svc, _ := newService(t, staticLookup{})
	ctx := context.Background()
	require.NoError(t, svc.SetBorrowerTxCount(ctx, owner, borrower, 10))

	var wg sync.WaitGroup
	var mu sync.Mutex
	approved := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestLoan(ctx, LoanRequest{Borrower: borrower, Amount: dec("1"), Value: decp("1")})
			if err == nil {
				mu.Lock()
				approved++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, approved)
}
