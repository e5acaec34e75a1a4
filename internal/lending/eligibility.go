package lending

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Terms shared with the on-chain loan contract.
const (
	InterestRatePercent = 5
	LoanDuration        = 30 * 24 * time.Hour
	MinTxCount          = 10
)

var (
	MinBalance   = decimal.RequireFromString("0.5")
	InterestRate = decimal.New(InterestRatePercent, -2)
)

// Revert reasons, identical to the contract's require messages.
const (
	ReasonInsufficientBalance = "Insufficient balance for loan approval"
	ReasonCriteriaNotMet      = "Loan request denied - eligibility criteria not met"
	ReasonNoActiveLoan        = "No active loan found"
	ReasonNotOwner            = "Ownable: caller is not the owner"
	ReasonActiveLoanExists    = "Existing loan must be repaid first"
	ReasonInsufficientPayment = "Insufficient repayment amount"
	ReasonInvalidAmount       = "Loan amount must be greater than zero"
	ReasonInvalidTxCount      = "Transaction count must not be negative"
)

// ErrContractRevert matches every *RevertError.
var ErrContractRevert = errors.New("contract revert")

// RevertError is an expected business rejection with a fixed reason.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string { return e.Reason }

func (e *RevertError) Is(target error) bool { return target == ErrContractRevert }

func revert(reason string) error { return &RevertError{Reason: reason} }

// Application is the input to the eligibility predicate.
type Application struct {
	Balance          decimal.Decimal
	TransactionCount int
	Amount           decimal.Decimal
}

// Decision is the outcome of Evaluate. Reason is empty on approval.
type Decision struct {
	Approved bool
	Reason   string
}

// Evaluate applies the contract's checks in contract order: balance first,
// then transaction count.
func Evaluate(app Application) Decision {
	if app.Balance.LessThanOrEqual(MinBalance) {
		return Decision{Reason: ReasonInsufficientBalance}
	}
	if app.TransactionCount < MinTxCount {
		return Decision{Reason: ReasonCriteriaNotMet}
	}
	return Decision{Approved: true}
}

// AmountDue is principal plus the fixed interest.
func AmountDue(amount decimal.Decimal) decimal.Decimal {
	return amount.Add(amount.Mul(InterestRate))
}
