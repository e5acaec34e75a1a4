package signals

import (
	"time"

	"github.com/shopspring/decimal"
)

// Signals is the minimal observable input set for scoring an account.
type Signals struct {
	Address          string          `json:"address"`
	Balance          decimal.Decimal `json:"balance"`
	TransactionCount int             `json:"transactionCount"`
	LastActivity     time.Time       `json:"lastActivity"`
}

// BalanceString renders the balance the way API responses expect it, e.g. "2.5 ETH".
func (s Signals) BalanceString() string {
	return s.Balance.String() + " ETH"
}
