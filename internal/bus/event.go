package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credora/credora/internal/scoring"
)

// Family scopes a channel key.
type Family string

const (
	FamilyCreditScore Family = "credit_score"
	FamilyTransaction Family = "transaction"
	FamilyLending     Family = "lending"
)

// EventType names the payload carried by an Event.
type EventType string

const (
	TypeCreditScoreUpdate EventType = "credit_score_update"
	TypeTransactionUpdate EventType = "transaction_update"
	TypeLendingUpdate     EventType = "lending_update"
)

// Family returns the channel family an event type is routed to.
func (t EventType) Family() (Family, bool) {
	switch t {
	case TypeCreditScoreUpdate:
		return FamilyCreditScore, true
	case TypeTransactionUpdate:
		return FamilyTransaction, true
	case TypeLendingUpdate:
		return FamilyLending, true
	default:
		return "", false
	}
}

// ParseFamily accepts the three channel families.
func ParseFamily(s string) (Family, error) {
	switch Family(s) {
	case FamilyCreditScore, FamilyTransaction, FamilyLending:
		return Family(s), nil
	default:
		return "", fmt.Errorf("unknown event family %q", s)
	}
}

// Key composes the channel key for an address, e.g. "credit_score:0xabc...".
func Key(f Family, address string) string {
	return string(f) + ":" + address
}

// Event is the envelope delivered to subscribers.
type Event struct {
	Type      EventType         `json:"type"`
	Wallet    string            `json:"wallet"`
	Timestamp time.Time         `json:"timestamp"`
	Data      any               `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ScoreUpdate is the data of a credit_score_update event.
type ScoreUpdate struct {
	CreditScore  *int             `json:"creditScore,omitempty"`
	RiskLevel    scoring.Tier     `json:"riskLevel"`
	Confidence   float64          `json:"confidence"`
	Factors      []scoring.Factor `json:"factors"`
	ModelVersion string           `json:"modelVersion"`
}

// TransactionUpdate is the data of a transaction_update event.
type TransactionUpdate struct {
	Hash        string `json:"hash"`
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	BlockNumber uint64 `json:"blockNumber"`
}

// LendingUpdate is the data of a lending_update event.
type LendingUpdate struct {
	LoanID string          `json:"loanId"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
	Action string          `json:"action"`
}

func decodeData(t EventType, raw json.RawMessage) (any, error) {
	var err error
	switch t {
	case TypeCreditScoreUpdate:
		var d ScoreUpdate
		err = json.Unmarshal(raw, &d)
		return d, err
	case TypeTransactionUpdate:
		var d TransactionUpdate
		err = json.Unmarshal(raw, &d)
		return d, err
	case TypeLendingUpdate:
		var d LendingUpdate
		err = json.Unmarshal(raw, &d)
		return d, err
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
