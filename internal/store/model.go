package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/credora/credora/internal/scoring"
	"github.com/credora/credora/internal/signals"
)

// ErrNotFound is returned when no record exists for an address.
var ErrNotFound = errors.New("wallet record not found")

// Record is the stored document for one address.
type Record struct {
	signals.Signals
	LastScore *scoring.Result `json:"lastScore,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Patch carries the fields an upsert should overwrite. Nil fields are kept.
type Patch struct {
	Balance          *decimal.Decimal
	TransactionCount *int
	LastActivity     *time.Time
	LastScore        *scoring.Result
}

func (p Patch) apply(r *Record) {
	if p.Balance != nil {
		r.Balance = *p.Balance
	}
	if p.TransactionCount != nil {
		r.TransactionCount = *p.TransactionCount
	}
	if p.LastActivity != nil {
		r.LastActivity = *p.LastActivity
	}
	if p.LastScore != nil {
		score := *p.LastScore
		r.LastScore = &score
	}
}

// Transaction is one observed on-chain transfer for an address.
type Transaction struct {
	Hash        string    `json:"hash"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       string    `json:"value"`
	Timestamp   time.Time `json:"timestamp"`
	BlockNumber uint64    `json:"blockNumber"`
	GasUsed     string    `json:"gasUsed,omitempty"`
	GasPrice    string    `json:"gasPrice,omitempty"`
}

// Store persists per-address records. Writes are last-write-wins unless noted.
type Store interface {
	Get(ctx context.Context, address string) (Record, error)
	// Create inserts rec unless the address exists. It returns the stored
	// record and whether rec was the one inserted.
	Create(ctx context.Context, rec Record) (Record, bool, error)
	Upsert(ctx context.Context, address string, patch Patch) (Record, error)
	Delete(ctx context.Context, address string) (bool, error)
	AppendTransaction(ctx context.Context, address string, tx Transaction) error
	Transactions(ctx context.Context, address string) ([]Transaction, error)
}

// SignalStore exposes a Store to the signal provider.
func SignalStore(s Store) signals.Store {
	return signalAdapter{s: s}
}

type signalAdapter struct {
	s Store
}

func (a signalAdapter) Lookup(ctx context.Context, address string) (signals.Signals, bool, error) {
	rec, err := a.s.Get(ctx, address)
	if errors.Is(err, ErrNotFound) {
		return signals.Signals{}, false, nil
	}
	if err != nil {
		return signals.Signals{}, false, err
	}
	return rec.Signals, true, nil
}

func (a signalAdapter) CreateIfAbsent(ctx context.Context, s signals.Signals) (signals.Signals, error) {
	rec, _, err := a.s.Create(ctx, Record{Signals: s})
	if err != nil {
		return signals.Signals{}, err
	}
	return rec.Signals, nil
}
