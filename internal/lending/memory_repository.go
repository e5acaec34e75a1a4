package lending

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	loans    map[string]Record
	active   map[string]string
	txCounts map[string]int
}

// NewMemoryRepository constructs an in-memory repository for tests and dev runs.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		loans:    make(map[string]Record),
		active:   make(map[string]string),
		txCounts: make(map[string]int),
	}
}

func (r *memoryRepository) Insert(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.loans[rec.LoanID]; exists {
		return errors.New("loan exists")
	}
	if rec.Status == StatusActive {
		if _, busy := r.active[rec.Borrower]; busy {
			return ErrActiveLoanExists
		}
		r.active[rec.Borrower] = rec.LoanID
	}
	r.loans[rec.LoanID] = rec
	return nil
}

func (r *memoryRepository) Active(_ context.Context, borrower string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.active[borrower]
	if !ok {
		return Record{}, ErrNoActiveLoan
	}
	return r.loans[id], nil
}

func (r *memoryRepository) UpdateStatus(_ context.Context, loanID string, status Status, repaidAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.loans[loanID]
	if !ok || rec.Status != StatusActive {
		return ErrNoActiveLoan
	}
	rec.Status = status
	rec.RepaidAt = repaidAt
	r.loans[loanID] = rec
	if status != StatusActive {
		delete(r.active, rec.Borrower)
	}
	return nil
}

func (r *memoryRepository) History(_ context.Context, borrower string) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, rec := range r.loans {
		if rec.Borrower == borrower {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) Overdue(_ context.Context, now time.Time) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	for _, id := range r.active {
		rec := r.loans[id]
		if rec.DueDate.Before(now) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(out[j].DueDate) })
	return out, nil
}

func (r *memoryRepository) SetTxCount(_ context.Context, borrower string, count int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txCounts[borrower] = count
	return nil
}

func (r *memoryRepository) TxCount(_ context.Context, borrower string) (int, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count, ok := r.txCounts[borrower]
	return count, ok, nil
}
