package credit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/credora/credora/internal/address"
	"github.com/credora/credora/internal/audit"
	"github.com/credora/credora/internal/bus"
	"github.com/credora/credora/internal/lending"
	"github.com/credora/credora/internal/scoring"
	"github.com/credora/credora/internal/signals"
	"github.com/credora/credora/internal/store"
)

var (
	// ErrBusUnavailable is returned when the update pipeline is not connected.
	ErrBusUnavailable = errors.New("update pipeline unavailable")
	// ErrPersistence wraps store write failures.
	ErrPersistence = errors.New("failed to persist wallet record")
	// ErrInvalidBalance rejects negative balances.
	ErrInvalidBalance = errors.New("balance must not be negative")
)

// MaxBatch bounds GetScores.
const MaxBatch = 25

const batchConcurrency = 4

// SignalFetcher resolves wallet signals, creating them on first sight.
type SignalFetcher interface {
	Fetch(ctx context.Context, address string) (signals.Signals, error)
}

// Pipeline is the update bus as seen by the service.
type Pipeline interface {
	Initialize(ctx context.Context) error
	Disconnect()
	Connected() bool
	Publish(ctx context.Context, key string, e bus.Event) error
	Subscribe(key string, h bus.Handler) func()
	SubscriberCount() int
}

// Service orchestrates scoring: signals, classification, persistence,
// publication and audit.
type Service struct {
	signals SignalFetcher
	engine  scoring.Engine
	store   store.Store
	bus     Pipeline
	audit   audit.Recorder
	logger  *slog.Logger
	now     func() time.Time
	locks   *keyedMutex

	mu          sync.RWMutex
	initialized bool
	onErase     func(wallet string)
}

// NewService wires the orchestrator. A nil recorder disables auditing.
func NewService(fetcher SignalFetcher, engine scoring.Engine, st store.Store, pipeline Pipeline, rec audit.Recorder, logger *slog.Logger) *Service {
	if rec == nil {
		rec = audit.Noop{}
	}
	return &Service{
		signals: fetcher,
		engine:  engine,
		store:   st,
		bus:     pipeline,
		audit:   rec,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   newKeyedMutex(),
	}
}

// Initialize connects the update pipeline.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.bus.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize pipeline: %w", err)
	}
	s.mu.Lock()
	s.initialized = true
	s.mu.Unlock()
	s.logger.Info("credit scoring service initialized", slog.String("mode", s.engine.Mode()))
	return nil
}

// Shutdown disconnects the pipeline and drops all subscriptions.
func (s *Service) Shutdown() {
	s.bus.Disconnect()
	s.mu.Lock()
	s.initialized = false
	s.mu.Unlock()
}

// Status reports whether the service is ready to publish.
func (s *Service) Status() Status {
	s.mu.RLock()
	initialized := s.initialized
	s.mu.RUnlock()
	return Status{
		Initialized:       initialized,
		PipelineConnected: s.bus.Connected(),
		SubscriberCount:   s.bus.SubscriberCount(),
	}
}

// Mode is the scoring engine mode.
func (s *Service) Mode() string { return s.engine.Mode() }

// GetScore scores wallet, persists the result and publishes a
// credit_score_update. It runs to completion even if ctx is cancelled.
func (s *Service) GetScore(ctx context.Context, wallet string) (ScoreResponse, error) {
	return s.score(ctx, wallet, false)
}

func (s *Service) score(ctx context.Context, wallet string, existingOnly bool) (ScoreResponse, error) {
	key, err := address.Normalize(wallet)
	if err != nil {
		return ScoreResponse{}, err
	}
	ctx = context.WithoutCancel(ctx)

	if !s.bus.Connected() {
		return ScoreResponse{}, ErrBusUnavailable
	}

	// Erase and the other writers hold the same lock, so a record deleted
	// mid-score is not resurrected by the upsert below.
	unlock := s.locks.Lock(key)
	defer unlock()

	if existingOnly {
		if _, err := s.store.Get(ctx, key); err != nil {
			return ScoreResponse{}, err
		}
	}

	sig, err := s.signals.Fetch(ctx, key)
	if err != nil {
		return ScoreResponse{}, fmt.Errorf("fetch signals: %w", err)
	}

	result, err := s.engine.Classify(ctx, sig)
	if err != nil {
		return ScoreResponse{}, fmt.Errorf("classify: %w", err)
	}

	if _, err := s.store.Upsert(ctx, key, store.Patch{LastScore: &result}); err != nil {
		s.logger.Error("persist score", slog.String("wallet", key), slog.Any("error", err))
		return ScoreResponse{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	now := s.now()
	event := bus.Event{
		Type:      bus.TypeCreditScoreUpdate,
		Wallet:    key,
		Timestamp: now,
		Data: bus.ScoreUpdate{
			CreditScore:  result.NumericScore,
			RiskLevel:    result.Tier,
			Confidence:   result.Confidence,
			Factors:      result.Factors,
			ModelVersion: result.ModelVersion,
		},
		Metadata: map[string]string{"source": "credit_scoring_service", "mode": s.engine.Mode()},
	}
	if err := s.publish(ctx, bus.FamilyCreditScore, event); err != nil {
		return ScoreResponse{}, err
	}

	s.record(ctx, audit.Entry{
		Kind:         audit.KindScore,
		Wallet:       key,
		Tier:         string(result.Tier),
		NumericScore: result.NumericScore,
		ModelVersion: result.ModelVersion,
		Timestamp:    now,
	})

	var creditScore any = string(result.Tier)
	if result.NumericScore != nil {
		creditScore = *result.NumericScore
	}
	return ScoreResponse{
		Wallet:       wallet,
		CreditScore:  creditScore,
		RiskLevel:    result.Tier,
		Confidence:   result.Confidence,
		Factors:      result.Factors,
		WalletData:   WalletData{Balance: sig.BalanceString(), TransactionCount: sig.TransactionCount, LastActivity: sig.LastActivity},
		Timestamp:    now,
		ModelVersion: result.ModelVersion,
	}, nil
}

// Refresh rescores address. The refresh scheduler calls it. Wallets without
// a stored record, such as erased ones, are skipped rather than recreated.
func (s *Service) Refresh(ctx context.Context, address string) error {
	_, err := s.score(ctx, address, true)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("auto-refresh skipped, wallet has no record", slog.String("wallet", address))
		return nil
	}
	return err
}

// GetScores scores each wallet independently. Failures are reported per item.
func (s *Service) GetScores(ctx context.Context, wallets []string) ([]BatchItem, error) {
	if len(wallets) > MaxBatch {
		return nil, fmt.Errorf("at most %d wallets per batch", MaxBatch)
	}
	items := make([]BatchItem, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchConcurrency)
	for i, w := range wallets {
		i, w := i, w
		g.Go(func() error {
			items[i].Wallet = w
			resp, err := s.GetScore(gctx, w)
			if err != nil {
				items[i].Error = err.Error()
				return nil
			}
			items[i].Score = &resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

// RecordTransaction appends tx to the wallet's log, bumps its transaction
// count and last activity, and publishes a transaction_update.
func (s *Service) RecordTransaction(ctx context.Context, wallet string, tx store.Transaction) (store.Record, error) {
	key, err := address.Normalize(wallet)
	if err != nil {
		return store.Record{}, err
	}
	if !s.bus.Connected() {
		return store.Record{}, ErrBusUnavailable
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	sig, err := s.signals.Fetch(ctx, key)
	if err != nil {
		return store.Record{}, fmt.Errorf("fetch signals: %w", err)
	}

	if tx.Timestamp.IsZero() {
		tx.Timestamp = s.now()
	}
	count := sig.TransactionCount + 1
	activity := tx.Timestamp.UTC()
	rec, err := s.store.Upsert(ctx, key, store.Patch{TransactionCount: &count, LastActivity: &activity})
	if err != nil {
		return store.Record{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if err := s.store.AppendTransaction(ctx, key, tx); err != nil {
		// put the counters back so they keep matching the log
		prevCount, prevActivity := sig.TransactionCount, sig.LastActivity
		if _, rerr := s.store.Upsert(ctx, key, store.Patch{TransactionCount: &prevCount, LastActivity: &prevActivity}); rerr != nil {
			s.logger.Error("restore transaction count", slog.String("wallet", key), slog.Any("error", rerr))
		}
		return store.Record{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}

	event := bus.Event{
		Type:      bus.TypeTransactionUpdate,
		Wallet:    key,
		Timestamp: s.now(),
		Data: bus.TransactionUpdate{
			Hash:        tx.Hash,
			From:        tx.From,
			To:          tx.To,
			Value:       tx.Value,
			BlockNumber: tx.BlockNumber,
		},
		Metadata: map[string]string{"source": "transaction_monitor"},
	}
	if err := s.publish(ctx, bus.FamilyTransaction, event); err != nil {
		return store.Record{}, err
	}

	s.record(ctx, audit.Entry{Kind: audit.KindTransaction, Wallet: key, Timestamp: event.Timestamp, Detail: tx.Hash})
	return rec, nil
}

// Transactions returns the wallet's transaction log, oldest first.
func (s *Service) Transactions(ctx context.Context, wallet string) ([]store.Transaction, error) {
	key, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	return s.store.Transactions(ctx, key)
}

// UpdateBalance overwrites the balance of an existing record.
func (s *Service) UpdateBalance(ctx context.Context, wallet string, balance decimal.Decimal) (store.Record, error) {
	key, err := address.Normalize(wallet)
	if err != nil {
		return store.Record{}, err
	}
	if balance.IsNegative() {
		return store.Record{}, ErrInvalidBalance
	}

	unlock := s.locks.Lock(key)
	defer unlock()

	if _, err := s.store.Get(ctx, key); err != nil {
		return store.Record{}, err
	}
	rec, err := s.store.Upsert(ctx, key, store.Patch{Balance: &balance})
	if err != nil {
		return store.Record{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return rec, nil
}

// RecordLending publishes a lending_update for a loan record. The action is
// derived from the loan status.
func (s *Service) RecordLending(ctx context.Context, wallet string, loan lending.Record) error {
	key, err := address.Normalize(wallet)
	if err != nil {
		return err
	}
	action := lendingAction(loan.Status)
	event := bus.Event{
		Type:      bus.TypeLendingUpdate,
		Wallet:    key,
		Timestamp: s.now(),
		Data: bus.LendingUpdate{
			LoanID: loan.LoanID,
			Status: string(loan.Status),
			Amount: loan.Amount,
			Action: action,
		},
		Metadata: map[string]string{"source": "lending_protocol"},
	}
	if err := s.publish(ctx, bus.FamilyLending, event); err != nil {
		return err
	}
	s.record(ctx, audit.Entry{Kind: audit.KindLending, Wallet: key, Timestamp: event.Timestamp, Detail: action + " " + loan.LoanID})
	return nil
}

// LoanEvent republishes loan book events on the bus.
func (s *Service) LoanEvent(ctx context.Context, e lending.Event) {
	if err := s.RecordLending(ctx, e.Record.Borrower, e.Record); err != nil {
		s.logger.Warn("publish lending update",
			slog.String("wallet", e.Record.Borrower),
			slog.String("event", string(e.Kind)),
			slog.Any("error", err))
	}
}

func lendingAction(status lending.Status) string {
	switch status {
	case lending.StatusRepaid:
		return "repaid"
	case lending.StatusDefaulted:
		return "defaulted"
	default:
		return "created"
	}
}

// Erase deletes everything stored for wallet and reports whether a record existed.
func (s *Service) Erase(ctx context.Context, wallet string) (bool, error) {
	key, err := address.Normalize(wallet)
	if err != nil {
		return false, err
	}
	unlock := s.locks.Lock(key)
	defer unlock()

	existed, err := s.store.Delete(ctx, key)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if existed {
		s.logger.Info("wallet data erased", slog.String("wallet", key))
	}
	s.mu.RLock()
	hook := s.onErase
	s.mu.RUnlock()
	if hook != nil {
		hook(key)
	}
	return existed, nil
}

// OnErase registers fn to run after every successful Erase with the
// normalized wallet key. The refresh scheduler uses it to drop watches.
func (s *Service) OnErase(fn func(wallet string)) {
	s.mu.Lock()
	s.onErase = fn
	s.mu.Unlock()
}

// Subscribe registers h for one family of events about wallet.
func (s *Service) Subscribe(family bus.Family, wallet string, h bus.Handler) (func(), error) {
	key, err := address.Normalize(wallet)
	if err != nil {
		return nil, err
	}
	return s.bus.Subscribe(bus.Key(family, key), h), nil
}

func (s *Service) publish(ctx context.Context, family bus.Family, e bus.Event) error {
	if err := s.bus.Publish(ctx, bus.Key(family, e.Wallet), e); err != nil {
		if errors.Is(err, bus.ErrNotConnected) {
			return ErrBusUnavailable
		}
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

func (s *Service) record(ctx context.Context, e audit.Entry) {
	if err := s.audit.Record(ctx, e); err != nil {
		s.logger.Warn("audit record failed", slog.String("wallet", e.Wallet), slog.String("kind", string(e.Kind)), slog.Any("error", err))
	}
}
