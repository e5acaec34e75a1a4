package signals

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// ErrUpstreamUnavailable is returned when a configured chain-data source fails.
var ErrUpstreamUnavailable = errors.New("wallet data source unavailable")

// Store is the persistence the provider reads from and seeds.
type Store interface {
	Lookup(ctx context.Context, address string) (Signals, bool, error)
	// CreateIfAbsent persists s unless a record already exists, and returns
	// whichever record is stored afterwards.
	CreateIfAbsent(ctx context.Context, s Signals) (Signals, error)
}

// Source fetches signals for an address from an external system.
type Source interface {
	Fetch(ctx context.Context, address string) (Signals, error)
}

// Provider resolves signals for an address: stored record first, then the
// upstream source if one is configured, then a synthesized record.
type Provider struct {
	store  Store
	source Source
	logger *slog.Logger
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	group singleflight.Group
}

// Option configures a Provider.
type Option func(*Provider)

// WithSource routes unknown addresses to src instead of synthesizing.
func WithSource(src Source) Option {
	return func(p *Provider) { p.source = src }
}

// WithRand replaces the randomness used for synthesis.
func WithRand(r *rand.Rand) Option {
	return func(p *Provider) { p.rng = r }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(p *Provider) { p.now = now }
}

// NewProvider builds a Provider over store.
func NewProvider(store Store, logger *slog.Logger, opts ...Option) *Provider {
	p := &Provider{
		store:  store,
		logger: logger,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch returns the signals for a normalized address. Concurrent first-sight
// calls for the same address share one resolution.
func (p *Provider) Fetch(ctx context.Context, address string) (Signals, error) {
	stored, ok, err := p.store.Lookup(ctx, address)
	if err != nil {
		return Signals{}, fmt.Errorf("lookup signals: %w", err)
	}
	if ok {
		return stored, nil
	}

	v, err, _ := p.group.Do(address, func() (any, error) {
		return p.resolve(ctx, address)
	})
	if err != nil {
		return Signals{}, err
	}
	return v.(Signals), nil
}

func (p *Provider) resolve(ctx context.Context, address string) (Signals, error) {
	var fresh Signals
	if p.source != nil {
		fetched, err := p.source.Fetch(ctx, address)
		if err != nil {
			return Signals{}, err
		}
		fresh = fetched
		fresh.Address = address
	} else {
		fresh = p.Synthesize(address)
	}

	saved, err := p.store.CreateIfAbsent(ctx, fresh)
	if err != nil {
		return Signals{}, fmt.Errorf("persist signals: %w", err)
	}
	p.logger.Debug("signals created",
		slog.String("wallet", address),
		slog.String("balance", saved.Balance.String()),
		slog.Int("transaction_count", saved.TransactionCount))
	return saved, nil
}

// Synthesize produces plausible placeholder signals: a balance in [0, 3)
// rounded to two decimals and between 1 and 30 transactions.
func (p *Provider) Synthesize(address string) Signals {
	p.rngMu.Lock()
	bal := p.rng.Float64() * 3
	tx := p.rng.Intn(30) + 1
	p.rngMu.Unlock()

	return Signals{
		Address:          address,
		Balance:          decimal.NewFromFloat(bal).Round(2),
		TransactionCount: tx,
		LastActivity:     p.now().UTC(),
	}
}

// DemoWallets are the fixed demonstration accounts seeded in development.
func DemoWallets() []Signals {
	day := func(s string) time.Time {
		t, _ := time.Parse("2006-01-02", s)
		return t
	}
	return []Signals{
		{Address: "0x742d35cc6634c0532925a3b8d4c9db96c4b4d8b6", Balance: decimal.RequireFromString("2.5"), TransactionCount: 25, LastActivity: day("2024-01-15")},
		{Address: "0x1234567890123456789012345678901234567890", Balance: decimal.RequireFromString("0.8"), TransactionCount: 8, LastActivity: day("2024-01-10")},
		{Address: "0x0987654321098765432109876543210987654321", Balance: decimal.RequireFromString("0.1"), TransactionCount: 3, LastActivity: day("2024-01-05")},
	}
}

// Seed stores every demo wallet that is not present yet.
func Seed(ctx context.Context, store Store, wallets []Signals) error {
	for _, w := range wallets {
		if _, err := store.CreateIfAbsent(ctx, w); err != nil {
			return fmt.Errorf("seed %s: %w", w.Address, err)
		}
	}
	return nil
}
