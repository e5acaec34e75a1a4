package routes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/credora/credora/internal/address"
	"github.com/credora/credora/internal/audit"
	"github.com/credora/credora/internal/bus"
	"github.com/credora/credora/internal/config"
	"github.com/credora/credora/internal/credit"
	"github.com/credora/credora/internal/lending"
	"github.com/credora/credora/internal/middleware"
	"github.com/credora/credora/internal/notification"
	"github.com/credora/credora/internal/refresh"
	"github.com/credora/credora/internal/scoring"
	"github.com/credora/credora/internal/signals"
	"github.com/credora/credora/internal/store"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// Runtime holds the background components started by Setup.
type Runtime struct {
	Credit    *credit.Service
	Loans     *lending.Service
	Scheduler *refresh.Scheduler

	relay *bus.RedisRelay
	audit audit.Recorder
}

// Shutdown stops the scheduler and the relay, disconnects the pipeline and
// closes the audit sink.
func (r *Runtime) Shutdown(ctx context.Context) error {
	var errs []error
	if err := r.Scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if r.relay != nil {
		r.relay.Stop()
	}
	r.Credit.Shutdown()
	if err := r.audit.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit sink: %w", err))
	}
	return errors.Join(errs...)
}

// Setup configures middlewares, builds the services and registers all
// application routes.
func Setup(app *fiber.App, d Deps) (*Runtime, error) {
	// Enforce DB/Redis presence outside of dev, even though config also checks.
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	ctx := context.Background()

	// Middlewares
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	rt, err := build(ctx, d)
	if err != nil {
		return nil, err
	}

	RegisterHealthRoutes(app, d, rt.Credit)
	RegisterMetaRoutes(app)

	scores := credit.NewHandler(rt.Credit, d.Logger)
	limit := middleware.RateLimit(d.Cache, "score", d.Cfg.ScoreRateLimit)
	app.Get("/getCreditScore", limit, scores.GetCreditScore)
	app.Post("/scores/batch", limit, scores.Batch)
	app.Get("/status", scores.Status)
	app.Get("/events", scores.Events)

	wallets := app.Group("/wallets")
	wallets.Post("/:address/transactions", scores.RecordTransaction)
	wallets.Get("/:address/transactions", scores.Transactions)
	wallets.Put("/:address/balance", scores.UpdateBalance)
	wallets.Delete("/:address", scores.Erase)

	loanHandler := lending.NewHandler(rt.Loans, d.Logger)
	var loanMW []fiber.Handler
	if d.Cache != nil {
		loanMW = append(loanMW, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	loans := app.Group("/loans", loanMW...)
	loans.Post("/", loanHandler.Request)
	loans.Post("/repay", loanHandler.Repay)
	loans.Get("/:borrower", loanHandler.Info)
	loans.Get("/:borrower/history", loanHandler.History)

	admin := app.Group("/admin", middleware.AdminToken(d.Cfg.AdminTokenHash))
	admin.Put("/borrowers/:address/tx-count", loanHandler.SetTxCount)

	RegisterWatcherRoutes(app, rt.Scheduler, rt.Credit, d.Cfg.RefreshInterval)

	app.Use(notFound)

	rt.Scheduler.Start()
	return rt, nil
}

func build(ctx context.Context, d Deps) (*Runtime, error) {
	owner := ""
	if d.Cfg.LoanOwner != "" {
		var err error
		if owner, err = address.Normalize(d.Cfg.LoanOwner); err != nil {
			return nil, fmt.Errorf("LOAN_OWNER_ADDRESS: %w", err)
		}
	}

	var st store.Store
	if d.Cache != nil {
		st = store.NewRedisStore(d.Cache)
	} else {
		st = store.NewMemoryStore()
	}

	var opts []signals.Option
	if d.Cfg.EtherscanAPIKey != "" {
		opts = append(opts, signals.WithSource(signals.NewEtherscanSource(d.Cfg.EtherscanURL, d.Cfg.EtherscanAPIKey, d.Cfg.EtherscanChainID)))
	}
	provider := signals.NewProvider(store.SignalStore(st), d.Logger, opts...)
	if d.Cfg.SeedDemoWallets {
		if err := signals.Seed(ctx, store.SignalStore(st), signals.DemoWallets()); err != nil {
			return nil, err
		}
	}

	engine, err := scoring.New(scoring.Options{
		Mode:             d.Cfg.ScoringMode,
		RulesFile:        d.Cfg.RulesFile,
		InferenceURL:     d.Cfg.InferenceURL,
		InferenceTimeout: d.Cfg.InferenceTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("build scoring engine: %w", err)
	}

	pipeline := bus.New(d.Logger)
	var relay *bus.RedisRelay
	if d.Cache != nil && d.Cfg.BusRelay {
		relay = bus.NewRedisRelay(d.Cache, pipeline, d.Logger)
		pipeline.SetForwarder(relay)
	}

	rec, err := audit.Open(d.Cfg.AuditSink, d.Cfg.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit sink: %w", err)
	}

	creditSvc := credit.NewService(provider, engine, st, pipeline, rec, d.Logger)
	if err := creditSvc.Initialize(ctx); err != nil {
		_ = rec.Close()
		return nil, err
	}
	if relay != nil {
		if err := relay.Start(ctx); err != nil {
			creditSvc.Shutdown()
			_ = rec.Close()
			return nil, fmt.Errorf("start bus relay: %w", err)
		}
	}

	var loanRepo lending.Repository
	if d.DB != nil {
		loanRepo = lending.NewPostgresRepository(d.DB)
	} else {
		loanRepo = lending.NewMemoryRepository()
	}
	loanSvc := lending.NewService(loanRepo, provider, owner, d.Logger)
	loanSvc.SetSink(lending.Sinks{
		creditSvc,
		notification.NewLoanNotifier(notification.NewLoggerNotifier(d.Logger), d.Logger),
	})

	sched := refresh.New(ctx, creditSvc, d.Logger)
	creditSvc.OnErase(func(wallet string) {
		if sched.Unwatch(wallet) {
			d.Logger.Info("auto-refresh stopped for erased wallet", slog.String("wallet", wallet))
		}
	})
	err = sched.Schedule(d.Cfg.LoanSweepSchedule, "loan-sweep", func(ctx context.Context) error {
		n, err := loanSvc.SweepOverdue(ctx)
		if n > 0 {
			d.Logger.Info("overdue loans defaulted", slog.Int("count", n))
		}
		return err
	})
	rt := &Runtime{
		Credit:    creditSvc,
		Loans:     loanSvc,
		Scheduler: sched,
		relay:     relay,
		audit:     rec,
	}
	if err != nil {
		_ = rt.Shutdown(ctx)
		return nil, fmt.Errorf("schedule loan sweep: %w", err)
	}
	return rt, nil
}

func notFound(c *fiber.Ctx) error {
	return c.Status(http.StatusNotFound).JSON(fiber.Map{
		"error":              "Endpoint not found",
		"availableEndpoints": endpointList(),
		"timestamp":          time.Now().UTC().Format(time.RFC3339Nano),
	})
}
