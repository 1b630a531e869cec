package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/mappings"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/sequence"
	"github.com/odyssey-erp/ledgerpay/internal/fx"
	"github.com/odyssey-erp/ledgerpay/internal/observability"
	"github.com/odyssey-erp/ledgerpay/internal/payroll"
	"github.com/odyssey-erp/ledgerpay/internal/platform/lock"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
	"github.com/odyssey-erp/ledgerpay/internal/treasury"
)

// Container holds the services shared by the API and worker binaries.
type Container struct {
	Engine     *ledger.Engine
	LedgerRepo *ledger.Repository
	Accounts   accounts.Repository
	FXRates    *fx.Repository
	Treasury   *treasury.Service
	Payroll    *payroll.Service
}

// NewContainer wires every service against pool. rdb may be nil, in which
// case FX lookups are not cached and payroll runs are not locked across
// processes.
func NewContainer(cfg *Config, pool *pgxpool.Pool, rdb *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Container {
	if logger == nil {
		logger = slog.Default()
	}
	audit := shared.NewAuditLogger(pool)

	engine := ledger.NewEngine(sequence.NewAllocator(), logger)
	if metrics != nil {
		engine.WithObserver(metrics)
	}

	treasuryService := treasury.NewService(treasury.NewRepository(pool), engine, accounts.NewResolver(logger), audit, logger)
	if metrics != nil {
		treasuryService.WithObserver(metrics)
	}

	payrollRepo := payroll.NewRepository(pool)
	settings := payroll.NewSettingsLoader(payrollRepo, mappings.NewRepository(pool), cfg.CalcDefaults(), cfg.PayrollMandatorySettings, logger)
	payrollService := payroll.NewService(payrollRepo, settings, engine, audit, logger)

	rates := fx.NewRepository(pool)
	var cacheClient redis.Cmdable
	if rdb != nil {
		cacheClient = rdb
		payrollService.WithLocker(lock.NewRedisLocker(rdb, cfg.PayrollLockTTL, logger))
	}
	payrollService.WithFX(fx.NewCachedSource(rates, cacheClient, cfg.FXCacheTTL, logger), cfg.PayrollLocalCurrency, cfg.PayrollTaxCurrency)
	if metrics != nil {
		payrollService.WithObserver(metrics)
	}

	ledgerRepo := ledger.NewRepository(pool)
	return &Container{
		Engine:     engine,
		LedgerRepo: ledgerRepo,
		Accounts:   accounts.NewRepository(pool),
		FXRates:    rates,
		Treasury:   treasuryService,
		Payroll:    payrollService,
	}
}
