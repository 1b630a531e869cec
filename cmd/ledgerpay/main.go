package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/ledgerpay/cmd/ledgerpay/cli"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/accounts"
	"github.com/odyssey-erp/ledgerpay/internal/accounting/ledger"
	"github.com/odyssey-erp/ledgerpay/internal/app"
	"github.com/odyssey-erp/ledgerpay/internal/fx"
	"github.com/odyssey-erp/ledgerpay/internal/observability"
	"github.com/odyssey-erp/ledgerpay/internal/payroll"
	"github.com/odyssey-erp/ledgerpay/internal/platform/cache"
	"github.com/odyssey-erp/ledgerpay/internal/platform/db"
	"github.com/odyssey-erp/ledgerpay/internal/shared"
	"github.com/odyssey-erp/ledgerpay/internal/treasury"
	"github.com/odyssey-erp/ledgerpay/jobs"
)

const usage = `usage: ledgerpay [command]

commands:
  serve                                   run the HTTP API (default)
  fx-import --file rates.csv [--apply]    load base,quote,date,rate rows into fx_rates
  jobs trigger <task> [--period N]        enqueue payroll:generate or ledger:integrity
  jobs stats                              print default queue statistics`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "fx-import":
		os.Exit(fxImport(ctx, cfg, args))
	case "jobs":
		err = jobsCommand(ctx, cfg, args)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Warn("redis unavailable, running without cache and locks", slog.Any("error", err))
			redisClient = nil
		} else {
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Warn("redis close", slog.Any("error", err))
				}
			}()
		}
	}

	metrics := observability.NewMetrics()
	container := app.NewContainer(cfg, pool, redisClient, metrics, logger)

	payrollHandler := payroll.NewHandler(logger, container.Payroll)
	var jobHandler *jobs.Handler
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		client, err := jobs.NewClient(redisOpts)
		if err != nil {
			return fmt.Errorf("init jobs client: %w", err)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		payrollHandler.WithEnqueuer(client)

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		TreasuryHandler: treasury.NewHandler(logger, container.Treasury).WithIdempotency(shared.NewIdempotencyStore(pool)),
		PayrollHandler:  payrollHandler,
		AccountsHandler: accounts.NewHandler(logger, container.Accounts),
		LedgerHandler:   ledger.NewHandler(logger, container.LedgerRepo),
		JobHandler:      jobHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func fxImport(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("fx-import", flag.ContinueOnError)
	file := fs.String("file", "", "CSV file with base,quote,date,rate columns (- for stdin)")
	apply := fs.Bool("apply", false, "write the rates after confirmation (default is a dry run)")
	asJSON := fs.Bool("json", false, "print the summary as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, 2)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fx import: connect postgres: %v\n", err)
		return 1
	}
	defer pool.Close()

	ops, err := cli.NewFXOpsCLI(fx.NewRepository(pool))
	if err != nil {
		fmt.Fprintf(os.Stderr, "fx import: %v\n", err)
		return 1
	}
	mode := cli.FXImportModeDry
	if *apply {
		mode = cli.FXImportModeApply
	}
	return ops.ImportCommand(ctx, cli.FXImportOptions{Source: *file, Mode: mode, JSONOutput: *asJSON})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) error {
	if cfg.RedisAddr == "" {
		return errors.New("REDIS_ADDR must be set to manage jobs")
	}
	if len(args) == 0 {
		return errors.New(usage)
	}
	helper, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer helper.Close()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			return errors.New("jobs trigger: task name required")
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		period := fs.Int64("period", 0, "payroll period id")
		if err := fs.Parse(args[2:]); err != nil {
			return err
		}
		info, err := helper.Trigger(ctx, args[1], *period)
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return nil
	case "stats":
		stats, err := helper.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
		return nil
	default:
		return fmt.Errorf("jobs: unknown subcommand %q", args[0])
	}
}
