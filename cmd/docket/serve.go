package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dockethq/docket/internal/access"
	"github.com/dockethq/docket/internal/api"
	"github.com/dockethq/docket/internal/config"
	"github.com/dockethq/docket/internal/events"
	"github.com/dockethq/docket/internal/invite"
	"github.com/dockethq/docket/internal/mailer"
	"github.com/dockethq/docket/internal/membership"
	"github.com/dockethq/docket/internal/ratelimit"
	"github.com/dockethq/docket/internal/telemetry"
	"github.com/dockethq/docket/internal/tenant"
	"github.com/dockethq/docket/internal/user"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Docket API server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	metrics := telemetry.New()
	metrics.RegisterDBPoolCollector(func() (total, idle, acquired int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	eventStore := events.NewStore(pool)
	recorder := events.NewRecorder(eventStore, cfg.Events.BatchSize, cfg.Events.FlushInterval)
	recorder.OnFlush(metrics.ObserveFlush)
	recorder.OnBufferSize(metrics.SetRecorderBufferSize)
	go recorder.Start(ctx)

	userStore := user.NewStore(pool)
	membershipStore := membership.NewStore(pool)
	tenantStore := tenant.NewStore(pool)
	inviteStore := invite.NewStore(pool, membershipStore)

	inviteService := invite.NewService(inviteStore, tenantStore, &mailer.LogSender{}, recorder)
	inviteService.ConfigureWindows(cfg.Invites.FirstWindow, cfg.Invites.ReinviteWindow)
	tenantService := tenant.NewService(pool, tenantStore, membershipStore, inviteStore, recorder)

	// Background sweep keeps the advisory status column close to the clock.
	// Expiry never depends on it having run.
	if cfg.Invites.SweepInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Invites.SweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					n, err := inviteService.ExpireOld(ctx)
					if err != nil {
						slog.Error("invite sweep failed", "error", err)
					} else if n > 0 {
						slog.Info("invite sweep", "expired", n)
					}
				}
			}
		}()
	}
	evaluator := access.NewEvaluator(membershipStore, userStore)
	aggregator := events.NewAggregator(eventStore)

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	router := api.NewRouter(api.RouterDeps{
		Users:          userStore,
		Sessions:       user.NewAuthAdapter(userStore),
		Memberships:    membershipStore,
		Invites:        inviteService,
		Tenants:        tenantService,
		TenantStore:    tenantStore,
		Access:         evaluator,
		Aggregator:     aggregator,
		Recorder:       recorder,
		Limiter:        limiter,
		Metrics:        metrics,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	recorder.Stop()

	return srv.Shutdown(shutdownCtx)
}
