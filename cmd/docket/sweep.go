package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dockethq/docket/internal/config"
	"github.com/dockethq/docket/internal/events"
	"github.com/dockethq/docket/internal/invite"
	"github.com/dockethq/docket/internal/mailer"
	"github.com/dockethq/docket/internal/membership"
	"github.com/dockethq/docket/internal/user"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire overdue invites and clean expired sessions",
	Long:  "Flips pending invites past their expiry to the expired status and deletes expired login sessions. Expiry is derived from timestamps at read time, so the sweep is a housekeeping optimization, not a correctness requirement.",
	RunE:  runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	eventStore := events.NewStore(pool)
	recorder := events.NewRecorder(eventStore, cfg.Events.BatchSize, cfg.Events.FlushInterval)

	membershipStore := membership.NewStore(pool)
	inviteStore := invite.NewStore(pool, membershipStore)
	inviteService := invite.NewService(inviteStore, nil, &mailer.LogSender{}, recorder)

	expired, err := inviteService.ExpireOld(ctx)
	if err != nil {
		return err
	}
	recorder.Flush()
	slog.Info("expired overdue invites", "count", expired)

	userStore := user.NewStore(pool)
	cleaned, err := userStore.CleanExpiredSessions(ctx)
	if err != nil {
		return err
	}
	slog.Info("cleaned expired sessions", "count", cleaned)

	return nil
}
