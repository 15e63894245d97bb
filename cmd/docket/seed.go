package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/dockethq/docket/internal/config"
	"github.com/dockethq/docket/internal/events"
	"github.com/dockethq/docket/internal/membership"
	"github.com/dockethq/docket/internal/tenant"
	"github.com/dockethq/docket/internal/user"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed a demo organisation, team, and users",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

func runSeed(cmd *cobra.Command, args []string) error {
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

	userStore := user.NewStore(pool)
	membershipStore := membership.NewStore(pool)
	tenantStore := tenant.NewStore(pool)
	eventStore := events.NewStore(pool)
	recorder := events.NewRecorder(eventStore, cfg.Events.BatchSize, cfg.Events.FlushInterval)
	defer recorder.Flush()

	tenantService := tenant.NewService(pool, tenantStore, membershipStore, nil, recorder)

	// Check if seed has already run.
	existing, err := userStore.List(ctx)
	if err != nil {
		return fmt.Errorf("checking existing profiles: %w", err)
	}
	if len(existing) > 0 {
		slog.Info("demo data already exists, skipping seed")
		return nil
	}

	admin, err := userStore.Create(ctx, user.CreateProfileInput{
		Email:    "admin@docket.local",
		Password: "admin-dev-password",
		Name:     "Ada Admin",
		Role:     user.RoleSuperadmin,
	})
	if err != nil {
		return fmt.Errorf("creating admin profile: %w", err)
	}

	founder, err := userStore.Create(ctx, user.CreateProfileInput{
		Email:    "founder@docket.local",
		Password: "founder-dev-password",
		Name:     "Frida Founder",
	})
	if err != nil {
		return fmt.Errorf("creating founder profile: %w", err)
	}

	org, _, err := tenantService.CreateOrganisation(ctx, "Demo Legal", founder.ID)
	if err != nil {
		return fmt.Errorf("creating demo organisation: %w", err)
	}

	team, _, err := tenantService.CreateTeam(ctx, org.ID, "Litigation", founder.ID)
	if err != nil {
		return fmt.Errorf("creating demo team: %w", err)
	}

	c, err := tenantService.CreateCase(ctx, team.ID, "Demo v. Example")
	if err != nil {
		return fmt.Errorf("creating demo case: %w", err)
	}

	slog.Info("seeded demo data",
		"organisation_id", org.ID, "team_id", team.ID, "case_id", c.ID)
	fmt.Printf("\n=== Demo Data Seeded ===\n")
	fmt.Printf("Superadmin:   %s / admin-dev-password\n", admin.Email)
	fmt.Printf("Founder:      %s / founder-dev-password\n", founder.Email)
	fmt.Printf("Organisation: %s (%s)\n", "Demo Legal", org.ID)
	fmt.Printf("Team:         %s (%s)\n", "Litigation", team.ID)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST http://localhost:8080/api/v1/auth/login -d '{\"email\":\"%s\",\"password\":\"founder-dev-password\"}'\n", founder.Email)

	return nil
}
