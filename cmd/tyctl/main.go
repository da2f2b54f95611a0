package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"tycoon/internal/config"
	"tycoon/internal/db"
	"tycoon/internal/ledger"
	"tycoon/internal/market"
	"tycoon/internal/store"
	"tycoon/internal/upgrade"
)

func main() {
	root := &cobra.Command{
		Use:           "tyctl",
		Short:         "tycoon admin tooling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newTickCmd(), newReconcileCmd(), newSeedCmd(), newBalanceCmd())

	if err := root.Execute(); err != nil {
		color.Red("error: %v", err)
		os.Exit(1)
	}
}

type env struct {
	store  *store.PostgresStore
	ledger *ledger.Service
	close  func()
}

func connect(ctx context.Context) (*env, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, err
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	st := store.NewPostgresStore(pool)
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &env{
		store:  st,
		ledger: ledger.NewService(st, logger),
		close:  pool.Close,
	}, nil
}

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one settlement tick",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			engine := market.NewEngine(e.store, e.ledger, slog.Default())
			result, err := engine.RunTick(cmd.Context())
			if err != nil {
				return err
			}
			if result == nil {
				color.Yellow("catalog empty, nothing settled")
				return nil
			}
			color.Green("tick %s settled", result.TickID)
			fmt.Printf("  budget: %s\n  spent:  %s\n  units:  %d\n  listed: %d\n",
				result.Budget, result.TotalSpent, result.UnitsSold, len(result.ListedCompanies))
			return nil
		},
	}
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <account-id>",
		Short: "Repair an account's cached balance from its ledger history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			drift, err := e.ledger.Reconcile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if drift.IsZero() {
				color.Green("account %s is consistent", args[0])
				return nil
			}
			color.Yellow("account %s repaired, drift was %s", args[0], drift)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Seed the upgrade catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if err := upgrade.SeedCatalog(cmd.Context(), e.store); err != nil {
				return err
			}
			color.Green("upgrade catalog seeded")
			return nil
		},
	}
}

func newBalanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Read an account's cached and ledger-derived balances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			cached, err := e.ledger.GetBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			derived, err := e.ledger.LedgerBalance(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("cached:  %s\nledger:  %s\n", cached, derived)
			if !cached.Equal(derived) {
				color.Yellow("balances diverge, consider `tyctl reconcile %s`", args[0])
			}
			return nil
		},
	}
}
