package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/fleetguard/internal/config"
	"github.com/ashureev/fleetguard/internal/domain"
	"github.com/ashureev/fleetguard/internal/scope"
	"github.com/ashureev/fleetguard/internal/store"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:           "fleetctl",
		Short:         "Operate the fleet guard service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
		},
	}
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(
		newSeedCmd(),
		newScopesCmd(),
		newTurnCmd(),
	)
	return cmd
}

func newSeedCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load demo fleet data into an empty database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				dbPath = dbPathFromEnv()
			}
			s, err := store.NewSQLite(dbPath)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			if err := s.Seed(context.Background()); err != nil {
				return err
			}
			trips, err := s.List(context.Background(), domain.CollectionTrips)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Database %s ready (%d live trips)\n", dbPath, len(trips))
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "", "SQLite database path (default DB_PATH)")
	return cmd
}

func dbPathFromEnv() string {
	if p := os.Getenv("DB_PATH"); p != "" {
		return p
	}
	return "./data/fleet.db"
}

func newScopesCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "scopes [page]",
		Short: "Show the collections each page may touch",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				if cfg, err := config.Load(); err == nil {
					path = cfg.PageScopesPath
				}
			}
			scopes, err := scope.Load(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				page, known := scopes.Canonical(args[0])
				note := ""
				if !known {
					note = " (unknown page, using fallback)"
				}
				fmt.Fprintf(out, "%s%s: %v\n", page, note, scopes.ResolveAllowed(page))
				return nil
			}
			for _, page := range scopes.Pages() {
				marker := ""
				if page == scopes.Fallback() {
					marker = " [fallback]"
				}
				fmt.Fprintf(out, "%s%s: %v\n", page, marker, scopes.ResolveAllowed(page))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "Page scope YAML (default PAGE_SCOPES_PATH or the built-in table)")
	return cmd
}
