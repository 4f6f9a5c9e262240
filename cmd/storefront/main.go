package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"storefront/api/db"
	"storefront/api/internal/config"
	"storefront/api/internal/logging"
	"storefront/api/internal/store"
)

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "storefront",
		Short:         "Multi-tenant storefront, CMS and support API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
	root.AddCommand(newServeCommand(), newMigrateCommand(), newReindexCommand())
	return root
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Apply migrations and serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations, or roll back the latest one with --down",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := log.WithContext(cmd.Context())
			conn, err := openDatabase(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Msg("database connection failed")
				return err
			}
			defer conn.Close()

			source := store.MigrationSource(cfg.MigrationsDir, db.Migrations)
			if down {
				err = store.RollbackMigrations(ctx, conn, source)
			} else {
				err = store.ApplyMigrations(ctx, conn, source)
			}
			if err != nil {
				log.Error().Err(err).Bool("down", down).Msg("migrations failed")
				return err
			}
			log.Info().Bool("down", down).Msg("migrations complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "roll back the most recent migration")
	return cmd
}

func newReindexCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Push every post, product and ticket into Meilisearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			ctx := log.WithContext(cmd.Context())
			conn, err := openDatabase(ctx, cfg)
			if err != nil {
				log.Error().Err(err).Msg("database connection failed")
				return err
			}
			defer conn.Close()

			searchService, closeSearch := newSearch(cfg, conn, log)
			defer closeSearch()
			if err := searchService.ReindexAll(ctx); err != nil {
				log.Error().Err(err).Msg("reindex failed")
				return err
			}
			return nil
		},
	}
}

func setup() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return config.Config{}, zerolog.Nop(), err
	}
	return cfg, logging.Install(cfg.LogLevel, cfg.LogPretty), nil
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	return store.Open(ctx, cfg.DatabaseURL)
}
