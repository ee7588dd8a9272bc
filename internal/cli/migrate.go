package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pelusa-v/pelusa-live/internal/config"
	"github.com/pelusa-v/pelusa-live/internal/jobqueue"
	"github.com/pelusa-v/pelusa-live/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the PostgreSQL tables for the store and the job queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Database.URL == "" {
			return errors.New("database.url is not set; the in-memory store needs no migration")
		}
		logger, cleanup := config.SetupLogger(cfg.Log.File, config.ParseLogLevel(cfg.Log.Level))
		defer cleanup()

		ctx := cmd.Context()
		pg, err := store.NewPostgres(ctx, cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		defer pg.Close()

		if err := pg.InitSchema(ctx); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		if err := jobqueue.Migrate(ctx, pg.Pool()); err != nil {
			return err
		}
		logger.Info("migrations applied")
		return nil
	},
}
