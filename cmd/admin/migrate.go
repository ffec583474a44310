package main

import (
	"fmt"
	"os"

	"legalchat-backend/config"
	"legalchat-backend/migrations"

	"github.com/spf13/cobra"
)

func migrateCMD() *cobra.Command {
	var direction string
	var steps int

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			logger := cfg.NewLogger()
			if os.Getenv("DATABASE_URL") == "" {
				logger.Warn("DATABASE_URL not set, using default connection string")
			}

			if steps < 0 {
				return fmt.Errorf("steps must not be negative")
			}

			var err error
			switch direction {
			case "up":
				if steps > 0 {
					err = migrations.Steps(cfg.DatabaseURL, steps)
				} else {
					err = migrations.Up(cfg.DatabaseURL)
				}
			case "down":
				if steps > 0 {
					err = migrations.Steps(cfg.DatabaseURL, -steps)
				} else {
					err = migrations.Down(cfg.DatabaseURL)
				}
			default:
				return fmt.Errorf("unknown direction: %s", direction)
			}
			if err != nil {
				return err
			}

			version, dirty, err := migrations.Version(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			logger.Info("Migrations finished", "direction", direction, "version", version, "dirty", dirty)
			return nil
		},
	}
	migrate.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	return migrate
}

func versionCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			version, dirty, err := migrations.Version(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version=%d dirty=%t\n", version, dirty)
			return nil
		},
	}
}
