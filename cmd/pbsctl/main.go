package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/opencoordinator/pbs/cmd/pbsctl/commands"
	"github.com/opencoordinator/pbs/internal/models"
)

var (
	dbURL      string
	apiURL     string
	outputJSON bool
	verbose    bool
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pbsctl",
		Short: "Privacy Budget Service management CLI",
		Long: `Operational tooling for the privacy budget service: operator allowlist,
migration phase, budget inspection and health probes. Uses direct database
access when run next to the service and the HTTP API for remote probes.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database URL for direct access (default $DATABASE_URL)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "service base URL for remote probes")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	// Add subcommands
	ctx := context.Background()
	rootCmd.AddCommand(commands.NewOperatorCommand(ctx))
	rootCmd.AddCommand(commands.NewPhaseCommand(ctx))
	rootCmd.AddCommand(commands.NewBudgetCommand(ctx))
	rootCmd.AddCommand(commands.NewHealthCommand(ctx))
	rootCmd.AddCommand(commands.NewTokenCommand())
	rootCmd.AddCommand(commands.NewConfigCommand())

	return rootCmd
}

func initConfig() error {
	url := dbURL
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}

	// Set up database connection if URL is provided
	if url != "" {
		db, err := gorm.Open(postgres.Open(url), &gorm.Config{})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}

		// Auto-migrate models
		if err := db.AutoMigrate(
			&models.BudgetRow{},
			&models.Operator{},
			&models.ServiceParam{},
		); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}

		commands.SetDB(db)
	}

	// Set API configuration if provided
	if apiURL != "" {
		commands.SetAPIConfig(apiURL)
	}

	// Set output format
	commands.SetOutputJSON(outputJSON)
	commands.SetVerbose(verbose)

	return nil
}
