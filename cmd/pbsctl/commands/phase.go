package commands

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/models"
	"github.com/opencoordinator/pbs/internal/store"
)

// NewPhaseCommand creates the migration phase command
func NewPhaseCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase",
		Short: "Manage the storage migration phase",
		Long:  "Read or flip the migration phase that decides which budget column is truth",
	}

	cmd.AddCommand(newPhaseGetCommand(ctx))
	cmd.AddCommand(newPhaseSetCommand(ctx))

	return cmd
}

func newPhaseGetCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Show the stored migration phase",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsDirectDBAccess() {
				return fmt.Errorf("phase management requires database access")
			}

			var param models.ServiceParam
			err := db.WithContext(ctx).Where("key = ?", models.ParamMigrationPhase).First(&param).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fmt.Println("No phase stored; the service falls back to its configured default")
				return nil
			}
			if err != nil {
				return fmt.Errorf("failed to read phase: %w", err)
			}

			if outputJSON {
				OutputJSON(param)
				return nil
			}
			fmt.Printf("Migration phase: %s (updated %s)\n", param.Value, param.UpdatedAt.Format("2006-01-02 15:04:05"))
			return nil
		},
	}
}

func newPhaseSetCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "set <phase>",
		Short: "Set the migration phase (1-4)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsDirectDBAccess() {
				return fmt.Errorf("phase management requires database access")
			}

			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("phase must be a number: %w", err)
			}
			phase := budget.Phase(n)
			if !phase.Valid() {
				return fmt.Errorf("phase %d is out of range 1-4", n)
			}

			params := store.NewParamPhase(db, zap.NewNop(), store.ParamPhaseConfig{})
			if err := params.SetPhase(ctx, phase); err != nil {
				return fmt.Errorf("failed to set phase: %w", err)
			}

			fmt.Printf("Migration phase set to %d; replicas pick it up within their cache TTL\n", n)
			return nil
		},
	}
}
