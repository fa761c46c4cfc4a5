package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opencoordinator/pbs/internal/models"
	"github.com/opencoordinator/pbs/internal/site"
)

// NewOperatorCommand creates the operator allowlist management command
func NewOperatorCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operator",
		Short: "Manage the operator allowlist",
		Long:  "Add, list and disable callers allowed to consume budget",
	}

	cmd.AddCommand(newOperatorAddCommand(ctx))
	cmd.AddCommand(newOperatorListCommand(ctx))
	cmd.AddCommand(newOperatorDisableCommand(ctx))

	return cmd
}

func newOperatorAddCommand(ctx context.Context) *cobra.Command {
	var identity, authorizedDomain, token string
	var origins []string
	var isCoordinator bool

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Allowlist an operator",
		Long:  "Add a caller identity to the allowlist with its authorized domain",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsDirectDBAccess() {
				return fmt.Errorf("operator management requires database access")
			}

			resolved, err := site.Resolve(identity)
			if err != nil {
				return fmt.Errorf("invalid identity %q: %w", identity, err)
			}

			domain := authorizedDomain
			if domain == "" {
				domain = resolved
			}

			op := models.Operator{
				Identity:         resolved,
				AuthorizedDomain: domain,
				ReportingOrigins: origins,
				IsCoordinator:    isCoordinator,
				IsActive:         true,
			}
			if token != "" {
				op.TokenHash = models.HashToken(token)
			}

			if err := db.WithContext(ctx).Create(&op).Error; err != nil {
				return fmt.Errorf("failed to create operator: %w", err)
			}

			fmt.Printf("Operator %s added (authorized domain %s)\n", op.Identity, op.AuthorizedDomain)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Operator site identity, e.g. https://adtech.example")
	cmd.Flags().StringVar(&authorizedDomain, "authorized-domain", "", "Authorized domain (defaults to the resolved identity)")
	cmd.Flags().StringSliceVar(&origins, "origins", nil, "Optional reporting origin allowlist")
	cmd.Flags().StringVar(&token, "token", "", "Static auth token to bind to the operator (stored hashed)")
	cmd.Flags().BoolVar(&isCoordinator, "coordinator", false, "Mark the operator as the peer coordinator")

	cmd.MarkFlagRequired("identity")

	return cmd
}

func newOperatorListCommand(ctx context.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List allowlisted operators",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsDirectDBAccess() {
				return fmt.Errorf("operator management requires database access")
			}

			var ops []models.Operator
			if err := db.WithContext(ctx).Order("identity").Find(&ops).Error; err != nil {
				return fmt.Errorf("failed to list operators: %w", err)
			}

			headers := []string{"IDENTITY", "AUTHORIZED DOMAIN", "ORIGINS", "COORDINATOR", "ACTIVE", "CREATED"}
			rows := make([][]string, 0, len(ops))
			for _, op := range ops {
				rows = append(rows, []string{
					op.Identity,
					op.AuthorizedDomain,
					strings.Join(op.ReportingOrigins, ","),
					fmt.Sprintf("%t", op.IsCoordinator),
					fmt.Sprintf("%t", op.IsActive),
					op.CreatedAt.Format("2006-01-02"),
				})
			}

			OutputTable(headers, rows)
			return nil
		},
	}
}

func newOperatorDisableCommand(ctx context.Context) *cobra.Command {
	var identity string

	cmd := &cobra.Command{
		Use:   "disable",
		Short: "Disable an operator",
		Long:  "Disable a caller without deleting its row; takes effect within the auth cache TTL",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsDirectDBAccess() {
				return fmt.Errorf("operator management requires database access")
			}

			resolved, err := site.Resolve(identity)
			if err != nil {
				return fmt.Errorf("invalid identity %q: %w", identity, err)
			}

			res := db.WithContext(ctx).Model(&models.Operator{}).
				Where("identity = ?", resolved).
				Update("is_active", false)
			if res.Error != nil {
				return fmt.Errorf("failed to disable operator: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("no operator with identity %s", resolved)
			}

			fmt.Printf("Operator %s disabled\n", resolved)
			return nil
		},
	}

	cmd.Flags().StringVar(&identity, "identity", "", "Operator site identity")
	cmd.MarkFlagRequired("identity")

	return cmd
}
