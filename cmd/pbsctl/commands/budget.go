package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/models"
	"github.com/opencoordinator/pbs/internal/store"
)

// NewBudgetCommand creates the budget inspection command
func NewBudgetCommand(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect and prune stored budgets",
		Long:  "Read persisted budget rows and delete rows past the retention window",
	}

	cmd.AddCommand(newBudgetGetCommand(ctx))
	cmd.AddCommand(newBudgetPruneCommand(ctx))

	return cmd
}

func newBudgetGetCommand(ctx context.Context) *cobra.Command {
	var key, timeframe string

	cmd := &cobra.Command{
		Use:   "get",
		Short: "Show budget rows for a key",
		Long:  "Decode both stored value columns; hours render as 24 flags, 1 = budget left",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsDirectDBAccess() {
				return fmt.Errorf("budget inspection requires database access")
			}

			q := db.WithContext(ctx).Where("budget_key = ?", key)
			if timeframe != "" {
				q = q.Where("timeframe = ?", timeframe)
			}

			var rows []models.BudgetRow
			if err := q.Order("timeframe").Find(&rows).Error; err != nil {
				return fmt.Errorf("failed to read budget rows: %w", err)
			}
			if len(rows) == 0 {
				fmt.Println("No budget rows found")
				return nil
			}

			headers := []string{"TIMEFRAME", "JSON HOURS", "PROTO HOURS", "UPDATED"}
			out := make([][]string, 0, len(rows))
			for _, row := range rows {
				out = append(out, []string{
					row.Timeframe,
					renderJSONValue([]byte(row.Value)),
					renderProtoValue(row.ValueProto),
					row.UpdatedAt.Format("2006-01-02 15:04:05"),
				})
			}

			OutputTable(headers, out)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Budget key, <reporting origin>/<client key>")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "Restrict to one timeframe (decimal day number)")
	cmd.MarkFlagRequired("key")

	return cmd
}

func newBudgetPruneCommand(ctx context.Context) *cobra.Command {
	var olderThanDays int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete budget rows past the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !IsDirectDBAccess() {
				return fmt.Errorf("budget pruning requires database access")
			}
			if olderThanDays <= 0 {
				return fmt.Errorf("--older-than-days must be positive")
			}

			cutoff := budget.DayOf(time.Now()) - budget.Day(olderThanDays)
			st := store.NewGormStore(db, nil, zap.NewNop())
			deleted, err := st.PruneBefore(ctx, cutoff)
			if err != nil {
				return fmt.Errorf("failed to prune budget rows: %w", err)
			}

			fmt.Printf("Deleted %d budget rows older than day %d\n", deleted, cutoff)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 40, "Delete rows whose day is older than this many days ago")

	return cmd
}

func renderJSONValue(raw []byte) string {
	if len(raw) == 0 {
		return "-"
	}
	v, err := budget.DecodeValueJSON(raw)
	if err != nil {
		return "corrupt"
	}
	return renderValue(v)
}

func renderProtoValue(raw []byte) string {
	if len(raw) == 0 {
		return "-"
	}
	v, err := budget.DecodeValueProto(raw)
	if err != nil {
		return "corrupt"
	}
	return renderValue(v)
}

func renderValue(v budget.Value) string {
	var b strings.Builder
	for _, u := range v {
		if u == budget.UnitFull {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}
