package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/models"
	"github.com/opencoordinator/pbs/internal/services/retry"
)

// GormConfig tunes the postgres-backed store.
type GormConfig struct {
	// MaxCommitAttempts bounds retries of serialization conflicts.
	MaxCommitAttempts int
	// CommitTimeout bounds one whole Commit including retries. The
	// commit is detached from the caller's cancellation so a dropped
	// client connection cannot abort an applied transaction.
	CommitTimeout time.Duration
}

func (c *GormConfig) withDefaults() *GormConfig {
	out := GormConfig{MaxCommitAttempts: 5, CommitTimeout: 10 * time.Second}
	if c != nil {
		if c.MaxCommitAttempts > 0 {
			out.MaxCommitAttempts = c.MaxCommitAttempts
		}
		if c.CommitTimeout > 0 {
			out.CommitTimeout = c.CommitTimeout
		}
	}
	return &out
}

// GormStore persists budget rows in postgres via gorm.
type GormStore struct {
	db       *gorm.DB
	logger   *zap.Logger
	cfg      *GormConfig
	retryCfg *retry.Config
}

func NewGormStore(db *gorm.DB, cfg *GormConfig, logger *zap.Logger) *GormStore {
	c := cfg.withDefaults()
	return &GormStore{
		db:     db,
		logger: logger,
		cfg:    c,
		retryCfg: &retry.Config{
			MaxAttempts:  c.MaxCommitAttempts,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2.0,
			Jitter:       true,
		},
	}
}

func (s *GormStore) Commit(ctx context.Context, fn CommitFunc) error {
	if s.db == nil {
		return ErrNotInitialized
	}

	// Detach from request cancellation: once commit work starts it runs
	// to completion or its own timeout, and the caller may discard the
	// response.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CommitTimeout)
	defer cancel()

	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		return s.runTransaction(ctx, fn)
	}, retry.IsSerializationFailure)
	if err == nil {
		return nil
	}
	if isApplicationError(err) {
		return err
	}
	return fmt.Errorf("%v: %w", err, ErrFailToCommit)
}

func (s *GormStore) runTransaction(ctx context.Context, fn CommitFunc) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mutations, err := fn(ctx, &gormTxn{tx: tx})
		if err != nil {
			return err
		}
		return applyMutations(tx, mutations)
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

func (s *GormStore) Read(ctx context.Context, keys []budget.PrimaryKey, cols budget.Columns) ([]budget.Row, error) {
	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return readRows(s.db.WithContext(ctx), keys, cols)
}

func (s *GormStore) PruneBefore(ctx context.Context, day budget.Day) (int64, error) {
	if s.db == nil {
		return 0, ErrNotInitialized
	}
	res := s.db.WithContext(ctx).Exec(
		`DELETE FROM budget_rows WHERE timeframe ~ '^-?[0-9]+$' AND CAST(timeframe AS BIGINT) < ?`,
		int64(day),
	)
	if res.Error != nil {
		return 0, fmt.Errorf("prune budget rows: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return ErrNotInitialized
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type gormTxn struct {
	tx *gorm.DB
}

func (t *gormTxn) ReadRows(ctx context.Context, keys []budget.PrimaryKey, cols budget.Columns) ([]budget.Row, error) {
	return readRows(t.tx.WithContext(ctx), keys, cols)
}

func readRows(db *gorm.DB, keys []budget.PrimaryKey, cols budget.Columns) ([]budget.Row, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	sel := []string{"budget_key", "timeframe"}
	if cols.Value {
		sel = append(sel, "value")
	}
	if cols.ValueProto {
		sel = append(sel, "value_proto")
	}
	tuples := make([][]interface{}, len(keys))
	for i, k := range keys {
		tuples[i] = []interface{}{k.BudgetKey, k.Timeframe()}
	}

	var rows []models.BudgetRow
	if err := db.Select(sel).Where("(budget_key, timeframe) IN ?", tuples).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("read budget rows: %w", err)
	}

	out := make([]budget.Row, len(rows))
	for i := range rows {
		out[i] = budget.Row{
			BudgetKey:  rows[i].BudgetKey,
			Timeframe:  rows[i].Timeframe,
			Value:      []byte(rows[i].Value),
			ValueProto: rows[i].ValueProto,
		}
	}
	return out, nil
}

// applyMutations upserts all mutations in one statement. Every
// mutation in a request writes the same column set, fixed by the
// migration phase.
func applyMutations(tx *gorm.DB, mutations []budget.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}

	updated := []string{"updated_at"}
	if mutations[0].Value != nil {
		updated = append(updated, "value")
	}
	if mutations[0].ValueProto != nil {
		updated = append(updated, "value_proto")
	}

	now := time.Now().UTC()
	rows := make([]models.BudgetRow, len(mutations))
	for i, m := range mutations {
		rows[i] = models.BudgetRow{
			BudgetKey:  m.BudgetKey,
			Timeframe:  m.Timeframe,
			Value:      datatypes.JSON(m.Value),
			ValueProto: m.ValueProto,
			UpdatedAt:  now,
		}
	}

	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "budget_key"}, {Name: "timeframe"}},
		DoUpdates: clause.AssignmentColumns(updated),
	}).Create(&rows).Error
}
