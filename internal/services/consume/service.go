package consume

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/metrics"
	"github.com/opencoordinator/pbs/internal/request"
	"github.com/opencoordinator/pbs/internal/store"
)

// Service runs the consume path: parse a transaction request, read the
// touched budget rows inside one serializable commit, flip the requested
// hours and write the result back. A bounded slot pool caps how many
// commits are in flight against the store at once.
type Service struct {
	store   store.BudgetStore
	phase   budget.PhaseProvider
	metrics *metrics.Registry
	logger  *zap.Logger
	ioSlots chan struct{}
}

type Config struct {
	// MaxConcurrent caps simultaneous store commits. Zero means 64.
	MaxConcurrent int
}

func NewService(st store.BudgetStore, phase budget.PhaseProvider, m *metrics.Registry, logger *zap.Logger, cfg Config) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 64
	}
	return &Service{
		store:   st,
		phase:   phase,
		metrics: m,
		logger:  logger,
		ioSlots: make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Input is one consume transaction as the HTTP layer hands it over.
type Input struct {
	AuthorizedDomain string
	Request          *request.ConsumeBudgetRequest
	TransactionID    string
	ClaimedIdentity  string
	Phase            metrics.TransactionPhase
	Class            metrics.OriginClass
}

// Receipt reports what a successful consume did.
type Receipt struct {
	KeyCount int
}

// Consume executes one transaction end to end. Budget-class errors,
// including ExhaustedError with its flat indices, surface to the caller
// unwrapped so the HTTP layer can encode them.
func (s *Service) Consume(ctx context.Context, in Input) (Receipt, error) {
	// The phase is pinned once per transaction so reads and writes of a
	// single commit never straddle a migration flip.
	consumer := budget.NewBinaryConsumer(s.phase.Phase())
	if err := consumer.ParseRequest(in.Request, in.AuthorizedDomain); err != nil {
		return Receipt{}, err
	}

	s.metrics.ObserveKeysPerTransaction(in.Phase, in.Class, consumer.KeyCount())

	if err := s.acquireSlot(ctx); err != nil {
		return Receipt{}, err
	}
	defer s.releaseSlot()

	err := s.store.Commit(ctx, func(ctx context.Context, tx store.Txn) ([]budget.Mutation, error) {
		rows, err := tx.ReadRows(ctx, consumer.PrimaryKeys(), consumer.ReadColumns())
		if err != nil {
			return nil, err
		}
		return consumer.Consume(rows)
	})
	if err != nil {
		var exhausted *budget.ExhaustedError
		if errors.As(err, &exhausted) {
			s.metrics.ObserveBudgetExhausted(in.Phase, in.Class, len(exhausted.Indices))
			s.logger.Warn("Budget exhausted",
				zap.String("transaction_id", in.TransactionID),
				zap.String("claimed_identity", in.ClaimedIdentity),
				zap.Int("exhausted_keys", len(exhausted.Indices)))
		}
		return Receipt{}, err
	}

	s.metrics.ObserveBudgetConsumed(in.Phase, in.Class, consumer.KeyCount())
	s.logger.Debug("Budget consumed",
		zap.String("transaction_id", in.TransactionID),
		zap.String("claimed_identity", in.ClaimedIdentity),
		zap.Int("keys", consumer.KeyCount()))
	return Receipt{KeyCount: consumer.KeyCount()}, nil
}

func (s *Service) acquireSlot(ctx context.Context) error {
	select {
	case s.ioSlots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) releaseSlot() {
	<-s.ioSlots
}
