package store

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/models"
)

// ParamPhase reads the migration phase from the service_params table and
// caches it for a short TTL so the consume path does not hit the database
// on every transaction. A phase flip propagates within one TTL.
type ParamPhase struct {
	db       *gorm.DB
	logger   *zap.Logger
	fallback budget.Phase
	ttl      time.Duration

	mu      sync.RWMutex
	cached  budget.Phase
	expires time.Time
}

type ParamPhaseConfig struct {
	Fallback budget.Phase
	TTL      time.Duration
}

func NewParamPhase(db *gorm.DB, logger *zap.Logger, cfg ParamPhaseConfig) *ParamPhase {
	if cfg.TTL <= 0 {
		cfg.TTL = 30 * time.Second
	}
	if !cfg.Fallback.Valid() {
		cfg.Fallback = budget.PhaseJSONOnly
	}
	return &ParamPhase{
		db:       db,
		logger:   logger,
		fallback: cfg.Fallback,
		ttl:      cfg.TTL,
	}
}

// Phase returns the cached phase, refreshing from the database when the
// TTL has lapsed. Lookup failures fall back to the last known phase, or
// to the configured fallback when nothing was ever read.
func (p *ParamPhase) Phase() budget.Phase {
	p.mu.RLock()
	if time.Now().Before(p.expires) && p.cached.Valid() {
		phase := p.cached
		p.mu.RUnlock()
		return phase
	}
	p.mu.RUnlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if time.Now().Before(p.expires) && p.cached.Valid() {
		return p.cached
	}

	phase, err := p.load()
	if err != nil {
		p.logger.Warn("Failed to load migration phase", zap.Error(err))
		if p.cached.Valid() {
			// Keep serving the stale value instead of flapping.
			p.expires = time.Now().Add(p.ttl)
			return p.cached
		}
		return p.fallback
	}

	p.cached = phase
	p.expires = time.Now().Add(p.ttl)
	return phase
}

func (p *ParamPhase) load() (budget.Phase, error) {
	var param models.ServiceParam
	err := p.db.Where("key = ?", models.ParamMigrationPhase).First(&param).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p.fallback, nil
	}
	if err != nil {
		return 0, err
	}

	n, err := strconv.Atoi(param.Value)
	if err != nil {
		return 0, err
	}
	phase := budget.Phase(n)
	if !phase.Valid() {
		return 0, errors.New("migration phase out of range: " + param.Value)
	}
	return phase, nil
}

// SetPhase writes the phase parameter and resets the cache so the new
// value takes effect immediately in this process.
func (p *ParamPhase) SetPhase(ctx context.Context, phase budget.Phase) error {
	if !phase.Valid() {
		return errors.New("migration phase out of range")
	}

	param := models.ServiceParam{
		Key:   models.ParamMigrationPhase,
		Value: strconv.Itoa(int(phase)),
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&param).Error
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.cached = phase
	p.expires = time.Now().Add(p.ttl)
	p.mu.Unlock()
	return nil
}
