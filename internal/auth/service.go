package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/opencoordinator/pbs/internal/models"
	"github.com/opencoordinator/pbs/internal/site"
)

// Auth modes. In none mode the claimed identity is trusted as presented,
// which is only acceptable behind a boundary that already authenticated
// the caller.
const (
	ModeNone   = "none"
	ModeStatic = "static"
	ModeJWT    = "jwt"
	ModeOIDC   = "oidc"
)

// Caller is an authenticated transaction participant.
type Caller struct {
	Identity         string
	AuthorizedDomain string
	AllowedOrigins   []string
	IsCoordinator    bool
}

type ServiceConfig struct {
	Mode         string
	StaticTokens map[string]string
	JWTSecret    string
	JWTIssuer    string
}

// Service verifies inbound auth tokens and resolves callers against the
// operator allowlist. The database and cache are optional; without a
// database the verified identity is trusted as its own authorized
// domain, which is how lite mode runs.
type Service struct {
	cfg    ServiceConfig
	db     *gorm.DB
	cache  *Cache
	oidc   *OIDCVerifier
	logger *zap.Logger
}

func NewService(cfg ServiceConfig, db *gorm.DB, cache *Cache, oidcVerifier *OIDCVerifier, logger *zap.Logger) *Service {
	return &Service{
		cfg:    cfg,
		db:     db,
		cache:  cache,
		oidc:   oidcVerifier,
		logger: logger,
	}
}

// Authenticate checks the token against the configured mode and returns
// the caller the claimed identity maps to. Token failures wrap
// ErrBadToken; allowlist and identity mismatches wrap ErrForbidden.
func (s *Service) Authenticate(ctx context.Context, claimedIdentity, rawToken string) (*Caller, error) {
	siteIdentity, err := site.Resolve(claimedIdentity)
	if err != nil {
		return nil, fmt.Errorf("claimed identity %q: %v: %w", claimedIdentity, err, ErrForbidden)
	}

	op, err := s.resolveOperator(ctx, siteIdentity)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(s.cfg.Mode) {
	case ModeNone, "":
		// Trusted environment, nothing to verify.
	case ModeStatic:
		if err := s.verifyStatic(siteIdentity, rawToken, op); err != nil {
			return nil, err
		}
	case ModeJWT:
		claims, err := VerifyJWT(s.cfg.JWTSecret, s.cfg.JWTIssuer, rawToken)
		if err != nil {
			return nil, err
		}
		if !site.SameSite(claims.Site, siteIdentity) {
			return nil, fmt.Errorf("token covers %q, not claimed identity %q: %w", claims.Site, claimedIdentity, ErrForbidden)
		}
	case ModeOIDC:
		tokenSite, err := s.oidc.Verify(ctx, rawToken)
		if err != nil {
			return nil, err
		}
		if !site.SameSite(tokenSite, siteIdentity) {
			return nil, fmt.Errorf("token covers %q, not claimed identity %q: %w", tokenSite, claimedIdentity, ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode %q: %w", s.cfg.Mode, ErrBadToken)
	}

	if op == nil {
		return &Caller{Identity: siteIdentity, AuthorizedDomain: siteIdentity}, nil
	}
	return &Caller{
		Identity:         op.Identity,
		AuthorizedDomain: op.AuthorizedDomain,
		AllowedOrigins:   op.ReportingOrigins,
		IsCoordinator:    op.IsCoordinator,
	}, nil
}

func (s *Service) verifyStatic(siteIdentity, rawToken string, op *models.Operator) error {
	if rawToken == "" {
		return fmt.Errorf("missing auth token: %w", ErrBadToken)
	}
	if op != nil && op.TokenHash != "" {
		if subtle.ConstantTimeCompare([]byte(models.HashToken(rawToken)), []byte(op.TokenHash)) == 1 {
			return nil
		}
		return fmt.Errorf("token does not match operator %s: %w", op.Identity, ErrBadToken)
	}
	for identity, want := range s.cfg.StaticTokens {
		if site.SameSite(identity, siteIdentity) && subtle.ConstantTimeCompare([]byte(want), []byte(rawToken)) == 1 {
			return nil
		}
	}
	return fmt.Errorf("no token configured for %s: %w", siteIdentity, ErrBadToken)
}

// resolveOperator looks the caller up in the allowlist, serving from the
// redis cache when possible. A nil database means no allowlist is
// enforced and (nil, nil) is returned.
func (s *Service) resolveOperator(ctx context.Context, siteIdentity string) (*models.Operator, error) {
	if s.db == nil {
		return nil, nil
	}

	if s.cache != nil {
		op, err := s.cache.GetOperator(ctx, siteIdentity)
		if err == nil {
			if !op.IsActive {
				return nil, fmt.Errorf("operator %s is disabled: %w", siteIdentity, ErrForbidden)
			}
			return op, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("Operator cache lookup failed", zap.Error(err))
		}
	}

	var op models.Operator
	err := s.db.WithContext(ctx).Where("identity = ?", siteIdentity).First(&op).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("operator %s is not allowlisted: %w", siteIdentity, ErrForbidden)
	}
	if err != nil {
		return nil, err
	}
	if !op.IsActive {
		return nil, fmt.Errorf("operator %s is disabled: %w", siteIdentity, ErrForbidden)
	}

	if s.cache != nil {
		if err := s.cache.SetOperator(ctx, siteIdentity, &op); err != nil {
			s.logger.Debug("Operator cache store failed", zap.Error(err))
		}
	}
	return &op, nil
}
