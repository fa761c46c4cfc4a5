package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/auth"
)

type contextKey string

const (
	CallerContextKey      contextKey = "caller"
	TransactionContextKey contextKey = "transaction"
)

// Transaction is the per-request metadata the protocol headers carry.
type Transaction struct {
	ID              string
	Secret          string
	ClaimedIdentity string
	Origin          string
}

type AuthMiddleware struct {
	logger      *zap.Logger
	authService *auth.Service
}

type AuthConfig struct {
	Logger      *zap.Logger
	AuthService *auth.Service
}

func NewAuthMiddleware(config *AuthConfig) *AuthMiddleware {
	return &AuthMiddleware{
		logger:      config.Logger,
		authService: config.AuthService,
	}
}

// Authenticate validates the transaction metadata headers and resolves
// the caller. Mounted on the transaction routes only; probe, docs and
// metrics routes never pass through here.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		txn := Transaction{
			ID:              r.Header.Get(auth.HeaderTransactionID),
			Secret:          r.Header.Get(auth.HeaderTransactionSecret),
			ClaimedIdentity: r.Header.Get(auth.HeaderClaimedIdentity),
			Origin:          r.Header.Get(auth.HeaderTransactionOrigin),
		}

		if txn.ID == "" {
			m.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing transaction id header")
			return
		}
		if _, err := uuid.Parse(txn.ID); err != nil {
			m.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", "transaction id is not a UUID")
			return
		}
		if txn.Secret == "" {
			m.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing transaction secret header")
			return
		}
		if txn.ClaimedIdentity == "" {
			m.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", "missing claimed identity header")
			return
		}

		caller, err := m.authService.Authenticate(r.Context(), txn.ClaimedIdentity, r.Header.Get(auth.HeaderAuthToken))
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrBadToken):
				m.sendError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "auth token rejected")
			case errors.Is(err, auth.ErrForbidden):
				m.sendError(w, http.StatusForbidden, "PERMISSION_DENIED", "caller is not authorized for the claimed identity")
			default:
				m.logger.Error("Auth backend failure",
					zap.String("transaction_id", txn.ID),
					zap.Error(err))
				m.sendError(w, http.StatusInternalServerError, "INITIALIZATION_ERROR", "auth backend unavailable")
			}
			return
		}

		ctx := context.WithValue(r.Context(), TransactionContextKey, &txn)
		ctx = context.WithValue(ctx, CallerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": message,
		},
	})
}

// Helper functions to extract auth context

func GetCaller(ctx context.Context) (*auth.Caller, bool) {
	caller, ok := ctx.Value(CallerContextKey).(*auth.Caller)
	return caller, ok
}

func GetTransaction(ctx context.Context) (*Transaction, bool) {
	txn, ok := ctx.Value(TransactionContextKey).(*Transaction)
	return txn, ok
}
