package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/auth"
	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/metrics"
	"github.com/opencoordinator/pbs/internal/middleware"
	"github.com/opencoordinator/pbs/internal/request"
	"github.com/opencoordinator/pbs/internal/services/consume"
	"github.com/opencoordinator/pbs/internal/site"
	"github.com/opencoordinator/pbs/internal/store"
)

// ExhaustedResponse is the 409 body in proto-JSON mode.
type ExhaustedResponse struct {
	Version                string `json:"version"`
	ExhaustedBudgetIndices []int  `json:"exhausted_budget_indices"`
}

// LegacyExhaustedResponse is the 409 body in legacy mode.
type LegacyExhaustedResponse struct {
	Version string `json:"v"`
	Failed  []int  `json:"f"`
}

// ErrorResponse is the JSON error envelope for non-409 failures.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type TransactionHandler struct {
	logger   *zap.Logger
	consume  *consume.Service
	peerSite string
	maxBody  int64
}

type TransactionConfig struct {
	Logger       *zap.Logger
	Consume      *consume.Service
	PeerSite     string
	MaxBodyBytes int64
}

func NewTransactionHandler(cfg *TransactionConfig) *TransactionHandler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &TransactionHandler{
		logger:   cfg.Logger,
		consume:  cfg.Consume,
		peerSite: cfg.PeerSite,
		maxBody:  maxBody,
	}
}

// Begin acknowledges the begin phase
// @Summary Begin a transaction
// @Description Acknowledges the phase; budget work happens at prepare
// @Tags Transactions
// @Success 200
// @Failure 400 {object} ErrorResponse
// @Router /v1/transactions:begin [post]
func (h *TransactionHandler) Begin(w http.ResponseWriter, r *http.Request) {
	h.ack(w)
}

// Prepare consumes budget for a transaction
// @Summary Prepare a transaction
// @Description Atomically consumes the requested budget slots; accepts v1 and v2 bodies
// @Tags Transactions
// @Accept json
// @Produce json
// @Success 200
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} LegacyExhaustedResponse
// @Failure 500 {object} ErrorResponse
// @Router /v1/transactions:prepare [post]
func (h *TransactionHandler) Prepare(w http.ResponseWriter, r *http.Request) {
	h.handleConsume(w, r)
}

// Commit acknowledges the commit phase
// @Summary Commit a transaction
// @Tags Transactions
// @Success 200
// @Router /v1/transactions:commit [post]
func (h *TransactionHandler) Commit(w http.ResponseWriter, r *http.Request) {
	h.ack(w)
}

// Notify acknowledges the notify phase
// @Summary Notify transaction completion
// @Tags Transactions
// @Success 200
// @Router /v1/transactions:notify [post]
func (h *TransactionHandler) Notify(w http.ResponseWriter, r *http.Request) {
	h.ack(w)
}

// Abort acknowledges the abort phase
// @Summary Abort a transaction
// @Tags Transactions
// @Success 200
// @Router /v1/transactions:abort [post]
func (h *TransactionHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.ack(w)
}

// End acknowledges the end phase
// @Summary End a transaction
// @Tags Transactions
// @Success 200
// @Router /v1/transactions:end [post]
func (h *TransactionHandler) End(w http.ResponseWriter, r *http.Request) {
	h.ack(w)
}

// GetStatus rejects status lookups
// @Summary Transaction status
// @Description Status lookup was never part of the protocol
// @Tags Transactions
// @Failure 404 {object} ErrorResponse
// @Router /v1/transactions:status [get]
func (h *TransactionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	h.sendError(w, http.StatusNotFound, "NOT_FOUND", "transaction status is not available")
}

// ConsumeBudget consumes budget outside the phased protocol
// @Summary Consume budget directly
// @Description Atomically consumes the requested budget slots from a v2 body
// @Tags Transactions
// @Accept json
// @Produce json
// @Success 200
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ExhaustedResponse
// @Failure 500 {object} ErrorResponse
// @Router /v1/transactions:consume-budget [post]
func (h *TransactionHandler) ConsumeBudget(w http.ResponseWriter, r *http.Request) {
	h.handleConsume(w, r)
}

func (h *TransactionHandler) handleConsume(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.GetCaller(r.Context())
	txn, okTxn := middleware.GetTransaction(r.Context())
	if !ok || !okTxn {
		h.sendError(w, http.StatusInternalServerError, "INITIALIZATION_ERROR", "request reached the budget path unauthenticated")
		return
	}

	req, err := h.decodeRequest(w, r, caller, txn)
	if err != nil {
		h.writeError(w, r, txn, err)
		return
	}

	if err := h.checkOriginAllowlist(caller, req); err != nil {
		h.writeError(w, r, txn, err)
		return
	}

	class := middleware.ClassOf(txn.ClaimedIdentity, h.peerSite)
	if caller.IsCoordinator {
		class = metrics.OriginCoordinator
	}

	_, err = h.consume.Consume(r.Context(), consume.Input{
		AuthorizedDomain: caller.AuthorizedDomain,
		Request:          req,
		TransactionID:    txn.ID,
		ClaimedIdentity:  txn.ClaimedIdentity,
		Phase:            middleware.PhaseForPath(r.URL.Path),
		Class:            class,
	})
	if err != nil {
		h.writeError(w, r, txn, err)
		return
	}

	h.ack(w)
}

// decodeRequest reads the body and lifts v1 requests onto the v2 shape.
// The v1 reporting origin comes from the transaction-origin header,
// falling back to the caller's authorized domain.
func (h *TransactionHandler) decodeRequest(w http.ResponseWriter, r *http.Request, caller *auth.Caller, txn *middleware.Transaction) (*request.ConsumeBudgetRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		return nil, fmt.Errorf("read request body: %v: %w", err, budget.ErrInvalidRequestBody)
	}

	var probe struct {
		Version string `json:"v"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("malformed request body: %v: %w", err, budget.ErrInvalidRequestBody)
	}

	if probe.Version == "1.0" {
		var legacy request.LegacyRequest
		if err := json.Unmarshal(body, &legacy); err != nil {
			return nil, fmt.Errorf("malformed v1 request body: %v: %w", err, budget.ErrInvalidRequestBody)
		}
		origin := txn.Origin
		if origin == "" {
			origin = caller.AuthorizedDomain
		}
		return legacy.ToV2(origin), nil
	}

	var req request.ConsumeBudgetRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("malformed request body: %v: %w", err, budget.ErrInvalidRequestBody)
	}
	return &req, nil
}

// checkOriginAllowlist enforces the operator's optional reporting-origin
// allowlist before any budget work.
func (h *TransactionHandler) checkOriginAllowlist(caller *auth.Caller, req *request.ConsumeBudgetRequest) error {
	if len(caller.AllowedOrigins) == 0 {
		return nil
	}
	allowed := make(map[string]bool, len(caller.AllowedOrigins))
	for _, origin := range caller.AllowedOrigins {
		allowed[origin] = true
	}
	for i := range req.Data {
		if !allowed[req.Data[i].ReportingOrigin] {
			return fmt.Errorf("reporting origin %d is not allowlisted for %s: %w", i, caller.Identity, auth.ErrForbidden)
		}
	}
	return nil
}

func (h *TransactionHandler) writeError(w http.ResponseWriter, r *http.Request, txn *middleware.Transaction, err error) {
	var exhausted *budget.ExhaustedError
	if errors.As(err, &exhausted) {
		h.writeExhausted(w, r, exhausted.Indices)
		return
	}

	switch {
	case errors.Is(err, request.ErrInvalidVersion),
		errors.Is(err, request.ErrMissingData),
		errors.Is(err, request.ErrEmptyOrigin),
		errors.Is(err, request.ErrBadTokens),
		errors.Is(err, request.ErrUnknownBudgetType),
		errors.Is(err, budget.ErrInvalidRequestBody):
		h.sendError(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", err.Error())
	case errors.Is(err, request.ErrNoKeys):
		h.sendError(w, http.StatusBadRequest, "NO_KEYS_AVAILABLE", err.Error())
	case errors.Is(err, request.ErrOriginNotPartOfSite),
		errors.Is(err, site.ErrInvalidOrigin):
		h.sendError(w, http.StatusBadRequest, "REPORTING_ORIGIN_NOT_BELONG_TO_SITE", err.Error())
	case errors.Is(err, request.ErrDuplicateOrigin),
		errors.Is(err, request.ErrMixedBudgetTypes),
		errors.Is(err, budget.ErrInvalidRequest):
		h.sendError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, auth.ErrForbidden):
		h.sendError(w, http.StatusForbidden, "PERMISSION_DENIED", err.Error())
	case errors.Is(err, budget.ErrCorruptValue):
		h.logger.Error("Stored budget value undecodable",
			zap.String("transaction_id", txn.ID),
			zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "PARSING_ERROR", "stored budget value is undecodable")
	case errors.Is(err, store.ErrNotInitialized):
		h.sendError(w, http.StatusInternalServerError, "INITIALIZATION_ERROR", "budget store is not initialized")
	default:
		h.logger.Error("Budget transaction failed",
			zap.String("transaction_id", txn.ID),
			zap.Error(err))
		h.sendError(w, http.StatusInternalServerError, "FAIL_TO_COMMIT", "budget transaction failed to commit")
	}
}

// writeExhausted encodes the 409 body. Callers speaking a protobuf
// content type get the field names of the proto response message; the
// rest get the legacy short form.
func (h *TransactionHandler) writeExhausted(w http.ResponseWriter, r *http.Request, indices []int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusConflict)
	if wantsProtoEncoding(r) {
		_ = json.NewEncoder(w).Encode(ExhaustedResponse{
			Version:                "1.0",
			ExhaustedBudgetIndices: indices,
		})
		return
	}
	_ = json.NewEncoder(w).Encode(LegacyExhaustedResponse{
		Version: "1.0",
		Failed:  indices,
	})
}

func wantsProtoEncoding(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mt == "application/x-protobuf" || mt == "application/protobuf"
}

func (h *TransactionHandler) ack(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}

func (h *TransactionHandler) sendError(w http.ResponseWriter, statusCode int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error: ErrorBody{Code: code, Message: message},
	})
}
