// Package coordinator talks to the other coordinator's budget service.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/auth"
	"github.com/opencoordinator/pbs/internal/httpclient"
	"github.com/opencoordinator/pbs/internal/request"
	"github.com/opencoordinator/pbs/pkg/circuitbreaker"
)

// ErrPeerUnavailable means the peer could not be reached, either
// because the breaker is open or because every attempt failed.
var ErrPeerUnavailable = errors.New("peer coordinator unavailable")

// PeerError is a non-exhaustion rejection the peer reported.
type PeerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *PeerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("peer returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("peer returned %d", e.StatusCode)
}

// Status is the peer's liveness answer.
type Status struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

// ConsumeInput is one budget relay call.
type ConsumeInput struct {
	// TransactionID is generated when empty.
	TransactionID     string
	TransactionSecret string
	Request           *request.ConsumeBudgetRequest
}

// ConsumeResult reports what the peer did with the keys.
type ConsumeResult struct {
	Exhausted bool
	// ExhaustedIndices are flat key positions, present when Exhausted.
	ExhaustedIndices []int
}

// Config wires the client.
type Config struct {
	// BaseURL is the peer's root, e.g. https://peer.example.com.
	BaseURL string
	// Interceptor signs outbound requests; nil sends them unsigned.
	Interceptor *auth.Interceptor
	// Breaker skips calls while open; nil disables breaking.
	Breaker *circuitbreaker.SimpleBreaker
}

// Client relays budget operations to the peer coordinator's service.
type Client struct {
	http        *httpclient.Client
	interceptor *auth.Interceptor
	breaker     *circuitbreaker.SimpleBreaker
	baseURL     string
	logger      *zap.Logger
}

func NewClient(cfg *Config, hc *httpclient.Client, logger *zap.Logger) *Client {
	return &Client{
		http:        hc,
		interceptor: cfg.Interceptor,
		breaker:     cfg.Breaker,
		baseURL:     cfg.BaseURL,
		logger:      logger,
	}
}

// Health probes the peer's status endpoint. The probe bypasses the
// breaker so an operator can always see the live state.
func (c *Client) Health(ctx context.Context) (*Status, error) {
	out := c.http.Do(ctx, &httpclient.Request{
		Method: http.MethodGet,
		URL:    c.baseURL + "/v1/service:status",
	})
	if !out.OK() {
		if out.Response != nil {
			return nil, fmt.Errorf("peer status %d: %w", out.Response.StatusCode, ErrPeerUnavailable)
		}
		return nil, fmt.Errorf("%w: %v", ErrPeerUnavailable, out.Err)
	}

	var st Status
	if err := json.Unmarshal(out.Response.Body, &st); err != nil {
		return nil, fmt.Errorf("peer status body is not JSON: %w", err)
	}
	return &st, nil
}

// ConsumeBudget relays a consume request to the peer. Exhaustion is a
// healthy protocol answer and comes back in the result, not the error.
func (c *Client) ConsumeBudget(ctx context.Context, in *ConsumeInput) (*ConsumeResult, error) {
	if c.breaker != nil && c.breaker.IsOpen() {
		c.logger.Warn("Skipping peer call, breaker open", zap.String("peer", c.baseURL))
		return nil, fmt.Errorf("breaker open: %w", ErrPeerUnavailable)
	}

	txnID := in.TransactionID
	if txnID == "" {
		txnID = uuid.NewString()
	}

	body, err := json.Marshal(in.Request)
	if err != nil {
		return nil, fmt.Errorf("encode consume request: %w", err)
	}

	req := &httpclient.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/v1/transactions:consume-budget",
		Headers: http.Header{
			"Content-Type":               []string{"application/json"},
			auth.HeaderTransactionID:     []string{txnID},
			auth.HeaderTransactionSecret: []string{in.TransactionSecret},
		},
		Body: body,
	}
	if c.interceptor != nil {
		if err := c.interceptor.PrepareRequest(ctx, req); err != nil {
			return nil, fmt.Errorf("sign peer request: %w", err)
		}
	}

	out := c.http.Do(ctx, req)
	switch out.Result {
	case httpclient.ResultOK:
		c.recordSuccess()
		return &ConsumeResult{}, nil

	case httpclient.ResultClientError:
		// The peer answered, so the link is healthy regardless of
		// what it thought of the request.
		c.recordSuccess()
		if out.Response.StatusCode == http.StatusConflict {
			return parseExhausted(out.Response.Body)
		}
		return nil, peerErrorFrom(out.Response)

	default:
		c.recordFailure()
		c.logger.Warn("Peer call failed",
			zap.String("peer", c.baseURL),
			zap.String("result", out.Result.String()),
			zap.Error(out.Err))
		return nil, fmt.Errorf("%s: %w", out.Result, ErrPeerUnavailable)
	}
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

// parseExhausted accepts both conflict body shapes: the compact
// {"v","f"} form and the proto-JSON {"version","exhausted_budget_indices"}
// form.
func parseExhausted(body []byte) (*ConsumeResult, error) {
	var conflict struct {
		V       string `json:"v"`
		F       []int  `json:"f"`
		Version string `json:"version"`
		Indices []int  `json:"exhausted_budget_indices"`
	}
	if err := json.Unmarshal(body, &conflict); err != nil {
		return nil, fmt.Errorf("peer conflict body is not JSON: %w", err)
	}

	indices := conflict.F
	if indices == nil {
		indices = conflict.Indices
	}
	if indices == nil {
		return nil, fmt.Errorf("peer conflict body carries no exhausted indices")
	}
	return &ConsumeResult{Exhausted: true, ExhaustedIndices: indices}, nil
}

func peerErrorFrom(resp *httpclient.Response) *PeerError {
	pe := &PeerError{StatusCode: resp.StatusCode}
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(resp.Body, &envelope); err == nil {
		pe.Code = envelope.Error.Code
		pe.Message = envelope.Error.Message
	}
	return pe
}
