package router

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/auth"
	"github.com/opencoordinator/pbs/internal/budget"
	"github.com/opencoordinator/pbs/internal/config"
	"github.com/opencoordinator/pbs/internal/handlers"
	"github.com/opencoordinator/pbs/internal/metrics"
	"github.com/opencoordinator/pbs/internal/services/consume"
	"github.com/opencoordinator/pbs/internal/services/ratelimit"
	"github.com/opencoordinator/pbs/internal/store"
)

type testStack struct {
	handler  http.Handler
	store    *store.MemoryStore
	registry *metrics.Registry
}

func newTestStack(t *testing.T, limiter ratelimit.Limiter) *testStack {
	t.Helper()
	st := store.NewMemoryStore()
	reg := metrics.NewRegistry("test")
	logger := zap.NewNop()

	consumeService := consume.NewService(st, budget.StaticPhase(budget.PhaseJSONOnly), reg, logger, consume.Config{})
	authService := auth.NewService(auth.ServiceConfig{Mode: auth.ModeNone}, nil, nil, nil, logger)
	health := handlers.NewHealthHandler(st, nil, reg, "test")

	cfg := &config.Config{}
	cfg.Peer.Site = "https://coordinator-b.example.net"
	cfg.RateLimit.Window = time.Minute

	handler := New(&Config{
		Config:      cfg,
		Logger:      logger,
		Registry:    reg,
		Consume:     consumeService,
		AuthService: authService,
		Limiter:     limiter,
		Health:      health,
	})
	return &testStack{handler: handler, store: st, registry: reg}
}

func (s *testStack) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	return rec
}

func consumeBody(keys ...string) string {
	entries := make([]string, len(keys))
	for i, k := range keys {
		entries[i] = `{"key":"` + k + `","token":1,"reporting_time":"2026-01-02T03:10:00Z"}`
	}
	return `{"v":"2.0","data":[{"reporting_origin":"https://origin.a.example.com","keys":[` +
		strings.Join(entries, ",") + `]}]}`
}

func consumeRequest(body string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/v1/transactions:consume-budget", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set(auth.HeaderTransactionID, uuid.NewString())
	r.Header.Set(auth.HeaderTransactionSecret, "secret")
	r.Header.Set(auth.HeaderClaimedIdentity, "https://a.example.com")
	return r
}

func TestConsumeBudgetThroughRouter(t *testing.T) {
	s := newTestStack(t, nil)

	rec := s.do(consumeRequest(consumeBody("k1")))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.store.Len())

	// The same slot again is a conflict, reported in the legacy encoding.
	rec = s.do(consumeRequest(consumeBody("k1")))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"v":"1.0","f":[0]}`, rec.Body.String())
}

func TestConsumeBudgetProtoCallerEncoding(t *testing.T) {
	s := newTestStack(t, nil)

	require.Equal(t, http.StatusOK, s.do(consumeRequest(consumeBody("k1"))).Code)

	r := consumeRequest(consumeBody("k1"))
	r.Header.Set("Content-Type", "application/x-protobuf")
	rec := s.do(r)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"version":"1.0","exhausted_budget_indices":[0]}`, rec.Body.String())
}

func TestPrepareTakesLegacyBody(t *testing.T) {
	s := newTestStack(t, nil)

	body := `{"v":"1.0","t":[{"key":"k1","token":1,"reporting_time":"2026-01-02T03:10:00Z"}]}`
	r := httptest.NewRequest(http.MethodPost, "/v1/transactions:prepare", strings.NewReader(body))
	r.Header.Set(auth.HeaderTransactionID, uuid.NewString())
	r.Header.Set(auth.HeaderTransactionSecret, "secret")
	r.Header.Set(auth.HeaderClaimedIdentity, "https://a.example.com")
	r.Header.Set(auth.HeaderTransactionOrigin, "https://origin.a.example.com")

	rec := s.do(r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, s.store.Len())
}

func TestProtocolAckRoutes(t *testing.T) {
	s := newTestStack(t, nil)

	for _, phase := range []string{"begin", "commit", "notify", "abort", "end"} {
		r := httptest.NewRequest(http.MethodPost, "/v1/transactions:"+phase, nil)
		r.Header.Set(auth.HeaderTransactionID, uuid.NewString())
		r.Header.Set(auth.HeaderTransactionSecret, "secret")
		r.Header.Set(auth.HeaderClaimedIdentity, "https://a.example.com")

		rec := s.do(r)
		assert.Equal(t, http.StatusOK, rec.Code, "phase %s", phase)
	}
}

func TestTransactionStatusIsNotFoundBeforeAuth(t *testing.T) {
	s := newTestStack(t, nil)

	// No transaction headers at all; the route must still answer.
	rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/transactions:status", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")
}

func TestUnauthenticatedConsumeRejected(t *testing.T) {
	s := newTestStack(t, nil)

	r := httptest.NewRequest(http.MethodPost, "/v1/transactions:consume-budget", strings.NewReader(consumeBody("k1")))
	rec := s.do(r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_REQUEST")
	assert.Zero(t, s.store.Len())
}

func TestProbeRoutes(t *testing.T) {
	s := newTestStack(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"store"`)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/v1/service:status", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pbs"`)
}

func TestNotFoundEnvelope(t *testing.T) {
	s := newTestStack(t, nil)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/v1/unknown", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error": {"code": "NOT_FOUND", "message": "not found"}}`, rec.Body.String())
}

func TestRouterRateLimits(t *testing.T) {
	limiter := ratelimit.NewInMemoryLimiter(zap.NewNop(), ratelimit.Config{Limit: 1, Window: time.Minute})
	s := newTestStack(t, limiter)

	require.Equal(t, http.StatusOK, s.do(consumeRequest(consumeBody("k1"))).Code)

	rec := s.do(consumeRequest(consumeBody("k2")))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRequestsAreInstrumented(t *testing.T) {
	s := newTestStack(t, nil)

	s.do(consumeRequest(consumeBody("k1")))
	s.do(httptest.NewRequest(http.MethodGet, "/v1/transactions:status", nil))

	families, err := s.registry.Gatherer().Gather()
	require.NoError(t, err)

	var requests float64
	for _, f := range families {
		if f.GetName() != "pbs_frontend_requests_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			requests += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, 2.0, requests, "transaction routes count every request, probes do not")
}

func TestMetricsRouter(t *testing.T) {
	reg := metrics.NewRegistry("9.9.9")
	handler := NewMetricsRouter(reg)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pbs_build_info")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "metrics")
}
