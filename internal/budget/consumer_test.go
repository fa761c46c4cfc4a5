package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencoordinator/pbs/internal/request"
)

const testOrigin = "https://origin.a.example.com"

func v2Request(keys ...request.Key) *request.ConsumeBudgetRequest {
	return &request.ConsumeBudgetRequest{
		Version: "2.0",
		Data:    []request.RequestData{{ReportingOrigin: testOrigin, Keys: keys}},
	}
}

func key(clientKey, reportingTime string) request.Key {
	return request.Key{Key: clientKey, Token: 1, ReportingTime: reportingTime}
}

func parsed(t *testing.T, phase Phase, req *request.ConsumeBudgetRequest) *BinaryConsumer {
	t.Helper()
	c := NewBinaryConsumer(phase)
	require.NoError(t, c.ParseRequest(req, "https://a.example.com"))
	return c
}

func TestParseRequest(t *testing.T) {
	t.Run("indexes distinct slots", func(t *testing.T) {
		c := parsed(t, PhaseJSONOnly, v2Request(
			key("k1", "2026-01-02T03:00:00Z"),
			key("k1", "2026-01-02T04:00:00Z"),
			key("k2", "2026-01-02T03:00:00Z"),
		))

		assert.Equal(t, 3, c.KeyCount())
		pks := c.PrimaryKeys()
		require.Len(t, pks, 2, "same key and day share one row")
		assert.Equal(t, "https://origin.a.example.com/k1", pks[0].BudgetKey)
		assert.Equal(t, "https://origin.a.example.com/k2", pks[1].BudgetKey)
	})

	t.Run("same wall hour on different days", func(t *testing.T) {
		c := parsed(t, PhaseJSONOnly, v2Request(
			key("k1", "2026-01-02T03:00:00Z"),
			key("k1", "2026-01-03T03:00:00Z"),
		))
		assert.Len(t, c.PrimaryKeys(), 2)
	})

	t.Run("duplicate slot rejected", func(t *testing.T) {
		c := NewBinaryConsumer(PhaseJSONOnly)
		err := c.ParseRequest(v2Request(
			key("k1", "2026-01-02T03:00:00Z"),
			key("k1", "2026-01-02T03:59:59Z"),
		), "https://a.example.com")
		assert.ErrorIs(t, err, ErrInvalidRequest)
		assert.NotContains(t, err.Error(), "k1", "messages cite indices, not key material")
		assert.Contains(t, err.Error(), "key 1")
	})

	t.Run("token list form", func(t *testing.T) {
		c := NewBinaryConsumer(PhaseJSONOnly)
		req := v2Request(request.Key{
			Key:           "k1",
			Tokens:        []request.TokenEntry{{TokenInt32: 1}},
			ReportingTime: "2026-01-02T03:00:00Z",
		})
		assert.NoError(t, c.ParseRequest(req, "https://a.example.com"))
	})

	t.Run("token list overrides scalar", func(t *testing.T) {
		c := NewBinaryConsumer(PhaseJSONOnly)
		req := v2Request(request.Key{
			Key:           "k1",
			Token:         5,
			Tokens:        []request.TokenEntry{{TokenInt32: 1}},
			ReportingTime: "2026-01-02T03:00:00Z",
		})
		assert.NoError(t, c.ParseRequest(req, "https://a.example.com"))
	})

	t.Run("token other than one rejected", func(t *testing.T) {
		c := NewBinaryConsumer(PhaseJSONOnly)
		err := c.ParseRequest(v2Request(request.Key{
			Key: "k1", Token: 2, ReportingTime: "2026-01-02T03:00:00Z",
		}), "https://a.example.com")
		assert.ErrorIs(t, err, ErrInvalidRequestBody)
	})

	t.Run("multi entry token list rejected", func(t *testing.T) {
		c := NewBinaryConsumer(PhaseJSONOnly)
		err := c.ParseRequest(v2Request(request.Key{
			Key:           "k1",
			Tokens:        []request.TokenEntry{{TokenInt32: 1}, {TokenInt32: 1}},
			ReportingTime: "2026-01-02T03:00:00Z",
		}), "https://a.example.com")
		assert.ErrorIs(t, err, ErrInvalidRequestBody)
	})

	t.Run("bad reporting time rejected", func(t *testing.T) {
		c := NewBinaryConsumer(PhaseJSONOnly)
		err := c.ParseRequest(v2Request(key("k1", "yesterday")), "https://a.example.com")
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})
}

func TestConsumeFreshKeys(t *testing.T) {
	c := parsed(t, PhaseJSONOnly, v2Request(
		key("k1", "2026-01-02T03:00:00Z"),
		key("k1", "2026-01-02T04:00:00Z"),
	))

	mutations, err := c.Consume(nil)
	require.NoError(t, err)
	require.Len(t, mutations, 1, "one mutation per primary key")

	v, err := DecodeValueJSON(mutations[0].Value)
	require.NoError(t, err)
	assert.Equal(t, UnitEmpty, v[3])
	assert.Equal(t, UnitEmpty, v[4])
	assert.Equal(t, UnitFull, v[5], "untouched hours keep their budget")
	assert.Nil(t, mutations[0].ValueProto, "phase 1 does not write proto")
}

func TestConsumeExistingRow(t *testing.T) {
	c := parsed(t, PhaseJSONOnly, v2Request(key("k1", "2026-01-02T03:00:00Z")))
	pk := c.PrimaryKeys()[0]

	stored, err := EncodeValueJSON(valueWithEmpty(7))
	require.NoError(t, err)

	mutations, err := c.Consume([]Row{{
		BudgetKey: pk.BudgetKey,
		Timeframe: pk.Timeframe(),
		Value:     stored,
	}})
	require.NoError(t, err)
	require.Len(t, mutations, 1)

	v, err := DecodeValueJSON(mutations[0].Value)
	require.NoError(t, err)
	assert.Equal(t, UnitEmpty, v[3], "requested hour consumed")
	assert.Equal(t, UnitEmpty, v[7], "previously consumed hour stays empty")
}

func TestConsumeExhausted(t *testing.T) {
	c := parsed(t, PhaseJSONOnly, v2Request(
		key("k1", "2026-01-02T03:00:00Z"),
		key("k1", "2026-01-02T04:00:00Z"),
		key("k2", "2026-01-02T05:00:00Z"),
	))
	pks := c.PrimaryKeys()

	stored, err := EncodeValueJSON(valueWithEmpty(3, 4))
	require.NoError(t, err)

	mutations, err := c.Consume([]Row{{
		BudgetKey: pks[0].BudgetKey,
		Timeframe: pks[0].Timeframe(),
		Value:     stored,
	}})
	require.Nil(t, mutations, "exhaustion writes nothing")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []int{0, 1}, exhausted.Indices, "flat positions, sorted")
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestConsumeIgnoresUnsolicitedRows(t *testing.T) {
	c := parsed(t, PhaseJSONOnly, v2Request(key("k1", "2026-01-02T03:00:00Z")))
	pk := c.PrimaryKeys()[0]

	empty, err := EncodeValueJSON(Value{})
	require.NoError(t, err)

	mutations, err := c.Consume([]Row{
		{BudgetKey: "https://other.example.com/k9", Timeframe: pk.Timeframe(), Value: empty},
		{BudgetKey: pk.BudgetKey, Timeframe: "not-a-day", Value: empty},
	})
	require.NoError(t, err, "stray rows cannot exhaust the request")
	require.Len(t, mutations, 1)
}

func TestConsumeCorruptRow(t *testing.T) {
	c := parsed(t, PhaseJSONOnly, v2Request(key("k1", "2026-01-02T03:00:00Z")))
	pk := c.PrimaryKeys()[0]

	_, err := c.Consume([]Row{{
		BudgetKey: pk.BudgetKey,
		Timeframe: pk.Timeframe(),
		Value:     []byte(`{"TokenCount":"broken"}`),
	}})
	assert.ErrorIs(t, err, ErrCorruptValue)
}

func TestConsumePhaseColumns(t *testing.T) {
	tests := []struct {
		phase      Phase
		wantValue  bool
		wantProto  bool
		truthProto bool
	}{
		{PhaseJSONOnly, true, false, false},
		{PhaseDualWrite, true, true, false},
		{PhaseProtoRead, true, true, true},
		{PhaseProtoOnly, false, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			c := parsed(t, tt.phase, v2Request(key("k1", "2026-01-02T03:00:00Z")))
			assert.Equal(t, tt.truthProto, c.ReadColumns().ValueProto)

			mutations, err := c.Consume(nil)
			require.NoError(t, err)
			require.Len(t, mutations, 1)
			assert.Equal(t, tt.wantValue, mutations[0].Value != nil)
			assert.Equal(t, tt.wantProto, mutations[0].ValueProto != nil)
		})
	}
}

func TestConsumeProtoTruth(t *testing.T) {
	c := parsed(t, PhaseProtoRead, v2Request(key("k1", "2026-01-02T03:00:00Z")))
	pk := c.PrimaryKeys()[0]

	// The JSON column says hour 3 is free, the proto column says it is
	// spent. In phase 3 the proto column decides.
	jsonFree, err := EncodeValueJSON(FullValue())
	require.NoError(t, err)

	_, err = c.Consume([]Row{{
		BudgetKey:  pk.BudgetKey,
		Timeframe:  pk.Timeframe(),
		Value:      jsonFree,
		ValueProto: EncodeValueProto(valueWithEmpty(3)),
	}})
	assert.ErrorIs(t, err, ErrBudgetExhausted)
}

func TestConsumeDualWriteAgreement(t *testing.T) {
	c := parsed(t, PhaseDualWrite, v2Request(key("k1", "2026-01-02T03:00:00Z")))

	mutations, err := c.Consume(nil)
	require.NoError(t, err)
	require.Len(t, mutations, 1)

	fromJSON, err := DecodeValueJSON(mutations[0].Value)
	require.NoError(t, err)
	fromProto, err := DecodeValueProto(mutations[0].ValueProto)
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromProto, "both columns carry the same vector")
}
