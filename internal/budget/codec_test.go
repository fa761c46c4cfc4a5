package budget

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func valueWithEmpty(hours ...int) Value {
	v := FullValue()
	for _, h := range hours {
		v[h] = UnitEmpty
	}
	return v
}

func TestEncodeValueJSON(t *testing.T) {
	out, err := EncodeValueJSON(FullValue())
	require.NoError(t, err)
	assert.JSONEq(t, `{"TokenCount":"1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1"}`, string(out))

	out, err = EncodeValueJSON(valueWithEmpty(0, 23))
	require.NoError(t, err)
	assert.JSONEq(t, `{"TokenCount":"0 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 0"}`, string(out))
}

func TestDecodeValueJSON(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		want := valueWithEmpty(3, 7, 11)
		data, err := EncodeValueJSON(want)
		require.NoError(t, err)
		got, err := DecodeValueJSON(data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("corrupt documents", func(t *testing.T) {
		tests := []struct {
			name string
			data string
		}{
			{"not json", `not a document`},
			{"wrong field type", `{"TokenCount":24}`},
			{"too few entries", `{"TokenCount":"1 1 1"}`},
			{"too many entries", `{"TokenCount":"1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1"}`},
			{"non numeric entry", `{"TokenCount":"1 1 x 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1"}`},
			{"out of range entry", `{"TokenCount":"1 1 2 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1 1"}`},
			{"empty", ``},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := DecodeValueJSON([]byte(tt.data))
				assert.ErrorIs(t, err, ErrCorruptValue)
			})
		}
	})
}

func TestEncodeValueProto(t *testing.T) {
	data := EncodeValueProto(FullValue())

	// One packed bytes field, tag 1.
	num, typ, n := protowire.ConsumeTag(data)
	require.Greater(t, n, 0)
	assert.Equal(t, protowire.Number(1), num)
	assert.Equal(t, protowire.BytesType, typ)

	packed, m := protowire.ConsumeBytes(data[n:])
	require.Greater(t, m, 0)

	count := 0
	for len(packed) > 0 {
		x, m := protowire.ConsumeVarint(packed)
		require.Greater(t, m, 0)
		packed = packed[m:]
		assert.Equal(t, uint64(6400), x)
		count++
	}
	assert.Equal(t, HoursPerDay, count)
}

func TestDecodeValueProto(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		want := valueWithEmpty(0, 12, 23)
		got, err := DecodeValueProto(EncodeValueProto(want))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("unpacked encoding", func(t *testing.T) {
		var data []byte
		want := valueWithEmpty(5)
		for _, u := range want {
			data = protowire.AppendTag(data, 1, protowire.VarintType)
			var n uint64
			if u == UnitFull {
				n = 6400
			}
			data = protowire.AppendVarint(data, n)
		}
		got, err := DecodeValueProto(data)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("unknown fields are skipped", func(t *testing.T) {
		data := protowire.AppendTag(nil, 9, protowire.VarintType)
		data = protowire.AppendVarint(data, 42)
		data = append(data, EncodeValueProto(FullValue())...)

		got, err := DecodeValueProto(data)
		require.NoError(t, err)
		assert.Equal(t, FullValue(), got)
	})

	t.Run("corrupt payloads", func(t *testing.T) {
		short := EncodeValueProto(FullValue())

		badEntry := protowire.AppendTag(nil, 1, protowire.VarintType)
		badEntry = protowire.AppendVarint(badEntry, 17)

		tests := []struct {
			name string
			data []byte
		}{
			{"truncated", short[:len(short)-3]},
			{"empty", nil},
			{"wrong unit value", badEntry},
			{"garbage", []byte{0xff, 0xff, 0xff}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := DecodeValueProto(tt.data)
				assert.ErrorIs(t, err, ErrCorruptValue)
			})
		}
	})
}
