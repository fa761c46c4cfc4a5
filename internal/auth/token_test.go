package auth

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeToken(t *testing.T, body string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(body))
}

func TestDecodeToken(t *testing.T) {
	raw := encodeToken(t, `{"access_key":"AKIDEXAMPLE","signature":"deadbeef","amz_date":"20260102T030405Z"}`)

	tok, err := DecodeToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "AKIDEXAMPLE", tok.AccessKey)
	assert.Equal(t, "deadbeef", tok.Signature)
	assert.Equal(t, "20260102T030405Z", tok.AmzDate)
	assert.Empty(t, tok.SecurityToken)
}

func TestDecodeTokenUnpadded(t *testing.T) {
	body := `{"access_key":"AK","signature":"sig","amz_date":"20260102T030405Z","security_token":"sess"}`
	raw := base64.RawStdEncoding.EncodeToString([]byte(body))

	tok, err := DecodeToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "sess", tok.SecurityToken)
}

func TestDecodeTokenTrimsWhitespace(t *testing.T) {
	raw := "  " + encodeToken(t, `{"access_key":"AK","signature":"sig","amz_date":"20260102T030405Z"}`) + "\n"

	_, err := DecodeToken(raw)
	assert.NoError(t, err)
}

func TestDecodeTokenRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"blank", "   "},
		{"not base64", "!!not-base64!!"},
		{"not json", base64.StdEncoding.EncodeToString([]byte("hello"))},
		{"missing access key", base64.StdEncoding.EncodeToString([]byte(`{"signature":"s","amz_date":"20260102T030405Z"}`))},
		{"missing signature", base64.StdEncoding.EncodeToString([]byte(`{"access_key":"AK","amz_date":"20260102T030405Z"}`))},
		{"missing amz date", base64.StdEncoding.EncodeToString([]byte(`{"access_key":"AK","signature":"s"}`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeToken(tt.raw)
			assert.ErrorIs(t, err, ErrBadToken)
		})
	}
}

func TestSigningDate(t *testing.T) {
	tok := Token{AmzDate: "20260102T030405Z"}
	assert.Equal(t, "20260102", tok.SigningDate())

	short := Token{AmzDate: "2026"}
	assert.Equal(t, "2026", short.SigningDate())
}
