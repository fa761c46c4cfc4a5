package auth

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadToken marks auth material that is absent, undecodable or
	// missing required fields.
	ErrBadToken = errors.New("auth token is missing or malformed")

	// ErrForbidden marks a verified caller that is not allowed to act
	// as the identity it claims.
	ErrForbidden = errors.New("caller is not allowed")
)

// Inbound and outbound header names of the transaction protocol.
const (
	HeaderTransactionID     = "x-gscp-transaction-id"
	HeaderTransactionSecret = "x-gscp-transaction-secret"
	HeaderClaimedIdentity   = "x-gscp-claimed-identity"
	HeaderTransactionOrigin = "x-gscp-transaction-origin"
	HeaderAuthToken         = "x-auth-token"
)

// Token is the outbound auth material: base64 JSON carrying a
// pre-computed SigV4-style signature and its signing date.
type Token struct {
	AccessKey     string `json:"access_key"`
	Signature     string `json:"signature"`
	AmzDate       string `json:"amz_date"`
	SecurityToken string `json:"security_token,omitempty"`
}

// DecodeToken parses and validates base64 token material. Padded and
// unpadded encodings are both accepted.
func DecodeToken(raw string) (*Token, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("empty token: %w", ErrBadToken)
	}
	data, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(trimmed)
	}
	if err != nil {
		return nil, fmt.Errorf("token is not base64: %w", ErrBadToken)
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("token is not a JSON document: %w", ErrBadToken)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// Validate checks the required fields.
func (t *Token) Validate() error {
	switch {
	case t.AccessKey == "":
		return fmt.Errorf("token has no access_key: %w", ErrBadToken)
	case t.Signature == "":
		return fmt.Errorf("token has no signature: %w", ErrBadToken)
	case t.AmzDate == "":
		return fmt.Errorf("token has no amz_date: %w", ErrBadToken)
	}
	return nil
}

// SigningDate returns the YYYYMMDD prefix of the amz_date used in the
// credential scope.
func (t *Token) SigningDate() string {
	if len(t.AmzDate) >= 8 {
		return t.AmzDate[:8]
	}
	return t.AmzDate
}
