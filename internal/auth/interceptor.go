package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/opencoordinator/pbs/internal/httpclient"
)

// signedHeaders must match what the token vendor covered when it
// pre-computed the signature.
const signedHeaders = "host;x-amz-date;x-gscp-claimed-identity"

// AuthorizedMetadata is what the peer's auth handshake returns.
type AuthorizedMetadata struct {
	AuthorizedDomain string `json:"authorized_domain"`
}

// InterceptorConfig wires the outbound signer.
type InterceptorConfig struct {
	// Source supplies the base64 token material per call.
	Source TokenSource
	// ClaimedIdentity is this deployment's own site.
	ClaimedIdentity string
	// Region and Service form the SigV4 credential scope. Service
	// defaults to execute-api.
	Region  string
	Service string
}

// Interceptor decorates outbound cross-coordinator requests with the
// signed auth headers and reads back the authorization handshake.
type Interceptor struct {
	cfg    InterceptorConfig
	logger *zap.Logger
}

func NewInterceptor(cfg *InterceptorConfig, logger *zap.Logger) *Interceptor {
	c := *cfg
	if c.Service == "" {
		c.Service = "execute-api"
	}
	return &Interceptor{cfg: c, logger: logger}
}

// PrepareRequest obtains a token, validates it and signs the request
// SigV4-style with the token's pre-computed signature. Any missing or
// malformed token field yields ErrBadToken and leaves the request
// untouched.
func (i *Interceptor) PrepareRequest(ctx context.Context, req *httpclient.Request) error {
	raw, err := i.cfg.Source.Token(ctx)
	if err != nil {
		return err
	}
	tok, err := DecodeToken(raw)
	if err != nil {
		return err
	}

	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	scope := fmt.Sprintf("%s/%s/%s/aws4_request", tok.SigningDate(), i.cfg.Region, i.cfg.Service)
	req.Headers.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		tok.AccessKey, scope, signedHeaders, tok.Signature,
	))
	req.Headers.Set("x-amz-date", tok.AmzDate)
	if tok.SecurityToken != "" {
		req.Headers.Set("x-amz-security-token", tok.SecurityToken)
	}
	req.Headers.Set(HeaderClaimedIdentity, i.cfg.ClaimedIdentity)
	return nil
}

// AuthorizedMetadataFromResponse parses the auth handshake body and
// requires an authorized domain in it.
func (i *Interceptor) AuthorizedMetadataFromResponse(resp *httpclient.Response) (*AuthorizedMetadata, error) {
	if resp == nil || len(resp.Body) == 0 {
		return nil, fmt.Errorf("empty authorization response: %w", ErrBadToken)
	}
	var meta AuthorizedMetadata
	if err := json.Unmarshal(resp.Body, &meta); err != nil {
		return nil, fmt.Errorf("authorization response is not JSON: %w", ErrBadToken)
	}
	if meta.AuthorizedDomain == "" {
		return nil, fmt.Errorf("authorization response has no authorized_domain: %w", ErrBadToken)
	}
	return &meta, nil
}
