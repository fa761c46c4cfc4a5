package auth

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource yields the raw outbound auth material for peer calls.
// Implementations wrap wherever the deployment gets credentials from:
// static configuration or an OAuth2 token endpoint.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token from configuration.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no static token configured: %w", ErrBadToken)
	}
	return string(s), nil
}

// NewOAuthTokenSource builds a source against a token endpoint using
// the client credentials grant. The underlying source caches and
// refreshes tokens on its own.
func NewOAuthTokenSource(ctx context.Context, cfg *clientcredentials.Config) TokenSource {
	return &oauthSource{src: cfg.TokenSource(ctx)}
}

type oauthSource struct {
	src oauth2.TokenSource
}

func (s *oauthSource) Token(ctx context.Context) (string, error) {
	tok, err := s.src.Token()
	if err != nil {
		return "", fmt.Errorf("obtain oauth token: %v: %w", err, ErrBadToken)
	}
	return tok.AccessToken, nil
}
