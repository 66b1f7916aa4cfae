// Package auth obtains OAuth2 client credential tokens for outbound HTTP
// calls.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// ClientCred caches a client credentials token and refreshes it when it
// expires. It is safe for concurrent use.
type ClientCred struct {
	src oauth2.TokenSource
}

// NewClientCred returns a token source for conf. Token requests go through
// base when it is not nil.
func NewClientCred(conf Conf, base *http.Client) (*ClientCred, error) {
	if !conf.Enabled() {
		return nil, errors.New("auth: token_url is required")
	}
	if conf.ClientID == "" {
		return nil, errors.New("auth: client_id is required")
	}
	ctx := context.Background()
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	cc := conf.toOauth2Config()
	return &ClientCred{src: oauth2.ReuseTokenSource(nil, cc.TokenSource(ctx))}, nil
}

// Token returns a valid access token, fetching a new one if needed.
func (c *ClientCred) Token() (string, error) {
	tok, err := c.src.Token()
	if err != nil {
		return "", fmt.Errorf("failed to get token: %w", err)
	}
	return tok.AccessToken, nil
}

// Client wraps base so that every request carries the bearer token.
func (c *ClientCred) Client(base *http.Client) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	out := *base
	out.Transport = &oauth2.Transport{Source: c.src, Base: base.Transport}
	return &out
}
