// Package advisor provides remote strategy providers for core/advisor.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/lastmile/auth"
	coreadvisor "github.com/kilianp07/lastmile/core/advisor"
	"github.com/kilianp07/lastmile/core/factory"
)

// HTTPConfig configures an HTTP JSON advisor.
type HTTPConfig struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Token  string `json:"token"`
	Header string `json:"header"`
	// OAuth2 replaces the static token with client credential tokens.
	OAuth2 auth.Conf `json:"oauth2"`
}

// HTTPProvider posts the request context as JSON and expects a
// Suggestion document back.
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPProvider validates cfg and returns a provider.
func NewHTTPProvider(cfg HTTPConfig) (*HTTPProvider, error) {
	if cfg.URL == "" {
		return nil, errors.New("http advisor: url is required")
	}
	if cfg.Name == "" {
		cfg.Name = "http"
	}
	if cfg.Header == "" {
		cfg.Header = "Authorization"
	}
	client := &http.Client{Timeout: 30 * time.Second}
	if cfg.OAuth2.Enabled() {
		cc, err := auth.NewClientCred(cfg.OAuth2, client)
		if err != nil {
			return nil, fmt.Errorf("http advisor: %w", err)
		}
		client = cc.Client(client)
		cfg.Token = ""
	}
	return &HTTPProvider{cfg: cfg, client: client}, nil
}

func init() {
	_ = coreadvisor.RegisterProvider("http", func(conf map[string]any) (coreadvisor.Provider, error) {
		var c HTTPConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewHTTPProvider(c)
	})
}

// Name returns the configured provider name.
func (p *HTTPProvider) Name() string { return p.cfg.Name }

// SuggestStrategy asks the remote advisor for a preset or weight vector.
// Cancellation of ctx aborts the call.
func (p *HTTPProvider) SuggestStrategy(ctx context.Context, c coreadvisor.Context) (coreadvisor.Suggestion, error) {
	body, err := json.Marshal(c)
	if err != nil {
		return coreadvisor.Suggestion{}, fmt.Errorf("marshal context: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return coreadvisor.Suggestion{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.cfg.Token != "" {
		v := p.cfg.Token
		if p.cfg.Header == "Authorization" && !strings.HasPrefix(v, "Bearer ") {
			v = "Bearer " + v
		}
		req.Header.Set(p.cfg.Header, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return coreadvisor.Suggestion{}, fmt.Errorf("suggest: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return coreadvisor.Suggestion{}, fmt.Errorf("suggest: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var s coreadvisor.Suggestion
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return coreadvisor.Suggestion{}, fmt.Errorf("decode suggestion: %w", err)
	}
	if s.Preset == "" && len(s.Weights) == 0 {
		return coreadvisor.Suggestion{}, errors.New("suggest: empty answer")
	}
	return s, nil
}
