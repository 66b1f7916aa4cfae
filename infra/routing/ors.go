// Package routing provides remote matrix services for core/routing.
package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/kilianp07/lastmile/core/factory"
	"github.com/kilianp07/lastmile/core/model"
	corerouting "github.com/kilianp07/lastmile/core/routing"
)

const defaultBaseURL = "https://api.openrouteservice.org"

// ORSConfig configures the OpenRouteService matrix client.
type ORSConfig struct {
	URL         string  `json:"url"`
	APIKey      string  `json:"api_key"`
	Profile     string  `json:"profile"`
	RatePerSec  float64 `json:"rate_per_sec"`
	Burst       int     `json:"burst"`
	MaxAttempts int     `json:"max_attempts"`
	BackoffMs   int     `json:"backoff_ms"`
}

// SetDefaults fills unset fields.
func (c *ORSConfig) SetDefaults() {
	if c.URL == "" {
		c.URL = defaultBaseURL
	}
	if c.Profile == "" {
		c.Profile = "driving-car"
	}
	if c.RatePerSec == 0 {
		c.RatePerSec = 10
	}
	if c.Burst == 0 {
		c.Burst = 1
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 4
	}
	if c.BackoffMs == 0 {
		c.BackoffMs = 200
	}
}

// Validate checks the configuration.
func (c ORSConfig) Validate() error {
	if c.APIKey == "" {
		return errors.New("ors: api_key is required")
	}
	if c.RatePerSec < 0 || c.Burst < 0 || c.MaxAttempts < 0 || c.BackoffMs < 0 {
		return errors.New("ors: rate, burst, attempts and backoff must not be negative")
	}
	return nil
}

// HTTPStatusError is returned for non-2xx answers.
type HTTPStatusError struct {
	Code int
	Body string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Code, e.Body)
}

// ORSClient resolves legs with the OpenRouteService matrix endpoint.
// It is safe for concurrent use.
type ORSClient struct {
	cfg     ORSConfig
	http    *http.Client
	limiter *rate.Limiter
	backoff time.Duration
}

// NewORSClient returns a client built from cfg.
func NewORSClient(cfg ORSConfig) (*ORSClient, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &ORSClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		backoff: time.Duration(cfg.BackoffMs) * time.Millisecond,
	}, nil
}

func init() {
	_ = corerouting.RegisterService("ors", func(conf map[string]any) (corerouting.MatrixService, error) {
		var c ORSConfig
		if err := factory.Decode(conf, &c); err != nil {
			return nil, err
		}
		return NewORSClient(c)
	})
}

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Sources      []int       `json:"sources"`
	Destinations []int       `json:"destinations"`
	Metrics      []string    `json:"metrics"`
	Units        string      `json:"units"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// GetLeg returns the road distance and duration from one point to another.
func (c *ORSClient) GetLeg(ctx context.Context, from, to model.Location) (corerouting.Leg, error) {
	payload, err := json.Marshal(matrixRequest{
		Locations:    [][]float64{{from.Lng, from.Lat}, {to.Lng, to.Lat}},
		Sources:      []int{0},
		Destinations: []int{1},
		Metrics:      []string{"distance", "duration"},
		Units:        "km",
	})
	if err != nil {
		return corerouting.Leg{}, fmt.Errorf("marshal matrix request: %w", err)
	}
	endpoint := fmt.Sprintf("%s/v2/matrix/%s", strings.TrimRight(c.cfg.URL, "/"), c.cfg.Profile)
	resp, err := c.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", c.cfg.APIKey)
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return corerouting.Leg{}, fmt.Errorf("matrix request: %w", err)
	}
	defer resp.Body.Close()

	var mr matrixResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return corerouting.Leg{}, fmt.Errorf("decode matrix response: %w", err)
	}
	if len(mr.Distances) == 0 || len(mr.Distances[0]) == 0 || mr.Distances[0][0] == nil ||
		len(mr.Durations) == 0 || len(mr.Durations[0]) == 0 || mr.Durations[0][0] == nil {
		return corerouting.Leg{}, errors.New("matrix response has no route")
	}
	return corerouting.Leg{
		DistanceKm: *mr.Distances[0][0],
		Duration:   time.Duration(*mr.Durations[0][0] * float64(time.Second)),
	}, nil
}

func (c *ORSClient) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, &HTTPStatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// doWithRetry retries network errors, 429 and 5xx answers with exponential
// backoff. Every attempt waits for the rate limiter first.
func (c *ORSClient) doWithRetry(ctx context.Context, makeReq func() (*http.Request, error)) (*http.Response, error) {
	backoff := c.backoff
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}
		resp, err := c.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || attempt == c.cfg.MaxAttempts {
			return nil, lastErr
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff *= 2
	}
	return nil, lastErr
}

func retryable(err error) bool {
	var he *HTTPStatusError
	if errors.As(err, &he) {
		switch he.Code {
		case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne)
}
