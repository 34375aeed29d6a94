package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	providerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payops_provider_calls_total",
		Help: "Provider API calls, labeled by outcome",
	}, []string{"provider", "op", "outcome"})

	providerCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payops_provider_call_duration_seconds",
		Help:    "Latency distribution of provider API calls",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"provider", "op"})
)

const maxResponseBytes = 1 << 20

type apiClient struct {
	provider string
	baseURL  string
	secret   string
	http     *http.Client
}

func newAPIClient(provider, secret string, opts Options) *apiClient {
	return &apiClient{provider: provider, baseURL: opts.BaseURL, secret: secret, http: opts.httpClient()}
}

// call sends a JSON request and decodes a 2xx body into out. errMessage
// extracts the provider's error text from a non-2xx body.
func (c *apiClient) call(ctx context.Context, op, method, path string, body, out any, errMessage func([]byte) string) error {
	timer := prometheus.NewTimer(providerCallDuration.WithLabelValues(c.provider, op))
	defer timer.ObserveDuration()

	err := c.do(ctx, op, method, path, body, out, errMessage)
	outcome := "ok"
	if pe, ok := err.(*Error); ok {
		outcome = pe.Kind.String()
	} else if err != nil {
		outcome = "error"
	}
	providerCallsTotal.WithLabelValues(c.provider, op, outcome).Inc()
	return err
}

func (c *apiClient) do(ctx context.Context, op, method, path string, body, out any, errMessage func([]byte) string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Provider: c.provider, Op: op, Kind: KindRejected, Message: "request encoding failed", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return &Error{Provider: c.provider, Op: op, Kind: KindRejected, Message: "request build failed", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return networkError(c.provider, op, fmt.Errorf("after %s: %w", time.Since(start).Round(time.Millisecond), err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return networkError(c.provider, op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errMessage(raw)
		if retryableStatus(resp.StatusCode) {
			return &Error{Provider: c.provider, Op: op, Kind: KindNetwork, StatusCode: resp.StatusCode, Message: msg}
		}
		return rejection(c.provider, op, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return &Error{Provider: c.provider, Op: op, Kind: KindNetwork, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
		}
	}
	return nil
}

// messageField reads the conventional {"message": "..."} error body.
func messageField(raw []byte) string {
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Message != "" {
		return body.Message
	}
	if len(raw) > 200 {
		raw = raw[:200]
	}
	return string(raw)
}
