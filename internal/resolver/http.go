package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/roach88/catalog/internal/record"
)

// maxResponseBytes bounds how much of a resolver response is read.
const maxResponseBytes = 8 << 20

// HTTP resolves records by POSTing the Query as JSON to a remote endpoint.
//
// The endpoint answers 200 with the record object, or 404 when the record
// does not exist. Any other status is an error.
type HTTP struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// HTTPOption configures an HTTP resolver.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTP) {
		h.client = c
	}
}

// WithHTTPLogger sets the logger used for request diagnostics.
func WithHTTPLogger(l *slog.Logger) HTTPOption {
	return func(h *HTTP) {
		h.logger = l
	}
}

// NewHTTP creates a resolver for endpoint (e.g. "http://catalog-remote/resolve").
func NewHTTP(endpoint string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		endpoint: endpoint,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   3 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Resolve implements Resolver. Deadlines come from ctx.
func (h *HTTP) Resolve(ctx context.Context, q Query) (record.Data, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%s: encode query: %w", q.Entity, q.ID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%s: build request: %w", q.Entity, q.ID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%s: %w", q.Entity, q.ID, err)
	}
	defer resp.Body.Close()

	h.logger.Debug("resolver request",
		"entity", q.Entity,
		"entity_id", q.ID,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s:%s", ErrNotFound, q.Entity, q.ID)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("resolve %s:%s: unexpected status %d: %s", q.Entity, q.ID, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%s: read body: %w", q.Entity, q.ID, err)
	}
	data, err := record.ParseData(raw)
	if err != nil {
		return nil, fmt.Errorf("resolve %s:%s: %w", q.Entity, q.ID, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s:%s (empty body)", ErrNotFound, q.Entity, q.ID)
	}
	return data, nil
}
