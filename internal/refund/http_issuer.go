package refund

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/toko-refunds/internal/resilience"
)

// HTTPIssuer posts refund payloads to a remote refund-issuing service.
type HTTPIssuer struct {
	URL    string
	Client resilience.HTTPClient
}

// NewHTTPClient returns an http.Client whose transport is traced.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

type issuerResponse struct {
	OK *bool `json:"ok"`
}

// Issue sends p and reports success for a 2xx answer whose body is empty or
// carries "ok": true.
func (h HTTPIssuer) Issue(ctx context.Context, p Payload) (Result, error) {
	if strings.TrimSpace(h.URL) == "" {
		return Result{}, fmt.Errorf("refund: issuer url not configured")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return Result{}, fmt.Errorf("refund: encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.RefundID != "" {
		req.Header.Set("Idempotency-Key", p.RefundID)
	}
	resp, err := h.Client.Do(ctx, req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{}, fmt.Errorf("refund: read issuer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("refund: issuer responded %s", resp.Status)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return Result{OK: true}, nil
	}
	var decoded issuerResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("refund: decode issuer response: %w", err)
	}
	if decoded.OK == nil {
		return Result{OK: true}, nil
	}
	return Result{OK: *decoded.OK}, nil
}

// Name is used as the issuer metric label.
func (h HTTPIssuer) Name() string { return "http" }
