// Package krx talks to the KRX OpenAPI and the KRX data portal.
package krx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ipopipe/internal/ports"
)

const (
	sourceName   = "KRX"
	maxBodyBytes = 32 << 20
)

// OpenAPIClient fetches KRX OpenAPI paths such as "sto/stk_isu_base_info".
type OpenAPIClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
}

var _ ports.DatasetFetcher = (*OpenAPIClient)(nil)

type Option func(*options)

type options struct {
	httpClient *http.Client
	ratePerSec float64
}

func WithHTTPClient(c *http.Client) Option { return func(o *options) { o.httpClient = c } }

// WithRate limits outgoing requests; zero or negative disables limiting.
func WithRate(perSec float64) Option { return func(o *options) { o.ratePerSec = perSec } }

func buildOptions(opts []Option) options {
	o := options{httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

func newLimiter(perSec float64) *rate.Limiter {
	if perSec <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(perSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSec), burst)
}

func NewOpenAPIClient(baseURL, apiKey string, opts ...Option) *OpenAPIClient {
	o := buildOptions(opts)
	return &OpenAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    o.httpClient,
		limiter: newLimiter(o.ratePerSec),
	}
}

func (c *OpenAPIClient) FetchDataset(ctx context.Context, apiPath string, params map[string]string) (map[string]any, error) {
	endpoint := c.baseURL + "/" + strings.TrimLeft(apiPath, "/")
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: apiPath, Kind: ports.KindRequest, Err: err}
	}
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: apiPath, Kind: ports.KindRequest, Err: err}
	}
	req.Header.Set("AUTH_KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")
	return do(c.http, req, apiPath)
}

// do executes req and classifies the outcome. Access denials are recognised
// by body text because the upstream WAF answers them with varying statuses.
func do(client *http.Client, req *http.Request, endpoint string) (map[string]any, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: endpoint, Kind: ports.KindRequest, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: endpoint, Kind: ports.KindRequest, StatusCode: resp.StatusCode, Err: err}
	}
	if bytes.Contains(bytes.ToLower(body), []byte("access denied")) {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: endpoint, Kind: ports.KindAccessDenied, StatusCode: resp.StatusCode, Message: "access denied"}
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: endpoint, Kind: ports.KindAuth, StatusCode: resp.StatusCode, Message: snippet(body)}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: endpoint, Kind: ports.KindRequest, StatusCode: resp.StatusCode, Message: snippet(body)}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: endpoint, Kind: ports.KindRequest, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if code := fmt.Sprint(out["respCode"]); code == "401" || code == "403" {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: endpoint, Kind: ports.KindAuth, StatusCode: resp.StatusCode, Message: fmt.Sprint(out["respMsg"])}
	}
	return out, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
