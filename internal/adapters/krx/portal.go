package krx

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"

	"ipopipe/internal/ports"
)

// PortalClient posts bld requests to the data portal JSON endpoint.
type PortalClient struct {
	endpoint string
	http     *http.Client
	limiter  *rate.Limiter
}

var _ ports.BldFetcher = (*PortalClient)(nil)

func NewPortalClient(endpoint string, opts ...Option) *PortalClient {
	o := buildOptions(opts)
	return &PortalClient{endpoint: endpoint, http: o.httpClient, limiter: newLimiter(o.ratePerSec)}
}

func (c *PortalClient) FetchBld(ctx context.Context, bld string, params map[string]string) (map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: bld, Kind: ports.KindRequest, Err: err}
	}
	form := url.Values{}
	form.Set("bld", bld)
	for k, v := range params {
		form.Set(k, v)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &ports.UpstreamError{Source: sourceName, Endpoint: bld, Kind: ports.KindRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	return do(c.http, req, bld)
}
