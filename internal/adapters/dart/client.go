// Package dart reads the OpenDART disclosure list API.
package dart

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"ipopipe/internal/ports"
)

const (
	statusOK     = "000"
	statusNoData = "013"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ ports.DisclosureSource = (*Client)(nil)

func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: httpClient}
}

type listResponse struct {
	Status  string           `json:"status"`
	Message string           `json:"message"`
	List    []map[string]any `json:"list"`
}

// FetchDisclosureRows returns one page of list.json. A "no data" status
// yields an empty slice.
func (c *Client) FetchDisclosureRows(ctx context.Context, q ports.DisclosureQuery) ([]map[string]any, error) {
	params := url.Values{}
	params.Set("crtfc_key", c.apiKey)
	params.Set("corp_code", q.CorpCode)
	params.Set("page_no", strconv.Itoa(max(q.PageNo, 1)))
	params.Set("page_count", strconv.Itoa(pageCount(q.PageCount)))
	if q.LastReportAt != "" {
		params.Set("last_reprt_at", q.LastReportAt)
	}
	if q.BeginDate != "" {
		params.Set("bgn_de", q.BeginDate)
	}
	if q.EndDate != "" {
		params.Set("end_de", q.EndDate)
	}

	const endpoint = "list.json"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, &ports.UpstreamError{Source: "DART", Endpoint: endpoint, Kind: ports.KindRequest, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ports.UpstreamError{Source: "DART", Endpoint: endpoint, Kind: ports.KindRequest, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &ports.UpstreamError{Source: "DART", Endpoint: endpoint, Kind: ports.KindRequest, StatusCode: resp.StatusCode, Message: resp.Status}
	}

	var body listResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, &ports.UpstreamError{Source: "DART", Endpoint: endpoint, Kind: ports.KindRequest, Message: "decode response", Err: err}
	}
	switch strings.TrimSpace(body.Status) {
	case statusOK:
		return body.List, nil
	case statusNoData:
		return []map[string]any{}, nil
	case "010", "011", "012", "901":
		// unregistered, disabled or unauthorised key
		return nil, &ports.UpstreamError{Source: "DART", Endpoint: endpoint, Kind: ports.KindAuth, Message: statusMessage(body)}
	default:
		return nil, &ports.UpstreamError{Source: "DART", Endpoint: endpoint, Kind: ports.KindRequest, Message: statusMessage(body)}
	}
}

func pageCount(n int) int {
	if n <= 0 {
		return 100
	}
	return min(n, 100)
}

func statusMessage(r listResponse) string {
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "Unknown DART API error"
	}
	return fmt.Sprintf("status=%s: %s", r.Status, msg)
}
