// Package kind scrapes the KIND public offering progress table.
package kind

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/publicsuffix"

	"ipopipe/internal/ports"
)

const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64)"

// Client keeps a cookie session because the sub page is only served after
// the main page has been visited.
type Client struct {
	mainURL string
	origin  string
	http    *http.Client
	now     func() time.Time
}

var _ ports.ListingSource = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := strings.TrimRight(baseURL, "/")
	origin := base
	if u, err := url.Parse(base); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}
	return &Client{
		mainURL: base + "/pubofrprogcom.do",
		origin:  origin,
		http:    &http.Client{Jar: jar, Timeout: timeout},
		now:     time.Now,
	}, nil
}

func (c *Client) FetchListingRows(ctx context.Context) ([]map[string]any, error) {
	if _, err := c.get(ctx); err != nil {
		return nil, err
	}
	body, err := c.postSub(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := parseCompanyTable(strings.NewReader(body), c.now())
	if err != nil {
		return nil, &ports.UpstreamError{Source: "KIND", Endpoint: "searchPubofrProgComSub", Kind: ports.KindRequest, Message: "parse table", Err: err}
	}
	return rows, nil
}

func (c *Client) get(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mainURL+"?method=searchPubofrProgComMain", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)
	return c.do(req, "searchPubofrProgComMain")
}

func (c *Client) postSub(ctx context.Context) (string, error) {
	form := url.Values{}
	form.Set("method", "searchPubofrProgComSub")
	form.Set("forward", "pubofrprogcom_sub")
	form.Set("currentPageSize", "3000")
	form.Set("pageIndex", "1")
	for _, k := range []string{"marketType", "searchCorpName", "fromDate", "toDate", "repMajAgntDesignAdvserComp", "repMajAgntComp", "designAdvserComp"} {
		form.Set(k, "")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mainURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", c.mainURL+"?method=searchPubofrProgComMain")
	req.Header.Set("Origin", c.origin)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return c.do(req, "searchPubofrProgComSub")
}

func (c *Client) do(req *http.Request, endpoint string) (string, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &ports.UpstreamError{Source: "KIND", Endpoint: endpoint, Kind: ports.KindRequest, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &ports.UpstreamError{Source: "KIND", Endpoint: endpoint, Kind: ports.KindRequest, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ports.UpstreamError{Source: "KIND", Endpoint: endpoint, Kind: ports.KindRequest, StatusCode: resp.StatusCode, Message: fmt.Sprintf("unexpected status %s", resp.Status)}
	}
	return string(body), nil
}
