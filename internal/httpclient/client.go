// Package httpclient executes spider HTTP requests with bounded retries,
// expected-status checking, and optional proxy acquisition.
package httpclient

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
)

// Client implements interfaces.Fetcher over net/http. One logical request
// acquires its proxy once; retries reuse it.
type Client struct {
	cfg    common.FetcherConfig
	logger arbor.ILogger
	proxy  *proxyAcquirer

	// base client without proxy; proxied requests build a transport per
	// logical request because the proxy address differs each time.
	base *http.Client
}

// NewClient builds a fetcher from config.
func NewClient(cfg common.FetcherConfig, logger arbor.ILogger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = common.Duration(30 * time.Second)
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = common.Duration(time.Second)
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		proxy:  newProxyAcquirer(cfg, logger),
		base:   &http.Client{Timeout: cfg.Timeout.Std()},
	}
}

// Do executes one logical request. Transport errors and status mismatches
// retry alike, sleeping retry_delay_base * attempt between attempts.
func (c *Client) Do(ctx context.Context, req interfaces.FetchRequest) (*interfaces.FetchResult, error) {
	expected := req.ExpectedStatus
	if expected == 0 {
		expected = http.StatusOK
	}
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.cfg.MaxRetries
	}

	httpClient := c.base
	if req.NeedProxy {
		proxyURL, err := c.proxy.acquire(ctx, req.ProxyPool)
		if err != nil {
			return nil, err
		}
		httpClient = &http.Client{
			Timeout:   c.cfg.Timeout.Std(),
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	start := time.Now()
	var lastErr error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		status, body, err := c.doOnce(ctx, httpClient, req)
		switch {
		case err != nil:
			lastErr = err
		case status != expected:
			lastErr = dserrors.Newf(dserrors.KindStatusMismatch, "got status %d, expected %d", status, expected)
		default:
			return &interfaces.FetchResult{
				Status:    status,
				Body:      body,
				ElapsedMS: time.Since(start).Milliseconds(),
				Attempts:  attempt,
			}, nil
		}

		if attempt < maxRetries {
			delay := c.cfg.RetryDelayBase.Std() * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return nil, dserrors.Wrap(dserrors.KindTimeout, "fetch cancelled", ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, httpClient *http.Client, req interfaces.FetchRequest) (int, []byte, error) {
	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return 0, nil, dserrors.Wrap(dserrors.KindProtocol, "build request", err)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for name, value := range req.Cookies {
		httpReq.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		if urlErr, ok := err.(*url.Error); ok && urlErr.Timeout() {
			return 0, nil, dserrors.Wrap(dserrors.KindTimeout, "fetch "+req.URL, err)
		}
		return 0, nil, dserrors.Wrap(dserrors.KindHTTPTransport, "fetch "+req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, dserrors.Wrap(dserrors.KindHTTPTransport, "read body "+req.URL, err)
	}
	return resp.StatusCode, body, nil
}

// EncodeForm renders a postdata map as an application/x-www-form-urlencoded
// body, the wire shape list APIs in this corpus expect.
func EncodeForm(postdata map[string]string) []byte {
	if len(postdata) == 0 {
		return nil
	}
	values := url.Values{}
	for k, v := range postdata {
		values.Set(k, v)
	}
	return []byte(values.Encode())
}
