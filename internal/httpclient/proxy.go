package httpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
)

const (
	proxyAcquireRetries = 5
	proxyAcquireDelay   = time.Second
)

// proxyAcquirer fetches a proxy address from the pool API. The API returns
// either {"ip": "host:port"} or a JSON array whose first element is the
// address.
type proxyAcquirer struct {
	endpoints map[interfaces.ProxyPool]string
	client    *http.Client
	logger    arbor.ILogger
}

func newProxyAcquirer(cfg common.FetcherConfig, logger arbor.ILogger) *proxyAcquirer {
	return &proxyAcquirer{
		endpoints: map[interfaces.ProxyPool]string{
			interfaces.ProxyPoolFree: cfg.FreeProxyAPI,
			interfaces.ProxyPoolPaid: cfg.PaidProxyAPI,
		},
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger,
	}
}

// acquire asks the pool API for one proxy, retrying up to 5 times with a
// fixed 1s delay. Exhaustion is fatal for the logical request.
func (p *proxyAcquirer) acquire(ctx context.Context, pool interfaces.ProxyPool) (*url.URL, error) {
	if pool == "" {
		pool = interfaces.ProxyPoolFree
	}
	endpoint := p.endpoints[pool]
	if endpoint == "" {
		return nil, dserrors.Newf(dserrors.KindProxyAcquire, "no proxy api configured for pool %q", pool)
	}

	var lastErr error
	for attempt := 0; attempt < proxyAcquireRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, dserrors.Wrap(dserrors.KindProxyAcquire, "proxy acquisition cancelled", ctx.Err())
			case <-time.After(proxyAcquireDelay):
			}
		}

		addr, err := p.fetchOnce(ctx, endpoint)
		if err != nil {
			lastErr = err
			continue
		}

		proxyURL, err := url.Parse("http://" + addr)
		if err != nil {
			lastErr = err
			continue
		}
		return proxyURL, nil
	}

	p.logger.Debug().Err(lastErr).Str("pool", string(pool)).Msg("Proxy acquisition exhausted")
	return nil, dserrors.Wrap(dserrors.KindProxyAcquire,
		fmt.Sprintf("proxy acquisition failed after %d attempts", proxyAcquireRetries), lastErr)
}

func (p *proxyAcquirer) fetchOnce(ctx context.Context, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("proxy api status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	// Object form first, array form second.
	var obj struct {
		IP string `json:"ip"`
	}
	if err := json.Unmarshal(body, &obj); err == nil && obj.IP != "" {
		return obj.IP, nil
	}
	var list []string
	if err := json.Unmarshal(body, &list); err == nil && len(list) > 0 {
		return list[0], nil
	}
	return "", fmt.Errorf("unrecognized proxy api response")
}
