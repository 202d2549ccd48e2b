package cookies

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
)

// BrowserWorker drives one long-lived headless browser. Each job opens a
// fresh tab on that browser, waits for the page to issue the config's
// nominated API request, and writes the captured headers back to the
// datasource config. The browser context is created once and every job runs
// against it — never rebuild the browser per job.
type BrowserWorker struct {
	cfg    common.BrowserConfig
	store  interfaces.DatasourceStore
	logger arbor.ILogger

	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewBrowserWorker launches the browser eagerly so a broken Chrome install
// fails at startup, not on the first job.
func NewBrowserWorker(cfg common.BrowserConfig, store interfaces.DatasourceStore, logger arbor.ILogger) (*BrowserWorker, error) {
	opts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("no-sandbox", cfg.NoSandbox),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(cfg.UserAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocCancel()
		return nil, dserrors.Wrap(dserrors.KindConfig, "browser startup", err)
	}

	logger.Info().Bool("headless", cfg.Headless).Msg("Browser started")

	return &BrowserWorker{
		cfg:           cfg,
		store:         store,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close shuts down the browser. Pages are already closed per job.
func (w *BrowserWorker) Close() error {
	w.browserCancel()
	w.allocCancel()
	w.logger.Info().Msg("Browser closed")
	return nil
}

// Run implements interfaces.BrowserJobRunner for one config: open a tab on
// the shared browser, navigate to the social index URL, capture the headers
// of the sub-request whose URL exactly equals the config's api_url, and
// persist them.
func (w *BrowserWorker) Run(ctx context.Context, config *models.DatasourceConfig) error {
	pageURL := config.SocialIndexURL
	targetAPI := config.RequestParams.APIURL
	if pageURL == "" || targetAPI == "" {
		return dserrors.Newf(dserrors.KindProtocol, "config %s lacks social_index_url or api_url", config.ID)
	}

	tabCtx, tabCancel := chromedp.NewContext(w.browserCtx)
	defer tabCancel()

	runCtx, cancel := context.WithTimeout(tabCtx, w.cfg.CaptureTimeout.Std())
	defer cancel()

	captured := make(chan map[string]string, 1)
	listenForAPIRequest(tabCtx, targetAPI, captured)

	// Navigation and the capture race: the API request usually fires during
	// page load, so start listening before navigating and don't fail the job
	// just because the load event beat the capture.
	if err := chromedp.Run(runCtx, network.Enable(), chromedp.Navigate(pageURL)); err != nil {
		select {
		case headers := <-captured:
			return w.persist(ctx, config, headers)
		default:
		}
		return dserrors.Wrap(dserrors.KindTransport, "navigate "+pageURL, err)
	}

	select {
	case headers := <-captured:
		return w.persist(ctx, config, headers)
	case <-runCtx.Done():
		return dserrors.Newf(dserrors.KindTimeout, "page %s never requested %s", pageURL, targetAPI)
	}
}

func (w *BrowserWorker) persist(ctx context.Context, config *models.DatasourceConfig, headers map[string]string) error {
	matched, err := w.store.UpdateHeaders(ctx, config.SocialIndexURL, headers)
	if err != nil {
		return err
	}
	if matched == 0 {
		w.logger.Warn().
			Str("datasource_id", config.ID).
			Str("url", config.SocialIndexURL).
			Msg("No config matched for header writeback")
	}
	return nil
}

// listenForAPIRequest watches network events on the tab and delivers the
// headers of the first request whose URL exactly equals target. Raw header
// frames arrive separately from the request event, in either order, so both
// sides correlate on the request id.
func listenForAPIRequest(tabCtx context.Context, target string, captured chan<- map[string]string) {
	var (
		mu         sync.Mutex
		matchedIDs = make(map[network.RequestID]map[string]string)
		extraInfo  = make(map[network.RequestID]network.Headers)
		delivered  bool
	)

	deliver := func(headers map[string]string) {
		if !delivered {
			delivered = true
			captured <- headers
		}
	}

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		mu.Lock()
		defer mu.Unlock()

		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if e.Request.URL != target {
				return
			}
			headers := stripPseudoHeaders(e.Request.Headers)
			if extra, ok := extraInfo[e.RequestID]; ok {
				deliver(mergeHeaders(headers, extra))
				return
			}
			matchedIDs[e.RequestID] = headers

		case *network.EventRequestWillBeSentExtraInfo:
			if base, ok := matchedIDs[e.RequestID]; ok {
				deliver(mergeHeaders(base, e.Headers))
				return
			}
			extraInfo[e.RequestID] = e.Headers
		}
	})
}

// mergeHeaders folds the raw wire headers over the request headers; the raw
// frame carries the complete set including cookies.
func mergeHeaders(base map[string]string, extra network.Headers) map[string]string {
	merged := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range stripPseudoHeaders(extra) {
		merged[k] = v
	}
	return merged
}

// stripPseudoHeaders drops HTTP/2 pseudo-headers (":authority", ":method",
// ":path", ":scheme") and renders values as strings.
func stripPseudoHeaders(headers network.Headers) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.HasPrefix(k, ":") {
			continue
		}
		out[k] = fmt.Sprintf("%v", v)
	}
	return out
}
