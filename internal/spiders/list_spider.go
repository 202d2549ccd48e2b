package spiders

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/common"
	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/httpclient"
	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
)

// SpiderNameList is the registry name of the list-page crawler.
const SpiderNameList = "list_spider"

// pageToken is the placeholder interpolated with the current page cursor in
// either the API URL template or exactly one postdata value.
const pageToken = "{0}"

const (
	defaultPageDelay = 5 * time.Second
	defaultBucket    = "spider-results"
)

func init() {
	Register(SpiderNameList, func(deps Deps) interfaces.Spider {
		return NewListSpider(deps)
	})
}

// pageFieldLocation says where the page variable lives for one config.
type pageFieldLocation int

const (
	pageInURL pageFieldLocation = iota
	pageInBody
)

type pageField struct {
	location pageFieldLocation
	key      string // postdata key carrying the token, for pageInBody
}

// ListSpider crawls one paginated listing API per task: template
// substitution, duplicate-response detection, consecutive-failure detection,
// response storage, and URL extraction. Strictly sequential — at most one
// outstanding HTTP request per task.
type ListSpider struct {
	fetcher    interfaces.Fetcher
	datasource interfaces.DatasourceStore
	objects    interfaces.ObjectStore
	extractor  interfaces.Extractor
	logger     arbor.ILogger

	bucket       string
	pageDelay    time.Duration
	dedupMaxURLs int
}

// NewListSpider builds the list-page crawler from its collaborators.
func NewListSpider(deps Deps) *ListSpider {
	bucket := deps.Bucket
	if bucket == "" {
		bucket = defaultBucket
	}
	pageDelay := deps.PageDelay
	if pageDelay <= 0 {
		pageDelay = defaultPageDelay
	}
	return &ListSpider{
		fetcher:      deps.Fetcher,
		datasource:   deps.Datasource,
		objects:      deps.Objects,
		extractor:    NewJSONPathExtractor(),
		logger:       deps.Logger,
		bucket:       bucket,
		pageDelay:    pageDelay,
		dedupMaxURLs: deps.DedupMaxURLs,
	}
}

// Name implements interfaces.Spider.
func (s *ListSpider) Name() string { return SpiderNameList }

// Start runs one round over the task's pagination until a stop condition
// fires. The returned statistic always carries a stop reason when err is
// nil; a non-nil error means the run could not start or was cancelled.
func (s *ListSpider) Start(ctx context.Context, task *models.Task) (*models.CrawlStatistic, error) {
	stat := models.NewCrawlStatistic()

	step := task.PaginationStep()
	if step <= 0 {
		return stat, dserrors.Newf(dserrors.KindProtocol, "datasource %s: pagination step must be positive", task.ID)
	}

	field, err := locatePageField(task.RequestParams)
	if err != nil {
		stat.StopReason = models.StopNoPageVariable
		return stat, err
	}

	taskID := task.TaskID
	if taskID == "" {
		taskID = common.NewTaskID()
	}

	seen := newURLSeenSet(s.dedupMaxURLs, s.logger)
	cur := task.PaginationStart()
	useOverride := task.HasIndexOverride()

	for {
		if err := ctx.Err(); err != nil {
			// Cancellation lands at the loop boundary; mid-request
			// cancellation is best-effort via the fetch context.
			return stat, dserrors.Wrap(dserrors.KindTimeout, "run cancelled", err)
		}

		url, postdata := s.materialize(task, field, cur, useOverride)
		useOverride = false

		body := httpclient.EncodeForm(postdata)
		method := http.MethodGet
		if len(body) > 0 {
			method = http.MethodPost
		}

		result, fetchErr := s.fetcher.Do(ctx, interfaces.FetchRequest{
			Method:  method,
			URL:     url,
			Headers: task.RequestParams.Headers,
			Cookies: task.RequestParams.Cookies,
			Body:    body,
		})

		if fetchErr != nil || result.Status != http.StatusOK {
			// A hard transport error classifies exactly like a non-200.
			status := 0
			if result != nil {
				status = result.Status
			}
			s.logger.Warn().
				Str("datasource_id", task.ID).
				Int("page_cursor", cur).
				Int("status", status).
				Err(fetchErr).
				Msg("Page fetch failed")

			if consecutive := stat.RecordFailure(cur, step); consecutive {
				stat.StopReason = models.StopConsecutiveFailures(cur)
				break
			}
		} else {
			stat.RecordSuccess()
			if stat.IsDuplicateBody(result.Body) {
				stat.StopReason = models.StopDuplicateBody(cur)
				break
			}
			stat.SetLastBody(result.Body)

			s.persist(ctx, task, taskID, cur, result.Body)

			if stop := s.extractAndCheck(task, cur, result.Body, seen); stop {
				stat.StopReason = models.StopDuplicateURLs
				break
			}
		}

		cur += step

		select {
		case <-ctx.Done():
			return stat, dserrors.Wrap(dserrors.KindTimeout, "run cancelled", ctx.Err())
		case <-time.After(s.pageDelay):
		}
	}

	s.logger.Info().
		Str("datasource_id", task.ID).
		Int("total", stat.Total).
		Int("success", stat.Success).
		Int("failed", len(stat.Fail)).
		Str("stop_reason", stat.StopReason).
		Msg("List crawl finished")

	return stat, nil
}

// materialize computes the request URL and postdata for one page. The very
// first request honors the additional index overrides; every later page uses
// the substituted templates.
func (s *ListSpider) materialize(task *models.Task, field pageField, cur int, useOverride bool) (string, map[string]string) {
	params := task.RequestParams

	if useOverride {
		url := params.Additional.IndexAPIURL
		if url == "" {
			url = params.APIURL
		}
		postdata := params.Additional.IndexPostdata
		if len(postdata) == 0 {
			postdata = params.Postdata
		}
		// Override templates may still carry the page token.
		return substitute(url, cur), substituteMap(postdata, cur)
	}

	switch field.location {
	case pageInURL:
		return substitute(params.APIURL, cur), params.Postdata
	default:
		postdata := make(map[string]string, len(params.Postdata))
		for k, v := range params.Postdata {
			postdata[k] = v
		}
		postdata[field.key] = substitute(params.Postdata[field.key], cur)
		return params.APIURL, postdata
	}
}

// persist stores the page body under its content-addressed key and indexes
// it in the list collection. Persistence failures are transient: the loop
// keeps going and extraction still runs against the in-memory body.
func (s *ListSpider) persist(ctx context.Context, task *models.Task, taskID string, cur int, body []byte) {
	key := models.RawPageKey(taskID, body, time.Now())

	if err := s.objects.PutBytes(ctx, s.bucket, key, body); err != nil {
		s.logger.Error().
			Str("datasource_id", task.ID).
			Int("page_cursor", cur).
			Str("key", key).
			Err(err).
			Msg("Object-store persist failed")
		return
	}

	entry := models.ListIndexEntry{
		ID:           common.NewListEntryID(),
		Path:         key,
		DatasourceID: task.ID,
		Round:        task.Round,
		PageCursor:   cur,
		FetchedAt:    time.Now(),
	}
	if err := s.datasource.InsertListEntry(ctx, entry); err != nil {
		s.logger.Error().
			Str("datasource_id", task.ID).
			Int("page_cursor", cur).
			Str("key", key).
			Err(err).
			Msg("List index insert failed")
	}
}

// extractAndCheck runs URL extraction and the duplicate-URL stop check.
// Extraction failures are logged and never terminate the run; the page is
// already persisted.
func (s *ListSpider) extractAndCheck(task *models.Task, cur int, body []byte, seen *urlSeenSet) bool {
	extraction, err := s.extractor.Extract(body, task.ParseRule.ListPage)
	if err != nil {
		s.logger.Warn().
			Str("datasource_id", task.ID).
			Int("page_cursor", cur).
			Err(err).
			Msg("URL extraction failed")
		return false
	}

	if seen.IsDup(extraction.URLs) {
		return true
	}
	seen.Add(extraction.URLs)
	return false
}

// locatePageField finds where the page variable lives: the URL template, or
// exactly one postdata value. Neither is a permanent config error.
func locatePageField(params models.RequestParams) (pageField, error) {
	if strings.Contains(params.APIURL, pageToken) {
		return pageField{location: pageInURL}, nil
	}
	for key, value := range params.Postdata {
		if strings.Contains(value, pageToken) {
			return pageField{location: pageInBody, key: key}, nil
		}
	}
	return pageField{}, dserrors.New(dserrors.KindNoPageVariable, "no {0} placeholder in api_url or postdata")
}

func substitute(template string, cur int) string {
	return strings.ReplaceAll(template, pageToken, strconv.Itoa(cur))
}

func substituteMap(m map[string]string, cur int) map[string]string {
	if len(m) == 0 {
		return m
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = substitute(v, cur)
	}
	return out
}
