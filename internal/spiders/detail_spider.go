package spiders

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/interfaces"
	"github.com/blankors/dspider/internal/models"
)

// SpiderNameDetail is the registry name of the detail-page crawler.
const SpiderNameDetail = "detail_spider"

func init() {
	Register(SpiderNameDetail, func(deps Deps) interfaces.Spider {
		return NewDetailSpider(deps)
	})
}

// DetailSpider is the registry entry for the detail-page crawler. It does
// not fetch or parse the detail endpoints extracted by the list crawler;
// Start only logs the task, so workers configured for it resolve and ack
// cleanly.
type DetailSpider struct {
	logger arbor.ILogger
}

// NewDetailSpider builds the stub detail crawler.
func NewDetailSpider(deps Deps) *DetailSpider {
	return &DetailSpider{logger: deps.Logger}
}

// Name implements interfaces.Spider.
func (s *DetailSpider) Name() string { return SpiderNameDetail }

// Start acknowledges the task without fetching.
func (s *DetailSpider) Start(ctx context.Context, task *models.Task) (*models.CrawlStatistic, error) {
	s.logger.Info().
		Str("datasource_id", task.ID).
		Msg("Detail crawl not implemented, task acknowledged")

	stat := models.NewCrawlStatistic()
	stat.StopReason = "detail crawling not implemented"
	return stat, nil
}
