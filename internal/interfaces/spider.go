package interfaces

import (
	"context"

	"github.com/blankors/dspider/internal/models"
)

// Spider is one crawl strategy over a single task. Start runs one full round
// from pagination[0] until a stop condition fires; the returned statistic's
// StopReason is the single human-readable explanation of why the run ended.
type Spider interface {
	Name() string
	Start(ctx context.Context, task *models.Task) (*models.CrawlStatistic, error)
}

// Extraction is the outcome of one list-page extraction: the item maps with
// the derived detail URL recorded on each (item["url"]), plus the flat URL
// list used for duplicate detection.
type Extraction struct {
	Items []map[string]interface{}
	URLs  []string
}

// Extractor turns a list-page response body into detail URLs per the
// config's list-page rule.
type Extractor interface {
	Extract(body []byte, rule models.ListPageRule) (*Extraction, error)
}
