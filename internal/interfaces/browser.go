package interfaces

import (
	"context"

	"github.com/blankors/dspider/internal/models"
)

// BrowserJobRunner captures request headers for one datasource config by
// driving a headless browser to its social index URL and intercepting the
// nominated API sub-request. One runner owns one long-lived browser; jobs
// are serialized within a runner.
type BrowserJobRunner interface {
	Run(ctx context.Context, config *models.DatasourceConfig) error
	Close() error
}
