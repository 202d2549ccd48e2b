package spiders

import (
	"time"

	"github.com/ternarybob/arbor"

	"github.com/blankors/dspider/internal/interfaces"
)

// Deps bundles the collaborators a spider constructor receives from the
// executor. Everything crosses this boundary as an interface so tests can
// swap in fakes.
type Deps struct {
	Fetcher    interfaces.Fetcher
	Datasource interfaces.DatasourceStore
	Objects    interfaces.ObjectStore
	Logger     arbor.ILogger

	// Bucket receives raw list pages.
	Bucket string
	// PageDelay is the fixed sleep between pages (default 5s).
	PageDelay time.Duration
	// DedupMaxURLs caps the per-run duplicate-URL set.
	DedupMaxURLs int
}
