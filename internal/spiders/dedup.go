package spiders

import "github.com/ternarybob/arbor"

// urlSeenSet tracks detail URLs extracted earlier in the current run. A page
// whose URLs have ALL been seen before signals the site has started echoing
// old pages. The set is capped; past the cap detection degrades to
// never-stop rather than evicting and risking a false stop.
type urlSeenSet struct {
	seen     map[string]struct{}
	max      int
	degraded bool
	logger   arbor.ILogger
}

func newURLSeenSet(max int, logger arbor.ILogger) *urlSeenSet {
	if max <= 0 {
		max = 10000
	}
	return &urlSeenSet{
		seen:   make(map[string]struct{}),
		max:    max,
		logger: logger,
	}
}

// IsDup reports whether every URL on the page was seen on an earlier page.
// An empty page is never a duplicate, and a degraded set never stops a run.
func (s *urlSeenSet) IsDup(urls []string) bool {
	if len(urls) == 0 || s.degraded {
		return false
	}
	for _, u := range urls {
		if _, ok := s.seen[u]; !ok {
			return false
		}
	}
	return true
}

// Add records the page's URLs for later checks.
func (s *urlSeenSet) Add(urls []string) {
	if s.degraded {
		return
	}
	for _, u := range urls {
		if len(s.seen) >= s.max {
			s.degraded = true
			s.logger.Warn().
				Int("max_urls", s.max).
				Msg("URL dedup set full, duplicate detection disabled for this run")
			return
		}
		s.seen[u] = struct{}{}
	}
}
