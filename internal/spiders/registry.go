// Package spiders holds the crawl strategies and the process-wide registry
// the executor resolves them from.
package spiders

import (
	"sort"
	"sync"

	"github.com/blankors/dspider/internal/dserrors"
	"github.com/blankors/dspider/internal/interfaces"
)

// Constructor builds a spider from its collaborators.
type Constructor func(deps Deps) interfaces.Spider

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Constructor)
)

// Register plugs a spider strategy into the registry. Implementations call
// this from init; a duplicate name is a programming error and panics.
func Register(name string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		panic("spiders: duplicate registration of " + name)
	}
	registry[name] = ctor
}

// New resolves a spider by name and constructs it. A missing name fails with
// UNKNOWN_SPIDER at construction time.
func New(name string, deps Deps) (interfaces.Spider, error) {
	registryMu.RLock()
	ctor, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, dserrors.Newf(dserrors.KindUnknownSpider, "spider %q not registered", name)
	}
	return ctor(deps), nil
}

// Names lists the registered spider names, sorted, for startup logging.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
