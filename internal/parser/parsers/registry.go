package parsers

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/JanSparnaaij/ScoritoOdds/internal/pkg/models"
)

type Factory func(deps Deps) Fetcher

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(sport models.Sport, f Factory) {
	n := strings.ToLower(strings.TrimSpace(string(sport)))
	if n == "" {
		panic("parsers: empty sport in Register")
	}
	if f == nil {
		panic("parsers: nil factory in Register for " + n)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[n]; exists {
		panic("parsers: duplicate registration for " + n)
	}
	registry[n] = f
}

func FactoryFor(sport models.Sport) (Factory, bool) {
	n := strings.ToLower(strings.TrimSpace(string(sport)))
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[n]
	return f, ok
}

func AvailableNames() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build instantiates one fetcher per registered sport.
func Build(deps Deps) map[models.Sport]Fetcher {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[models.Sport]Fetcher, len(registry))
	for name, f := range registry {
		out[models.Sport(name)] = f(deps)
	}
	return out
}

func MustFactoryFor(sport models.Sport) Factory {
	if f, ok := FactoryFor(sport); ok {
		return f
	}
	panic(fmt.Sprintf("parsers: no fetcher for sport %q (available: %v)", sport, AvailableNames()))
}
