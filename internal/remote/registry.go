// internal/remote/registry.go
package remote

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"
)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

func Register(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

func Get(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names zwraca zarejestrowane magazyny (posortowane, do komunikatów CLI).
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open buduje magazyn z rejestru; pakiet implementacji musi być zaimportowany (init).
func Open(name string, log zerolog.Logger, raw json.RawMessage) (Store, error) {
	f, ok := Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown remote store %q (known: %v)", name, Names())
	}
	return f(log.With().Str("remote", name).Logger(), raw)
}
