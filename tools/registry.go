package tools

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Factory constructs a fresh instance of a registered tool kind. Remote
// payloads carry only a kind identifier plus configuration; the receiving
// side reconstructs the tool through this registry instead of deserializing
// code.
type Factory func() (*Tool, error)

var (
	regMu    sync.Mutex
	registry = map[string]Factory{}
)

// Register makes a tool kind available for remote reconstruction.
// Registering the same kind twice replaces the previous factory.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	if _, ok := registry[kind]; ok {
		log.WithFields(log.Fields{
			"kind": kind,
		}).Warn("Replacing registered tool kind")
	}
	registry[kind] = f
}

// Lookup returns the factory for a registered kind.
func Lookup(kind string) (Factory, bool) {
	regMu.Lock()
	defer regMu.Unlock()
	f, ok := registry[kind]
	return f, ok
}

// Kinds lists all registered tool kinds.
func Kinds() []string {
	regMu.Lock()
	defer regMu.Unlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
