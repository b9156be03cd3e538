package breaker

import (
	"sort"
	"sync"

	"github.com/NikhilSetiya/meshgate/pkg/logging"
)

// Group owns one breaker per upstream service, created lazily on first use
// and kept for the process lifetime.
type Group struct {
	config Config
	logger *logging.Logger

	mutex    sync.RWMutex
	breakers map[string]*Breaker
}

// NewGroup creates an empty breaker group with shared tuning
func NewGroup(config Config, logger *logging.Logger) *Group {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &Group{
		config:   config,
		logger:   logger,
		breakers: make(map[string]*Breaker),
	}
}

// For returns the breaker guarding the given service, creating it if needed
func (g *Group) For(service string) *Breaker {
	g.mutex.RLock()
	b, ok := g.breakers[service]
	g.mutex.RUnlock()
	if ok {
		return b
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()
	if b, ok = g.breakers[service]; ok {
		return b
	}
	b = New(service, g.config, g.logger)
	g.breakers[service] = b
	return b
}

// Services returns the names of all services with a breaker, sorted
func (g *Group) Services() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	names := make([]string, 0, len(g.breakers))
	for name := range g.breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// States returns a snapshot of every breaker's state
func (g *Group) States() map[string]State {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	states := make(map[string]State, len(g.breakers))
	for name, b := range g.breakers {
		states[name] = b.State()
	}
	return states
}
