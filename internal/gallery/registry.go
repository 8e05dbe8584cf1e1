package gallery

import (
	"sync"
	"time"
)

// Registry tracks open views across readers.
type Registry struct {
	mu    sync.Mutex
	views map[*View]struct{}
}

func NewRegistry() *Registry {
	return &Registry{views: make(map[*View]struct{})}
}

func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.views)
}

// CloseIdle closes every view last touched before cutoff and returns how
// many it closed.
func (g *Registry) CloseIdle(cutoff time.Time) int {
	return g.closeWhere(func(v *View) bool { return v.LastTouched().Before(cutoff) })
}

// CloseAll closes every registered view, e.g. on shutdown.
func (g *Registry) CloseAll() int {
	return g.closeWhere(func(*View) bool { return true })
}

func (g *Registry) closeWhere(match func(*View) bool) int {
	g.mu.Lock()
	var picked []*View
	for v := range g.views {
		if match(v) {
			picked = append(picked, v)
		}
	}
	g.mu.Unlock()

	for _, v := range picked {
		if err := v.Close(); err != nil {
			v.reader.log.Warn().Err(err).Str("user_id", v.userID).Msg("close gallery view")
		}
	}
	return len(picked)
}

func (g *Registry) add(v *View) {
	g.mu.Lock()
	g.views[v] = struct{}{}
	g.mu.Unlock()
}

func (g *Registry) remove(v *View) {
	g.mu.Lock()
	delete(g.views, v)
	g.mu.Unlock()
}
