package expressions

import "sync"

// DefaultCacheSize bounds each engine's compiled-program cache. Query
// expressions arrive from remote clients, so the cache must not grow
// without limit.
const DefaultCacheSize = 512

// programCache memoizes compiled expressions. When full it is emptied
// rather than evicting one entry at a time.
type programCache[P any] struct {
	mu       sync.RWMutex
	max      int
	programs map[string]P
}

func newProgramCache[P any](max int) *programCache[P] {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &programCache[P]{max: max, programs: make(map[string]P)}
}

// get returns the cached program for expression, compiling it on a miss.
// Failed compilations are not cached.
func (c *programCache[P]) get(expression string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[expression]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.programs[expression]; ok {
		return p, nil
	}
	p, err := compile(expression)
	if err != nil {
		return p, err
	}
	if len(c.programs) >= c.max {
		clear(c.programs)
	}
	c.programs[expression] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}
