package curator

import (
	"go.uber.org/zap"
)

func (c *Curator) store(ctx Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[ctx.ID] = ctx
	c.order = append(c.order, ctx.ID)
	evicted := 0
	for len(c.order) > c.opts.CacheCeiling {
		delete(c.cache, c.order[0])
		c.order = c.order[1:]
		evicted++
	}
	if evicted > 0 {
		c.log.Warn("curator: context cache over ceiling, evicted oldest",
			zap.Int("evicted", evicted),
			zap.Int("ceiling", c.opts.CacheCeiling))
	}
}

func (c *Curator) Get(id string) (Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, ok := c.cache[id]
	return ctx, ok
}

// Purge drops the context with id, or every cached context when id is empty,
// and reports how many were removed. An unknown id is a no-op.
func (c *Curator) Purge(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	if id == "" {
		n = len(c.cache)
		c.cache = map[string]Context{}
		c.order = nil
	} else if _, ok := c.cache[id]; ok {
		delete(c.cache, id)
		for i, o := range c.order {
			if o == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
		n = 1
	}
	if n > 0 {
		c.log.Debug("curator: purged contexts", zap.Int("count", n), zap.Int("remaining", len(c.cache)))
	}
	return n
}

func (c *Curator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.cache)
}

// IDs lists cached context ids, oldest first.
func (c *Curator) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.order...)
}
