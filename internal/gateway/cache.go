package gateway

import (
	"sync"

	"ctp-md-gateway/internal/model"
)

// tickCache is a fixed-capacity ring over the accepted tick stream.
// When full, the oldest entry is overwritten. Writes come from the
// dispatch goroutine only; reads may come from any goroutine.
type tickCache struct {
	mu    sync.RWMutex
	buf   []*model.Tick
	head  int // next write position
	count int
}

func newTickCache(capacity int) *tickCache {
	if capacity < 1 {
		capacity = 1
	}
	return &tickCache{buf: make([]*model.Tick, capacity)}
}

func (c *tickCache) push(t *model.Tick) {
	c.mu.Lock()
	c.buf[c.head] = t
	c.head = (c.head + 1) % len(c.buf)
	if c.count < len(c.buf) {
		c.count++
	}
	c.mu.Unlock()
}

// recent returns up to limit cached ticks for symbol, oldest first.
// limit <= 0 means no cap.
func (c *tickCache) recent(symbol string, limit int) []*model.Tick {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []*model.Tick
	// Walk newest to oldest, then reverse.
	for i := 0; i < c.count; i++ {
		idx := (c.head - 1 - i + len(c.buf)) % len(c.buf)
		t := c.buf[idx]
		if t == nil || t.Symbol != symbol {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// size reports how many ticks are currently cached across all symbols.
func (c *tickCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.count
}
