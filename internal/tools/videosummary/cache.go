package videosummary

import (
	"sync"
	"time"

	"github.com/prismbot/prism/pkg/models"
)

// summaryCache holds successful summaries per video id with a TTL.
// Expired entries are swept lazily on lookup.
type summaryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	at     time.Time
	result *models.ToolExecutionResult
}

func newSummaryCache(ttl time.Duration, now func() time.Time) *summaryCache {
	if now == nil {
		now = time.Now
	}
	return &summaryCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *summaryCache) get(id string) (*models.ToolExecutionResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.at) > c.ttl {
			delete(c.entries, key)
		}
	}

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return entry.result, true
}

// put stores a summary, replacing any entry for the same id.
func (c *summaryCache) put(id string, result *models.ToolExecutionResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[id] = cacheEntry{at: c.now(), result: result}
}

func (c *summaryCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
