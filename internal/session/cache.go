package session

import (
	"sync"
	"time"

	"github.com/prismbot/prism/internal/trend"
)

// cacheMaxAge drops cached messages the trend engine should no longer
// consider part of a live streak.
const cacheMaxAge = time.Hour

// defaultCacheLimit applies when trend following leaves its window
// unset.
const defaultCacheLimit = 10

// messageCache keeps the recent messages of each channel for trend
// detection. Entries are evicted by count and by age.
type messageCache struct {
	limit  int
	maxAge time.Duration
	now    func() time.Time

	mu       sync.Mutex
	channels map[string][]cachedMessage
}

type cachedMessage struct {
	snap trend.Snapshot
	at   time.Time
}

func newMessageCache(limit int, now func() time.Time) *messageCache {
	if limit <= 0 {
		limit = defaultCacheLimit
	}
	if now == nil {
		now = time.Now
	}
	return &messageCache{
		limit:    limit,
		maxAge:   cacheMaxAge,
		now:      now,
		channels: make(map[string][]cachedMessage),
	}
}

// Add records one message, newest last.
func (c *messageCache) Add(channelID string, snap trend.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.evictLocked(channelID)
	entries = append(entries, cachedMessage{snap: snap, at: c.now()})
	if len(entries) > c.limit {
		entries = entries[len(entries)-c.limit:]
	}
	c.channels[channelID] = entries
}

// Snapshots returns the live window of a channel, oldest first.
func (c *messageCache) Snapshots(channelID string) []trend.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.evictLocked(channelID)
	c.channels[channelID] = entries
	out := make([]trend.Snapshot, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.snap)
	}
	return out
}

func (c *messageCache) evictLocked(channelID string) []cachedMessage {
	entries := c.channels[channelID]
	cutoff := c.now().Add(-c.maxAge)
	for len(entries) > 0 && entries[0].at.Before(cutoff) {
		entries = entries[1:]
	}
	return entries
}
