// Package artifact implements the audio-artifact cache (spec.md C9): a
// process-wide, concurrency-safe store for synthesized TTS audio keyed by
// opaque id, with TTL expiry and a soft size bound enforced by LRU eviction.
package artifact

import (
	"container/list"
	"sync"
	"time"

	"github.com/google/uuid"
)

// entry is one cached artifact plus the bookkeeping the reaper needs.
type entry struct {
	id          string
	sessionID   string
	data        []byte
	contentType string
	createdAt   time.Time
	elem        *list.Element // position in the LRU list
}

// Cache stores synthesized audio in memory, evicting by TTL and by a soft
// total-size bound (oldest-accessed first), per spec.md §4.9.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	lru      *list.List // front = most recently used
	totalLen int64

	ttl     time.Duration
	maxSize int64

	stopCh chan struct{}
	stopOnce sync.Once
}

// NewCache constructs an artifact cache. Call Run in a goroutine to start
// the background reaper; call Close to stop it.
func NewCache(ttl time.Duration, maxSize int64) *Cache {
	return &Cache{
		entries: make(map[string]*entry),
		lru:     list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		stopCh:  make(chan struct{}),
	}
}

// Put stores data under a newly minted opaque id and returns it.
func (c *Cache) Put(sessionID string, data []byte, contentType string) string {
	id := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry{
		id:          id,
		sessionID:   sessionID,
		data:        data,
		contentType: contentType,
		createdAt:   time.Now(),
	}
	e.elem = c.lru.PushFront(e)
	c.entries[id] = e
	c.totalLen += int64(len(data))

	c.evictOverCapLocked()
	return id
}

// Get retrieves an artifact by id. ok is false if absent or expired.
func (c *Cache) Get(id string) (data []byte, contentType string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[id]
	if !found {
		return nil, "", false
	}
	if time.Since(e.createdAt) > c.ttl {
		c.removeLocked(e)
		return nil, "", false
	}
	c.lru.MoveToFront(e.elem)
	return e.data, e.contentType, true
}

// DropSession eagerly evicts every artifact created by the given session,
// per spec.md §4.9's "reaper may eagerly drop entries created in that
// session" on session close.
func (c *Cache) DropSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range c.entries {
		if e.sessionID == sessionID {
			c.removeLocked(e)
		}
	}
}

// removeLocked deletes an entry from both the map and the LRU list. Caller
// must hold c.mu.
func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.id)
	c.lru.Remove(e.elem)
	c.totalLen -= int64(len(e.data))
}

// evictOverCapLocked drops least-recently-used entries until the cache is
// back under its soft size bound. Caller must hold c.mu.
func (c *Cache) evictOverCapLocked() {
	for c.totalLen > c.maxSize {
		oldest := c.lru.Back()
		if oldest == nil {
			return
		}
		c.removeLocked(oldest.Value.(*entry))
	}
}

// reapExpired drops every entry whose TTL has elapsed.
func (c *Cache) reapExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*entry
	now := time.Now()
	for _, e := range c.entries {
		if now.Sub(e.createdAt) > c.ttl {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		c.removeLocked(e)
	}
}

// Run drives the background reaper, dropping expired entries once every
// interval until Close is called. Intended to be started with `go`.
func (c *Cache) Run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.reapExpired()
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the background reaper goroutine started by Run.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
