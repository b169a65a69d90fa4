package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/duetchat/duet/pkg/logger"
	"github.com/google/uuid"
)

// DefaultFreshnessWindow is how long a cache entry is served without a forced
// history reload.
const DefaultFreshnessWindow = 300 * time.Second

// CacheEntry holds one session's buffered transcript.
type CacheEntry struct {
	Messages        []Message
	LastRefreshedAt time.Time
}

// SubscribeFunc is notified with the session id whose entry changed.
type SubscribeFunc func(sessionID uuid.UUID)

// SessionCache buffers per-session transcripts so background streams can keep
// writing while the user views a different session. Entries are created
// lazily, cleared on logout, and never evicted; staleness only flags an entry
// for reload, stale entries are still served immediately.
//
// All methods are safe for concurrent use. Returned entries are snapshots;
// mutating them does not affect the cache.
type SessionCache struct {
	mu          sync.RWMutex
	entries     map[uuid.UUID]CacheEntry
	subscribers []SubscribeFunc
	freshness   time.Duration
	now         func() time.Time
}

// NewSessionCache creates a cache with the given freshness window. A zero or
// negative window falls back to DefaultFreshnessWindow.
func NewSessionCache(freshness time.Duration) *SessionCache {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &SessionCache{
		entries:   make(map[uuid.UUID]CacheEntry),
		freshness: freshness,
		now:       time.Now,
	}
}

// SetClock replaces the cache's time source. Tests use this to advance time
// past the freshness window without sleeping.
func (c *SessionCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Subscribe registers a callback invoked after every mutation with the
// affected session id. Callbacks run outside the cache lock.
func (c *SessionCache) Subscribe(fn SubscribeFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

// Get returns a snapshot of the session's entry.
func (c *SessionCache) Get(sessionID uuid.UUID) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[sessionID]
	if !ok {
		return CacheEntry{}, false
	}
	return CacheEntry{Messages: cloneMessages(entry.Messages), LastRefreshedAt: entry.LastRefreshedAt}, true
}

// Messages returns a snapshot of the session's buffered messages.
func (c *SessionCache) Messages(sessionID uuid.UUID) []Message {
	entry, ok := c.Get(sessionID)
	if !ok {
		return nil
	}
	return entry.Messages
}

// Set replaces the session's message list and bumps its freshness.
func (c *SessionCache) Set(sessionID uuid.UUID, messages []Message) {
	c.mu.Lock()
	c.entries[sessionID] = CacheEntry{
		Messages:        cloneMessages(messages),
		LastRefreshedAt: c.now(),
	}
	c.mu.Unlock()
	c.notify(sessionID)
}

// Update applies fn to a snapshot of the session's messages and stores the
// result without bumping freshness. Streaming writers use this so concurrent
// appends to the same session serialize instead of overwriting each other.
func (c *SessionCache) Update(sessionID uuid.UUID, fn func(messages []Message) []Message) {
	c.mu.Lock()
	entry := c.entries[sessionID]
	entry.Messages = fn(cloneMessages(entry.Messages))
	c.entries[sessionID] = entry
	c.mu.Unlock()
	c.notify(sessionID)
}

// AppendOptimistic inserts a partner-received message ahead of server
// confirmation. Freshness is not bumped, and a message with identical trimmed
// text is never inserted twice.
func (c *SessionCache) AppendOptimistic(sessionID uuid.UUID, message Message) {
	text, ok := message.PartnerContent()
	trimmed := strings.TrimSpace(text)
	if ok && trimmed == "" {
		return
	}

	c.mu.Lock()
	entry := c.entries[sessionID]
	for _, existing := range entry.Messages {
		if ok && existing.HasPartnerReceived(trimmed) {
			c.mu.Unlock()
			logger.Debug("cache: optimistic partner message already present in session %s", sessionID)
			return
		}
	}
	entry.Messages = append(cloneMessages(entry.Messages), message)
	c.entries[sessionID] = entry
	c.mu.Unlock()
	c.notify(sessionID)
}

// IsFresh reports whether the entry was refreshed within the freshness window.
func (c *SessionCache) IsFresh(sessionID uuid.UUID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[sessionID]
	if !ok {
		return false
	}
	return c.now().Sub(entry.LastRefreshedAt) < c.freshness
}

// Reconcile replaces the session's transcript with a freshly fetched one,
// carrying over a trailing unconfirmed partner-received message the fetch
// does not yet contain. This closes the race between a just-delivered partner
// message and the poll/reload cycle.
func (c *SessionCache) Reconcile(sessionID uuid.UUID, fetched []Message) []Message {
	merged := cloneMessages(fetched)

	c.mu.Lock()
	entry := c.entries[sessionID]
	if n := len(entry.Messages); n > 0 {
		last := entry.Messages[n-1]
		if text, ok := last.PartnerContent(); ok && last.IsPartnerMessage() {
			trimmed := strings.TrimSpace(text)
			if trimmed != "" && !containsPartnerReceived(merged, trimmed) && last.HasPartnerReceived(trimmed) {
				merged = append(merged, last)
			}
		}
	}
	c.entries[sessionID] = CacheEntry{
		Messages:        cloneMessages(merged),
		LastRefreshedAt: c.now(),
	}
	c.mu.Unlock()
	c.notify(sessionID)
	return merged
}

// ClearAll drops every entry. Called on logout.
func (c *SessionCache) ClearAll() {
	c.mu.Lock()
	c.entries = make(map[uuid.UUID]CacheEntry)
	c.mu.Unlock()
}

func (c *SessionCache) notify(sessionID uuid.UUID) {
	c.mu.RLock()
	subs := make([]SubscribeFunc, len(c.subscribers))
	copy(subs, c.subscribers)
	c.mu.RUnlock()
	for _, fn := range subs {
		fn(sessionID)
	}
}

func containsPartnerReceived(messages []Message, trimmed string) bool {
	for _, msg := range messages {
		if msg.HasPartnerReceived(trimmed) {
			return true
		}
	}
	return false
}

func cloneMessages(messages []Message) []Message {
	if messages == nil {
		return nil
	}
	out := make([]Message, len(messages))
	for i, msg := range messages {
		out[i] = msg
		if msg.Segments != nil {
			out[i].Segments = make([]Segment, len(msg.Segments))
			copy(out[i].Segments, msg.Segments)
		}
	}
	return out
}
