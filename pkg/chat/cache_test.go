package chat

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is an advanceable time source for freshness tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(clock *fakeClock) *SessionCache {
	cache := NewSessionCache(DefaultFreshnessWindow)
	cache.SetClock(clock.Now)
	return cache
}

func TestSessionCacheFreshness(t *testing.T) {
	t.Run("unknown session is not fresh", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		assert.False(t, cache.IsFresh(uuid.New()))
	})

	t.Run("set makes the entry fresh until the window elapses", func(t *testing.T) {
		clock := newFakeClock()
		cache := newTestCache(clock)
		sid := uuid.New()

		cache.Set(sid, []Message{NewUserMessage("hi")})
		assert.True(t, cache.IsFresh(sid))

		clock.Advance(299 * time.Second)
		assert.True(t, cache.IsFresh(sid))

		clock.Advance(2 * time.Second)
		assert.False(t, cache.IsFresh(sid))
	})

	t.Run("optimistic append does not bump freshness", func(t *testing.T) {
		clock := newFakeClock()
		cache := newTestCache(clock)
		sid := uuid.New()

		cache.Set(sid, nil)
		clock.Advance(400 * time.Second)
		cache.AppendOptimistic(sid, NewPartnerReceivedMessage("hey"))
		assert.False(t, cache.IsFresh(sid))
	})
}

func TestSessionCacheOptimistic(t *testing.T) {
	t.Run("duplicate trimmed text is inserted once", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		sid := uuid.New()

		cache.AppendOptimistic(sid, NewPartnerReceivedMessage("hey"))
		cache.AppendOptimistic(sid, NewPartnerReceivedMessage("  hey  "))

		messages := cache.Messages(sid)
		require.Len(t, messages, 1)
		assert.True(t, messages[0].HasPartnerReceived("hey"))
	})

	t.Run("blank partner text is ignored", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		sid := uuid.New()

		cache.AppendOptimistic(sid, NewPartnerReceivedMessage("   "))
		assert.Empty(t, cache.Messages(sid))
	})

	t.Run("concurrent appends to the same session are not lost", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		sid := uuid.New()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				cache.Update(sid, func(messages []Message) []Message {
					return append(messages, NewAssistantMessage("msg"))
				})
			}(i)
		}
		wg.Wait()

		assert.Len(t, cache.Messages(sid), 8)
	})
}

func TestSessionCacheReconcile(t *testing.T) {
	t.Run("unconfirmed partner message survives a reload that lacks it", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		sid := uuid.New()

		cache.Set(sid, []Message{NewUserMessage("hi")})
		cache.AppendOptimistic(sid, NewPartnerReceivedMessage("hey"))

		fetched := []Message{NewUserMessage("hi"), NewAssistantMessage("hello")}
		merged := cache.Reconcile(sid, fetched)

		require.Len(t, merged, 3)
		assert.True(t, merged[2].HasPartnerReceived("hey"))
		assert.Len(t, cache.Messages(sid), 3)
	})

	t.Run("confirmed partner message is not duplicated", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		sid := uuid.New()

		cache.AppendOptimistic(sid, NewPartnerReceivedMessage("hey"))

		fetched := []Message{NewUserMessage("hi"), NewPartnerReceivedMessage("hey")}
		merged := cache.Reconcile(sid, fetched)

		assert.Len(t, merged, 2)
	})

	t.Run("reconcile refreshes the entry", func(t *testing.T) {
		clock := newFakeClock()
		cache := newTestCache(clock)
		sid := uuid.New()

		cache.Set(sid, nil)
		clock.Advance(400 * time.Second)
		require.False(t, cache.IsFresh(sid))

		cache.Reconcile(sid, []Message{NewUserMessage("hi")})
		assert.True(t, cache.IsFresh(sid))
	})
}

func TestSessionCacheSnapshots(t *testing.T) {
	t.Run("mutating a returned snapshot does not touch the cache", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		sid := uuid.New()
		cache.Set(sid, []Message{NewAssistantMessage("original")})

		snapshot := cache.Messages(sid)
		snapshot[0].Segments[0].Text = "mutated"

		assert.Equal(t, "original", cache.Messages(sid)[0].PlainText())
	})

	t.Run("clear all drops every entry", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		a, b := uuid.New(), uuid.New()
		cache.Set(a, []Message{NewUserMessage("a")})
		cache.Set(b, []Message{NewUserMessage("b")})

		cache.ClearAll()

		_, ok := cache.Get(a)
		assert.False(t, ok)
		_, ok = cache.Get(b)
		assert.False(t, ok)
	})
}

func TestSessionCacheSubscription(t *testing.T) {
	t.Run("subscribers see the mutated session id", func(t *testing.T) {
		cache := newTestCache(newFakeClock())
		sid := uuid.New()

		var mu sync.Mutex
		var seen []uuid.UUID
		cache.Subscribe(func(id uuid.UUID) {
			mu.Lock()
			seen = append(seen, id)
			mu.Unlock()
		})

		cache.Set(sid, nil)
		cache.AppendOptimistic(sid, NewPartnerReceivedMessage("hey"))

		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, []uuid.UUID{sid, sid}, seen)
	})
}
