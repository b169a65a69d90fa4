// Package background provides a grace-period registry for work that must
// survive the app being backgrounded. Each stream registers before it starts;
// when the grace period expires the registry fires the work's expiry callback
// exactly once so the owner can cancel and clean up deterministically.
package background

import (
	"sync"
	"time"

	"github.com/duetchat/duet/pkg/logger"
)

// Token identifies one registered unit of background work.
type Token int64

// InvalidToken is returned when work could not be registered.
const InvalidToken Token = 0

// Registry tracks in-flight background work.
type Registry interface {
	// Begin registers a unit of work. onExpire runs at most once, when the
	// grace period lapses before End is called.
	Begin(name string, onExpire func()) Token
	// End releases the work and disarms its expiry callback. Unknown tokens
	// are ignored.
	End(token Token)
}

type work struct {
	name  string
	timer *time.Timer
}

// GraceRegistry is a Registry that arms a fixed-duration timer per unit of
// work, standing in for the host platform's background-execution grant.
type GraceRegistry struct {
	mu    sync.Mutex
	grace time.Duration
	next  Token
	works map[Token]*work
}

// NewGraceRegistry creates a registry with the given grace period.
func NewGraceRegistry(grace time.Duration) *GraceRegistry {
	return &GraceRegistry{
		grace: grace,
		works: make(map[Token]*work),
	}
}

func (r *GraceRegistry) Begin(name string, onExpire func()) Token {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	token := r.next

	w := &work{name: name}
	w.timer = time.AfterFunc(r.grace, func() {
		r.mu.Lock()
		_, live := r.works[token]
		delete(r.works, token)
		r.mu.Unlock()
		if live {
			logger.Warn("background: grace period expired for %s", name)
			if onExpire != nil {
				onExpire()
			}
		}
	})
	r.works[token] = w

	logger.Debug("background: began work %s (token %d)", name, token)
	return token
}

func (r *GraceRegistry) End(token Token) {
	if token == InvalidToken {
		return
	}
	r.mu.Lock()
	w, ok := r.works[token]
	delete(r.works, token)
	r.mu.Unlock()
	if ok {
		w.timer.Stop()
		logger.Debug("background: ended work %s (token %d)", w.name, token)
	}
}

// NopRegistry is a Registry that grants unlimited time. Tests and the CLI
// use it when no platform limit applies.
type NopRegistry struct{}

func (NopRegistry) Begin(name string, onExpire func()) Token { return InvalidToken }
func (NopRegistry) End(token Token)                          {}
