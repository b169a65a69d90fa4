// Package stream owns the lifecycle of in-flight logical streams: one opaque
// handle per outgoing request, strict in-order event delivery per handle, and
// cancellation keyed by handle.
package stream

import (
	"context"
	"sync"

	"github.com/duetchat/duet/pkg/background"
	"github.com/duetchat/duet/pkg/logger"
	"github.com/duetchat/duet/pkg/sse"
	"github.com/google/uuid"
)

// Handle identifies one in-flight logical stream.
type Handle = uuid.UUID

// OpenFunc opens the underlying transport and returns its event sequence.
// The channel must close after its terminal event or when ctx is cancelled.
type OpenFunc func(ctx context.Context) <-chan sse.Event

// EventFunc receives decoded events in arrival order.
type EventFunc func(event sse.Event)

// FinishFunc runs exactly once after the terminal event or cancellation.
type FinishFunc func()

type activeStream struct {
	mu        sync.Mutex
	cancelled bool
	cancel    context.CancelFunc
}

// Manager runs streams concurrently, one goroutine per handle. Distinct
// handles are never serialized against each other.
type Manager struct {
	mu      sync.Mutex
	streams map[Handle]*activeStream
	works   background.Registry
}

// NewManager creates a manager. works may be nil when no background grace
// period applies.
func NewManager(works background.Registry) *Manager {
	if works == nil {
		works = background.NopRegistry{}
	}
	return &Manager{
		streams: make(map[Handle]*activeStream),
		works:   works,
	}
}

// Start allocates a handle and launches the stream. onEvent is invoked once
// per event in arrival order; after the terminal event (or cancellation)
// onFinish fires exactly once and the handle becomes invalid.
func (m *Manager) Start(open OpenFunc, onEvent EventFunc, onFinish FinishFunc) Handle {
	handle := uuid.New()

	ctx, cancel := context.WithCancel(context.Background())
	s := &activeStream{cancel: cancel}

	m.mu.Lock()
	m.streams[handle] = s
	m.mu.Unlock()

	token := m.works.Begin("chat_stream_"+handle.String(), func() {
		m.Cancel(handle)
	})

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.streams, handle)
			m.mu.Unlock()
			m.works.End(token)
			cancel()
			if onFinish != nil {
				onFinish()
			}
		}()

		events := open(ctx)
		for event := range events {
			if !s.deliver(event, onEvent) {
				return
			}
			if event.IsTerminal() {
				logger.Debug("stream %s: terminal event %s", handle, event.Kind)
				return
			}
		}
		logger.Debug("stream %s: transport closed without terminal event", handle)
	}()

	return handle
}

// Cancel aborts the stream for the given handle. When Cancel returns, no
// further onEvent calls occur for that handle; onFinish still fires so
// callers can release resources deterministically. Cancelling an unknown or
// already-finished handle is a no-op.
func (m *Manager) Cancel(handle Handle) {
	m.mu.Lock()
	s, ok := m.streams[handle]
	m.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
	s.cancel()
	logger.Debug("stream %s: cancelled", handle)
}

// Active reports whether the handle still has a running stream.
func (m *Manager) Active(handle Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.streams[handle]
	return ok
}

// deliver invokes onEvent unless the stream was cancelled. Delivery and the
// cancellation flag share a mutex, which is what makes the "no events after
// Cancel returns" guarantee hold.
func (s *activeStream) deliver(event sse.Event, onEvent EventFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return false
	}
	if onEvent != nil {
		onEvent(event)
	}
	return true
}
