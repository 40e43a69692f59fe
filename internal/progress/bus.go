// Package progress implements the session event bus: bounded
// per-session queues, SSE-friendly subscription with heartbeats, and
// cooperative cancellation.
package progress

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrCancelled signals that a session was cancelled; pipeline stages
// check it at their boundaries and unwind without side effects.
var ErrCancelled = errors.New("session cancelled")

// Queue capacity per session. Producers never block: events beyond
// capacity are dropped and counted.
const queueCapacity = 64

// HeartbeatInterval is the subscriber's inactivity heartbeat period.
const HeartbeatInterval = 30 * time.Second

// Terminal stages end a subscription after delivery.
const (
	StageComplete  = "complete"
	StageError     = "error"
	StageCancelled = "cancelled"
	StageHeartbeat = "heartbeat"
)

// Event is one progress update for a session.
type Event struct {
	SessionID string         `json:"session_id"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// IsTerminal reports whether the event ends its session's stream.
func (e Event) IsTerminal() bool {
	return e.Stage == StageComplete || e.Stage == StageError || e.Stage == StageCancelled
}

type session struct {
	ch      chan Event
	dropped int
}

// Bus is the process-wide session registry. All methods are safe for
// concurrent use; the lock is held only around map mutation.
type Bus struct {
	mu        sync.Mutex
	sessions  map[string]*session
	cancelled map[string]bool
	logger    *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		sessions:  make(map[string]*session),
		cancelled: make(map[string]bool),
		logger:    logger,
	}
}

// Open registers a session queue. Re-opening an existing session
// replaces its queue and clears any stale cancellation mark.
func (b *Bus) Open(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sessionID] = &session{ch: make(chan Event, queueCapacity)}
	delete(b.cancelled, sessionID)
}

// Emit puts an event on the session queue. Unknown sessions are a
// silent no-op; a full queue drops the event and counts the drop.
func (b *Bus) Emit(sessionID, stage, message string, details map[string]any) {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		return
	}

	ev := Event{
		SessionID: sessionID,
		Stage:     stage,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	select {
	case s.ch <- ev:
	default:
		b.mu.Lock()
		s.dropped++
		dropped := s.dropped
		b.mu.Unlock()
		b.logger.Debug("progress event dropped",
			zap.String("session_id", sessionID),
			zap.String("stage", stage),
			zap.Int("dropped_total", dropped))
	}
}

// Subscribe returns the session's event stream. Events are delivered
// FIFO; a heartbeat event is injected after HeartbeatInterval of
// inactivity; the channel closes after a terminal event, when done is
// closed, or when the session is unknown.
//
// The stream is single-consumer. Subscribing again to the same
// session takes over the queue; the earlier subscriber's stream ends
// at its next heartbeat tick.
func (b *Bus) Subscribe(sessionID string, done <-chan struct{}) <-chan Event {
	out := make(chan Event)

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	b.mu.Unlock()
	if !ok {
		close(out)
		return out
	}

	go func() {
		defer close(out)
		timer := time.NewTimer(HeartbeatInterval)
		defer timer.Stop()
		for {
			select {
			case <-done:
				return
			case ev, ok := <-s.ch:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-done:
					return
				}
				if ev.IsTerminal() {
					b.close(sessionID, s)
					return
				}
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(HeartbeatInterval)
			case <-timer.C:
				// Stop if another subscriber took over the queue.
				b.mu.Lock()
				current := b.sessions[sessionID]
				b.mu.Unlock()
				if current != s {
					return
				}
				hb := Event{
					SessionID: sessionID,
					Stage:     StageHeartbeat,
					Message:   "session active",
					Timestamp: time.Now().UTC(),
				}
				select {
				case out <- hb:
				case <-done:
					return
				}
				timer.Reset(HeartbeatInterval)
			}
		}
	}()
	return out
}

// Cancel marks the session cancelled and emits the terminal event.
// Returns false for unknown sessions.
func (b *Bus) Cancel(sessionID string) bool {
	b.mu.Lock()
	_, ok := b.sessions[sessionID]
	if ok {
		b.cancelled[sessionID] = true
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	b.Emit(sessionID, StageCancelled, "session cancelled by client", nil)
	return true
}

// CheckCancelled returns ErrCancelled once Cancel has been called for
// the session. Empty session IDs are never cancelled.
func (b *Bus) CheckCancelled(sessionID string) error {
	if sessionID == "" {
		return nil
	}
	b.mu.Lock()
	cancelled := b.cancelled[sessionID]
	b.mu.Unlock()
	if cancelled {
		return ErrCancelled
	}
	return nil
}

func (b *Bus) close(sessionID string, s *session) {
	b.mu.Lock()
	if b.sessions[sessionID] == s {
		delete(b.sessions, sessionID)
	}
	b.mu.Unlock()
}
