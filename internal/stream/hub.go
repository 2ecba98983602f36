// Package stream fans report events out to live subscribers. There is no
// replay buffer: a subscriber sees only events published after it joined.
package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/observability"
)

// subscriberBuffer is the number of events a slow subscriber may lag behind
// before events are dropped for it.
const subscriberBuffer = 256

// Publisher accepts events for broadcast.
type Publisher interface {
	Publish(ev schemas.StreamEvent)
}

type subscriber struct {
	ch      chan schemas.StreamEvent
	dropped int
}

// Hub keeps the subscribers of every report.
type Hub struct {
	logger  *zap.Logger
	metrics *observability.Metrics

	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(logger *zap.Logger, metrics *observability.Metrics) *Hub {
	return &Hub{
		logger:  logger.Named("stream"),
		metrics: metrics,
		subs:    make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribe registers a reader for reportID. The returned cancel func
// unsubscribes and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(reportID string) (<-chan schemas.StreamEvent, func()) {
	s := &subscriber{ch: make(chan schemas.StreamEvent, subscriberBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	set, ok := h.subs[reportID]
	if !ok {
		set = make(map[*subscriber]struct{})
		h.subs[reportID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()

	h.metrics.SubscriberAdded()
	h.logger.Debug("Subscriber added.", zap.String("report_id", reportID))

	var once sync.Once
	return s.ch, func() {
		once.Do(func() { h.remove(reportID, s) })
	}
}

func (h *Hub) remove(reportID string, s *subscriber) {
	h.mu.Lock()
	set, ok := h.subs[reportID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := set[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(set, s)
	if len(set) == 0 {
		delete(h.subs, reportID)
	}
	close(s.ch)
	h.mu.Unlock()

	h.metrics.SubscriberRemoved()
	if s.dropped > 0 {
		h.logger.Warn("Subscriber lagged and missed events.", zap.String("report_id", reportID), zap.Int("dropped", s.dropped))
	}
}

// Publish delivers ev to every current subscriber of ev.ReportID without
// blocking. Missing ids and timestamps are filled in.
func (h *Hub) Publish(ev schemas.StreamEvent) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	// Write lock: dropped counters are updated in place.
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[ev.ReportID] {
		select {
		case s.ch <- ev:
		default:
			s.dropped++
		}
	}
}

// Subscribers returns the number of readers of reportID.
func (h *Hub) Subscribers(reportID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[reportID])
}

// Close disconnects every subscriber. Later subscriptions get a closed channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, set := range h.subs {
		for s := range set {
			close(s.ch)
			h.metrics.SubscriberRemoved()
		}
		delete(h.subs, id)
	}
}

// Status builds a status event.
func Status(reportID string, status schemas.ReportStatus, exitCode *int) schemas.StreamEvent {
	return schemas.StreamEvent{
		Type:     schemas.EventStatus,
		ReportID: reportID,
		Payload:  schemas.StatusPayload{Status: status, ExitCode: exitCode},
	}
}

// Output builds an output event carrying one line of worker stdout.
func Output(reportID, line string) schemas.StreamEvent {
	return schemas.StreamEvent{Type: schemas.EventOutput, ReportID: reportID, Payload: line}
}

// Error builds an error event carrying one line of worker stderr.
func Error(reportID, line string) schemas.StreamEvent {
	return schemas.StreamEvent{Type: schemas.EventError, ReportID: reportID, Payload: line}
}
