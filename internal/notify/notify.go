// Package notify implements the Notification Sink (C10): fan-out
// publication of DetectionFinalized, StationHealthChanged, and
// ErrorRaised events over per-subscriber bounded queues, grounded on
// a websocket Hub's per-client fan-out, with its
// per-client buffered send channel and "drop on full, count the drop"
// behavior generalized here from one fixed Message type to the three
// event kinds the pipeline emits, and from websocket clients specifically to
// any subscriber.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sodav/monitor-core/internal/detecterrors"
	"github.com/sodav/monitor-core/internal/metrics"
	"github.com/sodav/monitor-core/internal/models"
)

type EventType string

const (
	EventDetectionFinalized    EventType = "detection_finalized"
	EventStationHealthChanged  EventType = "station_health_changed"
	EventErrorRaised           EventType = "error_raised"
)

// LatencyBucket classifies a health-check probe's round-trip time, so
// subscribers don't each have to pick their own thresholds.
type LatencyBucket string

const (
	LatencyFast     LatencyBucket = "fast"
	LatencyDegraded LatencyBucket = "degraded"
	LatencySlow     LatencyBucket = "slow"
)

// ClassifyLatency buckets a probe round-trip time: under 500ms is
// fast, under 2s is degraded, anything slower (or a timeout) is slow.
func ClassifyLatency(d time.Duration) LatencyBucket {
	switch {
	case d < 500*time.Millisecond:
		return LatencyFast
	case d < 2*time.Second:
		return LatencyDegraded
	default:
		return LatencySlow
	}
}

// Event is the envelope delivered to subscribers. Exactly one payload
// field is populated, matching Type.
type Event struct {
	Type      EventType
	Timestamp time.Time

	Detection     *models.Detection
	StationID     uuid.UUID
	StationStatus models.StationStatus
	LatencyMS     int64
	LatencyBucket LatencyBucket
	ErrorKind     detecterrors.Kind
	ErrorScope    string
	ErrorMessage  string
}

// subscriber is one fan-out destination: a bounded queue plus a
// monotonic drop counter for /metrics.
type subscriber struct {
	id      string
	queue   chan *Event
	mu      sync.Mutex // serializes deliver against concurrent Publish callers
	dropped atomic.Int64
}

// Sink is the fan-out hub. Publish is best-effort and never blocks the
// caller (the Play-State Tracker or Supervisor) on a slow subscriber:
// a full queue drops its oldest event rather than stalling the
// pipeline.
type Sink struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	queueSize   int
	log         *zap.Logger
}

func NewSink(queueSize int, log *zap.Logger) *Sink {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Sink{
		subscribers: make(map[string]*subscriber),
		queueSize:   queueSize,
		log:         log,
	}
}

// Subscribe registers a new subscriber and returns a receive-only
// channel of events addressed to it. id must be unique; re-subscribing
// with the same id replaces the previous channel (the old one is
// closed).
func (s *Sink) Subscribe(id string) <-chan *Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.subscribers[id]; ok {
		close(old.queue)
	}
	sub := &subscriber{id: id, queue: make(chan *Event, s.queueSize)}
	s.subscribers[id] = sub
	metrics.Get().SubscribersActive.WithLabelValues().Set(float64(len(s.subscribers)))
	return sub.queue
}

func (s *Sink) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub, ok := s.subscribers[id]; ok {
		close(sub.queue)
		delete(s.subscribers, id)
		metrics.Get().SubscribersActive.WithLabelValues().Set(float64(len(s.subscribers)))
	}
}

// DroppedCount reports how many events have been dropped for a
// subscriber due to queue overflow, for the admin /metrics surface.
func (s *Sink) DroppedCount(id string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sub, ok := s.subscribers[id]; ok {
		return sub.dropped.Load()
	}
	return 0
}

// Publish fans event out to every subscriber.
func (s *Sink) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.RLock()
	targets := make([]*subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		targets = append(targets, sub)
	}
	s.mu.RUnlock()

	for _, sub := range targets {
		s.deliver(sub, event)
	}
}

func (s *Sink) deliver(sub *subscriber, event *Event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	select {
	case sub.queue <- event:
		metrics.Get().NotificationsSentTotal.WithLabelValues(string(event.Type)).Inc()
		return
	default:
	}

	// Queue full: drop the oldest entry to make room.
	select {
	case <-sub.queue:
		sub.dropped.Add(1)
		metrics.Get().NotificationsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
		s.log.Warn("subscriber queue full, dropped oldest event", zap.String("subscriber", sub.id))
	default:
	}

	select {
	case sub.queue <- event:
		metrics.Get().NotificationsSentTotal.WithLabelValues(string(event.Type)).Inc()
	default:
		sub.dropped.Add(1)
		metrics.Get().NotificationsDroppedTotal.WithLabelValues(string(event.Type)).Inc()
	}
}

// PublishDetectionFinalized implements playstate.Notifier.
func (s *Sink) PublishDetectionFinalized(_ context.Context, stationID uuid.UUID, detection *models.Detection) {
	s.Publish(&Event{
		Type:      EventDetectionFinalized,
		StationID: stationID,
		Detection: detection,
	})
}

func (s *Sink) PublishStationHealthChanged(stationID uuid.UUID, status models.StationStatus, latency time.Duration) {
	s.Publish(&Event{
		Type:          EventStationHealthChanged,
		StationID:     stationID,
		StationStatus: status,
		LatencyMS:     latency.Milliseconds(),
		LatencyBucket: ClassifyLatency(latency),
	})
}

func (s *Sink) PublishErrorRaised(stationID uuid.UUID, scope string, kind detecterrors.Kind, message string) {
	s.Publish(&Event{
		Type:         EventErrorRaised,
		StationID:    stationID,
		ErrorScope:   scope,
		ErrorKind:    kind,
		ErrorMessage: message,
	})
}
