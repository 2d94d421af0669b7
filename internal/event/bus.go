package event

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coremonitor",
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Events accepted by the bus, by type.",
		},
		[]string{"type"},
	)
	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "coremonitor",
			Subsystem: "events",
			Name:      "dropped_total",
			Help:      "Events dropped because the bus buffer was full, by type.",
		},
		[]string{"type"},
	)
	handlerPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "coremonitor",
			Subsystem: "events",
			Name:      "handler_panics_total",
			Help:      "Subscriber panics recovered by the dispatcher.",
		},
	)
)

// Type identifies a category of event.
type Type string

// Known event types.
const (
	ScanStarted    Type = "scan.started"
	ScanBatch      Type = "scan.batch"
	ScanCompleted  Type = "scan.completed"
	ScanFailed     Type = "scan.failed"
	CatalogChanged Type = "catalog.changed"
)

// Event represents something that happened in the system. ScanID is set for
// scan.* events.
type Event struct {
	Type      Type           `json:"type"`
	ScanID    string         `json:"scan_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Int returns Data[key] as an int, or 0 when it is absent or not an integer.
func (e Event) Int(key string) int {
	switch v := e.Data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

// String returns Data[key] as a string, or "" when it is absent.
func (e Event) String(key string) string {
	s, _ := e.Data[key].(string)
	return s
}

// Handler is a function that processes an event.
type Handler func(Event)

// Publisher is the publishing side of a Bus.
type Publisher interface {
	Publish(Event)
}

// Bus is an in-process event bus backed by a buffered channel. Handlers run
// sequentially on the dispatch goroutine, in publish order.
type Bus struct {
	ch      chan Event
	mu      sync.RWMutex
	subs    map[Type][]Handler
	logger  *slog.Logger
	done    chan struct{}
	stopped bool
}

// NewBus creates a new event bus with the given buffer size.
func NewBus(logger *slog.Logger, bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &Bus{
		ch:     make(chan Event, bufSize),
		subs:   make(map[Type][]Handler),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Subscribe registers a handler for the given event type.
func (b *Bus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], h)
}

// Publish sends an event to the bus. Non-blocking; drops with a warning if the
// buffer is full.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	select {
	case b.ch <- e:
		eventsPublished.WithLabelValues(string(e.Type)).Inc()
	default:
		eventsDropped.WithLabelValues(string(e.Type)).Inc()
		b.logger.Warn("event bus full, dropping event", "type", string(e.Type), "scan_id", e.ScanID)
	}
}

// Run dispatches events until ctx is canceled or Stop is called, then drains
// whatever is still buffered. It always returns nil so it can run under an
// errgroup.
func (b *Bus) Run(ctx context.Context) error {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		case <-ctx.Done():
			b.drain()
			return nil
		case <-b.done:
			b.drain()
			return nil
		}
	}
}

// Stop signals Run to return after draining the buffer.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		b.stopped = true
		close(b.done)
	}
}

func (b *Bus) drain() {
	for {
		select {
		case e := <-b.ch:
			b.dispatch(e)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := b.subs[e.Type]
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					handlerPanics.Inc()
					b.logger.Error("event handler panicked", "type", string(e.Type), "scan_id", e.ScanID, "panic", r)
				}
			}()
			h(e)
		}()
	}
}
