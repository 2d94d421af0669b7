package event

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func startBus(t *testing.T, size int) *Bus {
	t.Helper()
	bus := NewBus(testLogger(), size)
	done := make(chan struct{})
	go func() {
		_ = bus.Run(context.Background())
		close(done)
	}()
	t.Cleanup(func() {
		bus.Stop()
		<-done
	})
	return bus
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishSubscribe(t *testing.T) {
	bus := startBus(t, 16)

	var mu sync.Mutex
	var received []Event
	bus.Subscribe(ScanCompleted, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
	})

	bus.Publish(Event{
		Type:   ScanCompleted,
		ScanID: "hooks_scan_1",
		Data:   map[string]any{"total_files": 42, "target": "akismet/akismet.php"},
	})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	e := received[0]
	if e.ScanID != "hooks_scan_1" {
		t.Errorf("ScanID = %q", e.ScanID)
	}
	if e.Int("total_files") != 42 {
		t.Errorf("Int(total_files) = %d, want 42", e.Int("total_files"))
	}
	if e.String("target") != "akismet/akismet.php" {
		t.Errorf("String(target) = %q", e.String("target"))
	}
	if e.Int("missing") != 0 || e.String("missing") != "" {
		t.Error("missing keys should yield zero values")
	}
	if e.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestMultipleSubscribersInOrder(t *testing.T) {
	bus := startBus(t, 16)

	var mu sync.Mutex
	var order []int
	for i := range 3 {
		bus.Subscribe(ScanBatch, func(_ Event) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, i)
		})
	}

	bus.Publish(Event{Type: ScanBatch})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Errorf("order = %v, want [0 1 2]", order)
			break
		}
	}
}

func TestHandlerPanicRecovered(t *testing.T) {
	bus := startBus(t, 16)

	var mu sync.Mutex
	called := false
	bus.Subscribe(ScanFailed, func(_ Event) { panic("boom") })
	bus.Subscribe(ScanFailed, func(_ Event) {
		mu.Lock()
		defer mu.Unlock()
		called = true
	})

	bus.Publish(Event{Type: ScanFailed})
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return called
	})
}

func TestFullBufferDrops(t *testing.T) {
	dropped := testutil.ToFloat64(eventsDropped.WithLabelValues(string(CatalogChanged)))
	published := testutil.ToFloat64(eventsPublished.WithLabelValues(string(CatalogChanged)))

	bus := NewBus(testLogger(), 1)
	bus.Publish(Event{Type: CatalogChanged})
	bus.Publish(Event{Type: CatalogChanged})

	if got := len(bus.ch); got != 1 {
		t.Errorf("buffered = %d, want 1", got)
	}
	if got := testutil.ToFloat64(eventsPublished.WithLabelValues(string(CatalogChanged))) - published; got != 1 {
		t.Errorf("published delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(eventsDropped.WithLabelValues(string(CatalogChanged))) - dropped; got != 1 {
		t.Errorf("dropped delta = %v, want 1", got)
	}
}

func TestRunDrainsOnCancel(t *testing.T) {
	bus := NewBus(testLogger(), 16)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(ScanStarted, func(_ Event) {
		mu.Lock()
		defer mu.Unlock()
		count++
	})
	for range 5 {
		bus.Publish(Event{Type: ScanStarted})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := bus.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Errorf("dispatched %d events, want 5", count)
	}
}

func TestStopIdempotent(t *testing.T) {
	bus := NewBus(testLogger(), 4)
	bus.Stop()
	bus.Stop()
}
