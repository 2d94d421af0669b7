package hookscan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sydlexius/coremonitor/internal/event"
)

type recordingBus struct {
	mu     sync.Mutex
	events []event.Event
}

func (b *recordingBus) Publish(e event.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) types() []event.Type {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]event.Type, len(b.events))
	for i, e := range b.events {
		out[i] = e.Type
	}
	return out
}

type engineFixture struct {
	engine  *Engine
	clock   *testClock
	bus     *recordingBus
	plugins string
	themes  string
}

func newEngineFixture(t *testing.T, batchSize int) *engineFixture {
	t.Helper()
	plugins, themes := contentDir(t)
	store, clk := newTestStore(t)
	e := NewEngine(
		NewCollector(plugins, themes, []string{"php"}),
		NewExtractor(),
		NewSessions(store, time.Hour),
		NewEditorLinker("https://example.com/wp-admin/"),
		batchSize,
		testLogger(),
	)
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("%stest%d", ScanIDPrefix, n)
	}
	bus := &recordingBus{}
	e.SetEventBus(bus)
	return &engineFixture{engine: e, clock: clk, bus: bus, plugins: plugins, themes: themes}
}

func TestEngine_TwoFileScenario(t *testing.T) {
	f := newEngineFixture(t, 1)
	writeFile(t, filepath.Join(f.themes, "demo", "a.php"), "do_action('hook_a');")
	writeFile(t, filepath.Join(f.themes, "demo", "b.php"), "apply_filters('hook_b', 1);")
	ctx := context.Background()

	first, err := f.engine.Handle(ctx, Request{ScanDir: "demo", ScanType: "theme"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	want := &Response{
		ScanID:         "hooks_scan_test1",
		BatchIndex:     0,
		TotalBatches:   2,
		ProcessedFiles: 1,
		TotalFiles:     2,
		FoundHooks: map[string]FileReport{
			"demo/a.php": {
				Actions: []Match{{Line: 1, Text: "do_action('hook_a')", Kind: MatchAction}},
				EditURL: "https://example.com/wp-admin/theme-editor.php?file=a.php&theme=demo",
			},
		},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("call 1 mismatch (-want +got):\n%s", diff)
	}

	second, err := f.engine.Handle(ctx, Request{ScanID: first.ScanID, BatchIndex: new(1), ProcessedFiles: 1, TotalFiles: 2})
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	want = &Response{
		ScanID:         "hooks_scan_test1",
		BatchIndex:     1,
		TotalBatches:   2,
		ProcessedFiles: 2,
		TotalFiles:     2,
		FoundHooks: map[string]FileReport{
			"demo/b.php": {
				Filters: []Match{{Line: 1, Text: "apply_filters('hook_b', 1)", Kind: MatchFilter}},
				EditURL: "https://example.com/wp-admin/theme-editor.php?file=b.php&theme=demo",
			},
		},
		Completed: true,
	}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("call 2 mismatch (-want +got):\n%s", diff)
	}

	third, err := f.engine.Handle(ctx, Request{ScanID: first.ScanID, BatchIndex: new(2), ProcessedFiles: 2, TotalFiles: 2})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !third.Completed || len(third.FoundHooks) != 0 || third.ProcessedFiles != 2 {
		t.Errorf("call 3 = %+v, want completed with no hooks", third)
	}

	// Completion is idempotent.
	again, err := f.engine.Handle(ctx, Request{ScanID: first.ScanID, BatchIndex: new(2)})
	if err != nil || !again.Completed {
		t.Errorf("repeat completion = %+v, %v", again, err)
	}

	wantEvents := []event.Type{event.ScanStarted, event.ScanBatch, event.ScanBatch, event.ScanCompleted}
	if diff := cmp.Diff(wantEvents, f.bus.types()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ProgressMonotonic(t *testing.T) {
	f := newEngineFixture(t, 3)
	for i := range 10 {
		writeFile(t, filepath.Join(f.plugins, "big", fmt.Sprintf("f%02d.php", i)), "<?php\n")
	}
	ctx := context.Background()

	resp, err := f.engine.Handle(ctx, Request{ScanDir: "big/f00.php", ScanType: "plugin"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.TotalBatches != 4 || resp.TotalFiles != 10 {
		t.Fatalf("plan = %d batches / %d files, want 4 / 10", resp.TotalBatches, resp.TotalFiles)
	}

	prev := resp.ProcessedFiles
	for idx := 1; idx <= resp.TotalBatches; idx++ {
		// Client counters are hints; deliberately wrong values must not matter.
		next, err := f.engine.Handle(ctx, Request{ScanID: resp.ScanID, BatchIndex: new(idx), ProcessedFiles: 999, TotalFiles: 1})
		if err != nil {
			t.Fatalf("batch %d: %v", idx, err)
		}
		if next.ProcessedFiles < prev {
			t.Errorf("batch %d: processed went from %d to %d", idx, prev, next.ProcessedFiles)
		}
		if (next.ProcessedFiles == next.TotalFiles) != (idx >= resp.TotalBatches-1) {
			t.Errorf("batch %d: processed=%d total=%d", idx, next.ProcessedFiles, next.TotalFiles)
		}
		prev = next.ProcessedFiles
	}
	if prev != 10 {
		t.Errorf("final processed = %d, want 10", prev)
	}
}

func TestEngine_ZeroFilesCompletesImmediately(t *testing.T) {
	f := newEngineFixture(t, 25)
	writeFile(t, filepath.Join(f.themes, "css-only", "style.css"), "")

	resp, err := f.engine.Handle(context.Background(), Request{ScanDir: "css-only", ScanType: "theme"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !resp.Completed || resp.TotalBatches != 0 || resp.TotalFiles != 0 || len(resp.FoundHooks) != 0 {
		t.Errorf("resp = %+v, want completed empty scan", resp)
	}
	wantEvents := []event.Type{event.ScanStarted, event.ScanCompleted}
	if diff := cmp.Diff(wantEvents, f.bus.types()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestEngine_ExpiredPlanIsUnknown(t *testing.T) {
	f := newEngineFixture(t, 1)
	writeFile(t, filepath.Join(f.themes, "t", "a.php"), "")
	writeFile(t, filepath.Join(f.themes, "t", "b.php"), "")
	ctx := context.Background()

	resp, err := f.engine.Handle(ctx, Request{ScanDir: "t", ScanType: "theme"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	_, err = f.engine.Handle(ctx, Request{ScanID: resp.ScanID, BatchIndex: new(1)})
	if !errors.Is(err, ErrUnknownScan) {
		t.Fatalf("err = %v, want ErrUnknownScan", err)
	}
	_, err = f.engine.Handle(ctx, Request{ScanID: "hooks_scan_never", BatchIndex: new(0)})
	if !errors.Is(err, ErrUnknownScan) {
		t.Fatalf("err = %v, want ErrUnknownScan", err)
	}
}

func TestEngine_BatchIndexGuard(t *testing.T) {
	f := newEngineFixture(t, 1)
	for _, name := range []string{"a", "b", "c", "d"} {
		writeFile(t, filepath.Join(f.themes, "t", name+".php"), "do_action('"+name+"');")
	}
	ctx := context.Background()

	resp, err := f.engine.Handle(ctx, Request{ScanDir: "t", ScanType: "theme"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	id := resp.ScanID

	tests := []struct {
		name    string
		index   int
		wantErr error
	}{
		{"skip ahead", 2, ErrInvalidBatchIndex},
		{"out of range", 9, ErrInvalidBatchIndex},
		{"negative", -1, ErrInvalidBatchIndex},
		{"replay of batch 0", 0, nil},
		{"next", 1, nil},
		{"replay of batch 1", 1, nil},
		{"going back", 0, ErrInvalidBatchIndex},
		{"early completion", 4, ErrInvalidBatchIndex},
	}
	for _, tt := range tests {
		_, err := f.engine.Handle(ctx, Request{ScanID: id, BatchIndex: new(tt.index)})
		if !errors.Is(err, tt.wantErr) && !(tt.wantErr == nil && err == nil) {
			t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
		}
	}

	// Replays do not republish batch events.
	batches := 0
	for _, typ := range f.bus.types() {
		if typ == event.ScanBatch {
			batches++
		}
	}
	if batches != 2 {
		t.Errorf("scan.batch events = %d, want 2", batches)
	}
}

func TestEngine_ContinueRequiresBatchIndex(t *testing.T) {
	f := newEngineFixture(t, 1)
	writeFile(t, filepath.Join(f.themes, "t", "a.php"), "do_action('a');")
	writeFile(t, filepath.Join(f.themes, "t", "b.php"), "do_action('b');")
	ctx := context.Background()

	resp, err := f.engine.Handle(ctx, Request{ScanDir: "t", ScanType: "theme"})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.engine.Handle(ctx, Request{ScanID: resp.ScanID}); !errors.Is(err, ErrInvalidBatchIndex) {
		t.Fatalf("err = %v, want ErrInvalidBatchIndex", err)
	}

	// The rejected request leaves the cursor where it was.
	next, err := f.engine.Handle(ctx, Request{ScanID: resp.ScanID, BatchIndex: new(1)})
	if err != nil || next.BatchIndex != 1 {
		t.Errorf("next = %+v, %v; want batch 1", next, err)
	}
}

func TestEngine_StartErrors(t *testing.T) {
	f := newEngineFixture(t, 25)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
		want []error
	}{
		{"empty dir", Request{ScanType: "plugin"}, []error{ErrInvalidTarget}},
		{"bad type", Request{ScanDir: "x", ScanType: "widget"}, []error{ErrInvalidTarget}},
		{"escape", Request{ScanDir: "../x", ScanType: "theme"}, []error{ErrInvalidTarget}},
		{"missing theme", Request{ScanDir: "ghost", ScanType: "theme"}, []error{ErrCollection, ErrNotFound}},
		{"missing plugin file", Request{ScanDir: "ghost.php", ScanType: "plugin"}, []error{ErrCollection, ErrNotFound}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Handle(ctx, tt.req)
			for _, want := range tt.want {
				if !errors.Is(err, want) {
					t.Errorf("err = %v, want %v", err, want)
				}
			}
		})
	}
	if len(f.bus.types()) != 0 {
		t.Errorf("failed starts published events: %v", f.bus.types())
	}
}

func TestEngine_CollectorPanicBecomesCollectionError(t *testing.T) {
	f := newEngineFixture(t, 25)
	// Collect on a nil collector dereferences nil.
	f.engine.collector = nil

	_, err := f.engine.collect(context.Background(), Target{Identifier: "x", Kind: KindTheme})
	if !errors.Is(err, ErrTraversal) {
		t.Errorf("err = %v, want ErrTraversal", err)
	}
}
