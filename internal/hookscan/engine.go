package hookscan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sydlexius/coremonitor/internal/event"
)

// ScanIDPrefix starts every scan id.
const ScanIDPrefix = "hooks_scan_"

// Request is one round-trip of the batch protocol. A request without ScanID
// starts a scan for ScanDir/ScanType; otherwise it continues ScanID at
// BatchIndex, which must then be set. ProcessedFiles and TotalFiles are
// client display hints.
type Request struct {
	ScanDir        string `json:"scan_dir" validate:"required_without=ScanID,max=512"`
	ScanType       string `json:"scan_type" validate:"required_without=ScanID,omitempty,oneof=plugin theme"`
	ScanID         string `json:"scan_id" validate:"omitempty,startswith=hooks_scan_,max=64"`
	BatchIndex     *int   `json:"batch_index,omitempty" validate:"omitempty,gte=0"`
	ProcessedFiles int    `json:"processed_files" validate:"gte=0"`
	TotalFiles     int    `json:"total_files" validate:"gte=0"`
}

// FileReport holds the hooks found in one file.
type FileReport struct {
	Actions []Match `json:"actions,omitempty"`
	Filters []Match `json:"filters,omitempty"`
	EditURL string  `json:"edit_url"`
}

// Response is the result of one round-trip. Counters are computed from the
// stored plan.
type Response struct {
	ScanID         string                `json:"scan_id"`
	BatchIndex     int                   `json:"batch_index"`
	TotalBatches   int                   `json:"total_batches"`
	ProcessedFiles int                   `json:"processed_files"`
	TotalFiles     int                   `json:"total_files"`
	FoundHooks     map[string]FileReport `json:"found_hooks"`
	Completed      bool                  `json:"completed"`
}

// Engine runs the resumable batch scan protocol.
type Engine struct {
	collector *Collector
	extractor *Extractor
	sessions  *Sessions
	linker    *EditorLinker
	batchSize int
	logger    *slog.Logger
	eventBus  event.Publisher
	newID     func() string
}

// NewEngine creates a scan engine.
func NewEngine(collector *Collector, extractor *Extractor, sessions *Sessions, linker *EditorLinker, batchSize int, logger *slog.Logger) *Engine {
	if batchSize < 1 {
		batchSize = 25
	}
	return &Engine{
		collector: collector,
		extractor: extractor,
		sessions:  sessions,
		linker:    linker,
		batchSize: batchSize,
		logger:    logger.With("component", "hookscan"),
		newID:     func() string { return ScanIDPrefix + uuid.New().String() },
	}
}

// SetEventBus sets the publisher for scan events.
func (e *Engine) SetEventBus(bus event.Publisher) {
	e.eventBus = bus
}

// BatchSize returns the configured number of files per batch.
func (e *Engine) BatchSize() int {
	return e.batchSize
}

// Handle dispatches a request to Start or Continue.
func (e *Engine) Handle(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	var (
		resp *Response
		err  error
	)
	if req.ScanID == "" {
		var t Target
		t, err = NewTarget(req.ScanDir, req.ScanType)
		if err == nil {
			resp, err = e.Start(ctx, t)
		}
	} else if req.BatchIndex == nil {
		err = fmt.Errorf("%w: batch_index is required to continue a scan", ErrInvalidBatchIndex)
		e.failed(req.ScanID, err)
	} else {
		resp, err = e.Continue(ctx, req.ScanID, *req.BatchIndex)
		if err == nil && (req.ProcessedFiles != 0 || req.TotalFiles != 0) &&
			req.TotalFiles != resp.TotalFiles {
			e.logger.Debug("client counters differ from plan",
				"scan_id", req.ScanID, "client_total", req.TotalFiles, "plan_total", resp.TotalFiles)
		}
	}
	if err != nil {
		scanErrors.WithLabelValues(Reason(err)).Inc()
		return nil, err
	}
	return resp, nil
}

// Start plans a scan of t, stores the plan and serves batch 0. A target
// without source files yields a response that is already complete.
func (e *Engine) Start(ctx context.Context, t Target) (*Response, error) {
	files, err := e.collect(ctx, t)
	if err != nil {
		e.logger.Warn("collecting files failed", "target", t.String(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrCollection, err)
	}

	plan := &Plan{
		ScanID:     e.newID(),
		Target:     t,
		Batches:    Chunk(files, e.batchSize),
		TotalFiles: len(files),
	}
	lease, err := e.sessions.Create(ctx, plan)
	if err != nil {
		return nil, err
	}

	scansStarted.WithLabelValues(string(t.Kind)).Inc()
	e.logger.Info("scan started",
		"scan_id", plan.ScanID, "target", t.String(),
		"total_files", plan.TotalFiles, "total_batches", plan.TotalBatches())
	e.publish(event.ScanStarted, plan.ScanID, map[string]any{
		"target":        t.Identifier,
		"kind":          string(t.Kind),
		"total_files":   plan.TotalFiles,
		"total_batches": plan.TotalBatches(),
	})

	if plan.TotalBatches() == 0 {
		e.complete(plan)
		return &Response{
			ScanID:     plan.ScanID,
			FoundHooks: map[string]FileReport{},
			Completed:  true,
		}, nil
	}
	return e.serve(ctx, lease, 0)
}

// Continue serves the batch at index for scanID. The next index and a replay
// of the last served index are accepted. index == total batches reports
// completion without hook data.
func (e *Engine) Continue(ctx context.Context, scanID string, index int) (*Response, error) {
	lease, err := e.sessions.Get(ctx, scanID)
	if err != nil {
		e.failed(scanID, err)
		return nil, err
	}
	plan := lease.Plan

	if index < 0 || index > plan.TotalBatches() {
		err := fmt.Errorf("%w: index %d outside 0..%d", ErrInvalidBatchIndex, index, plan.TotalBatches())
		e.failed(scanID, err)
		return nil, err
	}
	if lease.LastServed >= 0 && index != lease.LastServed && index != lease.LastServed+1 {
		err := fmt.Errorf("%w: index %d out of order, last served %d", ErrInvalidBatchIndex, index, lease.LastServed)
		e.failed(scanID, err)
		return nil, err
	}

	if index == plan.TotalBatches() {
		return &Response{
			ScanID:         scanID,
			BatchIndex:     index,
			TotalBatches:   plan.TotalBatches(),
			ProcessedFiles: plan.TotalFiles,
			TotalFiles:     plan.TotalFiles,
			FoundHooks:     map[string]FileReport{},
			Completed:      true,
		}, nil
	}
	return e.serve(ctx, lease, index)
}

// serve scans every file of batch index and advances the cursor.
func (e *Engine) serve(ctx context.Context, lease *Lease, index int) (*Response, error) {
	plan := lease.Plan
	replay := index == lease.LastServed
	root := e.collector.KindRoot(plan.Target.Kind)

	found := make(map[string]FileReport)
	var actions, filters int
	for _, rel := range plan.Batches[index] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		matches, err := e.extractor.ScanFile(filepath.Join(root, filepath.FromSlash(rel)))
		filesScanned.Inc()
		if err != nil {
			e.logger.Warn("skipping unreadable file", "scan_id", plan.ScanID, "file", rel, "error", err)
			continue
		}
		if len(matches) == 0 {
			continue
		}

		var report FileReport
		for _, m := range matches {
			switch m.Kind {
			case MatchAction:
				report.Actions = append(report.Actions, m)
			case MatchFilter:
				report.Filters = append(report.Filters, m)
			}
		}
		report.EditURL = e.linker.Link(plan.Target.Kind, plan.Target.Identifier, rel)
		found[rel] = report
		actions += len(report.Actions)
		filters += len(report.Filters)
	}

	if err := e.sessions.Advance(ctx, lease, index); err != nil {
		return nil, err
	}

	resp := &Response{
		ScanID:         plan.ScanID,
		BatchIndex:     index,
		TotalBatches:   plan.TotalBatches(),
		ProcessedFiles: plan.ProcessedThrough(index),
		TotalFiles:     plan.TotalFiles,
		FoundHooks:     found,
		Completed:      index == plan.TotalBatches()-1,
	}

	e.logger.Debug("batch served",
		"scan_id", plan.ScanID, "batch_index", index, "files", len(plan.Batches[index]),
		"files_with_hooks", len(found), "replay", replay)

	if replay {
		return resp, nil
	}
	hooksFound.WithLabelValues(string(MatchAction)).Add(float64(actions))
	hooksFound.WithLabelValues(string(MatchFilter)).Add(float64(filters))
	e.publish(event.ScanBatch, plan.ScanID, map[string]any{
		"batch_index":      index,
		"total_batches":    plan.TotalBatches(),
		"processed_files":  resp.ProcessedFiles,
		"files_with_hooks": len(found),
		"actions":          actions,
		"filters":          filters,
	})
	if resp.Completed {
		e.complete(plan)
	}
	return resp, nil
}

// collect runs the collector, converting a panic into ErrTraversal.
func (e *Engine) collect(ctx context.Context, t Target) (files []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("collector panicked", "target", t.String(), "panic", r)
			files, err = nil, fmt.Errorf("%w: %v", ErrTraversal, r)
		}
	}()
	return e.collector.Collect(ctx, t)
}

func (e *Engine) complete(plan *Plan) {
	scansCompleted.WithLabelValues(string(plan.Target.Kind)).Inc()
	e.logger.Info("scan completed", "scan_id", plan.ScanID, "total_files", plan.TotalFiles)
	e.publish(event.ScanCompleted, plan.ScanID, map[string]any{
		"total_files":   plan.TotalFiles,
		"total_batches": plan.TotalBatches(),
	})
}

func (e *Engine) failed(scanID string, err error) {
	e.logger.Warn("batch rejected", "scan_id", scanID, "reason", Reason(err), "error", err)
	if errors.Is(err, ErrUnknownScan) || errors.Is(err, ErrInvalidBatchIndex) {
		e.publish(event.ScanFailed, scanID, map[string]any{
			"reason": Reason(err),
			"error":  err.Error(),
		})
	}
}

func (e *Engine) publish(t event.Type, scanID string, data map[string]any) {
	if e.eventBus == nil {
		return
	}
	e.eventBus.Publish(event.Event{Type: t, ScanID: scanID, Data: data})
}
