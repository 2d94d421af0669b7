package hookscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sydlexius/coremonitor/internal/transient"
)

// KV is the keyed blob store with expiry that holds scan plans.
// *transient.Store satisfies it.
type KV interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetUntil(ctx context.Context, key string, value []byte, expiresAt time.Time) error
	Get(ctx context.Context, key string) ([]byte, time.Time, error)
	Delete(ctx context.Context, key string) error
}

// Lease is a stored plan together with its expiry and the index of the
// batch most recently served (-1 when no cursor is stored).
type Lease struct {
	Plan       *Plan
	ExpiresAt  time.Time
	LastServed int
}

// Sessions stores scan plans between requests. A plan lives under three
// keys: <id>_batches, <id>_meta and <id>_cursor, all sharing one expiry.
type Sessions struct {
	kv  KV
	ttl time.Duration
}

// NewSessions creates a session store whose plans expire after ttl.
func NewSessions(kv KV, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Sessions{kv: kv, ttl: ttl}
}

type planMeta struct {
	Dir        string `json:"dir"`
	Type       Kind   `json:"type"`
	TotalFiles int    `json:"total_files"`
}

func batchesKey(id string) string { return id + "_batches" }
func metaKey(id string) string    { return id + "_meta" }
func cursorKey(id string) string  { return id + "_cursor" }

// Create persists a new plan. A partial write is rolled back.
func (s *Sessions) Create(ctx context.Context, p *Plan) (*Lease, error) {
	batches, err := json.Marshal(p.Batches)
	if err != nil {
		return nil, fmt.Errorf("encoding batches: %w", err)
	}
	meta, err := json.Marshal(planMeta{Dir: p.Target.Identifier, Type: p.Target.Kind, TotalFiles: p.TotalFiles})
	if err != nil {
		return nil, fmt.Errorf("encoding plan metadata: %w", err)
	}

	if err := s.kv.Set(ctx, batchesKey(p.ScanID), batches, s.ttl); err != nil {
		return nil, fmt.Errorf("storing plan %s: %w", p.ScanID, err)
	}
	// All keys share the expiry of the batches key.
	_, expiresAt, err := s.kv.Get(ctx, batchesKey(p.ScanID))
	if err == nil {
		err = s.kv.SetUntil(ctx, metaKey(p.ScanID), meta, expiresAt)
	}
	if err != nil {
		_ = s.Evict(ctx, p.ScanID)
		return nil, fmt.Errorf("storing plan %s: %w", p.ScanID, err)
	}

	return &Lease{Plan: p, ExpiresAt: expiresAt, LastServed: -1}, nil
}

// Get loads the plan for id. A missing or expired plan is ErrUnknownScan;
// missing or unreadable metadata is ErrInvalidBatchIndex.
func (s *Sessions) Get(ctx context.Context, id string) (*Lease, error) {
	raw, expiresAt, err := s.kv.Get(ctx, batchesKey(id))
	if errors.Is(err, transient.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScan, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading plan %s: %w", id, err)
	}
	var batches [][]string
	if err := json.Unmarshal(raw, &batches); err != nil {
		return nil, fmt.Errorf("%w: plan %s is unreadable: %v", ErrInvalidBatchIndex, id, err)
	}

	rawMeta, _, err := s.kv.Get(ctx, metaKey(id))
	if errors.Is(err, transient.ErrNotFound) {
		return nil, fmt.Errorf("%w: plan %s has no metadata", ErrInvalidBatchIndex, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading plan metadata %s: %w", id, err)
	}
	var meta planMeta
	if err := json.Unmarshal(rawMeta, &meta); err != nil || meta.Dir == "" || meta.Type == "" {
		return nil, fmt.Errorf("%w: plan %s has incomplete metadata", ErrInvalidBatchIndex, id)
	}

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != meta.TotalFiles {
		return nil, fmt.Errorf("%w: plan %s lists %d files, metadata says %d", ErrInvalidBatchIndex, id, total, meta.TotalFiles)
	}
	lease := &Lease{
		Plan: &Plan{
			ScanID:     id,
			Target:     Target{Identifier: meta.Dir, Kind: meta.Type},
			Batches:    batches,
			TotalFiles: total,
		},
		ExpiresAt:  expiresAt,
		LastServed: -1,
	}

	rawCursor, _, err := s.kv.Get(ctx, cursorKey(id))
	switch {
	case errors.Is(err, transient.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("loading cursor %s: %w", id, err)
	default:
		if n, convErr := strconv.Atoi(string(rawCursor)); convErr == nil {
			lease.LastServed = n
		}
	}
	return lease, nil
}

// Advance records index as the most recently served batch. The cursor
// expires together with the plan.
func (s *Sessions) Advance(ctx context.Context, lease *Lease, index int) error {
	if err := s.kv.SetUntil(ctx, cursorKey(lease.Plan.ScanID), []byte(strconv.Itoa(index)), lease.ExpiresAt); err != nil {
		return fmt.Errorf("advancing cursor %s: %w", lease.Plan.ScanID, err)
	}
	lease.LastServed = index
	return nil
}

// Evict removes every key of the plan for id.
func (s *Sessions) Evict(ctx context.Context, id string) error {
	var errs []error
	for _, key := range []string{batchesKey(id), metaKey(id), cursorKey(id)} {
		if err := s.kv.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
