package hookscan

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testPlan(id string) *Plan {
	return &Plan{
		ScanID:     id,
		Target:     Target{Identifier: "p/p.php", Kind: KindPlugin},
		Batches:    [][]string{{"p/a.php", "p/b.php"}, {"p/c.php"}},
		TotalFiles: 3,
	}
}

func TestSessions_CreateGetAdvance(t *testing.T) {
	store, clk := newTestStore(t)
	s := NewSessions(store, time.Hour)
	ctx := context.Background()

	lease, err := s.Create(ctx, testPlan("hooks_scan_1"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if want := clk.now.Add(time.Hour); !lease.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", lease.ExpiresAt, want)
	}
	if lease.LastServed != -1 {
		t.Errorf("LastServed = %d, want -1", lease.LastServed)
	}

	got, err := s.Get(ctx, "hooks_scan_1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if diff := cmp.Diff(testPlan("hooks_scan_1"), got.Plan); diff != "" {
		t.Errorf("plan mismatch (-want +got):\n%s", diff)
	}

	if err := s.Advance(ctx, got, 0); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got, err = s.Get(ctx, "hooks_scan_1")
	if err != nil {
		t.Fatalf("Get after advance: %v", err)
	}
	if got.LastServed != 0 {
		t.Errorf("LastServed = %d, want 0", got.LastServed)
	}
}

func TestSessions_Expiry(t *testing.T) {
	store, clk := newTestStore(t)
	s := NewSessions(store, time.Hour)
	ctx := context.Background()

	if _, err := s.Create(ctx, testPlan("hooks_scan_2")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	clk.Advance(time.Hour + time.Second)

	_, err := s.Get(ctx, "hooks_scan_2")
	if !errors.Is(err, ErrUnknownScan) {
		t.Errorf("err = %v, want ErrUnknownScan", err)
	}
}

func TestSessions_Evict(t *testing.T) {
	store, _ := newTestStore(t)
	s := NewSessions(store, time.Hour)
	ctx := context.Background()

	lease, err := s.Create(ctx, testPlan("hooks_scan_3"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Advance(ctx, lease, 0); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if err := s.Evict(ctx, "hooks_scan_3"); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if _, err := s.Get(ctx, "hooks_scan_3"); !errors.Is(err, ErrUnknownScan) {
		t.Errorf("err = %v, want ErrUnknownScan", err)
	}
	n, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 0 {
		t.Errorf("%d keys left after evict", n)
	}
}

func TestSessions_IncompleteMetadata(t *testing.T) {
	store, _ := newTestStore(t)
	s := NewSessions(store, time.Hour)
	ctx := context.Background()

	if _, err := s.Create(ctx, testPlan("hooks_scan_4")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := store.Delete(ctx, "hooks_scan_4_meta"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "hooks_scan_4"); !errors.Is(err, ErrInvalidBatchIndex) {
		t.Errorf("missing meta: err = %v, want ErrInvalidBatchIndex", err)
	}

	if err := store.Set(ctx, "hooks_scan_4_meta", []byte(`{"dir":"","type":"plugin","total_files":3}`), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "hooks_scan_4"); !errors.Is(err, ErrInvalidBatchIndex) {
		t.Errorf("empty dir: err = %v, want ErrInvalidBatchIndex", err)
	}

	if err := store.Set(ctx, "hooks_scan_4_meta", []byte(`{"dir":"p/p.php","type":"plugin","total_files":9}`), time.Hour); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "hooks_scan_4"); !errors.Is(err, ErrInvalidBatchIndex) {
		t.Errorf("count mismatch: err = %v, want ErrInvalidBatchIndex", err)
	}
}

type failingKV struct {
	KV
	failKey string
}

func (f failingKV) SetUntil(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	if key == f.failKey {
		return errors.New("disk full")
	}
	return f.KV.SetUntil(ctx, key, value, expiresAt)
}

func TestSessions_CreateRollsBackPartialWrite(t *testing.T) {
	store, _ := newTestStore(t)
	s := NewSessions(failingKV{KV: store, failKey: "hooks_scan_5_meta"}, time.Hour)
	ctx := context.Background()

	if _, err := s.Create(ctx, testPlan("hooks_scan_5")); err == nil {
		t.Fatal("expected Create to fail")
	}
	if _, err := s.Get(ctx, "hooks_scan_5"); !errors.Is(err, ErrUnknownScan) {
		t.Errorf("err = %v, want ErrUnknownScan after rollback", err)
	}
}
