package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/obsidianstack/slaprobe/agent/internal/record"
	"github.com/obsidianstack/slaprobe/agent/internal/store"
	"github.com/obsidianstack/slaprobe/agent/internal/timeutil"
)

var errUnavailable = errors.New("store unavailable")

// faultyKV fails selected operations per collection and can report every
// scanned entry twice.
type faultyKV struct {
	store.KV
	failGet    map[store.Collection]bool
	failScan   map[store.Collection]bool
	repeatScan bool
}

func (f *faultyKV) Get(ctx context.Context, c store.Collection, key []byte) ([]byte, error) {
	if f.failGet[c] {
		return nil, errUnavailable
	}
	return f.KV.Get(ctx, c, key)
}

func (f *faultyKV) Scan(ctx context.Context, c store.Collection, fn func(key, value []byte) error) error {
	if f.failScan[c] {
		return errUnavailable
	}
	return f.KV.Scan(ctx, c, func(key, value []byte) error {
		if err := fn(key, value); err != nil {
			return err
		}
		if f.repeatScan {
			return fn(key, value)
		}
		return nil
	})
}

func newFaultyHarness(t *testing.T, timeout time.Duration) (*harness, *faultyKV) {
	t.Helper()
	f := &faultyKV{
		failGet:  make(map[store.Collection]bool),
		failScan: make(map[store.Collection]bool),
	}
	h := newHarnessWith(t, timeout, func(kv store.KV) store.KV {
		f.KV = kv
		return f
	})
	return h, f
}

func TestSender_BucketReadFailureStartsFreshBucket(t *testing.T) {
	h, f := newFaultyHarness(t, 20*time.Second)
	f.failGet[store.Buckets] = true

	h.sender.Tick(context.Background())

	b := h.bucket(t, "chain-a", minuteAt(0))
	if b.Sent != 1 || b.SentFailed != 0 {
		t.Errorf("bucket = %+v, want sent=1", b)
	}
	if n := len(h.pending(t)); n != 1 {
		t.Errorf("pending entries = %d, want 1", n)
	}
}

func TestValidator_ScanFailureSkipsOnlyThatTick(t *testing.T) {
	h, f := newFaultyHarness(t, 20*time.Second)
	ctx := context.Background()
	h.sender.Tick(ctx)

	f.failScan[store.Pending] = true
	h.svc.probeBody.Store(`{"code":200}`)
	h.clock.Set(5 * time.Second)
	h.validator.Tick(ctx)

	if got := h.svc.probes.Load(); got != 0 {
		t.Errorf("status checks during a failed scan = %d, want 0", got)
	}
	if n := len(h.pending(t)); n != 1 {
		t.Fatalf("pending entries = %d, want 1", n)
	}

	f.failScan[store.Pending] = false
	h.clock.Set(10 * time.Second)
	h.validator.Tick(ctx)

	if n := len(h.pending(t)); n != 0 {
		t.Fatalf("pending entries = %d, want 0 after the store recovered", n)
	}
	if b := h.bucket(t, "chain-a", minuteAt(0)); b.Confirmed != 1 {
		t.Errorf("bucket = %+v, want confirmed=1", b)
	}
}

func TestAggregator_RecoverIgnoresRepeatedScanEntries(t *testing.T) {
	h, f := newFaultyHarness(t, 20*time.Second)
	ctx := context.Background()
	f.repeatScan = true

	for i := 0; i < 3; i++ {
		h.agg.Save(ctx, record.NewBucket("chain-a", minuteAt(time.Duration(i)*time.Minute)))
	}

	got, err := h.agg.Recover(ctx, h.holder.Load(), timeutil.UnixMilli(t0.Add(10*time.Minute)))
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if len(got) != 3 {
		t.Errorf("recovered %d buckets from 3 stored, want 3", len(got))
	}
}
