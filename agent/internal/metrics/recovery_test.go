package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/obsidianstack/slaprobe/agent/internal/config"
	"github.com/obsidianstack/slaprobe/agent/internal/probe"
	"github.com/obsidianstack/slaprobe/agent/internal/record"
	"github.com/obsidianstack/slaprobe/agent/internal/store"
	"github.com/obsidianstack/slaprobe/agent/internal/timeutil"
)

func TestRecovery_ReplaysFinalizedBucketsFromStore(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	buckets := store.NewTable[record.OutcomeBucket](kv, store.Buckets)

	now := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)
	nowMs := timeutil.UnixMilli(now)
	cfg := &config.Config{ValidatorTimeout: 5 * time.Minute}
	cutoff := timeutil.LatestFinalizedMinute(nowMs, cfg.ValidatorTimeout)

	const n = 7
	for i := int64(0); i < n; i++ {
		b := record.NewBucket("chain-a", cutoff-i)
		b.Sent = 1
		if err := buckets.Put(ctx, b.Key(), b); err != nil {
			t.Fatal(err)
		}
	}
	// Still open: must not be replayed.
	open := record.NewBucket("chain-a", cutoff+1)
	if err := buckets.Put(ctx, open.Key(), open); err != nil {
		t.Fatal(err)
	}

	fwd := make(chan record.OutcomeBucket, 1)
	agg := probe.NewAggregator(kv, fwd, nil)
	recovered, err := agg.Recover(ctx, cfg, nowMs)
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}

	s := NewStage(nil)
	s.Recover(recovered)
	if got := testutil.ToFloat64(s.observed.WithLabelValues("chain-a")); got != n {
		t.Errorf("observed = %v, want %d", got, n)
	}

	// A forwarding trigger for a recovered minute is a no-op.
	agg.ForwardFinalized(ctx, "chain-a", cutoff)
	if len(fwd) != 0 {
		t.Error("recovered bucket forwarded again")
	}
}
