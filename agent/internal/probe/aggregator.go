package probe

import (
	"context"

	"go.uber.org/zap"

	"github.com/obsidianstack/slaprobe/agent/internal/config"
	"github.com/obsidianstack/slaprobe/agent/internal/record"
	"github.com/obsidianstack/slaprobe/agent/internal/store"
	"github.com/obsidianstack/slaprobe/agent/internal/timeutil"
)

// Aggregator owns the outcome buckets and their hand-off to the metrics stage.
// A bucket is forwarded at most once: the forwarded flag is persisted before
// the bucket is queued.
type Aggregator struct {
	buckets *store.Table[record.OutcomeBucket]
	out     chan<- record.OutcomeBucket
	logger  *zap.Logger
}

// NewAggregator returns an Aggregator storing buckets in kv and queueing
// finalized buckets on out.
func NewAggregator(kv store.KV, out chan<- record.OutcomeBucket, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{
		buckets: store.NewTable[record.OutcomeBucket](kv, store.Buckets),
		out:     out,
		logger:  logger,
	}
}

// Load returns the bucket for (target, minute). found is false when the bucket
// is absent or could not be read; the caller then starts from an empty bucket.
func (a *Aggregator) Load(ctx context.Context, target string, minute int64) (b record.OutcomeBucket, found bool) {
	b, found, err := a.buckets.Get(ctx, record.BucketKey(target, minute))
	if err != nil {
		a.logger.Error("bucket read failed, starting from an empty bucket",
			zap.String("target", target),
			zap.String("minute", timeutil.Readable(minute)),
			zap.Error(err))
		return record.NewBucket(target, minute), false
	}
	if !found {
		return record.NewBucket(target, minute), false
	}
	return b, true
}

// Save persists b. Failures are logged; the pipeline carries on.
func (a *Aggregator) Save(ctx context.Context, b record.OutcomeBucket) {
	if err := a.buckets.Put(ctx, b.Key(), b); err != nil {
		a.logger.Error("bucket write failed",
			zap.String("target", b.Target),
			zap.String("minute", timeutil.Readable(b.Minute)),
			zap.Error(err))
	}
}

// ForwardFinalized forwards the bucket for (target, minute) if it exists and
// has not been forwarded yet.
func (a *Aggregator) ForwardFinalized(ctx context.Context, target string, minute int64) {
	if ctx.Err() != nil {
		return
	}
	b, found := a.Load(ctx, target, minute)
	if !found || b.Forwarded {
		return
	}
	a.Forward(ctx, b)
}

// Forward marks b forwarded, persists it and queues it for the metrics stage.
// It blocks while the queue is full and gives up when ctx is done; a bucket
// lost that way is still counted by the next startup recovery.
func (a *Aggregator) Forward(ctx context.Context, b record.OutcomeBucket) {
	if b.Forwarded {
		return
	}
	b.Forwarded = true
	a.Save(ctx, b)

	select {
	case a.out <- b:
		a.logger.Debug("bucket forwarded",
			zap.String("target", b.Target),
			zap.String("minute", timeutil.Readable(b.Minute)))
	case <-ctx.Done():
		a.logger.Warn("shutdown before bucket was forwarded",
			zap.String("target", b.Target),
			zap.String("minute", timeutil.Readable(b.Minute)))
	}
}

// Recover returns every stored bucket that is finalized at nowMs, for the
// metrics stage to replay before it starts serving. Finalized buckets not yet
// forwarded are marked forwarded so the Sender never queues them again.
func (a *Aggregator) Recover(ctx context.Context, cfg *config.Config, nowMs int64) ([]record.OutcomeBucket, error) {
	entries, skipped, err := a.buckets.All(ctx)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		a.logger.Warn("skipped undecodable buckets during recovery", zap.Int("count", skipped))
	}

	var out []record.OutcomeBucket
	marked := 0
	for _, e := range entries {
		b := e.Value
		if b.Minute > timeutil.LatestFinalizedMinute(nowMs, cfg.TimeoutFor(b.Target)) {
			continue
		}
		if !b.Forwarded {
			b.Forwarded = true
			a.Save(ctx, b)
			marked++
		}
		out = append(out, b)
	}

	a.logger.Info("recovered finalized buckets",
		zap.Int("buckets", len(out)),
		zap.Int("newly_finalized", marked))
	return out, nil
}
