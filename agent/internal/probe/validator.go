package probe

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/obsidianstack/slaprobe/agent/internal/client"
	"github.com/obsidianstack/slaprobe/agent/internal/config"
	"github.com/obsidianstack/slaprobe/agent/internal/record"
	"github.com/obsidianstack/slaprobe/agent/internal/store"
	"github.com/obsidianstack/slaprobe/agent/internal/timeutil"
)

// Validator resolves pending verifications: each tick it times out every
// entry older than its target's timeout and probes the rest once.
type Validator struct {
	holder  *config.Holder
	records *store.Table[record.SubmissionRecord]
	pending *store.Table[record.PendingVerification]
	agg     *Aggregator
	clients *clients
	logger  *zap.Logger

	now   func() time.Time // injectable for tests
	newID func() string
}

// NewValidator returns a Validator reading timeouts and probe endpoints from holder.
func NewValidator(holder *config.Holder, kv store.KV, agg *Aggregator, logger *zap.Logger) *Validator {
	return newValidator(holder, kv, agg, newClients(), logger)
}

func newValidator(holder *config.Holder, kv store.KV, agg *Aggregator, cs *clients, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		holder:  holder,
		records: store.NewTable[record.SubmissionRecord](kv, store.Records),
		pending: store.NewTable[record.PendingVerification](kv, store.Pending),
		agg:     agg,
		clients: cs,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Tick processes every pending verification once.
func (v *Validator) Tick(ctx context.Context) {
	cfg := v.holder.Load()

	entries, skipped, err := v.pending.All(ctx)
	if err != nil {
		v.logger.Error("pending verification scan failed", zap.Error(err))
		return
	}
	if skipped > 0 {
		v.logger.Warn("skipped undecodable pending verifications", zap.Int("count", skipped))
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		// Re-read: another process sharing the store may have resolved the
		// entry since the scan.
		p, ok, err := v.pending.Get(ctx, e.Key)
		if err != nil {
			v.logger.Error("pending verification read failed", zap.String("key", e.Key), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		v.verify(ctx, cfg, e.Key, p)
	}
}

func (v *Validator) verify(ctx context.Context, cfg *config.Config, key string, p record.PendingVerification) {
	opCtx := context.WithoutCancel(ctx)
	log := v.logger.With(
		zap.String("target", p.Target),
		zap.String("tenant", p.Tenant),
		zap.String("handle", p.Handle))

	nowMs := timeutil.UnixMilli(v.now())
	timeout := cfg.TimeoutFor(p.Target)
	if nowMs-p.SentAt > timeout.Milliseconds() {
		if !v.resolve(opCtx, key, log) {
			return
		}
		v.bump(opCtx, p, (*record.OutcomeBucket).AddTimedOut, log)
		log.Warn("verification timed out",
			zap.Duration("timeout", timeout),
			zap.String("minute", timeutil.Readable(timeutil.MinuteOf(p.SentAt))))
		return
	}

	tgt, known := cfg.Target(p.Target)
	if !known {
		tgt = config.Target{ID: p.Target, Tenant: p.Tenant}
	}
	probeURL := cfg.ProbeURLFor(tgt)
	if probeURL == "" {
		log.Debug("no probe endpoint for target, waiting for timeout")
		return
	}

	rec := record.SubmissionRecord{
		Timestamp: nowMs,
		RequestID: v.newID(),
		Kind:      record.KindProbe,
		Target:    p.Target,
		Tenant:    p.Tenant,
		API:       client.ProbeURL(probeURL, p.Handle),
		Data:      p.Handle,
	}

	var res *client.ProbeResult
	c, err := v.clients.get(cfg, tgt)
	if err == nil {
		res, err = c.Probe(opCtx, client.ProbeRequest{
			URL:    probeURL,
			Handle: p.Handle,
			Tenant: p.Tenant,
			SentAt: p.SentAt,
		})
	}
	if res != nil {
		rec.Status = res.Code
		rec.Resp = rawJSON(res.Raw)
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if err := v.records.Put(opCtx, rec.Key(), rec); err != nil {
		log.Error("probe record write failed", zap.Error(err))
	}

	switch {
	case err != nil && client.IsDecodeError(err):
		log.Error("probe response could not be decoded", zap.Error(err))
	case err != nil:
		log.Warn("probe failed", zap.Error(err))
	case !res.Confirmed:
		log.Debug("transaction not confirmed yet", zap.Int("code", res.Code))
	default:
		if !v.resolve(opCtx, key, log) {
			return
		}
		v.bump(opCtx, p, (*record.OutcomeBucket).AddConfirmed, log)
		log.Info("transaction confirmed",
			zap.Duration("latency", time.Duration(nowMs-p.SentAt)*time.Millisecond))
	}
}

// resolve deletes the pending entry. It reports false when the delete failed;
// the entry is then retried next tick and no outcome is recorded.
func (v *Validator) resolve(ctx context.Context, key string, log *zap.Logger) bool {
	if err := v.pending.Delete(ctx, key); err != nil {
		log.Error("pending verification delete failed", zap.Error(err))
		return false
	}
	return true
}

// bump applies add to the bucket of the entry's send minute, creating it if
// absent.
func (v *Validator) bump(ctx context.Context, p record.PendingVerification, add func(*record.OutcomeBucket), log *zap.Logger) {
	b, _ := v.agg.Load(ctx, p.Target, timeutil.MinuteOf(p.SentAt))
	if b.Forwarded {
		log.Warn("outcome recorded after its bucket was forwarded",
			zap.String("minute", timeutil.Readable(b.Minute)))
	}
	add(&b)
	v.agg.Save(ctx, b)
}
