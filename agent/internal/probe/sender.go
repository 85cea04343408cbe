package probe

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/obsidianstack/slaprobe/agent/internal/client"
	"github.com/obsidianstack/slaprobe/agent/internal/config"
	"github.com/obsidianstack/slaprobe/agent/internal/record"
	"github.com/obsidianstack/slaprobe/agent/internal/store"
	"github.com/obsidianstack/slaprobe/agent/internal/timeutil"
)

// Sender performs one submission per configured target per tick.
type Sender struct {
	holder  *config.Holder
	records *store.Table[record.SubmissionRecord]
	pending *store.Table[record.PendingVerification]
	agg     *Aggregator
	clients *clients
	logger  *zap.Logger

	now   func() time.Time // injectable for tests
	newID func() string
}

// NewSender returns a Sender reading targets from holder.
func NewSender(holder *config.Holder, kv store.KV, agg *Aggregator, logger *zap.Logger) *Sender {
	return newSender(holder, kv, agg, newClients(), logger)
}

func newSender(holder *config.Holder, kv store.KV, agg *Aggregator, cs *clients, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
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

// Tick submits once to every target, in configuration order. A failing target
// never prevents the others from being processed.
func (s *Sender) Tick(ctx context.Context) {
	cfg := s.holder.Load()
	for _, tgt := range cfg.Targets {
		if ctx.Err() != nil {
			return
		}
		s.send(ctx, cfg, tgt)
	}
}

func (s *Sender) send(ctx context.Context, cfg *config.Config, tgt config.Target) {
	// An issued request and its bookkeeping run to completion on shutdown.
	opCtx := context.WithoutCancel(ctx)

	sentAt := timeutil.UnixMilli(s.now())
	rec := record.SubmissionRecord{
		Timestamp: sentAt,
		RequestID: s.newID(),
		Kind:      record.KindSend,
		Target:    tgt.ID,
		Tenant:    tgt.Tenant,
		API:       tgt.SubmitURL,
		Data:      tgt.Payload,
	}
	log := s.logger.With(zap.String("target", tgt.ID), zap.String("request_id", rec.RequestID))

	var res *client.SubmitResult
	c, err := s.clients.get(cfg, tgt)
	if err == nil {
		res, err = c.Submit(opCtx, client.SubmitRequest{
			URL:       tgt.SubmitURL,
			Payload:   tgt.Payload,
			Tenant:    tgt.Tenant,
			SentAt:    sentAt,
			RequestID: rec.RequestID,
		})
	}
	if res != nil {
		rec.Status = res.Code
		rec.Resp = rawJSON(res.Raw)
	}

	accepted := err == nil
	switch {
	case accepted:
		log.Debug("submission accepted", zap.String("handle", res.Handle))
	case client.IsDecodeError(err):
		rec.Error = err.Error()
		log.Error("submission response could not be decoded", zap.Error(err))
	default:
		rec.Error = err.Error()
		log.Warn("submission failed", zap.Error(err))
	}

	if err := s.records.Put(opCtx, rec.Key(), rec); err != nil {
		log.Error("submission record write failed", zap.Error(err))
	}

	if accepted {
		p := record.PendingVerification{
			Handle: res.Handle,
			Target: tgt.ID,
			Tenant: tgt.Tenant,
			SentAt: sentAt,
		}
		if err := s.pending.Put(opCtx, p.Key(), p); err != nil {
			log.Error("pending verification write failed", zap.String("handle", p.Handle), zap.Error(err))
		}
	}

	minute := timeutil.MinuteOf(sentAt)
	b, found := s.agg.Load(opCtx, tgt.ID, minute)
	if !found {
		finalized := timeutil.LatestFinalizedMinute(sentAt, cfg.TimeoutFor(tgt.ID))
		s.agg.ForwardFinalized(ctx, tgt.ID, finalized)
	}
	if accepted {
		b.AddSent()
	} else {
		b.AddSentFailed()
	}
	s.agg.Save(opCtx, b)
}

// rawJSON returns body as a raw JSON value, or nil when it is not valid JSON.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 || !json.Valid(body) {
		return nil
	}
	return json.RawMessage(body)
}
