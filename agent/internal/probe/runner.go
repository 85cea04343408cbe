package probe

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/obsidianstack/slaprobe/agent/internal/config"
	"github.com/obsidianstack/slaprobe/agent/internal/store"
)

// Runner drives the Sender and the Validator from one goroutine.
type Runner struct {
	sender    *Sender
	validator *Validator
	holder    *config.Holder
	logger    *zap.Logger
}

// NewRunner wires a Sender and a Validator sharing one client cache.
func NewRunner(holder *config.Holder, kv store.KV, agg *Aggregator, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	cs := newClients()
	return &Runner{
		sender:    newSender(holder, kv, agg, cs, logger.Named("sender")),
		validator: newValidator(holder, kv, agg, cs, logger.Named("validator")),
		holder:    holder,
		logger:    logger,
	}
}

// Run ticks the Sender and the Validator until ctx is cancelled. Both fire
// once immediately. The intervals are read once; changing them needs a
// restart. Run always returns nil.
func (r *Runner) Run(ctx context.Context) error {
	cfg := r.holder.Load()
	sendTicker := time.NewTicker(cfg.SenderInterval)
	defer sendTicker.Stop()
	validateTicker := time.NewTicker(cfg.ValidatorInterval)
	defer validateTicker.Stop()

	r.logger.Info("probe loop started",
		zap.Int("targets", len(cfg.Targets)),
		zap.Duration("sender_interval", cfg.SenderInterval),
		zap.Duration("validator_interval", cfg.ValidatorInterval),
		zap.Duration("validator_timeout", cfg.ValidatorTimeout))
	if len(cfg.Targets) == 0 {
		r.logger.Warn("no targets configured, probe will idle until a reload adds some")
	}

	r.sender.Tick(ctx)
	r.validator.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("probe loop stopped")
			return nil
		case <-sendTicker.C:
			r.sender.Tick(ctx)
		case <-validateTicker.C:
			r.validator.Tick(ctx)
		}
	}
}
