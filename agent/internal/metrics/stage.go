package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/obsidianstack/slaprobe/agent/internal/record"
	"github.com/obsidianstack/slaprobe/agent/internal/timeutil"
)

// Metric names, as exposed on /metrics.
const (
	Namespace       = "sla"
	SentFailedName  = Namespace + "_sent_failed_total"
	UnavailableName = Namespace + "_unavailable_total"
	ObservedName    = Namespace + "_observed_total"
)

// Stage turns finalized buckets into counter increments. Each bucket counts
// once towards observed and at most once towards sent_failed or unavailable.
type Stage struct {
	registry *prometheus.Registry

	sentFailed  *prometheus.CounterVec
	unavailable *prometheus.CounterVec
	observed    *prometheus.CounterVec

	logger *zap.Logger
}

// NewStage returns a Stage with its counters registered on a private registry.
func NewStage(logger *zap.Logger) *Stage {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Stage{
		registry: prometheus.NewRegistry(),
		sentFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "sent_failed_total",
				Help:      "Finalized minutes in which at least one submission failed.",
			},
			[]string{"target"},
		),
		unavailable: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "unavailable_total",
				Help:      "Finalized minutes with a failed submission or a verification timeout.",
			},
			[]string{"target"},
		),
		observed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "observed_total",
				Help:      "Finalized minutes observed.",
			},
			[]string{"target"},
		),
		logger: logger,
	}
	s.registry.MustRegister(s.sentFailed, s.unavailable, s.observed)
	return s
}

// Registry returns the registry holding the stage's counters.
func (s *Stage) Registry() *prometheus.Registry { return s.registry }

// Register exposes zero-valued counters for targets that have not produced a
// finalized bucket yet.
func (s *Stage) Register(targets ...string) {
	for _, t := range targets {
		s.sentFailed.WithLabelValues(t)
		s.unavailable.WithLabelValues(t)
		s.observed.WithLabelValues(t)
	}
}

// Observe folds one finalized bucket into the counters and logs its verdict.
func (s *Stage) Observe(b record.OutcomeBucket) {
	verdict := s.fold(b)
	fields := []zap.Field{
		zap.String("target", b.Target),
		zap.String("minute", timeutil.Readable(b.Minute)),
		zap.Uint32("sent", b.Sent),
		zap.Uint32("sent_failed", b.SentFailed),
		zap.Uint32("timed_out", b.TimedOut),
		zap.Uint32("confirmed", b.Confirmed),
	}
	if verdict == record.Available {
		s.logger.Info("minute available", fields...)
		return
	}
	s.logger.Warn("minute "+verdict.String(), fields...)
}

// Recover folds the buckets replayed from the store. It must finish before
// the server starts answering scrapes.
func (s *Stage) Recover(buckets []record.OutcomeBucket) {
	var failed, unavailable int
	for _, b := range buckets {
		switch s.fold(b) {
		case record.SentFailed:
			failed++
		case record.Unavailable:
			unavailable++
		}
	}
	s.logger.Info("metrics recovered from store",
		zap.Int("observed", len(buckets)),
		zap.Int("sent_failed", failed),
		zap.Int("unavailable", failed+unavailable))
}

// Run consumes forwarded buckets until ctx is cancelled or in is closed.
func (s *Stage) Run(ctx context.Context, in <-chan record.OutcomeBucket) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b, ok := <-in:
			if !ok {
				return nil
			}
			s.Observe(b)
		}
	}
}

func (s *Stage) fold(b record.OutcomeBucket) record.Availability {
	s.observed.WithLabelValues(b.Target).Inc()
	verdict := b.Classify()
	switch verdict {
	case record.SentFailed:
		s.sentFailed.WithLabelValues(b.Target).Inc()
		s.unavailable.WithLabelValues(b.Target).Inc()
	case record.Unavailable:
		s.unavailable.WithLabelValues(b.Target).Inc()
	}
	return verdict
}
