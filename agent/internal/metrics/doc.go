// Package metrics is the consuming end of the pipeline. Stage folds finalized
// outcome buckets into three per-target counters and Server exposes them in
// the Prometheus text format on /metrics.
package metrics
